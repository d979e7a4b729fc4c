// Package main mints bearer tokens for the admin API using the configured
// signing secret.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/phrazzld/durable-tasks/internal/config"
	"github.com/phrazzld/durable-tasks/internal/service/auth"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "tokengen: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("tokengen", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configPath := fs.String("config", "", "path to a YAML config file (default: ./config.yaml if present)")
	subject := fs.String("subject", "", "who the token is issued to (required)")
	scope := fs.String("scope", auth.ScopeRead, "token scope: read or admin")
	lifetime := fs.Duration("lifetime", 0, "token lifetime (default: auth.token_lifetime_minutes)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *subject == "" {
		return errors.New("-subject is required")
	}
	if !auth.ValidScope(*scope) {
		return fmt.Errorf("%w: %q", auth.ErrInvalidScope, *scope)
	}

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if !cfg.Auth.Enabled() {
		return errors.New("auth.jwt_secret is not configured")
	}

	tokenLifetime := cfg.Auth.TokenLifetime()
	if *lifetime > 0 {
		tokenLifetime = *lifetime
	}

	tokens, err := auth.NewTokenServiceWithClock(cfg.Auth.JWTSecret, tokenLifetime, time.Now)
	if err != nil {
		return fmt.Errorf("failed to create token service: %w", err)
	}

	token, err := tokens.GenerateToken(context.Background(), *subject, *scope)
	if err != nil {
		return fmt.Errorf("failed to generate token: %w", err)
	}

	_, err = fmt.Fprintln(stdout, token)
	return err
}
