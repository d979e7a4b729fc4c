package ciutil

import (
	"log/slog"
	"os"
	"strings"

	"github.com/phrazzld/durable-tasks/internal/redact"
)

// Environment variables recognised across the codebase.
const (
	// CI environment detection variables
	EnvCI            = "CI"
	EnvGitHubActions = "GITHUB_ACTIONS"
	EnvGitLabCI      = "GITLAB_CI"
	EnvJenkinsURL    = "JENKINS_URL"
	EnvCircleCI      = "CIRCLECI"

	// Database connection environment variables, in order of preference
	EnvDatabaseURL = "DATABASE_URL"
	EnvTestDBURL   = "DTQ_TEST_DB_URL"
)

// IsCI reports whether a known CI provider's environment variables are set.
func IsCI() bool {
	for _, name := range []string{EnvCI, EnvGitHubActions, EnvGitLabCI, EnvJenkinsURL, EnvCircleCI} {
		if os.Getenv(name) != "" {
			return true
		}
	}
	return false
}

// GetEnvWithFallbacks returns the trimmed value of the first non-empty
// variable in envVars, or defaultValue when none is set. Using any variable
// other than the first is logged as a legacy fallback.
func GetEnvWithFallbacks(envVars []string, defaultValue string, logger *slog.Logger) string {
	for i, envVar := range envVars {
		val := strings.TrimSpace(os.Getenv(envVar))
		if val == "" {
			continue
		}
		if i > 0 && logger != nil {
			logger.Warn("using fallback environment variable",
				"used_var", envVar,
				"preferred_var", envVars[0],
				"value", MaskSensitiveValue(val))
		}
		return val
	}
	return defaultValue
}

// MaskSensitiveValue hides credentials in a value before it is logged. URLs
// keep only their scheme, host and path.
func MaskSensitiveValue(value string) string {
	if strings.Contains(value, "://") {
		return redact.URL(value)
	}
	return redact.String(value)
}
