package middleware_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/phrazzld/durable-tasks/internal/api/middleware"
	"github.com/phrazzld/durable-tasks/internal/api/shared"
	"github.com/phrazzld/durable-tasks/internal/mocks"
	"github.com/phrazzld/durable-tasks/internal/platform/logger"
	"github.com/phrazzld/durable-tasks/internal/service/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) shared.ErrorResponse {
	t.Helper()
	var resp shared.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestTraceMiddleware(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	var (
		seenTrace  string
		seenLogger *slog.Logger
	)
	handler := middleware.NewTraceMiddleware(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenTrace = shared.GetTraceID(r.Context())
		seenLogger = logger.FromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tasks", nil))

	require.Len(t, seenTrace, shared.TraceIDLength)
	assert.Equal(t, seenTrace, rec.Header().Get(middleware.TraceHeader))
	assert.NotNil(t, seenLogger)
	assert.Contains(t, buf.String(), `"trace_id":"`+seenTrace+`"`)
	assert.Contains(t, buf.String(), `"status":418`)
	assert.Contains(t, buf.String(), "request completed")
}

func TestTraceMiddleware_DistinctTraceIDs(t *testing.T) {
	handler := middleware.NewTraceMiddleware(nil)(okHandler())

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/", nil))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.NotEqual(t, first.Header().Get(middleware.TraceHeader), second.Header().Get(middleware.TraceHeader))
}

func TestAuthenticate(t *testing.T) {
	validClaims := &auth.Claims{Subject: "ops", Scope: auth.ScopeAdmin, ID: "jti-1"}

	tests := []struct {
		name       string
		header     string
		validate   func(ctx context.Context, token string) (*auth.Claims, error)
		wantStatus int
		wantError  string
	}{
		{
			name:       "missing header",
			wantStatus: http.StatusUnauthorized,
			wantError:  "Authorization header required",
		},
		{
			name:       "wrong scheme",
			header:     "Basic abc",
			wantStatus: http.StatusUnauthorized,
			wantError:  "Invalid authorization format",
		},
		{
			name:       "empty token",
			header:     "Bearer  ",
			wantStatus: http.StatusUnauthorized,
			wantError:  "Invalid authorization format",
		},
		{
			name:   "expired token",
			header: "Bearer old",
			validate: func(ctx context.Context, token string) (*auth.Claims, error) {
				return nil, auth.ErrExpiredToken
			},
			wantStatus: http.StatusUnauthorized,
			wantError:  "Token expired",
		},
		{
			name:   "invalid token",
			header: "Bearer junk",
			validate: func(ctx context.Context, token string) (*auth.Claims, error) {
				return nil, auth.ErrInvalidToken
			},
			wantStatus: http.StatusUnauthorized,
			wantError:  "Invalid token",
		},
		{
			name:   "validator failure",
			header: "Bearer any",
			validate: func(ctx context.Context, token string) (*auth.Claims, error) {
				return nil, errors.New("clock exploded")
			},
			wantStatus: http.StatusInternalServerError,
			wantError:  "Authentication error",
		},
		{
			name:   "valid token",
			header: "bearer good",
			validate: func(ctx context.Context, token string) (*auth.Claims, error) {
				if token != "good" {
					return nil, auth.ErrInvalidToken
				}
				return validClaims, nil
			},
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens := &mocks.MockTokenService{ValidateTokenFn: tt.validate}
			mw := middleware.NewAuthMiddleware(tokens)

			var gotClaims *auth.Claims
			handler := mw.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotClaims, _ = shared.GetClaims(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, decodeError(t, rec).Error)
				assert.Nil(t, gotClaims)
			} else {
				assert.Equal(t, validClaims, gotClaims)
			}
		})
	}
}

func TestRequireScope(t *testing.T) {
	tests := []struct {
		name       string
		claims     *auth.Claims
		scope      string
		wantStatus int
	}{
		{"no claims", nil, auth.ScopeRead, http.StatusUnauthorized},
		{"read token on read route", &auth.Claims{Scope: auth.ScopeRead}, auth.ScopeRead, http.StatusOK},
		{"read token on admin route", &auth.Claims{Scope: auth.ScopeRead}, auth.ScopeAdmin, http.StatusForbidden},
		{"admin token on read route", &auth.Claims{Scope: auth.ScopeAdmin}, auth.ScopeRead, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mw := middleware.NewAuthMiddleware(&mocks.MockTokenService{})
			handler := mw.RequireScope(tt.scope)(okHandler())

			req := httptest.NewRequest(http.MethodPost, "/api/queue/start", nil)
			if tt.claims != nil {
				req = req.WithContext(shared.WithClaims(req.Context(), tt.claims))
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestAuthMiddleware_DisabledPassesThrough(t *testing.T) {
	mw := middleware.NewAuthMiddleware(nil)
	assert.False(t, mw.Enabled())

	handler := mw.Authenticate(mw.RequireScope(auth.ScopeAdmin)(okHandler()))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/queue/start", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}
