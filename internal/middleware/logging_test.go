package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vitalink/chatsync/internal/identity"
	"github.com/vitalink/chatsync/pkg/logger"
)

func observedLogger() (*logger.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.InfoLevel)
	return &logger.Logger{Logger: zap.New(core)}, logs
}

func requestLogEntry(t *testing.T, logs *observer.ObservedLogs) map[string]any {
	t.Helper()
	entries := logs.FilterMessage("request completed").All()
	require.Len(t, entries, 1)
	return entries[0].ContextMap()
}

func TestLoggingRecordsAuthenticatedUser(t *testing.T) {
	log, logs := observedLogger()
	verifier := identity.NewVerifier("test-secret")

	handler := Logging(log)(Auth(verifier)(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})))

	token, err := verifier.Issue(identity.User{ID: "u1", Name: "Ada"}, time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)

	fields := requestLogEntry(t, logs)
	assert.Equal(t, "u1", fields["user_id"])
	assert.Equal(t, "/api/v1/sessions", fields["path"])
	assert.Equal(t, int64(http.StatusNoContent), fields["status"])
}

func TestLoggingUnauthenticatedRequestHasNoUser(t *testing.T) {
	log, logs := observedLogger()
	verifier := identity.NewVerifier("test-secret")

	handler := Logging(log)(Auth(verifier)(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)

	fields := requestLogEntry(t, logs)
	assert.Equal(t, "", fields["user_id"])
}

func TestLoggingEchoesCorrelationID(t *testing.T) {
	log, logs := observedLogger()

	handler := Logging(log)(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "corr-42", GetCorrelationID(r.Context()))
			w.WriteHeader(http.StatusOK)
		}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Correlation-ID", "corr-42")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "corr-42", rec.Header().Get("X-Correlation-ID"))

	fields := requestLogEntry(t, logs)
	assert.Equal(t, "corr-42", fields["correlation_id"])
}
