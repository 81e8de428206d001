package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalink/chatsync/internal/identity"
)

func authedEcho(t *testing.T) (http.Handler, *identity.Verifier) {
	t.Helper()
	verifier := identity.NewVerifier("test-secret")
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := GetUser(r.Context())
		require.NotNil(t, user)
		w.Write([]byte(user.ID))
	})
	return Auth(verifier)(next), verifier
}

func TestAuthPassesUserThrough(t *testing.T) {
	h, verifier := authedEcho(t)

	token, err := verifier.Issue(identity.User{ID: "u1", Name: "Ada"}, time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", rec.Body.String())
}

func TestAuthRejectsBadHeaders(t *testing.T) {
	h, _ := authedEcho(t)

	cases := map[string]string{
		"missing":      "",
		"no scheme":    "sometoken",
		"wrong scheme": "Basic dXNlcjpwYXNz",
		"bad token":    "Bearer not.a.jwt",
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestGetUserWithoutAuth(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Nil(t, GetUser(req.Context()))
}
