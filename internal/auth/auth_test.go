package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zhouzirui/pairchat/backend/internal/config"
)

func TestJWTRoundTrip(t *testing.T) {
	p, err := NewJWTProvider("secret", "pairchat")
	require.NoError(t, err)

	token, err := p.GenerateToken("alice", time.Hour)
	require.NoError(t, err)

	claims, err := p.ValidateToken(token)
	require.NoError(t, err)
	require.Equal(t, "alice", claims.Username)
	require.Equal(t, "pairchat", claims.Issuer)
}

func TestJWTRejectsExpiredAndForeignTokens(t *testing.T) {
	p, err := NewJWTProvider("secret", "pairchat")
	require.NoError(t, err)

	expired, err := p.GenerateToken("alice", -time.Minute)
	require.NoError(t, err)
	_, err = p.ValidateToken(expired)
	require.Error(t, err)

	other, err := NewJWTProvider("other-secret", "pairchat")
	require.NoError(t, err)
	forged, err := other.GenerateToken("alice", time.Hour)
	require.NoError(t, err)
	_, err = p.ValidateToken(forged)
	require.Error(t, err)

	wrongIssuer, err := NewJWTProvider("secret", "someone-else")
	require.NoError(t, err)
	foreign, err := wrongIssuer.GenerateToken("alice", time.Hour)
	require.NoError(t, err)
	_, err = p.ValidateToken(foreign)
	require.Error(t, err)
}

func TestJWTAuthenticateSources(t *testing.T) {
	p, err := NewJWTProvider("secret", "pairchat")
	require.NoError(t, err)
	token, err := p.GenerateToken("bob", time.Hour)
	require.NoError(t, err)

	header := httptest.NewRequest(http.MethodGet, "/ws/chat/alice", nil)
	header.Header.Set("Authorization", "Bearer "+token)
	user, err := p.Authenticate(header)
	require.NoError(t, err)
	require.Equal(t, "bob", user)

	query := httptest.NewRequest(http.MethodGet, "/ws/chat/alice?token="+token, nil)
	user, err = p.Authenticate(query)
	require.NoError(t, err)
	require.Equal(t, "bob", user)

	_, err = p.Authenticate(httptest.NewRequest(http.MethodGet, "/ws/chat/alice", nil))
	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestNewJWTProviderRequiresSecret(t *testing.T) {
	_, err := NewJWTProvider("", "pairchat")
	require.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	p, err := NewProvider(config.AuthConfig{Mode: config.AuthModeHeader, UserHeader: "X-Remote-User"})
	require.NoError(t, err)

	var seen string
	h := Middleware(p, zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	req.Header.Set("X-Remote-User", "carol")
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	require.Equal(t, http.StatusNoContent, resp.Code)
	require.Equal(t, "carol", seen)

	resp = httptest.NewRecorder()
	h.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/users", nil))
	require.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestNewProviderRejectsUnknownMode(t *testing.T) {
	_, err := NewProvider(config.AuthConfig{Mode: "ldap"})
	require.Error(t, err)
}
