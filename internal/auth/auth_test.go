package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticate(t *testing.T) {
	a, err := NewAuthenticator(Config{Enabled: true, Username: "host", Password: "s3cret", JWTSecret: "k"}, "session-a")
	require.NoError(t, err)

	_, _, err = a.Authenticate("host", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = a.Authenticate("guest", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	token, expiresAt, err := a.Authenticate("host", "s3cret")
	require.NoError(t, err)
	assert.Greater(t, expiresAt, time.Now().Unix())

	claims, err := a.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "host", claims.Subject)
	assert.Equal(t, "blurcast", claims.Issuer)
	assert.Equal(t, "session-a", claims.Session)
	assert.True(t, claims.Allows(ScopeView))
	assert.True(t, claims.Allows(ScopeToggle))
}

func TestAuthenticateNarrowScopes(t *testing.T) {
	a, err := NewAuthenticator(Config{Enabled: true, Password: "pw"}, "s")
	require.NoError(t, err)

	token, _, err := a.Authenticate("admin", "pw", ScopeView)
	require.NoError(t, err)

	claims, err := a.ValidateToken(token)
	require.NoError(t, err)
	assert.True(t, claims.Allows(ScopeView))
	assert.False(t, claims.Allows(ScopeToggle))

	var none *Claims
	assert.False(t, none.Allows(ScopeView))
}

func TestParseScope(t *testing.T) {
	s, err := ParseScope("blur:toggle")
	require.NoError(t, err)
	assert.Equal(t, ScopeToggle, s)

	_, err = ParseScope("admin")
	assert.ErrorIs(t, err, ErrUnknownScope)
}

func TestAuthenticatorAcceptsHash(t *testing.T) {
	hash, err := HashPassword("pw")
	require.NoError(t, err)

	a, err := NewAuthenticator(Config{Enabled: true, Password: hash}, "s")
	require.NoError(t, err)
	_, _, err = a.Authenticate("admin", "pw")
	assert.NoError(t, err)
}

func TestAuthenticatorDisabled(t *testing.T) {
	a, err := NewAuthenticator(Config{}, "s")
	require.NoError(t, err)
	assert.False(t, a.IsEnabled())

	_, _, err = a.Authenticate("admin", "")
	assert.ErrorIs(t, err, ErrAuthDisabled)

	_, err = NewAuthenticator(Config{Enabled: true}, "s")
	assert.Error(t, err, "password required")
}

func TestTokenBoundToSession(t *testing.T) {
	first, err := newSessionTokens("shared", time.Hour, "run-1")
	require.NoError(t, err)
	second, err := newSessionTokens("shared", time.Hour, "run-2")
	require.NoError(t, err)

	token, _, err := first.issue("u", AllScopes)
	require.NoError(t, err)

	_, err = first.verify(token)
	assert.NoError(t, err)
	_, err = second.verify(token)
	assert.ErrorIs(t, err, ErrForeignSession)
}

func TestTokenValidation(t *testing.T) {
	tokens, err := newSessionTokens("secret", time.Hour, "s")
	require.NoError(t, err)

	_, err = tokens.verify("garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)

	other, err := newSessionTokens("other", time.Hour, "s")
	require.NoError(t, err)
	token, _, err := other.issue("u", AllScopes)
	require.NoError(t, err)
	_, err = tokens.verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// unsigned tokens never pass
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		Session:          "s",
		Scopes:           AllScopes,
		RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer, ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = tokens.verify(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// a token signed with the right key but another issuer
	foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Session:          "s",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "orbo", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = tokens.verify(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenExpiry(t *testing.T) {
	tokens, err := newSessionTokens("secret", time.Minute, "s")
	require.NoError(t, err)

	start := time.Now()
	tokens.now = func() time.Time { return start }
	token, expiresAt, err := tokens.issue("u", AllScopes)
	require.NoError(t, err)
	assert.Equal(t, start.Add(time.Minute), expiresAt)

	_, err = tokens.verify(token)
	require.NoError(t, err)

	tokens.now = func() time.Time { return start.Add(2 * time.Minute) }
	_, err = tokens.verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestRandomKeyWithoutSecret(t *testing.T) {
	a, err := newSessionTokens("", 0, "s")
	require.NoError(t, err)
	b, err := newSessionTokens("", 0, "s")
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, a.ttl)

	token, _, err := a.issue("u", AllScopes)
	require.NoError(t, err)
	_, err = b.verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("AUTH_ENABLED", "true")
	t.Setenv("AUTH_USERNAME", "host")
	t.Setenv("AUTH_PASSWORD", "pw")
	t.Setenv("JWT_SECRET", "k")
	t.Setenv("JWT_EXPIRY", "90m")

	cfg := ConfigFromEnv()
	assert.Equal(t, Config{Enabled: true, Username: "host", Password: "pw", JWTSecret: "k", JWTExpiry: 90 * time.Minute}, cfg)
}

func TestLoginHandler(t *testing.T) {
	a, err := NewAuthenticator(Config{Enabled: true, Password: "pw", JWTSecret: "k"}, "s")
	require.NoError(t, err)
	h := a.LoginHandler()

	post := func(body any) *httptest.ResponseRecorder {
		data, _ := json.Marshal(body)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/login", bytes.NewReader(data)))
		return rec
	}

	rec := post(loginRequest{Username: "admin", Password: "pw"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp loginResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, AllScopes, resp.Scopes)
	_, err = a.ValidateToken(resp.Token)
	assert.NoError(t, err)

	rec = post(loginRequest{Username: "admin", Password: "pw", Scopes: []string{"preview:view"}})
	require.Equal(t, http.StatusOK, rec.Code)
	resp = loginResponse{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, []Scope{ScopeView}, resp.Scopes)
	claims, err := a.ValidateToken(resp.Token)
	require.NoError(t, err)
	assert.False(t, claims.Allows(ScopeToggle))

	assert.Equal(t, http.StatusBadRequest, post(loginRequest{Username: "admin", Password: "pw", Scopes: []string{"root"}}).Code)
	assert.Equal(t, http.StatusUnauthorized, post(loginRequest{Username: "admin", Password: "no"}).Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/login", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
