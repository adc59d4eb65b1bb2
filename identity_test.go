package realtime

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	gojwt "github.com/golang-jwt/jwt/v5"

	"github.com/go-playground/assert/v2"
)

func signTestToken(t *testing.T, secret []byte, userId Id, role Role) string {
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.MapClaims{
		"user_id": userId.String(),
		"role":    string(role),
	})
	tokenStr, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("sign: %s", err)
	}
	return tokenStr
}

func TestBearerTokenResolver(t *testing.T) {
	secret := []byte("test-secret")
	resolver := NewBearerTokenResolver(secret)

	userId := NewId()
	tokenStr := signTestToken(t, secret, userId, RoleInfluencer)

	// from the authorization header
	r := httptest.NewRequest("GET", "/sync", nil)
	r.Header.Set("Authorization", "Bearer "+tokenStr)
	identity, err := resolver.ResolveIdentity(r)
	assert.Equal(t, nil, err)
	assert.Equal(t, userId, identity.UserId)
	assert.Equal(t, RoleInfluencer, identity.Role)

	// from the query parameter, as used by websocket dials
	r = httptest.NewRequest("GET", "/ws?auth="+tokenStr, nil)
	identity, err = resolver.ResolveIdentity(r)
	assert.Equal(t, nil, err)
	assert.Equal(t, userId, identity.UserId)

	// absent credential
	r = httptest.NewRequest("GET", "/ws", nil)
	_, err = resolver.ResolveIdentity(r)
	assert.Equal(t, true, errors.Is(err, ErrNoCredential))

	// wrong secret
	badToken := signTestToken(t, []byte("other-secret"), userId, RoleInfluencer)
	r = httptest.NewRequest("GET", "/ws?auth="+badToken, nil)
	_, err = resolver.ResolveIdentity(r)
	assert.Equal(t, true, errors.Is(err, ErrInvalidCredential))
}

func TestSessionCookieResolver(t *testing.T) {
	store := NewMemoryStore()
	resolver := NewSessionCookieResolver(store, "cb_session")

	userId := NewId()
	store.PutSessionCookie("cookie-value", &Identity{
		UserId: userId,
		Role:   RoleBusiness,
	})

	r := httptest.NewRequest("GET", "/sync", nil)
	r.AddCookie(&http.Cookie{Name: "cb_session", Value: "cookie-value"})
	identity, err := resolver.ResolveIdentity(r)
	assert.Equal(t, nil, err)
	assert.Equal(t, userId, identity.UserId)
	assert.Equal(t, RoleBusiness, identity.Role)

	r = httptest.NewRequest("GET", "/sync", nil)
	_, err = resolver.ResolveIdentity(r)
	assert.Equal(t, true, errors.Is(err, ErrNoCredential))

	r = httptest.NewRequest("GET", "/sync", nil)
	r.AddCookie(&http.Cookie{Name: "cb_session", Value: "unknown"})
	_, err = resolver.ResolveIdentity(r)
	assert.Equal(t, true, errors.Is(err, ErrInvalidCredential))
}

func TestIdentityResolverChainPriority(t *testing.T) {
	secret := []byte("test-secret")
	store := NewMemoryStore()

	bearerUserId := NewId()
	cookieUserId := NewId()
	store.PutSessionCookie("cookie-value", &Identity{
		UserId: cookieUserId,
		Role:   RoleBusiness,
	})

	chain := NewIdentityResolverChain(
		NewBearerTokenResolver(secret),
		NewSessionCookieResolver(store, "cb_session"),
	)

	// both present: the bearer token wins
	r := httptest.NewRequest("GET", "/sync", nil)
	r.Header.Set("Authorization", "Bearer "+signTestToken(t, secret, bearerUserId, RoleInfluencer))
	r.AddCookie(&http.Cookie{Name: "cb_session", Value: "cookie-value"})
	identity, err := chain.ResolveIdentity(r)
	assert.Equal(t, nil, err)
	assert.Equal(t, bearerUserId, identity.UserId)

	// only the cookie present: the chain falls through
	r = httptest.NewRequest("GET", "/sync", nil)
	r.AddCookie(&http.Cookie{Name: "cb_session", Value: "cookie-value"})
	identity, err = chain.ResolveIdentity(r)
	assert.Equal(t, nil, err)
	assert.Equal(t, cookieUserId, identity.UserId)

	// an invalid bearer token is a hard rejection, not a fallthrough
	r = httptest.NewRequest("GET", "/sync", nil)
	r.Header.Set("Authorization", "Bearer not-a-token")
	r.AddCookie(&http.Cookie{Name: "cb_session", Value: "cookie-value"})
	_, err = chain.ResolveIdentity(r)
	assert.Equal(t, true, errors.Is(err, ErrInvalidCredential))

	// nothing present
	r = httptest.NewRequest("GET", "/sync", nil)
	_, err = chain.ResolveIdentity(r)
	assert.Equal(t, true, errors.Is(err, ErrNoCredential))
}
