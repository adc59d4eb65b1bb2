package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// a validated user identity handed to the sync layer.
// credential issuance belongs to the auth service.
type Identity struct {
	UserId Id
	Role   Role
}

var ErrNoCredential = errors.New("no credential presented")
var ErrInvalidCredential = errors.New("invalid credential")

// IdentityResolver extracts and validates an identity from a request.
// ErrNoCredential means the resolver's credential kind was absent and
// the next resolver in the chain should be tried. Any other error is
// a hard rejection.
type IdentityResolver interface {
	ResolveIdentity(r *http.Request) (*Identity, error)
}

// CredentialStore resolves opaque session cookie values.
type CredentialStore interface {
	IdentityForSessionCookie(ctx context.Context, value string) (*Identity, error)
}

// BearerTokenResolver validates a signed bearer token from the
// `Authorization` header, or from the `auth` query parameter for
// websocket dials where headers are awkward to set.
type BearerTokenResolver struct {
	secret []byte
}

func NewBearerTokenResolver(secret []byte) *BearerTokenResolver {
	return &BearerTokenResolver{
		secret: secret,
	}
}

func (self *BearerTokenResolver) ResolveIdentity(r *http.Request) (*Identity, error) {
	tokenStr := ""
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return nil, fmt.Errorf("%w: authorization header is not a bearer token", ErrInvalidCredential)
		}
		tokenStr = strings.TrimPrefix(authHeader, "Bearer ")
	} else if authParam := r.URL.Query().Get("auth"); authParam != "" {
		tokenStr = authParam
	}
	if tokenStr == "" {
		return nil, ErrNoCredential
	}

	token, err := gojwt.Parse(
		tokenStr,
		func(token *gojwt.Token) (any, error) {
			if _, ok := token.Method.(*gojwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return self.secret, nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCredential, err)
	}

	claims, ok := token.Claims.(gojwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("%w: bad claims", ErrInvalidCredential)
	}

	identity := &Identity{}

	if userIdStr, ok := claims["user_id"].(string); ok {
		userId, err := ParseId(userIdStr)
		if err != nil {
			return nil, fmt.Errorf("%w: bad user_id (%s)", ErrInvalidCredential, err)
		}
		identity.UserId = userId
	} else {
		return nil, fmt.Errorf("%w: missing user_id", ErrInvalidCredential)
	}

	if roleStr, ok := claims["role"].(string); ok {
		switch Role(roleStr) {
		case RoleBusiness, RoleInfluencer:
			identity.Role = Role(roleStr)
		default:
			return nil, fmt.Errorf("%w: unknown role %s", ErrInvalidCredential, roleStr)
		}
	} else {
		return nil, fmt.Errorf("%w: missing role", ErrInvalidCredential)
	}

	return identity, nil
}

// SessionCookieResolver validates an opaque session cookie against
// the credential store.
type SessionCookieResolver struct {
	credentials CredentialStore
	cookieName  string
}

func NewSessionCookieResolver(credentials CredentialStore, cookieName string) *SessionCookieResolver {
	return &SessionCookieResolver{
		credentials: credentials,
		cookieName:  cookieName,
	}
}

func (self *SessionCookieResolver) ResolveIdentity(r *http.Request) (*Identity, error) {
	cookie, err := r.Cookie(self.cookieName)
	if err != nil || cookie.Value == "" {
		return nil, ErrNoCredential
	}
	identity, err := self.credentials.IdentityForSessionCookie(r.Context(), cookie.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCredential, err)
	}
	return identity, nil
}

// IdentityResolverChain tries resolvers in priority order.
// The first resolver that finds a credential decides the outcome.
type IdentityResolverChain struct {
	resolvers []IdentityResolver
}

func NewIdentityResolverChain(resolvers ...IdentityResolver) *IdentityResolverChain {
	return &IdentityResolverChain{
		resolvers: resolvers,
	}
}

func (self *IdentityResolverChain) ResolveIdentity(r *http.Request) (*Identity, error) {
	for _, resolver := range self.resolvers {
		identity, err := resolver.ResolveIdentity(r)
		if err == nil {
			return identity, nil
		}
		if errors.Is(err, ErrNoCredential) {
			continue
		}
		return nil, err
	}
	return nil, ErrNoCredential
}
