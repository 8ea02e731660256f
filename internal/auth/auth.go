// Package auth validates bearer tokens and turns their claims into an
// authz.Subject. Adapted from the teacher's auth/jwt.go (ValidateNeonToken):
// same keyfunc.NewDefault JWKS resolution plus jwt.Parse shape, generalized
// from a single Neon Auth issuer to a configurable Auth0 domain/audience,
// and from EdDSA-only to the RS256 Auth0 actually issues. A second,
// dev-only validator backs AUTH_DEV_SHARED_SECRET for local development
// without standing up a real identity provider.
package auth

import (
	"fmt"
	"strings"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/openrating/core/internal/apperr"
	"github.com/openrating/core/internal/authz"
)

// Validator turns a bearer token string into an authenticated Subject.
type Validator interface {
	Authenticate(tokenString string) (authz.Subject, error)
}

// claimsToSubject reads the scope/permission and grant claims shared by
// both validators below into an authz.Subject.
func claimsToSubject(claims jwt.MapClaims) authz.Subject {
	subject := authz.Subject{
		Scopes: make(map[string]bool),
		Grants: make(map[string]map[string]bool),
	}
	if sub, ok := claims["sub"].(string); ok {
		subject.SubjectID = sub
	}
	if scopeStr, ok := claims["scope"].(string); ok {
		for _, s := range strings.Fields(scopeStr) {
			subject.Scopes[s] = true
		}
	}
	if perms, ok := claims["permissions"].([]any); ok {
		for _, p := range perms {
			if s, ok := p.(string); ok {
				subject.Scopes[s] = true
			}
		}
	}
	// Custom claim carrying per-organization region grants:
	// {"<org_id>": ["GLOBAL", "EU"], ...}. "*" for regionID means all regions.
	if grants, ok := claims["https://openrating.dev/grants"].(map[string]any); ok {
		for orgID, regionsAny := range grants {
			regions, ok := regionsAny.([]any)
			if !ok {
				continue
			}
			set := make(map[string]bool, len(regions))
			for _, r := range regions {
				if s, ok := r.(string); ok {
					set[s] = true
				}
			}
			subject.Grants[orgID] = set
		}
	}
	return subject
}

// JWKSValidator validates RS256 tokens issued by an Auth0 (or
// Auth0-compatible) domain against its published JSON Web Key Set.
type JWKSValidator struct {
	jwks     keyfunc.Keyfunc
	issuer   string
	audience string
}

// NewJWKSValidator resolves the JWKS for domain once at startup; keyfunc
// refreshes keys internally on its own schedule.
func NewJWKSValidator(domain, audience string) (*JWKSValidator, error) {
	if domain == "" {
		return nil, apperr.New(apperr.KindInvalidToken, "AUTH0_DOMAIN is not set")
	}
	jwksURL := "https://" + domain + "/.well-known/jwks.json"
	jwks, err := keyfunc.NewDefault([]string{jwksURL})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to fetch jwks", err)
	}
	return &JWKSValidator{jwks: jwks, issuer: "https://" + domain + "/", audience: audience}, nil
}

func (v *JWKSValidator) Authenticate(tokenString string) (authz.Subject, error) {
	opts := []jwt.ParserOption{
		jwt.WithIssuer(v.issuer),
		jwt.WithValidMethods([]string{"RS256"}),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	token, err := jwt.Parse(tokenString, v.jwks.Keyfunc, opts...)
	if err != nil {
		return authz.Subject{}, apperr.Wrap(apperr.KindInvalidToken, "token validation failed", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return authz.Subject{}, apperr.New(apperr.KindInvalidToken, "invalid token claims")
	}
	return claimsToSubject(claims), nil
}

// DevSharedSecretValidator validates HS256 tokens signed with a shared
// secret, for local development when standing up a real Auth0 tenant is
// impractical. Never used when AUTH_DISABLE and a real domain are both
// configured.
type DevSharedSecretValidator struct {
	secret []byte
}

// NewDevSharedSecretValidator builds a validator around a shared HMAC
// secret read from AUTH_DEV_SHARED_SECRET.
func NewDevSharedSecretValidator(secret string) *DevSharedSecretValidator {
	return &DevSharedSecretValidator{secret: []byte(secret)}
}

func (v *DevSharedSecretValidator) Authenticate(tokenString string) (authz.Subject, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return authz.Subject{}, apperr.Wrap(apperr.KindInvalidToken, "token validation failed", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return authz.Subject{}, apperr.New(apperr.KindInvalidToken, "invalid token claims")
	}
	return claimsToSubject(claims), nil
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header value.
func BearerToken(header string) (string, error) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", apperr.New(apperr.KindMissingToken, "missing bearer token")
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", apperr.New(apperr.KindMissingToken, "missing bearer token")
	}
	return token, nil
}
