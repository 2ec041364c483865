package httpapi

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Auth failures.
var (
	ErrMissingToken   = errors.New("missing bearer token")
	ErrInvalidToken   = errors.New("invalid bearer token")
	ErrProjectDenied  = errors.New("token does not grant access to this project")
	ErrAuthNotEnabled = errors.New("jwt_secret is not configured")
)

// Claims are the bearer token claims. The subject is the caller id.
// Projects, when present, lists the projects the caller may address.
type Claims struct {
	Projects []string `json:"projects,omitempty"`
	jwt.RegisteredClaims
}

// allows reports whether the claims grant access to project.
func (c *Claims) allows(project string) bool {
	return len(c.Projects) == 0 || slices.Contains(c.Projects, project)
}

type ctxKey int

const claimsKey ctxKey = iota

// ClaimsFrom returns the verified claims of the request.
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*Claims)
	return c, ok
}

// Authenticator verifies HS256 bearer tokens.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator returns an Authenticator for tokens signed with secret.
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Verify parses and validates a raw token.
func (a *Authenticator) Verify(raw string) (*Claims, error) {
	if len(a.secret) == 0 {
		return nil, ErrAuthNotEnabled
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Sign issues a token for subject, limited to projects when any are given.
func (a *Authenticator) Sign(subject string, projects []string, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = subject
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{Projects: projects, RegisteredClaims: claims})
	return token.SignedString(a.secret)
}

// Middleware rejects requests without a valid bearer token.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if header == "" || !ok {
			writeStatus(w, http.StatusUnauthorized, ErrMissingToken)
			return
		}
		claims, err := a.Verify(strings.TrimSpace(raw))
		if err != nil {
			writeStatus(w, http.StatusUnauthorized, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}
