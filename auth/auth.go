// Package auth resolves the principal behind a request. User identity comes
// from bearer tokens minted by the external identity provider; unit identity
// comes from the TLS client certificate subject forwarded by the
// terminating proxy.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/wodeewa/fleetd/core/model"
)

// Config holds token verification settings.
type Config struct {
	// Secret is the HS256 key shared with the identity provider.
	Secret string `json:"secret"`
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if c.Secret == "" {
		return fmt.Errorf("auth secret is required")
	}
	return nil
}

// Principal is a verified user identity.
type Principal struct {
	Email string
	Role  model.Role
}

var (
	// ErrNoToken means the request carried no usable Authorization header.
	ErrNoToken = errors.New("missing bearer token")
	// ErrInvalidToken means the token failed verification.
	ErrInvalidToken = errors.New("invalid token")
)

// Verifier validates bearer tokens and extracts the principal.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier for the given shared secret.
func NewVerifier(cfg Config) (*Verifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Verifier{secret: []byte(cfg.Secret)}, nil
}

// Verify parses and validates the token and returns the principal. The
// subject claim carries the user email; the role claim defaults to customer
// when absent or unknown.
func (v *Verifier) Verify(tokenStr string) (Principal, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return Principal{}, ErrInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Principal{}, ErrInvalidToken
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return Principal{}, ErrInvalidToken
	}
	role := model.RoleCustomer
	if r, _ := claims["role"].(string); model.Role(r) == model.RoleAdmin || model.Role(r) == model.RoleTechnician {
		role = model.Role(r)
	}
	return Principal{Email: sub, Role: role}, nil
}

// VerifyRequest extracts and verifies the bearer token of an HTTP request.
func (v *Verifier) VerifyRequest(r *http.Request) (Principal, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return Principal{}, ErrNoToken
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return Principal{}, ErrNoToken
	}
	return v.Verify(parts[1])
}

// GenerateToken mints a signed bearer token. The identity provider does
// this in production; the CLI uses it for local testing.
func GenerateToken(cfg Config, email string, role model.Role, ttl time.Duration) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  email,
		"role": string(role),
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.Secret))
}

type ctxKey struct{}

// WithPrincipal stores the principal on the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// FromContext retrieves the principal placed by Middleware.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok
}

// Middleware authenticates every request and stores the principal on the
// request context. Unauthenticated requests are rejected with 401.
func Middleware(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := v.VerifyRequest(r)
			if err != nil {
				http.Error(w, "authentication needed", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// RequireRole rejects requests whose principal does not hold the role.
// Admins pass every role check.
func RequireRole(role model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := FromContext(r.Context())
			if !ok {
				http.Error(w, "authentication needed", http.StatusUnauthorized)
				return
			}
			if p.Role != role && p.Role != model.RoleAdmin {
				http.Error(w, fmt.Sprintf("must be %s", role), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// reExtractCN pulls the CN attribute out of an X.509 subject DN.
var reExtractCN = regexp.MustCompile(`(?i)\bCN=([^,]*)`)

// UnitFromRequest derives the reporting unit's identity from the
// X-SSL-Subject-DN header set by the TLS-terminating proxy. The payload
// never names the unit, so a unit cannot report under another's identity.
func UnitFromRequest(r *http.Request) (string, error) {
	dn := r.Header.Get("X-SSL-Subject-DN")
	if dn == "" {
		return "", errors.New("missing SSL subject DN")
	}
	m := reExtractCN.FindStringSubmatch(dn)
	if m == nil {
		return "", errors.New("SSL subject DN has no CN")
	}
	return m[1], nil
}
