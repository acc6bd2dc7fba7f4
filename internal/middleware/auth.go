package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"keygate/internal/errors"
)

// adminSubjectKey is the context key carrying the authenticated admin subject.
type adminSubjectKey struct{}

// AdminClaims are the claims carried by privileged API tokens. Role is
// always "admin" for tokens issued by this service.
type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and verifies HS256 tokens for the privileged admin API.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenIssuer creates a token issuer with the given signing secret and
// token lifetime.
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl}
}

// Issue mints a signed admin token for the given subject.
func (ti *TokenIssuer) Issue(subject string) (string, error) {
	now := time.Now()
	claims := AdminClaims{
		Role: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ti.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(ti.secret)
}

// Verify parses and validates a token string, returning its claims.
func (ti *TokenIssuer) Verify(tokenString string) (*AdminClaims, error) {
	claims := &AdminClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ti.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Role != "admin" {
		return nil, fmt.Errorf("token is not an admin token")
	}
	return claims, nil
}

// RequireAdmin guards privileged routes. The token travels as a bearer
// token in the Authorization header.
func RequireAdmin(issuer *TokenIssuer, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			header := r.Header.Get("Authorization")
			if header == "" || !strings.HasPrefix(header, "Bearer ") {
				errors.WriteError(w, errors.ErrUnauthorized)
				return
			}

			claims, err := issuer.Verify(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				logger.WarnContext(ctx, "admin token rejected",
					"method", r.Method,
					"path", r.URL.Path,
					"error", err.Error(),
				)
				errors.WriteError(w, errors.ErrUnauthorized)
				return
			}

			ctx = context.WithValue(ctx, adminSubjectKey{}, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminSubject returns the authenticated admin subject, if any.
func AdminSubject(ctx context.Context) string {
	if sub, ok := ctx.Value(adminSubjectKey{}).(string); ok {
		return sub
	}
	return ""
}
