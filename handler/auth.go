package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/collapsinghierarchy/quorum/model"
)

// Claims identifies a participant; the subject is their address.
type Claims struct {
	jwt.RegisteredClaims
}

type callerKey struct{}

// CallerFrom returns the authenticated address placed on the request
// context by Authenticator.Middleware.
func CallerFrom(ctx context.Context) (model.Address, bool) {
	a, ok := ctx.Value(callerKey{}).(model.Address)
	return a, ok
}

func withCaller(ctx context.Context, a model.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, a)
}

// Authenticator verifies HS256 bearer tokens.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret []byte) *Authenticator {
	return &Authenticator{secret: secret}
}

// Issue mints a token for addr valid for ttl.
func (a *Authenticator) Issue(addr model.Address, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{jwt.RegisteredClaims{
		Subject:   addr.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Authenticator) parse(raw string) (model.Address, error) {
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return model.Address{}, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return model.Address{}, errors.New("invalid token claims")
	}
	return model.ParseAddress(claims.Subject)
}

// Middleware authenticates requests carrying an Authorization header.
// Requests without one pass through anonymously; handlers that need a
// caller reject them.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}
		raw := strings.TrimPrefix(header, "Bearer ")
		if raw == header {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid authorization header format", Code: "Unauthorized"})
			return
		}
		addr, err := a.parse(raw)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid or expired token", Code: "Unauthorized"})
			return
		}
		next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), addr)))
	})
}
