package transport

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// ErrUnauthorized indicates invalid or missing credentials.
var ErrUnauthorized = errors.New("unauthorized")

// Roles understood by the engine.
const (
	RoleFacilitator = "facilitator"
	RoleParticipant = "participant"
)

// Identity is the authenticated caller behind a connection.
type Identity struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// IsFacilitator reports whether the identity may drive protocol phases.
func (i Identity) IsFacilitator() bool {
	return i.Role == RoleFacilitator
}

type identityKey struct{}

// IdentityResolver resolves a caller identity from a bearer token.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, token string) (Identity, error)
}

// IdentityFromContext returns the identity from context, if present.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// WithIdentity returns a context carrying the identity.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// AuthMiddleware enforces bearer token authentication. Browsers cannot set
// headers on WebSocket upgrades, so a "token" query parameter is accepted too.
func AuthMiddleware(resolver IdentityResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
			if token == "" {
				token = r.URL.Query().Get("token")
			}
			if token == "" {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}

			id, err := resolver.ResolveIdentity(r.Context(), token)
			if err != nil || id.UserID == "" {
				http.Error(w, "invalid bearer token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// RequireRole rejects requests whose identity lacks the role.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok || id.Role != role {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// StaticResolver maps fixed tokens to identities. It backs development mode
// and tests.
type StaticResolver map[string]Identity

// ResolveIdentity implements IdentityResolver.
func (s StaticResolver) ResolveIdentity(_ context.Context, token string) (Identity, error) {
	id, ok := s[token]
	if !ok {
		return Identity{}, ErrUnauthorized
	}
	return id, nil
}

// InsecureResolver trusts the token itself as "<user>[:<role>]". It is only
// meant for local development with authentication disabled.
type InsecureResolver struct{}

// ResolveIdentity implements IdentityResolver.
func (InsecureResolver) ResolveIdentity(_ context.Context, token string) (Identity, error) {
	user, role, _ := strings.Cut(token, ":")
	if user == "" {
		return Identity{}, ErrUnauthorized
	}
	switch role {
	case "":
		role = RoleParticipant
	case RoleFacilitator, RoleParticipant:
	default:
		return Identity{}, ErrUnauthorized
	}
	return Identity{UserID: user, Role: role}, nil
}
