package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ganot/meetsync/internal/transport"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

type contextKey int

const (
	identityKey contextKey = iota
	sessionIDKey
)

var errUnauthorized = errors.New("unauthorized")

// getIdentity extracts the caller identity from context.
func getIdentity(ctx context.Context) (transport.Identity, bool) {
	id, ok := ctx.Value(identityKey).(transport.Identity)
	return id, ok
}

// getSessionID extracts the MCP session ID from context.
func getSessionID(ctx context.Context) string {
	v, _ := ctx.Value(sessionIDKey).(string)
	return v
}

// authMiddleware implements bearer token authentication as MCP middleware.
// Only facilitators may use the console.
func authMiddleware(resolver transport.IdentityResolver) sdkmcp.Middleware {
	return func(next sdkmcp.MethodHandler) sdkmcp.MethodHandler {
		return func(ctx context.Context, method string, req sdkmcp.Request) (sdkmcp.Result, error) {
			// Skip auth for protocol methods
			if method == "initialize" || method == "ping" || strings.HasPrefix(method, "notifications/") {
				return next(ctx, method, req)
			}

			extra := req.GetExtra()
			if extra == nil || extra.Header == nil {
				return nil, fmt.Errorf("%w: missing headers", errUnauthorized)
			}

			auth := extra.Header.Get("Authorization")
			token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
			if token == "" {
				return nil, fmt.Errorf("%w: missing bearer token", errUnauthorized)
			}

			id, err := resolver.ResolveIdentity(ctx, token)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", errUnauthorized, err)
			}
			if !id.IsFacilitator() {
				return nil, fmt.Errorf("%w: facilitator role required", errUnauthorized)
			}

			ctx = context.WithValue(ctx, identityKey, id)
			return next(ctx, method, req)
		}
	}
}

// noAuthMiddleware injects a fixed identity when auth is disabled.
func noAuthMiddleware(id transport.Identity) sdkmcp.Middleware {
	return func(next sdkmcp.MethodHandler) sdkmcp.MethodHandler {
		return func(ctx context.Context, method string, req sdkmcp.Request) (sdkmcp.Result, error) {
			ctx = context.WithValue(ctx, identityKey, id)
			return next(ctx, method, req)
		}
	}
}

// sessionMiddleware extracts the session ID from the Mcp-Session-Id header.
func sessionMiddleware() sdkmcp.Middleware {
	return func(next sdkmcp.MethodHandler) sdkmcp.MethodHandler {
		return func(ctx context.Context, method string, req sdkmcp.Request) (sdkmcp.Result, error) {
			if extra := req.GetExtra(); extra != nil && extra.Header != nil {
				if sessionID := extra.Header.Get("Mcp-Session-Id"); sessionID != "" {
					ctx = context.WithValue(ctx, sessionIDKey, sessionID)
				}
			}
			return next(ctx, method, req)
		}
	}
}
