// Package mcp exposes the facilitator console: MCP tools that drive the
// protocols of a meeting through the same engine the WebSocket clients use.
package mcp

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ganot/meetsync/internal/domain/activity"
	"github.com/ganot/meetsync/internal/domain/protocol"
	"github.com/ganot/meetsync/internal/domain/summary"
	"github.com/ganot/meetsync/internal/engine"
	"github.com/ganot/meetsync/internal/presence"
	"github.com/ganot/meetsync/internal/transport"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Console defines the engine operations needed by MCP.
type Console interface {
	ListProtocols(ctx context.Context, meetingID string) ([]*protocol.Instance, error)
	GetProtocol(ctx context.Context, meetingID, instanceID string) (*protocol.Instance, error)
	Start(ctx context.Context, actor engine.Actor, typeName string) (*protocol.Instance, error)
	Advance(ctx context.Context, actor engine.Actor, instanceID string) (*protocol.Instance, error)
	Rewind(ctx context.Context, actor engine.Actor, instanceID string) (*protocol.Instance, error)
	MarkReady(ctx context.Context, actor engine.Actor, instanceID string, ready bool) (*protocol.Instance, error)
	Delete(ctx context.Context, actor engine.Actor, instanceID string) (*protocol.DeleteResult, error)
	Summary(ctx context.Context, meetingID string) ([]summary.Item, error)
	Presence(meetingID string) presence.Snapshot
	Catalog() []protocol.ProtocolType
	View(inst *protocol.Instance, userID string) activity.View
}

// Config contains server configuration.
type Config struct {
	Console Console
	// Resolver authenticates the Authorization header of every request.
	// When nil, every request acts as DevIdentity.
	Resolver    transport.IdentityResolver
	DevIdentity transport.Identity
	Logger      *slog.Logger
}

// NewServer creates and configures an MCP server with all tools and middleware.
func NewServer(cfg Config) *sdkmcp.Server {
	server := sdkmcp.NewServer(&sdkmcp.Implementation{
		Name:    "meetsync",
		Version: "0.1.0",
	}, &sdkmcp.ServerOptions{
		Instructions: serverInstructions,
		Logger:       cfg.Logger,
	})

	registerDocResources(server)

	// Each call wraps the handler built so far: auth runs first, logging last.
	server.AddReceivingMiddleware(trafficLoggingMiddleware(cfg.Logger, "inbound"))
	server.AddReceivingMiddleware(sessionMiddleware())
	if cfg.Resolver != nil {
		server.AddReceivingMiddleware(authMiddleware(cfg.Resolver))
	} else {
		server.AddReceivingMiddleware(noAuthMiddleware(cfg.DevIdentity))
	}
	server.AddSendingMiddleware(trafficLoggingMiddleware(cfg.Logger, "outbound"))

	registerTools(server, cfg.Console)

	return server
}

// NewHTTPHandler serves the server over streamable HTTP.
func NewHTTPHandler(server *sdkmcp.Server, logger *slog.Logger) http.Handler {
	return sdkmcp.NewStreamableHTTPHandler(func(*http.Request) *sdkmcp.Server {
		return server
	}, &sdkmcp.StreamableHTTPOptions{
		JSONResponse: true,
		Logger:       logger,
	})
}
