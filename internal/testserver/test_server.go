package testserver

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ganot/meetsync/internal/domain/channel"
	"github.com/ganot/meetsync/internal/domain/history"
	"github.com/ganot/meetsync/internal/domain/protocol"
	"github.com/ganot/meetsync/internal/domain/summary"
	"github.com/ganot/meetsync/internal/engine"
	"github.com/ganot/meetsync/internal/mcp"
	"github.com/ganot/meetsync/internal/repository"
	"github.com/ganot/meetsync/internal/sqlite"
	"github.com/ganot/meetsync/internal/transport"
	"github.com/stretchr/testify/require"
)

// TestServer runs the full HTTP stack against an in-memory database.
type TestServer struct {
	Server   *httptest.Server
	DB       *sqlite.DB
	Engine   *engine.Engine
	Registry *channel.Registry
	keys     *sqlite.APIKeyRepository
}

// New starts a server whose catalog holds the default protocol types plus
// any extra ones.
func New(t *testing.T, extra ...protocol.ProtocolType) *TestServer {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := sqlite.New(dsn)
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations())

	catalog, err := protocol.NewCatalog(append(protocol.DefaultTypes(), extra...)...)
	require.NoError(t, err)

	registry := channel.NewRegistry(nil)
	hub := transport.NewHub(registry, transport.DefaultQueueSize, nil)
	summarySvc := summary.NewService(sqlite.NewSummaryRepository(db), nil, nil)
	protocolSvc := protocol.NewService(sqlite.NewProtocolRepository(db), catalog, registry, summarySvc, nil)
	historySvc := history.NewService(sqlite.NewHistoryRepository(db), nil)

	eng := engine.New(engine.Deps{
		Registry:  registry,
		Hub:       hub,
		Protocols: protocolSvc,
		Summary:   summarySvc,
		History:   historySvc,
	})

	keys := sqlite.NewAPIKeyRepository(db)
	resolver := &apiKeyResolver{keys: keys}
	mcpServer := mcp.NewServer(mcp.Config{Console: eng, Resolver: resolver})

	router := transport.NewRouter(transport.RouterOptions{
		Auth:    transport.AuthMiddleware(resolver),
		Gateway: transport.NewGateway(hub, eng, transport.GatewayOptions{WriteTimeout: 2 * time.Second}, nil),
		Reader:  eng,
		MCP:     mcp.NewHTTPHandler(mcpServer, nil),
	})
	server := httptest.NewServer(router)

	ts := &TestServer{
		Server:   server,
		DB:       db,
		Engine:   eng,
		Registry: registry,
		keys:     keys,
	}

	t.Cleanup(func() {
		server.Close()
		_ = db.Close()
	})

	return ts
}

// AddAPIKey provisions a bearer token.
func (ts *TestServer) AddAPIKey(token, userID, role string) error {
	return ts.keys.Add(context.Background(), token, userID, role, "test")
}

// WebSocketURL returns the socket endpoint of a meeting.
func (ts *TestServer) WebSocketURL(meetingID, token string) string {
	return "ws" + strings.TrimPrefix(ts.Server.URL, "http") + "/ws/" + meetingID + "?token=" + token
}

type apiKeyResolver struct {
	keys *sqlite.APIKeyRepository
}

func (r *apiKeyResolver) ResolveIdentity(ctx context.Context, token string) (transport.Identity, error) {
	key, err := r.keys.Lookup(ctx, token)
	if errors.Is(err, repository.ErrNotFound) {
		return transport.Identity{}, transport.ErrUnauthorized
	}
	if err != nil {
		return transport.Identity{}, err
	}
	return transport.Identity{UserID: key.UserID, Role: key.Role}, nil
}
