package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/ganot/meetsync/internal/config"
	"github.com/ganot/meetsync/internal/domain/channel"
	"github.com/ganot/meetsync/internal/domain/history"
	"github.com/ganot/meetsync/internal/domain/protocol"
	"github.com/ganot/meetsync/internal/domain/summary"
	"github.com/ganot/meetsync/internal/engine"
	"github.com/ganot/meetsync/internal/mcp"
	"github.com/ganot/meetsync/internal/presence"
	"github.com/ganot/meetsync/internal/repository"
	"github.com/ganot/meetsync/internal/sqlite"
	"github.com/ganot/meetsync/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logWriter := io.Writer(os.Stdout)
	if cfg.Log.File != "" {
		fileWriter, file, err := newLogFileWriter(cfg.Log.File)
		if err != nil {
			fmt.Fprintf(os.Stderr, "log file error: %v\n", err)
		} else {
			defer file.Close()
			logWriter = fileWriter
		}
	}
	logger := slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))

	if err := ensureDBDir(cfg.DB.Path); err != nil {
		logger.Error("failed to prepare database path", "error", err)
		os.Exit(1)
	}

	db, err := sqlite.New(cfg.DB.Path)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.RunMigrations(); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	catalog, err := cfg.Catalog()
	if err != nil {
		logger.Error("invalid protocol catalog", "error", err)
		os.Exit(1)
	}

	keys := sqlite.NewAPIKeyRepository(db)
	if err := seedUsers(context.Background(), keys, cfg.Auth.Users); err != nil {
		logger.Error("failed to seed api keys", "error", err)
		os.Exit(1)
	}
	var resolver transport.IdentityResolver = &apiKeyResolver{keys: keys}
	if !cfg.Auth.Enabled {
		logger.Warn("authentication disabled: tokens are read as <user>[:<role>]")
		resolver = transport.InsecureResolver{}
	}

	registry := channel.NewRegistry(logger)
	hub := transport.NewHub(registry, cfg.Transport.QueueSize, logger)
	summarySvc := summary.NewService(sqlite.NewSummaryRepository(db), nil, logger)
	protocolSvc := protocol.NewService(sqlite.NewProtocolRepository(db), catalog, registry, summarySvc, logger)
	historySvc := history.NewService(sqlite.NewHistoryRepository(db), logger)

	deps := engine.Deps{
		Registry:  registry,
		Hub:       hub,
		Protocols: protocolSvc,
		Summary:   summarySvc,
		History:   historySvc,
		Logger:    logger,
	}
	if cfg.Redis.URL != "" {
		mirror, err := presence.NewRedisMirror(cfg.Redis.URL, cfg.Redis.PresenceTTL)
		if err != nil {
			logger.Error("failed to configure presence mirror", "error", err)
			os.Exit(1)
		}
		defer mirror.Close()
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := mirror.Ping(pingCtx); err != nil {
			logger.Warn("presence mirror unreachable", "error", err)
		}
		cancel()
		deps.Presence = mirror
	}
	eng := engine.New(deps)

	opts := transport.RouterOptions{
		Auth: transport.AuthMiddleware(resolver),
		Gateway: transport.NewGateway(hub, eng, transport.GatewayOptions{
			WriteTimeout:   cfg.Transport.WriteTimeout,
			MaxMessageSize: cfg.Transport.MaxMessageSize,
		}, logger),
		Reader: eng,
	}
	if cfg.MCP.Enabled {
		mcpServer := mcp.NewServer(mcp.Config{
			Console:  eng,
			Resolver: resolver,
			Logger:   logger,
		})
		opts.MCP = mcp.NewHTTPHandler(mcpServer, logger)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           transport.NewRouter(opts),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening",
			"addr", addr,
			"auth", cfg.Auth.Enabled,
			"mcp", cfg.MCP.Enabled,
			"presence_mirror", cfg.Redis.URL != "",
			"protocol_types", len(catalog.List()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
		}
	}()

	waitForShutdown(logger, httpServer, cfg.Server.ShutdownTimeout)
}

func seedUsers(ctx context.Context, keys *sqlite.APIKeyRepository, users []config.DevUser) error {
	for _, u := range users {
		role := u.Role
		if role == "" {
			role = transport.RoleParticipant
		}
		err := keys.Add(ctx, u.Token, u.UserID, role, "config")
		if err != nil && !errors.Is(err, repository.ErrConflict) {
			return fmt.Errorf("seeding %s: %w", u.UserID, err)
		}
	}
	return nil
}

func ensureDBDir(path string) error {
	if path == ":memory:" || path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func waitForShutdown(logger *slog.Logger, server *http.Server, timeout time.Duration) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	logger.Info("shutting down")
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const (
	maxLogSizeBytes  = 6 * 1024 * 1024
	keepLogSizeBytes = 5 * 1024 * 1024
)

type logFileWriter struct {
	path string
	file *os.File
	mu   sync.Mutex
}

func newLogFileWriter(path string) (*logFileWriter, *os.File, error) {
	if err := ensureLogDir(path); err != nil {
		return nil, nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	writer := &logFileWriter{path: path, file: file}
	if err := writer.truncateIfNeeded(); err != nil {
		return nil, nil, err
	}
	return writer, file, nil
}

func ensureLogDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func (w *logFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n, err := w.file.Write(p)
	if err != nil {
		return n, err
	}
	if err := w.truncateIfNeeded(); err != nil {
		return n, err
	}
	return n, nil
}

// truncateIfNeeded keeps the newest keepLogSizeBytes once the file grows past maxLogSizeBytes.
func (w *logFileWriter) truncateIfNeeded() error {
	info, err := w.file.Stat()
	if err != nil {
		return err
	}
	size := info.Size()
	if size <= maxLogSizeBytes {
		return nil
	}

	buf := make([]byte, keepLogSizeBytes)
	if _, err := w.file.Seek(size-keepLogSizeBytes, io.SeekStart); err != nil {
		return err
	}
	n, err := io.ReadFull(w.file, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return err
	}
	buf = buf[:n]

	if err := w.file.Truncate(0); err != nil {
		return err
	}
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := w.file.Write(buf); err != nil {
		return err
	}
	_, err = w.file.Seek(0, io.SeekEnd)
	return err
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
