package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
)

// Defaults for GatewayOptions.
const (
	DefaultWriteTimeout   = 10 * time.Second
	DefaultMaxMessageSize = 64 << 10
)

// SocketHandler receives the lifecycle and messages of each connection.
type SocketHandler interface {
	Connect(ctx context.Context, clientID, meetingID string, id Identity) error
	HandleMessage(ctx context.Context, clientID string, env Envelope)
	Disconnect(ctx context.Context, clientID string)
}

// ErrorPayload is the body of an "error" frame.
type ErrorPayload struct {
	Code         string `json:"code"`
	Message      string `json:"message"`
	Retriable    bool   `json:"retriable"`
	RecoveryHint string `json:"recovery_hint,omitempty"`
}

// GatewayOptions tunes the WebSocket gateway.
type GatewayOptions struct {
	WriteTimeout   time.Duration
	MaxMessageSize int64
}

// Gateway upgrades HTTP requests to WebSocket connections and pumps frames
// between the socket and the hub.
type Gateway struct {
	hub     *Hub
	handler SocketHandler
	opts    GatewayOptions
	logger  *slog.Logger
}

// NewGateway creates a gateway.
func NewGateway(hub *Hub, handler SocketHandler, opts GatewayOptions, logger *slog.Logger) *Gateway {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = DefaultMaxMessageSize
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Gateway{hub: hub, handler: handler, opts: opts, logger: logger}
}

// socketConn serializes writes so data frames and control replies never interleave.
type socketConn struct {
	net.Conn
	mu sync.Mutex
}

func (c *socketConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.Write(p)
}

func (c *socketConn) writeFrame(f ws.Frame, timeout time.Duration) error {
	frame, err := ws.CompileFrame(f)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.Conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	_, err = c.Conn.Write(frame)
	return err
}

// ServeHTTP handles GET /ws/{meetingID} (or /ws?meeting=...).
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}
	meetingID := chi.URLParam(r, "meetingID")
	if meetingID == "" {
		meetingID = r.URL.Query().Get("meeting")
	}
	if meetingID == "" {
		http.Error(w, "missing meeting", http.StatusBadRequest)
		return
	}

	raw, rw, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	conn := &socketConn{Conn: raw}
	var src io.Reader = raw
	if rw != nil {
		src = rw.Reader
	}

	// Disconnects are cooperative: in-flight operations finish even after
	// the peer goes away.
	ctx := context.WithoutCancel(r.Context())
	clientID := uuid.NewString()
	logger := g.logger.With("client_id", clientID, "meeting_id", meetingID, "user_id", id.UserID)

	out := g.hub.Register(clientID)
	if err := g.handler.Connect(ctx, clientID, meetingID, id); err != nil {
		logger.Warn("connection rejected", "error", err)
		g.hub.Unregister(clientID)
		_ = conn.writeFrame(ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusPolicyViolation, err.Error())), g.opts.WriteTimeout)
		_ = raw.Close()
		return
	}
	logger.Info("client connected")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		g.writeLoop(conn, out, logger)
	}()

	g.readLoop(ctx, clientID, conn, src, logger)

	g.handler.Disconnect(ctx, clientID)
	g.hub.Unregister(clientID)
	<-writerDone
	_ = raw.Close()
	logger.Info("client disconnected")
}

func (g *Gateway) writeLoop(conn *socketConn, out *Outbox, logger *slog.Logger) {
	for {
		select {
		case data := <-out.C():
			if err := conn.writeFrame(ws.NewTextFrame(data), g.opts.WriteTimeout); err != nil {
				logger.Debug("websocket write failed", "error", err)
				_ = conn.Conn.Close()
				return
			}
		case <-out.Done():
			_ = conn.writeFrame(ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, "")), g.opts.WriteTimeout)
			_ = conn.Conn.Close()
			return
		}
	}
}

func (g *Gateway) readLoop(ctx context.Context, clientID string, conn *socketConn, src io.Reader, logger *slog.Logger) {
	for {
		data, op, err := g.readMessage(conn, src)
		if err != nil {
			var closed wsutil.ClosedError
			switch {
			case errors.As(err, &closed), errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
				logger.Debug("websocket closed", "error", err)
			case errors.Is(err, wsutil.ErrFrameTooLarge):
				logger.Warn("websocket frame too large", "limit", g.opts.MaxMessageSize)
			default:
				logger.Debug("websocket read failed", "error", err)
			}
			return
		}
		if op != ws.OpText {
			g.hub.Send(ctx, clientID, "error", ErrorPayload{Code: "UNSUPPORTED_FRAME", Message: "only text frames are accepted"})
			continue
		}

		env, err := Decode(data)
		if err != nil {
			g.hub.Send(ctx, clientID, "error", ErrorPayload{Code: "MALFORMED_MESSAGE", Message: err.Error()})
			continue
		}
		g.handler.HandleMessage(ctx, clientID, env)
	}
}

// readMessage reads the next data message, answering control frames on the
// way and enforcing the size limit.
func (g *Gateway) readMessage(conn *socketConn, src io.Reader) ([]byte, ws.OpCode, error) {
	control := wsutil.ControlFrameHandler(conn, ws.StateServerSide)
	rd := wsutil.Reader{
		Source:         src,
		State:          ws.StateServerSide,
		CheckUTF8:      true,
		MaxFrameSize:   g.opts.MaxMessageSize,
		OnIntermediate: control,
	}
	for {
		hdr, err := rd.NextFrame()
		if err != nil {
			return nil, 0, err
		}
		if hdr.OpCode.IsControl() {
			if err := control(hdr, &rd); err != nil {
				return nil, 0, err
			}
			continue
		}
		if hdr.OpCode&(ws.OpText|ws.OpBinary) == 0 {
			if err := rd.Discard(); err != nil {
				return nil, 0, err
			}
			continue
		}
		data, err := io.ReadAll(io.LimitReader(&rd, g.opts.MaxMessageSize+1))
		if err != nil {
			return nil, 0, err
		}
		if int64(len(data)) > g.opts.MaxMessageSize {
			return nil, 0, wsutil.ErrFrameTooLarge
		}
		return data, hdr.OpCode, nil
	}
}
