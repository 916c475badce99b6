package transport

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// DefaultQueueSize is the outbound queue length per client.
const DefaultQueueSize = 64

// Membership resolves the clients of a channel.
type Membership interface {
	Members(channelID string) []string
}

// Outbox is the outbound queue of one client. A single writer drains it,
// so messages enqueued by one goroutine reach the client in order.
type Outbox struct {
	clientID string
	ch       chan []byte
	done     chan struct{}
	once     sync.Once
}

// C returns the queued frames.
func (o *Outbox) C() <-chan []byte { return o.ch }

// Done is closed when the client must be disconnected.
func (o *Outbox) Done() <-chan struct{} { return o.done }

func (o *Outbox) close() {
	o.once.Do(func() { close(o.done) })
}

// Hub fans messages out to connected clients without ever blocking on a
// slow one. A client whose queue overflows is disconnected so it can
// reconnect and resynchronize.
type Hub struct {
	members   Membership
	queueSize int
	logger    *slog.Logger

	mu      sync.RWMutex
	clients map[string]*Outbox

	dropped atomic.Int64
}

// NewHub creates a hub.
func NewHub(members Membership, queueSize int, logger *slog.Logger) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Hub{
		members:   members,
		queueSize: queueSize,
		logger:    logger,
		clients:   make(map[string]*Outbox),
	}
}

// Register creates the outbox for a client, replacing any previous one.
func (h *Hub) Register(clientID string) *Outbox {
	o := &Outbox{
		clientID: clientID,
		ch:       make(chan []byte, h.queueSize),
		done:     make(chan struct{}),
	}
	h.mu.Lock()
	prev := h.clients[clientID]
	h.clients[clientID] = o
	h.mu.Unlock()
	if prev != nil {
		prev.close()
	}
	return o
}

// Unregister removes the client and signals its writer to stop.
func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	o := h.clients[clientID]
	delete(h.clients, clientID)
	h.mu.Unlock()
	if o != nil {
		o.close()
	}
}

// Connected reports whether the client has an outbox.
func (h *Hub) Connected(clientID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[clientID]
	return ok
}

// Dropped returns how many frames were discarded for slow or gone clients.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Send delivers a message to one client. A client that disconnected in the
// meantime is logged and skipped.
func (h *Hub) Send(ctx context.Context, clientID, msgType string, payload any) {
	h.Reply(ctx, clientID, msgType, "", payload)
}

// Reply is Send with the request id of the inbound message it answers.
func (h *Hub) Reply(ctx context.Context, clientID, msgType, requestID string, payload any) {
	data, err := Encode(msgType, requestID, payload)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to encode message", "type", msgType, "error", err)
		return
	}
	h.deliver(ctx, clientID, msgType, data)
}

// Broadcast delivers one payload to every member of the channel except
// exclude. Exclusion is per client: other clients of the same user still
// receive the message.
func (h *Hub) Broadcast(ctx context.Context, channelID, msgType string, payload any, exclude string) {
	data, err := Encode(msgType, "", payload)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to encode message", "type", msgType, "error", err)
		return
	}
	for _, clientID := range h.members.Members(channelID) {
		if clientID == exclude {
			continue
		}
		h.deliver(ctx, clientID, msgType, data)
	}
}

// BroadcastEach delivers a per-recipient payload to every member of the
// channel except exclude. A nil payload skips the recipient.
func (h *Hub) BroadcastEach(ctx context.Context, channelID, msgType, exclude string, build func(clientID string) any) {
	for _, clientID := range h.members.Members(channelID) {
		if clientID == exclude {
			continue
		}
		payload := build(clientID)
		if payload == nil {
			continue
		}
		data, err := Encode(msgType, "", payload)
		if err != nil {
			h.logger.ErrorContext(ctx, "failed to encode message", "type", msgType, "client_id", clientID, "error", err)
			continue
		}
		h.deliver(ctx, clientID, msgType, data)
	}
}

func (h *Hub) deliver(ctx context.Context, clientID, msgType string, data []byte) {
	h.mu.RLock()
	o, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		h.dropped.Add(1)
		h.logger.DebugContext(ctx, "dropping message for disconnected client", "client_id", clientID, "type", msgType)
		return
	}

	select {
	case <-o.done:
		h.dropped.Add(1)
		return
	default:
	}

	select {
	case o.ch <- data:
	default:
		h.dropped.Add(1)
		h.logger.WarnContext(ctx, "outbound queue full, disconnecting client", "client_id", clientID, "type", msgType)
		o.close()
	}
}
