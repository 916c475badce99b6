package channel

import (
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/samber/lo"
)

type room struct {
	mu       sync.Mutex
	clients  map[string]string // client id -> user id
	left     map[string]struct{}
	metadata Metadata
	// closed is set once the last client leaves; a closed room is never reused.
	closed bool
}

func newRoom() *room {
	return &room{
		clients: make(map[string]string),
		left:    make(map[string]struct{}),
	}
}

// Registry tracks which clients are connected to which meeting channel.
// Mutations lock only the affected channel.
type Registry struct {
	rooms   sync.Map // channel id -> *room
	clients sync.Map // client id -> channel id

	listenersMu sync.RWMutex
	listeners   []Listener

	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{logger: logger}
}

// Subscribe registers a listener for join and leave events.
func (r *Registry) Subscribe(l Listener) {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Join adds the client to the channel, creating the channel if needed.
// Joining the channel the client is already in is a no-op; joining a
// different channel moves the client.
func (r *Registry) Join(channelID, clientID, userID string) error {
	if channelID == "" || clientID == "" || userID == "" {
		return ErrInvalidInput
	}

	if current, ok := r.ChannelForClient(clientID); ok && current != channelID {
		r.Leave(clientID)
	}

	for {
		v, _ := r.rooms.LoadOrStore(channelID, newRoom())
		rm := v.(*room)

		rm.mu.Lock()
		if rm.closed {
			rm.mu.Unlock()
			continue
		}
		prev, existed := rm.clients[clientID]
		rm.clients[clientID] = userID
		delete(rm.left, userID)
		r.clients.Store(clientID, channelID)
		rm.mu.Unlock()

		if existed && prev == userID {
			return nil
		}
		r.logger.Debug("client joined channel", "channel_id", channelID, "client_id", clientID, "user_id", userID)
		r.notify(Event{Kind: EventJoined, ChannelID: channelID, ClientID: clientID, UserID: userID})
		return nil
	}
}

// Leave removes the client from its channel. Unknown clients are ignored.
func (r *Registry) Leave(clientID string) {
	v, ok := r.clients.Load(clientID)
	if !ok {
		return
	}
	channelID := v.(string)

	rv, ok := r.rooms.Load(channelID)
	if !ok {
		r.clients.CompareAndDelete(clientID, channelID)
		return
	}
	rm := rv.(*room)

	rm.mu.Lock()
	userID, member := rm.clients[clientID]
	if !member {
		rm.mu.Unlock()
		return
	}
	delete(rm.clients, clientID)
	r.clients.CompareAndDelete(clientID, channelID)
	empty := len(rm.clients) == 0
	if empty {
		rm.closed = true
		r.rooms.CompareAndDelete(channelID, rm)
	}
	rm.mu.Unlock()

	r.logger.Debug("client left channel", "channel_id", channelID, "client_id", clientID, "empty", empty)
	r.notify(Event{Kind: EventLeft, ChannelID: channelID, ClientID: clientID, UserID: userID, Empty: empty})
}

// ChannelForClient returns the channel the client belongs to.
func (r *Registry) ChannelForClient(clientID string) (string, bool) {
	v, ok := r.clients.Load(clientID)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// UserForClient returns the user that owns the client.
func (r *Registry) UserForClient(clientID string) (string, bool) {
	channelID, ok := r.ChannelForClient(clientID)
	if !ok {
		return "", false
	}
	var userID string
	found := r.withRoom(channelID, func(rm *room) {
		userID, ok = rm.clients[clientID]
	})
	return userID, found && ok
}

// Members returns the client ids connected to the channel, sorted.
// An unknown channel yields an empty slice.
func (r *Registry) Members(channelID string) []string {
	members := []string{}
	r.withRoom(channelID, func(rm *room) {
		members = lo.Keys(rm.clients)
	})
	slices.Sort(members)
	return members
}

// Users returns the distinct users with at least one connected client, sorted.
func (r *Registry) Users(channelID string) []string {
	users := []string{}
	r.withRoom(channelID, func(rm *room) {
		users = lo.Uniq(lo.Values(rm.clients))
	})
	slices.Sort(users)
	return users
}

// Participants returns the connected users that have not explicitly left the meeting.
func (r *Registry) Participants(channelID string) []string {
	participants := []string{}
	r.withRoom(channelID, func(rm *room) {
		participants = lo.Filter(lo.Uniq(lo.Values(rm.clients)), func(u string, _ int) bool {
			_, gone := rm.left[u]
			return !gone
		})
	})
	slices.Sort(participants)
	return participants
}

// MarkLeft removes the user from the active participant set without
// disconnecting their clients. The user's next Join restores them.
func (r *Registry) MarkLeft(channelID, userID string) error {
	if userID == "" {
		return ErrInvalidInput
	}
	if !r.withRoom(channelID, func(rm *room) { rm.left[userID] = struct{}{} }) {
		return ErrChannelNotFound
	}
	return nil
}

// Metadata returns a copy of the channel's metadata.
func (r *Registry) Metadata(channelID string) (Metadata, bool) {
	var md Metadata
	r.withRoom(channelID, func(rm *room) {
		if rm.metadata != nil {
			md = maps.Clone(rm.metadata)
		}
	})
	return md, md != nil
}

// SetMetadata replaces the channel's metadata.
func (r *Registry) SetMetadata(channelID string, md Metadata) error {
	if !r.withRoom(channelID, func(rm *room) { rm.metadata = maps.Clone(md) }) {
		return ErrChannelNotFound
	}
	return nil
}

// UpdateMetadata applies fn to the channel's metadata under the channel lock.
func (r *Registry) UpdateMetadata(channelID string, fn func(Metadata)) error {
	ok := r.withRoom(channelID, func(rm *room) {
		if rm.metadata == nil {
			rm.metadata = Metadata{}
		}
		fn(rm.metadata)
	})
	if !ok {
		return ErrChannelNotFound
	}
	return nil
}

// Channels returns the ids of all live channels, sorted.
func (r *Registry) Channels() []string {
	ids := []string{}
	r.rooms.Range(func(k, _ any) bool {
		ids = append(ids, k.(string))
		return true
	})
	slices.Sort(ids)
	return ids
}

// withRoom runs fn with the channel locked. It reports false when the
// channel does not exist or was closed concurrently.
func (r *Registry) withRoom(channelID string, fn func(rm *room)) bool {
	v, ok := r.rooms.Load(channelID)
	if !ok {
		return false
	}
	rm := v.(*room)
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.closed {
		return false
	}
	fn(rm)
	return true
}

func (r *Registry) notify(ev Event) {
	r.listenersMu.RLock()
	listeners := slices.Clone(r.listeners)
	r.listenersMu.RUnlock()
	for _, l := range listeners {
		l(ev)
	}
}
