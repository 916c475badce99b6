package transport

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/ganot/meetsync/internal/domain/history"
	"github.com/ganot/meetsync/internal/domain/protocol"
	"github.com/ganot/meetsync/internal/domain/summary"
	"github.com/go-chi/chi/v5"
)

// MeetingReader is the read-only query surface behind the REST API.
type MeetingReader interface {
	ListProtocols(ctx context.Context, meetingID string) ([]*protocol.Instance, error)
	GetProtocol(ctx context.Context, meetingID, instanceID string) (*protocol.Instance, error)
	Summary(ctx context.Context, meetingID string) ([]summary.Item, error)
	History(ctx context.Context, meetingID string, opts history.ListOptions) ([]history.Entry, error)
}

// RouterOptions configures NewRouter. Nil handlers leave their routes unmounted.
type RouterOptions struct {
	Auth    func(http.Handler) http.Handler
	Gateway http.Handler
	Reader  MeetingReader
	MCP     http.Handler
}

// Server wires HTTP handlers.
type Server struct {
	reader MeetingReader
}

// NewRouter creates the HTTP router. /health is always public; everything
// else sits behind the auth middleware when one is given.
func NewRouter(opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()
	srv := &Server{reader: opts.Reader}

	r.Get("/health", srv.handleHealth)

	r.Group(func(r chi.Router) {
		if opts.Auth != nil {
			r.Use(opts.Auth)
		}
		if opts.Gateway != nil {
			r.Get("/ws", opts.Gateway.ServeHTTP)
			r.Get("/ws/{meetingID}", opts.Gateway.ServeHTTP)
		}
		if opts.Reader != nil {
			r.Route("/api/meetings/{meetingID}", func(r chi.Router) {
				r.Get("/protocols", srv.handleListProtocols)
				r.Get("/protocols/{instanceID}", srv.handleGetProtocol)
				r.Get("/summary", srv.handleSummary)
				r.Get("/history", srv.handleHistory)
			})
		}
		if opts.MCP != nil {
			r.With(RequireRole(RoleFacilitator)).Handle("/mcp", opts.MCP)
		}
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleListProtocols(w http.ResponseWriter, r *http.Request) {
	instances, err := s.reader.ListProtocols(r.Context(), chi.URLParam(r, "meetingID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, instances)
}

func (s *Server) handleGetProtocol(w http.ResponseWriter, r *http.Request) {
	inst, err := s.reader.GetProtocol(r.Context(), chi.URLParam(r, "meetingID"), chi.URLParam(r, "instanceID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, inst)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	items, err := s.reader.Summary(r.Context(), chi.URLParam(r, "meetingID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, items)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	var opts history.ListOptions
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			WriteError(w, http.StatusBadRequest, "INVALID_INPUT", "limit must be a non-negative integer")
			return
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			WriteError(w, http.StatusBadRequest, "INVALID_INPUT", "offset must be a non-negative integer")
			return
		}
		opts.Offset = n
	}
	if v := q.Get("protocol"); v != "" {
		opts.ProtocolID = &v
	}

	entries, err := s.reader.History(r.Context(), chi.URLParam(r, "meetingID"), opts)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, entries)
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, protocol.ErrInstanceNotFound):
		WriteError(w, http.StatusNotFound, "INSTANCE_NOT_FOUND", "protocol instance not found")
	case errors.Is(err, protocol.ErrInvalidInput), errors.Is(err, history.ErrInvalidInput):
		WriteError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}
