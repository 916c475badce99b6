package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Service handles meeting history operations.
type Service struct {
	repo   Repository
	logger *slog.Logger
}

// NewService creates a new history service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Record logs a history entry with the current timestamp if missing.
func (s *Service) Record(ctx context.Context, entry *Entry) error {
	if entry == nil || entry.MeetingID == "" || entry.EventType == "" {
		return ErrInvalidInput
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if err := s.repo.Log(ctx, entry); err != nil {
		return fmt.Errorf("logging history: %w", err)
	}
	return nil
}

// Recent lists history entries with filtering, newest first.
func (s *Service) Recent(ctx context.Context, opts ListOptions) ([]Entry, error) {
	if opts.MeetingID == "" {
		return nil, ErrInvalidInput
	}
	entries, err := s.repo.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}
