package summary

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ganot/meetsync/internal/domain/protocol"
	"github.com/google/uuid"
)

// Service projects completed protocol instances into the meeting summary.
type Service struct {
	repo       Repository
	strategies *Strategies
	logger     *slog.Logger
	now        func() time.Time
}

// NewService creates a new summary service. A nil strategies registry uses the built-ins.
func NewService(repo Repository, strategies *Strategies, logger *slog.Logger) *Service {
	if strategies == nil {
		strategies = NewStrategies()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{repo: repo, strategies: strategies, logger: logger, now: time.Now}
}

// Strategies returns the strategy registry.
func (s *Service) Strategies() *Strategies {
	return s.strategies
}

// Preview builds the summary items an instance would contribute without storing them.
func (s *Service) Preview(inst *protocol.Instance) []Item {
	return Build(inst, s.strategies.Lookup(inst.Type.Name), s.now())
}

// Project stores the summary items of a completed instance.
func (s *Service) Project(ctx context.Context, inst *protocol.Instance) (int, error) {
	items := s.Preview(inst)
	if len(items) == 0 {
		return 0, nil
	}
	if err := s.repo.Append(ctx, items); err != nil {
		return 0, fmt.Errorf("appending summary items: %w", err)
	}
	s.logger.Info("summary updated", "meeting_id", inst.MeetingID, "protocol_id", inst.ID, "items", len(items))
	return len(items), nil
}

// Retract removes every summary item contributed by the protocol instance.
func (s *Service) Retract(ctx context.Context, instanceID string) (int, error) {
	n, err := s.repo.DeleteByProtocol(ctx, instanceID)
	if err != nil {
		return 0, fmt.Errorf("retracting summary items: %w", err)
	}
	return n, nil
}

// ListByMeeting returns a meeting's summary in insertion order.
func (s *Service) ListByMeeting(ctx context.Context, meetingID string) ([]Item, error) {
	items, err := s.repo.ListByMeeting(ctx, meetingID)
	if err != nil {
		return nil, fmt.Errorf("listing summary items: %w", err)
	}
	if items == nil {
		items = []Item{}
	}
	return items, nil
}

// Build runs the strategy over the instance's items and converts the result
// into summary items. Grouping is derived from the live item list.
func Build(inst *protocol.Instance, strategy Strategy, at time.Time) []Item {
	counts := ChildCounts(inst.Items)
	byID := make(map[string]protocol.Item, len(inst.Items))
	for _, it := range inst.Items {
		byID[it.ID] = it
	}

	kept := strategy.Summarize(inst.Clone().Items)
	out := make([]Item, 0, len(kept))
	for pos, it := range kept {
		si := Item{
			ID:           uuid.NewString(),
			MeetingID:    inst.MeetingID,
			ProtocolID:   inst.ID,
			ProtocolType: inst.Type.Name,
			ItemType:     typeFromMark(it.Mark),
			Text:         it.Text,
			SourceItemID: it.ID,
			Position:     pos,
			CreatedAt:    at,
		}
		if it.Type == protocol.ItemTypeGroup {
			si.ChildCount = counts[it.ID]
		}
		if it.ParentID != nil {
			if parent, ok := byID[*it.ParentID]; ok {
				gid := parent.ID
				si.GroupID = &gid
				si.GroupTitle = parent.Text
			}
		}
		out = append(out, si)
	}
	return out
}
