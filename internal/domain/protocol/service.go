package protocol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ganot/meetsync/internal/domain/activity"
	"github.com/ganot/meetsync/internal/repository"
	"github.com/google/uuid"
)

type entry struct {
	mu   sync.Mutex
	inst *Instance
	// gone marks an entry removed from the working set; holders must reload.
	gone bool
}

// Service is the phase transition controller. It keeps the working set of
// instances in memory, writes every change through to the repository, and
// serializes all operations on one instance.
type Service struct {
	repo         Repository
	catalog      *Catalog
	participants ParticipantSource
	projector    Projector
	logger       *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

// NewService creates a new protocol service.
func NewService(
	repo Repository,
	catalog *Catalog,
	participants ParticipantSource,
	projector Projector,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		repo:         repo,
		catalog:      catalog,
		participants: participants,
		projector:    projector,
		logger:       logger,
		entries:      make(map[string]*entry),
		now:          time.Now,
	}
}

// Catalog returns the protocol types available to Start.
func (s *Service) Catalog() *Catalog {
	return s.catalog
}

// Start creates a new instance at phase 0.
func (s *Service) Start(ctx context.Context, req StartRequest) (*Instance, error) {
	if strings.TrimSpace(req.MeetingID) == "" || strings.TrimSpace(req.TypeName) == "" {
		return nil, ErrInvalidInput
	}
	typ, err := s.catalog.Lookup(req.TypeName)
	if err != nil {
		return nil, err
	}

	now := s.now()
	inst := &Instance{
		ID:        uuid.NewString(),
		MeetingID: req.MeetingID,
		Type:      typ,
		Items:     []Item{},
		Signals:   map[string]activity.Signal{},
		Revision:  1,
		CreatedBy: req.StartedBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, inst); err != nil {
		return nil, fmt.Errorf("creating protocol instance: %w", err)
	}

	s.mu.Lock()
	s.entries[inst.ID] = &entry{inst: inst}
	s.mu.Unlock()

	s.logger.Info("protocol started", "instance_id", inst.ID, "meeting_id", inst.MeetingID, "type", typ.Name)
	return inst.Clone(), nil
}

// Get returns the current state of an instance.
func (s *Service) Get(ctx context.Context, id string) (*Instance, error) {
	e, err := s.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	return e.inst.Clone(), nil
}

// ListByMeeting returns every instance of a meeting in creation order.
func (s *Service) ListByMeeting(ctx context.Context, meetingID string) ([]*Instance, error) {
	ids, err := s.repo.ListIDsByMeeting(ctx, meetingID)
	if err != nil {
		return nil, fmt.Errorf("listing protocol instances: %w", err)
	}
	out := make([]*Instance, 0, len(ids))
	for _, id := range ids {
		inst, err := s.Get(ctx, id)
		if errors.Is(err, ErrInstanceNotFound) {
			// deleted between listing and loading
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, nil
}

// Advance moves the instance to its next phase, or completes it from the
// last phase and projects it into the meeting summary.
func (s *Service) Advance(ctx context.Context, id string) (*Instance, error) {
	e, err := s.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	inst := e.inst
	if inst.Completed {
		return nil, ErrAlreadyCompleted
	}
	if !activity.ReadyForNextPhase(inst.Snapshot(s.participantsOf(inst.MeetingID))) {
		return nil, ErrNotReady
	}

	next := inst.Clone()
	next.Signals = map[string]activity.Signal{}
	next.ReadyFlag = false
	next.Revision++
	next.UpdatedAt = s.now()

	if inst.IsLastPhase() {
		next.Completed = true
		if err := s.complete(ctx, next); err != nil {
			return nil, err
		}
	} else {
		next.CurrentPhase++
		if err := s.repo.Update(ctx, next); err != nil {
			return nil, fmt.Errorf("saving protocol instance: %w", err)
		}
	}

	e.inst = next
	s.logger.Info("protocol advanced", "instance_id", id, "phase", next.CurrentPhase, "completed", next.Completed)
	return next.Clone(), nil
}

// complete projects the summary and then persists the completed instance,
// retracting the projection if the instance cannot be saved.
func (s *Service) complete(ctx context.Context, next *Instance) error {
	if s.projector != nil {
		n, err := s.projector.Project(ctx, next)
		if err != nil {
			return fmt.Errorf("projecting summary: %w", err)
		}
		s.logger.Debug("summary projected", "instance_id", next.ID, "items", n)
	}
	if err := s.repo.Update(ctx, next); err != nil {
		if s.projector != nil {
			if _, rerr := s.projector.Retract(ctx, next.ID); rerr != nil {
				s.logger.Error("failed to retract summary after save error", "instance_id", next.ID, "error", rerr)
			}
		}
		return fmt.Errorf("saving protocol instance: %w", err)
	}
	return nil
}

// Rewind moves the instance back one phase. It ignores readiness. Items are
// kept; signals and the ready flag are cleared so participants redo the phase.
func (s *Service) Rewind(ctx context.Context, id string) (*Instance, error) {
	e, err := s.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	inst := e.inst
	if inst.Completed {
		return nil, ErrAlreadyCompleted
	}
	if inst.CurrentPhase == 0 {
		return nil, ErrAtFirstPhase
	}

	next := inst.Clone()
	next.CurrentPhase--
	next.Signals = map[string]activity.Signal{}
	next.ReadyFlag = false
	next.Revision++
	next.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, next); err != nil {
		return nil, fmt.Errorf("saving protocol instance: %w", err)
	}

	e.inst = next
	s.logger.Info("protocol rewound", "instance_id", id, "phase", next.CurrentPhase)
	return next.Clone(), nil
}

// MarkReady sets the facilitator's ready flag on the current collective phase.
func (s *Service) MarkReady(ctx context.Context, id string, ready bool) (*Instance, error) {
	e, err := s.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	inst := e.inst
	if inst.Completed {
		return nil, ErrAlreadyCompleted
	}
	if inst.Phase().Kind != KindCollective {
		return nil, ErrNotCollectivePhase
	}
	if inst.ReadyFlag == ready {
		return inst.Clone(), nil
	}

	next := inst.Clone()
	next.ReadyFlag = ready
	next.Revision++
	next.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, next); err != nil {
		return nil, fmt.Errorf("saving protocol instance: %w", err)
	}
	e.inst = next
	return next.Clone(), nil
}

// Delete removes the instance together with its items and any summary items
// it contributed.
func (s *Service) Delete(ctx context.Context, id string) (*DeleteResult, error) {
	e, err := s.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	retracted, err := s.repo.Delete(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.drop(id, e)
			return nil, ErrInstanceNotFound
		}
		return nil, fmt.Errorf("deleting protocol instance: %w", err)
	}
	s.drop(id, e)

	s.logger.Info("protocol deleted", "instance_id", id, "retracted_summary_items", retracted)
	return &DeleteResult{Instance: e.inst.Clone(), Retracted: retracted}, nil
}

// SubmitItem validates and appends an item. A rejected item leaves the
// instance unchanged.
func (s *Service) SubmitItem(ctx context.Context, req SubmitItemRequest) (*Item, *Instance, error) {
	if req.AuthorID == "" {
		return nil, nil, ErrInvalidInput
	}
	if req.Type != ItemTypeGroup && req.Type != ItemTypeItem {
		return nil, nil, ErrInvalidItemType
	}
	if !req.Mark.Valid() {
		return nil, nil, ErrInvalidInput
	}

	e, err := s.lock(ctx, req.InstanceID)
	if err != nil {
		return nil, nil, err
	}
	defer e.mu.Unlock()

	inst := e.inst
	if inst.Completed {
		return nil, nil, ErrAlreadyCompleted
	}
	if err := checkPhase(inst, req.Phase); err != nil {
		return nil, nil, err
	}
	if err := checkParent(inst, req.Type, req.ParentID); err != nil {
		return nil, nil, err
	}

	mark := req.Mark
	if mark == "" {
		mark = MarkNone
	}
	item := Item{
		ID:         uuid.NewString(),
		InstanceID: inst.ID,
		Type:       req.Type,
		ParentID:   req.ParentID,
		AuthorID:   req.AuthorID,
		Text:       req.Text,
		Mark:       mark,
		Phase:      inst.CurrentPhase,
		CreatedAt:  s.now(),
	}
	if err := s.repo.AddItem(ctx, &item); err != nil {
		if errors.Is(err, repository.ErrForeignKeyViolation) {
			return nil, nil, ErrDanglingParent
		}
		return nil, nil, fmt.Errorf("saving protocol item: %w", err)
	}

	next := inst.Clone()
	next.Items = append(next.Items, item)
	next.Revision++
	next.UpdatedAt = item.CreatedAt
	if err := s.repo.Update(ctx, next); err != nil {
		s.logger.Warn("failed to bump instance revision", "instance_id", inst.ID, "error", err)
	}
	e.inst = next
	return &item, next.Clone(), nil
}

// SetTyping records whether the user is producing input in the current phase.
func (s *Service) SetTyping(ctx context.Context, req SignalRequest) (*Instance, error) {
	return s.signal(ctx, req, func(inst *Instance, sig *activity.Signal) error {
		sig.Typing = req.Value
		return nil
	})
}

// SetCompleted records whether the user finished the current solo phase.
func (s *Service) SetCompleted(ctx context.Context, req SignalRequest) (*Instance, error) {
	return s.signal(ctx, req, func(inst *Instance, sig *activity.Signal) error {
		if inst.Phase().Kind != KindSolo {
			return ErrNotSoloPhase
		}
		sig.Completed = req.Value
		if req.Value {
			sig.Typing = false
		}
		return nil
	})
}

// signal applies a mutation to one user's signal. Signals live only in
// memory, but the revision they advance is stored so it never goes back
// after a reload.
func (s *Service) signal(ctx context.Context, req SignalRequest, apply func(*Instance, *activity.Signal) error) (*Instance, error) {
	if req.UserID == "" {
		return nil, ErrInvalidInput
	}
	e, err := s.lock(ctx, req.InstanceID)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	inst := e.inst
	if inst.Completed {
		return nil, ErrAlreadyCompleted
	}
	if err := checkPhase(inst, req.Phase); err != nil {
		return nil, err
	}

	sig := inst.Signals[req.UserID]
	before := sig
	if err := apply(inst, &sig); err != nil {
		return nil, err
	}
	if sig == before {
		return inst.Clone(), nil
	}

	next := inst.Clone()
	next.Signals[req.UserID] = sig
	next.Revision++
	next.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, next); err != nil {
		return nil, fmt.Errorf("saving protocol instance: %w", err)
	}
	e.inst = next
	return next.Clone(), nil
}

// Snapshot returns the aggregator input for an instance using the live
// participant set of its meeting.
func (s *Service) Snapshot(inst *Instance) activity.Snapshot {
	return inst.Snapshot(s.participantsOf(inst.MeetingID))
}

// Evict drops every cached instance of the meeting. Signals are lost; the
// instances reload from the repository on next access.
func (s *Service) Evict(meetingID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, e := range s.entries {
		if !e.mu.TryLock() {
			continue
		}
		if e.inst != nil && e.inst.MeetingID == meetingID {
			e.gone = true
			delete(s.entries, id)
			n++
		}
		e.mu.Unlock()
	}
	return n
}

// lock returns the locked working-set entry for id, loading it from the
// repository when it is not cached. The caller must unlock it.
func (s *Service) lock(ctx context.Context, id string) (*entry, error) {
	if id == "" {
		return nil, ErrInvalidInput
	}
	for {
		s.mu.Lock()
		e, ok := s.entries[id]
		if !ok {
			e = &entry{}
			s.entries[id] = e
		}
		s.mu.Unlock()

		e.mu.Lock()
		if e.gone {
			e.mu.Unlock()
			continue
		}
		if e.inst != nil {
			return e, nil
		}

		inst, err := s.load(ctx, id)
		if err != nil {
			s.drop(id, e)
			e.mu.Unlock()
			return nil, err
		}
		e.inst = inst
		return e, nil
	}
}

func (s *Service) load(ctx context.Context, id string) (*Instance, error) {
	inst, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInstanceNotFound
		}
		return nil, fmt.Errorf("loading protocol instance: %w", err)
	}
	if inst.CurrentPhase < 0 || inst.CurrentPhase >= len(inst.Type.Phases) {
		return nil, fmt.Errorf("%w: instance %s at phase %d of %d", ErrInvalidPhaseIndex, id, inst.CurrentPhase, len(inst.Type.Phases))
	}
	if inst.Signals == nil {
		inst.Signals = map[string]activity.Signal{}
	}
	if inst.Items == nil {
		inst.Items = []Item{}
	}
	return inst, nil
}

// drop removes a locked entry from the working set.
func (s *Service) drop(id string, e *entry) {
	e.gone = true
	s.mu.Lock()
	if s.entries[id] == e {
		delete(s.entries, id)
	}
	s.mu.Unlock()
}

func (s *Service) participantsOf(meetingID string) []string {
	if s.participants == nil {
		return nil
	}
	return s.participants.Participants(meetingID)
}

func checkPhase(inst *Instance, phase *int) error {
	if phase == nil {
		return nil
	}
	if *phase < 0 || *phase >= len(inst.Type.Phases) {
		return ErrInvalidPhaseIndex
	}
	if *phase != inst.CurrentPhase {
		return ErrStalePhase
	}
	return nil
}

func checkParent(inst *Instance, typ ItemType, parentID *string) error {
	if parentID == nil {
		return nil
	}
	if typ == ItemTypeGroup {
		return ErrInvalidParent
	}
	parent, ok := inst.FindItem(*parentID)
	if !ok {
		return ErrDanglingParent
	}
	if parent.Type != ItemTypeGroup {
		return ErrInvalidParent
	}
	return nil
}
