package protocol_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ganot/meetsync/internal/domain/protocol"
	"github.com/ganot/meetsync/internal/repository"
	"github.com/ganot/meetsync/internal/repository/mocks"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var threePhase = protocol.ProtocolType{
	Name: "retro",
	Phases: []protocol.PhaseDefinition{
		{Kind: protocol.KindSolo, ActivityLabel: "Writing"},
		{Kind: protocol.KindSolo, ActivityLabel: "Voting"},
		{Kind: protocol.KindCollective, ActivityLabel: "Discussing"},
	},
}

type fixture struct {
	svc       *protocol.Service
	repo      *mocks.ProtocolRepository
	projector *mocks.Projector
}

func newFixture(t *testing.T, participants ...string) fixture {
	t.Helper()
	catalog, err := protocol.NewCatalog(threePhase)
	require.NoError(t, err)

	repo := &mocks.ProtocolRepository{}
	repo.On("Create", mock.Anything, mock.Anything).Return(nil).Maybe()
	repo.On("Update", mock.Anything, mock.Anything).Return(nil).Maybe()
	repo.On("AddItem", mock.Anything, mock.Anything).Return(nil).Maybe()

	projector := &mocks.Projector{}
	source := mocks.ParticipantSource{"m1": participants}
	return fixture{
		svc:       protocol.NewService(repo, catalog, source, projector, nil),
		repo:      repo,
		projector: projector,
	}
}

func (f fixture) start(t *testing.T) *protocol.Instance {
	t.Helper()
	inst, err := f.svc.Start(context.Background(), protocol.StartRequest{MeetingID: "m1", TypeName: "retro", StartedBy: "facilitator"})
	require.NoError(t, err)
	return inst
}

func (f fixture) complete(t *testing.T, id, user string) {
	t.Helper()
	_, err := f.svc.SetCompleted(context.Background(), protocol.SignalRequest{InstanceID: id, UserID: user, Value: true})
	require.NoError(t, err)
}

func TestService_Start(t *testing.T) {
	f := newFixture(t, "alice")
	ctx := context.Background()

	inst := f.start(t)
	require.NotEmpty(t, inst.ID)
	require.Equal(t, 0, inst.CurrentPhase)
	require.False(t, inst.Completed)
	require.Equal(t, int64(1), inst.Revision)
	require.Empty(t, inst.Items)

	_, err := f.svc.Start(ctx, protocol.StartRequest{MeetingID: "m1", TypeName: "unknown"})
	require.ErrorIs(t, err, protocol.ErrUnknownType)

	_, err = f.svc.Start(ctx, protocol.StartRequest{MeetingID: "", TypeName: "retro"})
	require.ErrorIs(t, err, protocol.ErrInvalidInput)
}

// Solo, solo, collective with two participants.
func TestService_SoloPhasesRequireEveryone(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()
	inst := f.start(t)

	f.complete(t, inst.ID, "alice")
	f.complete(t, inst.ID, "bob")

	next, err := f.svc.Advance(ctx, inst.ID)
	require.NoError(t, err)
	require.Equal(t, 1, next.CurrentPhase)
	require.Empty(t, next.Signals)

	f.complete(t, inst.ID, "alice")
	_, err = f.svc.Advance(ctx, inst.ID)
	require.ErrorIs(t, err, protocol.ErrNotReady)

	got, err := f.svc.Get(ctx, inst.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.CurrentPhase)
}

func TestService_CollectivePhaseUsesReadyFlag(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()
	inst := f.start(t)

	for i := 0; i < 2; i++ {
		f.complete(t, inst.ID, "alice")
		f.complete(t, inst.ID, "bob")
		_, err := f.svc.Advance(ctx, inst.ID)
		require.NoError(t, err)
	}

	_, err := f.svc.Advance(ctx, inst.ID)
	require.ErrorIs(t, err, protocol.ErrNotReady)

	ready, err := f.svc.MarkReady(ctx, inst.ID, true)
	require.NoError(t, err)
	require.True(t, ready.ReadyFlag)
	require.Empty(t, ready.Signals)

	f.projector.On("Project", ctx, mock.Anything).Return(2, nil).Once()
	done, err := f.svc.Advance(ctx, inst.ID)
	require.NoError(t, err)
	require.True(t, done.Completed)
	require.Equal(t, 2, done.CurrentPhase)
	f.projector.AssertExpectations(t)

	_, err = f.svc.Advance(ctx, inst.ID)
	require.ErrorIs(t, err, protocol.ErrAlreadyCompleted)
	_, err = f.svc.Rewind(ctx, inst.ID)
	require.ErrorIs(t, err, protocol.ErrAlreadyCompleted)
}

func TestService_CompletionRetractsSummaryWhenSaveFails(t *testing.T) {
	catalog, err := protocol.NewCatalog(protocol.ProtocolType{
		Name:   "single",
		Phases: []protocol.PhaseDefinition{{Kind: protocol.KindCollective, ActivityLabel: "Talking"}},
	})
	require.NoError(t, err)
	ctx := context.Background()

	repo := &mocks.ProtocolRepository{}
	repo.On("Create", ctx, mock.Anything).Return(nil)
	repo.On("Update", ctx, mock.MatchedBy(func(i *protocol.Instance) bool { return !i.Completed })).Return(nil)
	repo.On("Update", ctx, mock.MatchedBy(func(i *protocol.Instance) bool { return i.Completed })).Return(errors.New("disk full"))
	projector := &mocks.Projector{}
	svc := protocol.NewService(repo, catalog, mocks.ParticipantSource{}, projector, nil)

	inst, err := svc.Start(ctx, protocol.StartRequest{MeetingID: "m1", TypeName: "single"})
	require.NoError(t, err)
	_, err = svc.MarkReady(ctx, inst.ID, true)
	require.NoError(t, err)

	projector.On("Project", ctx, mock.Anything).Return(1, nil)
	projector.On("Retract", ctx, inst.ID).Return(1, nil)

	_, err = svc.Advance(ctx, inst.ID)
	require.Error(t, err)
	projector.AssertExpectations(t)

	got, err := svc.Get(ctx, inst.ID)
	require.NoError(t, err)
	require.False(t, got.Completed)
	require.True(t, got.ReadyFlag)
}

func TestService_Rewind(t *testing.T) {
	f := newFixture(t, "alice")
	ctx := context.Background()
	inst := f.start(t)

	_, err := f.svc.Rewind(ctx, inst.ID)
	require.ErrorIs(t, err, protocol.ErrAtFirstPhase)

	_, _, err = f.svc.SubmitItem(ctx, protocol.SubmitItemRequest{InstanceID: inst.ID, AuthorID: "alice", Type: protocol.ItemTypeItem, Text: "idea"})
	require.NoError(t, err)
	f.complete(t, inst.ID, "alice")
	_, err = f.svc.Advance(ctx, inst.ID)
	require.NoError(t, err)

	_, err = f.svc.SetTyping(ctx, protocol.SignalRequest{InstanceID: inst.ID, UserID: "alice", Value: true})
	require.NoError(t, err)

	back, err := f.svc.Rewind(ctx, inst.ID)
	require.NoError(t, err)
	require.Equal(t, 0, back.CurrentPhase)
	require.Empty(t, back.Signals)
	require.Len(t, back.Items, 1)
}

func TestService_PhaseIndexStaysInRange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inst := f.start(t)
	f.projector.On("Project", ctx, mock.Anything).Return(0, nil).Maybe()

	ops := []string{"rewind", "advance", "advance", "rewind", "advance", "advance", "rewind", "rewind", "rewind", "advance"}
	prev := 0
	for _, op := range ops {
		var (
			got *protocol.Instance
			err error
		)
		if op == "advance" {
			if p, _ := f.svc.Get(ctx, inst.ID); !p.Completed && p.Phase().Kind == protocol.KindCollective {
				_, err = f.svc.MarkReady(ctx, inst.ID, true)
				require.NoError(t, err)
			}
			got, err = f.svc.Advance(ctx, inst.ID)
		} else {
			got, err = f.svc.Rewind(ctx, inst.ID)
		}
		if err != nil {
			require.True(t, errors.Is(err, protocol.ErrAtFirstPhase) || errors.Is(err, protocol.ErrAlreadyCompleted), err.Error())
			continue
		}
		if op == "advance" {
			require.GreaterOrEqual(t, got.CurrentPhase, prev)
		} else {
			require.Equal(t, prev-1, got.CurrentPhase)
		}
		require.GreaterOrEqual(t, got.CurrentPhase, 0)
		require.Less(t, got.CurrentPhase, len(threePhase.Phases))
		prev = got.CurrentPhase
	}
}

func TestService_MarkReadyRequiresCollectivePhase(t *testing.T) {
	f := newFixture(t, "alice")
	inst := f.start(t)

	_, err := f.svc.MarkReady(context.Background(), inst.ID, true)
	require.ErrorIs(t, err, protocol.ErrNotCollectivePhase)
}

func TestService_SetCompletedRequiresSoloPhase(t *testing.T) {
	f := newFixture(t, "alice")
	ctx := context.Background()
	inst := f.start(t)
	f.complete(t, inst.ID, "alice")
	_, err := f.svc.Advance(ctx, inst.ID)
	require.NoError(t, err)
	f.complete(t, inst.ID, "alice")
	_, err = f.svc.Advance(ctx, inst.ID)
	require.NoError(t, err)

	_, err = f.svc.SetCompleted(ctx, protocol.SignalRequest{InstanceID: inst.ID, UserID: "alice", Value: true})
	require.ErrorIs(t, err, protocol.ErrNotSoloPhase)
}

func TestService_SignalsRejectStalePhase(t *testing.T) {
	f := newFixture(t, "alice")
	ctx := context.Background()
	inst := f.start(t)

	stale := 1
	_, err := f.svc.SetCompleted(ctx, protocol.SignalRequest{InstanceID: inst.ID, UserID: "alice", Value: true, Phase: &stale})
	require.ErrorIs(t, err, protocol.ErrStalePhase)

	outOfRange := 7
	_, err = f.svc.SetTyping(ctx, protocol.SignalRequest{InstanceID: inst.ID, UserID: "alice", Value: true, Phase: &outOfRange})
	require.ErrorIs(t, err, protocol.ErrInvalidPhaseIndex)

	current := 0
	got, err := f.svc.SetCompleted(ctx, protocol.SignalRequest{InstanceID: inst.ID, UserID: "alice", Value: true, Phase: &current})
	require.NoError(t, err)
	require.True(t, got.Signals["alice"].Completed)
}

func TestService_SubmitItem_DanglingParentIsRejected(t *testing.T) {
	f := newFixture(t, "alice")
	ctx := context.Background()
	inst := f.start(t)

	missing := "no-such-group"
	_, _, err := f.svc.SubmitItem(ctx, protocol.SubmitItemRequest{
		InstanceID: inst.ID,
		AuthorID:   "alice",
		Type:       protocol.ItemTypeItem,
		ParentID:   &missing,
		Text:       "orphan",
	})
	require.ErrorIs(t, err, protocol.ErrDanglingParent)
	f.repo.AssertNotCalled(t, "AddItem", mock.Anything, mock.Anything)

	got, err := f.svc.Get(ctx, inst.ID)
	require.NoError(t, err)
	require.Empty(t, got.Items)
	require.Equal(t, inst.Revision, got.Revision)
}

func TestService_SubmitItem_Grouping(t *testing.T) {
	f := newFixture(t, "alice")
	ctx := context.Background()
	inst := f.start(t)

	group, _, err := f.svc.SubmitItem(ctx, protocol.SubmitItemRequest{InstanceID: inst.ID, AuthorID: "alice", Type: protocol.ItemTypeGroup, Text: "Process"})
	require.NoError(t, err)
	require.Equal(t, protocol.MarkNone, group.Mark)

	child, state, err := f.svc.SubmitItem(ctx, protocol.SubmitItemRequest{InstanceID: inst.ID, AuthorID: "alice", Type: protocol.ItemTypeItem, ParentID: &group.ID, Text: "standups"})
	require.NoError(t, err)
	require.Equal(t, group.ID, *child.ParentID)
	require.Len(t, state.Items, 2)

	_, _, err = f.svc.SubmitItem(ctx, protocol.SubmitItemRequest{InstanceID: inst.ID, AuthorID: "alice", Type: protocol.ItemTypeItem, ParentID: &child.ID, Text: "nested"})
	require.ErrorIs(t, err, protocol.ErrInvalidParent)

	_, _, err = f.svc.SubmitItem(ctx, protocol.SubmitItemRequest{InstanceID: inst.ID, AuthorID: "alice", Type: protocol.ItemTypeGroup, ParentID: &group.ID, Text: "subgroup"})
	require.ErrorIs(t, err, protocol.ErrInvalidParent)

	_, _, err = f.svc.SubmitItem(ctx, protocol.SubmitItemRequest{InstanceID: inst.ID, AuthorID: "alice", Type: "Note", Text: "x"})
	require.ErrorIs(t, err, protocol.ErrInvalidItemType)

	_, _, err = f.svc.SubmitItem(ctx, protocol.SubmitItemRequest{InstanceID: inst.ID, AuthorID: "alice", Type: protocol.ItemTypeItem, Mark: "Bogus"})
	require.ErrorIs(t, err, protocol.ErrInvalidInput)

	got, err := f.svc.Get(ctx, inst.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 2)
}

func TestService_SubmitItem_UnknownInstance(t *testing.T) {
	f := newFixture(t, "alice")
	ctx := context.Background()
	f.repo.On("Get", ctx, "ghost").Return(nil, repository.ErrNotFound)

	_, _, err := f.svc.SubmitItem(ctx, protocol.SubmitItemRequest{InstanceID: "ghost", AuthorID: "alice", Type: protocol.ItemTypeItem})
	require.ErrorIs(t, err, protocol.ErrInstanceNotFound)
}

func TestService_Delete(t *testing.T) {
	f := newFixture(t, "alice")
	ctx := context.Background()
	inst := f.start(t)

	f.repo.On("Delete", ctx, inst.ID).Return(3, nil).Once()
	res, err := f.svc.Delete(ctx, inst.ID)
	require.NoError(t, err)
	require.Equal(t, 3, res.Retracted)
	require.Equal(t, "m1", res.Instance.MeetingID)

	f.repo.On("Get", ctx, inst.ID).Return(nil, repository.ErrNotFound)
	_, err = f.svc.Get(ctx, inst.ID)
	require.ErrorIs(t, err, protocol.ErrInstanceNotFound)
	_, err = f.svc.Advance(ctx, inst.ID)
	require.ErrorIs(t, err, protocol.ErrInstanceNotFound)
}

func TestService_LoadsFromRepository(t *testing.T) {
	f := newFixture(t, "alice")
	ctx := context.Background()

	stored := &protocol.Instance{
		ID:           "p1",
		MeetingID:    "m1",
		Type:         threePhase,
		CurrentPhase: 2,
		ReadyFlag:    true,
	}
	f.repo.On("Get", ctx, "p1").Return(stored, nil).Once()

	got, err := f.svc.Get(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, 2, got.CurrentPhase)
	require.NotNil(t, got.Items)

	// Cached after the first load.
	_, err = f.svc.Get(ctx, "p1")
	require.NoError(t, err)
	f.repo.AssertNumberOfCalls(t, "Get", 1)

	require.Equal(t, 1, f.svc.Evict("m1"))
	f.repo.On("Get", ctx, "p1").Return(stored, nil).Once()
	_, err = f.svc.Get(ctx, "p1")
	require.NoError(t, err)
	f.repo.AssertNumberOfCalls(t, "Get", 2)
}

func TestService_SignalRevisionSurvivesReload(t *testing.T) {
	catalog, err := protocol.NewCatalog(threePhase)
	require.NoError(t, err)
	ctx := context.Background()

	var saved *protocol.Instance
	keep := func(args mock.Arguments) { saved = args.Get(1).(*protocol.Instance).Clone() }
	repo := &mocks.ProtocolRepository{}
	repo.On("Create", ctx, mock.Anything).Run(keep).Return(nil)
	repo.On("Update", ctx, mock.Anything).Run(keep).Return(nil)
	svc := protocol.NewService(repo, catalog, mocks.ParticipantSource{"m1": {"alice"}}, &mocks.Projector{}, nil)

	inst, err := svc.Start(ctx, protocol.StartRequest{MeetingID: "m1", TypeName: "retro"})
	require.NoError(t, err)

	var last *protocol.Instance
	for _, typing := range []bool{true, false, true, false, true, false} {
		last, err = svc.SetTyping(ctx, protocol.SignalRequest{InstanceID: inst.ID, UserID: "alice", Value: typing})
		require.NoError(t, err)
	}
	require.Equal(t, inst.Revision+6, last.Revision)
	require.Equal(t, last.Revision, saved.Revision)

	require.Equal(t, 1, svc.Evict("m1"))
	stored := saved.Clone()
	stored.Signals = nil
	repo.On("Get", ctx, inst.ID).Return(stored, nil).Once()

	reloaded, err := svc.Get(ctx, inst.ID)
	require.NoError(t, err)
	require.Equal(t, last.Revision, reloaded.Revision)
	require.Empty(t, reloaded.Signals)

	next, err := svc.SetTyping(ctx, protocol.SignalRequest{InstanceID: inst.ID, UserID: "alice", Value: true})
	require.NoError(t, err)
	require.Greater(t, next.Revision, last.Revision)
}

func TestService_SignalSaveFailureKeepsState(t *testing.T) {
	catalog, err := protocol.NewCatalog(threePhase)
	require.NoError(t, err)
	ctx := context.Background()

	repo := &mocks.ProtocolRepository{}
	repo.On("Create", ctx, mock.Anything).Return(nil)
	repo.On("Update", ctx, mock.Anything).Return(errors.New("disk full"))
	svc := protocol.NewService(repo, catalog, mocks.ParticipantSource{"m1": {"alice"}}, &mocks.Projector{}, nil)

	inst, err := svc.Start(ctx, protocol.StartRequest{MeetingID: "m1", TypeName: "retro"})
	require.NoError(t, err)

	_, err = svc.SetTyping(ctx, protocol.SignalRequest{InstanceID: inst.ID, UserID: "alice", Value: true})
	require.Error(t, err)

	got, err := svc.Get(ctx, inst.ID)
	require.NoError(t, err)
	require.Equal(t, inst.Revision, got.Revision)
	require.False(t, got.Signals["alice"].Typing)
}

func TestService_LoadRejectsOutOfRangePhase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.repo.On("Get", ctx, "bad").Return(&protocol.Instance{ID: "bad", MeetingID: "m1", Type: threePhase, CurrentPhase: 3}, nil)

	_, err := f.svc.Get(ctx, "bad")
	require.ErrorIs(t, err, protocol.ErrInvalidPhaseIndex)
}

func TestService_ListByMeeting(t *testing.T) {
	f := newFixture(t, "alice")
	ctx := context.Background()
	a := f.start(t)
	b := f.start(t)

	f.repo.On("ListIDsByMeeting", ctx, "m1").Return([]string{a.ID, b.ID}, nil)
	list, err := f.svc.ListByMeeting(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, a.ID, list[0].ID)
	require.Equal(t, b.ID, list[1].ID)
}

func TestService_ConcurrentAdvanceIsSerialized(t *testing.T) {
	f := newFixture(t, "alice", "bob")
	ctx := context.Background()
	inst := f.start(t)
	f.complete(t, inst.ID, "alice")
	f.complete(t, inst.ID, "bob")

	var ok, notReady atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Advance(ctx, inst.ID)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, protocol.ErrNotReady):
				notReady.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), ok.Load())
	require.Equal(t, int32(7), notReady.Load())
	got, err := f.svc.Get(ctx, inst.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.CurrentPhase)
}

func TestService_ConcurrentSubmissions(t *testing.T) {
	f := newFixture(t, "alice")
	ctx := context.Background()
	inst := f.start(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := f.svc.SubmitItem(ctx, protocol.SubmitItemRequest{InstanceID: inst.ID, AuthorID: "alice", Type: protocol.ItemTypeItem, Text: "x"})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := f.svc.Get(ctx, inst.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 20)
	require.Equal(t, inst.Revision+20, got.Revision)
}
