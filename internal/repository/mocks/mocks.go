package mocks

import (
	"context"

	"github.com/ganot/meetsync/internal/domain/history"
	"github.com/ganot/meetsync/internal/domain/protocol"
	"github.com/ganot/meetsync/internal/domain/summary"
	"github.com/stretchr/testify/mock"
)

// ProtocolRepository is a mock for protocol.Repository.
type ProtocolRepository struct {
	mock.Mock
}

func (m *ProtocolRepository) Create(ctx context.Context, inst *protocol.Instance) error {
	args := m.Called(ctx, inst)
	return args.Error(0)
}

func (m *ProtocolRepository) Get(ctx context.Context, id string) (*protocol.Instance, error) {
	args := m.Called(ctx, id)
	if inst, ok := args.Get(0).(*protocol.Instance); ok {
		return inst, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *ProtocolRepository) ListIDsByMeeting(ctx context.Context, meetingID string) ([]string, error) {
	args := m.Called(ctx, meetingID)
	if ids, ok := args.Get(0).([]string); ok {
		return ids, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *ProtocolRepository) Update(ctx context.Context, inst *protocol.Instance) error {
	args := m.Called(ctx, inst)
	return args.Error(0)
}

func (m *ProtocolRepository) AddItem(ctx context.Context, item *protocol.Item) error {
	args := m.Called(ctx, item)
	return args.Error(0)
}

func (m *ProtocolRepository) Delete(ctx context.Context, id string) (int, error) {
	args := m.Called(ctx, id)
	return args.Int(0), args.Error(1)
}

// Projector is a mock for protocol.Projector.
type Projector struct {
	mock.Mock
}

func (m *Projector) Project(ctx context.Context, inst *protocol.Instance) (int, error) {
	args := m.Called(ctx, inst)
	return args.Int(0), args.Error(1)
}

func (m *Projector) Retract(ctx context.Context, instanceID string) (int, error) {
	args := m.Called(ctx, instanceID)
	return args.Int(0), args.Error(1)
}

// SummaryRepository is a mock for summary.Repository.
type SummaryRepository struct {
	mock.Mock
}

func (m *SummaryRepository) Append(ctx context.Context, items []summary.Item) error {
	args := m.Called(ctx, items)
	return args.Error(0)
}

func (m *SummaryRepository) ListByMeeting(ctx context.Context, meetingID string) ([]summary.Item, error) {
	args := m.Called(ctx, meetingID)
	if items, ok := args.Get(0).([]summary.Item); ok {
		return items, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *SummaryRepository) DeleteByProtocol(ctx context.Context, protocolID string) (int, error) {
	args := m.Called(ctx, protocolID)
	return args.Int(0), args.Error(1)
}

// HistoryRepository is a mock for history.Repository.
type HistoryRepository struct {
	mock.Mock
}

func (m *HistoryRepository) Log(ctx context.Context, entry *history.Entry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *HistoryRepository) List(ctx context.Context, opts history.ListOptions) ([]history.Entry, error) {
	args := m.Called(ctx, opts)
	if entries, ok := args.Get(0).([]history.Entry); ok {
		return entries, args.Error(1)
	}
	return nil, args.Error(1)
}

// ParticipantSource is a fixed participant list keyed by meeting.
type ParticipantSource map[string][]string

func (p ParticipantSource) Participants(meetingID string) []string {
	return p[meetingID]
}
