package protocol

import (
	"maps"
	"slices"
	"time"

	"github.com/ganot/meetsync/internal/domain/activity"
)

// PhaseKind tells whether a phase has one shared state or one state per participant.
type PhaseKind string

const (
	KindCollective PhaseKind = "collective"
	KindSolo       PhaseKind = "solo"
)

// PhaseDefinition describes one step of a protocol type.
type PhaseDefinition struct {
	Kind          PhaseKind `json:"kind" yaml:"kind" validate:"required,oneof=collective solo"`
	ActivityLabel string    `json:"activity_label" yaml:"activity_label" validate:"required"`
}

// ProtocolType is an immutable, named sequence of phases.
type ProtocolType struct {
	Name        string            `json:"name" yaml:"name" validate:"required"`
	Description string            `json:"description,omitempty" yaml:"description"`
	Phases      []PhaseDefinition `json:"phases" yaml:"phases" validate:"required,min=1,dive"`
}

// ItemType distinguishes containers from content.
type ItemType string

const (
	ItemTypeGroup ItemType = "Group"
	ItemTypeItem  ItemType = "Item"
)

// Mark is the summary classification attached to an item, either by its
// author or by a summarization strategy.
type Mark string

const (
	MarkNone     Mark = "None"
	MarkDecision Mark = "Decision"
	MarkPin      Mark = "Pin"
	MarkTask     Mark = "Task"
)

// Valid reports whether m is a known mark. The empty mark is valid and means None.
func (m Mark) Valid() bool {
	switch m {
	case "", MarkNone, MarkDecision, MarkPin, MarkTask:
		return true
	}
	return false
}

// Item is one piece of content produced inside a protocol instance.
type Item struct {
	ID         string    `json:"id"`
	InstanceID string    `json:"instance_id"`
	Type       ItemType  `json:"type"`
	ParentID   *string   `json:"parent_id,omitempty"`
	AuthorID   string    `json:"author_id"`
	Text       string    `json:"text"`
	Mark       Mark      `json:"mark,omitempty"`
	Phase      int       `json:"phase"`
	CreatedAt  time.Time `json:"created_at"`
}

// Instance is one running occurrence of a protocol type within a meeting.
type Instance struct {
	ID           string       `json:"id"`
	MeetingID    string       `json:"meeting_id"`
	Type         ProtocolType `json:"type"`
	CurrentPhase int          `json:"current_phase_index"`
	Completed    bool         `json:"is_completed"`
	// ReadyFlag is the facilitator's mark on the current collective phase.
	ReadyFlag bool   `json:"ready_flag"`
	Items     []Item `json:"items"`
	// Signals are the ephemeral per-user signals of the current phase; never persisted.
	Signals   map[string]activity.Signal `json:"-"`
	Revision  int64                      `json:"revision"`
	CreatedBy string                     `json:"created_by"`
	CreatedAt time.Time                  `json:"created_at"`
	UpdatedAt time.Time                  `json:"updated_at"`
}

// Phase returns the definition of the current phase.
func (i *Instance) Phase() PhaseDefinition {
	return i.Type.Phases[i.CurrentPhase]
}

// IsLastPhase reports whether the current phase is the final one.
func (i *Instance) IsLastPhase() bool {
	return i.CurrentPhase == len(i.Type.Phases)-1
}

// FindItem returns the item with the given id.
func (i *Instance) FindItem(id string) (Item, bool) {
	idx := slices.IndexFunc(i.Items, func(it Item) bool { return it.ID == id })
	if idx < 0 {
		return Item{}, false
	}
	return i.Items[idx], true
}

// Snapshot builds the aggregator input for the current phase.
func (i *Instance) Snapshot(participants []string) activity.Snapshot {
	return activity.Snapshot{
		Solo:         i.Phase().Kind == KindSolo,
		ReadyFlag:    i.ReadyFlag,
		Signals:      maps.Clone(i.Signals),
		Participants: participants,
	}
}

// Clone returns a deep copy safe to hand out of the controller.
func (i *Instance) Clone() *Instance {
	c := *i
	c.Type.Phases = slices.Clone(i.Type.Phases)
	c.Items = make([]Item, len(i.Items))
	for idx, it := range i.Items {
		if it.ParentID != nil {
			p := *it.ParentID
			it.ParentID = &p
		}
		c.Items[idx] = it
	}
	c.Signals = maps.Clone(i.Signals)
	if c.Signals == nil {
		c.Signals = map[string]activity.Signal{}
	}
	return &c
}
