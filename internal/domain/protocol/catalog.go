package protocol

import (
	"cmp"
	"fmt"
	"slices"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Catalog holds the protocol types facilitators can start.
type Catalog struct {
	mu    sync.RWMutex
	types map[string]ProtocolType
}

// NewCatalog validates and registers the given types.
func NewCatalog(types ...ProtocolType) (*Catalog, error) {
	c := &Catalog{types: make(map[string]ProtocolType, len(types))}
	for _, t := range types {
		if err := c.Register(t); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Register adds or replaces a protocol type.
func (c *Catalog) Register(t ProtocolType) error {
	if err := validate.Struct(t); err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidType, t.Name, err)
	}
	t.Phases = slices.Clone(t.Phases)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.types[t.Name] = t
	return nil
}

// Lookup returns the protocol type registered under name.
func (c *Catalog) Lookup(name string) (ProtocolType, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.types[name]
	if !ok {
		return ProtocolType{}, fmt.Errorf("%w: %s", ErrUnknownType, name)
	}
	t.Phases = slices.Clone(t.Phases)
	return t, nil
}

// List returns every registered type sorted by name.
func (c *Catalog) List() []ProtocolType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	types := lo.Values(c.types)
	slices.SortFunc(types, func(a, b ProtocolType) int { return cmp.Compare(a.Name, b.Name) })
	return types
}

// DefaultTypes is the built-in catalog used when configuration provides none.
func DefaultTypes() []ProtocolType {
	return []ProtocolType{
		{
			Name:        "brainstorm",
			Description: "Collect ideas individually, cluster them, then discuss.",
			Phases: []PhaseDefinition{
				{Kind: KindSolo, ActivityLabel: "Writing ideas"},
				{Kind: KindCollective, ActivityLabel: "Grouping ideas"},
				{Kind: KindCollective, ActivityLabel: "Discussing"},
			},
		},
		{
			Name:        "action-items",
			Description: "Everyone writes follow-ups, then the group reviews them.",
			Phases: []PhaseDefinition{
				{Kind: KindSolo, ActivityLabel: "Writing action items"},
				{Kind: KindCollective, ActivityLabel: "Reviewing action items"},
			},
		},
		{
			Name:        "decision",
			Description: "Frame the question, weigh options alone, decide together.",
			Phases: []PhaseDefinition{
				{Kind: KindCollective, ActivityLabel: "Framing the decision"},
				{Kind: KindSolo, ActivityLabel: "Weighing options"},
				{Kind: KindCollective, ActivityLabel: "Deciding"},
			},
		},
		{
			Name: "check-in",
			Phases: []PhaseDefinition{
				{Kind: KindSolo, ActivityLabel: "Checking in"},
				{Kind: KindCollective, ActivityLabel: "Sharing"},
			},
		},
	}
}
