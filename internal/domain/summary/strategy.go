package summary

import (
	"strings"
	"sync"

	"github.com/ganot/meetsync/internal/domain/protocol"
	"github.com/samber/lo"
)

// DefaultStrategy is the name of the fallback strategy.
const DefaultStrategy = "default"

// Strategy filters and annotates the items of a completed protocol. It must be
// deterministic and must not mutate its input.
type Strategy interface {
	Summarize(items []protocol.Item) []protocol.Item
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(items []protocol.Item) []protocol.Item

// Summarize calls f.
func (f StrategyFunc) Summarize(items []protocol.Item) []protocol.Item {
	return f(items)
}

// Strategies maps protocol type names to strategies.
type Strategies struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewStrategies returns a registry holding the built-in strategies.
func NewStrategies() *Strategies {
	s := &Strategies{strategies: map[string]Strategy{}}
	s.Register(DefaultStrategy, StrategyFunc(passThrough))
	s.Register("brainstorm", StrategyFunc(brainstorm))
	s.Register("action-items", StrategyFunc(actionItems))
	s.Register("decision", StrategyFunc(decision))
	return s
}

// Register binds a strategy to a protocol type name, replacing any previous one.
func (s *Strategies) Register(typeName string, strategy Strategy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strategies[typeName] = strategy
}

// Lookup returns the strategy for typeName, or the default strategy.
func (s *Strategies) Lookup(typeName string) Strategy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.strategies[typeName]; ok {
		return st
	}
	return s.strategies[DefaultStrategy]
}

// ChildCounts counts the Items beneath each Group, keyed by group id.
func ChildCounts(items []protocol.Item) map[string]int {
	groups := lo.FilterMap(items, func(it protocol.Item, _ int) (string, bool) {
		return it.ID, it.Type == protocol.ItemTypeGroup
	})
	counts := make(map[string]int, len(groups))
	for _, id := range groups {
		counts[id] = 0
	}
	for _, it := range items {
		if it.Type != protocol.ItemTypeItem || it.ParentID == nil {
			continue
		}
		if _, ok := counts[*it.ParentID]; ok {
			counts[*it.ParentID]++
		}
	}
	return counts
}

// passThrough keeps every item and its author's mark. Unmarked groups are pinned.
func passThrough(items []protocol.Item) []protocol.Item {
	return lo.Map(items, func(it protocol.Item, _ int) protocol.Item {
		if it.Type == protocol.ItemTypeGroup && unmarked(it) {
			it.Mark = protocol.MarkPin
		}
		return it
	})
}

// brainstorm keeps groups that gathered ideas, pinning them, and drops
// blank ideas that belong to no group.
func brainstorm(items []protocol.Item) []protocol.Item {
	counts := ChildCounts(items)
	return lo.FilterMap(items, func(it protocol.Item, _ int) (protocol.Item, bool) {
		if it.Type == protocol.ItemTypeGroup {
			if counts[it.ID] == 0 {
				return it, false
			}
			if unmarked(it) {
				it.Mark = protocol.MarkPin
			}
			return it, true
		}
		return it, it.ParentID != nil || strings.TrimSpace(it.Text) != ""
	})
}

func unmarked(it protocol.Item) bool {
	return it.Mark == "" || it.Mark == protocol.MarkNone
}

// actionItems turns every item into a task and drops the groups.
func actionItems(items []protocol.Item) []protocol.Item {
	return lo.FilterMap(items, func(it protocol.Item, _ int) (protocol.Item, bool) {
		if it.Type == protocol.ItemTypeGroup {
			return it, false
		}
		it.Mark = protocol.MarkTask
		return it, true
	})
}

// decision records every non-empty group as a decision with its options beneath.
func decision(items []protocol.Item) []protocol.Item {
	counts := ChildCounts(items)
	return lo.FilterMap(items, func(it protocol.Item, _ int) (protocol.Item, bool) {
		if it.Type == protocol.ItemTypeGroup {
			if counts[it.ID] == 0 {
				return it, false
			}
			it.Mark = protocol.MarkDecision
		}
		return it, true
	})
}
