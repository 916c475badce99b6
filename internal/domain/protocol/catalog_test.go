package protocol_test

import (
	"testing"

	"github.com/ganot/meetsync/internal/domain/protocol"
	"github.com/stretchr/testify/require"
)

func TestCatalog_DefaultTypesAreValid(t *testing.T) {
	c, err := protocol.NewCatalog(protocol.DefaultTypes()...)
	require.NoError(t, err)

	names := []string{}
	for _, typ := range c.List() {
		names = append(names, typ.Name)
	}
	require.Equal(t, []string{"action-items", "brainstorm", "check-in", "decision"}, names)
}

func TestCatalog_RejectsInvalidTypes(t *testing.T) {
	cases := map[string]protocol.ProtocolType{
		"no name":   {Phases: []protocol.PhaseDefinition{{Kind: protocol.KindSolo, ActivityLabel: "x"}}},
		"no phases": {Name: "empty"},
		"bad kind":  {Name: "bad", Phases: []protocol.PhaseDefinition{{Kind: "parallel", ActivityLabel: "x"}}},
		"no label":  {Name: "unlabeled", Phases: []protocol.PhaseDefinition{{Kind: protocol.KindSolo}}},
	}
	for name, typ := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := protocol.NewCatalog(typ)
			require.ErrorIs(t, err, protocol.ErrInvalidType)
		})
	}
}

func TestCatalog_LookupReturnsCopy(t *testing.T) {
	c, err := protocol.NewCatalog(threePhase)
	require.NoError(t, err)

	typ, err := c.Lookup("retro")
	require.NoError(t, err)
	typ.Phases[0].ActivityLabel = "changed"

	again, err := c.Lookup("retro")
	require.NoError(t, err)
	require.Equal(t, "Writing", again.Phases[0].ActivityLabel)

	_, err = c.Lookup("missing")
	require.ErrorIs(t, err, protocol.ErrUnknownType)
}
