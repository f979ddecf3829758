package mapping

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flyingrobots/protocol-bridge/internal/config"
	"github.com/flyingrobots/protocol-bridge/internal/message"
)

func TestResolveExactMatch(t *testing.T) {
	r, err := Load([]config.MappingEntry{{
		ID: "m1", SourceSide: "pubsub", SourceAddress: "sensors/line1/temp",
		DestinationSide: "variable", DestinationAddress: "ns=2;s=Line1.Temp",
		DataType: "Float", Direction: "A->B", Priority: "normal",
	}})
	require.NoError(t, err)

	matches := r.Resolve(message.SidePubSub, "sensors/line1/temp")
	require.Len(t, matches, 1)
	require.Equal(t, "m1", matches[0].ID)

	require.Empty(t, r.Resolve(message.SidePubSub, "sensors/line2/temp"))
}

func TestResolveWildcardMatch(t *testing.T) {
	r, err := Load([]config.MappingEntry{{
		ID: "m1", SourceSide: "pubsub", SourceAddress: "sensors/*/temp",
		DestinationSide: "variable", DestinationAddress: "ns=2;s=Generic.Temp",
		DataType: "Float", Direction: "A->B", Priority: "normal",
	}})
	require.NoError(t, err)

	require.Len(t, r.Resolve(message.SidePubSub, "sensors/line9/temp"), 1)
	require.Empty(t, r.Resolve(message.SidePubSub, "sensors/line9/deep/temp"))
}

func TestResolveRespectsDirection(t *testing.T) {
	r, err := Load([]config.MappingEntry{{
		ID: "m1", SourceSide: "pubsub", SourceAddress: "a/b",
		DestinationSide: "variable", DestinationAddress: "n1",
		DataType: "Float", Direction: "B->A", Priority: "normal",
	}})
	require.NoError(t, err)

	require.Empty(t, r.Resolve(message.SidePubSub, "a/b"), "B->A mapping must not forward A-side traffic")
	require.Len(t, r.ResolveReverse(message.SideVariable, "n1"), 1)
}

func TestByIDAndAll(t *testing.T) {
	r, err := Load([]config.MappingEntry{
		{ID: "m1", SourceSide: "pubsub", SourceAddress: "a", DestinationSide: "variable", DestinationAddress: "n1", DataType: "Float", Direction: "A->B", Priority: "normal"},
		{ID: "m2", SourceSide: "pubsub", SourceAddress: "b", DestinationSide: "enterprise", DestinationAddress: "/r", DataType: "String", Direction: "A->B", Priority: "low"},
	})
	require.NoError(t, err)

	e, ok := r.ByID("m2")
	require.True(t, ok)
	require.Equal(t, message.SideEnterprise, e.DestinationSide)

	_, ok = r.ByID("missing")
	require.False(t, ok)

	require.Len(t, r.All(), 2)
}
