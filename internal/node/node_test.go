package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBase_Params(t *testing.T) {
	b := NewBase("n1", map[string]any{"symbol": "BTCUSDT"}, Context{GraphID: "g1", NodeID: "n1"})

	assert.Equal(t, "n1", b.ID())
	assert.Equal(t, "BTCUSDT", b.Params()["symbol"])
	assert.Equal(t, "g1", b.GraphContext().GraphID)

	// Nil params normalize to an empty map.
	empty := NewBase("n2", nil, Context{})
	assert.NotNil(t, empty.Params())
}

func TestBase_ValidateInputs_Passthrough(t *testing.T) {
	b := NewBase("n1", nil, Context{})
	in := Values{"x": 1}
	out, err := b.ValidateInputs(in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestBase_Progress(t *testing.T) {
	b := NewBase("n1", nil, Context{})

	// No sink installed — must not panic.
	b.Progress(10, "warming up")

	var gotID string
	var gotPct float64
	var gotText string
	b.SetProgressFunc(func(nodeID string, percent float64, text string) {
		gotID, gotPct, gotText = nodeID, percent, text
	})

	b.Progress(42.5, "fetching page 2")
	assert.Equal(t, "n1", gotID)
	assert.Equal(t, 42.5, gotPct)
	assert.Equal(t, "fetching page 2", gotText)

	// Nil disables reporting again.
	b.SetProgressFunc(nil)
	b.Progress(99, "ignored")
	assert.Equal(t, 42.5, gotPct)
}

func TestBase_Stop(t *testing.T) {
	b := NewBase("n1", nil, Context{})
	assert.False(t, b.Stopped())
	b.Stop()
	assert.True(t, b.Stopped())
}
