package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSnapshot = `{
  "Red": {
    "action_info": "ExploitRemoteService User1",
    "nodes": [
      {"id": "User0", "status": "Privileged", "type": "host", "position": {"x": 1, "y": 2}},
      {"id": "User1", "status": "User"},
      {"id": "Enterprise0", "status": "None"}
    ],
    "links": [{"source": "User0", "target": "User1"}]
  },
  "Blue": {
    "action_info": {"action": "Remove", "host": "User1", "success": true},
    "nodes": [{"id": "User1"}],
    "edges": [{"source": "User1", "target": "Enterprise0"}]
  }
}`

func TestDecodeSnapshot(t *testing.T) {
	snap, err := Decode([]byte(sampleSnapshot), nil)
	require.NoError(t, err)

	assert.Equal(t, "ExploitRemoteService User1", snap.Red.ActionSummary())
	assert.Equal(t, `{"action":"Remove","host":"User1","success":true}`, snap.Blue.ActionSummary())
	require.Len(t, snap.Red.Nodes, 3)
	require.NotNil(t, snap.Red.Nodes[0].Position)
	assert.Equal(t, 2.0, snap.Red.Nodes[0].Position.Y)
	assert.Equal(t, []Edge{{Source: "User0", Target: "User1"}}, snap.Red.Edges)
	assert.Equal(t, []Edge{{Source: "User1", Target: "Enterprise0"}}, snap.Blue.Edges, "edges key accepted")
	assert.Equal(t, 2, snap.Red.CompromisedCount())
	assert.Equal(t, map[string]int{"Privileged": 1, "User": 1, "None": 1}, snap.Red.StatusCounts())
	assert.Equal(t, []byte(sampleSnapshot), snap.Raw)
}

func TestDecodeRequiresBothSides(t *testing.T) {
	_, err := Decode([]byte(`{"Red": {"action_info": "x"}}`), nil)
	require.ErrorIs(t, err, ErrMissingSide)

	_, err = Decode([]byte(`{"Red": {}, "Blue": null}`), nil)
	require.ErrorIs(t, err, ErrMissingSide)

	_, err = Decode([]byte(`not json`), nil)
	require.Error(t, err)
}

func TestActionSummaryEmpty(t *testing.T) {
	assert.Equal(t, "", Side{}.ActionSummary())
	assert.Equal(t, "", Side{ActionInfo: []byte("null")}.ActionSummary())
}

func TestViewReplaceAndClear(t *testing.T) {
	v := NewView()
	assert.Nil(t, v.Current())
	_, _, ok := v.ActionSummaries()
	assert.False(t, ok)

	snap, err := Decode([]byte(sampleSnapshot), nil)
	require.NoError(t, err)
	v.Replace(snap)

	red, blue, ok := v.ActionSummaries()
	require.True(t, ok)
	assert.Equal(t, "ExploitRemoteService User1", red)
	assert.Contains(t, blue, "Remove")

	nodes := v.Nodes(SideRed)
	require.Len(t, nodes, 3)
	nodes[0].ID = "mutated"
	assert.Equal(t, "User0", v.Current().Red.Nodes[0].ID, "Nodes returns a copy")
	assert.Len(t, v.Edges(SideBlue), 1)
	assert.Nil(t, v.Nodes("Green"))

	v.Clear()
	assert.Nil(t, v.Current())
	assert.Nil(t, v.Edges(SideRed))
}
