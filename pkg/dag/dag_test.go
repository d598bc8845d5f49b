package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopoSimpleChain(t *testing.T) {
	g := New[string]()
	g.AddEdge("a", "b")
	g.AddEdge("b", "c")

	order, err := g.Topo()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestTopoDetectsCycle(t *testing.T) {
	g := New[string]()
	g.AddEdge("a", "b")
	g.AddEdge("b", "a")

	_, err := g.Topo()
	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrCycle{})
}

func TestTopoIsolatedNodes(t *testing.T) {
	g := New[string]()
	g.AddNode("x")
	g.AddNode("y")

	order, err := g.Topo()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"x", "y"}, order)
}

func TestSCCFindsCycle(t *testing.T) {
	g := New[string]()
	g.AddEdge("a", "b")
	g.AddEdge("b", "c")
	g.AddEdge("c", "a")
	g.AddEdge("c", "d")

	comps := g.SCC()
	require.Len(t, comps, 2)

	var cycleComp, isolatedComp []string
	for _, c := range comps {
		if len(c) == 3 {
			cycleComp = c
		} else {
			isolatedComp = c
		}
	}
	assert.ElementsMatch(t, []string{"a", "b", "c"}, cycleComp)
	assert.Equal(t, []string{"d"}, isolatedComp)
}

func TestSCCAcyclicGraphHasSingletonComponents(t *testing.T) {
	g := New[string]()
	g.AddEdge("a", "b")
	g.AddEdge("b", "c")

	comps := g.SCC()
	assert.Len(t, comps, 3)
	for _, c := range comps {
		assert.Len(t, c, 1)
	}
}

func TestTranspose(t *testing.T) {
	g := New[string]()
	g.AddEdge("a", "b")

	tr := g.Transpose()
	assert.Equal(t, []string{"a"}, tr.Edges("b"))
	assert.Empty(t, tr.Edges("a"))
}

func TestRemoveNodeDropsEdges(t *testing.T) {
	g := New[string]()
	g.AddEdge("a", "b")
	g.AddEdge("b", "c")

	g.RemoveNode("b")

	assert.False(t, g.HasNode("b"))
	assert.Equal(t, 2, g.Len())
	assert.Empty(t, g.Edges("a"))
}

func TestHasNode(t *testing.T) {
	g := New[string]()
	g.AddNode("x")
	assert.True(t, g.HasNode("x"))
	assert.False(t, g.HasNode("y"))
}

func TestSubgraphKeepsOnlySelectedEdges(t *testing.T) {
	g := New[string]()
	g.AddEdge("a", "b")
	g.AddEdge("b", "c")

	sub := g.Subgraph(map[string]struct{}{"a": {}, "b": {}})
	assert.Equal(t, 2, sub.Len())
	assert.Equal(t, []string{"b"}, sub.Edges("a"))
}
