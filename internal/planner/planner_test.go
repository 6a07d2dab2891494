package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackcoderx/falcon-runner/internal/rsuite"
)

func suite(id string, priority rsuite.Priority, deps ...string) *rsuite.Suite {
	s := &rsuite.Suite{NodeID: id, Priority: priority}
	for _, d := range deps {
		s.Depends = append(s.Depends, rsuite.DependencyEdge{NodeID: d, Required: true})
	}
	return s
}

func TestWavesRespectDependencies(t *testing.T) {
	suites := []*rsuite.Suite{
		suite("auth", rsuite.PriorityMedium),
		suite("users", rsuite.PriorityMedium, "auth"),
		suite("orders", rsuite.PriorityMedium, "auth", "users"),
	}
	g, err := Build(suites, nil)
	require.NoError(t, err)

	waves := g.Waves()
	require.Len(t, waves, 3)
	assert.Equal(t, "auth", waves[0][0].NodeID)
	assert.Equal(t, "users", waves[1][0].NodeID)
	assert.Equal(t, "orders", waves[2][0].NodeID)
}

func TestWavesGroupIndependentSuitesTogether(t *testing.T) {
	suites := []*rsuite.Suite{
		suite("a", rsuite.PriorityMedium),
		suite("b", rsuite.PriorityMedium),
		suite("c", rsuite.PriorityMedium, "a", "b"),
	}
	g, err := Build(suites, nil)
	require.NoError(t, err)

	waves := g.Waves()
	require.Len(t, waves, 2)
	assert.Len(t, waves[0], 2)
	assert.Len(t, waves[1], 1)
}

func TestWavesPriorityTiebreak(t *testing.T) {
	suites := []*rsuite.Suite{
		suite("low", rsuite.PriorityLow),
		suite("critical", rsuite.PriorityCritical),
		suite("medium", rsuite.PriorityMedium),
	}
	g, err := Build(suites, nil)
	require.NoError(t, err)

	waves := g.Waves()
	require.Len(t, waves, 1)
	require.Len(t, waves[0], 3)
	assert.Equal(t, "critical", waves[0][0].NodeID)
	assert.Equal(t, "medium", waves[0][1].NodeID)
	assert.Equal(t, "low", waves[0][2].NodeID)
}

func TestBuildDetectsCycle(t *testing.T) {
	suites := []*rsuite.Suite{
		suite("a", rsuite.PriorityMedium, "b"),
		suite("b", rsuite.PriorityMedium, "a"),
	}
	_, err := Build(suites, nil)
	assert.Error(t, err)
}

func TestBuildFailsOnUnresolvedRequiredDependency(t *testing.T) {
	suites := []*rsuite.Suite{
		suite("a", rsuite.PriorityMedium, "missing"),
	}
	_, err := Build(suites, nil)
	assert.Error(t, err)
}

func TestBuildPreservesEdgeMetadata(t *testing.T) {
	s := &rsuite.Suite{NodeID: "a", Depends: []rsuite.DependencyEdge{
		{NodeID: "b", Required: false, Guard: "status==`200`", Cache: true},
	}}
	b := &rsuite.Suite{NodeID: "b"}
	g, err := Build([]*rsuite.Suite{s, b}, nil)
	require.NoError(t, err)

	edges := g.DependencyEdges("a")
	require.Len(t, edges, 1)
	assert.Equal(t, "b", edges[0].NodeID)
	assert.False(t, edges[0].Required)
	assert.Equal(t, "status==`200`", edges[0].Guard)
	assert.True(t, edges[0].Cache)
}

func TestRenderDiagramRendersWithoutError(t *testing.T) {
	suites := []*rsuite.Suite{
		suite("auth", rsuite.PriorityCritical),
		suite("users", rsuite.PriorityLow, "auth"),
	}
	g, err := Build(suites, nil)
	require.NoError(t, err)

	png, err := g.RenderDiagram()
	require.NoError(t, err)
	assert.NotEmpty(t, png)
}

func TestBuildDropsUnresolvedOptionalDependency(t *testing.T) {
	s := &rsuite.Suite{NodeID: "a", Depends: []rsuite.DependencyEdge{{NodeID: "missing", Required: false}}}
	g, err := Build([]*rsuite.Suite{s}, nil)
	require.NoError(t, err)
	waves := g.Waves()
	require.Len(t, waves, 1)
	assert.Len(t, waves[0], 1)
}
