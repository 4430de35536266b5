package flow

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const creditDOT = `digraph credit {
  rankdir=LR
  start    [type=start, policy="adult", input="{\"age\": 20}"]
  "score-check" [type=policy, policy="good_score", label="Good score"];
  approved [type=return, value=true]
  manual   [type=custom, outcome="manual review"]
  rejected [type=return, value=false]
  start -> "score-check" [label=true]
  start -> rejected [label=false]
  "score-check" -> approved [label=true];
  "score-check" -> manual [label="false"]
}`

func TestParseDOT(t *testing.T) {
	g, err := ParseDOT(creditDOT)
	require.NoError(t, err)

	require.Equal(t, 5, g.Len())

	start, ok := g.Start()
	require.True(t, ok)
	sd := start.Data.(StartData)
	assert.Equal(t, "adult", sd.Policy.ID)
	assert.Equal(t, Payload(`{"age": 20}`), sd.Input)

	score, ok := g.Node("score-check")
	require.True(t, ok)
	ref, _ := score.Policy()
	assert.Equal(t, PolicyRef{ID: "good_score", Name: "Good score"}, ref)

	rejected, _ := g.Node("rejected")
	out, _ := rejected.Outcome()
	assert.True(t, out.Equal(BoolOutcome(false)))

	e, ok := g.Branch("score-check", LabelFalse)
	require.True(t, ok)
	assert.Equal(t, "manual", e.Target)
	assert.Len(t, g.Edges(), 4)
}

func TestParseDOT_Errors(t *testing.T) {
	_, err := ParseDOT(`digraph { start -> ghost [label=true] ; start [type=start] }`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `node "ghost" is referenced by an edge but never declared`)

	_, err = ParseDOT(`digraph { weird [type=loop] }`)
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = ParseDOT(`digraph {`)
	assert.Error(t, err)

	_, err = ParseDOT(`graph { start [policy="p"]; start -- done; done [type=return, value=true] }`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "digraph")
}

func TestParseDOT_EdgeChains(t *testing.T) {
	g, err := ParseDOT(`digraph { start [policy="p"]; start -> a -> b [label=true]; a [type=policy, policy="q"]; b [type=return, value=true] }`)
	require.NoError(t, err)

	edges := g.Edges()
	require.Len(t, edges, 2)
	assert.Equal(t, [2]string{"start", "a"}, [2]string{edges[0].Source, edges[0].Target})
	assert.Equal(t, [2]string{"a", "b"}, [2]string{edges[1].Source, edges[1].Target})
	assert.Equal(t, LabelTrue, edges[0].Label)
	assert.Equal(t, LabelTrue, edges[1].Label)
}

func TestParseDOT_PortsSubgraphsAndDefaults(t *testing.T) {
	g, err := ParseDOT(`digraph flow {
  rankdir=LR
  start
    [policy="p1"]
  node [type=return]
  start:s -> gate:n [label=true]
  start -> no [label=false]
  gate [type=policy, policy="p2"]
  gate -> yes [label=true]
  gate -> maybe [label=false]
  yes [value=true]
  no [value=false]
  subgraph cluster_manual { maybe [type=custom, outcome="manual"] }
}`)
	require.NoError(t, err)

	ids := make([]string, 0, g.Len())
	for _, n := range g.Nodes() {
		ids = append(ids, n.ID)
	}
	assert.Equal(t, []string{"start", "gate", "no", "yes", "maybe"}, ids)

	start, ok := g.Start()
	require.True(t, ok)
	ref, _ := start.Policy()
	assert.Equal(t, "p1", ref.ID)

	e, ok := g.Branch("start", LabelTrue)
	require.True(t, ok)
	assert.Equal(t, "gate", e.Target)

	gate, _ := g.Node("gate")
	assert.Equal(t, KindPolicy, gate.Kind())

	for id, want := range map[string]Outcome{
		"yes":   BoolOutcome(true),
		"no":    BoolOutcome(false),
		"maybe": StringOutcome("manual"),
	} {
		n, ok := g.Node(id)
		require.True(t, ok, id)
		got, ok := n.Outcome()
		require.True(t, ok, id)
		assert.True(t, got.Equal(want), "%s: got %s", id, got)
	}
}

func TestToDOT_WithOverlay(t *testing.T) {
	g := sampleGraph()

	out, err := ToDOT("sample", g, &Overlay{ExecutionPath: []string{"s", "a"}, Terminal: "yes"})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(strings.TrimSpace(out), "digraph"))
	assert.Contains(t, out, "->")
	assert.Contains(t, out, `"a"`)
	assert.Contains(t, out, "fillcolor")
	assert.Contains(t, out, "penwidth")
	assert.Contains(t, out, "Mdiamond")
}
