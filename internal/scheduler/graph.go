package scheduler

import (
	"fmt"
	"sort"

	"github.com/daotlresearch/smart-data-lake-builder/internal/action"
	"github.com/daotlresearch/smart-data-lake-builder/internal/idtype"
	"github.com/daotlresearch/smart-data-lake-builder/internal/sdlberrors"
)

// node is a vertex in the execution graph: one action plus the dependency
// edges derived from which other actions produce its inputs.
type node struct {
	id         idtype.ActionID
	action     *action.Action
	dependsOn  []idtype.ActionID
	dependents []idtype.ActionID
}

// graph holds the DAG of actions and the topological levels computed from
// non-recursive input/output edges. Recursive inputs (a data object an
// action both reads and eventually produces itself) are tracked separately
// and excluded from edge construction, so they never create a cycle.
type graph struct {
	nodes  map[idtype.ActionID]*node
	levels [][]idtype.ActionID
}

// buildGraph wires an edge producer->consumer whenever consumer declares an
// input that some other action produces as an output, skipping any input
// listed in the consumer's RecursiveInputs.
func buildGraph(actions []*action.Action) (*graph, error) {
	g := &graph{nodes: make(map[idtype.ActionID]*node, len(actions))}

	producers := make(map[idtype.DataObjectID]idtype.ActionID)
	for _, a := range actions {
		if _, exists := g.nodes[a.ID]; exists {
			return nil, sdlberrors.NewConfigurationError(a.ID.String(), "duplicate action id", nil)
		}
		g.nodes[a.ID] = &node{id: a.ID, action: a}
		for _, out := range a.Outputs {
			producers[out] = a.ID
		}
	}

	for _, a := range actions {
		recursive := make(map[idtype.DataObjectID]bool, len(a.RecursiveInputs))
		for _, id := range a.RecursiveInputs {
			recursive[id] = true
		}
		for _, in := range a.Inputs {
			if recursive[in] {
				continue
			}
			producerID, ok := producers[in]
			if !ok || producerID == a.ID {
				continue
			}
			g.addEdge(producerID, a.ID)
		}
	}

	if err := g.topologicalSort(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *graph) addEdge(from, to idtype.ActionID) {
	g.nodes[from].dependents = append(g.nodes[from].dependents, to)
	g.nodes[to].dependsOn = append(g.nodes[to].dependsOn, from)
}

// topologicalSort computes Kahn's-algorithm levels, each level holding the
// ids whose dependencies are already satisfied by earlier levels.
func (g *graph) topologicalSort() error {
	indegree := make(map[idtype.ActionID]int, len(g.nodes))
	for id := range g.nodes {
		indegree[id] = 0
	}
	for _, n := range g.nodes {
		for range n.dependsOn {
			indegree[n.id]++
		}
	}

	var queue []idtype.ActionID
	for id, degree := range indegree {
		if degree == 0 {
			queue = append(queue, id)
		}
	}
	sortIDs(queue)

	processed := 0
	var levels [][]idtype.ActionID
	for len(queue) > 0 {
		level := queue
		levels = append(levels, append([]idtype.ActionID(nil), level...))

		var next []idtype.ActionID
		for _, id := range level {
			processed++
			for _, dep := range g.nodes[id].dependents {
				indegree[dep]--
				if indegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		sortIDs(next)
		queue = next
	}

	if processed != len(g.nodes) {
		return sdlberrors.NewConfigurationError("", "cycle detected among action dependency edges", nil)
	}
	g.levels = levels
	return nil
}

func sortIDs(ids []idtype.ActionID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

func (g *graph) allIDs() []idtype.ActionID {
	ids := make([]idtype.ActionID, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

func (g *graph) String() string {
	return fmt.Sprintf("graph{nodes=%d, levels=%d}", len(g.nodes), len(g.levels))
}
