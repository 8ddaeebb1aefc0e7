// Package journey provides the journey graph index, static validation, and
// lifecycle transitions.
package journey

import (
	"fmt"

	"github.com/voyagehq/voyage/pkg/models"
)

// Graph indexes a journey definition for O(1) node and edge lookups. It does
// not validate; build it from definitions that passed the Validator (the
// executor still treats lookup misses as structural failures).
type Graph struct {
	nodes    map[string]*models.JourneyNode
	outgoing map[string][]*models.JourneyEdge
	incoming map[string][]*models.JourneyEdge
	trigger  *models.JourneyNode
}

func NewGraph(def models.Definition) *Graph {
	g := &Graph{
		nodes:    make(map[string]*models.JourneyNode, len(def.Nodes)),
		outgoing: make(map[string][]*models.JourneyEdge),
		incoming: make(map[string][]*models.JourneyEdge),
	}

	for _, node := range def.Nodes {
		g.nodes[node.ID] = node

		if node.Type == models.NodeTypeTrigger {
			g.trigger = node
		}
	}

	for _, edge := range def.Edges {
		g.outgoing[edge.Source] = append(g.outgoing[edge.Source], edge)
		g.incoming[edge.Target] = append(g.incoming[edge.Target], edge)
	}

	return g
}

func (g *Graph) Node(id string) (*models.JourneyNode, bool) {
	node, ok := g.nodes[id]

	return node, ok
}

func (g *Graph) Outgoing(id string) []*models.JourneyEdge {
	return g.outgoing[id]
}

func (g *Graph) Incoming(id string) []*models.JourneyEdge {
	return g.incoming[id]
}

func (g *Graph) TriggerNode() (*models.JourneyNode, bool) {
	return g.trigger, g.trigger != nil
}

// NextNodeID returns the single outgoing edge's target. Split nodes must be
// resolved through BranchTarget instead.
func (g *Graph) NextNodeID(id string) (string, error) {
	edges := g.outgoing[id]
	if len(edges) != 1 {
		return "", fmt.Errorf("node %s has %d outgoing edges, expected exactly one", id, len(edges))
	}

	return edges[0].Target, nil
}

// BranchTarget returns the target of a split node's labeled edge.
func (g *Graph) BranchTarget(id string, branch models.EdgeBranch) (string, error) {
	for _, edge := range g.outgoing[id] {
		if edge.Branch == branch {
			return edge.Target, nil
		}
	}

	return "", fmt.Errorf("split node %s has no %q edge", id, branch)
}

// EntryNodeID returns where new runs start: the trigger node's single
// outgoing edge's target.
func (g *Graph) EntryNodeID() (string, error) {
	if g.trigger == nil {
		return "", fmt.Errorf("definition has no trigger node")
	}

	return g.NextNodeID(g.trigger.ID)
}

// cycleFromTrigger walks the graph from the trigger and returns a node on a
// reachable cycle, or "" when the reachable subgraph is acyclic.
func (g *Graph) cycleFromTrigger() string {
	if g.trigger == nil {
		return ""
	}

	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)

	state := make(map[string]int, len(g.nodes))

	var visit func(id string) string

	visit = func(id string) string {
		state[id] = inStack

		for _, edge := range g.outgoing[id] {
			switch state[edge.Target] {
			case inStack:
				return edge.Target
			case unvisited:
				if hit := visit(edge.Target); hit != "" {
					return hit
				}
			}
		}

		state[id] = done

		return ""
	}

	return visit(g.trigger.ID)
}
