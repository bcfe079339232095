// Package graph defines the fixed stage topology and the routing rules
// evaluated after every stage invocation.
//
// The topology is built once at startup (see Builder) and is immutable
// afterwards. Edges are either unconditional or guarded by a predicate over
// conversation state; when several guarded edges hold at once, the
// first-declared edge wins, deterministically.
package graph

import (
	"fmt"

	"github.com/seragusa/espalier/pkg/domain"
)

// Predicate evaluates conversation state to decide whether an edge is
// traversable. Predicates must be pure: deterministic, no side effects.
type Predicate func(*domain.State) bool

// Edge is a directed connection between two stages.
type Edge struct {
	From string
	To   string

	// When guards the edge. Nil means always traversable.
	When Predicate

	// Label is a human-readable rendering of the condition, used for
	// introspection output only.
	Label string
}

// DecisionKind tags the router's verdict for the next hop.
type DecisionKind int

const (
	// DecisionNext continues to Decision.Next.
	DecisionNext DecisionKind = iota
	// DecisionPause suspends the turn at the current stage.
	DecisionPause
	// DecisionDone ends the turn.
	DecisionDone
)

// Decision is the router's answer to "what runs next".
type Decision struct {
	Kind DecisionKind
	Next string
}

// Graph is the compiled, validated topology.
type Graph struct {
	entry     string
	stages    []string // declaration order, terminals excluded
	edges     map[string][]Edge
	terminals map[string]bool
}

// Entry returns the designated entry stage.
func (g *Graph) Entry() string {
	return g.entry
}

// Stages returns the runnable stage names in declaration order. Terminal
// markers are not stages; they never run.
func (g *Graph) Stages() []string {
	out := make([]string, len(g.stages))
	copy(out, g.stages)
	return out
}

// Terminal reports whether name is a terminal marker.
func (g *Graph) Terminal(name string) bool {
	return g.terminals[name]
}

// Edges returns the outgoing edges of a stage in declaration order.
func (g *Graph) Edges(stage string) []Edge {
	out := make([]Edge, len(g.edges[stage]))
	copy(out, g.edges[stage])
	return out
}

// Next evaluates which stage runs after current, given the stage's routing
// directive and the state it produced.
func (g *Graph) Next(current string, result domain.StageResult, state *domain.State) (Decision, error) {
	switch result.Route.Kind {
	case domain.RoutePause:
		return Decision{Kind: DecisionPause}, nil

	case domain.RouteTerminate:
		return Decision{Kind: DecisionDone}, nil

	case domain.RouteContinue:
		target := result.Route.Target
		if !g.hasEdge(current, target) {
			return Decision{}, fmt.Errorf("no edge %s -> %s in topology", current, target)
		}
		if g.terminals[target] {
			return Decision{Kind: DecisionDone}, nil
		}
		return Decision{Kind: DecisionNext, Next: target}, nil

	case domain.RouteAnyOf:
		candidates := make(map[string]bool, len(result.Route.Candidates))
		for _, c := range result.Route.Candidates {
			candidates[c] = true
		}
		// First-declared edge whose condition holds wins.
		for _, e := range g.edges[current] {
			if !candidates[e.To] {
				continue
			}
			if e.When != nil && !e.When(state) {
				continue
			}
			if g.terminals[e.To] {
				return Decision{Kind: DecisionDone}, nil
			}
			return Decision{Kind: DecisionNext, Next: e.To}, nil
		}
		return Decision{}, fmt.Errorf("no matching edge from %s for candidates %v", current, result.Route.Candidates)

	default:
		return Decision{}, fmt.Errorf("unknown route kind %d from %s", result.Route.Kind, current)
	}
}

func (g *Graph) hasEdge(from, to string) bool {
	for _, e := range g.edges[from] {
		if e.To == to {
			return true
		}
	}
	return false
}
