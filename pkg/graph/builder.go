package graph

import (
	"fmt"
	"strings"
)

// Builder accumulates the topology before compiling it into a Graph.
// Declaration order of edges is significant: it is the conditional
// tie-break order.
type Builder struct {
	entry     string
	order     []string
	seen      map[string]bool
	edges     map[string][]Edge
	terminals map[string]bool
}

// NewBuilder creates an empty topology builder.
func NewBuilder() *Builder {
	return &Builder{
		seen:      make(map[string]bool),
		edges:     make(map[string][]Edge),
		terminals: make(map[string]bool),
	}
}

// Entry designates the single entry stage.
func (b *Builder) Entry(stage string) *Builder {
	b.entry = stage
	b.node(stage)
	return b
}

// Edge adds an unconditional edge.
func (b *Builder) Edge(from, to string) *Builder {
	return b.EdgeWhen(from, to, nil, "")
}

// EdgeWhen adds a conditional edge. The label is a human-readable rendering
// of the condition for introspection output.
func (b *Builder) EdgeWhen(from, to string, when Predicate, label string) *Builder {
	b.node(from)
	b.node(to)
	b.edges[from] = append(b.edges[from], Edge{From: from, To: to, When: when, Label: label})
	return b
}

// Terminal marks a node as a terminal marker. Terminal markers never run;
// reaching one ends the turn.
func (b *Builder) Terminal(name string) *Builder {
	b.node(name)
	b.terminals[name] = true
	return b
}

func (b *Builder) node(name string) {
	if !b.seen[name] {
		b.seen[name] = true
		b.order = append(b.order, name)
	}
}

// Build validates the topology and compiles it. It rejects a missing or
// unknown entry, dead ends (a reachable non-terminal node with no outgoing
// edge), unreachable nodes and cycles.
func (b *Builder) Build() (*Graph, error) {
	if b.entry == "" {
		return nil, fmt.Errorf("topology has no entry stage")
	}

	var problems []string

	// Reachability crawl from the entry.
	reachable := map[string]bool{}
	queue := []string{b.entry}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if reachable[current] {
			continue
		}
		reachable[current] = true

		out := b.edges[current]
		if len(out) == 0 && !b.terminals[current] {
			problems = append(problems, fmt.Sprintf("dead end: %q has no outgoing edge and is not terminal", current))
		}
		if len(out) > 0 && b.terminals[current] {
			problems = append(problems, fmt.Sprintf("terminal %q has outgoing edges", current))
		}
		for _, e := range out {
			queue = append(queue, e.To)
		}
	}

	for _, name := range b.order {
		if !reachable[name] {
			problems = append(problems, fmt.Sprintf("unreachable node: %q", name))
		}
	}

	if cycle := b.findCycle(); cycle != "" {
		problems = append(problems, "cycle detected: "+cycle)
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("invalid topology:\n- %s", strings.Join(problems, "\n- "))
	}

	stages := make([]string, 0, len(b.order))
	for _, name := range b.order {
		if !b.terminals[name] {
			stages = append(stages, name)
		}
	}

	edges := make(map[string][]Edge, len(b.edges))
	for from, out := range b.edges {
		edges[from] = append([]Edge(nil), out...)
	}
	terminals := make(map[string]bool, len(b.terminals))
	for name := range b.terminals {
		terminals[name] = true
	}

	return &Graph{
		entry:     b.entry,
		stages:    stages,
		edges:     edges,
		terminals: terminals,
	}, nil
}

// findCycle runs a three-color DFS over the edges and returns a description
// of the first back edge found, or "".
func (b *Builder) findCycle() string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(b.order))

	var back string
	var visit func(string)
	visit = func(n string) {
		if back != "" {
			return
		}
		color[n] = gray
		for _, e := range b.edges[n] {
			switch color[e.To] {
			case gray:
				back = fmt.Sprintf("%s -> %s", n, e.To)
				return
			case white:
				visit(e.To)
			}
		}
		color[n] = black
	}

	for _, name := range b.order {
		if color[name] == white {
			visit(name)
		}
	}
	return back
}
