package graph

import (
	"fmt"
	"strings"
)

// Mermaid renders the topology as a Mermaid flowchart.
// The entry stage is drawn as a circle, terminal markers as double circles,
// conditional edges with their condition labels.
func (g *Graph) Mermaid() string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	drawn := map[string]bool{}
	draw := func(name string) {
		if drawn[name] {
			return
		}
		drawn[name] = true

		safeID := sanitizeMermaidID(name)
		opener, closer := "[", "]"
		switch {
		case name == g.entry:
			opener, closer = "((", "))"
		case g.terminals[name]:
			opener, closer = "(((", ")))"
		}
		sb.WriteString(fmt.Sprintf("    %s%s\"%s\"%s\n", safeID, opener, name, closer))
	}

	for _, name := range g.stages {
		draw(name)
	}
	for name := range g.terminals {
		draw(name)
	}

	for _, from := range g.stages {
		for _, e := range g.edges[from] {
			arrow := "-->"
			if e.Label != "" {
				safeLabel := strings.ReplaceAll(e.Label, "\"", "'")
				arrow = fmt.Sprintf("-- \"%s\" -->", safeLabel)
			}
			sb.WriteString(fmt.Sprintf("    %s %s %s\n", sanitizeMermaidID(from), arrow, sanitizeMermaidID(e.To)))
		}
	}

	return sb.String()
}

// sanitizeMermaidID strips characters Mermaid treats as syntax.
func sanitizeMermaidID(id string) string {
	replacer := strings.NewReplacer(
		"/", "_",
		".", "_",
		" ", "_",
		"-", "_",
	)
	return replacer.Replace(id)
}
