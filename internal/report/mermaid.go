package report

import (
	"fmt"
	"sort"
	"strings"
)

// GenerateHopDiagram creates a Mermaid flowchart for one packet's path.
func GenerateHopDiagram(path PacketPath) string {
	var sb strings.Builder

	sb.WriteString("```mermaid\n")
	sb.WriteString("flowchart LR\n")

	prev := ""
	for i, hop := range path.Hops {
		id := fmt.Sprintf("H%d", i)
		switch {
		case i == 0:
			sb.WriteString(fmt.Sprintf("    %s([%s]):::origin\n", id, escapeLabel(hop)))
		case i == len(path.Hops)-1:
			sb.WriteString(fmt.Sprintf("    %s[%s]:::last\n", id, escapeLabel(hop)))
		default:
			sb.WriteString(fmt.Sprintf("    %s[%s]\n", id, escapeLabel(hop)))
		}
		if prev != "" {
			sb.WriteString(fmt.Sprintf("    %s --> %s\n", prev, id))
		}
		prev = id
	}

	sb.WriteString("\n")
	sb.WriteString("    classDef origin fill:#FFB6C1,stroke:#FF0000\n")
	sb.WriteString("    classDef last fill:#90EE90\n")
	sb.WriteString("```\n")

	return sb.String()
}

// GenerateMeshTopology merges every path into one graph. Edges are labeled
// with how many packets crossed them.
func GenerateMeshTopology(paths []PacketPath, self string) string {
	if len(paths) == 0 {
		return ""
	}

	nodes := make(map[string]bool)
	edges := make(map[[2]string]int)
	for _, p := range paths {
		for i, hop := range p.Hops {
			nodes[hop] = true
			if i > 0 {
				edges[[2]string{p.Hops[i-1], hop}]++
			}
		}
	}

	names := make([]string, 0, len(nodes))
	for n := range nodes {
		names = append(names, n)
	}
	sort.Strings(names)
	ids := make(map[string]string, len(names))
	for i, n := range names {
		ids[n] = fmt.Sprintf("N%d", i)
	}

	keys := make([][2]string, 0, len(edges))
	for k := range edges {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i][0] != keys[j][0] {
			return keys[i][0] < keys[j][0]
		}
		return keys[i][1] < keys[j][1]
	})

	var sb strings.Builder
	sb.WriteString("```mermaid\n")
	sb.WriteString("flowchart LR\n")
	for _, n := range names {
		if n == self {
			sb.WriteString(fmt.Sprintf("    %s[%s]:::self\n", ids[n], escapeLabel(n)))
		} else {
			sb.WriteString(fmt.Sprintf("    %s[%s]\n", ids[n], escapeLabel(n)))
		}
	}
	sb.WriteString("\n")
	for _, k := range keys {
		sb.WriteString(fmt.Sprintf("    %s -->|%d| %s\n", ids[k[0]], edges[k], ids[k[1]]))
	}
	sb.WriteString("\n")
	sb.WriteString("    classDef self fill:#87CEEB\n")
	sb.WriteString("```\n")

	return sb.String()
}

func escapeLabel(s string) string {
	s = strings.ReplaceAll(s, `"`, "'")
	return `"` + s + `"`
}
