package compiler

import (
	"fmt"
	"sort"
	"strings"
)

// dependentsGraph maps a file to the sources that include it
type dependentsGraph map[string]map[string]bool

func buildDependentsGraph(includesByFile map[string][]string) dependentsGraph {
	graph := make(dependentsGraph)
	for file, includes := range includesByFile {
		for _, inc := range includes {
			if inc == "" || inc == file {
				continue
			}
			if graph[inc] == nil {
				graph[inc] = make(map[string]bool)
			}
			graph[inc][file] = true
		}
	}
	return graph
}

// ImpactReport lists the files that must be recompiled when Root changes,
// grouped by distance
type ImpactReport struct {
	Root   string     `json:"root"`
	Levels [][]string `json:"levels"`
}

func computeImpact(root string, dependents dependentsGraph) ImpactReport {
	visited := map[string]bool{root: true}
	frontier := []string{root}
	var levels [][]string

	for len(frontier) > 0 {
		var next []string
		for _, f := range frontier {
			for dep := range dependents[f] {
				if visited[dep] {
					continue
				}
				visited[dep] = true
				next = append(next, dep)
			}
		}
		if len(next) == 0 {
			break
		}
		sort.Strings(next)
		levels = append(levels, next)
		frontier = next
	}

	return ImpactReport{Root: root, Levels: levels}
}

// String renders the report for the terminal
func (r ImpactReport) String() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("  %s\n", r.Root))
	if len(r.Levels) == 0 {
		b.WriteString("    no dependents\n")
	}
	for i, level := range r.Levels {
		b.WriteString(fmt.Sprintf("    level %d (%d): %s\n", i+1, len(level), strings.Join(level, ", ")))
	}
	return b.String()
}
