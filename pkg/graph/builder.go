package graph

import (
	"sort"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

// NewBuilder returns a builder with the logger configured.
func NewBuilder(l hclog.Logger) *Builder {
	return &Builder{l: l.Named("graph")}
}

// Build validates a submission and produces the job graph for it.
// Validation failures return without producing anything, so a
// rejected submission never leaves partial state behind for the
// caller to clean up.
func (b *Builder) Build(specs []ProjectSpec) (*BuildGraph, error) {
	byName := make(map[string]ProjectSpec, len(specs))
	for _, spec := range specs {
		if _, seen := byName[spec.Project.Name]; seen {
			b.l.Warn("Rejecting submission with duplicate project", "project", spec.Project.Name)
			return nil, NewErrDuplicateProject(spec.Project.Name)
		}
		byName[spec.Project.Name] = spec
	}

	for _, spec := range specs {
		for _, dep := range spec.DependsOn {
			if _, ok := byName[dep]; !ok {
				b.l.Warn("Rejecting submission with unknown dependency", "project", spec.Project.Name, "depend", dep)
				return nil, NewErrUnknownDependency(spec.Project.Name, dep)
			}
		}
	}

	if cycle := findCycle(byName); cycle != nil {
		b.l.Warn("Rejecting submission with dependency cycle", "cycle", cycle)
		return nil, NewErrCycle(cycle)
	}

	g := &BuildGraph{
		Nodes:      make(map[string]*Node, len(specs)),
		Dependents: make(map[string][]string),
		byProject:  make(map[string]string, len(specs)),
	}
	for _, spec := range specs {
		id := uuid.New().String()
		g.byProject[spec.Project.Name] = id
		g.Nodes[id] = &Node{
			JobID:     id,
			Project:   spec.Project,
			InputsRef: spec.InputsRef,
		}
	}
	for _, spec := range specs {
		id := g.byProject[spec.Project.Name]
		node := g.Nodes[id]
		for _, dep := range spec.DependsOn {
			depID := g.byProject[dep]
			node.DependsOn = append(node.DependsOn, depID)
			g.Dependents[depID] = append(g.Dependents[depID], id)
		}
		sort.Strings(node.DependsOn)
	}

	b.l.Debug("Built graph", "nodes", len(g.Nodes))
	return g, nil
}

// JobFor returns the job identity assigned to the named project.
func (g *BuildGraph) JobFor(project string) (string, bool) {
	id, ok := g.byProject[project]
	return id, ok
}

// Roots returns the jobs with no dependencies, which are eligible for
// dispatch the moment the group is persisted.
func (g *BuildGraph) Roots() []string {
	var roots []string
	for id, n := range g.Nodes {
		if len(n.DependsOn) == 0 {
			roots = append(roots, id)
		}
	}
	sort.Strings(roots)
	return roots
}

// TransitiveDependents returns every job reachable from the given job
// along reverse dependency edges.  This is the set a failure or
// cancellation of the job must cascade to.
func (g *BuildGraph) TransitiveDependents(jobID string) []string {
	seen := make(map[string]struct{})
	stack := append([]string(nil), g.Dependents[jobID]...)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		stack = append(stack, g.Dependents[id]...)
	}

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

const (
	colorWhite = iota // unvisited
	colorGray         // on the current DFS path
	colorBlack        // fully explored
)

// findCycle runs a coloring depth-first search over the submission
// and returns the members of the first cycle found, or nil if the
// edge set is acyclic.
func findCycle(specs map[string]ProjectSpec) []string {
	colors := make(map[string]int, len(specs))

	// Deterministic order keeps the reported cycle stable across
	// runs for the same submission.
	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)

	var path []string
	var walk func(name string) []string
	walk = func(name string) []string {
		colors[name] = colorGray
		path = append(path, name)
		for _, dep := range specs[name].DependsOn {
			switch colors[dep] {
			case colorGray:
				// Back edge: slice the current path from
				// the repeated node to close the loop.
				for i, n := range path {
					if n == dep {
						return append(append([]string(nil), path[i:]...), dep)
					}
				}
			case colorWhite:
				if cycle := walk(dep); cycle != nil {
					return cycle
				}
			}
		}
		path = path[:len(path)-1]
		colors[name] = colorBlack
		return nil
	}

	for _, name := range names {
		if colors[name] == colorWhite {
			if cycle := walk(name); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}
