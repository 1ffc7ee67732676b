package graph

import (
	"github.com/hashicorp/go-hclog"

	"github.com/voidforge/foundry/pkg/types"
)

// A ProjectSpec is one project in a submission, together with the
// names of the projects it directly depends on.  Specs arrive from an
// external metadata collaborator already resolved; the builder only
// validates and shapes them.
type ProjectSpec struct {
	Project   types.Project
	InputsRef string
	DependsOn []string
}

// A Node is one job node within a build graph.  DependsOn holds the
// job identities of the node's direct dependencies; both lists are
// fixed once the graph has been validated.
type Node struct {
	JobID     string
	Project   types.Project
	InputsRef string
	DependsOn []string
}

// A BuildGraph is the validated, immutable DAG produced from one
// submission.  Nodes are keyed by job identity.  The dependents index
// is precomputed at build time so that cascade traversal is a bounded
// walk from the failing node rather than a full scan.
type BuildGraph struct {
	Nodes      map[string]*Node
	Dependents map[string][]string

	byProject map[string]string
}

// Builder converts submissions into build graphs.
type Builder struct {
	l hclog.Logger
}
