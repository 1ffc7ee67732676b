package graph

import (
	"strings"
)

// ErrCycle is returned when a submission's dependency edges contain a
// cycle.  The whole submission is rejected; no partial group is ever
// created.
type ErrCycle struct {
	members []string
}

// NewErrCycle returns a cycle error naming the projects that form the
// cycle, in the order they were encountered.
func NewErrCycle(members []string) ErrCycle {
	return ErrCycle{members}
}

func (e ErrCycle) Error() string {
	return "dependency cycle: " + strings.Join(e.members, " -> ")
}

// Members returns the projects participating in the cycle.
func (e ErrCycle) Members() []string {
	return e.members
}

// ErrDuplicateProject is returned when the same project appears more
// than once in a single submission.
type ErrDuplicateProject struct {
	name string
}

// NewErrDuplicateProject returns a duplicate error specialized to the
// offending project.
func NewErrDuplicateProject(name string) ErrDuplicateProject {
	return ErrDuplicateProject{name}
}

func (e ErrDuplicateProject) Error() string {
	return "duplicate project in submission: " + e.name
}

// ErrUnknownDependency is returned when a project names a dependency
// that is not part of the submission.
type ErrUnknownDependency struct {
	project string
	depend  string
}

// NewErrUnknownDependency returns an unknown-dependency error for the
// given project and dependency name.
func NewErrUnknownDependency(project, depend string) ErrUnknownDependency {
	return ErrUnknownDependency{project, depend}
}

func (e ErrUnknownDependency) Error() string {
	return "project " + e.project + " depends on unknown project " + e.depend
}
