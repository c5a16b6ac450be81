package build

import (
	"fmt"
	"sort"
	"sync"
)

// ProjectRegistry holds the projects of a build, keyed by path.
type ProjectRegistry struct {
	mu       sync.RWMutex
	projects map[string]*Project
}

// NewProjectRegistry creates an empty registry.
func NewProjectRegistry() *ProjectRegistry {
	return &ProjectRegistry{
		projects: make(map[string]*Project),
	}
}

// AddProject registers p. A second project with the same path is rejected.
func (r *ProjectRegistry) AddProject(p *Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.projects[p.Path()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateProject, p.Path())
	}
	r.projects[p.Path()] = p
	return nil
}

// Project returns the project at path.
func (r *ProjectRegistry) Project(path string) (*Project, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.projects[path]
	return p, ok
}

// FindProject returns the project at path or ErrProjectNotFound.
func (r *ProjectRegistry) FindProject(path string) (*Project, error) {
	if p, ok := r.Project(path); ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, path)
}

// RootProject returns the project at ":".
func (r *ProjectRegistry) RootProject() (*Project, bool) {
	return r.Project(":")
}

// Projects returns all projects sorted by path, root first.
func (r *ProjectRegistry) Projects() []*Project {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Project, 0, len(r.projects))
	for _, p := range r.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Path() < out[j].Path()
	})
	return out
}

// Len returns the number of projects.
func (r *ProjectRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.projects)
}
