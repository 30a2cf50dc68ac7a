// Package graph provides a dependency graph over plan steps.
package graph

import (
	"errors"
	"fmt"
	"sync"

	"github.com/kestrelworks/stagecraft/pkg/models"
)

// ErrCycleDetected indicates a circular dependency was found in the plan.
var ErrCycleDetected = errors.New("circular dependency detected")

// Graph represents a directed acyclic graph of plan step dependencies.
// Steps are nodes, and edges represent "depends on" relationships.
type Graph struct {
	mu sync.RWMutex
	// nodes maps step ID to the step itself.
	nodes map[string]models.PlanStep
	// edges maps step ID to IDs of steps it depends on.
	edges map[string][]string
	// order preserves the plan order of step IDs for deterministic walks.
	order []string
}

// Build constructs a dependency graph from plan steps.
// Returns an error if a dependency references an unknown step or the
// steps form a cycle.
func Build(steps []models.PlanStep) (*Graph, error) {
	g := &Graph{
		nodes: make(map[string]models.PlanStep, len(steps)),
		edges: make(map[string][]string, len(steps)),
		order: make([]string, 0, len(steps)),
	}

	// First pass: register all steps as nodes.
	for _, step := range steps {
		if step.ID == "" {
			return nil, fmt.Errorf("plan step with empty ID")
		}
		if _, exists := g.nodes[step.ID]; exists {
			return nil, fmt.Errorf("duplicate plan step ID %s", step.ID)
		}
		g.nodes[step.ID] = step
		g.edges[step.ID] = nil
		g.order = append(g.order, step.ID)
	}

	// Second pass: build edges from DependsOn fields.
	for _, step := range steps {
		for _, depID := range step.DependsOn {
			if _, exists := g.nodes[depID]; !exists {
				return nil, fmt.Errorf("step %s depends on unknown step %s", step.ID, depID)
			}
			g.edges[step.ID] = append(g.edges[step.ID], depID)
		}
	}

	if g.hasCycleLocked() {
		return nil, ErrCycleDetected
	}

	return g, nil
}

// HasCycle returns true if the graph contains a circular dependency.
// Uses depth-first search with coloring to detect back edges.
func (g *Graph) HasCycle() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.hasCycleLocked()
}

// hasCycleLocked is the internal implementation that assumes the lock is held.
func (g *Graph) hasCycleLocked() bool {
	// Color states: 0 = white (unvisited), 1 = gray (in progress), 2 = black (done).
	colors := make(map[string]int, len(g.nodes))

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1

		for _, depID := range g.edges[id] {
			switch colors[depID] {
			case 1:
				// Found a back edge - cycle detected.
				return true
			case 0:
				if visit(depID) {
					return true
				}
			}
		}

		colors[id] = 2
		return false
	}

	for _, id := range g.order {
		if colors[id] == 0 {
			if visit(id) {
				return true
			}
		}
	}

	return false
}

// TopologicalSort returns step IDs in an order where all dependencies
// come before the steps that depend on them. Ties are broken by plan
// order, so the result is deterministic.
func (g *Graph) TopologicalSort() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.hasCycleLocked() {
		return nil, ErrCycleDetected
	}

	visited := make(map[string]bool, len(g.nodes))
	result := make([]string, 0, len(g.nodes))

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true

		// Visit all dependencies first.
		for _, depID := range g.edges[id] {
			visit(depID)
		}

		result = append(result, id)
	}

	for _, id := range g.order {
		visit(id)
	}

	return result, nil
}

// Step returns the step for a given ID and whether it exists.
func (g *Graph) Step(id string) (models.PlanStep, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	step, ok := g.nodes[id]
	return step, ok
}

// Size returns the number of steps in the graph.
func (g *Graph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Dependencies returns the IDs of steps the given step depends on.
func (g *Graph) Dependencies(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.edges[id]
}

// Dependents returns the IDs of steps that directly depend on the given step.
func (g *Graph) Dependents(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var dependents []string
	for _, candidate := range g.order {
		for _, depID := range g.edges[candidate] {
			if depID == id {
				dependents = append(dependents, candidate)
				break
			}
		}
	}
	return dependents
}

// TransitiveDependents returns the IDs of all steps that depend on the
// given step directly or transitively, in plan order.
func (g *Graph) TransitiveDependents(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	affected := map[string]bool{}
	changed := true
	for changed {
		changed = false
		for _, candidate := range g.order {
			if affected[candidate] {
				continue
			}
			for _, depID := range g.edges[candidate] {
				if depID == id || affected[depID] {
					affected[candidate] = true
					changed = true
					break
				}
			}
		}
	}

	var result []string
	for _, candidate := range g.order {
		if affected[candidate] {
			result = append(result, candidate)
		}
	}
	return result
}
