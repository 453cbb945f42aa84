// Package dag provides directed acyclic graph operations for CTE dependencies.
// It supports cycle detection, stable topological sorting and level grouping.
//
// Nodes keep their insertion order: every traversal visits nodes in the order
// they were added, so sorting a graph whose edges already respect insertion
// order returns the nodes unchanged.
package dag

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrNodeNotFound is returned when an edge references a node that was never
// added.
var ErrNodeNotFound = errors.New("node not found")

// CycleError reports a dependency cycle. Cycle lists the node IDs along the
// cycle, starting and ending with the same ID.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle detected: %s", strings.Join(e.Cycle, " -> "))
}

// Node represents a node in the DAG.
type Node struct {
	// ID is the unique identifier (CTE name)
	ID string
	// Data holds arbitrary node data
	Data any
}

// Graph represents a directed acyclic graph.
type Graph struct {
	order   []string
	nodes   map[string]*Node
	edges   map[string][]string // parent -> children (dependents)
	parents map[string][]string // child -> parents (dependencies)
}

// NewGraph creates a new empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:   make(map[string]*Node),
		edges:   make(map[string][]string),
		parents: make(map[string][]string),
	}
}

// AddNode adds a node to the graph. Adding an existing ID replaces its data
// and keeps its position.
func (g *Graph) AddNode(id string, data any) {
	if n, exists := g.nodes[id]; exists {
		n.Data = data
		return
	}
	g.nodes[id] = &Node{ID: id, Data: data}
	g.order = append(g.order, id)
}

// AddEdge adds a directed edge from parent to child (child depends on parent).
func (g *Graph) AddEdge(parentID, childID string) error {
	if _, exists := g.nodes[parentID]; !exists {
		return fmt.Errorf("parent %q: %w", parentID, ErrNodeNotFound)
	}
	if _, exists := g.nodes[childID]; !exists {
		return fmt.Errorf("child %q: %w", childID, ErrNodeNotFound)
	}
	if parentID == childID {
		return &CycleError{Cycle: []string{parentID, parentID}}
	}

	if !slices.Contains(g.edges[parentID], childID) {
		g.edges[parentID] = append(g.edges[parentID], childID)
	}
	if !slices.Contains(g.parents[childID], parentID) {
		g.parents[childID] = append(g.parents[childID], parentID)
	}
	return nil
}

// GetNode returns a node by ID.
func (g *Graph) GetNode(id string) (*Node, bool) {
	node, exists := g.nodes[id]
	return node, exists
}

// GetParents returns the parents (dependencies) of a node.
func (g *Graph) GetParents(id string) []string {
	return g.parents[id]
}

// GetChildren returns the children (dependents) of a node.
func (g *Graph) GetChildren(id string) []string {
	return g.edges[id]
}

// NodeCount returns the number of nodes in the graph.
func (g *Graph) NodeCount() int {
	return len(g.nodes)
}

// EdgeCount returns the number of edges in the graph.
func (g *Graph) EdgeCount() int {
	count := 0
	for _, children := range g.edges {
		count += len(children)
	}
	return count
}

// FindCycle returns a cycle of the graph, or nil when it is acyclic.
func (g *Graph) FindCycle() []string {
	const (
		unvisited = iota
		active
		done
	)
	state := make(map[string]int, len(g.nodes))
	var stack []string
	var cycle []string

	var dfs func(id string) bool
	dfs = func(id string) bool {
		state[id] = active
		stack = append(stack, id)
		for _, childID := range g.edges[id] {
			switch state[childID] {
			case unvisited:
				if dfs(childID) {
					return true
				}
			case active:
				start := slices.Index(stack, childID)
				cycle = append(append([]string(nil), stack[start:]...), childID)
				return true
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = done
		return false
	}

	for _, id := range g.order {
		if state[id] == unvisited && dfs(id) {
			return cycle
		}
	}
	return nil
}

// TopologicalSort returns nodes with every dependency before its dependents.
// Among nodes free to go in any order, insertion order wins.
func (g *Graph) TopologicalSort() ([]*Node, error) {
	if cycle := g.FindCycle(); cycle != nil {
		return nil, &CycleError{Cycle: cycle}
	}

	visited := make(map[string]bool, len(g.nodes))
	result := make([]*Node, 0, len(g.nodes))

	var visit func(id string)
	visit = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true
		for _, parentID := range g.parents[id] {
			visit(parentID)
		}
		result = append(result, g.nodes[id])
	}

	for _, id := range g.order {
		visit(id)
	}
	return result, nil
}

// GetExecutionLevels returns node IDs grouped by depth. Level 0 holds nodes
// with no dependencies; nodes at level N depend only on lower levels. Each
// level keeps insertion order.
func (g *Graph) GetExecutionLevels() ([][]string, error) {
	sorted, err := g.TopologicalSort()
	if err != nil {
		return nil, err
	}

	level := make(map[string]int, len(sorted))
	maxLevel := -1
	for _, n := range sorted {
		l := 0
		for _, parentID := range g.parents[n.ID] {
			l = max(l, level[parentID]+1)
		}
		level[n.ID] = l
		maxLevel = max(maxLevel, l)
	}

	levels := make([][]string, maxLevel+1)
	for _, id := range g.order {
		levels[level[id]] = append(levels[level[id]], id)
	}
	return levels, nil
}
