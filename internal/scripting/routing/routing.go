package routing

import (
	"errors"
	"fmt"
	"sort"

	"github.com/dominikbraun/graph"
)

// ErrNoRoute is returned when the destination is not reachable within the hop bound
var ErrNoRoute = errors.New("no route")

// Map is the remembered jump network. Edges are directed: a system's
// connections are only known once it has been visited.
type Map struct {
	g graph.Graph[string, string]
}

func NewMap() *Map {
	return &Map{g: graph.New(graph.StringHash, graph.Directed())}
}

// AddSystem records the jump links leaving systemID
func (m *Map) AddSystem(systemID string, neighbors []string) error {
	if err := m.addVertex(systemID); err != nil {
		return err
	}
	for _, n := range neighbors {
		if n == "" || n == systemID {
			continue
		}
		if err := m.addVertex(n); err != nil {
			return err
		}
		if err := m.g.AddEdge(systemID, n); err != nil && !errors.Is(err, graph.ErrEdgeAlreadyExists) {
			return fmt.Errorf("add link %s -> %s: %w", systemID, n, err)
		}
	}
	return nil
}

func (m *Map) addVertex(id string) error {
	if err := m.g.AddVertex(id); err != nil && !errors.Is(err, graph.ErrVertexAlreadyExists) {
		return fmt.Errorf("add system %s: %w", id, err)
	}
	return nil
}

// Size returns the number of known systems
func (m *Map) Size() int {
	adjacency, err := m.g.AdjacencyMap()
	if err != nil {
		return 0
	}
	return len(adjacency)
}

// Route finds a shortest jump path from -> to using at most maxHops jumps.
// The result lists the systems to jump to in order, ending with to; it is
// empty when from == to.
func (m *Map) Route(from, to string, maxHops int) ([]string, error) {
	if from == to {
		return nil, nil
	}
	adjacency, err := m.g.AdjacencyMap()
	if err != nil {
		return nil, fmt.Errorf("route: %w", err)
	}
	if _, ok := adjacency[from]; !ok {
		return nil, fmt.Errorf("%w: %s is unknown", ErrNoRoute, from)
	}

	parent := map[string]string{from: ""}
	frontier := []string{from}
	for depth := 0; depth < maxHops && len(frontier) > 0; depth++ {
		var next []string
		for _, sys := range frontier {
			for _, n := range sortedKeys(adjacency[sys]) {
				if _, seen := parent[n]; seen {
					continue
				}
				parent[n] = sys
				if n == to {
					return unwind(parent, from, to), nil
				}
				next = append(next, n)
			}
		}
		frontier = next
	}
	return nil, fmt.Errorf("%w: %s -> %s within %d jumps", ErrNoRoute, from, to, maxHops)
}

func sortedKeys(edges map[string]graph.Edge[string]) []string {
	keys := make([]string, 0, len(edges))
	for k := range edges {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func unwind(parent map[string]string, from, to string) []string {
	var path []string
	for at := to; at != from; at = parent[at] {
		path = append(path, at)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}
