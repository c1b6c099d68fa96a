package graph

import (
	"fmt"
	"sync"

	"github.com/alanyoungcy/cyclearb/internal/domain"
)

// Triple is one directed edge with its endpoints.
type Triple struct {
	Src  domain.Currency
	Dst  domain.Currency
	Edge Edge
}

// Graph holds at most one current edge per ordered currency pair. Nodes are
// never removed and edges are replaced in place.
type Graph struct {
	mu     sync.RWMutex
	nodes  []domain.Currency
	index  map[domain.Currency]int
	matrix [][]*Edge // matrix[src][dst]
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{index: make(map[domain.Currency]int)}
}

// NewFromUniverse creates a graph with one node per configured currency.
func NewFromUniverse(u *domain.Universe) *Graph {
	g := New()
	for _, c := range u.Currencies() {
		// Universe currencies are unique, so AddNode cannot conflict.
		_ = g.AddNode(c)
	}
	return g
}

// AddNode registers a currency. It returns ErrAlreadyExists and leaves the
// graph untouched when the node is present.
func (g *Graph) AddNode(c domain.Currency) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.index[c]; ok {
		return fmt.Errorf("graph: add node %s: %w", c, domain.ErrAlreadyExists)
	}
	g.index[c] = len(g.nodes)
	g.nodes = append(g.nodes, c)
	for i := range g.matrix {
		g.matrix[i] = append(g.matrix[i], nil)
	}
	g.matrix = append(g.matrix, make([]*Edge, len(g.nodes)))
	return nil
}

// AddEdge offers a fresh edge for (src, dst) and reports whether it was
// stored. Precedence: insert when missing, replace when strictly newer,
// replace at equal timestamp when the weight is lower, otherwise keep.
func (g *Graph) AddEdge(src, dst domain.Currency, e Edge) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, d, err := g.lookup(src, dst)
	if err != nil {
		return false, fmt.Errorf("graph: add edge: %w", err)
	}
	if s == d {
		return false, fmt.Errorf("graph: add edge %s->%s: self loop", src, dst)
	}

	cur := g.matrix[s][d]
	switch {
	case cur == nil,
		e.Timestamp.After(cur.Timestamp),
		e.Timestamp.Equal(cur.Timestamp) && e.weight < cur.weight:
		stored := e
		g.matrix[s][d] = &stored
		return true, nil
	default:
		return false, nil
	}
}

// Edge returns the current edge for (src, dst), ErrNotFound when the pair is
// not quoted, or ErrUnknownCurrency when either node is missing.
func (g *Graph) Edge(src, dst domain.Currency) (Edge, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	s, d, err := g.lookup(src, dst)
	if err != nil {
		return Edge{}, fmt.Errorf("graph: get edge: %w", err)
	}
	e := g.matrix[s][d]
	if e == nil {
		return Edge{}, fmt.Errorf("graph: edge %s->%s: %w", src, dst, domain.ErrNotFound)
	}
	return *e, nil
}

// Nodes returns the registered currencies in insertion order.
func (g *Graph) Nodes() []domain.Currency {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]domain.Currency(nil), g.nodes...)
}

// Edges returns every current edge ordered by source then destination
// insertion index.
func (g *Graph) Edges() []Triple {
	return g.Snapshot().Edges()
}

// Snapshot copies the graph so a detection cycle can read a consistent view
// while later refreshes mutate the live graph.
func (g *Graph) Snapshot() *Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n := len(g.nodes)
	s := &Snapshot{
		nodes:  append([]domain.Currency(nil), g.nodes...),
		index:  make(map[domain.Currency]int, n),
		matrix: make([][]*Edge, n),
	}
	for c, i := range g.index {
		s.index[c] = i
	}
	for i := range g.matrix {
		s.matrix[i] = make([]*Edge, n)
		for j, e := range g.matrix[i] {
			if e == nil {
				continue
			}
			cp := *e
			s.matrix[i][j] = &cp
			s.edges = append(s.edges, indexedEdge{src: i, dst: j, edge: &cp})
		}
	}
	return s
}

func (g *Graph) lookup(src, dst domain.Currency) (int, int, error) {
	s, ok := g.index[src]
	if !ok {
		return 0, 0, fmt.Errorf("node %s: %w", src, domain.ErrUnknownCurrency)
	}
	d, ok := g.index[dst]
	if !ok {
		return 0, 0, fmt.Errorf("node %s: %w", dst, domain.ErrUnknownCurrency)
	}
	return s, d, nil
}
