package graph

import (
	"fmt"

	"github.com/alanyoungcy/cyclearb/internal/domain"
)

type indexedEdge struct {
	src, dst int
	edge     *Edge
}

// Snapshot is a read-only copy of a Graph taken at one instant.
type Snapshot struct {
	nodes  []domain.Currency
	index  map[domain.Currency]int
	matrix [][]*Edge
	edges  []indexedEdge // src-major order
}

// Nodes returns the snapshot's currencies.
func (s *Snapshot) Nodes() []domain.Currency {
	return append([]domain.Currency(nil), s.nodes...)
}

// Len returns the number of edges.
func (s *Snapshot) Len() int { return len(s.edges) }

// Edges returns the edges in deterministic src-major order. Every call
// returns a fresh slice over the same data.
func (s *Snapshot) Edges() []Triple {
	out := make([]Triple, len(s.edges))
	for i, ie := range s.edges {
		out[i] = Triple{Src: s.nodes[ie.src], Dst: s.nodes[ie.dst], Edge: *ie.edge}
	}
	return out
}

// Edge looks up (src, dst) with the same semantics as Graph.Edge.
func (s *Snapshot) Edge(src, dst domain.Currency) (Edge, error) {
	i, ok := s.index[src]
	if !ok {
		return Edge{}, fmt.Errorf("graph: node %s: %w", src, domain.ErrUnknownCurrency)
	}
	j, ok := s.index[dst]
	if !ok {
		return Edge{}, fmt.Errorf("graph: node %s: %w", dst, domain.ErrUnknownCurrency)
	}
	e := s.matrix[i][j]
	if e == nil {
		return Edge{}, fmt.Errorf("graph: edge %s->%s: %w", src, dst, domain.ErrNotFound)
	}
	return *e, nil
}
