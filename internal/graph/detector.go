package graph

import (
	"fmt"
	"math"

	"github.com/alanyoungcy/cyclearb/internal/domain"
)

// DefaultEpsilon is the relaxation tolerance in log2 units. 1e-4 is about a
// 0.007% rate move: far above float64 noise on rates near 1 and well below
// the smallest sensible opportunity threshold (0.1% is 1.44e-3).
const DefaultEpsilon = 1e-4

// ThresholdWeight converts a percent-growth threshold into the cycle weight
// that a qualifying opportunity must stay below.
func ThresholdWeight(pct float64) float64 {
	return -math.Log2(1 + pct/100)
}

// Detector runs Bellman-Ford over a snapshot and traces back a negative
// cycle when one is reachable from the source.
type Detector struct {
	epsilon float64
}

// NewDetector returns a detector using the given tolerance.
func NewDetector(epsilon float64) (*Detector, error) {
	if !(epsilon > 0) || math.IsInf(epsilon, 0) {
		return nil, fmt.Errorf("graph: detector epsilon %v must be positive", epsilon)
	}
	return &Detector{epsilon: epsilon}, nil
}

// Epsilon returns the relaxation tolerance.
func (d *Detector) Epsilon() float64 { return d.epsilon }

// Detect returns the raw traceback path of a negative cycle reachable from
// source, and false when there is none. The path may carry trailing nodes
// that lead into the cycle; callers trim it. Results are deterministic for a
// given snapshot because edges are relaxed in a fixed order.
func (d *Detector) Detect(s *Snapshot, source domain.Currency) ([]domain.Currency, bool, error) {
	src, ok := s.index[source]
	if !ok {
		return nil, false, fmt.Errorf("graph: detect from %s: %w", source, domain.ErrUnknownCurrency)
	}

	n := len(s.nodes)
	dist := make([]float64, n)
	pred := make([]int, n)
	for i := range dist {
		dist[i] = math.Inf(1)
		pred[i] = -1
	}
	dist[src] = 0

	for pass := 0; pass < n-1; pass++ {
		changed := false
		for _, ie := range s.edges {
			if d.relaxes(dist, ie) {
				dist[ie.dst] = dist[ie.src] + ie.edge.weight
				pred[ie.dst] = ie.src
				changed = true
			}
		}
		if !changed {
			return nil, false, nil
		}
	}

	for _, ie := range s.edges {
		if d.relaxes(dist, ie) {
			pred[ie.dst] = ie.src
			path, found := traceback(pred, ie.dst)
			if !found {
				return nil, false, nil
			}
			out := make([]domain.Currency, len(path))
			for i, idx := range path {
				out[i] = s.nodes[idx]
			}
			return out, true, nil
		}
	}
	return nil, false, nil
}

func (d *Detector) relaxes(dist []float64, ie indexedEdge) bool {
	du := dist[ie.src]
	if math.IsInf(du, 1) {
		return false
	}
	return du+ie.edge.weight+d.epsilon < dist[ie.dst]
}

// traceback walks predecessors from v until a node repeats and returns the
// walk reversed, so the path starts at the repeated node and follows edge
// direction. It reports false if the walk runs off the predecessor chain.
func traceback(pred []int, v int) ([]int, bool) {
	visited := make([]bool, len(pred))
	path := make([]int, 0, len(pred)+1)
	for cur := v; ; cur = pred[cur] {
		if cur < 0 {
			return nil, false
		}
		path = append(path, cur)
		if visited[cur] {
			break
		}
		visited[cur] = true
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, true
}
