package staticinit

import (
	"fmt"

	"golang.org/x/tools/container/intsets"

	"github.com/715d/staticinit/pkg/callgraph"
)

// Eligible reports whether vertex v may be filtered when it is not a root:
// it is private, synthetic or a bridge, and no capture in the type refers to
// it. A captured method may run at any later time.
func Eligible(g *callgraph.Graph, v int) bool {
	m := g.Method(v)
	if !m.IsPrivate() && !m.IsCompilerGenerated() {
		return false
	}
	return !g.Captured(v)
}

// DefaultMaxPasses is the pass budget for a graph of n vertices.
func DefaultMaxPasses(n int) int {
	return max(2*n, 1)
}

// Reach computes the filtered set: the roots plus every eligible method that
// is reachable from them through non-delayed edges and whose non-delayed
// callers are all themselves filtered.
//
// The set starts from every eligible initializer-reachable method and shrinks
// until each member's callers are members, so mutually recursive helpers
// entered only from initialization stay filtered together. Every pass but the
// last removes a non-root, so with at least one root it converges within one
// pass per vertex. When maxPasses (0 for the default) runs out first, the
// roots alone are returned with ErrBudgetExceeded.
func Reach(g *callgraph.Graph, roots *intsets.Sparse, maxPasses int) (*intsets.Sparse, error) {
	if maxPasses <= 0 {
		maxPasses = DefaultMaxPasses(g.Len())
	}

	var reach intsets.Sparse
	reach.Copy(roots)
	work := roots.AppendTo(nil)
	for len(work) > 0 {
		v := work[len(work)-1]
		work = work[:len(work)-1]
		for _, e := range g.Succs(v) {
			if !e.Delayed && reach.Insert(e.To) {
				work = append(work, e.To)
			}
		}
	}

	f := new(intsets.Sparse)
	f.Copy(roots)
	for _, v := range reach.AppendTo(nil) {
		if Eligible(g, v) {
			f.Insert(v)
		}
	}

	for pass := 1; ; pass++ {
		if pass > maxPasses {
			var fallback intsets.Sparse
			fallback.Copy(roots)
			return &fallback, fmt.Errorf("%w: %d passes over %d methods", ErrBudgetExceeded, maxPasses, g.Len())
		}
		changed := false
		for _, v := range f.AppendTo(nil) {
			if roots.Has(v) {
				continue
			}
			for _, e := range g.Preds(v) {
				if !e.Delayed && !f.Has(e.From) {
					f.Remove(v)
					changed = true
					break
				}
			}
		}
		if !changed {
			return f, nil
		}
	}
}

// checkContract verifies that every member of f is a root or eligible.
func checkContract(g *callgraph.Graph, roots, f *intsets.Sparse) error {
	for _, v := range f.AppendTo(nil) {
		if !roots.Has(v) && !Eligible(g, v) {
			return fmt.Errorf("%w: %s", ErrContractViolation, g.Method(v).Key)
		}
	}
	return nil
}
