// Package callgraph builds the intra-type call graph of a decoded type.
//
// Vertices are the type's methods, numbered in declaration order. An edge
// u→v exists when u's code invokes or captures v. Edges produced by lambda
// captures and method handle constants are delayed: the target does not run
// when the edge is traversed.
package callgraph

import (
	"fmt"
	"slices"
	"strings"

	"github.com/715d/staticinit/pkg/bytecode"
)

// Edge is a call or capture from one method to another of the same type.
type Edge struct {
	From, To int
	Delayed  bool
}

// Graph is an index-based call graph. It is immutable once built.
type Graph struct {
	Type    bytecode.TypeName
	Methods []*bytecode.MethodBody
	Edges   []Edge

	index map[bytecode.MethodKey]int
	succs [][]int // edge indices by From
	preds [][]int // edge indices by To
}

// Build derives the call graph of t. Invocations whose owner is another
// type, or whose target is not declared by t, contribute no edge. Duplicate
// edges are collapsed; a delayed and a non-delayed call between the same
// pair are kept as two edges.
func Build(t *bytecode.TypeBody) *Graph {
	g := &Graph{
		Type:    t.Name,
		Methods: t.Methods,
		index:   make(map[bytecode.MethodKey]int, len(t.Methods)),
		succs:   make([][]int, len(t.Methods)),
		preds:   make([][]int, len(t.Methods)),
	}
	for i, m := range t.Methods {
		// The first declaration wins; a well-formed type has no duplicates.
		if _, ok := g.index[m.Key]; !ok {
			g.index[m.Key] = i
		}
	}

	seen := make(map[Edge]struct{})
	for from, m := range t.Methods {
		for _, in := range m.Instructions {
			if in.Op != bytecode.OpInvocation || in.Target.Owner != t.Name {
				continue
			}
			to, ok := g.index[in.Target]
			if !ok {
				continue
			}
			e := Edge{From: from, To: to, Delayed: in.Kind.IsCapture()}
			if _, dup := seen[e]; dup {
				continue
			}
			seen[e] = struct{}{}
			g.succs[from] = append(g.succs[from], len(g.Edges))
			g.preds[to] = append(g.preds[to], len(g.Edges))
			g.Edges = append(g.Edges, e)
		}
	}
	return g
}

// Len returns the number of vertices.
func (g *Graph) Len() int {
	return len(g.Methods)
}

// Lookup returns the vertex of key.
func (g *Graph) Lookup(key bytecode.MethodKey) (int, bool) {
	v, ok := g.index[key]
	return v, ok
}

// Method returns the method at vertex v.
func (g *Graph) Method(v int) *bytecode.MethodBody {
	return g.Methods[v]
}

// Succs returns the outgoing edges of v in instruction order.
func (g *Graph) Succs(v int) []Edge {
	return g.edges(g.succs[v])
}

// Preds returns the incoming edges of v.
func (g *Graph) Preds(v int) []Edge {
	return g.edges(g.preds[v])
}

func (g *Graph) edges(idx []int) []Edge {
	out := make([]Edge, len(idx))
	for i, e := range idx {
		out[i] = g.Edges[e]
	}
	return out
}

// Captured reports whether v is the target of any delayed edge.
func (g *Graph) Captured(v int) bool {
	for _, e := range g.preds[v] {
		if g.Edges[e].Delayed {
			return true
		}
	}
	return false
}

// String renders the graph one edge per line, for debugging and golden tests.
func (g *Graph) String() string {
	var sb strings.Builder
	lines := make([]string, 0, len(g.Edges))
	for _, e := range g.Edges {
		arrow := "->"
		if e.Delayed {
			arrow = "~>"
		}
		lines = append(lines, fmt.Sprintf("%s%s %s %s%s",
			g.Methods[e.From].Key.Name, g.Methods[e.From].Key.Desc, arrow,
			g.Methods[e.To].Key.Name, g.Methods[e.To].Key.Desc))
	}
	slices.Sort(lines)
	for _, l := range lines {
		sb.WriteString(l)
		sb.WriteByte('\n')
	}
	return sb.String()
}
