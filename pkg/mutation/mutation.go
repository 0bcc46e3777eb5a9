// Package mutation defines candidate mutation points and the generators that
// produce them.
package mutation

import (
	"fmt"
	"io"
	"iter"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/715d/staticinit/pkg/bytecode"
)

// Tag records why a point was suppressed and by which feature.
type Tag struct {
	Feature string `json:"feature" yaml:"feature"`
	Reason  string `json:"reason" yaml:"reason"`
}

// Point is one candidate mutation inside a method.
type Point struct {
	ID          string             `json:"id" yaml:"id"`
	Location    bytecode.MethodKey `json:"location" yaml:"-"`
	Index       int                `json:"index" yaml:"index"`
	Description string             `json:"description" yaml:"description"`
	Tags        []Tag              `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// NewPoint builds a point with a stable ID derived from its location.
func NewPoint(loc bytecode.MethodKey, index int, description string) Point {
	return Point{
		ID:          fmt.Sprintf("%s#%d", loc, index),
		Location:    loc,
		Index:       index,
		Description: description,
	}
}

// WithTag returns a copy of p carrying an additional tag.
func (p Point) WithTag(t Tag) Point {
	p.Tags = append(p.Tags[:len(p.Tags):len(p.Tags)], t)
	return p
}

// EveryInstruction yields one point per instruction of every method of t, in
// declaration then instruction order. It models the "mutate everything"
// operator: the filter sees the densest stream a real operator set could produce.
func EveryInstruction(t *bytecode.TypeBody) iter.Seq[Point] {
	return func(yield func(Point) bool) {
		for _, m := range t.Methods {
			for i, in := range m.Instructions {
				if !yield(NewPoint(m.Key, i, in.String())) {
					return
				}
			}
		}
	}
}

// InMethods yields one point per instruction of the named methods only.
// Names are matched against "name" or "name+desc".
func InMethods(t *bytecode.TypeBody, names ...string) iter.Seq[Point] {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	return func(yield func(Point) bool) {
		for p := range EveryInstruction(t) {
			if !want[p.Location.Name] && !want[p.Location.Name+p.Location.Desc] {
				continue
			}
			if !yield(p) {
				return
			}
		}
	}
}

type pointYAML struct {
	Type        string `yaml:"type"`
	Method      string `yaml:"method"`
	Index       int    `yaml:"index"`
	Description string `yaml:"description,omitempty"`
}

// ReadYAML decodes a list of points:
//
//   - type: com/example/Foo
//     method: helper()V
//     index: 2
//     description: replaced return value
func ReadYAML(r io.Reader) ([]Point, error) {
	var raw []pointYAML
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decoding points: %w", err)
	}
	points := make([]Point, 0, len(raw))
	for i, p := range raw {
		paren := strings.IndexByte(p.Method, '(')
		if p.Type == "" || paren <= 0 {
			return nil, fmt.Errorf("point %d: need type and method name(desc), got %q %q", i, p.Type, p.Method)
		}
		loc := bytecode.MethodKey{
			Owner: bytecode.TypeNameOf(p.Type),
			Name:  p.Method[:paren],
			Desc:  p.Method[paren:],
		}
		points = append(points, NewPoint(loc, p.Index, p.Description))
	}
	return points, nil
}

// ByType groups points by owning type, keeping input order within a type.
func ByType(points []Point) map[bytecode.TypeName][]Point {
	out := make(map[bytecode.TypeName][]Point)
	for _, p := range points {
		out[p.Location.Owner] = append(out[p.Location.Owner], p)
	}
	return out
}
