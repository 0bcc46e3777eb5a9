// Package intercept composes mutation interceptors into a filter chain.
//
// Interceptors are registered explicitly through a Registry. A Chain creates
// a fresh interceptor per factory for every analyzed type and pipes the
// mutation-point stream through them in position order.
package intercept

import (
	"cmp"
	"fmt"
	"iter"
	"slices"
	"strings"

	"github.com/715d/staticinit/pkg/bytecode"
	"github.com/715d/staticinit/pkg/mutation"
)

// Position orders interceptors within a chain.
type Position int

const (
	// PostGeneration interceptors filter points right after generation.
	PostGeneration Position = iota + 1
	// PreScheduling interceptors run last, before points are scheduled for testing.
	PreScheduling
)

func (p Position) String() string {
	switch p {
	case PostGeneration:
		return "post-generation"
	case PreScheduling:
		return "pre-scheduling"
	}
	return fmt.Sprintf("position(%d)", int(p))
}

// Feature describes a toggleable interceptor.
type Feature struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	DefaultOn   bool     `json:"default_on"`
	Position    Position `json:"position"`
}

// Diagnostic is a non-fatal problem an interceptor hit while analyzing a type.
type Diagnostic struct {
	Type    bytecode.TypeName
	Feature string
	Err     error
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s: %v", d.Feature, d.Type, d.Err)
}

// Interceptor filters the mutation points of one type.
type Interceptor interface {
	// Analyze prepares the interceptor for the named type.
	Analyze(name bytecode.TypeName)
	// Intercept yields the retained points in input order.
	Intercept(points iter.Seq[mutation.Point]) iter.Seq[mutation.Point]
	// Suppressed returns the points dropped so far, tagged with the reason.
	Suppressed() []mutation.Point
	// Diagnostics returns problems recorded by Analyze.
	Diagnostics() []Diagnostic
}

// TypeAnalyzer is implemented by interceptors that can analyze an already
// decoded type instead of loading it by name. They may annotate t in place.
type TypeAnalyzer interface {
	AnalyzeType(t *bytecode.TypeBody)
}

// Factory creates interceptors for a feature.
type Factory interface {
	Feature() Feature
	Create() Interceptor
}

// Registry holds the known factories by feature name.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns a registry holding factories.
func NewRegistry(factories ...Factory) (*Registry, error) {
	r := &Registry{factories: make(map[string]Factory)}
	for _, f := range factories {
		if err := r.Register(f); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds f. Feature names are case-insensitive and must be unique.
func (r *Registry) Register(f Factory) error {
	name := strings.ToLower(f.Feature().Name)
	if name == "" {
		return fmt.Errorf("factory %T has no feature name", f)
	}
	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("feature %q registered twice", name)
	}
	r.factories[name] = f
	return nil
}

// Features returns every registered feature sorted by position then name.
func (r *Registry) Features() []Feature {
	out := make([]Feature, 0, len(r.factories))
	for _, f := range r.factories {
		out = append(out, f.Feature())
	}
	slices.SortFunc(out, compareFeatures)
	return out
}

func compareFeatures(a, b Feature) int {
	return cmp.Or(cmp.Compare(a.Position, b.Position), strings.Compare(a.Name, b.Name))
}

// Setting turns a feature on or off.
type Setting struct {
	Name    string
	Enabled bool
}

// ParseSettings parses toggles of the form "+name", "-name" or "name".
// Settings are applied in order, so a later toggle wins.
func ParseSettings(specs []string) ([]Setting, error) {
	var out []Setting
	for _, s := range specs {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		set := Setting{Enabled: true}
		switch s[0] {
		case '+':
			s = s[1:]
		case '-':
			s = s[1:]
			set.Enabled = false
		}
		set.Name = strings.ToLower(strings.TrimSpace(s))
		if set.Name == "" {
			return nil, fmt.Errorf("empty feature name in %q", s)
		}
		out = append(out, set)
	}
	return out, nil
}

// Chain builds the chain of enabled features: those on by default, adjusted
// by settings. Unknown feature names are an error.
func (r *Registry) Chain(settings []Setting) (*Chain, error) {
	enabled := make(map[string]bool, len(r.factories))
	for name, f := range r.factories {
		enabled[name] = f.Feature().DefaultOn
	}
	for _, s := range settings {
		if _, ok := r.factories[s.Name]; !ok {
			return nil, fmt.Errorf("unknown feature %q", s.Name)
		}
		enabled[s.Name] = s.Enabled
	}

	c := &Chain{}
	for name, on := range enabled {
		if on {
			c.factories = append(c.factories, r.factories[name])
		}
	}
	slices.SortFunc(c.factories, func(a, b Factory) int {
		return compareFeatures(a.Feature(), b.Feature())
	})
	return c, nil
}

// Chain is an ordered list of enabled factories. It is safe for concurrent
// use: every Run creates its own interceptors.
type Chain struct {
	factories []Factory
}

// Features returns the enabled features in run order.
func (c *Chain) Features() []Feature {
	out := make([]Feature, len(c.factories))
	for i, f := range c.factories {
		out[i] = f.Feature()
	}
	return out
}

// Result is the outcome of running a chain over one type.
type Result struct {
	Type        bytecode.TypeName `json:"type"`
	Retained    []mutation.Point  `json:"retained"`
	Suppressed  []mutation.Point  `json:"suppressed"`
	Diagnostics []Diagnostic      `json:"-"`
}

// Run filters the points of the named type through every interceptor.
func (c *Chain) Run(name bytecode.TypeName, points iter.Seq[mutation.Point]) Result {
	return c.run(name, nil, points)
}

// RunType is Run for a type the caller already decoded. Interceptors that
// implement TypeAnalyzer receive t; the others load the type by name.
func (c *Chain) RunType(t *bytecode.TypeBody, points iter.Seq[mutation.Point]) Result {
	return c.run(t.Name, t, points)
}

func (c *Chain) run(name bytecode.TypeName, t *bytecode.TypeBody, points iter.Seq[mutation.Point]) Result {
	interceptors := make([]Interceptor, len(c.factories))
	seq := points
	for i, f := range c.factories {
		it := f.Create()
		if ta, ok := it.(TypeAnalyzer); ok && t != nil {
			ta.AnalyzeType(t)
		} else {
			it.Analyze(name)
		}
		seq = it.Intercept(seq)
		interceptors[i] = it
	}

	res := Result{Type: name, Retained: slices.Collect(seq)}
	for _, it := range interceptors {
		res.Suppressed = append(res.Suppressed, it.Suppressed()...)
		res.Diagnostics = append(res.Diagnostics, it.Diagnostics()...)
	}
	return res
}
