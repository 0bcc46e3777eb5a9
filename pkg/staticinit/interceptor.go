// Package staticinit filters mutation points in code that only runs while a
// JVM type is being initialized.
//
// Mutants in such code are either killed by every test that loads the type or
// survive because the initialization already happened, so testing them costs
// time without telling anything about the test suite. The analysis is
// intra-type: it looks at the call graph of one class at a time.
package staticinit

import (
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strings"

	"github.com/715d/staticinit/pkg/bytecode"
	"github.com/715d/staticinit/pkg/callgraph"
	"github.com/715d/staticinit/pkg/classfile"
	"github.com/715d/staticinit/pkg/intercept"
	"github.com/715d/staticinit/pkg/mutation"
	"github.com/715d/staticinit/pkg/source"
)

// Options configures an Interceptor.
type Options struct {
	// Strict panics on contract violations instead of failing open.
	Strict bool

	// MaxPasses bounds the reachability passes; 0 selects DefaultMaxPasses.
	MaxPasses int

	// Capture decides which lambda captures are stored for later execution.
	Capture bytecode.CapturePolicy
}

// DefaultOptions returns the options used by the registered feature.
func DefaultOptions() Options {
	return Options{Capture: bytecode.DefaultCapturePolicy()}
}

// ReachableReason tags points in methods that are only called from initialization.
const ReachableReason = "only called during type initialization"

// Interceptor suppresses the mutation points of one type that lie in
// methods run exclusively during its initialization. Create one per type.
type Interceptor struct {
	src  source.CodeSource
	opts Options

	typ        bytecode.TypeName
	filtered   map[bytecode.MethodKey]string
	suppressed []mutation.Point
	diags      []intercept.Diagnostic
}

var (
	_ intercept.Interceptor  = (*Interceptor)(nil)
	_ intercept.TypeAnalyzer = (*Interceptor)(nil)
)

// New returns an interceptor loading types from src.
func New(src source.CodeSource, opts Options) *Interceptor {
	return &Interceptor{src: src, opts: opts}
}

// Analyze loads, decodes and analyzes the named type. Failures are recorded
// as diagnostics and leave every point of the type retained.
func (i *Interceptor) Analyze(name bytecode.TypeName) {
	i.reset(name)

	image, ok := i.src.BytesFor(name)
	if !ok {
		i.diagnose(fmt.Errorf("%w: %s", ErrLoadFailure, name))
		return
	}
	t, err := classfile.Decode(image)
	if err != nil {
		i.diagnose(fmt.Errorf("%w: %w", ErrDecodeFailure, err))
		return
	}
	if t.Name != name {
		i.diagnose(fmt.Errorf("%w: image of %s declares %s", ErrDecodeFailure, name, t.Name))
		return
	}
	i.analyze(t)
}

// AnalyzeType analyzes an already decoded type. Its lambda captures are
// resolved in place.
func (i *Interceptor) AnalyzeType(t *bytecode.TypeBody) {
	i.reset(t.Name)
	i.analyze(t)
}

func (i *Interceptor) reset(name bytecode.TypeName) {
	i.typ = name
	i.filtered = nil
	i.suppressed = nil
	i.diags = nil
}

func (i *Interceptor) analyze(t *bytecode.TypeBody) {
	bytecode.ResolveCaptures(t, i.opts.Capture)
	g := callgraph.Build(t)
	roots := FindRoots(t, g)

	f, err := Reach(g, &roots.Set, i.opts.MaxPasses)
	if err != nil {
		i.diagnose(err)
	}
	if err := checkContract(g, &roots.Set, f); err != nil {
		if i.opts.Strict {
			panic(err)
		}
		i.diagnose(err)
		return
	}

	i.filtered = make(map[bytecode.MethodKey]string, f.Len())
	for _, v := range f.AppendTo(nil) {
		reason := ReachableReason
		if k, ok := roots.Kind[v]; ok {
			reason = k.String()
		}
		i.filtered[g.Method(v).Key] = reason
	}
	slog.Debug("analyzed type initialization",
		"type", t.Name,
		"methods", g.Len(),
		"roots", roots.Set.Len(),
		"filtered", f.Len())
}

func (i *Interceptor) diagnose(err error) {
	slog.Warn("static initializer analysis failed open", "type", i.typ, "error", err)
	i.diags = append(i.diags, intercept.Diagnostic{Type: i.typ, Feature: FeatureName, Err: err})
}

// Intercept yields every point not located in a filtered method, in input
// order. Points of other types pass through.
func (i *Interceptor) Intercept(points iter.Seq[mutation.Point]) iter.Seq[mutation.Point] {
	return func(yield func(mutation.Point) bool) {
		for p := range points {
			if reason, ok := i.filtered[p.Location]; ok {
				i.suppressed = append(i.suppressed, p.WithTag(mutation.Tag{Feature: FeatureName, Reason: reason}))
				continue
			}
			if !yield(p) {
				return
			}
		}
	}
}

// Suppressed returns the points dropped by Intercept so far.
func (i *Interceptor) Suppressed() []mutation.Point {
	return i.suppressed
}

// Filtered returns the filtered methods sorted by name.
func (i *Interceptor) Filtered() []bytecode.MethodKey {
	out := make([]bytecode.MethodKey, 0, len(i.filtered))
	for k := range i.filtered {
		out = append(out, k)
	}
	slices.SortFunc(out, func(a, b bytecode.MethodKey) int {
		return strings.Compare(a.String(), b.String())
	})
	return out
}

// Reason returns why key is filtered.
func (i *Interceptor) Reason(key bytecode.MethodKey) (string, bool) {
	r, ok := i.filtered[key]
	return r, ok
}

// Diagnostics returns the fail-open problems of the last Analyze.
func (i *Interceptor) Diagnostics() []intercept.Diagnostic {
	return i.diags
}
