package scan

import (
	"context"
	"log/slog"
	"runtime"
	"slices"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/715d/staticinit/internal/analysis"
	"github.com/715d/staticinit/pkg/bytecode"
	"github.com/715d/staticinit/pkg/classfile"
	"github.com/715d/staticinit/pkg/intercept"
	"github.com/715d/staticinit/pkg/mutation"
	"github.com/715d/staticinit/pkg/source"
	"github.com/715d/staticinit/pkg/suppress"
)

// AnalyzerOptions holds configuration options for the analyzer.
type AnalyzerOptions struct {
	// Points are the mutation points per type. Types without an entry get
	// one point per instruction. Nil means every type gets them.
	Points map[bytecode.TypeName][]mutation.Point

	// Methods restricts generated points to the named methods, matched by
	// name or name+desc. Explicit Points are not restricted.
	Methods []string

	// Exclusions skip matching types entirely.
	Exclusions *suppress.Checker

	// Parallelism bounds concurrent type analysis; 0 selects NumCPU.
	Parallelism int
}

// Analyzer orchestrates running an interceptor chain over many types.
type Analyzer struct {
	chain     *intercept.Chain
	src       source.CodeSource
	nameCache *analysis.NameCache
	opts      AnalyzerOptions
}

// NewAnalyzer creates a new analyzer reading types from src.
func NewAnalyzer(chain *intercept.Chain, src source.CodeSource, opts AnalyzerOptions) *Analyzer {
	if opts.Exclusions == nil {
		opts.Exclusions = suppress.NewChecker()
	}
	return &Analyzer{
		chain:     chain,
		src:       src,
		nameCache: analysis.NewNameCache(),
		opts:      opts,
	}
}

// Analyze runs the chain over every named type and returns one report per
// type in input order. It stops early only when ctx is done.
func (a *Analyzer) Analyze(ctx context.Context, names []bytecode.TypeName) ([]TypeReport, error) {
	// Each goroutine writes to its own index.
	results := make([]TypeReport, len(names))

	g, ctx := errgroup.WithContext(ctx)
	limit := a.opts.Parallelism
	if limit <= 0 {
		limit = runtime.NumCPU()
	}
	g.SetLimit(limit)

	var suppressed atomic.Int64
	for idx, name := range names {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[idx] = a.analyzeType(name)
			suppressed.Add(int64(results[idx].Suppressed))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slog.Info("analysis completed", "types", len(names), "suppressed_points", suppressed.Load())
	return results, nil
}

func (a *Analyzer) analyzeType(name bytecode.TypeName) TypeReport {
	if excluded, reason := a.opts.Exclusions.IsSuppressed(name); excluded {
		slog.Debug("type excluded", "type", name, "reason", reason)
		return TypeReport{Type: name, Excluded: reason}
	}

	// A type that cannot be decoded here is run through the chain by name so
	// the interceptors record why they fail open.
	var typ *bytecode.TypeBody
	if image, ok := a.src.BytesFor(name); ok {
		if t, err := classfile.Decode(image); err == nil && t.Name == name {
			typ = t
		}
	}

	points, explicit := a.opts.Points[name]
	switch {
	case explicit || typ == nil:
	case len(a.opts.Methods) > 0:
		points = slices.Collect(mutation.InMethods(typ, a.opts.Methods...))
	default:
		points = slices.Collect(mutation.EveryInstruction(typ))
	}

	var res intercept.Result
	if typ != nil {
		res = a.chain.RunType(typ, slices.Values(points))
	} else {
		res = a.chain.Run(name, slices.Values(points))
	}
	report := TypeReport{
		Type:        name,
		Retained:    len(res.Retained),
		Suppressed:  len(res.Suppressed),
		Diagnostics: res.Diagnostics,
	}
	if typ != nil {
		report.Methods = analysis.Summarize(typ, res, a.nameCache)
	}
	return report
}
