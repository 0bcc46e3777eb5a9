// Package main implements the CLI driver for the static initializer filter.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"runtime/pprof"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/715d/staticinit/pkg/bytecode"
	"github.com/715d/staticinit/pkg/intercept"
	"github.com/715d/staticinit/pkg/mutation"
	"github.com/715d/staticinit/pkg/scan"
	"github.com/715d/staticinit/pkg/source"
	"github.com/715d/staticinit/pkg/staticinit"
	"github.com/715d/staticinit/pkg/suppress"
)

const (
	exitDiagnostics = 1
	exitError       = 2
)

var (
	// Set via ldflags during build.
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	initConfig()
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		_ = teardown(nil, nil)
		if err.Error() != "" {
			fmt.Fprintln(os.Stderr, err.Error())
		}
		var cErr *codedError
		if errors.As(err, &cErr) {
			os.Exit(cErr.code)
		}
		os.Exit(exitError)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "staticinit",
		Short: "Filter mutations in code that only runs during JVM type initialization",
		Long: `staticinit finds the methods of compiled JVM types that only run while
the type is being initialized: the type initializer, enum constant and
singleton constructors, and private helpers reached only from them.
Mutation points in those methods are suppressed.`,
		PersistentPreRunE:  setup,
		PersistentPostRunE: teardown,
		SilenceUsage:       true,
		SilenceErrors:      true,
		Version:            version,
	}

	// Set custom version template to include build info.
	rootCmd.SetVersionTemplate(fmt.Sprintf("staticinit version %s\n  commit: %s\n  built:  %s\n", version, gitCommit, buildTime))

	flags := rootCmd.PersistentFlags()
	flags.BoolP("verbose", "v", false, "Enable verbose output")
	bindFlagToConfig(flags.Lookup("verbose"), verboseKey)
	flags.Bool("json", false, "Output in JSON format")
	bindFlagToConfig(flags.Lookup("json"), jsonKey)
	flags.Bool("profile", false, "Enable CPU and memory profiling (writes cpu.prof and mem.prof to current directory)")
	bindFlagToConfig(flags.Lookup("profile"), profileKey)
	flags.StringSlice("features", nil, "Feature toggles, e.g. -auto_static_initializer")
	bindFlagToConfig(flags.Lookup("features"), featuresKey)

	rootCmd.AddCommand(newAnalyzeCmd(), newFeaturesCmd())
	return rootCmd
}

func newAnalyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze [dirs|jars...]",
		Short: "Report the methods whose mutation points are filtered",
		Example: `  staticinit analyze build/classes            # Analyze a class directory
  staticinit analyze app.jar lib/dep.jar      # Analyze jars
  staticinit analyze --types com.example. .   # Only one package tree
  staticinit analyze --json app.jar > out.json`,
		Args: cobra.MinimumNArgs(1),
		RunE: runAnalyze,
	}

	flags := cmd.Flags()
	flags.Bool("all", false, "List methods without suppressed points too")
	bindFlagToConfig(flags.Lookup("all"), allKey)
	flags.Bool("strict", false, "Panic on internal contract violations instead of failing open")
	bindFlagToConfig(flags.Lookup("strict"), strictKey)
	flags.Int("max-passes", 0, "Reachability pass budget per type (0 selects twice the method count)")
	bindFlagToConfig(flags.Lookup("max-passes"), maxPassesKey)
	flags.Int("parallel", 0, "Types analyzed concurrently (0 selects the CPU count)")
	bindFlagToConfig(flags.Lookup("parallel"), parallelKey)
	flags.StringArrayP("exclude", "x", nil, "Exclude types: a name, a package prefix ending in '.', or re:<regexp> (can be repeated)")
	bindFlagToConfig(flags.Lookup("exclude"), excludeKey)
	flags.StringSlice("types", nil, "Only analyze types with these name prefixes")
	bindFlagToConfig(flags.Lookup("types"), typesKey)
	flags.String("points", "", "YAML file of mutation points (default: one point per instruction)")
	bindFlagToConfig(flags.Lookup("points"), pointsKey)
	flags.StringSlice("methods", nil, "Only generate points in these methods, by name or name+descriptor")
	bindFlagToConfig(flags.Lookup("methods"), methodsKey)
	flags.Bool("fail-on-diagnostics", false, "Exit with status 1 when any type could not be analyzed")
	bindFlagToConfig(flags.Lookup("fail-on-diagnostics"), failOnDiagnosticsKey)
	return cmd
}

func newFeaturesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "features",
		Short: "List the available mutation interceptor features",
		Args:  cobra.NoArgs,
		RunE:  runFeatures,
	}
}

func newRegistry(src source.CodeSource, cfg *Config) (*intercept.Registry, error) {
	opts := staticinit.Options{
		Strict:    cfg.Strict,
		MaxPasses: cfg.MaxPasses,
		Capture:   cfg.Capture,
	}
	return intercept.NewRegistry(staticinit.NewFactory(src, opts))
}

func runFeatures(cmd *cobra.Command, _ []string) error {
	cfg := loadConfig(nil)
	registry, err := newRegistry(source.MapSource{}, &cfg)
	if err != nil {
		return errWithCode(err, exitError)
	}
	settings, err := intercept.ParseSettings(cfg.Features)
	if err != nil {
		return errWithCode(err, exitError)
	}
	chain, err := registry.Chain(settings)
	if err != nil {
		return errWithCode(err, exitError)
	}
	enabled := make(map[string]bool)
	for _, f := range chain.Features() {
		enabled[f.Name] = true
	}

	features := registry.Features()
	if cfg.JSON {
		out := make([]jFeature, len(features))
		for i, f := range features {
			out[i] = jFeature{Feature: f, Enabled: enabled[f.Name]}
		}
		return writeJSON(cmd.OutOrStdout(), out)
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"Feature", "Enabled", "Position", "Description"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetAutoWrapText(false)
	for _, f := range features {
		table.Append([]string{f.Name, fmt.Sprint(enabled[f.Name]), f.Position.String(), f.Description})
	}
	table.Render()
	return nil
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(args)
	slog.Info("starting static initializer analysis", "paths", cfg.Paths)

	result, err := runAnalysis(cmd.Context(), &cfg)
	if err != nil {
		return errWithCode(fmt.Errorf("analyze: %w", err), exitError)
	}

	if err := writeResults(cmd.OutOrStdout(), cmd.ErrOrStderr(), result, &cfg); err != nil {
		return errWithCode(fmt.Errorf("format results: %w", err), exitError)
	}

	if cfg.FailOnDiagnostics && result.Stats.Diagnostics > 0 {
		return errWithCode(nil, exitDiagnostics)
	}
	return nil
}

// Stats summarizes one run.
type Stats struct {
	Types            int           `json:"types"`
	ExcludedTypes    int           `json:"excluded_types"`
	Points           int           `json:"points"`
	SuppressedPoints int           `json:"suppressed_points"`
	FilteredMethods  int           `json:"filtered_methods"`
	Diagnostics      int           `json:"diagnostics"`
	AnalysisDuration time.Duration `json:"analysis_duration"`
}

// Result represents the analysis output of all types.
type Result struct {
	Methods     []scan.FilteredMethod
	Diagnostics []intercept.Diagnostic
	Stats       Stats
}

func runAnalysis(ctx context.Context, cfg *Config) (*Result, error) {
	start := time.Now()

	sources, err := scan.LoadSources(scan.LoaderOptions{Paths: cfg.Paths})
	if err != nil {
		return nil, err
	}
	defer sources.Close()
	names := scan.FilterNames(sources.Names, cfg.Types)
	slog.Info("loaded types", "num", len(names))

	exclusions := suppress.NewChecker()
	if err := exclusions.Load(cfg.Exclude); err != nil {
		return nil, fmt.Errorf("exclusions: %w", err)
	}

	var points map[bytecode.TypeName][]mutation.Point
	if cfg.Points != "" {
		points, err = readPoints(cfg.Points)
		if err != nil {
			return nil, err
		}
	}

	registry, err := newRegistry(sources.Source, cfg)
	if err != nil {
		return nil, err
	}
	settings, err := intercept.ParseSettings(cfg.Features)
	if err != nil {
		return nil, err
	}
	chain, err := registry.Chain(settings)
	if err != nil {
		return nil, err
	}

	analyzer := scan.NewAnalyzer(chain, sources.Source, scan.AnalyzerOptions{
		Points:      points,
		Methods:     cfg.Methods,
		Exclusions:  exclusions,
		Parallelism: cfg.Parallel,
	})
	reports, err := analyzer.Analyze(ctx, names)
	if err != nil {
		return nil, err
	}
	return convertToResult(reports, cfg.All, time.Since(start)), nil
}

func readPoints(path string) (map[bytecode.TypeName][]mutation.Point, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening points: %w", err)
	}
	defer f.Close()
	points, err := mutation.ReadYAML(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return mutation.ByType(points), nil
}

func convertToResult(reports []scan.TypeReport, all bool, dur time.Duration) *Result {
	var r Result
	r.Stats.AnalysisDuration = dur
	for i := range reports {
		report := &reports[i]
		if report.Excluded != "" {
			r.Stats.ExcludedTypes++
			continue
		}
		r.Stats.Types++
		r.Stats.Points += report.Retained + report.Suppressed
		r.Stats.SuppressedPoints += report.Suppressed
		r.Diagnostics = append(r.Diagnostics, report.Diagnostics...)

		for _, m := range report.Filtered(all) {
			if m.Suppressed > 0 && m.Suppressed == m.Points {
				r.Stats.FilteredMethods++
			}
			r.Methods = append(r.Methods, m)
		}
	}
	r.Stats.Diagnostics = len(r.Diagnostics)
	return &r
}

func writeResults(stdout, stderr io.Writer, result *Result, cfg *Config) error {
	if cfg.JSON {
		diags := make([]jDiagnostic, len(result.Diagnostics))
		for i, d := range result.Diagnostics {
			diags[i] = jDiagnostic{Type: d.Type, Feature: d.Feature, Error: d.Err.Error()}
		}
		return writeJSON(stdout, jOutput{
			Methods:     result.Methods,
			Diagnostics: diags,
			Stats:       result.Stats,
			Version:     version,
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
		})
	}

	for _, d := range result.Diagnostics {
		fmt.Fprintf(stderr, "warning: %s\n", d)
	}
	if cfg.Verbose {
		slog.Info("",
			"types", result.Stats.Types,
			"excluded_types", result.Stats.ExcludedTypes,
			"points", result.Stats.Points,
			"suppressed_points", result.Stats.SuppressedPoints,
			"analysis_duration", result.Stats.AnalysisDuration.String())
	}
	if len(result.Methods) == 0 {
		slog.Info("no filtered methods found")
		return nil
	}

	table := tablewriter.NewWriter(stdout)
	table.SetHeader([]string{"Method", "Suppressed", "Reason"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetAutoWrapText(false)
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_CENTER, tablewriter.ALIGN_LEFT})
	for _, m := range result.Methods {
		table.Append([]string{m.Name, fmt.Sprintf("%d/%d", m.Suppressed, m.Points), m.Reason})
	}
	table.SetFooter([]string{
		fmt.Sprintf("Types %d", result.Stats.Types),
		fmt.Sprintf("%d/%d", result.Stats.SuppressedPoints, result.Stats.Points),
		fmt.Sprintf("Filtered methods %d", result.Stats.FilteredMethods),
	})
	table.Render()
	return nil
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling json output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

type jOutput struct {
	Methods     []scan.FilteredMethod `json:"methods"`
	Diagnostics []jDiagnostic         `json:"diagnostics"`
	Stats       Stats                 `json:"stats"`
	Version     string                `json:"version"`
	Timestamp   string                `json:"timestamp"`
}

type jDiagnostic struct {
	Type    bytecode.TypeName `json:"type"`
	Feature string            `json:"feature"`
	Error   string            `json:"error"`
}

type jFeature struct {
	intercept.Feature
	Enabled bool `json:"enabled"`
}

var cpuProfile *os.File

func setup(cmd *cobra.Command, _ []string) error {
	cfg := loadConfig(nil)
	stderr := io.Writer(os.Stderr)
	if cmd != nil {
		stderr = cmd.ErrOrStderr()
	}
	configureLogger(stderr, cfg.Verbose, cfg.JSON)

	if !cfg.Profile {
		return nil
	}

	// Start CPU profiling.
	var err error
	cpuProfile, err = os.Create("cpu.prof")
	if err != nil {
		return fmt.Errorf("creating cpu.prof: %w", err)
	}
	if err := pprof.StartCPUProfile(cpuProfile); err != nil {
		_ = cpuProfile.Close()
		cpuProfile = nil
		return fmt.Errorf("starting CPU profile: %w", err)
	}
	slog.Info("cpu profiling started", "file", "cpu.prof")
	return nil
}

func teardown(_ *cobra.Command, _ []string) error {
	if cpuProfile == nil {
		return nil
	}

	// Stop CPU profiling and close file.
	pprof.StopCPUProfile()
	defer func() {
		_ = cpuProfile.Close()
		cpuProfile = nil
	}()
	slog.Info("cpu profiling stopped", "file", "cpu.prof")

	// Write memory profile.
	memFile, err := os.Create("mem.prof")
	if err != nil {
		return fmt.Errorf("creating mem.prof: %w", err)
	}
	defer memFile.Close()
	runtime.GC() // Get up-to-date statistics
	if err := pprof.WriteHeapProfile(memFile); err != nil {
		return fmt.Errorf("writing memory profile: %w", err)
	}
	slog.Info("memory profiling completed", "file", "mem.prof")
	return nil
}

func errWithCode(err error, code int) error {
	return &codedError{err: err, code: code}
}

type codedError struct {
	err  error
	code int
}

func (e *codedError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return ""
}

func (e *codedError) Unwrap() error {
	return e.err
}
