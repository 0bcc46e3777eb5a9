package harness

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/715d/staticinit/internal/analysis"
	"github.com/715d/staticinit/pkg/bytecode"
	"github.com/715d/staticinit/pkg/classfile"
	"github.com/715d/staticinit/pkg/intercept"
	"github.com/715d/staticinit/pkg/mutation"
	"github.com/715d/staticinit/pkg/source"
	"github.com/715d/staticinit/pkg/staticinit"
)

// Configuration represents a single interceptor configuration to test.
type Configuration struct {
	// Name is a descriptive name for this configuration.
	Name string `yaml:"name"`

	// Features are feature settings such as "-auto_static_initializer".
	Features []string `yaml:"features,omitempty"`

	// MaxPasses overrides the reachability pass budget.
	MaxPasses int `yaml:"max_passes,omitempty"`

	// DeferredInterfaces are added to the default capture policy.
	DeferredInterfaces []string `yaml:"deferred_interfaces,omitempty"`

	// ExpectedFiltered lists the methods whose every mutation point is expected to be suppressed.
	ExpectedFiltered []ExpectedMethod `yaml:"expected_filtered"`

	// ExpectedDiagnostics lists substrings of expected diagnostics.
	ExpectedDiagnostics []string `yaml:"expected_diagnostics,omitempty"`
}

// TestCase represents a single test scenario.
type TestCase struct {
	// Dir is the directory containing the scenario.
	Dir string `yaml:"-"`

	// Description says what the scenario exercises.
	Description string `yaml:"description"`

	// Target is the analyzed type; it defaults to the first type.
	Target string `yaml:"target,omitempty"`

	// Types are assembled into the code source.
	Types []TypeShape `yaml:"types"`

	// Configurations defines multiple interceptor configurations to test.
	Configurations []Configuration `yaml:"configurations"`
}

// ExpectedMethod represents a method expected to be filtered.
type ExpectedMethod struct {
	// Method is the method name followed by its descriptor, e.g. "a()V".
	Method string `yaml:"method"`

	// Reason is the optional expected suppression reason.
	Reason string `yaml:"reason,omitempty"`
}

// TestHarness manages test execution.
type TestHarness struct {
	// names renders display names for failure messages.
	names *analysis.NameCache
}

// NewHarness creates a new test harness.
func NewHarness() *TestHarness {
	return &TestHarness{names: analysis.NewNameCache()}
}

// Run executes a test case with all its configurations.
func (h *TestHarness) Run(t *testing.T, tc *TestCase) *TestResult {
	t.Helper()
	require.NotEmpty(t, tc.Types, "test case has no types")
	require.NotEmpty(t, tc.Configurations, "test case has no configurations")

	src, err := Assemble(tc.Types)
	require.NoError(t, err)

	target := bytecode.TypeName(tc.Target)
	if target == "" {
		target = bytecode.TypeName(tc.Types[0].Name)
	}
	img, ok := src.BytesFor(target)
	require.True(t, ok, "target %s is not among the types", target)
	typ, err := classfile.Decode(img)
	require.NoError(t, err)

	var results []ConfigurationResult
	var allSuccess = true

	// Run each configuration.
	for _, cfg := range tc.Configurations {
		cfgResult := h.runConfiguration(t, src, typ, cfg)
		results = append(results, *cfgResult)
		if !cfgResult.Success {
			allSuccess = false
		}
	}

	// Create overall result message.
	var resultMsg string
	if allSuccess {
		resultMsg = fmt.Sprintf("All %d configurations passed", len(tc.Configurations))
	} else {
		failedCount := 0
		var msgs []string
		for _, cr := range results {
			if !cr.Success {
				failedCount++
				msgs = append(msgs, fmt.Sprintf("[%s] %s:\n  %s",
					cr.Configuration.Name, cr.Message, strings.Join(cr.Details, "\n  ")))
			}
		}
		resultMsg = fmt.Sprintf("%d/%d configurations failed:\n%s",
			failedCount, len(tc.Configurations), strings.Join(msgs, "\n"))
	}

	return &TestResult{
		TestCase:             tc,
		ConfigurationResults: results,
		Success:              allSuccess,
		Message:              resultMsg,
	}
}

// runConfiguration runs the interceptor chain over every instruction of typ
// under a single configuration.
func (h *TestHarness) runConfiguration(t *testing.T, src source.CodeSource, typ *bytecode.TypeBody, cfg Configuration) *ConfigurationResult {
	t.Helper()

	opts := staticinit.DefaultOptions()
	opts.Strict = true
	opts.MaxPasses = cfg.MaxPasses
	opts.Capture.DeferredInterfaces = append(slices.Clone(opts.Capture.DeferredInterfaces), cfg.DeferredInterfaces...)

	registry, err := intercept.NewRegistry(staticinit.NewFactory(source.NewCached(src), opts))
	require.NoError(t, err)
	settings, err := intercept.ParseSettings(cfg.Features)
	require.NoError(t, err)
	chain, err := registry.Chain(settings)
	require.NoError(t, err)

	res := chain.Run(typ.Name, mutation.EveryInstruction(typ))
	return h.validateConfigurationResults(cfg, analysis.Summarize(typ, res, h.names), res.Diagnostics)
}

// validateConfigurationResults compares actual results with expected for a specific configuration.
func (h *TestHarness) validateConfigurationResults(cfg Configuration, methods []*analysis.MethodInfo, diags []intercept.Diagnostic) *ConfigurationResult {
	cfgResult := ConfigurationResult{
		Configuration: cfg,
		Methods:       methods,
	}

	// First validate the configuration has valid expected methods.
	if err := validateExpectedMethods(cfg.ExpectedFiltered); err != nil {
		cfgResult.Success = false
		cfgResult.Message = fmt.Sprintf("Invalid expected.yaml: %v", err)
		cfgResult.Details = []string{err.Error()}
		return &cfgResult
	}

	// Extract filtered methods from result.
	var filtered []FilteredMethod
	for _, mi := range methods {
		if mi.IsFiltered() {
			filtered = append(filtered, FilteredMethod{
				Method:      mi.Key.Name + mi.Key.Desc,
				DisplayName: mi.Name,
				Reason:      mi.Reason(),
			})
		}
	}

	// Compare with expected for this configuration.
	validateResults(&cfgResult, cfg.ExpectedFiltered, filtered)
	validateDiagnostics(&cfgResult, cfg.ExpectedDiagnostics, diags)
	return &cfgResult
}

// ConfigurationResult represents the result of running a single configuration.
type ConfigurationResult struct {
	// Configuration is the configuration that was run.
	Configuration Configuration

	// Methods is the per-method summary of the chain run.
	Methods []*analysis.MethodInfo

	// Success indicates if this configuration passed.
	Success bool

	// Message provides a summary of the result for this configuration.
	Message string

	// Details provides detailed information about failures for this configuration.
	Details []string
}

// TestResult represents the result of running a test case.
type TestResult struct {
	// TestCase is the test case that was run.
	TestCase *TestCase

	// ConfigurationResults contains results for each configuration.
	ConfigurationResults []ConfigurationResult

	// Success indicates if the test passed (all configurations passed)
	Success bool

	// Message provides a summary of the result.
	Message string
}

// FilteredMethod represents a method whose every point was suppressed.
type FilteredMethod struct {
	Method      string
	DisplayName string
	Reason      string
}

// validateExpectedMethods validates that expected methods have required fields
func validateExpectedMethods(expected []ExpectedMethod) error {
	for i, exp := range expected {
		if strings.TrimSpace(exp.Method) == "" {
			return fmt.Errorf("expected method at index %d has empty or missing 'method' field", i)
		}
	}
	return nil
}

func validateResults(cfgResult *ConfigurationResult, expected []ExpectedMethod, actual []FilteredMethod) {
	expectedMap := make(map[string]ExpectedMethod)
	for _, e := range expected {
		expectedMap[e.Method] = e
	}

	actualMap := make(map[string]FilteredMethod)
	for _, a := range actual {
		actualMap[a.Method] = a
	}

	var details []string
	success := true

	// Check for missing expected methods.
	var missing []string
	for key, exp := range expectedMap {
		if _, found := actualMap[key]; !found {
			missing = append(missing, exp.Method)
			success = false
		}
	}

	// Check for unexpected methods.
	var unexpected []string
	for key, act := range actualMap {
		if _, found := expectedMap[key]; !found {
			unexpected = append(unexpected, fmt.Sprintf("%s (%s)", act.DisplayName, act.Reason))
			success = false
		}
	}

	// Sort for consistent output.
	sort.Strings(missing)
	sort.Strings(unexpected)

	for _, m := range missing {
		details = append(details, "Should have been filtered: "+m)
	}
	for _, u := range unexpected {
		details = append(details, "Should have been retained: "+u)
	}

	var mismatched []string
	for key, exp := range expectedMap {
		if act, found := actualMap[key]; found && exp.Reason != "" && exp.Reason != act.Reason {
			mismatched = append(mismatched, fmt.Sprintf(
				"Reason mismatch for %s: expected %q, got %q", exp.Method, exp.Reason, act.Reason))
			success = false
		}
	}
	sort.Strings(mismatched)
	details = append(details, mismatched...)

	var message string
	if success {
		message = fmt.Sprintf("All %d expected filtered methods found", len(expected))
	} else {
		message = fmt.Sprintf("Test failed: %d missing, %d unexpected", len(missing), len(unexpected))
	}

	cfgResult.Success = success
	cfgResult.Message = message
	cfgResult.Details = details
}

// validateDiagnostics requires every expected substring to match one
// diagnostic and every diagnostic to be expected.
func validateDiagnostics(cfgResult *ConfigurationResult, expected []string, diags []intercept.Diagnostic) {
	ok := true
	matched := make([]bool, len(diags))
	for _, exp := range expected {
		found := false
		for i, d := range diags {
			if strings.Contains(d.String(), exp) {
				matched[i] = true
				found = true
			}
		}
		if !found {
			cfgResult.Details = append(cfgResult.Details, "Missing diagnostic: "+exp)
			ok = false
		}
	}
	for i, d := range diags {
		if !matched[i] {
			cfgResult.Details = append(cfgResult.Details, "Unexpected diagnostic: "+d.String())
			ok = false
		}
	}
	if !ok && cfgResult.Success {
		cfgResult.Success = false
		cfgResult.Message = "Test failed: diagnostics differ"
	}
}
