package suppress

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/715d/staticinit/pkg/bytecode"
)

func TestParseRule(t *testing.T) {
	tests := []struct {
		name     string
		rule     string
		expected *Suppression
	}{
		{
			name:     "exact internal name",
			rule:     "com/example/Foo",
			expected: &Suppression{Pattern: "com/example/Foo", Reason: "excluded", Type: SuppressionExact},
		},
		{
			name:     "dotted name with reason",
			rule:     "com.example.Foo // generated",
			expected: &Suppression{Pattern: "com/example/Foo", Reason: "generated", Type: SuppressionExact},
		},
		{
			name:     "package prefix",
			rule:     "com.example.gen.",
			expected: &Suppression{Pattern: "com/example/gen/", Reason: "excluded", Type: SuppressionPrefix},
		},
		{
			name:     "blank",
			rule:     "   ",
			expected: nil,
		},
		{
			name:     "reason only",
			rule:     "// nothing",
			expected: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := parseRule(tt.rule)
			require.NoError(t, err)
			require.Equal(t, tt.expected, s)
		})
	}
}

func TestParseRule_Regexp(t *testing.T) {
	s, err := parseRule(`re:.*Test$ // tests`)
	require.NoError(t, err)
	require.Equal(t, SuppressionRegexp, s.Type)
	require.Equal(t, ".*Test$", s.Pattern)
	require.Equal(t, "tests", s.Reason)

	_, err = parseRule("re:([")
	require.Error(t, err)
}

func TestChecker_IsSuppressed(t *testing.T) {
	sc := NewChecker()
	require.NoError(t, sc.Load([]string{
		"com/example/Foo // legacy",
		"com/example/gen/",
		`re:^org/.*Builder$`,
	}))
	require.Equal(t, 3, sc.Len())

	tests := []struct {
		name       bytecode.TypeName
		suppressed bool
		reason     string
	}{
		{"com/example/Foo", true, "legacy"},
		{"com/example/Foo$Inner", true, "legacy"},
		{"com/example/FooBar", false, ""},
		{"com/example/gen/Model", true, "excluded"},
		{"com/example/gen/deep/Model", true, "excluded"},
		{"org/acme/WidgetBuilder", true, "excluded"},
		{"org/acme/Widget", false, ""},
	}
	for _, tt := range tests {
		t.Run(string(tt.name), func(t *testing.T) {
			suppressed, reason := sc.IsSuppressed(tt.name)
			require.Equal(t, tt.suppressed, suppressed)
			require.Equal(t, tt.reason, reason)
		})
	}

	sc.Clear()
	suppressed, _ := sc.IsSuppressed("com/example/Foo")
	require.False(t, suppressed)
}

func TestChecker_LoadError(t *testing.T) {
	sc := NewChecker()
	err := sc.Load([]string{"com/example/Ok", "re:(unclosed"})
	require.ErrorContains(t, err, "re:(unclosed")
	require.Equal(t, 1, sc.Len())
}
