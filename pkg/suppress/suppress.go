// Package suppress implements rule-based exclusion of types from analysis.
package suppress

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/715d/staticinit/pkg/bytecode"
)

// Checker matches type names against exclusion rules.
type Checker struct {
	// suppressions are the parsed rules in load order.
	suppressions []Suppression
}

// Suppression represents a parsed exclusion rule.
type Suppression struct {
	Pattern string
	Reason  string
	Type    SuppressionType

	re *regexp.Regexp
}

// SuppressionType represents the different rule forms.
type SuppressionType int

const (
	// SuppressionExact matches one type name, e.g. "com/example/Foo".
	SuppressionExact SuppressionType = iota

	// SuppressionPrefix matches a package and its subpackages, e.g. "com/example/".
	SuppressionPrefix

	// SuppressionRegexp matches a regular expression, written "re:<expr>".
	SuppressionRegexp
)

const (
	regexpPrefix   = "re:"
	reasonMarker   = "//"
	defaultReason  = "excluded"
	nestedTypeMark = "$"
)

// NewChecker creates a new suppression checker.
func NewChecker() *Checker {
	return &Checker{}
}

// Load parses rules and adds them to the checker. A rule may carry a reason
// after "//". Dotted names are accepted and converted to internal form.
func (sc *Checker) Load(rules []string) error {
	for _, rule := range rules {
		s, err := parseRule(rule)
		if err != nil {
			return err
		}
		if s != nil {
			sc.suppressions = append(sc.suppressions, *s)
		}
	}
	return nil
}

// parseRule parses one rule; blank rules yield nil.
func parseRule(rule string) (*Suppression, error) {
	pattern, reason, _ := strings.Cut(rule, reasonMarker)
	pattern = strings.TrimSpace(pattern)
	reason = strings.TrimSpace(reason)
	if pattern == "" {
		return nil, nil
	}
	if reason == "" {
		reason = defaultReason
	}

	if expr, ok := strings.CutPrefix(pattern, regexpPrefix); ok {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", rule, err)
		}
		return &Suppression{Pattern: expr, Reason: reason, Type: SuppressionRegexp, re: re}, nil
	}

	pattern = string(bytecode.TypeNameOf(pattern))
	if strings.HasSuffix(pattern, "/") {
		return &Suppression{Pattern: pattern, Reason: reason, Type: SuppressionPrefix}, nil
	}
	return &Suppression{Pattern: pattern, Reason: reason, Type: SuppressionExact}, nil
}

// IsSuppressed checks if a type is excluded, returning the reason of the
// first matching rule. An exact rule also covers the type's nested types.
func (sc *Checker) IsSuppressed(name bytecode.TypeName) (bool, string) {
	n := string(name)
	for _, s := range sc.suppressions {
		var hit bool
		switch s.Type {
		case SuppressionExact:
			hit = n == s.Pattern || strings.HasPrefix(n, s.Pattern+nestedTypeMark)
		case SuppressionPrefix:
			hit = strings.HasPrefix(n, s.Pattern)
		case SuppressionRegexp:
			hit = s.re.MatchString(n)
		}
		if hit {
			return true, s.Reason
		}
	}
	return false, ""
}

// Len returns the number of loaded rules.
func (sc *Checker) Len() int {
	return len(sc.suppressions)
}

// Clear clears all rules.
func (sc *Checker) Clear() {
	sc.suppressions = nil
}
