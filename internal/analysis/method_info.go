// Package analysis provides per-method summaries of an interceptor chain run.
package analysis

import (
	"slices"
	"strings"

	"github.com/715d/staticinit/pkg/bytecode"
	"github.com/715d/staticinit/pkg/intercept"
	"github.com/715d/staticinit/pkg/mutation"
)

// MethodInfo represents what the interceptor chain decided for one method.
type MethodInfo struct {
	// Key identifies the method.
	Key bytecode.MethodKey

	// Name is the source-form display name, e.g. "com.example.Foo.helper(int)".
	Name string

	// Flags are the method's access flags.
	Flags bytecode.AccessFlags

	// Points is the number of mutation points located in the method.
	Points int

	// Suppressed is the number of those points dropped by an interceptor.
	Suppressed int

	// Reasons lists the distinct suppression reasons in first-seen order.
	Reasons []string
}

// NewMethodInfo creates a MethodInfo with no points for m.
func NewMethodInfo(m *bytecode.MethodBody, nameCache *NameCache) *MethodInfo {
	return &MethodInfo{
		Key:   m.Key,
		Name:  nameCache.ComputeMethodName(m.Key),
		Flags: m.Flags,
	}
}

// IsFiltered reports whether every point of the method was suppressed.
func (mi *MethodInfo) IsFiltered() bool {
	return mi.Points > 0 && mi.Suppressed == mi.Points
}

// Reason joins the suppression reasons.
func (mi *MethodInfo) Reason() string {
	return strings.Join(mi.Reasons, "; ")
}

// ShouldReport determines if this method belongs in a report. Methods with
// suppressed points are always reported; the rest only when all is set and
// they have points at all.
func (mi *MethodInfo) ShouldReport(all bool) bool {
	if mi.Suppressed > 0 {
		return true
	}
	return all && mi.Points > 0
}

func (mi *MethodInfo) addSuppressed(p mutation.Point) {
	mi.Points++
	mi.Suppressed++
	for _, tag := range p.Tags {
		if !slices.Contains(mi.Reasons, tag.Reason) {
			mi.Reasons = append(mi.Reasons, tag.Reason)
		}
	}
}

// Summarize builds one MethodInfo per method of t, in declaration order,
// counting the points of res. Points located outside t are ignored.
func Summarize(t *bytecode.TypeBody, res intercept.Result, nameCache *NameCache) []*MethodInfo {
	out := make([]*MethodInfo, 0, len(t.Methods))
	byKey := make(map[bytecode.MethodKey]*MethodInfo, len(t.Methods))
	for _, m := range t.Methods {
		if _, dup := byKey[m.Key]; dup {
			continue
		}
		mi := NewMethodInfo(m, nameCache)
		byKey[m.Key] = mi
		out = append(out, mi)
	}

	for _, p := range res.Retained {
		if mi, ok := byKey[p.Location]; ok {
			mi.Points++
		}
	}
	for _, p := range res.Suppressed {
		if mi, ok := byKey[p.Location]; ok {
			mi.addSuppressed(p)
		}
	}
	return out
}
