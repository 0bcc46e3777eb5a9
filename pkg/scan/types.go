// Package scan runs the interceptor chain over every type of a code source.
package scan

import (
	"github.com/715d/staticinit/internal/analysis"
	"github.com/715d/staticinit/pkg/bytecode"
	"github.com/715d/staticinit/pkg/intercept"
)

// FilteredMethod represents a method with suppressed mutation points.
type FilteredMethod struct {
	Type       bytecode.TypeName `json:"type"`
	Method     string            `json:"method"`
	Name       string            `json:"name"`
	Reason     string            `json:"reason"`
	Points     int               `json:"points"`
	Suppressed int               `json:"suppressed"`
}

// TypeReport is the outcome of one type.
type TypeReport struct {
	Type bytecode.TypeName

	// Methods summarizes every declared method; nil when the type could not
	// be decoded.
	Methods []*analysis.MethodInfo

	Retained    int
	Suppressed  int
	Diagnostics []intercept.Diagnostic

	// Excluded is the exclusion reason of a skipped type.
	Excluded string
}

// Filtered returns the methods the report should list.
func (r *TypeReport) Filtered(all bool) []FilteredMethod {
	var out []FilteredMethod
	for _, mi := range r.Methods {
		if !mi.ShouldReport(all) {
			continue
		}
		out = append(out, FilteredMethod{
			Type:       r.Type,
			Method:     mi.Key.Name + mi.Key.Desc,
			Name:       mi.Name,
			Reason:     mi.Reason(),
			Points:     mi.Points,
			Suppressed: mi.Suppressed,
		})
	}
	return out
}
