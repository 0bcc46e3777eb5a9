package staticinit

import (
	"github.com/715d/staticinit/pkg/intercept"
	"github.com/715d/staticinit/pkg/source"
)

// FeatureName is the stable toggle name of the filter.
const FeatureName = "auto_static_initializer"

// Feature describes the filter to the interceptor registry.
var Feature = intercept.Feature{
	Name:        FeatureName,
	Description: "Filters mutations in code only run during static initialization",
	DefaultOn:   true,
	Position:    intercept.PostGeneration,
}

// Factory creates a fresh Interceptor per analyzed type.
type Factory struct {
	src  source.CodeSource
	opts Options
}

var _ intercept.Factory = (*Factory)(nil)

// NewFactory returns a factory whose interceptors load types from src.
func NewFactory(src source.CodeSource, opts Options) *Factory {
	return &Factory{src: src, opts: opts}
}

func (f *Factory) Feature() intercept.Feature {
	return Feature
}

func (f *Factory) Create() intercept.Interceptor {
	return New(f.src, f.opts)
}
