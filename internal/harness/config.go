// Package harness provides test harness infrastructure for validating the
// interceptor chain against assembled type scenarios.
package harness

// TypeShape describes one type to assemble.
type TypeShape struct {
	Name    string        `yaml:"name"`
	Super   string        `yaml:"super,omitempty"`
	Flags   []string      `yaml:"flags"`
	Fields  []FieldShape  `yaml:"fields,omitempty"`
	Methods []MethodShape `yaml:"methods"`
}

// FieldShape describes a declared field.
type FieldShape struct {
	Name  string   `yaml:"name"`
	Desc  string   `yaml:"desc"`
	Flags []string `yaml:"flags"`
}

// MethodShape describes a declared method and its code, one assembly line per
// instruction. Abstract methods have no code.
type MethodShape struct {
	Name  string   `yaml:"name"`
	Desc  string   `yaml:"desc"`
	Flags []string `yaml:"flags"`
	Code  []string `yaml:"code,omitempty"`
}
