package analysis

import (
	"strings"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/715d/staticinit/pkg/bytecode"
)

var primitiveNames = map[byte]string{
	'B': "byte",
	'C': "char",
	'D': "double",
	'F': "float",
	'I': "int",
	'J': "long",
	'S': "short",
	'Z': "boolean",
	'V': "void",
}

// NameCache provides efficient caching of source-form method and type names
// rendered from internal names and descriptors.
type NameCache struct {
	methodCache *xsync.Map[bytecode.MethodKey, string]
	typeCache   *xsync.Map[string, string]
}

func NewNameCache() *NameCache {
	return &NameCache{
		methodCache: xsync.NewMap[bytecode.MethodKey, string](),
		typeCache:   xsync.NewMap[string, string](),
	}
}

// ComputeMethodName renders a method key as owner.name(params), e.g.
// "com.example.Foo.helper(int, java.lang.String[])". Malformed descriptors
// are appended verbatim.
func (c *NameCache) ComputeMethodName(k bytecode.MethodKey) string {
	name, ok := c.methodCache.Load(k)
	if ok {
		return name
	}
	name = c.computeMethodName(k)
	c.methodCache.Store(k, name)
	return name
}

// ComputeTypeName renders one field descriptor in source form: "I" is "int",
// "[Ljava/lang/String;" is "java.lang.String[]". Malformed descriptors are
// returned unchanged.
func (c *NameCache) ComputeTypeName(desc string) string {
	if desc == "" {
		return ""
	}
	name, ok := c.typeCache.Load(desc)
	if ok {
		return name
	}
	name = desc
	if n, rest, ok := parseFieldType(desc); ok && rest == "" {
		name = n
	}
	c.typeCache.Store(desc, name)
	return name
}

func (c *NameCache) computeMethodName(k bytecode.MethodKey) string {
	var builder strings.Builder
	builder.Grow(128)
	if k.Owner != "" {
		builder.WriteString(k.Owner.Dotted())
		builder.WriteByte('.')
	}
	builder.WriteString(k.Name)

	params, ok := parseParams(k.Desc)
	if !ok {
		builder.WriteString(k.Desc)
		return builder.String()
	}
	builder.WriteByte('(')
	for i, p := range params {
		if i > 0 {
			builder.WriteString(", ")
		}
		builder.WriteString(c.ComputeTypeName(p))
	}
	builder.WriteByte(')')
	return builder.String()
}

// parseParams splits the parameter list of a method descriptor into field
// descriptors.
func parseParams(desc string) ([]string, bool) {
	rest, ok := strings.CutPrefix(desc, "(")
	if !ok {
		return nil, false
	}
	var params []string
	for !strings.HasPrefix(rest, ")") {
		_, next, ok := parseFieldType(rest)
		if !ok {
			return nil, false
		}
		params = append(params, rest[:len(rest)-len(next)])
		rest = next
	}
	return params, true
}

// parseFieldType renders the field descriptor at the start of s and returns
// the unconsumed remainder.
func parseFieldType(s string) (string, string, bool) {
	dims := 0
	for dims < len(s) && s[dims] == '[' {
		dims++
	}
	if dims == len(s) {
		return "", "", false
	}

	var base, rest string
	switch c := s[dims]; c {
	case 'L':
		end := strings.IndexByte(s[dims:], ';')
		if end < 2 {
			return "", "", false
		}
		base = bytecode.TypeName(s[dims+1 : dims+end]).Dotted()
		rest = s[dims+end+1:]
	default:
		prim, ok := primitiveNames[c]
		if !ok || (c == 'V' && dims > 0) {
			return "", "", false
		}
		base, rest = prim, s[dims+1:]
	}
	return base + strings.Repeat("[]", dims), rest, true
}
