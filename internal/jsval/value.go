package jsval

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/dop251/goja"
	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"
)

type undefinedType struct{}

// Undefined renders as void(0). Use it to keep positional argument slots
// aligned where nil (null) would change meaning.
var Undefined = undefinedType{}

// Symbol stands in for a JavaScript symbol. Symbols cannot cross realms, so
// serializing one always fails; the type exists so callers can model it.
type Symbol struct {
	Description string
}

// ErrNotFunction is returned by ParseFunction for text that is not a single
// function expression.
var ErrNotFunction = errors.New("jsval: not a function expression")

// Function is JavaScript function source that has been checked to parse as a
// single function or arrow function expression.
type Function struct {
	source string
}

// ParseFunction validates src with the goja parser.
func ParseFunction(src string) (Function, error) {
	trimmed := strings.TrimSpace(src)
	if trimmed == "" {
		return Function{}, fmt.Errorf("%w: empty source", ErrNotFunction)
	}

	prog, err := parser.ParseFile(nil, "", "("+trimmed+"\n)", 0)
	if err != nil {
		return Function{}, fmt.Errorf("%w: %v", ErrNotFunction, err)
	}
	if len(prog.Body) != 1 {
		return Function{}, fmt.Errorf("%w: %d statements", ErrNotFunction, len(prog.Body))
	}
	stmt, ok := prog.Body[0].(*ast.ExpressionStatement)
	if !ok {
		return Function{}, ErrNotFunction
	}
	switch stmt.Expression.(type) {
	case *ast.FunctionLiteral, *ast.ArrowFunctionLiteral:
		return Function{source: trimmed}, nil
	default:
		return Function{}, fmt.Errorf("%w: got %T", ErrNotFunction, stmt.Expression)
	}
}

// MustFunction is ParseFunction for package-level function sources. It panics
// on invalid input.
func MustFunction(src string) Function {
	fn, err := ParseFunction(src)
	if err != nil {
		panic(err)
	}
	return fn
}

// Source returns the function text exactly as parsed.
func (f Function) Source() string { return f.source }

// IsZero reports whether f was never parsed.
func (f Function) IsZero() bool { return f.source == "" }

// Expr returns the source in a form safe to follow with more tokens: a
// trailing line comment gets a newline so it cannot swallow what comes next.
func (f Function) Expr() string {
	last := f.source
	if i := strings.LastIndexByte(last, '\n'); i >= 0 {
		last = last[i+1:]
	}
	if strings.Contains(last, "//") {
		return f.source + "\n"
	}
	return f.source
}

// RegExp is a JavaScript regular expression literal.
type RegExp struct {
	Pattern string
	Flags   string
}

const regexpFlags = "dgimsuvy"

func (r RegExp) literal() (string, error) {
	seen := make(map[rune]bool, len(r.Flags))
	for _, f := range r.Flags {
		if !strings.ContainsRune(regexpFlags, f) || seen[f] {
			return "", fmt.Errorf("invalid regular expression flags %q", r.Flags)
		}
		seen[f] = true
	}
	if seen['u'] && seen['v'] {
		return "", fmt.Errorf("invalid regular expression flags %q", r.Flags)
	}

	pattern := r.Pattern
	if pattern == "" {
		pattern = "(?:)"
	}

	var b strings.Builder
	b.WriteByte('/')
	inClass, escaped := false, false
	for _, c := range pattern {
		switch {
		case escaped:
			escaped = false
		case c == '\\':
			escaped = true
		case c == '[':
			inClass = true
		case c == ']':
			inClass = false
		case c == '/' && !inClass:
			b.WriteString(`\/`)
			continue
		}
		switch c {
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\u2028':
			b.WriteString(`\u2028`)
		case '\u2029':
			b.WriteString(`\u2029`)
		default:
			b.WriteRune(c)
		}
	}
	if escaped {
		return "", fmt.Errorf("regular expression %q ends with a backslash", r.Pattern)
	}
	b.WriteByte('/')
	b.WriteString(r.Flags)

	lit := b.String()
	if _, err := goja.Compile("", "var re = "+lit+";", false); err != nil {
		return "", fmt.Errorf("invalid regular expression %s: %v", lit, err)
	}
	return lit, nil
}

var leadingFlags = regexp.MustCompile(`^\(\?([ims]+)\)`)

// FromRegexp converts a Go regular expression to JavaScript. A leading
// (?ims) group becomes literal flags, (?P<name>) becomes (?<name>), and \A
// and \z become ^ and $ when the m flag is off. Other RE2 constructs with no
// JavaScript equivalent are rejected rather than left to mean something else.
func FromRegexp(re *regexp.Regexp) (RegExp, error) {
	src := re.String()

	var flags string
	if m := leadingFlags.FindStringSubmatch(src); m != nil {
		for _, f := range m[1] {
			if !strings.ContainsRune(flags, f) {
				flags += string(f)
			}
		}
		src = src[len(m[0]):]
	}
	multiline := strings.ContainsRune(flags, 'm')

	unsupported := func(construct string) (RegExp, error) {
		return RegExp{}, fmt.Errorf("regular expression %q: %s has no JavaScript equivalent", re.String(), construct)
	}

	var b strings.Builder
	inClass := false
	for i := 0; i < len(src); i++ {
		c := src[i]
		switch {
		case c == '\\' && i+1 < len(src):
			next := src[i+1]
			switch {
			case next == 'A' || next == 'z':
				if inClass || multiline {
					return unsupported(`\` + string(next))
				}
				if next == 'A' {
					b.WriteByte('^')
				} else {
					b.WriteByte('$')
				}
			case strings.IndexByte("QECpP", next) >= 0:
				return unsupported(`\` + string(next))
			case next == 'x' && i+2 < len(src) && src[i+2] == '{':
				return unsupported(`\x{...}`)
			default:
				b.WriteByte(c)
				b.WriteByte(next)
			}
			i++
			continue
		case inClass:
			if c == '[' && i+1 < len(src) && src[i+1] == ':' {
				return unsupported("POSIX class")
			}
			if c == ']' {
				inClass = false
			}
		case c == '[':
			inClass = true
			b.WriteByte(c)
			if i+1 < len(src) && src[i+1] == '^' {
				b.WriteByte('^')
				i++
			}
			// RE2 reads a leading ] as a literal; JavaScript reads [] as an
			// empty class.
			if i+1 < len(src) && src[i+1] == ']' {
				b.WriteString(`\]`)
				i++
			}
			continue
		case c == '(' && strings.HasPrefix(src[i:], "(?"):
			rest := src[i+2:]
			switch {
			case strings.HasPrefix(rest, ":"), strings.HasPrefix(rest, "<"):
			case strings.HasPrefix(rest, "P<"):
				b.WriteString("(?<")
				i += len("(?P<") - 1
				continue
			default:
				return unsupported("inline flag group")
			}
		}
		b.WriteByte(c)
	}
	return RegExp{Pattern: b.String(), Flags: flags}, nil
}

// Pair is one key/value entry of an Object.
type Pair struct {
	Key   string
	Value any
}

// Object is a string-keyed map that remembers insertion order, the way a
// JavaScript object enumerates its own string keys.
type Object struct {
	keys   []string
	values map[string]any
}

// NewObject builds an Object from pairs, in order.
func NewObject(pairs ...Pair) *Object {
	o := &Object{values: make(map[string]any, len(pairs))}
	for _, p := range pairs {
		o.Set(p.Key, p.Value)
	}
	return o
}

// Set stores value under key. Re-setting an existing key keeps its position.
func (o *Object) Set(key string, value any) *Object {
	if o.values == nil {
		o.values = make(map[string]any)
	}
	if _, ok := o.values[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.values[key] = value
	return o
}

// Get returns the value stored under key.
func (o *Object) Get(key string) (any, bool) {
	v, ok := o.values[key]
	return v, ok
}

// Delete removes key.
func (o *Object) Delete(key string) {
	if _, ok := o.values[key]; !ok {
		return
	}
	delete(o.values, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (o *Object) Keys() []string {
	return append([]string(nil), o.keys...)
}

// Len returns the number of keys.
func (o *Object) Len() int { return len(o.keys) }
