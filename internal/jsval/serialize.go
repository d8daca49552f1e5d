package jsval

import (
	"fmt"
	"math"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// Serializer renders values as JavaScript source. The zero value is strict.
type Serializer struct {
	lenient bool
	logger  *zap.Logger
}

// Option configures a Serializer.
type Option func(*Serializer)

// WithLenient makes unsupported values render as void(0) instead of failing.
// Each substitution is logged at warn level on logger.
func WithLenient(logger *zap.Logger) Option {
	return func(s *Serializer) {
		s.lenient = true
		s.logger = logger
	}
}

// New creates a Serializer.
func New(opts ...Option) *Serializer {
	s := &Serializer{}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

var strict = New()

// Serialize renders v with a strict Serializer.
func Serialize(v any) (string, error) {
	return strict.Serialize(v)
}

// Serialize renders v as a JavaScript expression.
func (s *Serializer) Serialize(v any) (string, error) {
	e := &encoder{
		s:        s,
		path:     []string{"$"},
		visiting: make(map[visitKey]struct{}),
	}
	if err := e.encode(v); err != nil {
		return "", err
	}
	return e.b.String(), nil
}

// Lenient reports whether unsupported values are replaced rather than rejected.
func (s *Serializer) Lenient() bool { return s.lenient }

type visitKey struct {
	ptr uintptr
	typ reflect.Type
	len int
}

type encoder struct {
	s        *Serializer
	b        strings.Builder
	level    int
	path     []string
	visiting map[visitKey]struct{}
}

var timeType = reflect.TypeOf(time.Time{})

func (e *encoder) encode(v any) error {
	switch x := v.(type) {
	case nil:
		e.b.WriteString("null")
	case undefinedType:
		e.b.WriteString("void(0)")
	case Symbol, *Symbol:
		return e.unsupported(v, ErrUnsupported)
	case Function:
		return e.function(x)
	case *Function:
		if x == nil {
			e.b.WriteString("null")
			return nil
		}
		return e.function(*x)
	case RegExp:
		return e.regexpLiteral(x)
	case *RegExp:
		if x == nil {
			e.b.WriteString("null")
			return nil
		}
		return e.regexpLiteral(*x)
	case *regexp.Regexp:
		if x == nil {
			e.b.WriteString("null")
			return nil
		}
		r, err := FromRegexp(x)
		if err != nil {
			return e.unsupported(x, fmt.Errorf("%w: %v", ErrUnsupported, err))
		}
		return e.regexpLiteral(r)
	case time.Time:
		e.date(x)
	case *Object:
		if x == nil {
			e.b.WriteString("null")
			return nil
		}
		return e.object(x)
	case Object:
		return e.object(&x)
	case string:
		e.quote(x)
	case bool:
		if x {
			e.b.WriteString("true")
		} else {
			e.b.WriteString("false")
		}
	case float64:
		e.number(x, 64)
	case int:
		e.b.WriteString(strconv.Itoa(x))
	default:
		return e.reflected(reflect.ValueOf(v))
	}
	return nil
}

func (e *encoder) reflected(rv reflect.Value) error {
	switch rv.Kind() {
	case reflect.Bool:
		e.b.WriteString(strconv.FormatBool(rv.Bool()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		e.b.WriteString(strconv.FormatInt(rv.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		e.b.WriteString(strconv.FormatUint(rv.Uint(), 10))
	case reflect.Float32:
		e.number(rv.Float(), 32)
	case reflect.Float64:
		e.number(rv.Float(), 64)
	case reflect.String:
		e.quote(rv.String())
	case reflect.Slice:
		if rv.IsNil() {
			e.b.WriteString("null")
			return nil
		}
		key := visitKey{ptr: rv.Pointer(), typ: rv.Type(), len: rv.Len()}
		return e.guard(rv, key, func() error { return e.array(rv) })
	case reflect.Array:
		return e.array(rv)
	case reflect.Map:
		if rv.IsNil() {
			e.b.WriteString("null")
			return nil
		}
		key := visitKey{ptr: rv.Pointer(), typ: rv.Type()}
		return e.guard(rv, key, func() error { return e.mapping(rv) })
	case reflect.Struct:
		if rv.Type().ConvertibleTo(timeType) {
			e.date(rv.Convert(timeType).Interface().(time.Time))
			return nil
		}
		return e.structure(rv)
	case reflect.Pointer:
		if rv.IsNil() {
			e.b.WriteString("null")
			return nil
		}
		key := visitKey{ptr: rv.Pointer(), typ: rv.Type()}
		return e.guard(rv, key, func() error { return e.value(rv.Elem()) })
	case reflect.Interface:
		if rv.IsNil() {
			e.b.WriteString("null")
			return nil
		}
		return e.value(rv.Elem())
	default:
		return e.unsupported(rv, ErrUnsupported)
	}
	return nil
}

// value re-enters encode so that the special types are recognised at any depth.
func (e *encoder) value(rv reflect.Value) error {
	if !rv.IsValid() {
		e.b.WriteString("null")
		return nil
	}
	if rv.CanInterface() {
		return e.encode(rv.Interface())
	}
	return e.reflected(rv)
}

func (e *encoder) guard(rv reflect.Value, key visitKey, body func() error) error {
	if _, ok := e.visiting[key]; ok {
		return e.unsupported(rv, ErrCircular)
	}
	e.visiting[key] = struct{}{}
	defer delete(e.visiting, key)
	return body()
}

func (e *encoder) array(rv reflect.Value) error {
	return e.list('[', ']', rv.Len(), func(i int) error {
		e.push("[" + strconv.Itoa(i) + "]")
		defer e.pop()
		return e.value(rv.Index(i))
	})
}

func (e *encoder) mapping(rv reflect.Value) error {
	type entry struct {
		key   string
		value reflect.Value
	}
	entries := make([]entry, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		k := iter.Key()
		var name string
		switch k.Kind() {
		case reflect.String:
			name = k.String()
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			name = strconv.FormatInt(k.Int(), 10)
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			name = strconv.FormatUint(k.Uint(), 10)
		default:
			return e.unsupported(rv, fmt.Errorf("%w: map key type %s", ErrUnsupported, k.Type()))
		}
		entries = append(entries, entry{key: name, value: iter.Value()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

	return e.list('{', '}', len(entries), func(i int) error {
		return e.member(entries[i].key, func() error { return e.value(entries[i].value) })
	})
}

func (e *encoder) object(o *Object) error {
	key := visitKey{ptr: reflect.ValueOf(o).Pointer(), typ: reflect.TypeOf(o)}
	return e.guard(reflect.ValueOf(o), key, func() error {
		return e.list('{', '}', len(o.keys), func(i int) error {
			k := o.keys[i]
			return e.member(k, func() error { return e.encode(o.values[k]) })
		})
	})
}

type field struct {
	name      string
	index     []int
	omitEmpty bool
}

func structFields(t reflect.Type) []field {
	var fields []field
	for _, f := range reflect.VisibleFields(t) {
		if !f.IsExported() {
			continue
		}
		if f.Anonymous && f.Type.Kind() == reflect.Struct {
			continue
		}
		name := f.Name
		omitEmpty := false
		if tag, ok := f.Tag.Lookup("json"); ok {
			if tag == "-" {
				continue
			}
			parts := strings.Split(tag, ",")
			if parts[0] != "" {
				name = parts[0]
			}
			for _, opt := range parts[1:] {
				if opt == "omitempty" {
					omitEmpty = true
				}
			}
		}
		fields = append(fields, field{name: name, index: f.Index, omitEmpty: omitEmpty})
	}
	return fields
}

func (e *encoder) structure(rv reflect.Value) error {
	fields := structFields(rv.Type())
	type member struct {
		name  string
		value reflect.Value
	}
	members := make([]member, 0, len(fields))
	for _, f := range fields {
		fv, err := rv.FieldByIndexErr(f.index)
		if err != nil || !fv.CanInterface() {
			continue
		}
		if f.omitEmpty && fv.IsZero() {
			continue
		}
		members = append(members, member{name: f.name, value: fv})
	}

	return e.list('{', '}', len(members), func(i int) error {
		return e.member(members[i].name, func() error { return e.value(members[i].value) })
	})
}

func (e *encoder) member(key string, value func() error) error {
	// A literal "__proto__" key sets the prototype instead of defining a
	// property; the computed form always defines an own property.
	if key == "__proto__" {
		e.b.WriteByte('[')
		e.quote(key)
		e.b.WriteByte(']')
	} else {
		e.quote(key)
	}
	e.b.WriteString(": ")
	e.push(memberPath(key))
	defer e.pop()
	return value()
}

var identifier = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

func memberPath(key string) string {
	if identifier.MatchString(key) {
		return "." + key
	}
	return "[" + strconv.Quote(key) + "]"
}

// list writes a bracketed, indented listing. Empty listings stay on one line.
func (e *encoder) list(open, close byte, n int, item func(i int) error) error {
	e.b.WriteByte(open)
	if n == 0 {
		e.b.WriteByte(close)
		return nil
	}
	e.level++
	for i := 0; i < n; i++ {
		e.newline()
		if err := item(i); err != nil {
			return err
		}
		if i < n-1 {
			e.b.WriteByte(',')
		}
	}
	e.level--
	e.newline()
	e.b.WriteByte(close)
	return nil
}

func (e *encoder) newline() {
	e.b.WriteByte('\n')
	for i := 0; i < e.level; i++ {
		e.b.WriteString("  ")
	}
}

func (e *encoder) number(f float64, bits int) {
	switch {
	case math.IsNaN(f):
		e.b.WriteString("Number.NaN")
	case math.IsInf(f, 1):
		e.b.WriteString("1/0")
	case math.IsInf(f, -1):
		e.b.WriteString("1/-0")
	default:
		var out []byte
		if bits == 32 {
			out, _ = json.Marshal(float32(f))
		} else {
			out, _ = json.Marshal(f)
		}
		e.b.Write(out)
	}
}

func (e *encoder) quote(s string) {
	out, _ := json.Marshal(s)
	e.b.Write(out)
}

func (e *encoder) function(f Function) error {
	if f.IsZero() {
		return e.unsupported(f, fmt.Errorf("%w: empty function", ErrUnsupported))
	}
	e.b.WriteString(f.Expr())
	return nil
}

func (e *encoder) regexpLiteral(r RegExp) error {
	lit, err := r.literal()
	if err != nil {
		return e.unsupported(r, fmt.Errorf("%w: %v", ErrUnsupported, err))
	}
	e.b.WriteString(lit)
	return nil
}

// date renders t as Date.prototype.toJSON would: UTC, millisecond precision,
// six-digit signed years outside 0000-9999.
func (e *encoder) date(t time.Time) {
	u := t.UTC()
	year := u.Year()
	var ys string
	switch {
	case year >= 0 && year <= 9999:
		ys = fmt.Sprintf("%04d", year)
	case year < 0:
		ys = fmt.Sprintf("-%06d", -year)
	default:
		ys = fmt.Sprintf("+%06d", year)
	}
	fmt.Fprintf(&e.b, `new Date("%s-%02d-%02dT%02d:%02d:%02d.%03dZ")`,
		ys, u.Month(), u.Day(), u.Hour(), u.Minute(), u.Second(), u.Nanosecond()/int(time.Millisecond))
}

func (e *encoder) push(segment string) { e.path = append(e.path, segment) }
func (e *encoder) pop()                { e.path = e.path[:len(e.path)-1] }

func (e *encoder) unsupported(v any, cause error) error {
	typ := "<nil>"
	switch x := v.(type) {
	case reflect.Value:
		if x.IsValid() {
			typ = x.Type().String()
		}
	default:
		typ = fmt.Sprintf("%T", v)
	}
	err := &SerializationError{Path: strings.Join(e.path, ""), Type: typ, Err: cause}
	if !e.s.lenient {
		return err
	}
	e.s.logger.Warn("Replacing unserializable value with undefined",
		zap.String("path", err.Path),
		zap.String("type", err.Type),
		zap.Error(cause))
	e.b.WriteString("void(0)")
	return nil
}
