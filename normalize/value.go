// Package normalize recovers {id, translatedText} pairs from whatever JSON a
// language model decides to return.
//
// Model output has no contract: it may be a clean array of objects, an id→text
// map, an array of [id, text] tuples, a wrapper object around any of those,
// a string holding JSON inside a fenced code block, or a full generateContent
// envelope with the payload hidden in a function call or base64 blob. The
// Normalizer walks a parsed Value through an ordered list of extraction
// strategies and returns as many pairs as it can find. It never fails; an
// empty result means the response could not be interpreted.
package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Kind is the variant tag of a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	}
	return "unknown"
}

// Field is one key/value member of an object. Objects keep their members in
// source order so traversal is deterministic.
type Field struct {
	Key   string
	Value *Value
}

// Value is a tagged JSON value. Containers are always handled through
// pointers: the pointer is the container's identity, which is what the cycle
// guard keys on. Two distinct containers with equal contents are different
// values.
type Value struct {
	Kind Kind
	// Bool holds the KindBool payload.
	Bool bool
	// Str holds the KindString payload, or the literal text of a KindNumber.
	Str string
	// Items holds KindArray elements.
	Items []*Value
	// Fields holds KindObject members in source order.
	Fields []Field
}

func Null() *Value             { return &Value{Kind: KindNull} }
func Bool(b bool) *Value       { return &Value{Kind: KindBool, Bool: b} }
func String(s string) *Value   { return &Value{Kind: KindString, Str: s} }
func Number(lit string) *Value { return &Value{Kind: KindNumber, Str: lit} }

// Array returns a new array holding items.
func Array(items ...*Value) *Value {
	return &Value{Kind: KindArray, Items: items}
}

// Object returns a new empty object.
func Object() *Value {
	return &Value{Kind: KindObject}
}

// Set stores value under key, replacing an existing member with the same key.
// It returns the receiver so objects can be built inline.
func (v *Value) Set(key string, value *Value) *Value {
	for i := range v.Fields {
		if v.Fields[i].Key == key {
			v.Fields[i].Value = value
			return v
		}
	}
	v.Fields = append(v.Fields, Field{Key: key, Value: value})
	return v
}

// Append adds elements to an array and returns the receiver.
func (v *Value) Append(items ...*Value) *Value {
	v.Items = append(v.Items, items...)
	return v
}

// Get returns the member stored under key, or nil. It is nil-safe so lookups
// can be chained.
func (v *Value) Get(key string) *Value {
	if v == nil || v.Kind != KindObject {
		return nil
	}
	for _, f := range v.Fields {
		if f.Key == key {
			return f.Value
		}
	}
	return nil
}

// lookup is Get with a case-insensitive second pass.
func (v *Value) lookup(key string) *Value {
	if got := v.Get(key); got != nil {
		return got
	}
	if v == nil || v.Kind != KindObject {
		return nil
	}
	for _, f := range v.Fields {
		if strings.EqualFold(f.Key, key) {
			return f.Value
		}
	}
	return nil
}

// lookupAny returns the first member found under any of keys.
func (v *Value) lookupAny(keys ...string) *Value {
	for _, k := range keys {
		if got := v.lookup(k); got != nil {
			return got
		}
	}
	return nil
}

// IsContainer reports whether v is an array or an object.
func (v *Value) IsContainer() bool {
	return v != nil && (v.Kind == KindArray || v.Kind == KindObject)
}

// IsScalar reports whether v is a string, number or bool.
func (v *Value) IsScalar() bool {
	return v != nil && (v.Kind == KindString || v.Kind == KindNumber || v.Kind == KindBool)
}

// ---------------------------------------------------------------------------
// Parsing
// ---------------------------------------------------------------------------

// Parse decodes a single JSON document into a Value. Trailing non-whitespace
// content is an error, so prose around a JSON fragment makes Parse fail.
func Parse(data []byte) (*Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	v, err := parseValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("trailing data after JSON value")
	}
	return v, nil
}

func parseValue(dec *json.Decoder) (*Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}

	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '[':
			arr := Array()
			for dec.More() {
				item, err := parseValue(dec)
				if err != nil {
					return nil, err
				}
				arr.Items = append(arr.Items, item)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return arr, nil
		case '{':
			obj := Object()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("object key %v is not a string", keyTok)
				}
				val, err := parseValue(dec)
				if err != nil {
					return nil, err
				}
				obj.Set(key, val)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return obj, nil
		}
		return nil, fmt.Errorf("unexpected delimiter %q", rune(t))
	case string:
		return String(t), nil
	case json.Number:
		return Number(t.String()), nil
	case bool:
		return Bool(t), nil
	case nil:
		return Null(), nil
	}
	return nil, fmt.Errorf("unexpected token %T", tok)
}

// ---------------------------------------------------------------------------
// Conversion from decoded Go values
// ---------------------------------------------------------------------------

// FromAny converts a value produced by encoding/json (or built by hand) into
// a Value. Map keys are visited in sorted order. Self-referencing maps and
// slices stay self-referencing: the same Go container always maps to the same
// *Value.
func FromAny(x any) *Value {
	c := &converter{seen: make(map[containerKey]*Value)}
	return c.convert(x)
}

type containerKey struct {
	ptr uintptr
	len int
}

type converter struct {
	seen map[containerKey]*Value
}

func (c *converter) convert(x any) *Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case *Value:
		return t
	case bool:
		return Bool(t)
	case string:
		return String(t)
	case json.Number:
		return Number(t.String())
	case float64:
		return Number(strconv.FormatFloat(t, 'f', -1, 64))
	case float32:
		return Number(strconv.FormatFloat(float64(t), 'f', -1, 32))
	case int:
		return Number(strconv.Itoa(t))
	case int64:
		return Number(strconv.FormatInt(t, 10))
	case []string:
		arr := Array()
		for _, s := range t {
			arr.Items = append(arr.Items, String(s))
		}
		return arr
	case map[string]string:
		obj := Object()
		for _, k := range sortedKeys(t) {
			obj.Set(k, String(t[k]))
		}
		return obj
	case []any:
		key := containerKey{ptr: reflect.ValueOf(t).Pointer(), len: len(t)}
		if v, ok := c.seen[key]; ok && key.ptr != 0 {
			return v
		}
		arr := Array()
		c.seen[key] = arr
		for _, item := range t {
			arr.Items = append(arr.Items, c.convert(item))
		}
		return arr
	case map[string]any:
		key := containerKey{ptr: reflect.ValueOf(t).Pointer()}
		if v, ok := c.seen[key]; ok && key.ptr != 0 {
			return v
		}
		obj := Object()
		c.seen[key] = obj
		for _, k := range sortedKeys(t) {
			obj.Fields = append(obj.Fields, Field{Key: k, Value: c.convert(t[k])})
		}
		return obj
	}
	return String(fmt.Sprint(x))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
