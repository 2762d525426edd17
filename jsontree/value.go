// Package jsontree provides an order-preserving JSON document model.
//
// Documents are trees of Value nodes. Objects keep the insertion order of
// their keys so that a document read from disk, modified in place and
// written back keeps the layout its producer chose.
package jsontree

import (
	"bytes"
	"encoding/json"
	"iter"
	"strconv"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Kind identifies the variant held by a Value.
type Kind int

// Value kinds.
const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// String returns the JSON type name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is a node of a JSON document. The set of implementations is closed:
// Null, Bool, Number, String, *Array and *Object.
type Value interface {
	json.Marshaler
	Kind() Kind
	isValue()
}

// Null is the JSON null literal.
type Null struct{}

// Bool is a JSON boolean.
type Bool bool

// Number is a JSON number kept in its literal form, so integers stay
// integers when a document is written back.
type Number string

// String is a JSON string.
type String string

// Int returns the Number for i.
func Int(i int64) Number { return Number(strconv.FormatInt(i, 10)) }

// Float returns the Number for f.
func Float(f float64) Number { return Number(strconv.FormatFloat(f, 'g', -1, 64)) }

func (Null) Kind() Kind   { return KindNull }
func (Bool) Kind() Kind   { return KindBool }
func (Number) Kind() Kind { return KindNumber }
func (String) Kind() Kind { return KindString }

func (Null) isValue()   {}
func (Bool) isValue()   {}
func (Number) isValue() {}
func (String) isValue() {}

// MarshalJSON implements json.Marshaler.
func (Null) MarshalJSON() ([]byte, error) { return []byte("null"), nil }

// MarshalJSON implements json.Marshaler.
func (b Bool) MarshalJSON() ([]byte, error) { return strconv.AppendBool(nil, bool(b)), nil }

// MarshalJSON implements json.Marshaler.
func (n Number) MarshalJSON() ([]byte, error) {
	if n == "" {
		return []byte("0"), nil
	}
	return []byte(n), nil
}

// MarshalJSON implements json.Marshaler.
func (s String) MarshalJSON() ([]byte, error) { return marshalString(string(s)) }

// Int64 parses the number as an integer.
func (n Number) Int64() (int64, error) { return strconv.ParseInt(string(n), 10, 64) }

// Float64 parses the number as a float.
func (n Number) Float64() (float64, error) { return strconv.ParseFloat(string(n), 64) }

// Array is a JSON array. It is always handled by pointer so that appending
// to an array reached through its parent mutates the parent's document.
type Array struct {
	Items []Value
}

// NewArray returns an array holding items.
func NewArray(items ...Value) *Array {
	return &Array{Items: items}
}

func (*Array) Kind() Kind { return KindArray }
func (*Array) isValue()   {}

// Len returns the number of items.
func (a *Array) Len() int { return len(a.Items) }

// At returns the item at index i, or false when i is out of range.
func (a *Array) At(i int) (Value, bool) {
	if i < 0 || i >= len(a.Items) {
		return nil, false
	}
	return a.Items[i], true
}

// Append adds items to the end of the array.
func (a *Array) Append(items ...Value) {
	a.Items = append(a.Items, items...)
}

// MarshalJSON implements json.Marshaler.
func (a *Array) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, item := range a.Items {
		if i > 0 {
			buf.WriteByte(',')
		}
		b, err := valueOrNull(item).MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// Object is a JSON object with ordered keys.
type Object struct {
	fields *orderedmap.OrderedMap[string, Value]
}

// NewObject returns an empty object.
func NewObject() *Object {
	return &Object{fields: orderedmap.New[string, Value]()}
}

func (*Object) Kind() Kind { return KindObject }
func (*Object) isValue()   {}

func (o *Object) m() *orderedmap.OrderedMap[string, Value] {
	if o.fields == nil {
		o.fields = orderedmap.New[string, Value]()
	}
	return o.fields
}

// Len returns the number of keys.
func (o *Object) Len() int { return o.m().Len() }

// Get returns the value stored under key.
func (o *Object) Get(key string) (Value, bool) {
	return o.m().Get(key)
}

// Has reports whether key is present.
func (o *Object) Has(key string) bool {
	_, ok := o.m().Get(key)
	return ok
}

// Set stores v under key. An existing key keeps its position; a new key is
// appended. A nil v is stored as Null.
func (o *Object) Set(key string, v Value) {
	o.m().Set(key, valueOrNull(v))
}

// Delete removes key and reports whether it was present.
func (o *Object) Delete(key string) bool {
	_, ok := o.m().Delete(key)
	return ok
}

// Keys returns the keys in order.
func (o *Object) Keys() []string {
	keys := make([]string, 0, o.Len())
	for pair := o.m().Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// All iterates over the key/value pairs in order.
func (o *Object) All() iter.Seq2[string, Value] {
	return func(yield func(string, Value) bool) {
		for pair := o.m().Oldest(); pair != nil; pair = pair.Next() {
			if !yield(pair.Key, pair.Value) {
				return
			}
		}
	}
}

// GetObject returns the object stored under key.
func (o *Object) GetObject(key string) (*Object, bool) {
	v, ok := o.Get(key)
	if !ok {
		return nil, false
	}
	obj, ok := v.(*Object)
	return obj, ok
}

// GetArray returns the array stored under key.
func (o *Object) GetArray(key string) (*Array, bool) {
	v, ok := o.Get(key)
	if !ok {
		return nil, false
	}
	arr, ok := v.(*Array)
	return arr, ok
}

// GetString returns the string stored under key.
func (o *Object) GetString(key string) (string, bool) {
	v, ok := o.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(String)
	return string(s), ok
}

// Path follows keys through nested objects and returns the value at the end.
func (o *Object) Path(keys ...string) (Value, bool) {
	var cur Value = o
	for _, key := range keys {
		obj, ok := cur.(*Object)
		if !ok {
			return nil, false
		}
		if cur, ok = obj.Get(key); !ok {
			return nil, false
		}
	}
	return cur, true
}

// MarshalJSON implements json.Marshaler.
func (o *Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	for key, v := range o.All() {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		k, err := marshalString(key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		b, err := valueOrNull(v).MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func valueOrNull(v Value) Value {
	if v == nil {
		return Null{}
	}
	return v
}

func marshalString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
