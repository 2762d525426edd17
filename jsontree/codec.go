package jsontree

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrTrailingData is returned when a document holds more than one value.
var ErrTrailingData = errors.New("unexpected data after top-level value")

// Decode reads exactly one JSON value from r.
func Decode(r io.Reader) (Value, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	v, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		if err != nil {
			return nil, err
		}
		return nil, ErrTrailingData
	}
	return v, nil
}

// Parse decodes a JSON document held in memory.
func Parse(data []byte) (Value, error) {
	return Decode(bytes.NewReader(data))
}

// MustParse is Parse for literals known to be valid. It panics on error.
func MustParse(doc string) Value {
	v, err := Decode(strings.NewReader(doc))
	if err != nil {
		panic(fmt.Sprintf("jsontree: MustParse: %v", err))
	}
	return v
}

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}

	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			return decodeObject(dec)
		case '[':
			return decodeArray(dec)
		default:
			return nil, fmt.Errorf("unexpected delimiter %q", t)
		}
	case nil:
		return Null{}, nil
	case bool:
		return Bool(t), nil
	case json.Number:
		return Number(t), nil
	case string:
		return String(t), nil
	default:
		return nil, fmt.Errorf("unexpected token %v", tok)
	}
}

func decodeObject(dec *json.Decoder) (*Object, error) {
	obj := NewObject()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("object key is %T, want string", tok)
		}
		v, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		obj.Set(key, v)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return obj, nil
}

func decodeArray(dec *json.Decoder) (*Array, error) {
	arr := NewArray()
	for dec.More() {
		v, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		arr.Append(v)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return arr, nil
}

// Encode writes v to w as indented JSON followed by a newline. An empty
// indent writes compact JSON.
func Encode(w io.Writer, v Value, indent string) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(valueOrNull(v))
}

// Marshal returns the compact encoding of v without a trailing newline.
func Marshal(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, v, ""); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// ToNative converts v to the representation encoding/json uses when
// decoding into an interface{} with UseNumber: map[string]any, []any,
// string, bool, json.Number and nil.
func ToNative(v Value) any {
	switch t := v.(type) {
	case nil, Null:
		return nil
	case Bool:
		return bool(t)
	case Number:
		return json.Number(t)
	case String:
		return string(t)
	case *Array:
		out := make([]any, len(t.Items))
		for i, item := range t.Items {
			out[i] = ToNative(item)
		}
		return out
	case *Object:
		out := make(map[string]any, t.Len())
		for key, item := range t.All() {
			out[key] = ToNative(item)
		}
		return out
	default:
		return nil
	}
}

// Equal reports whether a and b are structurally equal. Object key order is
// not significant; array order is. Numbers compare by literal.
func Equal(a, b Value) bool {
	a, b = valueOrNull(a), valueOrNull(b)
	if a.Kind() != b.Kind() {
		return false
	}
	switch x := a.(type) {
	case *Array:
		y := b.(*Array)
		if len(x.Items) != len(y.Items) {
			return false
		}
		for i := range x.Items {
			if !Equal(x.Items[i], y.Items[i]) {
				return false
			}
		}
		return true
	case *Object:
		y := b.(*Object)
		if x.Len() != y.Len() {
			return false
		}
		for key, xv := range x.All() {
			yv, ok := y.Get(key)
			if !ok || !Equal(xv, yv) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
