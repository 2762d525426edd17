package jsontree

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_PreservesKeyOrder(t *testing.T) {
	v, err := Parse([]byte(`{"zeta":1,"alpha":{"b":true,"a":null},"mid":[1,"two",3.5]}`))
	require.NoError(t, err)

	obj, ok := v.(*Object)
	require.True(t, ok, "top level should be an object, got %s", v.Kind())
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, obj.Keys())

	inner, ok := obj.GetObject("alpha")
	require.True(t, ok)
	assert.Equal(t, []string{"b", "a"}, inner.Keys())

	arr, ok := obj.GetArray("mid")
	require.True(t, ok)
	require.Equal(t, 3, arr.Len())
	first, _ := arr.At(0)
	assert.Equal(t, Number("1"), first)
	third, _ := arr.At(2)
	assert.Equal(t, Number("3.5"), third)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "empty", input: ""},
		{name: "truncated object", input: `{"a":`},
		{name: "bad literal", input: `{"a": tru}`},
		{name: "trailing value", input: `{"a":1} {"b":2}`},
		{name: "unterminated string", input: `"abc`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.input))
			assert.Error(t, err)
		})
	}
}

func TestParse_TrailingDataSentinel(t *testing.T) {
	_, err := Parse([]byte(`1 2`))
	assert.True(t, errors.Is(err, ErrTrailingData), "got %v", err)
}

func TestParse_DuplicateKeysLastWinsAtFirstPosition(t *testing.T) {
	obj := MustParse(`{"a":1,"b":2,"a":3}`).(*Object)

	assert.Equal(t, []string{"a", "b"}, obj.Keys())
	v, _ := obj.Get("a")
	assert.Equal(t, Number("3"), v)
}

func TestEncode_Indent(t *testing.T) {
	obj := NewObject()
	obj.Set("name", String("R1"))
	obj.Set("count", Int(2))
	obj.Set("tags", NewArray(String("x"), String("<y>")))
	obj.Set("empty", NewObject())

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, obj, "    "))

	want := `{
    "name": "R1",
    "count": 2,
    "tags": [
        "x",
        "<y>"
    ],
    "empty": {}
}
`
	assert.Equal(t, want, buf.String())
}

func TestMarshal_RoundTrip(t *testing.T) {
	input := `{"b":[1,2.50,{"c":null}],"a":"é","d":false}`

	v, err := Parse([]byte(input))
	require.NoError(t, err)

	out, err := Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, `{"b":[1,2.50,{"c":null}],"a":"é","d":false}`, string(out))
}

func TestToNative(t *testing.T) {
	v := MustParse(`{"a":[1,"x",true,null],"b":{"c":2}}`)

	want := map[string]any{
		"a": []any{json.Number("1"), "x", true, nil},
		"b": map[string]any{"c": json.Number("2")},
	}
	if diff := cmp.Diff(want, ToNative(v)); diff != "" {
		t.Errorf("ToNative mismatch (-want +got):\n%s", diff)
	}
}

func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{name: "key order ignored", a: `{"a":1,"b":2}`, b: `{"b":2,"a":1}`, want: true},
		{name: "array order matters", a: `[1,2]`, b: `[2,1]`, want: false},
		{name: "kind mismatch", a: `{"a":"1"}`, b: `{"a":1}`, want: false},
		{name: "extra key", a: `{"a":1}`, b: `{"a":1,"b":2}`, want: false},
		{name: "nested", a: `{"a":{"b":[null,true]}}`, b: `{"a":{"b":[null,true]}}`, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Equal(MustParse(tt.a), MustParse(tt.b)))
		})
	}
}

func TestObject_SetNilAndDelete(t *testing.T) {
	obj := &Object{}
	obj.Set("x", nil)

	v, ok := obj.Get("x")
	require.True(t, ok)
	assert.Equal(t, KindNull, v.Kind())

	assert.True(t, obj.Delete("x"))
	assert.False(t, obj.Delete("x"))
	assert.Equal(t, 0, obj.Len())
}

func TestObject_Path(t *testing.T) {
	obj := MustParse(`{"sample":{"data_processing":{"id":"dp1"}}}`).(*Object)

	v, ok := obj.Path("sample", "data_processing")
	require.True(t, ok)
	assert.Equal(t, KindObject, v.Kind())

	_, ok = obj.Path("sample", "missing")
	assert.False(t, ok)

	_, ok = obj.Path("sample", "data_processing", "id", "deeper")
	assert.False(t, ok)
}

func TestKind_String(t *testing.T) {
	names := make([]string, 0, 6)
	for k := KindNull; k <= KindObject; k++ {
		names = append(names, k.String())
	}
	assert.Equal(t, "null boolean number string array object", strings.Join(names, " "))
}
