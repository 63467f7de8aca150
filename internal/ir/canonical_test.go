package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalSortsKeys(t *testing.T) {
	out, err := MarshalCanonical(map[string]any{"b": 1, "a": "x", "c": []any{true, nil}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"x","b":1,"c":[true,null]}`, string(out))
}

func TestMarshalCanonicalNoHTMLEscape(t *testing.T) {
	out, err := MarshalCanonical(map[string]any{"q": "a<b&c>d"})
	require.NoError(t, err)
	assert.Equal(t, `{"q":"a<b&c>d"}`, string(out))
}

func TestMarshalCanonicalNFC(t *testing.T) {
	decomposed := "cafe\u0301"
	composed := "caf\u00e9"

	a, err := MarshalCanonical(map[string]any{"name": decomposed})
	require.NoError(t, err)
	b, err := MarshalCanonical(map[string]any{"name": composed})
	require.NoError(t, err)

	assert.Equal(t, string(b), string(a), "strings are NFC normalized")
}

func TestMarshalCanonicalNumbers(t *testing.T) {
	out, err := MarshalCanonical(map[string]any{"a": 2.0, "b": 0.5, "c": -1, "d": 1e21})
	require.NoError(t, err)
	assert.Equal(t, `{"a":2,"b":0.5,"c":-1,"d":1e+21}`, string(out))
}

func TestMarshalCanonicalNested(t *testing.T) {
	in := map[string]any{
		"outer": map[string]any{"z": []string{"e\u0301"}, "a": map[string]string{"k": "v"}},
	}
	out, err := MarshalCanonical(in)
	require.NoError(t, err)
	assert.Equal(t, "{\"outer\":{\"a\":{\"k\":\"v\"},\"z\":[\"\u00e9\"]}}", string(out))
}
