package harness

import (
	"encoding/json"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_SortedCompact(t *testing.T) {
	data, err := MarshalCanonical(map[string]any{
		"b": int64(2),
		"a": []any{true, "x<y", int64(-1)},
		"c": map[string]any{"z": "", "y": 0},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"a":[true,"x<y",-1],"b":2,"c":{"y":0,"z":""}}`, string(data))
}

func TestMarshalCanonical_NFC(t *testing.T) {
	// "e" + combining acute accent composes to U+00E9.
	data, err := MarshalCanonical("e\u0301")
	require.NoError(t, err)
	assert.Equal(t, "\"\u00e9\"", string(data))
}

func TestMarshalCanonical_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"null", map[string]any{"a": nil}, "null is forbidden"},
		{"float", []any{1.5}, "floats are forbidden"},
		{"unsupported", struct{}{}, "unsupported type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MarshalCanonical(tt.value)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestMarshalCanonical_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("output is valid JSON that round-trips the values", prop.ForAll(
		func(m map[string]int64) bool {
			in := make(map[string]any, len(m))
			for k, v := range m {
				in[k] = v
			}
			data, err := MarshalCanonical(in)
			if err != nil {
				return false
			}
			var out map[string]int64
			if err := json.Unmarshal(data, &out); err != nil {
				return false
			}
			if len(out) != len(m) {
				return false
			}
			for k, v := range m {
				if out[k] != v {
					return false
				}
			}
			return true
		},
		gen.MapOf(gen.AlphaString(), gen.Int64()),
	))

	properties.Property("insertion order does not matter", prop.ForAll(
		func(keys []string) bool {
			forward := make(map[string]any)
			for i, k := range keys {
				forward[k] = int64(i)
			}
			backward := make(map[string]any)
			for i := len(keys) - 1; i >= 0; i-- {
				if _, ok := backward[keys[i]]; !ok {
					backward[keys[i]] = forward[keys[i]]
				}
			}
			a, errA := MarshalCanonical(forward)
			b, errB := MarshalCanonical(backward)
			return errA == nil && errB == nil && string(a) == string(b)
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
