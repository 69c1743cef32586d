package jsondoc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/memberhub/core"
)

func TestMarshalObject(t *testing.T) {
	tests := []struct {
		name    string
		value   interface{}
		want    string
		wantErr bool
	}{
		{name: "struct", value: struct {
			Name string `json:"name"`
		}{"x"}, want: `{"name":"x"}`},
		{name: "map", value: map[string]int{"n": 1}, want: `{"n":1}`},
		{name: "raw", value: json.RawMessage(`{"a":true}`), want: `{"a":true}`},
		{name: "bytes", value: []byte(`{"b":null}`), want: `{"b":null}`},
		{name: "array", value: []int{1}, wantErr: true},
		{name: "string", value: "x", wantErr: true},
		{name: "invalid raw", value: json.RawMessage(`{`), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MarshalObject(tt.value)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestMergeFields(t *testing.T) {
	got, err := MergeFields(json.RawMessage(`{"status":"pending","name":"Ann"}`), core.Fields{
		"status":   "active",
		"a.b":      1,
		"is_admin": true,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"active","name":"Ann","a.b":1,"is_admin":true}`, string(got))
}

func TestMatchFilters(t *testing.T) {
	data := json.RawMessage(`{"status":"pending","nested":{"status":"active"},"n":3}`)
	tests := []struct {
		name    string
		filters []core.Filter
		want    bool
	}{
		{"no filters", nil, true},
		{"equal", []core.Filter{{Field: "status", Value: "pending"}}, true},
		{"not equal", []core.Filter{{Field: "status", Value: "active"}}, false},
		{"missing field", []core.Filter{{Field: "other", Value: ""}}, false},
		{"number as text", []core.Filter{{Field: "n", Value: "3"}}, true},
		{"all must match", []core.Filter{{Field: "status", Value: "pending"}, {Field: "n", Value: "4"}}, false},
		{"top level only", []core.Filter{{Field: "nested.status", Value: "active"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchFilters(data, tt.filters))
		})
	}
}
