// Package jsondoc holds the JSON document helpers shared by the document stores.
package jsondoc

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/trezcool/memberhub/core"
)

// MarshalObject encodes value as a JSON object.
func MarshalObject(value interface{}) (json.RawMessage, error) {
	var data []byte
	switch v := value.(type) {
	case json.RawMessage:
		data = v
	case []byte:
		data = v
	default:
		var err error
		if data, err = json.Marshal(value); err != nil {
			return nil, errors.Wrap(err, "encoding document")
		}
	}
	if !gjson.ValidBytes(data) || !gjson.ParseBytes(data).IsObject() {
		return nil, errors.New("document must be a JSON object")
	}
	out := make(json.RawMessage, len(data))
	copy(out, data)
	return out, nil
}

// MergeFields sets each top-level field of fields on data.
func MergeFields(data json.RawMessage, fields core.Fields) (json.RawMessage, error) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := []byte(data)
	for _, k := range keys {
		var err error
		if out, err = sjson.SetBytes(out, escapeKey(k), fields[k]); err != nil {
			return nil, errors.Wrapf(err, "setting field %q", k)
		}
	}
	return out, nil
}

// MatchFilters reports whether every filter equals the top-level field of data.
func MatchFilters(data json.RawMessage, filters []core.Filter) bool {
	for _, f := range filters {
		res := gjson.GetBytes(data, escapeKey(f.Field))
		if !res.Exists() || res.String() != f.Value {
			return false
		}
	}
	return true
}

var keyEscaper = strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`, "|", `\|`, "#", `\#`, "@", `\@`)

// escapeKey makes a top-level field name safe to use as a gjson/sjson path.
func escapeKey(k string) string {
	return keyEscaper.Replace(k)
}
