package core

import (
	"context"
	"encoding/json"
	"path"
	"strings"
	"time"

	"github.com/pkg/errors"
)

type (
	// Document is a JSON document stored at a slash separated path.
	// The collection of a document is its path without the last segment.
	Document struct {
		Path      string          `json:"path"`
		Data      json.RawMessage `json:"data"`
		CreatedAt time.Time       `json:"created_at"`
		UpdatedAt time.Time       `json:"updated_at"`
	}

	// Fields holds top-level document fields to merge into an existing document.
	Fields map[string]interface{}

	// Filter selects documents whose top-level Field equals Value.
	Filter struct {
		Field string
		Value string
	}

	// Query selects the documents of every collection matching Collection.
	// Collection segments may be "*" to match any single segment.
	Query struct {
		Collection string
		Filters    []Filter
	}

	// Unsubscribe stops a live subscription. Implementations must tolerate repeated calls.
	Unsubscribe func()

	// DocumentStore is the document database capability.
	//
	// SubscribeCollection delivers the full current snapshot of the matching documents once on open, then again after
	// every change (add, update or remove) of any matching document, in arrival (insertion) order.
	// Snapshots for one subscription are delivered sequentially.
	// Callbacks must not write to the store synchronously.
	DocumentStore interface {
		Get(ctx context.Context, path string) (Document, error)
		Set(ctx context.Context, path string, value interface{}) error
		Update(ctx context.Context, path string, fields Fields) error
		Delete(ctx context.Context, path string) error
		SubscribeCollection(ctx context.Context, q Query, onSnapshot func([]Document)) (Unsubscribe, error)
	}
)

func (d Document) ID() string {
	return path.Base(d.Path)
}

func (d Document) Collection() string {
	return path.Dir(d.Path)
}

func (d Document) Decode(v interface{}) error {
	if err := json.Unmarshal(d.Data, v); err != nil {
		return errors.Wrapf(err, "decoding document %q", d.Path)
	}
	return nil
}

// JoinPath joins path segments with "/".
func JoinPath(segments ...string) string {
	return strings.Join(segments, "/")
}

// CleanPath validates a document path: no empty segments, no leading or trailing "/", and at least two segments.
func CleanPath(p string) (string, error) {
	p = CleanString(p)
	segs := strings.Split(p, "/")
	if len(segs) < 2 {
		return "", errors.Errorf("invalid document path %q", p)
	}
	for _, s := range segs {
		if s == "" || s == "*" {
			return "", errors.Errorf("invalid document path %q", p)
		}
	}
	return p, nil
}

// Matches reports whether collection is selected by the query's collection pattern.
// Only a whole "*" segment is a wildcard; every other segment is compared literally.
func (q Query) Matches(collection string) bool {
	want := strings.Split(q.Collection, "/")
	got := strings.Split(collection, "/")
	if len(want) != len(got) {
		return false
	}
	for i, seg := range want {
		if seg == "*" {
			if got[i] == "" {
				return false
			}
			continue
		}
		if seg != got[i] {
			return false
		}
	}
	return true
}
