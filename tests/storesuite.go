package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/memberhub/core"
)

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

// RunStoreSuite checks that store behaves as a core.DocumentStore.
// ns must be unique per run when the store is shared.
func RunStoreSuite(t *testing.T, store core.DocumentStore, ns string) {
	ctx := context.Background()
	p := func(segments ...string) string { return core.JoinPath(append([]string{ns}, segments...)...) }

	t.Run("get missing document", func(t *testing.T) {
		_, err := store.Get(ctx, p("users", "nobody", "profile"))
		assert.True(t, core.IsNotFound(err), "err = %v", err)
	})

	t.Run("invalid paths", func(t *testing.T) {
		for _, bad := range []string{"", "single", ns + "//x", ns + "/*/x"} {
			err := store.Set(ctx, bad, map[string]string{"a": "b"})
			assert.Error(t, err, "Set(%q)", bad)
		}
	})

	t.Run("set rejects non objects", func(t *testing.T) {
		assert.Error(t, store.Set(ctx, p("misc", "list"), []string{"a"}))
	})

	t.Run("set then get", func(t *testing.T) {
		path := p("misc", "doc1")
		require.NoError(t, store.Set(ctx, path, map[string]interface{}{"title": "one", "n": 1}))

		doc, err := store.Get(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, path, doc.Path)
		assert.Equal(t, "doc1", doc.ID())
		assert.Equal(t, p("misc"), doc.Collection())
		assert.JSONEq(t, `{"title": "one", "n": 1}`, string(doc.Data))
		assert.False(t, doc.CreatedAt.IsZero())
	})

	t.Run("set overwrites", func(t *testing.T) {
		path := p("misc", "doc2")
		require.NoError(t, store.Set(ctx, path, map[string]interface{}{"title": "one", "n": 1}))
		require.NoError(t, store.Set(ctx, path, map[string]interface{}{"title": "two"}))

		doc, err := store.Get(ctx, path)
		require.NoError(t, err)
		assert.JSONEq(t, `{"title": "two"}`, string(doc.Data))
	})

	t.Run("update merges top level fields", func(t *testing.T) {
		path := p("misc", "doc3")
		require.NoError(t, store.Set(ctx, path, map[string]interface{}{"title": "one", "status": "pending"}))
		require.NoError(t, store.Update(ctx, path, core.Fields{"status": "active", "extra": true}))

		doc, err := store.Get(ctx, path)
		require.NoError(t, err)
		assert.JSONEq(t, `{"title": "one", "status": "active", "extra": true}`, string(doc.Data))
	})

	t.Run("update missing document", func(t *testing.T) {
		err := store.Update(ctx, p("misc", "ghost"), core.Fields{"status": "active"})
		assert.True(t, core.IsNotFound(err), "err = %v", err)
	})

	t.Run("delete removes exactly the target", func(t *testing.T) {
		keep, gone := p("del", "keep"), p("del", "gone")
		require.NoError(t, store.Set(ctx, keep, map[string]string{"a": "1"}))
		require.NoError(t, store.Set(ctx, gone, map[string]string{"a": "2"}))
		require.NoError(t, store.Delete(ctx, gone))

		_, err := store.Get(ctx, gone)
		assert.True(t, core.IsNotFound(err), "err = %v", err)
		_, err = store.Get(ctx, keep)
		assert.NoError(t, err)

		assert.NoError(t, store.Delete(ctx, gone), "deleting twice")
	})

	t.Run("subscription delivers snapshots in arrival order", func(t *testing.T) {
		coll := p("public", "announcements")
		require.NoError(t, store.Set(ctx, coll+"/b", map[string]string{"title": "first"}))

		rec := new(Recorder)
		unsub, err := store.SubscribeCollection(ctx, core.Query{Collection: coll}, rec.Record)
		require.NoError(t, err)
		defer unsub()

		require.Eventually(t, func() bool { return equalPaths(rec.Last(), coll+"/b") }, waitFor, tick)

		require.NoError(t, store.Set(ctx, coll+"/a", map[string]string{"title": "second"}))
		require.Eventually(t, func() bool { return equalPaths(rec.Last(), coll+"/b", coll+"/a") }, waitFor, tick)

		require.NoError(t, store.Update(ctx, coll+"/b", core.Fields{"title": "first, edited"}))
		require.Eventually(t, func() bool {
			docs := lastDocs(rec)
			return len(docs) == 2 && docs[0].Path == coll+"/b" && titleOf(docs[0]) == "first, edited"
		}, waitFor, tick)

		require.NoError(t, store.Delete(ctx, coll+"/b"))
		require.Eventually(t, func() bool { return equalPaths(rec.Last(), coll+"/a") }, waitFor, tick)
	})

	t.Run("subscription ignores other collections", func(t *testing.T) {
		coll := p("public", "activities")
		rec := new(Recorder)
		unsub, err := store.SubscribeCollection(ctx, core.Query{Collection: coll}, rec.Record)
		require.NoError(t, err)
		defer unsub()
		require.Eventually(t, func() bool { return rec.Count() == 1 }, waitFor, tick)

		require.NoError(t, store.Set(ctx, p("public", "gallery", "x"), map[string]string{"title": "x"}))
		require.NoError(t, store.Set(ctx, coll+"/y", map[string]string{"title": "y"}))
		require.Eventually(t, func() bool { return equalPaths(rec.Last(), coll+"/y") }, waitFor, tick)
		for _, snap := range rec.all() {
			for _, d := range snap {
				assert.Equal(t, coll, d.Collection())
			}
		}
	})

	t.Run("wildcard query with filter", func(t *testing.T) {
		q := core.Query{
			Collection: p("users", "*"),
			Filters:    []core.Filter{{Field: "status", Value: "pending"}},
		}
		require.NoError(t, store.Set(ctx, p("users", "u1", "profile"), map[string]string{"status": "pending"}))
		require.NoError(t, store.Set(ctx, p("users", "u2", "profile"), map[string]string{"status": "active"}))

		rec := new(Recorder)
		unsub, err := store.SubscribeCollection(ctx, q, rec.Record)
		require.NoError(t, err)
		defer unsub()
		require.Eventually(t, func() bool { return equalPaths(rec.Last(), p("users", "u1", "profile")) }, waitFor, tick)

		require.NoError(t, store.Set(ctx, p("users", "u3", "profile"), map[string]string{"status": "pending"}))
		require.Eventually(t, func() bool {
			return equalPaths(rec.Last(), p("users", "u1", "profile"), p("users", "u3", "profile"))
		}, waitFor, tick)

		require.NoError(t, store.Update(ctx, p("users", "u1", "profile"), core.Fields{"status": "active"}))
		require.Eventually(t, func() bool { return equalPaths(rec.Last(), p("users", "u3", "profile")) }, waitFor, tick)
	})

	t.Run("unsubscribe stops deliveries", func(t *testing.T) {
		coll := p("public", "gallery")
		rec := new(Recorder)
		unsub, err := store.SubscribeCollection(ctx, core.Query{Collection: coll}, rec.Record)
		require.NoError(t, err)
		require.Eventually(t, func() bool { return rec.Count() >= 1 }, waitFor, tick)

		unsub()
		unsub() // tolerated
		n := rec.Count()
		require.NoError(t, store.Set(ctx, coll+"/late", map[string]string{"title": "late"}))
		time.Sleep(100 * time.Millisecond)
		assert.Equal(t, n, rec.Count())
	})
}

func (r *Recorder) all() [][]core.Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]core.Document, len(r.snapshots))
	copy(out, r.snapshots)
	return out
}

func lastDocs(r *Recorder) []core.Document {
	all := r.all()
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}

func titleOf(d core.Document) string {
	var v struct {
		Title string `json:"title"`
	}
	_ = json.Unmarshal(d.Data, &v)
	return v.Title
}

func equalPaths(got []string, want ...string) bool {
	return fmt.Sprint(got) == fmt.Sprint(want)
}
