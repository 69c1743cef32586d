package live_test

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/memberhub/core"
	"github.com/trezcool/memberhub/storage/docstore/live"
	"github.com/trezcool/memberhub/tests"
)

type fakeSource struct {
	mu      sync.Mutex
	docs    map[string][]core.Document
	fetches int32
	fail    bool
}

func (f *fakeSource) fetch(_ context.Context, q core.Query) ([]core.Document, error) {
	atomic.AddInt32(&f.fetches, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, assert.AnError
	}
	return append([]core.Document(nil), f.docs[q.Collection]...), nil
}

func (f *fakeSource) add(coll, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[coll] = append(f.docs[coll], core.Document{Path: coll + "/" + id, Data: json.RawMessage(`{}`)})
}

func TestHub(t *testing.T) {
	src := &fakeSource{docs: make(map[string][]core.Document)}
	hub := live.NewHub(src.fetch, testutil.NewLogger())
	defer hub.Close()

	src.add("ns/public/gallery", "1")
	rec := new(testutil.Recorder)
	unsub := hub.Subscribe(core.Query{Collection: "ns/public/gallery"}, rec.Record)
	require.Eventually(t, func() bool { return rec.Count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"ns/public/gallery/1"}, rec.Last())

	src.add("ns/public/gallery", "2")
	hub.Notify("ns/public/gallery")
	require.Eventually(t, func() bool { return len(rec.Last()) == 2 }, time.Second, 5*time.Millisecond)

	// other collections do not wake the worker
	n := atomic.LoadInt32(&src.fetches)
	hub.Notify("ns/public/activities")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, atomic.LoadInt32(&src.fetches))

	unsub()
	unsub()
	assert.Equal(t, 0, hub.Len())
	src.add("ns/public/gallery", "3")
	hub.NotifyAll()
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, rec.Last(), 2)
}

func TestHub_WildcardAndFetchErrors(t *testing.T) {
	src := &fakeSource{docs: make(map[string][]core.Document), fail: true}
	hub := live.NewHub(src.fetch, testutil.NewLogger())
	defer hub.Close()

	rec := new(testutil.Recorder)
	unsub := hub.Subscribe(core.Query{Collection: "ns/users/*"}, rec.Record)
	defer unsub()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&src.fetches) >= 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, rec.Count(), "failed fetches deliver nothing")

	src.mu.Lock()
	src.fail = false
	src.mu.Unlock()
	hub.Notify("ns/users/u1")
	require.Eventually(t, func() bool { return rec.Count() == 1 }, time.Second, 5*time.Millisecond)
}
