package inmemstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/memberhub/core"
	inmemstore "github.com/trezcool/memberhub/storage/docstore/inmem"
	"github.com/trezcool/memberhub/tests"
)

func TestStore(t *testing.T) {
	testutil.RunStoreSuite(t, inmemstore.New(), "inmem")
}

func TestStore_SynchronousDelivery(t *testing.T) {
	ctx := context.Background()
	store := inmemstore.New()

	rec := new(testutil.Recorder)
	unsub, err := store.SubscribeCollection(ctx, core.Query{Collection: "ns/public/gallery"}, rec.Record)
	require.NoError(t, err)
	defer unsub()
	assert.Equal(t, 1, rec.Count(), "initial snapshot delivered before SubscribeCollection returns")

	require.NoError(t, store.Set(ctx, "ns/public/gallery/1", map[string]string{"title": "one"}))
	assert.Equal(t, 2, rec.Count())
	assert.Equal(t, []string{"ns/public/gallery/1"}, rec.Last())
}

func TestStore_CallbackMaySubscribe(t *testing.T) {
	ctx := context.Background()
	store := inmemstore.New()

	nested := new(testutil.Recorder)
	var unsubs []core.Unsubscribe
	unsub, err := store.SubscribeCollection(ctx, core.Query{Collection: "ns/users/u1"}, func(docs []core.Document) {
		if len(docs) == 0 {
			return
		}
		u, err := store.SubscribeCollection(ctx, core.Query{Collection: "ns/public/activities"}, nested.Record)
		require.NoError(t, err)
		unsubs = append(unsubs, u)
	})
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, store.Set(ctx, "ns/users/u1/profile", map[string]string{"status": "active"}))
	assert.Equal(t, 1, nested.Count())
	for _, u := range unsubs {
		u()
	}
}

func TestStore_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := inmemstore.New()

	err := store.Set(ctx, "ns/misc/1", map[string]string{"a": "b"})
	assert.True(t, core.IsStore(err), "err = %v", err)
	assert.Equal(t, 0, store.Len())
}
