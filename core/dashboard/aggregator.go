package dashboard

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/memberhub/core"
	"github.com/trezcool/memberhub/core/member"
)

// handle is one live subscription of a feed. It is disposed exactly once.
type handle struct {
	feed Feed

	mu     sync.Mutex
	unsub  core.Unsubscribe
	closed bool
	once   sync.Once
}

// attach stores the store's disposer, or runs it right away when the handle was closed meanwhile.
func (h *handle) attach(unsub core.Unsubscribe) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		unsub()
		return
	}
	h.unsub = unsub
	h.mu.Unlock()
}

func (h *handle) close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		unsub := h.unsub
		h.unsub = nil
		h.mu.Unlock()
		if unsub != nil {
			unsub()
		}
	})
}

// Aggregator keeps one live subscription per open feed and merges their snapshots.
// Listeners are called outside of the aggregator's lock and must not call back into it synchronously.
type Aggregator struct {
	namespace string
	store     core.DocumentStore
	logger    core.Logger

	mu           sync.Mutex
	handles      map[Feed]*handle
	principalID  string
	snap         Snapshot
	version      uint64
	listeners    map[int]func(Snapshot)
	nextListener int
	closed       bool

	notifyMu     sync.Mutex
	lastNotified uint64
}

func NewAggregator(namespace string, store core.DocumentStore, logger core.Logger) *Aggregator {
	return &Aggregator{
		namespace: namespace,
		store:     store,
		logger:    logger,
		handles:   make(map[Feed]*handle),
		listeners: make(map[int]func(Snapshot)),
	}
}

func (a *Aggregator) query(feed Feed) core.Query {
	if feed == PendingUsers {
		return member.PendingQuery(a.namespace)
	}
	return core.Query{Collection: ContentCollection(a.namespace, feed)}
}

// wants lists the feeds that must be open for the given session.
func wants(state member.State, isAdmin bool, principalID string) map[Feed]bool {
	want := make(map[Feed]bool, len(AllFeeds))
	if state.ShowsDashboard() {
		for _, f := range ContentFeeds {
			want[f] = true
		}
	}
	if isAdmin && principalID != "" {
		want[PendingUsers] = true
	}
	return want
}

// Sync opens and closes feeds to match the session. A change of principal reopens every feed.
func (a *Aggregator) Sync(ctx context.Context, state member.State, isAdmin bool, principalID string) error {
	want := wants(state, isAdmin, principalID)

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	reopen := principalID != a.principalID
	a.principalID = principalID

	var toClose []*handle
	var toOpen []Feed
	for _, feed := range AllFeeds {
		h := a.handles[feed]
		if h != nil && (!want[feed] || reopen) {
			toClose = append(toClose, h)
			delete(a.handles, feed)
			a.snap.clear(feed)
			h = nil
		}
		if want[feed] && h == nil {
			toOpen = append(toOpen, feed)
		}
	}
	var version uint64
	if len(toClose) > 0 {
		a.version++
		version = a.version
	}
	snap := a.snap.copy()
	a.mu.Unlock()

	for _, h := range toClose {
		h.close()
	}
	if version > 0 {
		a.notify(version, snap)
	}

	var errs []error
	for _, feed := range toOpen {
		if err := a.open(ctx, feed); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Wrap(errs[0], fmt.Sprintf("opening %d feed(s)", len(errs)))
	}
	return nil
}

// open replaces the live subscription of feed, closing the prior one first.
func (a *Aggregator) open(ctx context.Context, feed Feed) error {
	h := &handle{feed: feed}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	prior := a.handles[feed]
	a.handles[feed] = h
	a.mu.Unlock()

	if prior != nil {
		prior.close()
	}

	unsub, err := a.store.SubscribeCollection(ctx, a.query(feed), func(docs []core.Document) {
		a.deliver(h, docs)
	})
	if err != nil {
		a.mu.Lock()
		if a.handles[feed] == h {
			delete(a.handles, feed)
		}
		a.mu.Unlock()
		h.close()
		a.logger.Error(fmt.Sprintf("opening feed %s: %v", feed, err), err)
		return errors.Wrapf(err, "opening feed %s", feed)
	}
	h.attach(unsub)
	return nil
}

// deliver replaces the feed's list with docs, unless h is no longer the feed's live handle.
func (a *Aggregator) deliver(h *handle, docs []core.Document) {
	a.mu.Lock()
	if a.closed || a.handles[h.feed] != h {
		a.mu.Unlock()
		return
	}
	a.snap.set(h.feed, docs)
	a.version++
	version := a.version
	snap := a.snap.copy()
	a.mu.Unlock()

	a.notify(version, snap)
}

func (a *Aggregator) notify(version uint64, snap Snapshot) {
	a.notifyMu.Lock()
	defer a.notifyMu.Unlock()
	if version <= a.lastNotified {
		return // a newer snapshot was already published
	}
	a.lastNotified = version

	a.mu.Lock()
	listeners := make([]func(Snapshot), 0, len(a.listeners))
	for _, fn := range a.listeners {
		listeners = append(listeners, fn)
	}
	a.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
}

// OnChange registers fn to receive every new snapshot.
func (a *Aggregator) OnChange(fn func(Snapshot)) core.Unsubscribe {
	a.mu.Lock()
	id := a.nextListener
	a.nextListener++
	a.listeners[id] = fn
	a.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			delete(a.listeners, id)
			a.mu.Unlock()
		})
	}
}

func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snap.copy()
}

// OpenFeeds returns the feeds with a live subscription, in AllFeeds order.
func (a *Aggregator) OpenFeeds() []Feed {
	a.mu.Lock()
	defer a.mu.Unlock()
	feeds := make([]Feed, 0, len(a.handles))
	for _, f := range AllFeeds {
		if _, ok := a.handles[f]; ok {
			feeds = append(feeds, f)
		}
	}
	return feeds
}

// Close disposes every live subscription. The aggregator cannot be reused.
func (a *Aggregator) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	handles := make([]*handle, 0, len(a.handles))
	for feed, h := range a.handles {
		handles = append(handles, h)
		delete(a.handles, feed)
	}
	a.listeners = make(map[int]func(Snapshot))
	a.snap = Snapshot{}
	a.mu.Unlock()

	for _, h := range handles {
		h.close()
	}
}
