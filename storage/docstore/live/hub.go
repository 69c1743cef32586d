// Package live fans store change notifications out to collection subscriptions.
package live

import (
	"context"
	"fmt"
	"sync"

	"github.com/trezcool/memberhub/core"
)

// FetchFunc loads the current snapshot of a query.
type FetchFunc func(ctx context.Context, q core.Query) ([]core.Document, error)

type subscription struct {
	query      core.Query
	onSnapshot func([]core.Document)
	wake       chan struct{} // buffered(1): pending re-queries coalesce
	done       chan struct{}
	once       sync.Once
}

func (s *subscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Hub runs one worker goroutine per subscription. A worker re-queries its snapshot every time one of its
// collections changes, so snapshots of one subscription are delivered sequentially.
type Hub struct {
	fetch  FetchFunc
	logger core.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	subs map[*subscription]struct{}
	wg   sync.WaitGroup
}

func NewHub(fetch FetchFunc, logger core.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		fetch:  fetch,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[*subscription]struct{}),
	}
}

// Subscribe starts delivering snapshots of q to onSnapshot, beginning with the current one.
func (h *Hub) Subscribe(q core.Query, onSnapshot func([]core.Document)) core.Unsubscribe {
	sub := &subscription{
		query:      q,
		onSnapshot: onSnapshot,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	sub.signal() // initial snapshot

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	h.wg.Add(1)
	go h.run(sub)

	return func() {
		sub.once.Do(func() {
			close(sub.done)
			h.mu.Lock()
			delete(h.subs, sub)
			h.mu.Unlock()
		})
	}
}

func (h *Hub) run(sub *subscription) {
	defer h.wg.Done()
	for {
		select {
		case <-sub.done:
			return
		case <-h.ctx.Done():
			return
		case <-sub.wake:
		}

		docs, err := h.fetch(h.ctx, sub.query)
		if err != nil {
			if h.ctx.Err() == nil {
				h.logger.Error(fmt.Sprintf("fetching snapshot of %s: %v", sub.query.Collection, err), err)
			}
			continue
		}
		select {
		case <-sub.done:
			return
		default:
			sub.onSnapshot(docs)
		}
	}
}

// Notify wakes the subscriptions whose query selects collection.
func (h *Hub) Notify(collection string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if sub.query.Matches(collection) {
			sub.signal()
		}
	}
}

// NotifyAll wakes every subscription, e.g. after notifications may have been missed.
func (h *Hub) NotifyAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		sub.signal()
	}
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close stops every worker and waits for them.
func (h *Hub) Close() {
	h.cancel()
	h.wg.Wait()
}
