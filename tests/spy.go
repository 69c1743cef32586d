package testutil

import (
	"context"
	"sync"

	"github.com/trezcool/memberhub/core"
)

// Call is one recorded DocumentStore call.
type Call struct {
	Op   string
	Path string
}

// SpyStore records the calls made to the wrapped store and tracks live subscriptions per collection.
type SpyStore struct {
	core.DocumentStore

	mu    sync.Mutex
	calls []Call
	live  map[string]int
	fail  map[string]error
}

var _ core.DocumentStore = (*SpyStore)(nil)

func NewSpyStore(store core.DocumentStore) *SpyStore {
	return &SpyStore{
		DocumentStore: store,
		live:          make(map[string]int),
		fail:          make(map[string]error),
	}
}

// FailOn makes every call of op fail with err; a nil err clears it.
func (s *SpyStore) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, op)
		return
	}
	s.fail[op] = err
}

func (s *SpyStore) record(op, p string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Op: op, Path: p})
	return s.fail[op]
}

func (s *SpyStore) Get(ctx context.Context, p string) (core.Document, error) {
	if err := s.record("get", p); err != nil {
		return core.Document{}, err
	}
	return s.DocumentStore.Get(ctx, p)
}

func (s *SpyStore) Set(ctx context.Context, p string, value interface{}) error {
	if err := s.record("set", p); err != nil {
		return err
	}
	return s.DocumentStore.Set(ctx, p, value)
}

func (s *SpyStore) Update(ctx context.Context, p string, fields core.Fields) error {
	if err := s.record("update", p); err != nil {
		return err
	}
	return s.DocumentStore.Update(ctx, p, fields)
}

func (s *SpyStore) Delete(ctx context.Context, p string) error {
	if err := s.record("delete", p); err != nil {
		return err
	}
	return s.DocumentStore.Delete(ctx, p)
}

func (s *SpyStore) SubscribeCollection(ctx context.Context, q core.Query, fn func([]core.Document)) (core.Unsubscribe, error) {
	if err := s.record("subscribe", q.Collection); err != nil {
		return nil, err
	}
	unsub, err := s.DocumentStore.SubscribeCollection(ctx, q, fn)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.live[q.Collection]++
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			unsub()
			s.mu.Lock()
			s.live[q.Collection]--
			s.mu.Unlock()
		})
	}, nil
}

// Calls returns the recorded calls, optionally restricted to the given ops.
func (s *SpyStore) Calls(ops ...string) []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, 0, len(s.calls))
	for _, c := range s.calls {
		if len(ops) == 0 || contains(ops, c.Op) {
			out = append(out, c)
		}
	}
	return out
}

// Writes returns the recorded set, update and delete calls.
func (s *SpyStore) Writes() []Call {
	return s.Calls("set", "update", "delete")
}

func (s *SpyStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

// Live returns the number of open subscriptions on collection.
func (s *SpyStore) Live(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live[collection]
}

// TotalLive returns the number of open subscriptions.
func (s *SpyStore) TotalLive() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, c := range s.live {
		n += c
	}
	return n
}

func contains(items []string, s string) bool {
	for _, item := range items {
		if item == s {
			return true
		}
	}
	return false
}
