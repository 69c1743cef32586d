package inmemstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trezcool/memberhub/core"
	"github.com/trezcool/memberhub/storage/docstore/jsondoc"
)

type (
	entry struct {
		doc core.Document
		seq uint64 // arrival order
	}

	subscription struct {
		query      core.Query
		onSnapshot func([]core.Document)
		closed     int32

		mu          sync.Mutex // serializes deliveries
		lastVersion uint64
	}

	// Store is a process-local core.DocumentStore.
	// Snapshots are delivered synchronously, in the goroutine performing the write.
	Store struct {
		mu      sync.RWMutex
		docs    map[string]*entry
		seq     uint64
		version uint64
		subs    map[*subscription]struct{}
	}
)

var _ core.DocumentStore = (*Store)(nil)

func New() *Store {
	return &Store{
		docs: make(map[string]*entry),
		subs: make(map[*subscription]struct{}),
	}
}

func (s *Store) Get(ctx context.Context, p string) (core.Document, error) {
	p, err := core.CleanPath(p)
	if err != nil {
		return core.Document{}, core.NewStoreError("get", p, err)
	}
	if err := ctx.Err(); err != nil {
		return core.Document{}, core.NewStoreError("get", p, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.docs[p]
	if !ok {
		return core.Document{}, core.ErrNotFound
	}
	return copyDoc(e.doc), nil
}

func (s *Store) Set(ctx context.Context, p string, value interface{}) error {
	p, err := core.CleanPath(p)
	if err != nil {
		return core.NewStoreError("set", p, err)
	}
	data, err := jsondoc.MarshalObject(value)
	if err != nil {
		return core.NewStoreError("set", p, err)
	}
	if err := ctx.Err(); err != nil {
		return core.NewStoreError("set", p, err)
	}

	now := time.Now().UTC()
	s.mu.Lock()
	e, ok := s.docs[p]
	if !ok {
		s.seq++
		e = &entry{seq: s.seq, doc: core.Document{Path: p, CreatedAt: now}}
		s.docs[p] = e
	}
	e.doc.Data = data
	e.doc.UpdatedAt = now
	deliveries := s.changed(p)
	s.mu.Unlock()

	deliver(deliveries)
	return nil
}

func (s *Store) Update(ctx context.Context, p string, fields core.Fields) error {
	p, err := core.CleanPath(p)
	if err != nil {
		return core.NewStoreError("update", p, err)
	}
	if err := ctx.Err(); err != nil {
		return core.NewStoreError("update", p, err)
	}

	s.mu.Lock()
	e, ok := s.docs[p]
	if !ok {
		s.mu.Unlock()
		return core.ErrNotFound
	}
	data, err := jsondoc.MergeFields(e.doc.Data, fields)
	if err != nil {
		s.mu.Unlock()
		return core.NewStoreError("update", p, err)
	}
	e.doc.Data = data
	e.doc.UpdatedAt = time.Now().UTC()
	deliveries := s.changed(p)
	s.mu.Unlock()

	deliver(deliveries)
	return nil
}

func (s *Store) Delete(ctx context.Context, p string) error {
	p, err := core.CleanPath(p)
	if err != nil {
		return core.NewStoreError("delete", p, err)
	}
	if err := ctx.Err(); err != nil {
		return core.NewStoreError("delete", p, err)
	}

	s.mu.Lock()
	if _, ok := s.docs[p]; !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.docs, p)
	deliveries := s.changed(p)
	s.mu.Unlock()

	deliver(deliveries)
	return nil
}

func (s *Store) SubscribeCollection(ctx context.Context, q core.Query, onSnapshot func([]core.Document)) (core.Unsubscribe, error) {
	if err := ctx.Err(); err != nil {
		return nil, core.NewStoreError("subscribe", q.Collection, err)
	}
	sub := &subscription{query: q, onSnapshot: onSnapshot}

	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.version++
	d := delivery{sub: sub, version: s.version, docs: s.snapshot(q)}
	s.mu.Unlock()

	deliver([]delivery{d})

	var once sync.Once
	return func() {
		once.Do(func() {
			atomic.StoreInt32(&sub.closed, 1)
			s.mu.Lock()
			delete(s.subs, sub)
			s.mu.Unlock()
		})
	}, nil
}

// Len returns the number of stored documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

type delivery struct {
	sub     *subscription
	version uint64
	docs    []core.Document
}

// changed collects the snapshots owed to subscribers of p's collection. Callers hold s.mu.
func (s *Store) changed(p string) []delivery {
	s.version++
	coll := core.Document{Path: p}.Collection()
	var out []delivery
	for sub := range s.subs {
		if sub.query.Matches(coll) {
			out = append(out, delivery{sub: sub, version: s.version, docs: s.snapshot(sub.query)})
		}
	}
	return out
}

// snapshot returns the documents matching q in arrival order. Callers hold s.mu.
func (s *Store) snapshot(q core.Query) []core.Document {
	matched := make([]*entry, 0)
	for _, e := range s.docs {
		if q.Matches(e.doc.Collection()) && jsondoc.MatchFilters(e.doc.Data, q.Filters) {
			matched = append(matched, e)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })

	docs := make([]core.Document, 0, len(matched))
	for _, e := range matched {
		docs = append(docs, copyDoc(e.doc))
	}
	return docs
}

// deliver hands each snapshot to its subscriber. A snapshot older than one already delivered is dropped.
func deliver(deliveries []delivery) {
	for _, d := range deliveries {
		sub := d.sub
		sub.mu.Lock()
		if atomic.LoadInt32(&sub.closed) == 0 && d.version > sub.lastVersion {
			sub.lastVersion = d.version
			sub.onSnapshot(d.docs)
		}
		sub.mu.Unlock()
	}
}

func copyDoc(d core.Document) core.Document {
	data := make(json.RawMessage, len(d.Data))
	copy(data, d.Data)
	d.Data = data
	return d
}
