// Package pgstore keeps documents in a Postgres `documents` table (see storage/database/migrations).
// Change notifications are pushed by a trigger through LISTEN/NOTIFY on the `docstore` channel.
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/memberhub/core"
	"github.com/trezcool/memberhub/storage/docstore/jsondoc"
	"github.com/trezcool/memberhub/storage/docstore/live"
)

const (
	notifyChannel = "docstore"
	pingInterval  = 90 * time.Second
)

type row struct {
	Path      string    `db:"path"`
	Data      []byte    `db:"data"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt null.Time `db:"updated_at"`
}

func (r row) document() core.Document {
	doc := core.Document{
		Path:      r.Path,
		Data:      json.RawMessage(r.Data),
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.CreatedAt.UTC(),
	}
	if r.UpdatedAt.Valid {
		doc.UpdatedAt = r.UpdatedAt.Time.UTC()
	}
	return doc
}

type Store struct {
	db       *sqlx.DB
	logger   core.Logger
	listener *pq.Listener
	hub      *live.Hub
	done     chan struct{}
	once     sync.Once
}

var _ core.DocumentStore = (*Store)(nil)

// New starts listening for document changes on connStr. The caller keeps ownership of db.
func New(db *sqlx.DB, connStr string, logger core.Logger) (*Store, error) {
	s := &Store{
		db:     db,
		logger: logger,
		done:   make(chan struct{}),
	}
	s.hub = live.NewHub(s.snapshot, logger)

	s.listener = pq.NewListener(connStr, 10*time.Millisecond, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Error(fmt.Sprintf("docstore listener event %d: %v", ev, err), err)
		}
	})
	if err := s.listener.Listen(notifyChannel); err != nil {
		_ = s.listener.Close()
		s.hub.Close()
		return nil, errors.Wrap(err, "listening for document changes")
	}
	go s.dispatch()
	return s, nil
}

func (s *Store) dispatch() {
	for {
		select {
		case <-s.done:
			return
		case n, ok := <-s.listener.Notify:
			if !ok {
				return
			}
			if n == nil {
				// reconnected: notifications may have been lost
				s.hub.NotifyAll()
				continue
			}
			s.hub.Notify(n.Extra)
		case <-time.After(pingInterval):
			go func() { _ = s.listener.Ping() }()
		}
	}
}

// Close stops deliveries. It does not close the database handle.
func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		s.hub.Close()
		err = s.listener.Close()
	})
	return err
}

func (s *Store) Get(ctx context.Context, p string) (core.Document, error) {
	p, err := core.CleanPath(p)
	if err != nil {
		return core.Document{}, core.NewStoreError("get", p, err)
	}

	var r row
	err = s.db.GetContext(ctx, &r, `SELECT path, data, created_at, updated_at FROM documents WHERE path = $1`, p)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return core.Document{}, core.ErrNotFound
	case err != nil:
		return core.Document{}, core.NewStoreError("get", p, err)
	}
	return r.document(), nil
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

	const q = `
		INSERT INTO documents (path, collection, data) VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (path) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`
	coll := core.Document{Path: p}.Collection()
	if _, err = s.db.ExecContext(ctx, q, p, coll, string(data)); err != nil {
		return core.NewStoreError("set", p, err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, p string, fields core.Fields) error {
	p, err := core.CleanPath(p)
	if err != nil {
		return core.NewStoreError("update", p, err)
	}
	patch, err := json.Marshal(fields)
	if err != nil {
		return core.NewStoreError("update", p, err)
	}

	// jsonb || replaces top-level keys only
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET data = data || $2::jsonb, updated_at = now() WHERE path = $1`, p, string(patch))
	if err != nil {
		return core.NewStoreError("update", p, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.NewStoreError("update", p, err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, p string) error {
	p, err := core.CleanPath(p)
	if err != nil {
		return core.NewStoreError("delete", p, err)
	}
	if _, err = s.db.ExecContext(ctx, `DELETE FROM documents WHERE path = $1`, p); err != nil {
		return core.NewStoreError("delete", p, err)
	}
	return nil
}

// SubscribeCollection delivers snapshots from a background worker; the first one shortly after subscribing.
func (s *Store) SubscribeCollection(ctx context.Context, q core.Query, onSnapshot func([]core.Document)) (core.Unsubscribe, error) {
	if err := ctx.Err(); err != nil {
		return nil, core.NewStoreError("subscribe", q.Collection, err)
	}
	select {
	case <-s.done:
		return nil, core.NewStoreError("subscribe", q.Collection, errors.New("store closed"))
	default:
	}
	return s.hub.Subscribe(q, onSnapshot), nil
}

func (s *Store) snapshot(ctx context.Context, q core.Query) ([]core.Document, error) {
	query, args := selectQuery(q)
	var rows []row
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, core.NewStoreError("subscribe", q.Collection, err)
	}
	docs := make([]core.Document, 0, len(rows))
	for _, r := range rows {
		docs = append(docs, r.document())
	}
	return docs, nil
}

func selectQuery(q core.Query) (string, []interface{}) {
	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if strings.Contains(q.Collection, "*") {
		where = append(where, "collection ~ "+arg(collectionPattern(q.Collection)))
	} else {
		where = append(where, "collection = "+arg(q.Collection))
	}
	for _, f := range q.Filters {
		where = append(where, fmt.Sprintf("data->>%s = %s", arg(f.Field), arg(f.Value)))
	}

	query := "SELECT path, data, created_at, updated_at FROM documents WHERE " +
		strings.Join(where, " AND ") + " ORDER BY seq"
	return query, args
}

// collectionPattern turns a collection pattern such as `ns/users/*` into an anchored POSIX regex.
func collectionPattern(pattern string) string {
	segments := strings.Split(pattern, "/")
	for i, seg := range segments {
		if seg == "*" {
			segments[i] = "[^/]+"
		} else {
			segments[i] = regexp.QuoteMeta(seg)
		}
	}
	return "^" + strings.Join(segments, "/") + "$"
}
