// Package redisstore keeps documents in Redis.
//
// Layout (every key is prefixed with `docstore:`):
//
//	doc:<path>    JSON envelope holding the document data, its arrival seq and timestamps
//	coll:<name>   sorted set of the collection's document paths, scored by arrival seq
//	collections   set of every collection name, used to expand wildcard queries
//	seq           arrival counter
//
// Every write publishes the document's collection on the `docstore:changes` channel.
package redisstore

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/memberhub/core"
	"github.com/trezcool/memberhub/storage/docstore/jsondoc"
	"github.com/trezcool/memberhub/storage/docstore/live"
)

const (
	keyPrefix      = "docstore:"
	seqKey         = keyPrefix + "seq"
	collectionsKey = keyPrefix + "collections"
	changesChannel = keyPrefix + "changes"

	maxTxRetries = 10
)

func docKey(p string) string     { return keyPrefix + "doc:" + p }
func collKey(coll string) string { return keyPrefix + "coll:" + coll }

type envelope struct {
	Data      json.RawMessage `json:"data"`
	Seq       int64           `json:"seq"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (e envelope) document(p string) core.Document {
	return core.Document{Path: p, Data: e.Data, CreatedAt: e.CreatedAt, UpdatedAt: e.UpdatedAt}
}

type Store struct {
	client *redis.Client
	pubsub *redis.PubSub
	hub    *live.Hub
	logger core.Logger
	done   chan struct{}
	once   sync.Once
}

var _ core.DocumentStore = (*Store)(nil)

// NewClient connects to the configured Redis server.
func NewClient(ctx context.Context, conf *core.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     conf.Redis.Addr,
		Password: conf.Redis.Password,
		DB:       conf.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "pinging redis")
	}
	return client, nil
}

// New subscribes to the change channel. The caller keeps ownership of client.
func New(ctx context.Context, client *redis.Client, logger core.Logger) (*Store, error) {
	s := &Store{client: client, logger: logger, done: make(chan struct{})}
	s.hub = live.NewHub(s.snapshot, logger)

	s.pubsub = client.Subscribe(ctx, changesChannel)
	if _, err := s.pubsub.Receive(ctx); err != nil {
		_ = s.pubsub.Close()
		s.hub.Close()
		return nil, errors.Wrap(err, "subscribing to document changes")
	}
	go s.dispatch(s.pubsub.Channel())
	return s, nil
}

func (s *Store) dispatch(ch <-chan *redis.Message) {
	for msg := range ch {
		s.hub.Notify(msg.Payload)
	}
}

// Close stops deliveries. It does not close the client.
func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
		s.hub.Close()
	})
	return err
}

func (s *Store) Get(ctx context.Context, p string) (core.Document, error) {
	p, err := core.CleanPath(p)
	if err != nil {
		return core.Document{}, core.NewStoreError("get", p, err)
	}
	raw, err := s.client.Get(ctx, docKey(p)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return core.Document{}, core.ErrNotFound
	case err != nil:
		return core.Document{}, core.NewStoreError("get", p, err)
	}
	var env envelope
	if err = json.Unmarshal(raw, &env); err != nil {
		return core.Document{}, core.NewStoreError("get", p, err)
	}
	return env.document(p), nil
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

	err = s.write(ctx, p, func(tx *redis.Tx, env *envelope, exists bool) error {
		if !exists {
			seq, err := tx.Incr(ctx, seqKey).Result()
			if err != nil {
				return err
			}
			env.Seq = seq
			env.CreatedAt = time.Now().UTC()
		}
		env.Data = data
		return nil
	})
	if err != nil {
		return core.NewStoreError("set", p, err)
	}
	s.publish(ctx, p)
	return nil
}

func (s *Store) Update(ctx context.Context, p string, fields core.Fields) error {
	p, err := core.CleanPath(p)
	if err != nil {
		return core.NewStoreError("update", p, err)
	}

	err = s.write(ctx, p, func(_ *redis.Tx, env *envelope, exists bool) error {
		if !exists {
			return core.ErrNotFound
		}
		data, err := jsondoc.MergeFields(env.Data, fields)
		if err != nil {
			return err
		}
		env.Data = data
		return nil
	})
	switch {
	case errors.Is(err, core.ErrNotFound):
		return core.ErrNotFound
	case err != nil:
		return core.NewStoreError("update", p, err)
	}
	s.publish(ctx, p)
	return nil
}

// write runs an optimistic transaction on the document at p, retrying when another client changed it meanwhile.
func (s *Store) write(ctx context.Context, p string, mutate func(tx *redis.Tx, env *envelope, exists bool) error) error {
	key := docKey(p)
	coll := core.Document{Path: p}.Collection()

	txf := func(tx *redis.Tx) error {
		var env envelope
		raw, err := tx.Get(ctx, key).Bytes()
		exists := err == nil
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if err = json.Unmarshal(raw, &env); err != nil {
				return err
			}
		}

		if err = mutate(tx, &env, exists); err != nil {
			return err
		}
		env.UpdatedAt = time.Now().UTC()
		encoded, err := json.Marshal(env)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			pipe.ZAdd(ctx, collKey(coll), redis.Z{Score: float64(env.Seq), Member: p})
			pipe.SAdd(ctx, collectionsKey, coll)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return errors.New("too many concurrent writes")
}

func (s *Store) Delete(ctx context.Context, p string) error {
	p, err := core.CleanPath(p)
	if err != nil {
		return core.NewStoreError("delete", p, err)
	}
	coll := core.Document{Path: p}.Collection()

	var del *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, docKey(p))
		pipe.ZRem(ctx, collKey(coll), p)
		return nil
	})
	if err != nil {
		return core.NewStoreError("delete", p, err)
	}
	if del.Val() == 0 {
		return nil
	}
	s.publish(ctx, p)
	return nil
}

// publish announces a committed write. Delivery is at most once: a failed publish is logged, not returned,
// and subscribers catch up on the next change of the collection.
func (s *Store) publish(ctx context.Context, p string) {
	coll := core.Document{Path: p}.Collection()
	if err := s.client.Publish(ctx, changesChannel, coll).Err(); err != nil {
		err = errors.Wrapf(err, "publishing change of %s", p)
		s.logger.Error(err.Error(), err)
	}
}

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

func (s *Store) collections(ctx context.Context, q core.Query) ([]string, error) {
	if !strings.Contains(q.Collection, "*") {
		return []string{q.Collection}, nil
	}
	all, err := s.client.SMembers(ctx, collectionsKey).Result()
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, coll := range all {
		if q.Matches(coll) {
			out = append(out, coll)
		}
	}
	return out, nil
}

func (s *Store) snapshot(ctx context.Context, q core.Query) ([]core.Document, error) {
	colls, err := s.collections(ctx, q)
	if err != nil {
		return nil, core.NewStoreError("subscribe", q.Collection, err)
	}

	var members []redis.Z
	for _, coll := range colls {
		zs, err := s.client.ZRangeWithScores(ctx, collKey(coll), 0, -1).Result()
		if err != nil {
			return nil, core.NewStoreError("subscribe", q.Collection, err)
		}
		members = append(members, zs...)
	}
	docs := make([]core.Document, 0, len(members))
	if len(members) == 0 {
		return docs, nil
	}
	sort.SliceStable(members, func(i, j int) bool { return members[i].Score < members[j].Score })

	paths := make([]string, len(members))
	keys := make([]string, len(members))
	for i, m := range members {
		paths[i], _ = m.Member.(string)
		keys[i] = docKey(paths[i])
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, core.NewStoreError("subscribe", q.Collection, err)
	}

	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue // deleted since the range was read
		}
		var env envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			return nil, core.NewStoreError("subscribe", q.Collection, err)
		}
		if jsondoc.MatchFilters(env.Data, q.Filters) {
			docs = append(docs, env.document(paths[i]))
		}
	}
	return docs, nil
}
