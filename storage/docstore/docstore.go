// Package docstore opens the document store backend selected by the configuration.
package docstore

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/memberhub/core"
	"github.com/trezcool/memberhub/storage/database"
	inmemstore "github.com/trezcool/memberhub/storage/docstore/inmem"
	pgstore "github.com/trezcool/memberhub/storage/docstore/postgres"
	redisstore "github.com/trezcool/memberhub/storage/docstore/redis"
)

// CloseFunc releases the store and its connections.
type CloseFunc func() error

// Open returns the store of conf.Store.Backend. The postgres backend is migrated before use.
func Open(ctx context.Context, conf *core.Config, logger core.Logger) (core.DocumentStore, CloseFunc, error) {
	switch conf.Store.Backend {
	case core.StoreMemory:
		return inmemstore.New(), func() error { return nil }, nil

	case core.StorePostgres:
		db, err := database.Open(ctx, conf)
		if err != nil {
			return nil, nil, err
		}
		if err = database.Migrate(db.DB); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		store, err := pgstore.New(db, database.ConnString(conf.Database.Name, conf), logger)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return store, func() error {
			err := store.Close()
			if dbErr := db.Close(); err == nil {
				err = dbErr
			}
			return err
		}, nil

	case core.StoreRedis:
		client, err := redisstore.NewClient(ctx, conf)
		if err != nil {
			return nil, nil, err
		}
		store, err := redisstore.New(ctx, client, logger)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return store, func() error {
			err := store.Close()
			if cErr := client.Close(); err == nil {
				err = cErr
			}
			return err
		}, nil
	}
	return nil, nil, errors.Wrapf(core.NewConfigError("store.backend", "unknown backend "+conf.Store.Backend), "opening store")
}
