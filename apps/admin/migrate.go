package main

import (
	"context"
)

func (cli *commandLine) migrate(ctx context.Context, args []string) error {
	db, err := cli.openDB(ctx)
	if err != nil {
		return err
	}
	if db != nil {
		defer func() { _ = db.Close() }()
	}
	return gooseRunFunc(db, args[0], args[1:]...)
}
