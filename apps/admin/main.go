package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	"github.com/trezcool/memberhub/core"
	"github.com/trezcool/memberhub/core/member"
	emailsvc "github.com/trezcool/memberhub/services/email"
	logsvc "github.com/trezcool/memberhub/services/logger"
	"github.com/trezcool/memberhub/storage/database"
	"github.com/trezcool/memberhub/storage/docstore"
)

func main() {
	os.Exit(run())
}

func run() int {
	conf, err := core.NewConfig()
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)

	if err = conf.Validate(); err != nil {
		logger.Fatal(fmt.Sprintf("invalid config: %v", err), err)
	}

	cli := commandLine{
		conf: conf,
		openDB: func(ctx context.Context) (*sql.DB, error) {
			db, err := database.Open(ctx, conf)
			if err != nil {
				return nil, err
			}
			return db.DB, nil
		},
		in:  os.Stdin,
		out: os.Stdout,
	}

	// database commands do not need the store
	if len(os.Args) < 2 || (os.Args[1] != "createdb" && os.Args[1] != "migrate") {
		store, closeStore, err := docstore.Open(context.Background(), conf, logger)
		if err != nil {
			logger.Fatal(fmt.Sprintf("setting up %s store: %v", conf.Store.Backend, err), err)
		}
		defer func() { _ = closeStore() }()

		mailSvc := emailsvc.NewConsoleService(conf, logger)
		if !conf.Debug {
			mailSvc = emailsvc.NewSendgridService(conf, logger)
		}
		cli.members = member.NewService(conf, store, mailSvc, logger)
	}

	if err = cli.run(os.Args); err != nil {
		if err != errHelp {
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", err)
		}
		return 1
	}
	return 0
}
