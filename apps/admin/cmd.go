package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"golang.org/x/term"

	"github.com/trezcool/memberhub/core"
	"github.com/trezcool/memberhub/core/member"
	"github.com/trezcool/memberhub/storage/database"
)

var (
	isTerminalFunc = term.IsTerminal        // mockable
	gooseRunFunc   = database.RunMigrations // mockable
	createDBFunc   = database.CreateIfNotExist

	errHelp     = errors.New("help provided")
	errAborted  = errors.New("aborted")
	errNoAdmin  = errors.New("no admin email configured; use -as EMAIL")
	errNoTTYYes = errors.New("stdin is not a terminal; pass -yes to confirm")
)

type commandLine struct {
	conf    *core.Config
	members *member.Service
	openDB  func(ctx context.Context) (*sql.DB, error)
	in      io.Reader
	out     io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  createdb                          - create the postgres database if it does not exist")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS]            - run a goose migration command (up, down, status, ...)")
	fmt.Fprintln(cli.out, "  pending [-as EMAIL]               - list pending registrations")
	fmt.Fprintln(cli.out, "  approve -id UID [-as EMAIL]       - activate a membership")
	fmt.Fprintln(cli.out, "  expire -id UID [-as EMAIL]        - expire a membership")
	fmt.Fprintln(cli.out, "  delete -id UID [-yes] [-as EMAIL] - delete (reject) a registration")
}

// caller returns the admin principal the CLI acts as.
func (cli *commandLine) caller(as string) (*member.Principal, error) {
	email := core.CleanString(as, true /* lower */)
	if email == "" {
		emails := cli.members.Policy().Emails()
		if len(emails) == 0 {
			return nil, errNoAdmin
		}
		email = emails[0]
	}
	return &member.Principal{ID: "admin-cli", Email: email, DisplayName: "Admin CLI"}, nil
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}
	ctx := context.Background()

	switch args[1] {
	case "createdb":
		return createDBFunc(ctx, cli.conf)

	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(ctx, args[2:])

	case "pending":
		cmd := flag.NewFlagSet("pending", flag.ContinueOnError)
		cmd.SetOutput(cli.out)
		as := cmd.String("as", "", "The admin email to act as. Defaults to the first configured admin.")
		if err := cmd.Parse(args[2:]); err != nil {
			return err
		}
		caller, err := cli.caller(*as)
		if err != nil {
			return err
		}
		return cli.listPending(ctx, caller)

	case "approve", "expire", "delete":
		cmd := flag.NewFlagSet(args[1], flag.ContinueOnError)
		cmd.SetOutput(cli.out)
		uid := cmd.String("id", "", "The member's user ID.")
		as := cmd.String("as", "", "The admin email to act as. Defaults to the first configured admin.")
		yes := cmd.Bool("yes", false, "Do not ask for confirmation (delete only).")
		if err := cmd.Parse(args[2:]); err != nil {
			return err
		}
		if strings.TrimSpace(*uid) == "" {
			cmd.Usage()
			return errHelp
		}
		caller, err := cli.caller(*as)
		if err != nil {
			return err
		}

		switch args[1] {
		case "approve":
			return cli.members.Approve(ctx, caller, *uid)
		case "expire":
			return cli.members.Expire(ctx, caller, *uid)
		default:
			if !*yes {
				if err = cli.confirm(fmt.Sprintf("Delete the registration of %s?", *uid)); err != nil {
					return err
				}
			}
			return cli.members.Delete(ctx, caller, *uid)
		}

	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) confirm(question string) error {
	if !isTerminalFunc(int(os.Stdin.Fd())) {
		return errNoTTYYes
	}
	fmt.Fprintf(cli.out, "%s [y/N] ", question)
	answer, err := bufio.NewReader(cli.in).ReadString('\n')
	if err != nil && err != io.EOF {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return nil
	}
	return errAborted
}

func (cli *commandLine) listPending(ctx context.Context, caller *member.Principal) error {
	pending, err := cli.members.ListPending(ctx, caller)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Fprintln(cli.out, "No pending registrations.")
		return nil
	}

	w := tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "UID\tNAME\tEMAIL\tID NUMBER\tRECEIPT\tREGISTERED")
	for _, u := range pending {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			u.UID, u.Name, u.Email, u.IdentificationNumber, u.ReceiptURL, u.RegisteredAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}
