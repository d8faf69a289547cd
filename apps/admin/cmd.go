package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"

	"golang.org/x/term"

	"github.com/trezcool/masomo-sync/core"
	"github.com/trezcool/masomo-sync/core/offline"
	remotesvc "github.com/trezcool/masomo-sync/services/remote"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	conf        *core.Config
	db          *sql.DB
	store       offline.QueueStore
	coordinator *offline.Coordinator
	remote      *remotesvc.Client
	out         io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS]           - run a goose command (up, down, status, ...)")
	fmt.Fprintln(cli.out, "  queue [-store NAME]              - list the queued mutations")
	fmt.Fprintln(cli.out, "  discard -id ID                   - drop a queued mutation without syncing it")
	fmt.Fprintln(cli.out, "  sync [-force]                    - drain the queue now")
	fmt.Fprintln(cli.out, "  token -client ID [-profile NAME] - issue an API token for a portal client")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	queueCmd := flag.NewFlagSet("queue", flag.ContinueOnError)
	queueStore := queueCmd.String("store", "", "Only list the mutations of this store.")

	discardCmd := flag.NewFlagSet("discard", flag.ContinueOnError)
	discardID := discardCmd.String("id", "", "The queue item ID.")

	syncCmd := flag.NewFlagSet("sync", flag.ContinueOnError)
	syncForce := syncCmd.Bool("force", false, "Ignore the retry delays of failed mutations.")

	tokenCmd := flag.NewFlagSet("token", flag.ContinueOnError)
	tokenClient := tokenCmd.String("client", "", "The client (device) ID.")
	tokenProfile := tokenCmd.String("profile", cli.conf.Sync.Profile, "The portal profile: teacher or coordinator.")

	for _, fs := range []*flag.FlagSet{queueCmd, discardCmd, syncCmd, tokenCmd} {
		fs.SetOutput(cli.out)
	}

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])
	case "queue":
		if err := queueCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		return cli.listQueue(*queueStore)
	case "discard":
		if err := discardCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *discardID == "" {
			discardCmd.Usage()
			return errHelp
		}
		return cli.discard(*discardID)
	case "sync":
		if err := syncCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		return cli.sync(*syncForce)
	case "token":
		if err := tokenCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *tokenClient == "" {
			tokenCmd.Usage()
			return errHelp
		}
		return cli.token(*tokenClient, *tokenProfile)
	default:
		cli.printUsage()
		return errHelp
	}
}
