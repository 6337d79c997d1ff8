// mailmirror keeps a local maildir in sync with a remote IMAP mailbox over
// QRESYNC. One process instance handles one account; workers for each
// configured mailbox run as goroutines inside it (see internal/supervisor).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/eslider/mailmirror/internal/config"
	"github.com/eslider/mailmirror/internal/logging"
	"github.com/eslider/mailmirror/internal/nuke"
	"github.com/eslider/mailmirror/internal/supervisor"
)

var version = "0.1.0-dev"

func main() {
	os.Exit(run())
}

func run() int {
	account := flag.String("account", "", "account name (selects <config>/accounts/<name>.toml)")
	mailboxName := flag.String("mailbox", "", "sync just this mailbox in-process (default: every configured mailbox)")
	doNuke := flag.Bool("nuke", false, "recursively delete this account's local mail and state, then exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("mailmirror " + version)
		return 0
	}

	log := logging.Default("")

	if *account == "" {
		fmt.Fprintln(os.Stderr, "mailmirror: --account is required")
		return 1
	}

	paths, err := config.ResolvePaths()
	if err != nil {
		log.Error("%v", err)
		return 1
	}

	if *doNuke {
		if err := nuke.Account(paths, *account, log); err != nil {
			log.Error("%v", err)
			return 1
		}
		return 0
	}

	acct, err := config.LoadAccount(paths.AccountFile(*account))
	if err != nil {
		log.Error("%v", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *mailboxName != "" {
		if err := supervisor.RunOne(ctx, acct, paths, *account, *mailboxName); err != nil {
			log.Error("mailbox %s: %v", *mailboxName, err)
			return 1
		}
		return 0
	}

	if err := supervisor.Run(ctx, acct, paths, *account); err != nil {
		log.Error("%v", err)
		return 1
	}
	return 0
}
