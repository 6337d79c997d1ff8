// Package supervisor runs one worker goroutine per configured mailbox,
// each running connect → authenticate → enable QRESYNC → select →
// reconcile → IDLE → reconcile → … until cancelled. Workers are isolated —
// a failure in one mailbox does not cancel the others — and the supervisor
// aggregates their errors so the process can report one non-zero exit if
// any of them failed.
//
// Mailboxes run as goroutines sharing one address space rather than one
// OS process per mailbox, using golang.org/x/sync/errgroup to fan out and
// aggregate errors across the worker pool — the idiomatic Go replacement
// for a hand-rolled sync.WaitGroup-plus-error-slice pattern.
package supervisor

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/eslider/mailmirror/internal/config"
	"github.com/eslider/mailmirror/internal/imapclient"
	"github.com/eslider/mailmirror/internal/logging"
	"github.com/eslider/mailmirror/internal/maildir"
	"github.com/eslider/mailmirror/internal/mailbox"
	"github.com/eslider/mailmirror/internal/reconciler"
	"github.com/eslider/mailmirror/internal/store"
)

// Run synchronizes every mailbox named in acct.Mailboxes concurrently,
// each in its own worker, and blocks until every worker has returned
// (on ctx cancellation or on its own fatal error). It returns the first
// worker error encountered — a failure in one mailbox is reported here but
// does not stop the others from continuing their own loop until ctx is
// done.
func Run(ctx context.Context, acct config.Account, paths config.Paths, account string) error {
	var group errgroup.Group
	for _, mb := range acct.Mailboxes {
		mb := mb
		group.Go(func() error {
			return RunOne(ctx, acct, paths, account, mb)
		})
	}
	return group.Wait()
}

// RunOne synchronizes a single mailbox until ctx is cancelled or a fatal
// error occurs. Transport and protocol errors tear the connection down and
// propagate to the caller rather than retrying — there are no
// silent retries (retries are a future extension).
func RunOne(ctx context.Context, acct config.Account, paths config.Paths, account, mailboxName string) error {
	log := logging.Default(mailboxName)

	connID := sessionID()
	log.Info("dialing %s (session %s)", acct.Addr(), connID)

	password, err := acct.Password()
	if err != nil {
		return fmt.Errorf("supervisor[%s]: %w", mailboxName, err)
	}

	conn, _, err := imapclient.Dial(ctx, acct.Addr(), &tls.Config{ServerName: acct.Host})
	if err != nil {
		return fmt.Errorf("supervisor[%s]: %w", mailboxName, err)
	}
	defer conn.Close()

	authSession, err := imapclient.NewSession(conn).Login(acct.Auth.User, password)
	if err != nil {
		return fmt.Errorf("supervisor[%s]: login: %w", mailboxName, err)
	}
	if err := authSession.RequireQresyncCapabilities(); err != nil {
		return fmt.Errorf("supervisor[%s]: %w", mailboxName, err)
	}
	if err := authSession.EnableQresync(); err != nil {
		return fmt.Errorf("supervisor[%s]: %w", mailboxName, err)
	}

	st, err := store.Open(paths.StateFile(account, mailboxName))
	if err != nil {
		return fmt.Errorf("supervisor[%s]: %w", mailboxName, err)
	}
	defer st.Close()

	dir, err := maildir.Open(paths.MaildirPath(account, mailboxName))
	if err != nil {
		return fmt.Errorf("supervisor[%s]: %w", mailboxName, err)
	}

	cursor, err := cursorFromStore(st)
	if err != nil {
		return fmt.Errorf("supervisor[%s]: %w", mailboxName, err)
	}

	selected, mb, remote, err := authSession.Select(mailboxName, cursor)
	if err != nil {
		return fmt.Errorf("supervisor[%s]: select: %w", mailboxName, err)
	}

	rec := reconciler.New(selected, st, dir, log)
	log.Info("starting sync (uidvalidity=%d, uidnext=%d, highestmodseq=%d)", mb.UidValidity, mb.UidNext, mb.HighestModSeq)

	for {
		if err := rec.Reconcile(mb, remote); err != nil {
			return fmt.Errorf("supervisor[%s]: reconcile: %w", mailboxName, err)
		}

		if ctx.Err() != nil {
			return nil
		}

		reason, err := selected.Idle(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("supervisor[%s]: idle: %w", mailboxName, err)
		}
		if reason == imapclient.IdleCancelled {
			return nil
		}

		// Re-SELECT to pick up a fresh Mailbox snapshot and any further
		// QRESYNC deltas since the cursor last advanced, then reconcile again.
		selected, mb, remote, err = authSession.Select(mailboxName, cursorFromMailbox(mb, st))
		if err != nil {
			return fmt.Errorf("supervisor[%s]: re-select: %w", mailboxName, err)
		}
		rec = reconciler.New(selected, st, dir, log)
	}
}

// sessionID mints a correlation id logged once per connection lifecycle
// (dial through eventual disconnect), a UUIDv7 scheme that is time-ordered
// so log lines from concurrent mailbox workers sort sensibly by when the
// connection was opened even though they interleave in one stream.
func sessionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// cursorFromStore builds the QRESYNC cursor SELECT needs from the
// persisted store, or nil if this mailbox has never been synced before.
func cursorFromStore(st *store.Store) (*imapclient.Cursor, error) {
	validity, ok, err := st.UidValidity()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	modSeq, err := st.HighestModSeq()
	if err != nil {
		return nil, err
	}
	if modSeq == 0 {
		return nil, nil
	}
	return &imapclient.Cursor{UidValidity: validity, HighestModSeq: modSeq}, nil
}

// cursorFromMailbox prefers the just-reconciled store state (which
// reconciler.Reconcile has just advanced) over the stale Mailbox snapshot
// from the prior SELECT.
func cursorFromMailbox(mb mailbox.Mailbox, st *store.Store) *imapclient.Cursor {
	cursor, err := cursorFromStore(st)
	if err != nil || cursor == nil {
		return &imapclient.Cursor{UidValidity: mb.UidValidity, HighestModSeq: mb.HighestModSeq}
	}
	return cursor
}
