package imapclient

import (
	"context"
	"fmt"
	"strings"

	"github.com/eslider/mailmirror/internal/imapproto"
	"github.com/eslider/mailmirror/internal/mailbox"
	"github.com/eslider/mailmirror/internal/wire"
)

// SelectedSession permits FETCH, STORE, IDLE, CLOSE, and re-SELECT.
type SelectedSession struct {
	conn    *Connection
	mailbox mailbox.Mailbox
}

// Mailbox returns the snapshot captured at SELECT time. It does not track
// further EXISTS/RECENT changes observed afterward.
func (s *SelectedSession) Mailbox() mailbox.Mailbox { return s.mailbox }

// NewSelectedSessionForTest builds a SelectedSession directly over an
// already-established Connection, skipping LOGIN/ENABLE/SELECT. Used by
// other packages' tests (internal/reconciler) that need a scripted fake
// server downstream of SELECT without re-driving the whole handshake.
func NewSelectedSessionForTest(conn *Connection, mb mailbox.Mailbox) *SelectedSession {
	return &SelectedSession{conn: conn, mailbox: mb}
}

// FetchStream is the lazy per-FETCH sequence of RemoteMail, one per message
// in the requested sequence set, terminated by the tagged completion.
type FetchStream struct {
	stream *ResponseStream
	order  []string
}

// Next returns the next fetched message, or (zero, false, nil) once the
// stream is exhausted.
func (f *FetchStream) Next() (mailbox.RemoteMail, bool, error) {
	for {
		resp, err := f.stream.Next()
		if err != nil {
			return mailbox.RemoteMail{}, false, err
		}
		if resp.Kind == wire.KindTagged {
			if resp.Status != wire.StatusOK {
				return mailbox.RemoteMail{}, false, fmt.Errorf("imapclient: FETCH failed: %s", resp.Text)
			}
			return mailbox.RemoteMail{}, false, nil
		}
		if !strings.EqualFold(resp.DataName(), "FETCH") {
			continue
		}
		_, attrs, err := imapproto.SeqNumFromUntaggedFetch(resp)
		if err != nil {
			return mailbox.RemoteMail{}, false, err
		}
		mail, err := imapproto.ParseFetchAttrs(attrs, f.order)
		if err != nil {
			return mailbox.RemoteMail{}, false, err
		}
		return mail, true, nil
	}
}

// UidFetchMeta issues "UID FETCH <uids> (UID FLAGS)", for the lightweight
// metadata pass a full reconciliation uses to diff against the local store.
func (s *SelectedSession) UidFetchMeta(uids mailbox.SequenceSet) (*FetchStream, error) {
	return s.uidFetch(uids, []string{"UID", "FLAGS"})
}

// UidFetchFull issues "UID FETCH <uids> (UID FLAGS RFC822)", for
// downloading message bodies the local store doesn't have yet.
func (s *SelectedSession) UidFetchFull(uids mailbox.SequenceSet) (*FetchStream, error) {
	return s.uidFetch(uids, []string{"UID", "FLAGS", "RFC822"})
}

func (s *SelectedSession) uidFetch(uids mailbox.SequenceSet, attrs []string) (*FetchStream, error) {
	if uids.Empty() {
		return nil, fmt.Errorf("imapclient: UID FETCH with empty sequence set")
	}
	stream, err := s.conn.Send("UID FETCH", uids.String(), "("+strings.Join(attrs, " ")+")")
	if err != nil {
		return nil, err
	}
	return &FetchStream{stream: stream, order: attrs}, nil
}

// UidStore issues "UID STORE <uids> +FLAGS.SILENT (<flags>)" or
// "-FLAGS.SILENT" depending on add, applying the local→remote side of a
// flag reconciliation pass. SILENT suppresses the untagged FETCH echo this
// client has no use for.
func (s *SelectedSession) UidStore(uids mailbox.SequenceSet, add bool, flags mailbox.Flag) error {
	if uids.Empty() || flags == 0 {
		return nil
	}
	op := "-FLAGS.SILENT"
	if add {
		op = "+FLAGS.SILENT"
	}
	names := flags.IMAPNames()
	stream, err := s.conn.Send("UID STORE", uids.String(), op, "("+strings.Join(names, " ")+")")
	if err != nil {
		return err
	}
	resp, err := stream.Drain()
	if err != nil {
		return err
	}
	if resp.Status != wire.StatusOK {
		return fmt.Errorf("imapclient: UID STORE failed: %s", resp.Text)
	}
	return nil
}

// IdleWakeReason explains why an IDLE round ended.
type IdleWakeReason int

const (
	// IdleWokeByServer means the server reported a change worth reacting to
	// (EXISTS growing, or an EXPUNGE/VANISHED).
	IdleWokeByServer IdleWakeReason = iota
	// IdleCancelled means ctx was cancelled and DONE was sent to unwind cleanly.
	IdleCancelled
)

// Idle issues IDLE and blocks until either the server reports a change this
// mirror cares about or ctx is cancelled, sending DONE and draining to the
// tagged OK in both cases before returning.
func (s *SelectedSession) Idle(ctx context.Context) (IdleWakeReason, error) {
	stream, err := s.conn.Send("IDLE")
	if err != nil {
		return 0, err
	}

	// The server's "+ idling" continuation just confirms IDLE started; it
	// carries no information this client acts on.
	if _, err := stream.NextCtx(ctx); err != nil {
		return 0, err
	}

	reason := IdleWokeByServer
	for {
		resp, err := stream.NextCtx(ctx)
		if err != nil {
			if ctx.Err() != nil {
				reason = IdleCancelled
				break
			}
			return 0, err
		}
		if resp.Kind == wire.KindTagged {
			// DONE was already sent by someone else on this stream, or the
			// server ended IDLE unilaterally; either way we're done.
			return reason, nil
		}
		if shouldWake(resp) {
			break
		}
	}

	if err := stream.SendContinuation(wire.ContinuationDone()); err != nil {
		return reason, err
	}
	if _, err := stream.Drain(); err != nil {
		return reason, err
	}
	return reason, nil
}

func shouldWake(resp *wire.Response) bool {
	name := strings.ToUpper(resp.DataName())
	switch name {
	case "EXISTS", "EXPUNGE", "VANISHED":
		return true
	default:
		return false
	}
}

// Close issues CLOSE, returning the session to Authenticated. CLOSE (unlike
// SELECT-to-a-new-mailbox) expunges \Deleted messages server-side, but this
// mirror never sets \Deleted itself, so that side effect never fires here.
func (s *SelectedSession) Close() (*AuthenticatedSession, error) {
	stream, err := s.conn.Send("CLOSE")
	if err != nil {
		return nil, err
	}
	resp, err := stream.Drain()
	if err != nil {
		return nil, err
	}
	if resp.Status != wire.StatusOK {
		return nil, fmt.Errorf("imapclient: CLOSE failed: %s", resp.Text)
	}
	return &AuthenticatedSession{conn: s.conn}, nil
}

// Logout issues LOGOUT and closes the underlying socket.
func (s *SelectedSession) Logout() error {
	return logout(s.conn)
}

// AppendResult reports the UID the server assigned a newly appended
// message, when UIDPLUS-style feedback is available on the tagged
// completion. APPEND's wire flow isn't implemented yet; this is the
// interface only, wired into the reconciler's local-to-remote apply step
// as a stub that reports ErrAppendNotImplemented until a concrete wire
// implementation lands.
type AppendResult struct {
	Uid    mailbox.Uid
	HasUid bool
}

// ErrAppendNotImplemented is returned by Append until APPEND's protocol
// flow (literal-bearing command, continuation handshake, UIDPLUS response
// code parsing) is implemented.
var ErrAppendNotImplemented = fmt.Errorf("imapclient: APPEND not implemented")

// Append would upload a locally authored message. See ErrAppendNotImplemented.
func (s *SelectedSession) Append(mailboxName string, flags mailbox.Flag, body []byte) (AppendResult, error) {
	return AppendResult{}, ErrAppendNotImplemented
}
