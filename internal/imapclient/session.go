package imapclient

import (
	"fmt"
	"strings"

	"github.com/eslider/mailmirror/internal/imapproto"
	"github.com/eslider/mailmirror/internal/mailbox"
	"github.com/eslider/mailmirror/internal/wire"
)

// NotAuthenticatedSession is the state immediately after the greeting: only
// LOGIN and CAPABILITY are permitted. The NotAuthenticated → Authenticated
// → Selected progression is modeled as distinct types whose constructors
// consume the prior state; Go has no move semantics to enforce that the
// old value can't be reused, so callers are expected to drop it once
// they've called a transition method.
type NotAuthenticatedSession struct {
	conn *Connection
}

// NewSession wraps a freshly dialed Connection in the NotAuthenticated state.
func NewSession(conn *Connection) *NotAuthenticatedSession {
	return &NotAuthenticatedSession{conn: conn}
}

// Capability issues an explicit CAPABILITY command and merges the result.
func (s *NotAuthenticatedSession) Capability() (imapproto.Capabilities, error) {
	return requestCapabilities(s.conn)
}

func requestCapabilities(conn *Connection) (imapproto.Capabilities, error) {
	stream, err := conn.Send("CAPABILITY")
	if err != nil {
		return imapproto.Capabilities{}, err
	}
	var caps imapproto.Capabilities
	for {
		resp, err := stream.Next()
		if err != nil {
			return imapproto.Capabilities{}, err
		}
		if resp.Kind == wire.KindTagged {
			if resp.Status != wire.StatusOK {
				return imapproto.Capabilities{}, fmt.Errorf("imapclient: CAPABILITY failed: %s", resp.Text)
			}
			break
		}
		if strings.EqualFold(resp.DataName(), "CAPABILITY") {
			caps = imapproto.CapabilitiesFromFields(resp.Fields[1:])
		}
	}
	conn.MergeCapabilities(caps)
	return conn.Capabilities(), nil
}

// Login authenticates and transitions to Authenticated. A NO response is
// reported as AuthFailed and does not poison the connection: the caller may
// retry with different credentials on a fresh session built over the same
// Connection, though in practice a worker just tears the connection down
// and reconnects on auth failure rather than retrying in place.
func (s *NotAuthenticatedSession) Login(user, password string) (*AuthenticatedSession, error) {
	stream, err := s.conn.Send("LOGIN", wire.QuoteString(user), wire.QuoteString(password))
	if err != nil {
		return nil, err
	}
	resp, err := stream.Drain()
	if err != nil {
		return nil, err
	}
	if resp.Status == wire.StatusNO {
		return nil, &imapproto.AuthFailed{Text: resp.Text}
	}
	if resp.Status != wire.StatusOK {
		return nil, fmt.Errorf("imapclient: unexpected LOGIN status %s: %s", resp.Status, resp.Text)
	}

	if resp.HasCode && len(resp.Code) > 0 && strings.EqualFold(resp.Code[0].Atom, "CAPABILITY") {
		s.conn.MergeCapabilities(imapproto.CapabilitiesFromFields(resp.Code[1:]))
	} else if _, err := requestCapabilities(s.conn); err != nil {
		return nil, err
	}

	return &AuthenticatedSession{conn: s.conn}, nil
}

// AuthenticatedSession permits ENABLE, SELECT/EXAMINE, and LOGOUT.
type AuthenticatedSession struct {
	conn *Connection
}

// RequireQresyncCapabilities fails fast with CapabilityMissing if the
// server didn't advertise everything QRESYNC mirroring needs.
func (s *AuthenticatedSession) RequireQresyncCapabilities() error {
	if missing := s.conn.Capabilities().MissingForQresyncMirroring(); len(missing) > 0 {
		return &imapproto.CapabilityMissing{Missing: missing}
	}
	return nil
}

// EnableQresync issues "ENABLE QRESYNC", required once per connection
// before any QRESYNC-parameterized SELECT.
func (s *AuthenticatedSession) EnableQresync() error {
	stream, err := s.conn.Send("ENABLE", imapproto.CapQresync)
	if err != nil {
		return err
	}
	resp, err := stream.Drain()
	if err != nil {
		return err
	}
	if resp.Status != wire.StatusOK {
		return fmt.Errorf("imapclient: ENABLE QRESYNC failed: %s", resp.Text)
	}
	return nil
}

// Cursor is the persisted (UidValidity, HighestModSeq) pair a SELECT can
// pass as a QRESYNC parameter to resume incrementally.
type Cursor struct {
	UidValidity   mailbox.UidValidity
	HighestModSeq mailbox.ModSeq
}

// Select opens mailboxName. When cursor is non-nil the SELECT carries a
// QRESYNC parameter and the returned RemoteChanges holds the deltas the
// server piggybacked on the exchange; with a nil cursor (first-ever sync)
// RemoteChanges is always empty and the reconciler must derive everything
// from a full UID FETCH instead.
func (s *AuthenticatedSession) Select(mailboxName string, cursor *Cursor) (*SelectedSession, mailbox.Mailbox, mailbox.RemoteChanges, error) {
	var args []string
	if cursor != nil {
		args = []string{
			wire.QuoteString(mailboxName),
			fmt.Sprintf("(QRESYNC (%d %d))", cursor.UidValidity, cursor.HighestModSeq),
		}
	} else {
		args = []string{wire.QuoteString(mailboxName)}
	}

	stream, err := s.conn.Send("SELECT", args...)
	if err != nil {
		return nil, mailbox.Mailbox{}, mailbox.RemoteChanges{}, err
	}

	acc := imapproto.NewSelectAccumulator(mailboxName)
	for {
		resp, err := stream.Next()
		if err != nil {
			return nil, mailbox.Mailbox{}, mailbox.RemoteChanges{}, err
		}
		if resp.Kind == wire.KindTagged {
			if resp.Status == wire.StatusNO {
				return nil, mailbox.Mailbox{}, mailbox.RemoteChanges{}, &imapproto.SelectError{Mailbox: mailboxName, Text: resp.Text}
			}
			if resp.Status != wire.StatusOK {
				return nil, mailbox.Mailbox{}, mailbox.RemoteChanges{}, fmt.Errorf("imapclient: unexpected SELECT status %s: %s", resp.Status, resp.Text)
			}
			if err := acc.Feed(resp); err != nil {
				return nil, mailbox.Mailbox{}, mailbox.RemoteChanges{}, err
			}
			break
		}
		if err := acc.Feed(resp); err != nil {
			return nil, mailbox.Mailbox{}, mailbox.RemoteChanges{}, err
		}
	}

	mb, changes := acc.Result()
	return &SelectedSession{conn: s.conn, mailbox: mb}, mb, changes, nil
}

// Logout issues LOGOUT and closes the underlying socket.
func (s *AuthenticatedSession) Logout() error {
	return logout(s.conn)
}

func logout(conn *Connection) error {
	stream, err := conn.Send("LOGOUT")
	if err != nil {
		return err
	}
	_, err = stream.Drain()
	closeErr := conn.Close()
	if err != nil {
		return err
	}
	return closeErr
}
