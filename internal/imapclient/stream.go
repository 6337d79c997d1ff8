package imapclient

import (
	"context"
	"errors"
	"fmt"

	"github.com/eslider/mailmirror/internal/imapproto"
	"github.com/eslider/mailmirror/internal/wire"
)

// ResponseStream is the lazy per-command sequence of responses terminated
// by the matching tagged completion. Callers pull responses with Next
// until it reports done; a stream that is abandoned before reaching its
// terminal tag must be drained with Drain before the connection can accept
// another command.
type ResponseStream struct {
	conn *Connection
	tag  string
	done bool
	err  error
}

// Tag returns the command tag this stream is waiting for.
func (s *ResponseStream) Tag() string { return s.tag }

// Done reports whether the terminal tagged response has already been
// observed (or the stream failed).
func (s *ResponseStream) Done() bool { return s.done }

// Next returns the next response in the stream. Once it returns a
// KindTagged response (or an error), the stream is done and must not be
// read again.
func (s *ResponseStream) Next() (*wire.Response, error) {
	return s.next(s.conn.nextResponse)
}

// NextCtx behaves like Next but polls ctx for cancellation instead of
// blocking indefinitely on the socket, for use inside IDLE where the
// server may say nothing for a long time.
func (s *ResponseStream) NextCtx(ctx context.Context) (*wire.Response, error) {
	return s.next(func() (*wire.Response, error) { return s.conn.nextResponseWithPoll(ctx) })
}

func (s *ResponseStream) next(read func() (*wire.Response, error)) (*wire.Response, error) {
	if s.done {
		return nil, fmt.Errorf("imapclient: Next called on completed stream for tag %s", s.tag)
	}

	resp, err := read()
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// Cancellation leaves the command in flight so the caller can
			// still end it (DONE for IDLE) and drain to its tagged completion.
			return nil, err
		}
		s.fail(err)
		return nil, err
	}

	if resp.HasStatus && resp.Status == wire.StatusBYE {
		closedErr := &imapproto.ConnectionClosed{Reason: resp.Text}
		s.conn.poison(closedErr)
		s.done = true
		s.err = closedErr
		return resp, closedErr
	}

	switch resp.Kind {
	case wire.KindTagged:
		if resp.Tag != s.tag {
			violation := &imapproto.ProtocolViolation{
				Reason: fmt.Sprintf("tagged response %q does not match outstanding command tag %q", resp.Tag, s.tag),
			}
			s.fail(violation)
			return resp, violation
		}
		if resp.Status == wire.StatusBAD {
			violation := &imapproto.ProtocolViolation{Reason: "server returned BAD: " + resp.Text}
			s.fail(violation)
			return resp, violation
		}
		s.done = true
		s.conn.activeTag = ""
		return resp, nil
	case wire.KindContinuation:
		return resp, nil
	default: // KindUntagged, not BYE
		return resp, nil
	}
}

// SendContinuation writes literal body bytes or DONE in response to a "+"
// continuation prompt this stream observed.
func (s *ResponseStream) SendContinuation(data []byte) error {
	return s.conn.sendRaw(data)
}

// Drain reads and discards responses until the stream completes, returning
// the terminal tagged response (or the error that ended the stream early).
// Used for commands whose untagged data the caller doesn't need (LOGIN,
// ENABLE, LOGOUT, silent STORE) and for abandoning a stream on cancellation.
func (s *ResponseStream) Drain() (*wire.Response, error) {
	var last *wire.Response
	for !s.done {
		resp, err := s.Next()
		if err != nil {
			return resp, err
		}
		last = resp
	}
	return last, nil
}

func (s *ResponseStream) fail(err error) {
	s.conn.poison(err)
	s.done = true
	s.err = err
}
