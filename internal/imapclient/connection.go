// Package imapclient layers the typestate protocol client — LOGIN, ENABLE
// QRESYNC, SELECT, FETCH, STORE, IDLE — on top of internal/wire's codec and
// internal/imapproto's response parsing. Each mailbox worker owns exactly
// one Connection and drives it from a single goroutine, so unlike the
// channel-and-broadcast design sketched for a fully asynchronous runtime,
// commands here are issued and drained synchronously: there is never a
// second command in flight to route untagged data to, so the "broadcast
// channel for state updates" collapses into whichever ResponseStream is
// currently being read.
package imapclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/eslider/mailmirror/internal/imapproto"
	"github.com/eslider/mailmirror/internal/wire"
)

// readChunkSize is how much we ask the kernel for on each underfilled read.
const readChunkSize = 8192

// Connection owns a single TLS-wrapped socket and the wire codec framing
// it. All access happens from the one goroutine that dialed it; Connection
// does not synchronize internally.
type Connection struct {
	conn    net.Conn
	decoder *wire.Decoder
	buf     []byte

	tags *imapproto.TagGenerator
	caps imapproto.Capabilities

	activeTag string
	poisoned  error
}

// Dial performs the TCP+TLS handshake and reads the server greeting. The
// greeting is either "* OK ..." or, for pre-authenticated servers,
// "* PREAUTH ..."; a greeting of "* BYE ..." is reported as ConnectionClosed
// before the caller ever gets a usable Connection.
func Dial(ctx context.Context, addr string, tlsConfig *tls.Config) (*Connection, *wire.Response, error) {
	dialer := &tls.Dialer{Config: tlsConfig}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("imapclient: connect %s: %w", addr, err)
	}

	c := &Connection{
		conn:    raw,
		decoder: wire.NewDecoder(),
		tags:    imapproto.NewTagGenerator(),
	}

	greeting, err := c.nextResponse()
	if err != nil {
		raw.Close()
		return nil, nil, fmt.Errorf("imapclient: reading greeting from %s: %w", addr, err)
	}
	if greeting.HasStatus && greeting.Status == wire.StatusBYE {
		raw.Close()
		return nil, nil, &imapproto.ConnectionClosed{Reason: "server sent BYE in greeting: " + greeting.Text}
	}
	return c, greeting, nil
}

// NewConnectionForTest builds a Connection over an already-established
// net.Conn (a net.Pipe end in tests, a plaintext socket against a local
// fixture server), skipping the TLS handshake Dial performs. It does not
// read a greeting; callers drive that themselves.
func NewConnectionForTest(conn net.Conn) *Connection {
	return &Connection{conn: conn, decoder: wire.NewDecoder(), tags: imapproto.NewTagGenerator()}
}

// Capabilities returns the capability set merged so far from the greeting,
// LOGIN response codes, and any explicit CAPABILITY command.
func (c *Connection) Capabilities() imapproto.Capabilities { return c.caps }

// MergeCapabilities folds newly observed capability tokens into the
// connection's set.
func (c *Connection) MergeCapabilities(caps imapproto.Capabilities) {
	c.caps = c.caps.Merge(caps)
}

// Send allocates a tag, writes the framed command, and returns a lazy
// stream of the responses that follow it.
func (c *Connection) Send(name string, args ...string) (*ResponseStream, error) {
	if c.poisoned != nil {
		return nil, c.poisoned
	}
	if c.activeTag != "" {
		return nil, fmt.Errorf("imapclient: command %q already in flight with tag %s", name, c.activeTag)
	}
	tag := c.tags.Next()
	if err := c.writeAll(wire.Command(tag, name, args...)); err != nil {
		c.poison(fmt.Errorf("imapclient: writing %s: %w", name, err))
		return nil, c.poisoned
	}
	c.activeTag = tag
	return &ResponseStream{conn: c, tag: tag}, nil
}

// sendRaw writes continuation data (literal bytes, or DONE for IDLE) with
// no tag.
func (c *Connection) sendRaw(data []byte) error {
	if c.poisoned != nil {
		return c.poisoned
	}
	if err := c.writeAll(data); err != nil {
		c.poison(fmt.Errorf("imapclient: writing continuation: %w", err))
		return c.poisoned
	}
	return nil
}

func (c *Connection) writeAll(data []byte) error {
	for len(data) > 0 {
		n, err := c.conn.Write(data)
		if err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

// nextResponse decodes one Response from the front of the buffered stream,
// reading more bytes from the socket as needed.
func (c *Connection) nextResponse() (*wire.Response, error) {
	for {
		resp, n, err := c.decoder.Decode(c.buf)
		if err == nil {
			c.buf = c.buf[n:]
			return resp, nil
		}
		if err != wire.ErrNeedMore {
			return nil, fmt.Errorf("imapclient: malformed response: %w", err)
		}
		chunk := make([]byte, readChunkSize)
		n, readErr := c.conn.Read(chunk)
		if n > 0 {
			c.buf = append(c.buf, chunk[:n]...)
		}
		if readErr != nil {
			return nil, fmt.Errorf("imapclient: reading from connection: %w", readErr)
		}
	}
}

// idlePollInterval bounds how often nextResponseWithPoll checks ctx.Done()
// while blocked waiting for the server to send something during IDLE.
const idlePollInterval = 5 * time.Second

// nextResponseWithPoll behaves like nextResponse but periodically releases
// the blocking Read so ctx cancellation (the supervisor asking a worker to
// stop) is noticed promptly instead of only after the server's next byte.
func (c *Connection) nextResponseWithPoll(ctx context.Context) (*wire.Response, error) {
	defer c.conn.SetReadDeadline(time.Time{})
	for {
		resp, n, err := c.decoder.Decode(c.buf)
		if err == nil {
			c.buf = c.buf[n:]
			return resp, nil
		}
		if err != wire.ErrNeedMore {
			return nil, fmt.Errorf("imapclient: malformed response: %w", err)
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.conn.SetReadDeadline(time.Now().Add(idlePollInterval))
		chunk := make([]byte, readChunkSize)
		n, readErr := c.conn.Read(chunk)
		if n > 0 {
			c.buf = append(c.buf, chunk[:n]...)
		}
		if readErr != nil {
			var netErr net.Error
			if errors.As(readErr, &netErr) && netErr.Timeout() {
				continue
			}
			return nil, fmt.Errorf("imapclient: reading from connection: %w", readErr)
		}
	}
}

// poison marks the connection unusable for any further command. Already
// poisoned connections keep their first error.
func (c *Connection) poison(err error) {
	if c.poisoned == nil {
		c.poisoned = err
	}
	c.activeTag = ""
}

// Close closes the underlying socket. It does not send LOGOUT; callers in
// the Selected/Authenticated state should do that first.
func (c *Connection) Close() error { return c.conn.Close() }
