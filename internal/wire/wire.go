// Package wire implements the IMAP4rev1 framing codec: turning a growable
// byte buffer into typed Response values without assuming a response ever
// arrives in one read, and turning outgoing commands into the tagged
// "<tag> SP <command> CRLF" wire form. It knows nothing about IMAP
// semantics beyond the response grammar itself; interpreting a FETCH's
// field list or a CAPABILITY line's atoms is internal/imapproto's job.
package wire

import "errors"

// ErrNeedMore is returned by Decoder.Decode when buf does not yet contain a
// complete response. The caller should read more bytes, append them, and
// retry; it is not an error in the usual sense.
var ErrNeedMore = errors.New("wire: need more data")

// CRLF terminates every IMAP line.
const CRLF = "\r\n"

// MaxLineLength bounds a single non-literal line to guard against a
// misbehaving or malicious server never sending a CRLF.
const MaxLineLength = 64 * 1024

// MaxLiteralLength bounds a single literal's declared byte count. RFC 3501
// literals are unbounded in principle; mailboxes with enormous messages are
// legitimate, so this is generous rather than tight.
const MaxLiteralLength = 256 * 1024 * 1024
