package wire

import (
	"fmt"
	"strings"
)

// QuoteString renders s as an IMAP quoted string, escaping backslash and
// double-quote. Callers must not pass strings containing CR, LF, or NUL;
// those require a literal instead (see LiteralHeader).
func QuoteString(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' || c == '"' {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	b.WriteByte('"')
	return b.String()
}

// NeedsLiteral reports whether s cannot be safely sent as a quoted string
// and must instead be sent as a literal.
func NeedsLiteral(s string) bool {
	return strings.ContainsAny(s, "\r\n\x00")
}

// LiteralHeader renders the "{N}\r\n" literal-length prefix for n bytes of
// content. The synchronizing form is used: the caller must wait for the
// server's "+" continuation response before writing the literal body.
func LiteralHeader(n int) string {
	return fmt.Sprintf("{%d}\r\n", n)
}

// Command renders a complete non-literal command line:
// "<tag> <name> <args...>\r\n". Args are joined with single spaces and
// written verbatim, so callers are responsible for quoting/escaping any
// argument that needs it (QuoteString) and for not passing an arg that
// NeedsLiteral.
func Command(tag, name string, args ...string) []byte {
	parts := make([]string, 0, len(args)+2)
	parts = append(parts, tag, name)
	parts = append(parts, args...)
	return []byte(strings.Join(parts, " ") + CRLF)
}

// LiteralCommand renders the portion of a command up to and including a
// literal's "{N}\r\n" header. The caller must send this, read the server's
// continuation response, then send body followed by any remaining
// arguments and a final CRLF via Command or a raw write.
//
// APPEND is the one command in this client's vocabulary whose argument
// (the message body) can contain arbitrary bytes. Nothing in this module
// calls LiteralCommand: imapclient's SelectedSession.Append returns
// ErrAppendNotImplemented without writing to the wire.
func LiteralCommand(tag, name string, argsBeforeLiteral []string, body []byte) (head []byte, bodyLen int) {
	parts := make([]string, 0, len(argsBeforeLiteral)+3)
	parts = append(parts, tag, name)
	parts = append(parts, argsBeforeLiteral...)
	parts = append(parts, LiteralHeader(len(body)))
	return []byte(strings.Join(parts[:len(parts)-1], " ") + " " + parts[len(parts)-1]), len(body)
}

// ContinuationDone renders the "DONE\r\n" line that ends an IDLE command.
func ContinuationDone() []byte { return []byte("DONE" + CRLF) }

// QuoteOrLiteralArg renders s as a quoted string, or reports that a literal
// is required (isLiteral true) when s contains bytes a quoted string can't
// carry.
func QuoteOrLiteralArg(s string) (arg string, isLiteral bool) {
	if NeedsLiteral(s) {
		return "", true
	}
	return QuoteString(s), false
}
