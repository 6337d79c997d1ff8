package imapproto

import (
	"testing"

	"github.com/eslider/mailmirror/internal/wire"
)

func mustDecode(t *testing.T, line string) *wire.Response {
	t.Helper()
	d := wire.NewDecoder()
	resp, _, err := d.Decode([]byte(line))
	if err != nil {
		t.Fatalf("decode %q: %v", line, err)
	}
	return resp
}

func TestParseFetchAttrsUidFlagsRFC822(t *testing.T) {
	resp := mustDecode(t, "* 6090 FETCH (UID 6090 FLAGS (\\Seen) RFC822 {5}\r\nhello)\r\n")
	_, attrs, err := SeqNumFromUntaggedFetch(resp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mail, err := ParseFetchAttrs(attrs, []string{"UID", "FLAGS", "RFC822"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mail.Uid != 6090 || string(mail.Body) != "hello" {
		t.Fatalf("unexpected mail: %+v", mail)
	}
	if !mail.Flags.Has(1) { // FlagSeen == 1<<0
		t.Fatalf("expected Seen flag, got %v", mail.Flags)
	}
}

func TestParseFetchAttrsOrderMismatchIsViolation(t *testing.T) {
	resp := mustDecode(t, "* 6090 FETCH (FLAGS (\\Seen) UID 6090)\r\n")
	_, attrs, err := SeqNumFromUntaggedFetch(resp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, err = ParseFetchAttrs(attrs, []string{"UID", "FLAGS"})
	if _, ok := err.(*ProtocolViolation); !ok {
		t.Fatalf("expected ProtocolViolation, got %v", err)
	}
}

func TestParseFetchAttrsToleratesModSeqAnywhere(t *testing.T) {
	resp := mustDecode(t, "* 3 FETCH (UID 3 MODSEQ (12) FLAGS (\\Seen))\r\n")
	_, attrs, err := SeqNumFromUntaggedFetch(resp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mail, err := ParseFetchAttrs(attrs, []string{"UID", "FLAGS"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mail.ModSeq != 12 || mail.Uid != 3 {
		t.Fatalf("unexpected mail: %+v", mail)
	}
}

func TestParseVanishedEarlier(t *testing.T) {
	resp := mustDecode(t, "* VANISHED (EARLIER) 2\r\n")
	uids, earlier, err := ParseVanished(resp)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !earlier || len(uids) != 1 || uids[0] != 2 {
		t.Fatalf("unexpected result: uids=%v earlier=%v", uids, earlier)
	}
}
