package imapproto

import (
	"testing"
)

func TestSelectAccumulatorFreshSync(t *testing.T) {
	lines := []string{
		"* FLAGS (\\Seen \\Deleted)\r\n",
		"* 3 EXISTS\r\n",
		"* 0 RECENT\r\n",
		"* OK [UIDVALIDITY 42] UIDs valid\r\n",
		"* OK [UIDNEXT 4] Predicted next UID\r\n",
		"* OK [HIGHESTMODSEQ 10] Highest\r\n",
	}
	acc := NewSelectAccumulator("INBOX")
	for _, line := range lines {
		if err := acc.Feed(mustDecode(t, line)); err != nil {
			t.Fatalf("feed %q: %v", line, err)
		}
	}
	mb, changes := acc.Result()
	if mb.Exists != 3 || mb.UidValidity != 42 || mb.UidNext != 4 || mb.HighestModSeq != 10 {
		t.Fatalf("unexpected mailbox: %+v", mb)
	}
	if changes.HasDeletions {
		t.Fatalf("expected no deletions, got %+v", changes)
	}
}

func TestSelectAccumulatorQresyncResume(t *testing.T) {
	lines := []string{
		"* VANISHED (EARLIER) 2\r\n",
		"* 3 FETCH (UID 3 FLAGS (\\Seen) MODSEQ (12))\r\n",
	}
	acc := NewSelectAccumulator("INBOX")
	for _, line := range lines {
		if err := acc.Feed(mustDecode(t, line)); err != nil {
			t.Fatalf("feed %q: %v", line, err)
		}
	}
	_, changes := acc.Result()
	if !changes.HasDeletions || changes.Deletions.String() != "2" {
		t.Fatalf("unexpected deletions: %+v", changes.Deletions)
	}
	if len(changes.Updates) != 1 || changes.Updates[0].Uid != 3 || changes.Updates[0].ModSeq != 12 {
		t.Fatalf("unexpected updates: %+v", changes.Updates)
	}
}

func TestCapabilitiesFromFields(t *testing.T) {
	resp := mustDecode(t, "* CAPABILITY IMAP4rev1 CONDSTORE ENABLE IDLE QRESYNC\r\n")
	caps := CapabilitiesFromFields(resp.Fields[1:])
	if !caps.SupportsQresyncMirroring() {
		t.Fatalf("expected all required capabilities present: %+v", resp.Fields)
	}
	if missing := caps.MissingForQresyncMirroring(); len(missing) != 0 {
		t.Fatalf("expected no missing capabilities, got %v", missing)
	}
}
