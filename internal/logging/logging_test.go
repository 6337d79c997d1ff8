package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestInfoUsesHumanPrefixWhenNotJournald(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "INBOX", false)
	log.Info("synced %d mails", 3)

	got := buf.String()
	if !strings.Contains(got, "INFO INBOX: synced 3 mails") {
		t.Fatalf("unexpected output: %q", got)
	}
}

func TestWarnUsesJournaldPrefixWhenConnected(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "INBOX", true)
	log.Warn("uidvalidity changed")

	got := buf.String()
	if !strings.HasPrefix(got, "<4>INBOX: uidvalidity changed") {
		t.Fatalf("unexpected output: %q", got)
	}
}

func TestErrorJournaldDigit(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "", true)
	log.Error("boom")

	got := buf.String()
	if !strings.HasPrefix(got, "<3>boom") {
		t.Fatalf("unexpected output: %q", got)
	}
}

func TestUnnamedLoggerOmitsColon(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "", false)
	log.Info("hello")

	got := buf.String()
	if !strings.Contains(got, "INFO hello") || strings.Contains(got, ":") {
		t.Fatalf("unexpected output: %q", got)
	}
}

func TestConnectedToJournalFalseWithoutEnv(t *testing.T) {
	t.Setenv("JOURNAL_STREAM", "")
	if ConnectedToJournal() {
		t.Fatalf("expected false with no JOURNAL_STREAM set")
	}
}

func TestConnectedToJournalFalseOnMismatch(t *testing.T) {
	t.Setenv("JOURNAL_STREAM", "99999:99999999")
	if ConnectedToJournal() {
		t.Fatalf("expected false when JOURNAL_STREAM doesn't match stderr's dev:ino")
	}
}
