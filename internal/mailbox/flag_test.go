package mailbox

import "testing"

func TestMaildirLettersSortedAndRecentDropped(t *testing.T) {
	f := FlagSeen | FlagDraft | FlagRecent
	got := f.MaildirLetters()
	if got != "DS" {
		t.Fatalf("MaildirLetters() = %q, want \"DS\"", got)
	}
}

func TestFlagFromMaildirLettersRoundTrips(t *testing.T) {
	f, err := FlagFromMaildirLetters("DFRST")
	if err != nil {
		t.Fatalf("FlagFromMaildirLetters: %v", err)
	}
	want := FlagDraft | FlagFlagged | FlagAnswered | FlagSeen | FlagDeleted
	if f != want {
		t.Fatalf("got %v, want %v", f, want)
	}
}

func TestFlagFromMaildirLettersRejectsUnknown(t *testing.T) {
	if _, err := FlagFromMaildirLetters("X"); err == nil {
		t.Fatalf("expected error for unknown letter")
	}
}

func TestIMAPNamesDeclarationOrder(t *testing.T) {
	f := FlagDeleted | FlagSeen
	got := f.IMAPNames()
	if len(got) != 2 || got[0] != `\Seen` || got[1] != `\Deleted` {
		t.Fatalf("IMAPNames() = %v, want [\\Seen \\Deleted]", got)
	}
}

func TestFlagFromIMAPNameUnknownReturnsFalse(t *testing.T) {
	if _, ok := FlagFromIMAPName(`\Bogus`); ok {
		t.Fatalf("expected ok=false for unknown flag name")
	}
}

func TestWithoutRecentDropsOnlyRecent(t *testing.T) {
	f := FlagSeen | FlagRecent
	if got := f.WithoutRecent(); got != FlagSeen {
		t.Fatalf("WithoutRecent() = %v, want FlagSeen", got)
	}
}
