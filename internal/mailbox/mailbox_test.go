package mailbox

import "testing"

func TestFilenameRoundTripsWithUID(t *testing.T) {
	meta := LocalMailMetadata{Uid: 42, HasUid: true, Flags: FlagSeen | FlagFlagged, FilePrefix: "123.P1N1.host"}
	name := meta.Filename()

	got, err := ParseFilename(name)
	if err != nil {
		t.Fatalf("ParseFilename(%q): %v", name, err)
	}
	if got != meta {
		t.Fatalf("round trip = %+v, want %+v", got, meta)
	}
}

func TestFilenameRoundTripsWithoutUID(t *testing.T) {
	meta := LocalMailMetadata{Flags: FlagDraft, FilePrefix: "123.P1N1.host"}
	name := meta.Filename()

	got, err := ParseFilename(name)
	if err != nil {
		t.Fatalf("ParseFilename(%q): %v", name, err)
	}
	if got != meta {
		t.Fatalf("round trip = %+v, want %+v", got, meta)
	}
}

func TestFilenameIncludesSize(t *testing.T) {
	meta := LocalMailMetadata{Uid: 7, HasUid: true, Flags: FlagSeen, FilePrefix: "123.P1N1.host", Size: 4096}
	name := meta.Filename()
	if name != "123.P1N1.host,S=4096,U=7:2,S" {
		t.Fatalf("Filename() = %q, want size field present", name)
	}

	got, err := ParseFilename(name)
	if err != nil {
		t.Fatalf("ParseFilename(%q): %v", name, err)
	}
	if got != meta {
		t.Fatalf("round trip = %+v, want %+v", got, meta)
	}
}

func TestParseFilenameRejectsMissingSeparator(t *testing.T) {
	if _, err := ParseFilename("not-a-maildir-name"); err == nil {
		t.Fatalf("expected error for filename missing \":2,\"")
	}
}

func TestParseFilenameRejectsUnknownFlagLetter(t *testing.T) {
	if _, err := ParseFilename("123.P1N1.host:2,Z"); err == nil {
		t.Fatalf("expected error for unknown flag letter")
	}
}

func TestLocalFlagChangesBuilderCancelsOppositeOps(t *testing.T) {
	b := NewLocalFlagChangesBuilder()
	b.AddFlag(1, FlagSeen)
	b.RemoveFlag(1, FlagSeen) // cancels the earlier addition for uid 1

	changes := b.Build()
	if _, ok := changes.Added[FlagSeen]; ok {
		t.Fatalf("FlagSeen still recorded as added after a later removal")
	}
	set, ok := changes.Removed[FlagSeen]
	if !ok || set.String() != "1" {
		t.Fatalf("Removed[FlagSeen] = %v, %v, want {\"1\", true}", set, ok)
	}
}

func TestLocalFlagChangesBuilderSeparatesUIDsByFlag(t *testing.T) {
	b := NewLocalFlagChangesBuilder()
	b.AddFlag(1, FlagSeen)
	b.AddFlag(2, FlagSeen)
	b.RemoveFlag(3, FlagFlagged)

	changes := b.Build()
	if changes.Added[FlagSeen].String() != "1:2" {
		t.Fatalf("Added[FlagSeen] = %q, want \"1:2\"", changes.Added[FlagSeen].String())
	}
	if changes.Removed[FlagFlagged].String() != "3" {
		t.Fatalf("Removed[FlagFlagged] = %q, want \"3\"", changes.Removed[FlagFlagged].String())
	}
}

func TestNewUidRejectsZero(t *testing.T) {
	if _, err := NewUid(0); err == nil {
		t.Fatalf("expected error for zero UID")
	}
	if v, err := NewUid(5); err != nil || v != 5 {
		t.Fatalf("NewUid(5) = %v, %v", v, err)
	}
}
