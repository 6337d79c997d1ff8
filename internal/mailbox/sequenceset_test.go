package mailbox

import "testing"

func TestSequenceSetBuilderCanonicalizesRuns(t *testing.T) {
	b := NewSequenceSetBuilder()
	for _, uid := range []Uid{1, 2, 3, 5, 7, 8, 9} {
		b.Add(uid)
	}
	set, ok := b.Build()
	if !ok {
		t.Fatalf("Build() ok = false, want true")
	}
	if got := set.String(); got != "1:3,5,7:9" {
		t.Fatalf("String() = %q, want \"1:3,5,7:9\"", got)
	}
}

func TestSequenceSetBuilderEmpty(t *testing.T) {
	b := NewSequenceSetBuilder()
	if _, ok := b.Build(); ok {
		t.Fatalf("Build() on an empty builder returned ok=true")
	}
}

func TestAllRendersStarForm(t *testing.T) {
	if got := All().String(); got != "1:*" {
		t.Fatalf("All().String() = %q, want \"1:*\"", got)
	}
}

func TestParseSequenceSetExpandsRangesAndSingles(t *testing.T) {
	uids, err := ParseSequenceSet("1:3,5,7:9")
	if err != nil {
		t.Fatalf("ParseSequenceSet: %v", err)
	}
	want := []Uid{1, 2, 3, 5, 7, 8, 9}
	if len(uids) != len(want) {
		t.Fatalf("got %v, want %v", uids, want)
	}
	for i, u := range want {
		if uids[i] != u {
			t.Fatalf("uids[%d] = %d, want %d", i, uids[i], u)
		}
	}
}

func TestParseSequenceSetRejectsUnresolvedStar(t *testing.T) {
	if _, err := ParseSequenceSet("1:*"); err == nil {
		t.Fatalf("expected error for unresolved '*'")
	}
}

func TestParseSequenceSetRejectsDescendingRange(t *testing.T) {
	if _, err := ParseSequenceSet("9:1"); err == nil {
		t.Fatalf("expected error for descending range")
	}
}

func TestParseSequenceSetRejectsEmpty(t *testing.T) {
	if _, err := ParseSequenceSet(""); err == nil {
		t.Fatalf("expected error for empty sequence set")
	}
}
