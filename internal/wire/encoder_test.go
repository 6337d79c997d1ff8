package wire

import "testing"

func TestQuoteStringEscapes(t *testing.T) {
	got := QuoteString(`pa"ss\word`)
	want := `"pa\"ss\\word"`
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestNeedsLiteralDetectsControlBytes(t *testing.T) {
	if NeedsLiteral("plain") {
		t.Fatal("plain string should not need a literal")
	}
	if !NeedsLiteral("line1\r\nline2") {
		t.Fatal("string with CRLF should need a literal")
	}
}

func TestCommandRendersTaggedLine(t *testing.T) {
	got := Command("A0001", "LOGIN", QuoteString("user"), QuoteString("pass"))
	want := "A0001 LOGIN \"user\" \"pass\"\r\n"
	if string(got) != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
