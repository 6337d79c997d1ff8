package mailbox

import (
	"sort"
	"strings"
)

// Flag is a bit in the closed flag enumeration. The bit layout is
// order-sensitive and must stay stable across versions: it is persisted
// verbatim in the sqlite cursor store (internal/store).
type Flag uint8

const (
	FlagSeen Flag = 1 << iota
	FlagAnswered
	FlagFlagged
	FlagDeleted
	FlagDraft
	// FlagRecent is server-managed: RFC3501 \Recent is never stored or
	// transmitted by the client, but the bit exists so wire parsing can
	// represent it before it's dropped.
	FlagRecent
)

// allFlags enumerates every bit in declaration order.
var allFlags = []Flag{FlagSeen, FlagAnswered, FlagFlagged, FlagDeleted, FlagDraft, FlagRecent}

// maildirLetter is the ASCII flag letter maildir filenames encode, per
// https://cr.yp.to/proto/maildir.html. FlagRecent has no maildir letter.
var maildirLetter = map[Flag]byte{
	FlagDraft:    'D',
	FlagFlagged:  'F',
	FlagAnswered: 'R',
	FlagSeen:     'S',
	FlagDeleted:  'T',
}

var letterFlag = map[byte]Flag{
	'D': FlagDraft,
	'F': FlagFlagged,
	'R': FlagAnswered,
	'S': FlagSeen,
	'T': FlagDeleted,
}

// imapName is the wire representation of each flag, per RFC 3501 system flags.
var imapName = map[Flag]string{
	FlagSeen:     `\Seen`,
	FlagAnswered: `\Answered`,
	FlagFlagged:  `\Flagged`,
	FlagDeleted:  `\Deleted`,
	FlagDraft:    `\Draft`,
	FlagRecent:   `\Recent`,
}

var nameFlag = func() map[string]Flag {
	m := make(map[string]Flag, len(imapName))
	for f, n := range imapName {
		m[strings.ToLower(n)] = f
	}
	return m
}()

// FlagFromIMAPName maps a wire flag token (e.g. `\Seen`) to its bit. Unknown
// tokens return (0, false) and are silently ignored by callers, indifferent
// to flags outside the closed enumeration.
func FlagFromIMAPName(name string) (Flag, bool) {
	f, ok := nameFlag[strings.ToLower(name)]
	return f, ok
}

// Has reports whether f contains all bits of other.
func (f Flag) Has(other Flag) bool { return f&other == other }

// WithoutRecent drops the server-managed \Recent bit, which is never
// persisted or sent back to the server.
func (f Flag) WithoutRecent() Flag { return f &^ FlagRecent }

// MaildirLetters renders the ASCII-sorted subset of flag letters maildir
// filenames encode, e.g. "DFRST" for every persistable flag set.
func (f Flag) MaildirLetters() string {
	var letters []byte
	for flag, letter := range maildirLetter {
		if f.Has(flag) {
			letters = append(letters, letter)
		}
	}
	sort.Slice(letters, func(i, j int) bool { return letters[i] < letters[j] })
	return string(letters)
}

// FlagFromMaildirLetters parses the flag-letter suffix of a maildir filename
// (the characters following ":2,"). Unknown letters are rejected so that
// malformed filenames are reported rather than silently accepted.
func FlagFromMaildirLetters(letters string) (Flag, error) {
	var f Flag
	for i := 0; i < len(letters); i++ {
		flag, ok := letterFlag[letters[i]]
		if !ok {
			return 0, &UnknownFlagLetterError{Letter: letters[i]}
		}
		f |= flag
	}
	return f, nil
}

// UnknownFlagLetterError is returned when a maildir filename's flag suffix
// contains a letter outside {D,F,R,S,T}.
type UnknownFlagLetterError struct {
	Letter byte
}

func (e *UnknownFlagLetterError) Error() string {
	return "mailbox: unknown maildir flag letter " + string(e.Letter)
}

// IMAPNames renders the set as wire flag tokens, in declaration order.
func (f Flag) IMAPNames() []string {
	var names []string
	for _, flag := range allFlags {
		if f.Has(flag) {
			names = append(names, imapName[flag])
		}
	}
	return names
}
