package mailbox

import (
	"fmt"
	"strconv"
	"strings"
)

// Mailbox is the SELECT-time snapshot of a mailbox's attributes.
type Mailbox struct {
	Name             string
	ReadOnly         bool
	Flags            []string // mailbox-level flags advertised in the FLAGS response
	PermanentFlags   []string
	Exists           uint32
	Recent           uint32
	Unseen           uint32 // 0 means absent
	HasUnseen        bool
	UidValidity      UidValidity
	UidNext          Uid
	HighestModSeq    ModSeq
	HasHighestModSeq bool
}

// RemoteMailMetadata is a message's UID, flags, and modseq as reported by
// the server, without body content.
type RemoteMailMetadata struct {
	Uid    Uid
	Flags  Flag
	ModSeq ModSeq
}

// RemoteMail is RemoteMailMetadata plus the opaque RFC822 byte body. Body
// is the decoder's own copy of the literal, not a slice of its framing
// buffer, so callers may retain it (see internal/wire.Decoder.Decode).
type RemoteMail struct {
	RemoteMailMetadata
	Body []byte
}

// LocalMailMetadata mirrors a single maildir entry: an optional UID (absent
// for locally authored mail not yet assigned one by the server), its flag
// set, and the immutable fileprefix chosen at creation time.
type LocalMailMetadata struct {
	Uid        Uid // zero means "no UID yet"
	HasUid     bool
	Flags      Flag
	FilePrefix string
	Size       int64 // body length in bytes, encoded as the ",S=" filename field
}

// HasUID reports whether the metadata carries a server-assigned UID.
func (m LocalMailMetadata) HasUID() bool { return m.HasUid }

// Filename renders the maildir `cur/` basename for this metadata:
// "<prefix>,S=<size>,U=<uid>:2,<flags>" when a UID is known, else
// "<prefix>,S=<size>:2,<flags>" for mail awaiting an APPEND-assigned UID.
func (m LocalMailMetadata) Filename() string {
	letters := m.Flags.WithoutRecent().MaildirLetters()
	if m.HasUid {
		return fmt.Sprintf("%s,S=%d,U=%d:2,%s", m.FilePrefix, m.Size, m.Uid, letters)
	}
	return fmt.Sprintf("%s,S=%d:2,%s", m.FilePrefix, m.Size, letters)
}

// ParseFilename parses a maildir `cur/` basename back into metadata.
// Filenames that don't contain the mandatory ":2," info separator, or that
// carry an unparseable UID, size, or unknown flag letter, are reported as
// errors rather than silently skipped.
func ParseFilename(name string) (LocalMailMetadata, error) {
	head, flagLetters, ok := strings.Cut(name, ":2,")
	if !ok {
		// strings.Cut splits on first match; filenames never legitimately
		// contain ":2," before the info separator, so reuse the tail.
		idx := strings.LastIndex(name, ":2,")
		if idx < 0 {
			return LocalMailMetadata{}, fmt.Errorf("mailbox: filename %q missing \":2,\" separator", name)
		}
		head, flagLetters = name[:idx], name[idx+3:]
	}

	flags, err := FlagFromMaildirLetters(flagLetters)
	if err != nil {
		return LocalMailMetadata{}, fmt.Errorf("mailbox: filename %q: %w", name, err)
	}

	var uid Uid
	var hasUid bool
	if prefix, uidStr, ok := cutLastSep(head, ",U="); ok {
		uid64, err := strconv.ParseUint(uidStr, 10, 32)
		if err != nil {
			return LocalMailMetadata{}, fmt.Errorf("mailbox: filename %q: invalid uid %q: %w", name, uidStr, err)
		}
		uid, hasUid, head = Uid(uid64), true, prefix
	}

	var size int64
	if prefix, sizeStr, ok := cutLastSep(head, ",S="); ok {
		size, err = strconv.ParseInt(sizeStr, 10, 64)
		if err != nil {
			return LocalMailMetadata{}, fmt.Errorf("mailbox: filename %q: invalid size %q: %w", name, sizeStr, err)
		}
		head = prefix
	}

	return LocalMailMetadata{Uid: uid, HasUid: hasUid, Flags: flags, FilePrefix: head, Size: size}, nil
}

// cutLastSep splits s on the last occurrence of sep, unlike strings.Cut
// which splits on the first.
func cutLastSep(s, sep string) (before, after string, found bool) {
	idx := strings.LastIndex(s, sep)
	if idx < 0 {
		return "", "", false
	}
	return s[:idx], s[idx+len(sep):], true
}

// LocalFlagChanges holds the flag deltas the reconciler wants to push to the
// server, split into additions (+FLAGS) and removals (-FLAGS), keyed by the
// single flag bit so each STORE command only ever targets one flag.
type LocalFlagChanges struct {
	Added   map[Flag]SequenceSet
	Removed map[Flag]SequenceSet
}

// LocalFlagChangesBuilder accumulates per-UID flag additions/removals before
// producing a LocalFlagChanges. It enforces the invariant that no UID ends
// up in both the added and removed set for the same flag: a later removal
// of a flag cancels an earlier addition of that same flag for that UID, and
// vice versa.
type LocalFlagChangesBuilder struct {
	added   map[Flag]*SequenceSetBuilder
	removed map[Flag]*SequenceSetBuilder
}

// NewLocalFlagChangesBuilder creates an empty builder.
func NewLocalFlagChangesBuilder() *LocalFlagChangesBuilder {
	return &LocalFlagChangesBuilder{
		added:   make(map[Flag]*SequenceSetBuilder),
		removed: make(map[Flag]*SequenceSetBuilder),
	}
}

// AddFlag records that uid gained flag.
func (b *LocalFlagChangesBuilder) AddFlag(uid Uid, flag Flag) {
	if rb, ok := b.removed[flag]; ok {
		delete(rb.nums, uint32(uid))
	}
	b.ensureAdded(flag).Add(uid)
}

// RemoveFlag records that uid lost flag.
func (b *LocalFlagChangesBuilder) RemoveFlag(uid Uid, flag Flag) {
	if ab, ok := b.added[flag]; ok {
		delete(ab.nums, uint32(uid))
	}
	b.ensureRemoved(flag).Add(uid)
}

func (b *LocalFlagChangesBuilder) ensureAdded(flag Flag) *SequenceSetBuilder {
	sb, ok := b.added[flag]
	if !ok {
		sb = NewSequenceSetBuilder()
		b.added[flag] = sb
	}
	return sb
}

func (b *LocalFlagChangesBuilder) ensureRemoved(flag Flag) *SequenceSetBuilder {
	sb, ok := b.removed[flag]
	if !ok {
		sb = NewSequenceSetBuilder()
		b.removed[flag] = sb
	}
	return sb
}

// Build canonicalizes the accumulated per-flag deltas.
func (b *LocalFlagChangesBuilder) Build() LocalFlagChanges {
	out := LocalFlagChanges{Added: make(map[Flag]SequenceSet), Removed: make(map[Flag]SequenceSet)}
	for flag, sb := range b.added {
		if set, ok := sb.Build(); ok {
			out.Added[flag] = set
		}
	}
	for flag, sb := range b.removed {
		if set, ok := sb.Build(); ok {
			out.Removed[flag] = set
		}
	}
	return out
}

// LocalMail pairs LocalMailMetadata with its opaque RFC822 body for a
// locally authored message awaiting APPEND.
type LocalMail struct {
	Metadata LocalMailMetadata
	Content  []byte
}

// LocalChanges is the reconciler's view of what changed on disk since the
// last cursor: deletions, brand-new local mail, and flag deltas to push.
type LocalChanges struct {
	HighestModSeq ModSeq
	Deletions     []Uid
	NewMails      []LocalMail
	Updates       LocalFlagChanges
}

// RemoteChanges is the reconciler's view of what the server reported via
// QRESYNC SELECT or a full UID FETCH: updated metadata and expunged UIDs.
type RemoteChanges struct {
	Updates      []RemoteMailMetadata
	Deletions    SequenceSet
	HasDeletions bool
}

// ChangeKind discriminates the Change sum type.
type ChangeKind int

const (
	ChangeNew ChangeKind = iota
	ChangeDeleted
	ChangeUpdated
)

// Change is the sum type `{New(Mail) | Deleted(Uid) | Updated(Metadata)}`.
type Change struct {
	Kind     ChangeKind
	Mail     RemoteMail
	Uid      Uid
	Metadata RemoteMailMetadata
}

func NewChange(mail RemoteMail) Change {
	return Change{Kind: ChangeNew, Mail: mail}
}

func DeletedChange(uid Uid) Change {
	return Change{Kind: ChangeDeleted, Uid: uid}
}

func UpdatedChange(meta RemoteMailMetadata) Change {
	return Change{Kind: ChangeUpdated, Metadata: meta}
}
