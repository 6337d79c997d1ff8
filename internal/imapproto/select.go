package imapproto

import (
	"strconv"
	"strings"

	"github.com/eslider/mailmirror/internal/mailbox"
	"github.com/eslider/mailmirror/internal/wire"
)

// SelectAccumulator folds the untagged responses a SELECT/QRESYNC-SELECT
// produces into a Mailbox snapshot plus the RemoteChanges QRESYNC piggybacks
// on the same exchange. Feed every response in order, including the tagged
// completion, then call Result.
type SelectAccumulator struct {
	mb          mailbox.Mailbox
	updates     []mailbox.RemoteMailMetadata
	vanished    *mailbox.SequenceSetBuilder
	hasVanished bool
}

// NewSelectAccumulator starts accumulation for the named mailbox.
func NewSelectAccumulator(name string) *SelectAccumulator {
	return &SelectAccumulator{mb: mailbox.Mailbox{Name: name}}
}

// Feed folds one response into the accumulator: untagged data lines, but
// also the final tagged completion, since that line's response code
// ("[READ-WRITE]", "[READ-ONLY]") is itself part of the mailbox snapshot.
// It ignores response shapes this client doesn't need (e.g. LIST data)
// rather than failing, since a server may legitimately interleave other
// untagged data.
func (a *SelectAccumulator) Feed(resp *wire.Response) error {
	if resp.Kind == wire.KindContinuation {
		return violation("SelectAccumulator.Feed called with a continuation response")
	}
	if resp.HasStatus {
		return a.feedStatus(resp)
	}
	return a.feedData(resp)
}

func (a *SelectAccumulator) feedStatus(resp *wire.Response) error {
	if resp.Status != wire.StatusOK || !resp.HasCode || len(resp.Code) == 0 {
		return nil
	}
	codeName := strings.ToUpper(resp.Code[0].Atom)
	switch codeName {
	case "UIDVALIDITY":
		v, err := atomUint32(resp.Code, 1)
		if err != nil {
			return err
		}
		uv, err := mailbox.NewUidValidity(v)
		if err != nil {
			return violation("SELECT returned %v", err)
		}
		a.mb.UidValidity = uv
	case "UIDNEXT":
		v, err := atomUint32(resp.Code, 1)
		if err != nil {
			return err
		}
		a.mb.UidNext = mailbox.Uid(v)
	case "HIGHESTMODSEQ":
		if len(resp.Code) < 2 {
			return violation("HIGHESTMODSEQ code missing value")
		}
		n, err := strconv.ParseUint(resp.Code[1].Atom, 10, 64)
		if err != nil {
			return violation("HIGHESTMODSEQ value %q invalid: %v", resp.Code[1].Atom, err)
		}
		a.mb.HighestModSeq = mailbox.ModSeq(n)
		a.mb.HasHighestModSeq = true
	case "UNSEEN":
		v, err := atomUint32(resp.Code, 1)
		if err != nil {
			return err
		}
		a.mb.Unseen = v
		a.mb.HasUnseen = true
	case "PERMANENTFLAGS":
		if len(resp.Code) < 2 || resp.Code[1].Kind != wire.FieldList {
			return violation("PERMANENTFLAGS code missing its list")
		}
		a.mb.PermanentFlags = wire.Atoms(resp.Code[1].List)
	case "READ-WRITE":
		a.mb.ReadOnly = false
	case "READ-ONLY":
		a.mb.ReadOnly = true
	}
	return nil
}

func (a *SelectAccumulator) feedData(resp *wire.Response) error {
	name := resp.DataName()
	switch strings.ToUpper(name) {
	case "FLAGS":
		if len(resp.Fields) < 2 || resp.Fields[1].Kind != wire.FieldList {
			return violation("FLAGS response missing its list")
		}
		a.mb.Flags = wire.Atoms(resp.Fields[1].List)
	case "VANISHED":
		uids, _, err := ParseVanished(resp)
		if err != nil {
			return err
		}
		if a.vanished == nil {
			a.vanished = mailbox.NewSequenceSetBuilder()
		}
		for _, u := range uids {
			a.vanished.Add(u)
		}
		a.hasVanished = true
	case "FETCH":
		_, attrs, err := SeqNumFromUntaggedFetch(resp)
		if err != nil {
			return err
		}
		mail, err := ParseFetchAttrs(attrs, fetchOrderFor(attrs))
		if err != nil {
			return err
		}
		a.updates = append(a.updates, mail.RemoteMailMetadata)
	default:
		// EXISTS/RECENT and anything else this mailbox snapshot doesn't track.
		if len(resp.Fields) == 2 && strings.EqualFold(resp.Fields[1].Atom, "EXISTS") {
			n, err := strconv.ParseUint(resp.Fields[0].Atom, 10, 32)
			if err == nil {
				a.mb.Exists = uint32(n)
			}
		} else if len(resp.Fields) == 2 && strings.EqualFold(resp.Fields[1].Atom, "RECENT") {
			n, err := strconv.ParseUint(resp.Fields[0].Atom, 10, 32)
			if err == nil {
				a.mb.Recent = uint32(n)
			}
		}
	}
	return nil
}

// fetchOrderFor derives the attribute order to expect from a QRESYNC-driven
// untagged FETCH, whose shape the server chooses rather than a request this
// client issued: UID and FLAGS are expected in whatever order the response
// itself lists them, so no ordering between them is enforced here, and
// MODSEQ is tolerated anywhere by ParseFetchAttrs.
func fetchOrderFor(attrs []wire.Field) []string {
	order := make([]string, 0, 2)
	for _, f := range attrs {
		if f.Kind != wire.FieldAtom {
			continue
		}
		name := strings.ToUpper(f.Atom)
		if name == "UID" || name == "FLAGS" {
			order = append(order, name)
		}
	}
	return order
}

func atomUint32(fields []wire.Field, idx int) (uint32, error) {
	if idx >= len(fields) || fields[idx].Kind != wire.FieldAtom {
		return 0, violation("expected numeric atom at code position %d", idx)
	}
	n, err := strconv.ParseUint(fields[idx].Atom, 10, 32)
	if err != nil {
		return 0, violation("invalid numeric value %q: %v", fields[idx].Atom, err)
	}
	return uint32(n), nil
}

// Result returns the accumulated Mailbox snapshot and RemoteChanges.
func (a *SelectAccumulator) Result() (mailbox.Mailbox, mailbox.RemoteChanges) {
	changes := mailbox.RemoteChanges{Updates: a.updates}
	if a.vanished != nil {
		if set, ok := a.vanished.Build(); ok {
			changes.Deletions = set
			changes.HasDeletions = true
		}
	}
	return a.mb, changes
}
