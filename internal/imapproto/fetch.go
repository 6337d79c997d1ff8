package imapproto

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/eslider/mailmirror/internal/mailbox"
	"github.com/eslider/mailmirror/internal/wire"
)

// ParseFetchAttrs interprets one FETCH response's parenthesized attribute
// list. expectedOrder names the attribute keywords the request asked for,
// in request order (e.g. []string{"UID", "FLAGS"} or
// []string{"UID", "FLAGS", "RFC822"}); the server's response must present
// them in exactly that order, with MODSEQ tolerated anywhere since CONDSTORE
// servers append it automatically rather than because it was requested.
// Any other ordering is a ProtocolViolation.
func ParseFetchAttrs(list []wire.Field, expectedOrder []string) (mailbox.RemoteMail, error) {
	var mail mailbox.RemoteMail
	expectIdx := 0

	i := 0
	for i < len(list) {
		nameField := list[i]
		if nameField.Kind != wire.FieldAtom {
			return mail, violation("FETCH attribute name at position %d is not an atom", i)
		}
		name := strings.ToUpper(nameField.Atom)

		if name == "MODSEQ" {
			if i+1 >= len(list) || list[i+1].Kind != wire.FieldList {
				return mail, violation("FETCH MODSEQ missing its value list")
			}
			modseq, err := parseModSeqList(list[i+1].List)
			if err != nil {
				return mail, err
			}
			mail.ModSeq = modseq
			i += 2
			continue
		}

		if expectIdx >= len(expectedOrder) {
			return mail, violation("FETCH returned unexpected attribute %q beyond requested order %v", name, expectedOrder)
		}
		if name != strings.ToUpper(expectedOrder[expectIdx]) {
			return mail, violation("FETCH attribute order mismatch: got %q, expected %q (requested order %v)", name, expectedOrder[expectIdx], expectedOrder)
		}
		expectIdx++

		switch name {
		case "UID":
			if i+1 >= len(list) || list[i+1].Kind != wire.FieldAtom {
				return mail, violation("FETCH UID missing its value")
			}
			n, err := strconv.ParseUint(list[i+1].Atom, 10, 32)
			if err != nil {
				return mail, violation("FETCH UID value %q invalid: %v", list[i+1].Atom, err)
			}
			mail.Uid = mailbox.Uid(n)
			i += 2
		case "FLAGS":
			if i+1 >= len(list) || list[i+1].Kind != wire.FieldList {
				return mail, violation("FETCH FLAGS missing its value list")
			}
			var flags mailbox.Flag
			for _, f := range list[i+1].List {
				if f.Kind != wire.FieldAtom {
					continue
				}
				if bit, ok := mailbox.FlagFromIMAPName(f.Atom); ok {
					flags |= bit
				}
			}
			mail.Flags = flags.WithoutRecent()
			i += 2
		case "RFC822":
			if i+1 >= len(list) || list[i+1].Kind != wire.FieldString {
				return mail, violation("FETCH RFC822 missing its literal/string value")
			}
			mail.Body = list[i+1].Bytes
			i += 2
		default:
			return mail, violation("FETCH requested unsupported attribute %q", name)
		}
	}

	if expectIdx != len(expectedOrder) {
		return mail, violation("FETCH response missing attributes: got %d of expected %v", expectIdx, expectedOrder)
	}
	return mail, nil
}

func parseModSeqList(list []wire.Field) (mailbox.ModSeq, error) {
	if len(list) != 1 || list[0].Kind != wire.FieldAtom {
		return 0, violation("MODSEQ value list malformed")
	}
	n, err := strconv.ParseUint(list[0].Atom, 10, 64)
	if err != nil {
		return 0, violation("MODSEQ value %q invalid: %v", list[0].Atom, err)
	}
	return mailbox.ModSeq(n), nil
}

// SeqNumFromUntaggedFetch extracts the message sequence number that
// prefixes a "* <n> FETCH (...)" response's Fields, and the attribute list
// itself.
func SeqNumFromUntaggedFetch(resp *wire.Response) (seq uint32, attrs []wire.Field, err error) {
	if len(resp.Fields) != 3 || resp.Fields[1].Atom != "FETCH" || resp.Fields[2].Kind != wire.FieldList {
		return 0, nil, violation("malformed untagged FETCH response")
	}
	n, parseErr := strconv.ParseUint(resp.Fields[0].Atom, 10, 32)
	if parseErr != nil {
		return 0, nil, violation("FETCH sequence number %q invalid: %v", resp.Fields[0].Atom, parseErr)
	}
	return uint32(n), resp.Fields[2].List, nil
}

// ParseVanished extracts the UID set from a "* VANISHED [(EARLIER)] <uids>"
// response.
func ParseVanished(resp *wire.Response) (uids []mailbox.Uid, earlier bool, err error) {
	if len(resp.Fields) < 2 || resp.Fields[0].Atom != "VANISHED" {
		return nil, false, violation("malformed VANISHED response")
	}
	idx := 1
	if resp.Fields[1].Kind == wire.FieldList {
		for _, f := range resp.Fields[1].List {
			if strings.EqualFold(f.Atom, "EARLIER") {
				earlier = true
			}
		}
		idx = 2
	}
	if idx >= len(resp.Fields) || resp.Fields[idx].Kind != wire.FieldAtom {
		return nil, false, violation("VANISHED missing uid set")
	}
	uids, parseErr := mailbox.ParseSequenceSet(resp.Fields[idx].Atom)
	if parseErr != nil {
		return nil, false, fmt.Errorf("imapproto: %w", parseErr)
	}
	return uids, earlier, nil
}
