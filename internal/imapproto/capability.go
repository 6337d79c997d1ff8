package imapproto

import (
	"strings"

	"github.com/eslider/mailmirror/internal/wire"
)

// Capability names this client cares about. The server may advertise many
// more; anything outside this list is parsed into the Capabilities set but
// otherwise ignored.
const (
	CapIMAP4rev1 = "IMAP4REV1"
	CapCondstore = "CONDSTORE"
	CapEnable    = "ENABLE"
	CapIdle      = "IDLE"
	CapQresync   = "QRESYNC"
	CapAuthPlain = "AUTH=PLAIN"
)

// Capabilities is the set of capability tokens a server advertised, via
// either the greeting's "[CAPABILITY ...]" code or an explicit CAPABILITY
// command. Tokens are matched case-insensitively per RFC 3501.
type Capabilities struct {
	tokens map[string]struct{}
}

// NewCapabilities builds a Capabilities set from raw wire tokens.
func NewCapabilities(tokens []string) Capabilities {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[strings.ToUpper(t)] = struct{}{}
	}
	return Capabilities{tokens: set}
}

// Has reports whether name was advertised.
func (c Capabilities) Has(name string) bool {
	_, ok := c.tokens[strings.ToUpper(name)]
	return ok
}

// SupportsQresyncMirroring reports whether the server advertises every
// capability this mirror's QRESYNC/CONDSTORE sync path depends on.
func (c Capabilities) SupportsQresyncMirroring() bool {
	return c.Has(CapQresync) && c.Has(CapCondstore) && c.Has(CapEnable) && c.Has(CapIdle)
}

// MissingForQresyncMirroring returns the subset of required capabilities
// the server did not advertise, for a readable startup error.
func (c Capabilities) MissingForQresyncMirroring() []string {
	var missing []string
	for _, req := range []string{CapQresync, CapCondstore, CapEnable, CapIdle} {
		if !c.Has(req) {
			missing = append(missing, req)
		}
	}
	return missing
}

// Merge returns the union of c and other. Capability handling is
// centralized here and kept idempotent: the same token seen again via the
// greeting, a LOGIN response code, and an explicit CAPABILITY command all
// fold into one set without ceremony.
func (c Capabilities) Merge(other Capabilities) Capabilities {
	merged := make(map[string]struct{}, len(c.tokens)+len(other.tokens))
	for t := range c.tokens {
		merged[t] = struct{}{}
	}
	for t := range other.tokens {
		merged[t] = struct{}{}
	}
	return Capabilities{tokens: merged}
}

// CapabilitiesFromFields builds a Capabilities set from a raw field list,
// such as an untagged "* CAPABILITY ..." response's Fields[1:] or an
// "OK [CAPABILITY ...]" response code's fields after the leading
// "CAPABILITY" atom.
func CapabilitiesFromFields(fields []wire.Field) Capabilities {
	return NewCapabilities(wire.Atoms(fields))
}
