// Package mailbox defines the data model shared between the IMAP client,
// the persistent cursor store, and the local maildir adapter: UIDs,
// UIDVALIDITY epochs, MODSEQ, flags, sequence sets, and the change sets
// the reconciler computes between the two sides of the mirror.
package mailbox

import "fmt"

// Uid is a message's persistent identifier inside a UidValidity epoch.
// Zero is not a valid UID on the wire; it is reserved here to mean
// "not yet assigned" for locally authored mail.
type Uid uint32

// UidValidity is an epoch counter for a mailbox. A change invalidates all
// previously cached UIDs.
type UidValidity uint32

// ModSeq is RFC 7162's monotone per-mailbox change counter.
type ModSeq uint64

// NewUid validates and constructs a Uid, rejecting the reserved zero value.
func NewUid(v uint32) (Uid, error) {
	if v == 0 {
		return 0, fmt.Errorf("mailbox: uid must be non-zero")
	}
	return Uid(v), nil
}

// NewUidValidity validates and constructs a UidValidity.
func NewUidValidity(v uint32) (UidValidity, error) {
	if v == 0 {
		return 0, fmt.Errorf("mailbox: uidvalidity must be non-zero")
	}
	return UidValidity(v), nil
}

// NewModSeq validates and constructs a ModSeq.
func NewModSeq(v uint64) (ModSeq, error) {
	if v == 0 {
		return 0, fmt.Errorf("mailbox: modseq must be non-zero")
	}
	return ModSeq(v), nil
}
