// Package reconciler drives one mailbox's local state into agreement with
// a remote IMAP mailbox: given a freshly selected mailbox and the persisted
// (uid_validity, highest_modseq) cursor, it computes and applies the
// symmetric difference between the remote mailbox and the local maildir,
// then advances the cursor. The overall shape — diff against a persisted
// per-UID state, download and save in batches, one pass per IDLE wake — is
// a bidirectional QRESYNC mirror built on top of a connect/diff/apply sync
// loop.
package reconciler

import (
	"errors"
	"fmt"

	"github.com/eslider/mailmirror/internal/imapclient"
	"github.com/eslider/mailmirror/internal/imapproto"
	"github.com/eslider/mailmirror/internal/logging"
	"github.com/eslider/mailmirror/internal/mailbox"
	"github.com/eslider/mailmirror/internal/maildir"
	"github.com/eslider/mailmirror/internal/store"
)

// Reconciler drives one mailbox's store+maildir state into agreement with
// a single SELECTed session, one pass at a time. It is not safe for
// concurrent use; the worker supervisor gives each mailbox its own
// Reconciler on its own goroutine.
type Reconciler struct {
	session *imapclient.SelectedSession
	store   *store.Store
	dir     *maildir.Dir
	log     *logging.Logger
	mbName  string
}

// New builds a Reconciler for one SELECTed mailbox.
func New(session *imapclient.SelectedSession, st *store.Store, dir *maildir.Dir, log *logging.Logger) *Reconciler {
	return &Reconciler{session: session, store: st, dir: dir, log: log}
}

// Reconcile runs one full pass: epoch check, remote deltas (already
// piggybacked on SELECT via remote, or derived here via a full UID FETCH),
// local deltas, apply both directions, and advance the cursor. It is the
// commit point of a sync pass: a successful return means
// the new highest_modseq has been persisted.
func (r *Reconciler) Reconcile(mb mailbox.Mailbox, remote mailbox.RemoteChanges) error {
	r.mbName = mb.Name
	fresh, err := r.reconcileEpoch(mb.UidValidity)
	if err != nil {
		return fmt.Errorf("reconciler: epoch check: %w", err)
	}

	if fresh {
		remote, err = r.fullRemoteSnapshot(mb.UidNext)
		if err != nil {
			return fmt.Errorf("reconciler: full remote snapshot: %w", err)
		}
	} else if err := r.checkUidNextMonotonic(mb.UidNext); err != nil {
		return err
	}

	if err := r.applyRemoteChanges(remote); err != nil {
		return fmt.Errorf("reconciler: applying remote changes: %w", err)
	}

	if fresh {
		if err := r.applyFullDeletions(remote.Updates); err != nil {
			return fmt.Errorf("reconciler: applying full-sync deletions: %w", err)
		}
	}

	if err := r.applyLocalChanges(remote); err != nil {
		return fmt.Errorf("reconciler: applying local changes: %w", err)
	}

	if err := r.applyLocalNewMail(); err != nil {
		return fmt.Errorf("reconciler: applying local new mail: %w", err)
	}

	if err := r.advanceCursor(mb, remote); err != nil {
		return fmt.Errorf("reconciler: advancing cursor: %w", err)
	}
	return nil
}

// reconcileEpoch persists uid_validity on a brand-new store, or resyncs
// from scratch when it changed. fresh reports
// whether the caller must now derive remote state from a full UID FETCH
// rather than trusting QRESYNC's piggybacked deltas.
func (r *Reconciler) reconcileEpoch(uidValidity mailbox.UidValidity) (fresh bool, err error) {
	persisted, ok, err := r.store.UidValidity()
	if err != nil {
		return false, err
	}
	if !ok {
		if err := r.store.Init(uidValidity); err != nil {
			return false, err
		}
		return true, nil
	}
	if persisted == uidValidity {
		return false, nil
	}

	r.log.Warn("uidvalidity changed %d -> %d, discarding local state and resyncing", persisted, uidValidity)
	if err := r.clearMaildir(); err != nil {
		return false, err
	}
	if err := r.store.ResetForNewEpoch(uidValidity); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Reconciler) clearMaildir() error {
	var toDelete []mailbox.LocalMailMetadata
	if err := r.dir.ListCur(func(m mailbox.LocalMailMetadata) error {
		toDelete = append(toDelete, m)
		return nil
	}); err != nil {
		return err
	}
	for _, m := range toDelete {
		if err := r.dir.Delete(m); err != nil && !errors.Is(err, maildir.ErrNotFound) {
			return err
		}
	}
	return nil
}

// checkUidNextMonotonic reports a ProtocolViolation when, with UIDVALIDITY
// unchanged, UIDNEXT does not exceed the highest UID already in the store.
// The store does not record the previous UIDNEXT, so a decrease that still
// stays above every stored UID is not detected.
func (r *Reconciler) checkUidNextMonotonic(uidNext mailbox.Uid) error {
	var maxUid mailbox.Uid
	if err := r.store.ForEach(func(m mailbox.LocalMailMetadata) error {
		if m.HasUid && m.Uid > maxUid {
			maxUid = m.Uid
		}
		return nil
	}); err != nil {
		return err
	}
	if maxUid > 0 && uidNext <= maxUid {
		return &imapproto.ProtocolViolation{
			Reason: fmt.Sprintf("UIDNEXT %d did not advance past previously seen UID %d with unchanged UIDVALIDITY", uidNext, maxUid),
		}
	}
	return nil
}

// fullRemoteSnapshot issues "UID FETCH 1:UIDNEXT-1 (UID FLAGS)" for a
// mailbox with no usable QRESYNC cursor.
func (r *Reconciler) fullRemoteSnapshot(uidNext mailbox.Uid) (mailbox.RemoteChanges, error) {
	if uidNext <= 1 {
		return mailbox.RemoteChanges{}, nil
	}
	set := mailbox.WithRange(1, uint32(uidNext)-1)
	stream, err := r.session.UidFetchMeta(set)
	if err != nil {
		return mailbox.RemoteChanges{}, err
	}
	var updates []mailbox.RemoteMailMetadata
	for {
		mail, ok, err := stream.Next()
		if err != nil {
			return mailbox.RemoteChanges{}, err
		}
		if !ok {
			break
		}
		updates = append(updates, mail.RemoteMailMetadata)
	}
	return mailbox.RemoteChanges{Updates: updates}, nil
}

// applyRemoteChanges applies the remote->local half of a pass: vanished UIDs are
// deleted, already-known UIDs are flag-renamed, and unknown UIDs are
// downloaded and stored new. "If a UID appears both as updated and
// vanished in a single QRESYNC stream, treat it as vanished."
func (r *Reconciler) applyRemoteChanges(remote mailbox.RemoteChanges) error {
	vanished := map[mailbox.Uid]struct{}{}
	if remote.HasDeletions && !remote.Deletions.Empty() {
		uids, err := mailbox.ParseSequenceSet(remote.Deletions.String())
		if err != nil {
			return err
		}
		for _, u := range uids {
			vanished[u] = struct{}{}
		}
	}

	for uid := range vanished {
		meta, ok, err := r.store.GetByUID(uid)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := r.dir.Delete(meta); err != nil && !errors.Is(err, maildir.ErrNotFound) {
			return err
		}
		if err := r.store.DeleteByUID(uid); err != nil {
			return err
		}
	}

	var unknown []mailbox.RemoteMailMetadata
	for _, u := range remote.Updates {
		if _, gone := vanished[u.Uid]; gone {
			continue
		}
		existing, ok, err := r.store.GetByUID(u.Uid)
		if err != nil {
			return err
		}
		newFlags := u.Flags.WithoutRecent()
		if !ok {
			unknown = append(unknown, u)
			continue
		}
		if existing.Flags == newFlags {
			continue
		}
		newMeta := existing
		newMeta.Flags = newFlags
		if err := r.dir.Rename(existing, newMeta); err != nil {
			return err
		}
		if err := r.store.Update(u.Uid, newFlags); err != nil {
			return err
		}
	}

	return r.downloadNew(unknown)
}

// downloadNew fetches and stores full bodies for UIDs this mailbox has
// never seen before. "For each unknown UID with a non-Deleted state,
// fetch the body and store-new it" — a UID already flagged \Deleted is
// skipped, since downloading it only to immediately reconcile it away
// would waste a round trip.
func (r *Reconciler) downloadNew(metas []mailbox.RemoteMailMetadata) error {
	builder := mailbox.NewSequenceSetBuilder()
	wanted := make(map[mailbox.Uid]mailbox.Flag, len(metas))
	for _, m := range metas {
		flags := m.Flags.WithoutRecent()
		if flags.Has(mailbox.FlagDeleted) {
			continue
		}
		builder.Add(m.Uid)
		wanted[m.Uid] = flags
	}
	set, ok := builder.Build()
	if !ok {
		return nil
	}

	stream, err := r.session.UidFetchFull(set)
	if err != nil {
		return err
	}
	for {
		mail, ok, err := stream.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		flags, known := wanted[mail.Uid]
		if !known {
			flags = mail.Flags.WithoutRecent()
		}
		meta := mailbox.LocalMailMetadata{
			Uid:        mail.Uid,
			HasUid:     true,
			Flags:      flags,
			FilePrefix: maildir.GenerateFilePrefix(),
			Size:       int64(len(mail.Body)),
		}
		if err := r.dir.StoreNew(meta, mail.Body); err != nil {
			return err
		}
		if _, _, err := r.store.StoreNew(meta); err != nil {
			return err
		}
	}
	return nil
}

// applyFullDeletions implements the remaining half of a full reconciliation:
// for a full reconciliation: UIDs present in the persisted store but
// absent from the just-fetched full remote set are deletions the server
// never told us about via VANISHED, because there was no QRESYNC cursor
// for it to piggyback on.
func (r *Reconciler) applyFullDeletions(remoteUpdates []mailbox.RemoteMailMetadata) error {
	present := make(map[mailbox.Uid]struct{}, len(remoteUpdates))
	for _, u := range remoteUpdates {
		present[u.Uid] = struct{}{}
	}

	var stale []mailbox.LocalMailMetadata
	if err := r.store.ForEach(func(m mailbox.LocalMailMetadata) error {
		if m.HasUid {
			if _, ok := present[m.Uid]; !ok {
				stale = append(stale, m)
			}
		}
		return nil
	}); err != nil {
		return err
	}

	for _, m := range stale {
		if err := r.dir.Delete(m); err != nil && !errors.Is(err, maildir.ErrNotFound) {
			return err
		}
		if err := r.store.DeleteByUID(m.Uid); err != nil {
			return err
		}
	}
	return nil
}

// applyLocalChanges implements the local->remote flag-push half: any
// maildir entry whose on-disk flags no longer match the store's recorded
// flags was edited by something other than this reconciler (a local MUA
// touching the maildir directly) and is pushed upstream via UID STORE.
// UIDs this same pass already rewrote from a remote update are skipped:
// "if remote and local disagree on flags, remote wins within a given
// epoch."
func (r *Reconciler) applyLocalChanges(remote mailbox.RemoteChanges) error {
	touchedByRemote := map[mailbox.Uid]struct{}{}
	for _, u := range remote.Updates {
		touchedByRemote[u.Uid] = struct{}{}
	}

	builder := mailbox.NewLocalFlagChangesBuilder()
	touchedLocally := map[mailbox.Uid]mailbox.Flag{}

	if err := r.dir.ListCur(func(diskMeta mailbox.LocalMailMetadata) error {
		if !diskMeta.HasUid {
			return nil // locally authored mail with no UID: handled by applyLocalNewMail
		}
		if _, ok := touchedByRemote[diskMeta.Uid]; ok {
			return nil
		}
		storedMeta, ok, err := r.store.GetByUID(diskMeta.Uid)
		if err != nil {
			return err
		}
		if !ok || storedMeta.Flags == diskMeta.Flags {
			return nil
		}
		added := diskMeta.Flags &^ storedMeta.Flags
		removed := storedMeta.Flags &^ diskMeta.Flags
		for _, f := range []mailbox.Flag{mailbox.FlagSeen, mailbox.FlagAnswered, mailbox.FlagFlagged, mailbox.FlagDeleted, mailbox.FlagDraft} {
			if added.Has(f) {
				builder.AddFlag(diskMeta.Uid, f)
			}
			if removed.Has(f) {
				builder.RemoveFlag(diskMeta.Uid, f)
			}
		}
		touchedLocally[diskMeta.Uid] = diskMeta.Flags
		return nil
	}); err != nil {
		return err
	}

	changes := builder.Build()
	for flag, set := range changes.Added {
		if err := r.session.UidStore(set, true, flag); err != nil {
			return err
		}
	}
	for flag, set := range changes.Removed {
		if err := r.session.UidStore(set, false, flag); err != nil {
			return err
		}
	}
	for uid, flags := range touchedLocally {
		if err := r.store.Update(uid, flags); err != nil {
			return err
		}
	}
	return nil
}

// applyLocalNewMail handles the other half of the local->remote step: maildir
// entries with no UID yet are locally authored mail awaiting APPEND. "A
// mail locally present without a UID must not be deleted by step 4 even
// if it's absent remotely; it is an outgoing new." APPEND's wire flow is
// out of scope for this implementation; each such mail is logged and
// left in place rather than dropped.
func (r *Reconciler) applyLocalNewMail() error {
	return r.dir.ListCur(func(m mailbox.LocalMailMetadata) error {
		if m.HasUid {
			return nil
		}
		content, err := r.dir.ReadContent(m)
		if err != nil {
			return err
		}
		if _, err := r.session.Append(r.mbName, m.Flags, content); err != nil {
			r.log.Warn("outgoing mail %s not uploaded: %v", m.FilePrefix, err)
		}
		return nil
	})
}

// advanceCursor persists the maximum observed MODSEQ as the new
// highest_modseq, the commit point of the sync round (the final step
// 6). UpdateHighestModSeq is itself monotone, so a pass that observed
// nothing newer than the persisted cursor is a no-op.
func (r *Reconciler) advanceCursor(mb mailbox.Mailbox, remote mailbox.RemoteChanges) error {
	max := mb.HighestModSeq
	for _, u := range remote.Updates {
		if u.ModSeq > max {
			max = u.ModSeq
		}
	}
	if max == 0 {
		return nil
	}
	return r.store.UpdateHighestModSeq(max)
}
