// Package store implements the per-mailbox persistent cursor: the UID/flag
// table the reconciler diffs the maildir against, the uid_validity epoch
// row, and the highest_modseq resync cursor. It is grounded in the
// sync state database (database/sql over github.com/mattn/go-sqlite3, a
// schema-as-constant-string, WAL mode) but adds a single-writer actor:
// every exported method submits a closure to a dedicated goroutine that
// owns the *sql.DB for the lifetime of the store, so callers never race
// each other for the connection.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/eslider/mailmirror/internal/mailbox"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS mail_metadata (
	uid        INTEGER PRIMARY KEY,
	flags      INTEGER NOT NULL,
	fileprefix TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS uid_validity (
	uid_validity INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS cursor (
	key   TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);
`

// highestModSeqKey is the cursor row holding highest_modseq. A dedicated
// key/value table is used in place of sqlite's "user_version" pragma:
// user_version is a 32-bit signed field and ModSeq is a 64-bit RFC 7162
// counter, so the pragma can't actually hold it. SetHighestModSeq writes
// the row in its own statement; ResetForNewEpoch deletes it in the same
// transaction that clears mail_metadata and replaces uid_validity.
const highestModSeqKey = "highest_modseq"

// Store is a single mailbox's persistent cursor: the actor goroutine owns
// db exclusively; every field access happens inside a submitted closure.
type Store struct {
	reqs chan func()
	stop chan struct{}
	db   *sql.DB
}

// Open opens (creating if necessary) the sqlite file at path and ensures
// its schema exists. It does not touch the uid_validity row; call Init for
// that once the caller knows which epoch it's starting from.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("store: creating state dir: %w", err)
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init schema: %w", err)
	}

	s := &Store{reqs: make(chan func(), 32), stop: make(chan struct{}), db: db}
	go s.run()
	return s, nil
}

func (s *Store) run() {
	defer close(s.stop)
	for req := range s.reqs {
		req()
	}
}

// submit runs fn on the actor goroutine and blocks until it has run.
func (s *Store) submit(fn func()) {
	done := make(chan struct{})
	s.reqs <- func() {
		fn()
		close(done)
	}
	<-done
}

// Close stops accepting new work, waits for the actor to drain, and closes
// the underlying connection.
func (s *Store) Close() error {
	close(s.reqs)
	<-s.stop
	return s.db.Close()
}

// Init inserts the validity row if the table is empty; it is a no-op if a
// row already exists.
func (s *Store) Init(uidValidity mailbox.UidValidity) (err error) {
	s.submit(func() {
		var count int
		if scanErr := s.db.QueryRow(`SELECT COUNT(*) FROM uid_validity`).Scan(&count); scanErr != nil {
			err = fmt.Errorf("store: checking uid_validity: %w", scanErr)
			return
		}
		if count > 0 {
			return
		}
		if _, execErr := s.db.Exec(`INSERT INTO uid_validity (uid_validity) VALUES (?)`, uint32(uidValidity)); execErr != nil {
			err = fmt.Errorf("store: inserting uid_validity: %w", execErr)
		}
	})
	return err
}

// UidValidity reads the single persisted epoch. ok is false if no row has
// been persisted yet (a brand-new store).
func (s *Store) UidValidity() (v mailbox.UidValidity, ok bool, err error) {
	s.submit(func() {
		var raw uint32
		scanErr := s.db.QueryRow(`SELECT uid_validity FROM uid_validity LIMIT 1`).Scan(&raw)
		if scanErr == sql.ErrNoRows {
			return
		}
		if scanErr != nil {
			err = fmt.Errorf("store: reading uid_validity: %w", scanErr)
			return
		}
		v, ok = mailbox.UidValidity(raw), true
	})
	return v, ok, err
}

// ResetForNewEpoch clears all persisted mail metadata and the highest
// modseq cursor, then records newValidity as the current epoch — the
// reconciler's response to a changed UIDVALIDITY.
func (s *Store) ResetForNewEpoch(newValidity mailbox.UidValidity) (err error) {
	s.submit(func() {
		tx, txErr := s.db.Begin()
		if txErr != nil {
			err = fmt.Errorf("store: begin reset transaction: %w", txErr)
			return
		}
		defer tx.Rollback()

		if _, execErr := tx.Exec(`DELETE FROM mail_metadata`); execErr != nil {
			err = fmt.Errorf("store: clearing mail_metadata: %w", execErr)
			return
		}
		if _, execErr := tx.Exec(`DELETE FROM uid_validity`); execErr != nil {
			err = fmt.Errorf("store: clearing uid_validity: %w", execErr)
			return
		}
		if _, execErr := tx.Exec(`INSERT INTO uid_validity (uid_validity) VALUES (?)`, uint32(newValidity)); execErr != nil {
			err = fmt.Errorf("store: inserting new uid_validity: %w", execErr)
			return
		}
		if _, execErr := tx.Exec(`DELETE FROM cursor WHERE key = ?`, highestModSeqKey); execErr != nil {
			err = fmt.Errorf("store: clearing highest_modseq: %w", execErr)
			return
		}
		err = tx.Commit()
	})
	return err
}

// HighestModSeq returns the persisted resync cursor. A missing row reads
// as zero, the value NewModSeq rejects, so callers naturally treat a fresh
// store as "no cursor yet".
func (s *Store) HighestModSeq() (v mailbox.ModSeq, err error) {
	s.submit(func() {
		var raw uint64
		scanErr := s.db.QueryRow(`SELECT value FROM cursor WHERE key = ?`, highestModSeqKey).Scan(&raw)
		if scanErr == sql.ErrNoRows {
			return
		}
		if scanErr != nil {
			err = fmt.Errorf("store: reading highest_modseq: %w", scanErr)
			return
		}
		v = mailbox.ModSeq(raw)
	})
	return v, err
}

// SetHighestModSeq unconditionally overwrites the cursor.
func (s *Store) SetHighestModSeq(v mailbox.ModSeq) (err error) {
	s.submit(func() {
		_, execErr := s.db.Exec(
			`INSERT INTO cursor (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			highestModSeqKey, uint64(v),
		)
		if execErr != nil {
			err = fmt.Errorf("store: writing highest_modseq: %w", execErr)
		}
	})
	return err
}

// UpdateHighestModSeq sets the cursor only if v is greater than the
// current value — the monotone cursor update the reconciler relies on.
func (s *Store) UpdateHighestModSeq(v mailbox.ModSeq) (err error) {
	current, err := s.HighestModSeq()
	if err != nil {
		return err
	}
	if v <= current {
		return nil
	}
	return s.SetHighestModSeq(v)
}

// StoreNew inserts metadata as a new row. If metadata carries a UID, it is
// used as the primary key and (0, false, nil) is returned ("no new UID was
// minted"); otherwise sqlite assigns a surrogate rowid, which is returned
// with ok=true.
func (s *Store) StoreNew(meta mailbox.LocalMailMetadata) (surrogate mailbox.Uid, ok bool, err error) {
	s.submit(func() {
		if meta.HasUid {
			_, execErr := s.db.Exec(
				`INSERT INTO mail_metadata (uid, flags, fileprefix) VALUES (?, ?, ?)`,
				uint32(meta.Uid), uint8(meta.Flags), meta.FilePrefix,
			)
			if execErr != nil {
				err = fmt.Errorf("store: inserting mail_metadata for uid %d: %w", meta.Uid, execErr)
			}
			return
		}
		res, execErr := s.db.Exec(
			`INSERT INTO mail_metadata (flags, fileprefix) VALUES (?, ?)`,
			uint8(meta.Flags), meta.FilePrefix,
		)
		if execErr != nil {
			err = fmt.Errorf("store: inserting surrogate mail_metadata: %w", execErr)
			return
		}
		id, idErr := res.LastInsertId()
		if idErr != nil {
			err = fmt.Errorf("store: reading surrogate rowid: %w", idErr)
			return
		}
		surrogate, ok = mailbox.Uid(id), true
	})
	return surrogate, ok, err
}

// Update overwrites the flag bitset of an existing UID row; a UID with no
// row is left absent.
func (s *Store) Update(uid mailbox.Uid, flags mailbox.Flag) (err error) {
	s.submit(func() {
		_, execErr := s.db.Exec(`UPDATE mail_metadata SET flags = ? WHERE uid = ?`, uint8(flags), uint32(uid))
		if execErr != nil {
			err = fmt.Errorf("store: updating flags for uid %d: %w", uid, execErr)
		}
	})
	return err
}

// DeleteByUID removes a row by UID, for an applied VANISHED/expunge.
func (s *Store) DeleteByUID(uid mailbox.Uid) (err error) {
	s.submit(func() {
		_, execErr := s.db.Exec(`DELETE FROM mail_metadata WHERE uid = ?`, uint32(uid))
		if execErr != nil {
			err = fmt.Errorf("store: deleting uid %d: %w", uid, execErr)
		}
	})
	return err
}

// GetByUID looks up one row by UID.
func (s *Store) GetByUID(uid mailbox.Uid) (meta mailbox.LocalMailMetadata, ok bool, err error) {
	s.submit(func() {
		var flags uint8
		var prefix string
		scanErr := s.db.QueryRow(
			`SELECT flags, fileprefix FROM mail_metadata WHERE uid = ?`, uint32(uid),
		).Scan(&flags, &prefix)
		if scanErr == sql.ErrNoRows {
			return
		}
		if scanErr != nil {
			err = fmt.Errorf("store: reading uid %d: %w", uid, scanErr)
			return
		}
		meta = mailbox.LocalMailMetadata{Uid: uid, HasUid: true, Flags: mailbox.Flag(flags), FilePrefix: prefix}
		ok = true
	})
	return meta, ok, err
}

// ForEach calls fn for every persisted row, in UID order. fn's error stops
// iteration and is returned to the caller.
func (s *Store) ForEach(fn func(mailbox.LocalMailMetadata) error) (err error) {
	s.submit(func() {
		rows, queryErr := s.db.Query(`SELECT uid, flags, fileprefix FROM mail_metadata ORDER BY uid`)
		if queryErr != nil {
			err = fmt.Errorf("store: enumerating mail_metadata: %w", queryErr)
			return
		}
		defer rows.Close()

		for rows.Next() {
			var uid uint32
			var flags uint8
			var prefix string
			if scanErr := rows.Scan(&uid, &flags, &prefix); scanErr != nil {
				err = fmt.Errorf("store: scanning mail_metadata row: %w", scanErr)
				return
			}
			meta := mailbox.LocalMailMetadata{Uid: mailbox.Uid(uid), HasUid: uid != 0, Flags: mailbox.Flag(flags), FilePrefix: prefix}
			if cbErr := fn(meta); cbErr != nil {
				err = cbErr
				return
			}
		}
		if rowsErr := rows.Err(); rowsErr != nil {
			err = fmt.Errorf("store: iterating mail_metadata: %w", rowsErr)
		}
	})
	return err
}
