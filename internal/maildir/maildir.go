// Package maildir is the local half of the mirror: it owns one account's
// mailbox directories on disk (the classic tmp/new/cur layout) and knows
// how to turn a mailbox.RemoteMail into a durable file and back. Grounded
// in the filesystem storage style of the FS-backed blob store (MkdirAll,
// os.WriteFile, ErrNotFound-on-IsNotExist) generalized to the maildir
// write-to-tmp/rename-into-place protocol.
package maildir

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/eslider/mailmirror/internal/mailbox"
)

// ErrNotFound is returned when a lookup names a file that isn't present.
var ErrNotFound = errors.New("maildir: not found")

// Dir manages one mailbox's tmp/new/cur hierarchy.
type Dir struct {
	root string
	tmp  string
	new  string
	cur  string
}

// Open creates (if necessary) the tmp/new/cur subdirectories under root,
// each mode 0700, and returns a Dir ready for use.
func Open(root string) (*Dir, error) {
	d := &Dir{
		root: root,
		tmp:  filepath.Join(root, "tmp"),
		new:  filepath.Join(root, "new"),
		cur:  filepath.Join(root, "cur"),
	}
	for _, sub := range []string{d.tmp, d.new, d.cur} {
		if err := os.MkdirAll(sub, 0o700); err != nil {
			return nil, fmt.Errorf("maildir: creating %s: %w", sub, err)
		}
	}
	return d, nil
}

// GenerateFilePrefix mints a fresh, collision-resistant basename prefix:
// "<unix-seconds>.P<pid>N<nanos>.<hostname>". Flags and the ":2," info
// separator are appended by LocalMailMetadata.Filename.
func GenerateFilePrefix() string {
	now := time.Now()
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}
	return fmt.Sprintf("%d.P%dN%d.%s", now.Unix(), os.Getpid(), now.Nanosecond(), hostname)
}

// StoreNew writes fresh mail content into tmp/, fsyncs it, then renames it
// into cur/ under its final maildir filename — the standard maildir
// write-then-atomic-rename protocol, so a reader scanning cur/ never
// observes a partially written message.
func (d *Dir) StoreNew(meta mailbox.LocalMailMetadata, content []byte) error {
	meta.Size = int64(len(content))
	tmpPath := filepath.Join(d.tmp, meta.FilePrefix)
	file, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("maildir: creating tmp file %s: %w", tmpPath, err)
	}
	if _, err := file.Write(content); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("maildir: writing tmp file %s: %w", tmpPath, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("maildir: syncing tmp file %s: %w", tmpPath, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("maildir: closing tmp file %s: %w", tmpPath, err)
	}

	curPath := filepath.Join(d.cur, meta.Filename())
	if err := os.Rename(tmpPath, curPath); err != nil {
		return fmt.Errorf("maildir: renaming %s into cur: %w", tmpPath, err)
	}
	return nil
}

// resolve locates meta's actual cur/ entry by its (unique) fileprefix and
// reparses the real filename, recovering fields a caller's copy of meta may
// not carry — notably Size, which the persistent store never tracks (its
// mail_metadata table only has uid/flags/fileprefix).
// Reconstructing a path straight from a store-sourced LocalMailMetadata
// would otherwise target a filename that never existed on disk.
func (d *Dir) resolve(meta mailbox.LocalMailMetadata) (path string, actual mailbox.LocalMailMetadata, err error) {
	pattern := filepath.Join(d.cur, meta.FilePrefix+",*")
	matches, globErr := filepath.Glob(pattern)
	if globErr != nil {
		return "", mailbox.LocalMailMetadata{}, fmt.Errorf("maildir: globbing %s: %w", pattern, globErr)
	}
	if len(matches) == 0 {
		return "", mailbox.LocalMailMetadata{}, ErrNotFound
	}
	name := filepath.Base(matches[0])
	actual, err = mailbox.ParseFilename(name)
	if err != nil {
		return "", mailbox.LocalMailMetadata{}, fmt.Errorf("maildir: parsing resolved entry %q: %w", name, err)
	}
	return matches[0], actual, nil
}

// Rename moves a cur/ entry to reflect new metadata (typically a flag
// change): maildir flags live in the filename, so an update is a rename,
// never a rewrite. newMeta's Size is ignored in favor of the size recovered
// from the actual on-disk entry.
func (d *Dir) Rename(oldMeta, newMeta mailbox.LocalMailMetadata) error {
	oldPath, actual, err := d.resolve(oldMeta)
	if err != nil {
		return err
	}
	newMeta.Size = actual.Size
	newPath := filepath.Join(d.cur, newMeta.Filename())
	if oldPath == newPath {
		return nil
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("maildir: renaming %s to %s: %w", filepath.Base(oldPath), newMeta.Filename(), err)
	}
	return nil
}

// Delete removes a cur/ entry outright, for an applied VANISHED/expunge.
func (d *Dir) Delete(meta mailbox.LocalMailMetadata) error {
	path, _, err := d.resolve(meta)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("maildir: deleting %s: %w", filepath.Base(path), err)
	}
	return nil
}

// ReadContent reads a cur/ entry's raw bytes.
func (d *Dir) ReadContent(meta mailbox.LocalMailMetadata) ([]byte, error) {
	path, _, err := d.resolve(meta)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("maildir: reading %s: %w", filepath.Base(path), err)
	}
	return data, nil
}

// ListCur enumerates every entry currently in cur/, parsing each filename
// back into metadata. A filename that fails to parse stops the listing and
// is returned as ListCur's error rather than silently skipped, per the
// parse-failure contract of
// mailbox.ParseFilename: unexpected maildir contents are a local
// corruption worth surfacing, not ignoring.
func (d *Dir) ListCur(fn func(mailbox.LocalMailMetadata) error) error {
	entries, err := os.ReadDir(d.cur)
	if err != nil {
		return fmt.Errorf("maildir: listing cur: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		meta, parseErr := mailbox.ParseFilename(entry.Name())
		if parseErr != nil {
			return fmt.Errorf("maildir: parsing cur entry %q: %w", entry.Name(), parseErr)
		}
		if err := fn(meta); err != nil {
			return err
		}
	}
	return nil
}
