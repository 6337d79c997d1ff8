package reconciler

import (
	"bufio"
	"net"
	"strings"
	"testing"

	"github.com/eslider/mailmirror/internal/imapclient"
	"github.com/eslider/mailmirror/internal/logging"
	"github.com/eslider/mailmirror/internal/maildir"
	"github.com/eslider/mailmirror/internal/mailbox"
	"github.com/eslider/mailmirror/internal/store"
)

// fakeServer scripts the server side of a net.Pipe the same way
// internal/imapclient's own tests do: one command line in, one or more
// response lines out.
type fakeServer struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func newFakeServer(t *testing.T, conn net.Conn) *fakeServer {
	return &fakeServer{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (f *fakeServer) readCommand() string {
	f.t.Helper()
	line, err := f.r.ReadString('\n')
	if err != nil {
		f.t.Fatalf("fakeServer: read command: %v", err)
	}
	return strings.TrimRight(line, "\r\n")
}

func (f *fakeServer) write(s string) {
	f.t.Helper()
	if _, err := f.conn.Write([]byte(s)); err != nil {
		f.t.Fatalf("fakeServer: write: %v", err)
	}
}

func newTestReconciler(t *testing.T, mb mailbox.Mailbox) (*Reconciler, *fakeServer, *store.Store, *maildir.Dir) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() { clientConn.Close(); serverConn.Close() })
	conn := imapclient.NewConnectionForTest(clientConn)
	selected := imapclient.NewSelectedSessionForTest(conn, mb)

	st, err := store.Open(t.TempDir() + "/cursor.db")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	dir, err := maildir.Open(t.TempDir())
	if err != nil {
		t.Fatalf("maildir.Open: %v", err)
	}

	log := logging.New(discard{}, "test", false)
	return New(selected, st, dir, log), newFakeServer(t, serverConn), st, dir
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// TestReconcileFreshMailboxDownloadsEverything exercises the "never synced
// before" path: no persisted uid_validity means Reconcile must derive the
// full remote snapshot and download every message itself,
// step 3.
func TestReconcileFreshMailboxDownloadsEverything(t *testing.T) {
	mb := mailbox.Mailbox{Name: "INBOX", UidValidity: 100, UidNext: 3, HighestModSeq: 5}

	rec, srv, st, dir := newTestReconciler(t, mb)
	done := make(chan struct{})
	go func() {
		defer close(done)

		cmd := srv.readCommand()
		if cmd != "0000 UID FETCH 1:2 (UID FLAGS)" {
			t.Errorf("unexpected snapshot command: %q", cmd)
		}
		srv.write("* 1 FETCH (UID 1 FLAGS (\\Seen))\r\n")
		srv.write("* 2 FETCH (UID 2 FLAGS ())\r\n")
		srv.write("0000 OK FETCH completed\r\n")

		cmd = srv.readCommand()
		if cmd != "0001 UID FETCH 1:2 (UID FLAGS RFC822)" {
			t.Errorf("unexpected download command: %q", cmd)
		}
		srv.write("* 1 FETCH (UID 1 FLAGS (\\Seen) RFC822 {5}\r\nhello)\r\n")
		srv.write("* 2 FETCH (UID 2 FLAGS () RFC822 {5}\r\nworld)\r\n")
		srv.write("0001 OK FETCH completed\r\n")
	}()

	if err := rec.Reconcile(mb, mailbox.RemoteChanges{}); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	<-done

	var count int
	if err := st.ForEach(func(mailbox.LocalMailMetadata) error { count++; return nil }); err != nil {
		t.Fatalf("ForEach: %v", err)
	}
	if count != 2 {
		t.Fatalf("store has %d rows, want 2", count)
	}

	var onDisk int
	if err := dir.ListCur(func(mailbox.LocalMailMetadata) error { onDisk++; return nil }); err != nil {
		t.Fatalf("ListCur: %v", err)
	}
	if onDisk != 2 {
		t.Fatalf("maildir has %d entries, want 2", onDisk)
	}

	validity, ok, err := st.UidValidity()
	if err != nil || !ok || validity != 100 {
		t.Fatalf("UidValidity = %d, %v, %v", validity, ok, err)
	}
	modSeq, err := st.HighestModSeq()
	if err != nil || modSeq != 5 {
		t.Fatalf("HighestModSeq = %d, %v", modSeq, err)
	}
}

// TestReconcileSecondPassIsIdempotent verifies that replaying Reconcile
// against the same QRESYNC-empty delta issues no further wire commands and
// leaves store/maildir state untouched.
func TestReconcileSecondPassIsIdempotent(t *testing.T) {
	mb := mailbox.Mailbox{Name: "INBOX", UidValidity: 100, UidNext: 1, HighestModSeq: 5}
	rec, _, st, _ := newTestReconciler(t, mb)

	if err := st.Init(100); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := st.SetHighestModSeq(5); err != nil {
		t.Fatalf("SetHighestModSeq: %v", err)
	}

	// The store already holds uid_validity 100, so Reconcile skips
	// fullRemoteSnapshot; it holds no UIDs, so checkUidNextMonotonic has
	// nothing to compare against; and remote carries no deltas, so nothing
	// is sent on the wire.
	if err := rec.Reconcile(mb, mailbox.RemoteChanges{}); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	modSeq, err := st.HighestModSeq()
	if err != nil || modSeq != 5 {
		t.Fatalf("HighestModSeq = %d, %v, want 5 unchanged", modSeq, err)
	}
}

// TestReconcileAppliesVanishedDeletions checks that a UID reported in
// RemoteChanges.Deletions is removed from both maildir and store, even when
// it also appears (stale) in Updates.
func TestReconcileAppliesVanishedDeletions(t *testing.T) {
	mb := mailbox.Mailbox{Name: "INBOX", UidValidity: 7, UidNext: 10, HighestModSeq: 20}
	rec, _, st, dir := newTestReconciler(t, mb)

	if err := st.Init(7); err != nil {
		t.Fatalf("Init: %v", err)
	}
	meta := mailbox.LocalMailMetadata{Uid: 4, HasUid: true, Flags: mailbox.FlagSeen, FilePrefix: "1.P1N1.host"}
	if err := dir.StoreNew(meta, []byte("body")); err != nil {
		t.Fatalf("StoreNew: %v", err)
	}
	if _, _, err := st.StoreNew(meta); err != nil {
		t.Fatalf("store.StoreNew: %v", err)
	}

	remote := mailbox.RemoteChanges{
		Deletions:    mailbox.WithRange(4, 4),
		HasDeletions: true,
		Updates:      []mailbox.RemoteMailMetadata{{Uid: 4, Flags: mailbox.FlagSeen, ModSeq: 21}},
	}
	if err := rec.Reconcile(mb, remote); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	if _, ok, err := st.GetByUID(4); err != nil || ok {
		t.Fatalf("uid 4 still present in store: ok=%v err=%v", ok, err)
	}
	if _, err := dir.ReadContent(meta); err == nil {
		t.Fatalf("maildir entry for uid 4 was not deleted")
	}
}

// TestReconcileEpochChangeClearsLocalState exercises the
// UIDVALIDITY-changed path: a stale persisted epoch must discard every
// local UID-bearing entry before resyncing as fresh.
func TestReconcileEpochChangeClearsLocalState(t *testing.T) {
	mb := mailbox.Mailbox{Name: "INBOX", UidValidity: 200, UidNext: 1, HighestModSeq: 0}
	rec, _, st, dir := newTestReconciler(t, mb)

	if err := st.Init(100); err != nil {
		t.Fatalf("Init: %v", err)
	}
	meta := mailbox.LocalMailMetadata{Uid: 1, HasUid: true, Flags: 0, FilePrefix: "1.P1N1.host"}
	if err := dir.StoreNew(meta, []byte("stale")); err != nil {
		t.Fatalf("StoreNew: %v", err)
	}
	if _, _, err := st.StoreNew(meta); err != nil {
		t.Fatalf("store.StoreNew: %v", err)
	}

	if err := rec.Reconcile(mb, mailbox.RemoteChanges{}); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}

	validity, ok, err := st.UidValidity()
	if err != nil || !ok || validity != 200 {
		t.Fatalf("UidValidity = %d, %v, %v, want 200", validity, ok, err)
	}
	var onDisk int
	if err := dir.ListCur(func(mailbox.LocalMailMetadata) error { onDisk++; return nil }); err != nil {
		t.Fatalf("ListCur: %v", err)
	}
	if onDisk != 0 {
		t.Fatalf("maildir still has %d stale entries after epoch change", onDisk)
	}
}

// TestReconcilePushesLocalFlagChange checks the local→remote half of step 5:
// a maildir entry whose on-disk flags no longer match the store is pushed
// via UID STORE.
func TestReconcilePushesLocalFlagChange(t *testing.T) {
	mb := mailbox.Mailbox{Name: "INBOX", UidValidity: 9, UidNext: 7, HighestModSeq: 1}
	rec, srv, st, dir := newTestReconciler(t, mb)

	if err := st.Init(9); err != nil {
		t.Fatalf("Init: %v", err)
	}
	stored := mailbox.LocalMailMetadata{Uid: 6, HasUid: true, Flags: 0, FilePrefix: "1.P1N1.host"}
	if _, _, err := st.StoreNew(stored); err != nil {
		t.Fatalf("store.StoreNew: %v", err)
	}
	onDisk := mailbox.LocalMailMetadata{Uid: 6, HasUid: true, Flags: mailbox.FlagSeen, FilePrefix: "1.P1N1.host"}
	if err := dir.StoreNew(onDisk, []byte("body")); err != nil {
		t.Fatalf("StoreNew: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		cmd := srv.readCommand()
		if cmd != "0000 UID STORE 6 +FLAGS.SILENT (\\Seen)" {
			t.Errorf("unexpected STORE command: %q", cmd)
		}
		srv.write("0000 OK STORE completed\r\n")
	}()

	if err := rec.Reconcile(mb, mailbox.RemoteChanges{}); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	<-done

	got, ok, err := st.GetByUID(6)
	if err != nil || !ok {
		t.Fatalf("GetByUID: %v, ok=%v", err, ok)
	}
	if got.Flags != mailbox.FlagSeen {
		t.Fatalf("stored flags = %v, want FlagSeen", got.Flags)
	}
}
