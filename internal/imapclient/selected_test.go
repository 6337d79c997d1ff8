package imapclient

import (
	"strings"
	"testing"

	"github.com/eslider/mailmirror/internal/mailbox"
)

func TestUidFetchFullParsesLiteralBody(t *testing.T) {
	conn, srv := newPipePair(t)
	done := make(chan struct{})
	go func() {
		defer close(done)
		cmd := srv.readCommand()
		if cmd != "0000 UID FETCH 1:3 (UID FLAGS RFC822)" {
			t.Errorf("unexpected command: %q", cmd)
		}
		srv.write("* 1 FETCH (UID 1 FLAGS (\\Seen) RFC822 {5}\r\nhello)\r\n")
		srv.write("0000 OK FETCH completed\r\n")
	}()

	selected := &SelectedSession{conn: conn}
	stream, err := selected.UidFetchFull(mailbox.WithRange(1, 3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mail, ok, err := stream.Next()
	if err != nil || !ok {
		t.Fatalf("unexpected result: mail=%+v ok=%v err=%v", mail, ok, err)
	}
	if mail.Uid != 1 || string(mail.Body) != "hello" {
		t.Fatalf("unexpected mail: %+v", mail)
	}
	mail2, ok2, err2 := stream.Next()
	<-done
	if err2 != nil || ok2 {
		t.Fatalf("expected stream exhausted, got mail=%+v ok=%v err=%v", mail2, ok2, err2)
	}
}

func TestUidStoreSendsCorrectCommand(t *testing.T) {
	conn, srv := newPipePair(t)
	done := make(chan struct{})
	go func() {
		defer close(done)
		cmd := srv.readCommand()
		if !strings.HasPrefix(cmd, "0000 UID STORE 5 +FLAGS.SILENT (") {
			t.Errorf("unexpected command: %q", cmd)
		}
		srv.write("0000 OK STORE completed\r\n")
	}()

	selected := &SelectedSession{conn: conn}
	sb := mailbox.NewSequenceSetBuilder()
	sb.Add(5)
	set, _ := sb.Build()
	if err := selected.UidStore(set, true, mailbox.FlagSeen); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	<-done
}
