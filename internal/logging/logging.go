// Package logging centralizes the process's log.Logger construction: a
// terminal-friendly prefixed format normally, collapsing to the
// single-line journald style ("<level>message") when stderr is connected
// to the systemd journal, detected via the JOURNAL_STREAM environment
// variable and an fstat dev:ino comparison, built on the standard log
// package rather than pulling in a structured logging library.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"

	"golang.org/x/sys/unix"
)

// Level is a log line's severity. journalDigit maps it to the syslog
// priority digit systemd-journald expects at the start of a line (man
// systemd.journal-fields, the SYSLOG_IDENTIFIER-free "<N>" form consumed by
// sd_journal_print style readers).
type Level int

const (
	LevelInfo Level = iota
	LevelWarn
	LevelError
)

func (l Level) journalDigit() byte {
	switch l {
	case LevelError:
		return '3'
	case LevelWarn:
		return '4'
	default:
		return '6'
	}
}

func (l Level) label() string {
	switch l {
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	default:
		return "INFO"
	}
}

// Logger wraps a *log.Logger for a named component (typically a mailbox),
// writing to w (os.Stderr in production, a buffer in tests). Its three
// helpers (Info/Warn/Error) pick the right prefix for the current output
// mode.
type Logger struct {
	name     string
	journald bool
	std      *log.Logger
}

// New constructs a Logger. name is prepended to every line (the mailbox
// name, or "" for process-wide messages); w is the destination, and
// journald forces (or disables) the single-line journal format — callers
// pass ConnectedToJournal() for production use and a fixed value in tests.
func New(w io.Writer, name string, journald bool) *Logger {
	return &Logger{name: name, journald: journald, std: log.New(w, "", 0)}
}

// Default builds a Logger writing to os.Stderr, auto-detecting the
// journald connection.
func Default(name string) *Logger {
	return New(os.Stderr, name, ConnectedToJournal())
}

func (l *Logger) log(level Level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if l.journald {
		if l.name != "" {
			l.std.Printf("<%c>%s: %s", level.journalDigit(), l.name, msg)
		} else {
			l.std.Printf("<%c>%s", level.journalDigit(), msg)
		}
		return
	}
	if l.name != "" {
		l.std.Printf("%s %s: %s", level.label(), l.name, msg)
	} else {
		l.std.Printf("%s %s", level.label(), msg)
	}
}

func (l *Logger) Info(format string, args ...any)  { l.log(LevelInfo, format, args...) }
func (l *Logger) Warn(format string, args ...any)  { l.log(LevelWarn, format, args...) }
func (l *Logger) Error(format string, args ...any) { l.log(LevelError, format, args...) }

// ConnectedToJournal reports whether stderr's device/inode match
// $JOURNAL_STREAM, meaning systemd is capturing this process's stderr
// directly and the single-line "<N>message" format should be used instead
// of the human-oriented terminal format.
func ConnectedToJournal() bool {
	stream := os.Getenv("JOURNAL_STREAM")
	if stream == "" {
		return false
	}
	var stat unix.Stat_t
	if err := unix.Fstat(int(os.Stderr.Fd()), &stat); err != nil {
		return false
	}
	want := fmt.Sprintf("%d:%d", stat.Dev, stat.Ino)
	return stream == want
}
