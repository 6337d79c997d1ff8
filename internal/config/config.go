// Package config loads the per-account TOML file
// (`<config>/accounts/<account>.toml`), resolves the XDG-derived state and
// mail paths, and retrieves the account password by running the
// configured password_cmd subprocess. Each account gets its own config
// file, following XDG_CONFIG_HOME/XDG_STATE_HOME/XDG_DATA_HOME fallbacks.
package config

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

const appName = "mailmirror"

// Auth is the account's credential configuration. Only "plain" is
// supported; other Type values fail to load.
type Auth struct {
	Type        string `toml:"type"`
	User        string `toml:"user"`
	PasswordCmd string `toml:"password_cmd"`
}

// Account is one account's configuration file, `accounts/<name>.toml`.
type Account struct {
	Host      string   `toml:"host"`
	Port      uint16   `toml:"port"`
	Mailboxes []string `toml:"mailboxes"`
	Auth      Auth     `toml:"auth"`
}

// Addr renders the host:port dial target.
func (a Account) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// Password runs Auth.PasswordCmd and returns its trimmed stdout: the
// command string is split on spaces, argv[0] is executed with the
// remaining tokens as arguments, and standard output — trimmed of
// trailing whitespace — is the password. Empty stdout is fatal.
func (a Account) Password() (string, error) {
	fields := strings.Fields(a.Auth.PasswordCmd)
	if len(fields) == 0 {
		return "", fmt.Errorf("config: password_cmd is empty")
	}
	cmd := exec.Command(fields[0], fields[1:]...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("config: running password_cmd %q: %w", a.Auth.PasswordCmd, err)
	}
	password := strings.TrimRight(stdout.String(), "\r\n\t ")
	if password == "" {
		return "", fmt.Errorf("config: password_cmd %q produced empty output", a.Auth.PasswordCmd)
	}
	return password, nil
}

// Paths resolves the XDG-derived directories this process reads and
// writes under.
type Paths struct {
	ConfigDir string // <XDG_CONFIG_HOME|$HOME/.config>/mailmirror
	StateDir  string // <XDG_STATE_HOME|$HOME/.local/state>/mailmirror
	MailDir   string // <XDG_DATA_HOME|$HOME/.local/share>/mailmirror/mail
}

// ResolvePaths reads HOME (required) and the XDG_* overrides from the
// environment.
func ResolvePaths() (Paths, error) {
	home := os.Getenv("HOME")
	if home == "" {
		return Paths{}, fmt.Errorf("config: HOME is not set")
	}
	return Paths{
		ConfigDir: filepath.Join(xdgOr("XDG_CONFIG_HOME", home, ".config"), appName),
		StateDir:  filepath.Join(xdgOr("XDG_STATE_HOME", home, ".local", "state"), appName),
		MailDir:   filepath.Join(xdgOr("XDG_DATA_HOME", home, ".local", "share"), appName, "mail"),
	}, nil
}

func xdgOr(envVar, home string, fallback ...string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return filepath.Join(append([]string{home}, fallback...)...)
}

// AccountFile is the path to an account's config file under paths.
func (p Paths) AccountFile(account string) string {
	return filepath.Join(p.ConfigDir, "accounts", account+".toml")
}

// StateFile is the per-mailbox sqlite cursor path.
func (p Paths) StateFile(account, mailbox string) string {
	return filepath.Join(p.StateDir, account, mailbox)
}

// MaildirPath is the maildir root for one mailbox.
func (p Paths) MaildirPath(account, mailbox string) string {
	return filepath.Join(p.MailDir, account, mailbox)
}

// AccountStateDir is the account-wide state directory, the unit --nuke removes.
func (p Paths) AccountStateDir(account string) string {
	return filepath.Join(p.StateDir, account)
}

// AccountMailDir is the account-wide mail directory, the other unit --nuke
// removes.
func (p Paths) AccountMailDir(account string) string {
	return filepath.Join(p.MailDir, account)
}

// LoadAccount reads and parses an account's TOML config file.
func LoadAccount(path string) (Account, error) {
	var acct Account
	if _, err := toml.DecodeFile(path, &acct); err != nil {
		return Account{}, fmt.Errorf("config: loading %s: %w", path, err)
	}
	if acct.Host == "" {
		return Account{}, fmt.Errorf("config: %s missing host", path)
	}
	if acct.Auth.Type != "plain" {
		return Account{}, fmt.Errorf("config: %s has unsupported auth type %q", path, acct.Auth.Type)
	}
	if len(acct.Mailboxes) == 0 {
		return Account{}, fmt.Errorf("config: %s lists no mailboxes", path)
	}
	return acct, nil
}
