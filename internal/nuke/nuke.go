// Package nuke implements the --nuke operation: recursively deleting an
// account's local mail and persistent state, using Go's plain
// stat-then-os.RemoveAll idiom.
package nuke

import (
	"fmt"
	"os"

	"github.com/eslider/mailmirror/internal/config"
	"github.com/eslider/mailmirror/internal/logging"
)

// Account removes the account's state directory and mail directory
// entirely. Missing directories are not an error.
func Account(paths config.Paths, account string, log *logging.Logger) error {
	mailDir := paths.AccountMailDir(account)
	if _, err := os.Stat(mailDir); err == nil {
		log.Info("removing mail directory %s", mailDir)
		if err := os.RemoveAll(mailDir); err != nil {
			return fmt.Errorf("nuke: removing mail directory %s: %w", mailDir, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("nuke: checking mail directory %s: %w", mailDir, err)
	}

	stateDir := paths.AccountStateDir(account)
	if _, err := os.Stat(stateDir); err == nil {
		log.Info("removing state directory %s", stateDir)
		if err := os.RemoveAll(stateDir); err != nil {
			return fmt.Errorf("nuke: removing state directory %s: %w", stateDir, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("nuke: checking state directory %s: %w", stateDir, err)
	}

	return nil
}
