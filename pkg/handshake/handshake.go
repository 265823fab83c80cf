// Package handshake implements the post-migration handshake file: a
// rehydrated home may carry a POST_MIGRATION.md left by the target side
// for the agent to observe and acknowledge.
package handshake

import (
	"os"
	"path/filepath"

	"github.com/flock-run/flock/pkg/flockerr"
)

const filename = "POST_MIGRATION.md"

// Has reports whether homePath contains a pending handshake file. Absence
// is the normal steady state.
func Has(homePath string) bool {
	_, err := os.Stat(filepath.Join(homePath, filename))
	return err == nil
}

// Read returns the handshake file's contents, or ("", false, nil) if none
// exists.
func Read(homePath string) (content string, ok bool, err error) {
	data, err := os.ReadFile(filepath.Join(homePath, filename))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, flockerr.Wrap(flockerr.LocalIO, "handshake_read", "failed to read "+filename, err)
	}
	return string(data), true, nil
}

// Clear removes the handshake file after the agent has acknowledged it. It
// is not an error to clear an already-absent file.
func Clear(homePath string) error {
	err := os.Remove(filepath.Join(homePath, filename))
	if err != nil && !os.IsNotExist(err) {
		return flockerr.Wrap(flockerr.LocalIO, "handshake_clear", "failed to remove "+filename, err)
	}
	return nil
}

// Write stages a handshake file on the target home. Receiver.HandleRehydrate
// calls it to list the warnings of a rehydrate that succeeded with warnings.
func Write(homePath, content string) error {
	if err := os.MkdirAll(homePath, 0o755); err != nil {
		return flockerr.Wrap(flockerr.LocalIO, "handshake_write_mkdir", "failed to prepare home directory", err)
	}
	if err := os.WriteFile(filepath.Join(homePath, filename), []byte(content), 0o644); err != nil {
		return flockerr.Wrap(flockerr.LocalIO, "handshake_write", "failed to write "+filename, err)
	}
	return nil
}
