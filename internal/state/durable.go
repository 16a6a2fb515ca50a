package state

import (
	"fmt"

	"github.com/google/renameio/v2"
)

// DurableWrite replaces path with data so that readers observe either the old
// or the new content: sibling temp file, write, fsync, rename.
func DurableWrite(path string, data []byte) error {
	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o600))
	if err != nil {
		return fmt.Errorf("create pending file: %w", err)
	}
	// No-op once CloseAtomicallyReplace succeeded.
	defer pending.Cleanup()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write pending file: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace %s: %w", path, err)
	}
	return nil
}
