// Package state persists executor state and other run artifacts as JSON
// with crash-safe atomic writes and .bak recovery.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"autopack/internal/logging"
)

// WriteAtomic writes data to path via tmp -> fsync -> rename -> fsync dir.
// The previous version, if any, is copied to path+".bak" before the
// replace and stays there for LoadJSON's recovery.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create dir %s: %w", dir, err)
	}

	// Preserve the current version as .bak before replacing it.
	if _, err := os.Stat(path); err == nil {
		bak := path + ".bak"
		if err := copyFile(path, bak); err != nil {
			return fmt.Errorf("failed to back up %s: %w", path, err)
		}
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to rename into place: %w", err)
	}

	// fsync the directory so the rename itself is durable.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}

	return nil
}

// SaveJSON marshals v and writes it atomically to path.
func SaveJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}
	return WriteAtomic(path, data)
}

// LoadJSON reads path into v, falling back to path+".bak" when the
// primary is missing or corrupt. Returns os.ErrNotExist when neither
// exists.
func LoadJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err == nil {
		if jsonErr := json.Unmarshal(data, v); jsonErr == nil {
			return nil
		}
		logging.StateWarn("Primary state file corrupt, trying backup: %s", path)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	bak := path + ".bak"
	bakData, bakErr := os.ReadFile(bak)
	if bakErr != nil {
		if os.IsNotExist(err) && os.IsNotExist(bakErr) {
			return os.ErrNotExist
		}
		return fmt.Errorf("state file %s unreadable and no usable backup: %w", path, bakErr)
	}
	if jsonErr := json.Unmarshal(bakData, v); jsonErr != nil {
		return fmt.Errorf("state file and backup both corrupt: %s: %w", path, jsonErr)
	}

	// Restore the primary from the backup so the next writer starts clean.
	if err := WriteAtomic(path, bakData); err != nil {
		logging.StateWarn("Could not restore primary from backup: %v", err)
	}
	logging.State("Recovered state from backup: %s", bak)
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}
