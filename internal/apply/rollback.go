package apply

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"autopack/internal/logging"
)

// writeManifest persists the checkpoint's path -> backup mapping.
func writeManifest(path string, manifest map[string]string) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Rollback restores the workspace from a pre-apply checkpoint directory.
// Files recorded as "absent" are removed; all others are restored from
// their backups.
func Rollback(root, checkpointPath string) error {
	data, err := os.ReadFile(filepath.Join(checkpointPath, "manifest.json"))
	if err != nil {
		return fmt.Errorf("failed to read checkpoint manifest: %w", err)
	}
	var manifest map[string]string
	if err := json.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("corrupt checkpoint manifest: %w", err)
	}

	for rel, backup := range manifest {
		target := filepath.Join(root, filepath.FromSlash(rel))
		if backup == "absent" {
			if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("rollback failed removing %s: %w", rel, err)
			}
			continue
		}
		content, err := os.ReadFile(backup)
		if err != nil {
			return fmt.Errorf("rollback failed reading backup for %s: %w", rel, err)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return fmt.Errorf("rollback failed creating dir for %s: %w", rel, err)
		}
		if err := os.WriteFile(target, content, 0644); err != nil {
			return fmt.Errorf("rollback failed restoring %s: %w", rel, err)
		}
	}

	logging.Apply("Rolled back %d files from checkpoint %s", len(manifest), checkpointPath)
	return nil
}
