package main

import (
	"os"
	"path"
	"time"

	"github.com/hiveci/hive/server/log"
)

// cleanupOldArtifacts deletes per-build artifact directories and bundles
// older than the retention period. The engine never evicts builds itself;
// this is the external retention policy acting on disk state only.
func cleanupOldArtifacts(dataRoot string, retention time.Duration) {
	artifactsDir := path.Join(dataRoot, "artifacts")

	entries, err := os.ReadDir(artifactsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		log.Warn("Failed to read artifacts directory", "error", err)
		return
	}

	cutoff := time.Now().Add(-retention)
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			log.Warn("Failed to stat artifact entry", "name", entry.Name(), "error", err)
			continue
		}

		if info.ModTime().Before(cutoff) {
			age := time.Since(info.ModTime()).Truncate(24 * time.Hour)
			if err := os.RemoveAll(path.Join(artifactsDir, entry.Name())); err != nil {
				log.Warn("Failed to delete old artifact entry", "name", entry.Name(), "error", err)
				continue
			}
			log.Info("Deleted old artifacts", "name", entry.Name(), "age", age)
		}
	}
}
