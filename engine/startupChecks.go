package engine

import (
	"errors"
	"fmt"
	"os"
)

// StartupChecks makes sure the document and thumbnail directories are usable
func (serverHandler *ServerHandler) StartupChecks() error {
	cfg := serverHandler.ServerConfig
	return errors.Join(
		directoryChecks("document", cfg.DocumentPath),
		directoryChecks("thumbnail", cfg.ThumbnailPath),
	)
}

// directoryChecks ensures a storage directory exists, creating it when missing
func directoryChecks(kind, path string) error {
	if path == "" {
		Logger.Warn("Path not configured", "kind", kind)
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			Logger.Info("Creating directory", "kind", kind, "path", path)
			if err := os.MkdirAll(path, 0755); err != nil {
				Logger.Error("Failed to create directory", "kind", kind, "path", path, "error", err)
				return err
			}
			return nil
		}
		Logger.Error("Error checking directory", "kind", kind, "path", path, "error", err)
		return err
	}

	// Check if it's actually a directory
	if !info.IsDir() {
		Logger.Error("Path exists but is not a directory", "kind", kind, "path", path)
		return fmt.Errorf("%s path is not a directory: %s", kind, path)
	}

	Logger.Info("Directory exists", "kind", kind, "path", path)
	return nil
}
