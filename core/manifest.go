package core

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
)

// BuildManifest computes per-file metadata for files under base. The content
// hash streams each file through SHA-256; a file that cannot be read gets a
// "fallback:<size>:<mtime>" placeholder so change detection never treats it
// as confirmed-equal.
func BuildManifest(configID string, files []string, base string) (*BackupManifest, error) {
	fileMap := make(map[string]FileMetadata, len(files))

	buffer := make([]byte, checksumBufferSize)
	for _, path := range files {
		rel, err := RelativeArchivePath(path, base)
		if err != nil {
			return nil, err
		}

		info, err := os.Lstat(path)
		if err != nil {
			log.Printf("Warn: skipping manifest entry for %s: %v", path, err)
			continue
		}

		meta := FileMetadata{
			Path:       rel,
			Size:       info.Size(),
			ModifiedAt: info.ModTime().Unix(),
		}

		hash, err := hashFile(path, buffer)
		if err != nil {
			log.Printf("Warn: could not hash %s, recording fallback entry: %v", path, err)
			meta.ContentHash = fmt.Sprintf("%s%d:%d", FallbackHashPrefix, meta.Size, meta.ModifiedAt)
		} else {
			meta.ContentHash = hash
		}

		fileMap[rel] = meta
	}

	return &BackupManifest{
		ConfigID:  configID,
		CreatedAt: nowUnix(),
		Files:     fileMap,
	}, nil
}

func hashFile(path string, buffer []byte) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.CopyBuffer(h, f, buffer); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ManifestPath returns the manifest location for a configuration inside the
// engine's app-data directory.
func ManifestPath(dataDir, configID string) string {
	return filepath.Join(dataDir, fmt.Sprintf("manifest_%s.json", configID))
}

// LoadManifest reads a previously stored manifest. A missing file returns
// (nil, nil): callers degrade to a full backup.
func LoadManifest(dataDir, configID string) (*BackupManifest, error) {
	path := ManifestPath(dataDir, configID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}

	var manifest BackupManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	return &manifest, nil
}

// SaveManifest writes the manifest atomically: sibling tempfile then rename,
// so a reader never observes a torn manifest.
func SaveManifest(dataDir string, manifest *BackupManifest) error {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	path := ManifestPath(dataDir, manifest.ConfigID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to commit manifest: %w", err)
	}
	return nil
}

// DeleteManifest removes the stored manifest for a configuration. Missing is
// not an error.
func DeleteManifest(dataDir, configID string) error {
	err := os.Remove(ManifestPath(dataDir, configID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
