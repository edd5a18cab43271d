package core

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
)

// ScanSourceFiles enumerates all regular files under root depth-first and
// returns their absolute paths together with the cumulative byte size.
//
// Policy: non-regular entries (sockets, devices, symlinks) are ignored.
// Symlinks are never followed, so the walk cannot escape root and restored
// trees never contain links. An entry whose metadata cannot be read is
// skipped and logged instead of failing the whole scan.
func (m *BackupManager) ScanSourceFiles(root string, filters FilterConfig) ([]string, int64, error) {
	info, err := os.Lstat(root)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to stat source path %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, 0, fmt.Errorf("source path %s is not a directory", root)
	}

	files := make([]string, 0, 1024)
	var totalSize int64

	walkErr := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			log.Printf("Warn: skipping unreadable entry %s: %v", path, err)
			return nil
		}

		if m.cancel.Cancelled() {
			return ErrCancelled
		}

		if !filters.ShouldInclude(path, info) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if info.Mode().IsRegular() {
			files = append(files, path)
			totalSize += info.Size()
		}
		return nil
	})
	if walkErr != nil {
		return nil, 0, walkErr
	}

	// 稳定的归档顺序
	sort.Strings(files)
	return files, totalSize, nil
}

// RelativeArchivePath converts an absolute file path into the slash-separated
// relative path used for manifest keys and tar entry names.
func RelativeArchivePath(path, base string) (string, error) {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return "", fmt.Errorf("failed to get relative path for %s: %w", path, err)
	}
	return filepath.ToSlash(rel), nil
}
