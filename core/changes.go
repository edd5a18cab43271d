package core

import (
	"log"
	"os"
)

// DetectChangedFiles filters the current walk against a prior manifest and
// returns the files an incremental run must include, with their cumulative
// size. A file is included iff no prior entry exists for its relative path,
// its size or mtime differ, or the prior entry is a fallback placeholder.
//
// Content hashes are deliberately not recomputed here: size+mtime is the
// cheap hot-path test, and the stored manifest always carries real hashes so
// the next run sees true equality.
func DetectChangedFiles(currentFiles []string, base string, prior *BackupManifest) ([]string, int64, error) {
	if prior == nil {
		var total int64
		for _, path := range currentFiles {
			if info, err := os.Lstat(path); err == nil {
				total += info.Size()
			}
		}
		return currentFiles, total, nil
	}

	changed := make([]string, 0, len(currentFiles))
	var totalSize int64

	for _, path := range currentFiles {
		rel, err := RelativeArchivePath(path, base)
		if err != nil {
			return nil, 0, err
		}

		info, err := os.Lstat(path)
		if err != nil {
			// 文件在扫描后消失，跳过
			log.Printf("Warn: file vanished during change detection: %s", path)
			continue
		}

		prev, ok := prior.Files[rel]
		if ok &&
			prev.Size == info.Size() &&
			prev.ModifiedAt == info.ModTime().Unix() &&
			!prev.IsFallback() {
			continue
		}

		changed = append(changed, path)
		totalSize += info.Size()
	}

	return changed, totalSize, nil
}
