// core/verify.go
package core

import (
	"log"
	"os"
	"path/filepath"
	"strings"
)

// VerifyPhysicalBackup confirms that the last artifact a manifest describes
// still exists in the destination. The backup orchestrator's caller runs
// this before trusting a prior manifest for an incremental run; a false
// result means the manifest must be discarded and the run degrades to full.
//
// Copy mode checks every manifest entry by existence and size inside the
// newest Bkp_* directory. Archive modes only require the newest matching
// file to exist and be non-empty: the artifact is self-describing, the
// manifest cannot enumerate its compressed contents.
func VerifyPhysicalBackup(destination string, mode BackupMode, manifest *BackupManifest) bool {
	if manifest == nil {
		return false
	}

	switch mode {
	case ModeCopy:
		dir := newestArtifact(destination, func(name string, isDir bool) bool {
			return isDir && strings.HasPrefix(name, "Bkp_")
		})
		if dir == "" {
			return false
		}
		for rel, meta := range manifest.Files {
			info, err := os.Lstat(filepath.Join(dir, filepath.FromSlash(rel)))
			if err != nil {
				log.Printf("Physical verify failed: missing %s in %s", rel, dir)
				return false
			}
			if info.Size() != meta.Size {
				log.Printf("Physical verify failed: size mismatch for %s", rel)
				return false
			}
		}
		return true

	case ModeCompressed, ModeEncrypted:
		suffix := mode.ArtifactSuffix()
		file := newestArtifact(destination, func(name string, isDir bool) bool {
			return !isDir && strings.HasSuffix(name, suffix) &&
				// .tar.zst must not match the longer .tar.zst.enc
				(mode == ModeEncrypted || !strings.HasSuffix(name, ".enc"))
		})
		if file == "" {
			return false
		}
		info, err := os.Lstat(file)
		return err == nil && info.Size() > 0

	default:
		return false
	}
}

// newestArtifact scans destination (non-recursive) for entries accepted by
// match and returns the most recently modified one, or "".
func newestArtifact(destination string, match func(name string, isDir bool) bool) string {
	entries, err := os.ReadDir(destination)
	if err != nil {
		return ""
	}

	var newest string
	var newestMod int64
	for _, entry := range entries {
		if !match(entry.Name(), entry.IsDir()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if mod := info.ModTime().Unix(); newest == "" || mod > newestMod {
			newest = filepath.Join(destination, entry.Name())
			newestMod = mod
		}
	}
	return newest
}
