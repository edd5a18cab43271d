package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVerifyPhysicalBackupCopyMode(t *testing.T) {
	dest := t.TempDir()
	artifact := filepath.Join(dest, "Bkp_full_20250101_120000")
	writeSourceTree(t, artifact, map[string]string{
		"a.txt":     "hello",
		"sub/b.txt": "world",
	})

	manifest := &BackupManifest{
		ConfigID: "cfg",
		Files: map[string]FileMetadata{
			"a.txt":     {Path: "a.txt", Size: 5},
			"sub/b.txt": {Path: "sub/b.txt", Size: 5},
		},
	}
	require.True(t, VerifyPhysicalBackup(dest, ModeCopy, manifest))

	// Size mismatch fails.
	manifest.Files["a.txt"] = FileMetadata{Path: "a.txt", Size: 99}
	require.False(t, VerifyPhysicalBackup(dest, ModeCopy, manifest))

	// Missing entry fails.
	manifest.Files["a.txt"] = FileMetadata{Path: "a.txt", Size: 5}
	manifest.Files["gone.txt"] = FileMetadata{Path: "gone.txt", Size: 1}
	require.False(t, VerifyPhysicalBackup(dest, ModeCopy, manifest))
}

func TestVerifyPhysicalBackupArchiveModes(t *testing.T) {
	dest := t.TempDir()
	manifest := &BackupManifest{ConfigID: "cfg", Files: map[string]FileMetadata{}}

	// No artifact at all.
	require.False(t, VerifyPhysicalBackup(dest, ModeCompressed, manifest))

	// Empty artifact fails the size > 0 requirement.
	empty := filepath.Join(dest, "Bkp_full_20250101_120000.tar.zst")
	require.NoError(t, os.WriteFile(empty, nil, 0644))
	require.False(t, VerifyPhysicalBackup(dest, ModeCompressed, manifest))

	require.NoError(t, os.WriteFile(empty, []byte("zstd-ish"), 0644))
	require.True(t, VerifyPhysicalBackup(dest, ModeCompressed, manifest))

	// A .tar.zst must not satisfy encrypted-mode verification and vice versa.
	require.False(t, VerifyPhysicalBackup(dest, ModeEncrypted, manifest))

	enc := filepath.Join(dest, "Bkp_full_20250102_120000.tar.zst.enc")
	require.NoError(t, os.WriteFile(enc, []byte("framed"), 0644))
	require.True(t, VerifyPhysicalBackup(dest, ModeEncrypted, manifest))
	// The compressed probe must still find the plain .tar.zst.
	require.True(t, VerifyPhysicalBackup(dest, ModeCompressed, manifest))
}

func TestVerifyPhysicalBackupNilManifest(t *testing.T) {
	require.False(t, VerifyPhysicalBackup(t.TempDir(), ModeCompressed, nil))
}
