package core

import (
	"archive/tar"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"
)

func TestRestoreTamperedArtifactFailsIntegrity(t *testing.T) {
	cfg := testConfig(t, ModeCompressed, BackupTypeFull)
	writeSourceTree(t, cfg.SourcePath, map[string]string{"a.txt": "payload payload payload"})

	manager := NewBackupManager(nil)
	manager.DisableEvents()

	job, err := manager.RunBackup(cfg, nil, "", nil)
	require.NoError(t, err)

	// Flip one byte in the middle of the artifact.
	data, err := os.ReadFile(job.ArtifactPath)
	require.NoError(t, err)
	data[len(data)/2] ^= 0x01
	require.NoError(t, os.WriteFile(job.ArtifactPath, data, 0644))

	restoreDir := filepath.Join(t.TempDir(), "restore")
	_, err = manager.RunRestore(job.ArtifactPath, restoreDir, job.IntegrityDigest, "", nil)
	require.ErrorIs(t, err, ErrIntegrityMismatch)

	// Integrity failure happens before extraction: nothing may exist yet.
	entries, readErr := os.ReadDir(restoreDir)
	if readErr == nil {
		require.Empty(t, entries)
	}
}

func TestDigestSensitivity(t *testing.T) {
	cfg := testConfig(t, ModeCompressed, BackupTypeFull)
	writeSourceTree(t, cfg.SourcePath, map[string]string{"a.txt": "digest me"})

	manager := NewBackupManager(nil)
	manager.DisableEvents()

	job, err := manager.RunBackup(cfg, nil, "", nil)
	require.NoError(t, err)

	data, err := os.ReadFile(job.ArtifactPath)
	require.NoError(t, err)
	data[0] ^= 0x80
	require.NoError(t, os.WriteFile(job.ArtifactPath, data, 0644))

	redigest, err := FileChecksum(job.ArtifactPath)
	require.NoError(t, err)
	require.NotEqual(t, job.IntegrityDigest, redigest)
}

// buildHostileEncryptedArtifact frames a tar containing a traversal entry the
// way the engine's encrypted pipeline would.
func buildHostileEncryptedArtifact(t *testing.T, entryName, password string) string {
	t.Helper()

	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	content := []byte("escaped!")
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name:     entryName,
		Typeflag: tar.TypeReg,
		Mode:     0644,
		Size:     int64(len(content)),
		Format:   tar.FormatPAX,
	}))
	_, err := tw.Write(content)
	require.NoError(t, err)
	require.NoError(t, tw.Close())

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	compressed := enc.EncodeAll(tarBuf.Bytes(), nil)
	require.NoError(t, enc.Close())

	ciphertext, meta, err := Seal(compressed, password)
	require.NoError(t, err)
	frame, err := EncodeEncryptedFrame(meta, ciphertext)
	require.NoError(t, err)

	dir := t.TempDir()
	artifact := filepath.Join(dir, "Bkp_full_20250101_000000.tar.zst.enc")
	require.NoError(t, os.WriteFile(artifact, frame, 0644))
	return artifact
}

func TestRestoreRejectsPathTraversal(t *testing.T) {
	const password = "Hostile!Pass123"
	artifact := buildHostileEncryptedArtifact(t, "../../escape.txt", password)

	restoreRoot := filepath.Join(t.TempDir(), "restore-root")
	manager := NewBackupManager(nil)
	manager.DisableEvents()

	_, err := manager.RunRestore(artifact, restoreRoot, "", password, nil)
	require.ErrorIs(t, err, ErrUnsafePath)

	// The escape file must not exist anywhere above the destination.
	_, statErr := os.Stat(filepath.Join(restoreRoot, "..", "escape.txt"))
	require.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(filepath.Join(restoreRoot, "..", "..", "escape.txt"))
	require.True(t, os.IsNotExist(statErr))
}

func TestRestoreRejectsAbsolutePaths(t *testing.T) {
	const password = "Hostile!Pass123"
	artifact := buildHostileEncryptedArtifact(t, "/etc/escape.txt", password)

	manager := NewBackupManager(nil)
	manager.DisableEvents()

	_, err := manager.RunRestore(artifact, filepath.Join(t.TempDir(), "restore"), "", password, nil)
	require.ErrorIs(t, err, ErrUnsafePath)
}

func TestRestoreTamperedEncryptedArtifact(t *testing.T) {
	cfg := testConfig(t, ModeEncrypted, BackupTypeFull)
	writeSourceTree(t, cfg.SourcePath, map[string]string{"a.txt": "sensitive"})

	manager := NewBackupManager(nil)
	manager.DisableEvents()

	const password = "Correct!Pass123"
	job, err := manager.RunBackup(cfg, nil, password, nil)
	require.NoError(t, err)

	original, err := os.ReadFile(job.ArtifactPath)
	require.NoError(t, err)

	tamperAt := func(offset int) error {
		data := append([]byte(nil), original...)
		data[offset] ^= 0x01
		require.NoError(t, os.WriteFile(job.ArtifactPath, data, 0644))
		_, err := manager.RunRestore(job.ArtifactPath, filepath.Join(t.TempDir(), "r"), "", password, nil)
		return err
	}

	// Length prefix, params blob, ciphertext: no tampered restore completes.
	for _, offset := range []int{0, 8, len(original) - 1} {
		err := tamperAt(offset)
		require.Error(t, err)
		require.True(t,
			isAuthOrFrameError(err),
			"offset %d: expected auth or frame error, got %v", offset, err)
	}
}

func isAuthOrFrameError(err error) bool {
	return err != nil && (errors.Is(err, ErrAuthFailed) || errors.Is(err, ErrCorruptFrame))
}
