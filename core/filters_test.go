package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func statFor(t *testing.T, path string) os.FileInfo {
	t.Helper()
	info, err := os.Lstat(path)
	require.NoError(t, err)
	return info
}

func TestFilterConfigExcludeName(t *testing.T) {
	dir := t.TempDir()
	writeSourceTree(t, dir, map[string]string{
		"keep.txt":  "k",
		"junk.tmp":  "j",
		".DS_Store": "d",
	})

	fc := FilterConfig{ExcludeNames: []string{"*.tmp", ".DS_Store"}}

	require.True(t, fc.ShouldInclude(filepath.Join(dir, "keep.txt"), statFor(t, filepath.Join(dir, "keep.txt"))))
	require.False(t, fc.ShouldInclude(filepath.Join(dir, "junk.tmp"), statFor(t, filepath.Join(dir, "junk.tmp"))))
	require.False(t, fc.ShouldInclude(filepath.Join(dir, ".DS_Store"), statFor(t, filepath.Join(dir, ".DS_Store"))))
}

func TestFilterConfigExcludePathPrefix(t *testing.T) {
	dir := t.TempDir()
	writeSourceTree(t, dir, map[string]string{
		"cache/blob": "b",
		"data/real":  "r",
	})

	fc := FilterConfig{ExcludePaths: []string{filepath.Join(dir, "cache")}}

	require.False(t, fc.ShouldInclude(filepath.Join(dir, "cache", "blob"), statFor(t, filepath.Join(dir, "cache", "blob"))))
	require.True(t, fc.ShouldInclude(filepath.Join(dir, "data", "real"), statFor(t, filepath.Join(dir, "data", "real"))))
}

func TestFilterConfigMaxSize(t *testing.T) {
	dir := t.TempDir()
	writeSourceTree(t, dir, map[string]string{
		"small.bin": "123",
		"big.bin":   "1234567890",
	})

	fc := FilterConfig{MaxSize: 5}
	require.True(t, fc.ShouldInclude(filepath.Join(dir, "small.bin"), statFor(t, filepath.Join(dir, "small.bin"))))
	require.False(t, fc.ShouldInclude(filepath.Join(dir, "big.bin"), statFor(t, filepath.Join(dir, "big.bin"))))

	// Zero means no cap.
	unlimited := FilterConfig{}
	require.True(t, unlimited.ShouldInclude(filepath.Join(dir, "big.bin"), statFor(t, filepath.Join(dir, "big.bin"))))
}

func TestScanSourceFilesAppliesFilters(t *testing.T) {
	src := t.TempDir()
	writeSourceTree(t, src, map[string]string{
		"a.txt":          "12345",
		"skip/inside.md": "should be pruned with the directory",
		"b.tmp":          "x",
	})

	manager := NewBackupManager(nil)
	manager.DisableEvents()

	files, total, err := manager.ScanSourceFiles(src, FilterConfig{
		ExcludePaths: []string{filepath.Join(src, "skip")},
		ExcludeNames: []string{"*.tmp"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(src, "a.txt")}, files)
	require.Equal(t, int64(5), total)
}

func TestScanSourceFilesSkipsSymlinks(t *testing.T) {
	src := t.TempDir()
	writeSourceTree(t, src, map[string]string{"real.txt": "real"})

	outside := t.TempDir()
	writeSourceTree(t, outside, map[string]string{"secret.txt": "secret"})

	if err := os.Symlink(outside, filepath.Join(src, "link-dir")); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}
	require.NoError(t, os.Symlink(filepath.Join(src, "real.txt"), filepath.Join(src, "link-file")))

	manager := NewBackupManager(nil)
	manager.DisableEvents()

	files, _, err := manager.ScanSourceFiles(src, FilterConfig{})
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(src, "real.txt")}, files)
}

func TestScanSourceFilesRejectsFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	manager := NewBackupManager(nil)
	manager.DisableEvents()

	_, _, err := manager.ScanSourceFiles(file, FilterConfig{})
	require.Error(t, err)
}
