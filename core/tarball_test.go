// core/tarball_test.go
package core

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteExtractTarRoundTrip(t *testing.T) {
	src := t.TempDir()
	source := map[string]string{
		"top.txt":         "top",
		"nested/mid.txt":  "mid",
		"nested/deep/f":   "deep",
		"nested/empty.go": "",
	}
	writeSourceTree(t, src, source)

	files := make([]string, 0, len(source))
	for rel := range source {
		files = append(files, filepath.Join(src, filepath.FromSlash(rel)))
	}

	var buf bytes.Buffer
	var progressCalls int
	written, err := WriteTarStream(files, src, &buf, nil, 2, func(current, total int) {
		progressCalls++
		require.LessOrEqual(t, current, total)
	})
	require.NoError(t, err)
	require.Equal(t, int64(buf.Len()), written)
	require.Greater(t, progressCalls, 0)

	dest := t.TempDir()
	count, err := ExtractTarStream(bytes.NewReader(buf.Bytes()), dest, nil, nil)
	require.NoError(t, err)
	require.Equal(t, len(source), count)
	require.Equal(t, source, readTree(t, dest))
}

func TestWriteTarLongPathsSurvivePAX(t *testing.T) {
	src := t.TempDir()
	longRel := strings.Repeat("directory-segment/", 8) + strings.Repeat("f", 60) + ".txt"
	require.Greater(t, len(longRel), 100)
	writeSourceTree(t, src, map[string]string{longRel: "long"})

	var buf bytes.Buffer
	_, err := WriteTarStream([]string{filepath.Join(src, filepath.FromSlash(longRel))}, src, &buf, nil, 0, nil)
	require.NoError(t, err)

	dest := t.TempDir()
	count, err := ExtractTarStream(bytes.NewReader(buf.Bytes()), dest, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Equal(t, map[string]string{longRel: "long"}, readTree(t, dest))
}

func TestSafeExtractPath(t *testing.T) {
	dest := t.TempDir()
	destAbs, err := filepath.Abs(dest)
	require.NoError(t, err)

	t.Run("plain relative path", func(t *testing.T) {
		target, err := safeExtractPath("sub/file.txt", destAbs)
		require.NoError(t, err)
		require.Equal(t, filepath.Join(destAbs, "sub", "file.txt"), target)
	})

	t.Run("dot segments collapse inside destination", func(t *testing.T) {
		target, err := safeExtractPath("sub/./file.txt", destAbs)
		require.NoError(t, err)
		require.Equal(t, filepath.Join(destAbs, "sub", "file.txt"), target)
	})

	t.Run("parent escape rejected", func(t *testing.T) {
		_, err := safeExtractPath("../../escape.txt", destAbs)
		require.ErrorIs(t, err, ErrUnsafePath)
	})

	t.Run("interior parent escape rejected", func(t *testing.T) {
		_, err := safeExtractPath("sub/../../escape.txt", destAbs)
		require.ErrorIs(t, err, ErrUnsafePath)
	})

	t.Run("absolute path rejected", func(t *testing.T) {
		_, err := safeExtractPath("/etc/passwd", destAbs)
		require.ErrorIs(t, err, ErrUnsafePath)
	})

	t.Run("empty name rejected", func(t *testing.T) {
		_, err := safeExtractPath("", destAbs)
		require.ErrorIs(t, err, ErrUnsafePath)
	})

	t.Run("interior dotdot that stays inside is allowed", func(t *testing.T) {
		target, err := safeExtractPath("a/../b.txt", destAbs)
		require.NoError(t, err)
		require.Equal(t, filepath.Join(destAbs, "b.txt"), target)
	})
}
