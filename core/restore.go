// core/restore.go
package core

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
)

// RunRestore verifies and unpacks an artifact into destination.
//
// expectedDigest may be empty: the shell is responsible for prompting when
// no digest is known; the engine logs a warning and continues. password is
// only consulted for encrypted artifacts.
func (m *BackupManager) RunRestore(artifactPath, destination, expectedDigest, password string, cancel *CancelFlag) (RestoreResult, error) {
	m.cancel = cancel

	result := RestoreResult{StartedAt: nowUnix()}

	m.emitProgress("starting", "正在准备恢复...", 0, 0)

	info, err := os.Lstat(artifactPath)
	if err != nil {
		return result, fmt.Errorf("failed to stat backup artifact: %w", err)
	}

	// Copy 模式的产物是一个目录，按相对路径镜像回去即可
	if info.IsDir() {
		count, err := m.restoreCopyTree(artifactPath, destination)
		if err != nil {
			return result, err
		}
		result.FilesExtracted = count
		result.CompletedAt = nowUnix()
		m.emitProgress("completed", "恢复完成", count, count)
		return result, nil
	}

	// 1. 完整性校验，先于任何解压工作
	if expectedDigest != "" {
		m.emitProgress("checksum", "正在校验备份文件...", 0, 0)
		actual, err := FileChecksum(artifactPath)
		if err != nil {
			return result, err
		}
		if !DigestEqual(actual, expectedDigest) {
			return result, ErrIntegrityMismatch
		}
	} else {
		log.Printf("Warn: restoring %s without an expected digest", artifactPath)
	}
	if m.cancel.Cancelled() {
		return result, ErrCancelled
	}

	data, err := os.ReadFile(artifactPath)
	if err != nil {
		return result, fmt.Errorf("failed to read backup artifact: %w", err)
	}

	// 2. 按文件名后缀判断管线
	name := filepath.Base(artifactPath)
	if strings.HasSuffix(name, ".enc") {
		meta, ciphertext, err := DecodeEncryptedFrame(data)
		if err != nil {
			return result, err
		}

		// 解密是不可中断区域，结束后立即复查取消标志
		m.emitProgress("decrypting", "正在解密...", 0, 0)
		data, err = Open(ciphertext, password, meta)
		if err != nil {
			return result, err
		}
		if m.cancel.Cancelled() {
			return result, ErrCancelled
		}
	}

	if strings.Contains(name, ".zst") {
		m.emitProgress("decompressing", "正在解压...", 0, 0)
		data, err = DecompressAll(data)
		if err != nil {
			return result, err
		}
		if m.cancel.Cancelled() {
			return result, ErrCancelled
		}
	}

	// 3. 安全解包
	m.emitProgress("restoring", "正在恢复...", 0, 0)
	count, err := ExtractTarStream(bytes.NewReader(data), destination, m.cancel, func(extracted int) {
		m.emitProgress("restoring", fmt.Sprintf("已恢复 %d 个文件", extracted), extracted, 0)
	})
	if err != nil {
		return result, err
	}

	result.FilesExtracted = count
	result.CompletedAt = nowUnix()
	m.emitProgress("completed", "恢复完成", count, count)
	log.Printf("Restore completed: %d files extracted to %s", count, destination)
	return result, nil
}

// restoreCopyTree mirrors a copy-mode artifact directory into destination.
func (m *BackupManager) restoreCopyTree(artifactDir, destination string) (int, error) {
	destAbs, err := filepath.Abs(destination)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve destination: %w", err)
	}
	if err := os.MkdirAll(destAbs, 0755); err != nil {
		return 0, fmt.Errorf("failed to create destination directory: %w", err)
	}

	buffer := make([]byte, copyBufferSize)
	count := 0

	walkErr := filepath.Walk(artifactDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if count%cancelCheckEvery == 0 && m.cancel.Cancelled() {
			return ErrCancelled
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(artifactDir, path)
		if err != nil {
			return err
		}
		dest := filepath.Join(destAbs, rel)
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return fmt.Errorf("failed to create parent dir for %s: %w", dest, err)
		}
		if err := copyFileContents(path, dest, buffer); err != nil {
			return err
		}

		count++
		if count%extractProgressEvery == 0 {
			m.emitProgress("restoring", fmt.Sprintf("已恢复 %d 个文件", count), count, 0)
		}
		return nil
	})
	if walkErr != nil {
		return count, walkErr
	}
	return count, nil
}
