// core/backup.go
package core

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// BackupManager drives one backup or restore operation. Create one per
// operation, the way the app layer does; it is not safe for concurrent use.
type BackupManager struct {
	emitter    Emitter
	emitEvents bool
	configID   string
	cancel     *CancelFlag
}

func NewBackupManager(emitter Emitter) *BackupManager {
	return &BackupManager{emitter: emitter, emitEvents: true}
}

func (m *BackupManager) DisableEvents() {
	m.emitEvents = false
}

const copyProgressEvery = 10

// RunBackup executes one backup for cfg. prior may be nil (forces a full
// run); password is only consulted in encrypted mode; cancel may be nil for
// fire-and-forget scheduled runs.
//
// The orchestrator guarantees at most one successful artifact per call: on
// success the artifact at ArtifactPath is complete and its digest is the one
// reported; on any failure no partial artifact survives at that path and no
// temp sidecar remains.
func (m *BackupManager) RunBackup(cfg BackupConfig, prior *BackupManifest, password string, cancel *CancelFlag) (BackupJob, error) {
	m.configID = cfg.ID
	m.cancel = cancel

	job := BackupJob{
		ID:        fmt.Sprintf("job-%s", uuid.New().String()[:8]),
		ConfigID:  cfg.ID,
		Status:    StatusRunning,
		Mode:      cfg.Mode,
		StartedAt: nowUnix(),
	}

	result, err := m.runBackupPipeline(&job, cfg, prior, password)
	if err != nil {
		if errors.Is(err, ErrCancelled) {
			job.Status = StatusCancelled
		} else {
			job.Status = StatusFailed
		}
		job.Error = err.Error()
		job.CompletedAt = nowUnix()
		return job, err
	}
	return result, nil
}

func (m *BackupManager) runBackupPipeline(job *BackupJob, cfg BackupConfig, prior *BackupManifest, password string) (BackupJob, error) {
	m.emitProgress("starting", "正在准备备份...", 0, 0)
	if m.cancel.Cancelled() {
		return *job, ErrCancelled
	}

	// 1. 扫描
	m.emitProgress("scanning", "正在扫描待备份文件...", 0, 0)
	allFiles, totalSourceSize, err := m.ScanSourceFiles(cfg.SourcePath, cfg.Filters)
	if err != nil {
		return *job, err
	}
	m.emitProgressDetail("scanned", fmt.Sprintf("发现 %d 个文件", len(allFiles)), 0, len(allFiles), 0, totalSourceSize)
	if m.cancel.Cancelled() {
		return *job, ErrCancelled
	}

	// 2. 选择本次需要备份的文件集合
	filesToBackup := allFiles
	selectedSize := totalSourceSize
	if cfg.BackupType == BackupTypeIncremental && prior != nil {
		filesToBackup, selectedSize, err = DetectChangedFiles(allFiles, cfg.SourcePath, prior)
		if err != nil {
			return *job, err
		}
	}

	// actual type 由观测到的数量决定，而不是请求的类型
	actualType := "full"
	if len(filesToBackup) != len(allFiles) {
		actualType = "incr"
	}

	timestamp := time.Now().Format("20060102_150405")
	artifactName := fmt.Sprintf("Bkp_%s_%s%s", actualType, timestamp, cfg.Mode.ArtifactSuffix())
	artifactPath := filepath.Join(cfg.DestinationPath, artifactName)

	if err := os.MkdirAll(cfg.DestinationPath, 0755); err != nil {
		return *job, fmt.Errorf("failed to create destination directory: %w", err)
	}

	job.BackupType = actualType
	job.OriginalSize = selectedSize
	job.FilesCount = len(filesToBackup)
	if cfg.BackupType == BackupTypeIncremental {
		job.ChangedFilesCount = len(filesToBackup)
	}

	log.Printf("Starting %s backup of %s (%d files, %d bytes) -> %s",
		actualType, cfg.SourcePath, len(filesToBackup), selectedSize, artifactPath)

	switch cfg.Mode {
	case ModeCopy:
		err = m.runCopyBackup(filesToBackup, cfg.SourcePath, artifactPath)
		if err != nil {
			return *job, err
		}
		job.StoredSize = selectedSize
	case ModeCompressed:
		stored, perr := m.runCompressedBackup(filesToBackup, cfg.SourcePath, artifactPath)
		if perr != nil {
			return *job, perr
		}
		job.StoredSize = stored
	case ModeEncrypted:
		stored, perr := m.runEncryptedBackup(filesToBackup, cfg.SourcePath, artifactPath, password)
		if perr != nil {
			return *job, perr
		}
		job.StoredSize = stored
	default:
		return *job, fmt.Errorf("unsupported backup mode: %s", cfg.Mode)
	}

	job.ArtifactPath = artifactPath

	// 3. 完整性摘要 (copy 模式没有单一文件可摘要)
	if cfg.Mode != ModeCopy {
		m.emitProgress("checksum", "正在计算校验和...", job.FilesCount, job.FilesCount)
		digest, derr := FileChecksum(artifactPath)
		if derr != nil {
			_ = os.Remove(artifactPath)
			return *job, fmt.Errorf("failed to checksum artifact: %w", derr)
		}
		job.IntegrityDigest = digest
	}

	job.Status = StatusCompleted
	job.CompletedAt = nowUnix()
	m.emitProgressDetail("completed", "备份完成", job.FilesCount, job.FilesCount, job.StoredSize, job.StoredSize)
	log.Printf("Backup completed: %d files, %d bytes stored", job.FilesCount, job.StoredSize)
	return *job, nil
}

// runCopyBackup mirrors the selected files into an artifact directory,
// preserving relative paths. On any error or cancel the partial directory is
// removed.
func (m *BackupManager) runCopyBackup(files []string, base, artifactDir string) error {
	if err := os.MkdirAll(artifactDir, 0755); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}

	cleanup := func() { _ = os.RemoveAll(artifactDir) }

	buffer := make([]byte, copyBufferSize)
	total := len(files)
	for i, path := range files {
		if i%copyProgressEvery == 0 {
			if m.cancel.Cancelled() {
				cleanup()
				return ErrCancelled
			}
			m.emitProgressDetail("archiving", fmt.Sprintf("正在复制: %d/%d", i, total), i, total, 0, 0)
		}

		rel, err := RelativeArchivePath(path, base)
		if err != nil {
			cleanup()
			return err
		}
		dest := filepath.Join(artifactDir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			cleanup()
			return fmt.Errorf("failed to create parent dir for %s: %w", dest, err)
		}
		if err := copyFileContents(path, dest, buffer); err != nil {
			cleanup()
			return err
		}
	}

	if m.cancel.Cancelled() {
		cleanup()
		return ErrCancelled
	}
	m.emitProgressDetail("archiving", "正在复制...", total, total, 0, 0)
	return nil
}

func copyFileContents(src, dest string, buffer []byte) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open file %s: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", src, err)
	}

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", dest, err)
	}

	_, copyErr := io.CopyBuffer(out, in, buffer)
	closeErr := out.Close()
	if copyErr != nil {
		return fmt.Errorf("failed to copy %s: %w", src, copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close %s: %w", dest, closeErr)
	}
	_ = os.Chtimes(dest, info.ModTime(), info.ModTime())
	return nil
}

// runCompressedBackup streams tar entries through the zstd encoder straight
// into the final artifact path. On any failure the partial artifact is
// unlinked before the error returns.
func (m *BackupManager) runCompressedBackup(files []string, base, artifactPath string) (int64, error) {
	out, err := os.Create(artifactPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create destination file: %w", err)
	}

	fail := func(ferr error) (int64, error) {
		_ = out.Close()
		_ = os.Remove(artifactPath)
		return 0, ferr
	}

	enc, err := NewCompressedWriter(out, DefaultCompressionLevel)
	if err != nil {
		return fail(err)
	}

	total := len(files)
	_, err = WriteTarStream(files, base, enc, m.cancel, progressEveryStreaming, func(current, totalFiles int) {
		m.emitProgressDetail("archiving", fmt.Sprintf("正在归档: %d/%d", current, totalFiles), current, totalFiles, 0, 0)
	})
	if err != nil {
		_ = enc.Close()
		return fail(err)
	}

	if err := enc.Close(); err != nil {
		return fail(fmt.Errorf("failed to finish compression: %w", err))
	}
	if err := out.Sync(); err != nil {
		return fail(fmt.Errorf("failed to sync artifact: %w", err))
	}

	info, err := out.Stat()
	if err != nil {
		return fail(fmt.Errorf("failed to stat artifact: %w", err))
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(artifactPath)
		return 0, fmt.Errorf("failed to close artifact: %w", err)
	}

	m.emitProgressDetail("archiving", "正在归档...", total, total, info.Size(), info.Size())
	return info.Size(), nil
}

// runEncryptedBackup writes the tar+zstd stream to a sibling temp file, then
// seals it and writes the framed artifact. Both the temp file and any
// partial final artifact are unlinked on failure.
func (m *BackupManager) runEncryptedBackup(files []string, base, artifactPath, password string) (int64, error) {
	if password == "" {
		return 0, ErrPasswordRequired
	}

	tempPath := artifactPath + ".tmp.zst"

	fail := func(ferr error) (int64, error) {
		_ = os.Remove(tempPath)
		_ = os.Remove(artifactPath)
		return 0, ferr
	}

	tmp, err := os.Create(tempPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}

	enc, err := NewCompressedWriter(tmp, DefaultCompressionLevel)
	if err != nil {
		_ = tmp.Close()
		return fail(err)
	}

	_, err = WriteTarStream(files, base, enc, m.cancel, progressEveryStreaming, func(current, totalFiles int) {
		m.emitProgressDetail("archiving", fmt.Sprintf("正在归档: %d/%d", current, totalFiles), current, totalFiles, 0, 0)
	})
	if err != nil {
		_ = enc.Close()
		_ = tmp.Close()
		return fail(err)
	}
	if err := enc.Close(); err != nil {
		_ = tmp.Close()
		return fail(fmt.Errorf("failed to finish compression: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return fail(fmt.Errorf("failed to close temp file: %w", err))
	}

	if m.cancel.Cancelled() {
		return fail(ErrCancelled)
	}

	compressed, err := os.ReadFile(tempPath)
	if err != nil {
		return fail(fmt.Errorf("failed to read temp file: %w", err))
	}

	// 密钥派生和加密是不可中断区域，结束后立即复查取消标志
	m.emitProgress("encrypting", "正在加密...", 0, 0)
	ciphertext, meta, err := Seal(compressed, password)
	if err != nil {
		return fail(err)
	}
	if m.cancel.Cancelled() {
		return fail(ErrCancelled)
	}

	frame, err := EncodeEncryptedFrame(meta, ciphertext)
	if err != nil {
		return fail(err)
	}

	out, err := os.Create(artifactPath)
	if err != nil {
		return fail(fmt.Errorf("failed to create destination file: %w", err))
	}
	if _, err := out.Write(frame); err != nil {
		_ = out.Close()
		return fail(fmt.Errorf("failed to write encrypted artifact: %w", err))
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return fail(fmt.Errorf("failed to sync artifact: %w", err))
	}
	if err := out.Close(); err != nil {
		return fail(fmt.Errorf("failed to close artifact: %w", err))
	}

	if err := os.Remove(tempPath); err != nil {
		log.Printf("Warn: could not remove temp file %s: %v", tempPath, err)
	}

	return int64(len(frame)), nil
}
