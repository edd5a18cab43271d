// core/types.go
package core

import "time"

// BackupMode 备份产物形态
type BackupMode string

const (
	ModeCopy       BackupMode = "copy"
	ModeCompressed BackupMode = "compressed"
	ModeEncrypted  BackupMode = "encrypted"
)

type BackupType string

const (
	BackupTypeFull        BackupType = "full"
	BackupTypeIncremental BackupType = "incremental"
)

type BackupStatus string

const (
	StatusPending   BackupStatus = "pending"
	StatusRunning   BackupStatus = "running"
	StatusCompleted BackupStatus = "completed"
	StatusFailed    BackupStatus = "failed"
	StatusCancelled BackupStatus = "cancelled"
)

// ScheduleConfig describes the recurring run of a configuration.
// CronExpression uses the five-field calendar form:
// minute hour day-of-month month day-of-week.
type ScheduleConfig struct {
	CronExpression string `json:"cron_expression"`
	Enabled        bool   `json:"enabled"`
}

// BackupConfig is supplied by the shell. The engine reads configs and never
// writes them back; the last_backup_* fields are an advisory outcome cache
// maintained by the shell from returned jobs.
type BackupConfig struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	SourcePath      string          `json:"source_path"`
	DestinationPath string          `json:"destination_path"`
	Mode            BackupMode      `json:"mode"`
	BackupType      BackupType      `json:"backup_type"`
	Schedule        *ScheduleConfig `json:"schedule,omitempty"`
	Filters         FilterConfig    `json:"filters,omitempty"`

	// 加密口令只随单次操作传递，绝不落盘。
	EncryptionPassword string `json:"-"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`

	LastBackupAt           *int64  `json:"last_backup_at,omitempty"`
	LastBackupOriginalSize *int64  `json:"last_backup_original_size,omitempty"`
	LastBackupStoredSize   *int64  `json:"last_backup_stored_size,omitempty"`
	LastBackupFilesCount   *int    `json:"last_backup_files_count,omitempty"`
	LastBackupChecksum     *string `json:"last_backup_checksum,omitempty"`
}

// BackupJob records one backup execution. BackupType holds the actual type
// ("full"/"incr") computed from observed counts, not the requested one.
type BackupJob struct {
	ID                string       `json:"id"`
	ConfigID          string       `json:"config_id"`
	Status            BackupStatus `json:"status"`
	BackupType        string       `json:"backup_type"`
	Mode              BackupMode   `json:"mode"`
	StartedAt         int64        `json:"started_at"`
	CompletedAt       int64        `json:"completed_at,omitempty"`
	OriginalSize      int64        `json:"original_size"`
	StoredSize        int64        `json:"stored_size"`
	FilesCount        int          `json:"files_count"`
	ChangedFilesCount int          `json:"changed_files_count,omitempty"`
	Error             string       `json:"error,omitempty"`
	ArtifactPath      string       `json:"artifact_path,omitempty"`
	IntegrityDigest   string       `json:"integrity_digest,omitempty"`
}

// RestoreResult summarizes one restore execution.
type RestoreResult struct {
	FilesExtracted int   `json:"files_extracted"`
	StartedAt      int64 `json:"started_at"`
	CompletedAt    int64 `json:"completed_at"`
}

// FileMetadata is one manifest entry. ContentHash is the hex SHA-256 of the
// file bytes, or a "fallback:<size>:<mtime>" placeholder when the file could
// not be read at enumeration time. Fallback entries are security-weak and are
// always treated as changed by the change detector.
type FileMetadata struct {
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	ModifiedAt  int64  `json:"modified_at"`
	ContentHash string `json:"content_hash"`
}

// FallbackHashPrefix marks weak manifest entries.
const FallbackHashPrefix = "fallback:"

// IsFallback reports whether the entry carries a placeholder instead of a
// real content hash.
func (fm FileMetadata) IsFallback() bool {
	return len(fm.ContentHash) >= len(FallbackHashPrefix) &&
		fm.ContentHash[:len(FallbackHashPrefix)] == FallbackHashPrefix
}

// BackupManifest is the per-configuration snapshot that makes incremental
// backups correct. It is written after a successful backup and deleted when
// the physical verifier can no longer confirm the last artifact.
type BackupManifest struct {
	ConfigID  string                  `json:"config_id"`
	CreatedAt int64                   `json:"created_at"`
	Files     map[string]FileMetadata `json:"files"`
}

// BackupInfo describes one restorable artifact found in a destination.
type BackupInfo struct {
	FileName  string `json:"file_name"`
	Path      string `json:"path"`
	Size      int64  `json:"size"`
	IsDir     bool   `json:"is_dir"`
	CreatedAt int64  `json:"created_at"`
}

func nowUnix() int64 {
	return time.Now().Unix()
}

// ArtifactSuffix returns the filename suffix for archive modes, or "" for
// copy mode (whose artifact is a directory).
func (m BackupMode) ArtifactSuffix() string {
	switch m {
	case ModeCopy:
		return ""
	case ModeCompressed:
		return ".tar.zst"
	case ModeEncrypted:
		return ".tar.zst.enc"
	default:
		return ""
	}
}
