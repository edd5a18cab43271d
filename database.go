// database.go
package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"go-backup-engine/core"
)

// InitializeDatabase opens the job-history SQLite database inside the
// engine's app-data directory.
func InitializeDatabase(dataDir string) (*sql.DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}
	dbPath := filepath.Join(dataDir, "history.db")

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	sqlStmtJobs := `
	CREATE TABLE IF NOT EXISTS backup_jobs (
		id INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL,
		config_id TEXT NOT NULL,
		status TEXT NOT NULL,
		backup_type TEXT,
		mode TEXT,
		started_at INTEGER,
		completed_at INTEGER,
		original_size INTEGER,
		stored_size INTEGER,
		files_count INTEGER,
		changed_files_count INTEGER,
		error TEXT,
		artifact_path TEXT,
		integrity_digest TEXT,
		created_at DATETIME
	);
	`
	if _, err := db.Exec(sqlStmtJobs); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// AddBackupRecord appends one job to the history (best-effort at call sites).
func AddBackupRecord(db *sql.DB, job core.BackupJob) error {
	if db == nil {
		return fmt.Errorf("database not initialized")
	}
	stmt, err := db.Prepare(`INSERT INTO backup_jobs(
		job_id, config_id, status, backup_type, mode,
		started_at, completed_at, original_size, stored_size,
		files_count, changed_files_count, error, artifact_path,
		integrity_digest, created_at
	) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	_, err = stmt.Exec(
		job.ID, job.ConfigID, string(job.Status), job.BackupType, string(job.Mode),
		job.StartedAt, job.CompletedAt, job.OriginalSize, job.StoredSize,
		job.FilesCount, job.ChangedFilesCount, job.Error, job.ArtifactPath,
		job.IntegrityDigest, time.Now(),
	)
	return err
}

// GetBackupHistory returns the most recent jobs, pruning rows whose artifact
// no longer exists on disk.
func GetBackupHistory(db *sql.DB, limit int) ([]core.BackupJob, error) {
	if db == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := db.Query(`SELECT id, job_id, config_id, status, backup_type, mode,
		started_at, completed_at, original_size, stored_size,
		files_count, changed_files_count, error, artifact_path, integrity_digest
		FROM backup_jobs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type historyRow struct {
		rowID int
		job   core.BackupJob
	}

	var records []historyRow
	for rows.Next() {
		var r historyRow
		var status, mode string
		if err := rows.Scan(
			&r.rowID, &r.job.ID, &r.job.ConfigID, &status, &r.job.BackupType, &mode,
			&r.job.StartedAt, &r.job.CompletedAt, &r.job.OriginalSize, &r.job.StoredSize,
			&r.job.FilesCount, &r.job.ChangedFilesCount, &r.job.Error, &r.job.ArtifactPath,
			&r.job.IntegrityDigest,
		); err != nil {
			return nil, err
		}
		r.job.Status = core.BackupStatus(status)
		r.job.Mode = core.BackupMode(mode)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var valid []core.BackupJob
	var invalidIDs []int
	for _, r := range records {
		// 失败/取消的任务没有产物，保留记录
		if r.job.ArtifactPath == "" {
			valid = append(valid, r.job)
			continue
		}
		if _, err := os.Stat(r.job.ArtifactPath); err == nil {
			valid = append(valid, r.job)
		} else {
			invalidIDs = append(invalidIDs, r.rowID)
		}
	}

	// 清理产物已不存在的历史记录
	if len(invalidIDs) > 0 {
		placeholders := strings.Repeat("?,", len(invalidIDs)-1) + "?"
		query := fmt.Sprintf("DELETE FROM backup_jobs WHERE id IN (%s)", placeholders)
		args := make([]interface{}, len(invalidIDs))
		for i, id := range invalidIDs {
			args[i] = id
		}
		if _, err := db.Exec(query, args...); err != nil {
			log.Printf("Failed to prune stale history records: %v", err)
		}
	}

	return valid, nil
}
