// app.go
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go-backup-engine/core"
)

// App is the engine facade a shell talks to: it owns the app-data directory,
// the job history, the operation registry and the in-process task runner,
// and sequences manifest lifecycle around the core orchestrators.
type App struct {
	dataDir    string
	db         *sql.DB
	store      *ConfigStore
	registry   *core.OperationRegistry
	emitter    core.Emitter
	taskRunner *core.TaskRunner
}

// DefaultDataDir resolves the engine's per-user app-data directory.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".gobackup"), nil
}

func NewApp(dataDir string, emitter core.Emitter) (*App, error) {
	if dataDir == "" {
		var err error
		dataDir, err = DefaultDataDir()
		if err != nil {
			return nil, err
		}
	}

	db, err := InitializeDatabase(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	store := NewConfigStore(dataDir)
	if err := store.Load(); err != nil {
		db.Close()
		return nil, err
	}

	a := &App{
		dataDir:  dataDir,
		db:       db,
		store:    store,
		registry: core.NewOperationRegistry(),
		emitter:  emitter,
	}
	a.taskRunner = core.NewTaskRunner(func(ctx context.Context, cfg core.BackupConfig) (core.BackupJob, error) {
		return a.RunBackupNow(cfg.ID, cfg.EncryptionPassword)
	})
	return a, nil
}

func (a *App) Close() {
	if a.taskRunner != nil {
		a.taskRunner.Stop()
	}
	if a.db != nil {
		a.db.Close()
	}
}

func (a *App) DataDir() string {
	return a.dataDir
}

func (a *App) ReloadConfigs() error {
	return a.store.Load()
}

func (a *App) GetConfig(configID string) (core.BackupConfig, error) {
	return a.store.Get(configID)
}

// --- Backup ---

// RunBackupNow executes one backup for the given configuration. A second
// call for the same config while one is running is refused by the registry.
func (a *App) RunBackupNow(configID, password string) (core.BackupJob, error) {
	cfg, err := a.store.Get(configID)
	if err != nil {
		return core.BackupJob{}, err
	}

	flag, err := a.registry.Register(cfg.ID)
	if err != nil {
		return core.BackupJob{}, err
	}
	defer a.registry.Remove(cfg.ID)

	// 增量备份前先做物理校验: 清单描述的产物不存在时删除清单并退化为全量
	var prior *core.BackupManifest
	if cfg.BackupType == core.BackupTypeIncremental {
		prior, err = core.LoadManifest(a.dataDir, cfg.ID)
		if err != nil {
			log.Printf("Warning: could not load manifest for %s, forcing full backup: %v", cfg.ID, err)
			prior = nil
		}
		if prior != nil && !core.VerifyPhysicalBackup(cfg.DestinationPath, cfg.Mode, prior) {
			log.Printf("Previous artifact for %s failed physical verification; discarding manifest", cfg.ID)
			if err := core.DeleteManifest(a.dataDir, cfg.ID); err != nil {
				log.Printf("Warning: could not delete stale manifest for %s: %v", cfg.ID, err)
			}
			prior = nil
		}
	}

	manager := core.NewBackupManager(a.emitter)
	job, runErr := manager.RunBackup(cfg, prior, password, flag)

	// 历史记录尽力而为，不影响备份结果
	if job.ID != "" {
		if err := AddBackupRecord(a.db, job); err != nil {
			log.Printf("Failed to save backup record: %v", err)
		}
	}

	if runErr != nil {
		return job, runErr
	}

	// Manifest writeback is deferred so the completion event fires promptly;
	// the artifact is already safe and self-describing. Failures here are
	// logged, never fatal: the next full walk rebuilds the manifest.
	go a.writeManifestAfterBackup(cfg)

	return job, nil
}

func (a *App) writeManifestAfterBackup(cfg core.BackupConfig) {
	manager := core.NewBackupManager(nil)
	manager.DisableEvents()

	allFiles, _, err := manager.ScanSourceFiles(cfg.SourcePath, cfg.Filters)
	if err != nil {
		log.Printf("Failed to rescan source for manifest of %s: %v", cfg.ID, err)
		return
	}
	manifest, err := core.BuildManifest(cfg.ID, allFiles, cfg.SourcePath)
	if err != nil {
		log.Printf("Failed to build manifest for %s: %v", cfg.ID, err)
		return
	}
	if err := core.SaveManifest(a.dataDir, manifest); err != nil {
		log.Printf("Failed to save manifest for %s: %v", cfg.ID, err)
	}
}

// CancelBackup flips the cancel flag of a running backup and reports whether
// one was found.
func (a *App) CancelBackup(configID string) bool {
	return a.registry.Cancel(configID)
}

// --- Restore ---

func (a *App) RunRestore(artifactPath, destination, expectedDigest, password string) (core.RestoreResult, error) {
	key := core.RestoreOperationKey(artifactPath)
	flag, err := a.registry.Register(key)
	if err != nil {
		return core.RestoreResult{}, err
	}
	defer a.registry.Remove(key)

	manager := core.NewBackupManager(a.emitter)
	return manager.RunRestore(artifactPath, destination, expectedDigest, password, flag)
}

func (a *App) CancelRestore(artifactPath string) bool {
	return a.registry.Cancel(core.RestoreOperationKey(artifactPath))
}

// --- Artifact listing ---

// ListAvailableBackups enumerates restorable artifacts in a destination,
// newest first.
func (a *App) ListAvailableBackups(destination string) ([]core.BackupInfo, error) {
	entries, err := os.ReadDir(destination)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read destination directory: %w", err)
	}

	var backups []core.BackupInfo
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "Bkp_") {
			continue
		}
		if !entry.IsDir() && !strings.HasSuffix(name, ".tar.zst") && !strings.HasSuffix(name, ".tar.zst.enc") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		backups = append(backups, core.BackupInfo{
			FileName:  name,
			Path:      filepath.Join(destination, name),
			Size:      info.Size(),
			IsDir:     entry.IsDir(),
			CreatedAt: info.ModTime().Unix(),
		})
	}

	sort.Slice(backups, func(i, j int) bool { return backups[i].CreatedAt > backups[j].CreatedAt })
	return backups, nil
}

// --- Scheduling ---

// EnableSchedule installs the OS job for a configuration's recurrence.
func (a *App) EnableSchedule(configID string) error {
	cfg, err := a.store.Get(configID)
	if err != nil {
		return err
	}
	if cfg.Schedule == nil || cfg.Schedule.CronExpression == "" {
		return fmt.Errorf("%w: config %s has no schedule", core.ErrScheduleInvalid, configID)
	}

	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to resolve executable path: %w", err)
	}
	return core.InstallLaunchAgent(cfg.ID, cfg.Name, cfg.Schedule.CronExpression, exePath)
}

// DisableSchedule removes the OS job for a configuration. Missing jobs are a
// no-op.
func (a *App) DisableSchedule(configID string) error {
	return core.UninstallLaunchAgent(configID)
}

func (a *App) IsScheduleActive(configID string) bool {
	return core.IsAgentLoaded(configID)
}

// ReconcileSchedules aligns the OS job runner with the configuration store:
// every enabled schedule is (re)installed, and for every other configuration
// in the store a leftover descriptor is removed. Only configurations present
// in configs.json are visited; descriptors whose configuration is no longer
// in the store are left in place. Called on shell startup.
func (a *App) ReconcileSchedules() {
	for _, cfg := range a.store.All() {
		if cfg.Schedule != nil && cfg.Schedule.Enabled {
			if err := a.EnableSchedule(cfg.ID); err != nil {
				log.Printf("Failed to restore schedule for %s: %v", cfg.ID, err)
			}
		} else if core.IsAgentInstalled(cfg.ID) {
			if err := a.DisableSchedule(cfg.ID); err != nil {
				log.Printf("Failed to remove stale schedule for %s: %v", cfg.ID, err)
			}
		}
	}
}

// --- In-process task runner (shell sessions) ---

func (a *App) StartTaskRunner() {
	for _, cfg := range a.store.All() {
		if cfg.Schedule == nil || !cfg.Schedule.Enabled {
			continue
		}
		if err := a.taskRunner.Schedule(cfg, false, 0); err != nil {
			log.Printf("Warning: could not register in-process schedule for %s: %v", cfg.ID, err)
		}
	}
	a.taskRunner.Start()
}

func (a *App) TaskRunner() *core.TaskRunner {
	return a.taskRunner
}

// --- History ---

func (a *App) BackupHistory(limit int) ([]core.BackupJob, error) {
	return GetBackupHistory(a.db, limit)
}

// IsCancelledError lets shells distinguish user cancellation from failure.
func IsCancelledError(err error) bool {
	return errors.Is(err, core.ErrCancelled)
}
