// main.go
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go-backup-engine/core"
)

func main() {
	log.SetFlags(log.LstdFlags)

	args := os.Args
	// Scheduled mode: launchd invokes `<exe> --backup <config_id>`. This
	// path never touches the scheduler subsystem.
	if len(args) >= 3 && args[1] == "--backup" {
		os.Exit(runScheduledBackup(args[2]))
	}

	runShell()
}

// runScheduledBackup executes one backup for the given config id and exits
// 0 on success, 1 on failure.
func runScheduledBackup(configID string) int {
	log.Printf("Running in scheduled mode for config: %s", configID)

	app, err := NewApp("", nil)
	if err != nil {
		log.Printf("Failed to initialize engine: %v", err)
		return 1
	}
	defer app.Close()

	cfg, err := app.GetConfig(configID)
	if err != nil {
		log.Printf("Config not found: %v", err)
		Notify("Backup Failed", fmt.Sprintf("Unknown configuration: %s", configID))
		return 1
	}

	Notify("Backup Started", fmt.Sprintf("Starting backup: %s", cfg.Name))

	// Scheduled runs carry no passphrase: encrypted configs cannot run
	// unattended and fail with ErrPasswordRequired.
	job, err := app.RunBackupNow(configID, "")
	if err != nil {
		log.Printf("Scheduled backup failed: %v", err)
		Notify("Backup Failed", fmt.Sprintf("%s: %v", cfg.Name, err))
		return 1
	}

	sizeMB := float64(job.StoredSize) / 1048576.0
	log.Printf("Scheduled backup completed: %d files, %.1f MB", job.FilesCount, sizeMB)
	Notify("Backup Completed", fmt.Sprintf("%s: %d files backed up (%.1f MB)", cfg.Name, job.FilesCount, sizeMB))
	return 0
}

// runShell is the app-open mode: schedules are reconciled with the OS job
// runner, the in-process task runner starts, and engine events stream to
// whatever shell is attached.
func runShell() {
	emitter := core.NewChannelEmitter(256)

	app, err := NewApp("", emitter)
	if err != nil {
		log.Fatalf("Failed to initialize engine: %v", err)
	}
	defer app.Close()

	app.ReconcileSchedules()
	app.StartTaskRunner()

	// 没有附加 GUI 时把事件落到日志
	go func() {
		for ev := range emitter.Events() {
			if ev.Name == "log_message" {
				log.Printf("%v", ev.Payload)
			}
		}
	}()

	log.Printf("Engine ready (data dir: %s); waiting for signals", app.DataDir())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Println("Shutting down")
}
