package core

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
)

// TaskRunner fires configurations while a shell session is open: cron
// schedules run in-process, and a watched configuration reruns when its
// source tree changes. Background (app-closed) scheduling belongs to the
// launchd registrar; the runner only covers the app-open case.
//
// Each scheduled configuration gets one session goroutine fed through a
// capacity-1 trigger channel. Bursts of filesystem events collapse into a
// single pending trigger, and a trigger arriving while a backup runs simply
// queues the next one, so a configuration never runs twice concurrently and
// never piles up a backlog.

const defaultWatchDebounce = 500 * time.Millisecond

// TaskExecutor runs one backup for a configuration and returns the job.
type TaskExecutor func(ctx context.Context, cfg BackupConfig) (BackupJob, error)

type TaskRunner struct {
	mu       sync.Mutex
	execute  TaskExecutor
	cron     *cron.Cron
	sessions map[string]*configSession
	ctx      context.Context
	halt     context.CancelFunc
}

// configSession is the live state of one scheduled configuration. The
// trigger channel is buffered with capacity 1 and never closed, so firing
// from cron callbacks and watcher goroutines is always safe; shutdown goes
// through the stop channel instead.
type configSession struct {
	cfg      BackupConfig
	watch    bool
	debounce time.Duration

	entry   cron.EntryID
	watcher *fsnotify.Watcher

	trigger chan struct{}
	stop    chan struct{}
	done    chan struct{}
}

func NewTaskRunner(execute TaskExecutor) *TaskRunner {
	ctx, halt := context.WithCancel(context.Background())
	return &TaskRunner{
		execute:  execute,
		cron:     cron.New(),
		sessions: make(map[string]*configSession),
		ctx:      ctx,
		halt:     halt,
	}
}

func (tr *TaskRunner) Start() {
	tr.cron.Start()
}

// Stop tears down every session and waits for their loops to exit. A backup
// already inside the executor finishes under its own cancellation rules.
func (tr *TaskRunner) Stop() {
	tr.halt()
	tr.cron.Stop()

	tr.mu.Lock()
	sessions := make([]*configSession, 0, len(tr.sessions))
	for id, s := range tr.sessions {
		tr.teardownLocked(s)
		sessions = append(sessions, s)
		delete(tr.sessions, id)
	}
	tr.mu.Unlock()

	for _, s := range sessions {
		<-s.done
	}
}

// Schedule registers (or replaces) the in-process triggers for cfg. With
// watch set, source-tree changes also fire the configuration, filtered by
// cfg.Filters so edits under excluded paths stay silent. An encrypted
// configuration without a session passphrase is refused up front: it could
// never run unattended.
func (tr *TaskRunner) Schedule(cfg BackupConfig, watch bool, debounce time.Duration) error {
	if cfg.Mode == ModeEncrypted && cfg.EncryptionPassword == "" {
		return fmt.Errorf("%w: encrypted config %s cannot run without a passphrase", ErrPasswordRequired, cfg.ID)
	}
	if debounce <= 0 {
		debounce = defaultWatchDebounce
	}

	s := &configSession{
		cfg:      cfg,
		watch:    watch,
		debounce: debounce,
		trigger:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	if cfg.Schedule != nil && cfg.Schedule.CronExpression != "" {
		entry, err := tr.cron.AddFunc(cfg.Schedule.CronExpression, func() {
			s.fire()
		})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrScheduleInvalid, err)
		}
		s.entry = entry
	}

	if watch {
		if err := tr.attachWatcher(s); err != nil {
			if s.entry != 0 {
				tr.cron.Remove(s.entry)
			}
			return err
		}
	}

	tr.mu.Lock()
	if old, ok := tr.sessions[cfg.ID]; ok {
		tr.teardownLocked(old)
	}
	tr.sessions[cfg.ID] = s
	tr.mu.Unlock()

	go tr.sessionLoop(s)
	return nil
}

// Unschedule removes a configuration's triggers. Unknown ids are a no-op.
func (tr *TaskRunner) Unschedule(configID string) {
	tr.mu.Lock()
	s, ok := tr.sessions[configID]
	if ok {
		tr.teardownLocked(s)
		delete(tr.sessions, configID)
	}
	tr.mu.Unlock()
}

// RunNow fires a scheduled configuration immediately, coalescing with any
// pending trigger.
func (tr *TaskRunner) RunNow(configID string) {
	tr.mu.Lock()
	s, ok := tr.sessions[configID]
	tr.mu.Unlock()
	if ok {
		s.fire()
	}
}

// Active lists the configuration ids with live sessions.
func (tr *TaskRunner) Active() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	ids := make([]string, 0, len(tr.sessions))
	for id := range tr.sessions {
		ids = append(ids, id)
	}
	return ids
}

// fire requests a run. The capacity-1 buffer makes this idempotent while a
// trigger is already pending.
func (s *configSession) fire() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// teardownLocked detaches a session's triggers and signals its loop. Each
// session is torn down at most once: it leaves the map in the same critical
// section.
func (tr *TaskRunner) teardownLocked(s *configSession) {
	if s.entry != 0 {
		tr.cron.Remove(s.entry)
		s.entry = 0
	}
	if s.watcher != nil {
		_ = s.watcher.Close()
		s.watcher = nil
	}
	close(s.stop)
}

// sessionLoop owns one configuration: it waits for a trigger, lets watch
// bursts settle for the debounce window, then executes exactly one backup.
func (tr *TaskRunner) sessionLoop(s *configSession) {
	defer close(s.done)

	for {
		select {
		case <-tr.ctx.Done():
			return
		case <-s.stop:
			return
		case <-s.trigger:
		}

		// 静默期: 吸收同一批文件系统事件
		if s.watch {
			timer := time.NewTimer(s.debounce)
		settle:
			for {
				select {
				case <-tr.ctx.Done():
					timer.Stop()
					return
				case <-s.stop:
					timer.Stop()
					return
				case <-s.trigger:
					if !timer.Stop() {
						<-timer.C
					}
					timer.Reset(s.debounce)
				case <-timer.C:
					break settle
				}
			}
		}

		job, err := tr.execute(tr.ctx, s.cfg)
		if err != nil {
			log.Printf("Scheduled run of %s failed: %v", s.cfg.ID, err)
		} else {
			log.Printf("Scheduled run of %s completed: %d files, %d bytes stored", s.cfg.ID, job.FilesCount, job.StoredSize)
		}
	}
}

// attachWatcher wires fsnotify over the configuration's source tree,
// honoring its exclusion filters: excluded directories are never watched and
// events on excluded paths never trigger a run.
func (tr *TaskRunner) attachWatcher(s *configSession) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	if err := watchTreeFiltered(watcher, s.cfg.SourcePath, &s.cfg.Filters); err != nil {
		_ = watcher.Close()
		return err
	}
	s.watcher = watcher

	go func() {
		for {
			select {
			case <-tr.ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}

				info, statErr := os.Lstat(event.Name)
				if statErr == nil && !s.cfg.Filters.ShouldInclude(event.Name, info) {
					continue
				}
				// 新目录动态纳入监视范围
				if event.Op&fsnotify.Create != 0 && statErr == nil && info.IsDir() {
					_ = watchTreeFiltered(watcher, event.Name, &s.cfg.Filters)
				}

				s.fire()
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
				// Watch errors are not fatal; cron and RunNow still work.
			}
		}
	}()

	return nil
}

// watchTreeFiltered adds root and its non-excluded subdirectories to the
// watcher.
func watchTreeFiltered(w *fsnotify.Watcher, root string, filters *FilterConfig) error {
	info, err := os.Lstat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return w.Add(filepath.Dir(root))
	}

	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			log.Printf("Warn: not watching unreadable entry %s: %v", path, err)
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if path != root && !filters.ShouldInclude(path, info) {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
