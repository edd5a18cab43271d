package core

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTaskRunnerRunNowExecutes(t *testing.T) {
	ran := make(chan BackupConfig, 4)
	tr := NewTaskRunner(func(ctx context.Context, cfg BackupConfig) (BackupJob, error) {
		ran <- cfg
		return BackupJob{FilesCount: 1}, nil
	})
	defer tr.Stop()
	tr.Start()

	cfg := BackupConfig{ID: "cfg-run", SourcePath: t.TempDir(), Mode: ModeCopy}
	require.NoError(t, tr.Schedule(cfg, false, 0))
	require.Equal(t, []string{"cfg-run"}, tr.Active())

	tr.RunNow("cfg-run")

	select {
	case got := <-ran:
		require.Equal(t, "cfg-run", got.ID)
	case <-time.After(3 * time.Second):
		t.Fatal("executor was not invoked")
	}
}

func TestTaskRunnerWatchTriggersOnChange(t *testing.T) {
	src := t.TempDir()
	writeSourceTree(t, src, map[string]string{"seed.txt": "seed"})

	var runs atomic.Int32
	done := make(chan struct{}, 4)
	tr := NewTaskRunner(func(ctx context.Context, cfg BackupConfig) (BackupJob, error) {
		runs.Add(1)
		done <- struct{}{}
		return BackupJob{}, nil
	})
	defer tr.Stop()
	tr.Start()

	cfg := BackupConfig{ID: "cfg-watch", SourcePath: src, Mode: ModeCompressed}
	require.NoError(t, tr.Schedule(cfg, true, 50*time.Millisecond))

	// A burst of writes is coalesced by the debounce window; the check below
	// tolerates at most one stray extra run.
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(src, "churn.txt"), []byte{byte(i)}, 0644))
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not trigger a run")
	}

	// Give a possible stray second run time to appear, then check coalescing
	// kept the count low.
	time.Sleep(200 * time.Millisecond)
	require.LessOrEqual(t, runs.Load(), int32(2))
}

func TestTaskRunnerWatchHonorsFilters(t *testing.T) {
	src := t.TempDir()
	writeSourceTree(t, src, map[string]string{"kept/seed.txt": "s"})

	ran := make(chan struct{}, 4)
	tr := NewTaskRunner(func(ctx context.Context, cfg BackupConfig) (BackupJob, error) {
		ran <- struct{}{}
		return BackupJob{}, nil
	})
	defer tr.Stop()
	tr.Start()

	cfg := BackupConfig{
		ID:         "cfg-filtered",
		SourcePath: src,
		Mode:       ModeCompressed,
		Filters:    FilterConfig{ExcludeNames: []string{"*.tmp"}},
	}
	require.NoError(t, tr.Schedule(cfg, true, 50*time.Millisecond))

	// Excluded files never fire the configuration.
	require.NoError(t, os.WriteFile(filepath.Join(src, "kept", "noise.tmp"), []byte("x"), 0644))
	select {
	case <-ran:
		t.Fatal("excluded file triggered a run")
	case <-time.After(400 * time.Millisecond):
	}

	// Included files do.
	require.NoError(t, os.WriteFile(filepath.Join(src, "kept", "real.txt"), []byte("y"), 0644))
	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("included file did not trigger a run")
	}
}

func TestTaskRunnerRefusesUnattendedEncrypted(t *testing.T) {
	tr := NewTaskRunner(func(ctx context.Context, cfg BackupConfig) (BackupJob, error) {
		return BackupJob{}, nil
	})
	defer tr.Stop()

	cfg := BackupConfig{ID: "cfg-enc", SourcePath: t.TempDir(), Mode: ModeEncrypted}
	err := tr.Schedule(cfg, false, 0)
	require.ErrorIs(t, err, ErrPasswordRequired)
	require.Empty(t, tr.Active())
}

func TestTaskRunnerRejectsBadCron(t *testing.T) {
	tr := NewTaskRunner(func(ctx context.Context, cfg BackupConfig) (BackupJob, error) {
		return BackupJob{}, nil
	})
	defer tr.Stop()

	cfg := BackupConfig{
		ID:         "cfg-bad",
		SourcePath: t.TempDir(),
		Mode:       ModeCopy,
		Schedule:   &ScheduleConfig{CronExpression: "not a schedule", Enabled: true},
	}
	err := tr.Schedule(cfg, false, 0)
	require.ErrorIs(t, err, ErrScheduleInvalid)
}

func TestTaskRunnerUnscheduleUnknownIsNoOp(t *testing.T) {
	tr := NewTaskRunner(func(ctx context.Context, cfg BackupConfig) (BackupJob, error) {
		return BackupJob{}, nil
	})
	defer tr.Stop()
	tr.Unschedule("never-scheduled")
}

func TestTaskRunnerScheduleReplaces(t *testing.T) {
	tr := NewTaskRunner(func(ctx context.Context, cfg BackupConfig) (BackupJob, error) {
		return BackupJob{}, nil
	})
	defer tr.Stop()
	tr.Start()

	cfg := BackupConfig{ID: "cfg-dup", SourcePath: t.TempDir(), Mode: ModeCopy}
	require.NoError(t, tr.Schedule(cfg, false, 0))
	require.NoError(t, tr.Schedule(cfg, false, 0))
	require.Equal(t, []string{"cfg-dup"}, tr.Active())

	tr.Unschedule("cfg-dup")
	require.Empty(t, tr.Active())
}
