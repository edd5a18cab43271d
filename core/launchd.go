// core/launchd.go
package core

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
)

// macOS launchd integration for background backup scheduling. One .plist
// per configuration lives in ~/Library/LaunchAgents; the triggered program
// is invoked as `<exe> --backup <config_id>` with stdout/stderr redirected
// to per-configuration log files.

const (
	agentLabelPrefix = "com.gobackup.backup."
	scheduleLogDir   = "Library/Logs/go-backup-engine"
)

func launchAgentsDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, "Library", "LaunchAgents"), nil
}

// PlistPath returns the descriptor path for a configuration.
func PlistPath(configID string) (string, error) {
	dir, err := launchAgentsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, agentLabel(configID)+".plist"), nil
}

func agentLabel(configID string) string {
	return agentLabelPrefix + configID
}

func scheduleLogPaths(configID string) (string, string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("failed to get home directory: %w", err)
	}
	dir := filepath.Join(home, filepath.FromSlash(scheduleLogDir))
	base := filepath.Join(dir, "scheduled-"+configID)
	return base + ".log", base + ".err", nil
}

type calendarInterval struct {
	minute  *int
	hour    *int
	day     *int
	month   *int
	weekday *int
}

func (ci calendarInterval) appendXML(b *strings.Builder, indent string) {
	writeKey := func(key string, v *int) {
		if v == nil {
			return
		}
		fmt.Fprintf(b, "%s  <key>%s</key>\n", indent, key)
		fmt.Fprintf(b, "%s  <integer>%d</integer>\n", indent, *v)
	}
	b.WriteString(indent + "<dict>\n")
	writeKey("Minute", ci.minute)
	writeKey("Hour", ci.hour)
	writeKey("Day", ci.day)
	writeKey("Month", ci.month)
	writeKey("Weekday", ci.weekday)
	b.WriteString(indent + "</dict>\n")
}

// parseCronField parses one field of the five-field calendar form: "*", a
// comma-separated list, an inclusive range "a-b", or a single integer. "*"
// returns nil (meaning: omit the key from the trigger).
func parseCronField(field string, min, max int) ([]int, error) {
	if field == "*" {
		return nil, nil
	}

	if strings.Contains(field, ",") {
		var values []int
		for _, part := range strings.Split(field, ",") {
			vs, err := parseCronField(part, min, max)
			if err != nil {
				return nil, err
			}
			values = append(values, vs...)
		}
		return values, nil
	}

	if strings.Contains(field, "-") {
		parts := strings.SplitN(field, "-", 2)
		start, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, fmt.Errorf("%w: invalid range start %q", ErrScheduleInvalid, parts[0])
		}
		end, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("%w: invalid range end %q", ErrScheduleInvalid, parts[1])
		}
		if start < min || end > max || start > end {
			return nil, fmt.Errorf("%w: range %d-%d out of bounds %d-%d", ErrScheduleInvalid, start, end, min, max)
		}
		values := make([]int, 0, end-start+1)
		for v := start; v <= end; v++ {
			values = append(values, v)
		}
		return values, nil
	}

	v, err := strconv.Atoi(field)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid value %q", ErrScheduleInvalid, field)
	}
	if v < min || v > max {
		return nil, fmt.Errorf("%w: value %d out of range %d-%d", ErrScheduleInvalid, v, min, max)
	}
	return []int{v}, nil
}

// parseCronToCalendarIntervals translates a recurrence expression into
// launchd StartCalendarInterval records. The full minute×hour cross product
// becomes separate triggers; day/month/weekday lists contribute their first
// value after range expansion.
func parseCronToCalendarIntervals(cronExpr string) ([]calendarInterval, error) {
	// robfig/cron 先做一次完整语法校验，保证错误表达式不会写出任何描述文件
	if _, err := cron.ParseStandard(cronExpr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScheduleInvalid, err)
	}

	parts := strings.Fields(cronExpr)
	if len(parts) != 5 {
		return nil, fmt.Errorf("%w: expected 5 fields, got %d", ErrScheduleInvalid, len(parts))
	}

	minutes, err := parseCronField(parts[0], 0, 59)
	if err != nil {
		return nil, err
	}
	hours, err := parseCronField(parts[1], 0, 23)
	if err != nil {
		return nil, err
	}
	days, err := parseCronField(parts[2], 1, 31)
	if err != nil {
		return nil, err
	}
	months, err := parseCronField(parts[3], 1, 12)
	if err != nil {
		return nil, err
	}
	weekdays, err := parseCronField(parts[4], 0, 6)
	if err != nil {
		return nil, err
	}

	if len(minutes) == 0 || len(hours) == 0 {
		return nil, fmt.Errorf("%w: minute and hour must be concrete values", ErrScheduleInvalid)
	}

	intervals := make([]calendarInterval, 0, len(minutes)*len(hours))
	for _, h := range hours {
		for _, m := range minutes {
			mCopy, hCopy := m, h
			ci := calendarInterval{minute: &mCopy, hour: &hCopy}
			if len(days) > 0 {
				d := days[0]
				ci.day = &d
			}
			if len(months) > 0 {
				mo := months[0]
				ci.month = &mo
			}
			if len(weekdays) > 0 {
				w := weekdays[0]
				ci.weekday = &w
			}
			intervals = append(intervals, ci)
		}
	}
	return intervals, nil
}

// GeneratePlistContent renders the launchd descriptor for one schedule.
func GeneratePlistContent(configID, cronExpr, executablePath string) (string, error) {
	intervals, err := parseCronToCalendarIntervals(cronExpr)
	if err != nil {
		return "", err
	}
	stdoutLog, stderrLog, err := scheduleLogPaths(configID)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
  <key>Label</key>
  <string>` + agentLabel(configID) + `</string>

  <key>ProgramArguments</key>
  <array>
    <string>` + executablePath + `</string>
    <string>--backup</string>
    <string>` + configID + `</string>
  </array>

  <key>StartCalendarInterval</key>
`)

	if len(intervals) == 1 {
		intervals[0].appendXML(&b, "  ")
	} else {
		b.WriteString("  <array>\n")
		for _, ci := range intervals {
			ci.appendXML(&b, "    ")
		}
		b.WriteString("  </array>\n")
	}

	b.WriteString(`
  <key>RunAtLoad</key>
  <false/>

  <key>StandardOutPath</key>
  <string>` + stdoutLog + `</string>

  <key>StandardErrorPath</key>
  <string>` + stderrLog + `</string>
</dict>
</plist>
`)
	return b.String(), nil
}

// InstallLaunchAgent writes and loads the descriptor for a schedule. Install
// is idempotent: an already-loaded job is unloaded and replaced. After
// writing, the descriptor is read back and the job queried from launchd; any
// discrepancy is a fatal install error.
func InstallLaunchAgent(configID, displayName, cronExpr, executablePath string) error {
	content, err := GeneratePlistContent(configID, cronExpr, executablePath)
	if err != nil {
		return err
	}

	dir, err := launchAgentsDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create LaunchAgents directory: %w", err)
	}

	stdoutLog, _, err := scheduleLogPaths(configID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(stdoutLog), 0755); err != nil {
		return fmt.Errorf("failed to create schedule log directory: %w", err)
	}

	plistPath, err := PlistPath(configID)
	if err != nil {
		return err
	}

	// 重复安装: 先卸载旧任务再替换
	if IsAgentLoaded(configID) {
		if out, err := exec.Command("launchctl", "unload", plistPath).CombinedOutput(); err != nil {
			log.Printf("Warn: could not unload existing agent %s: %v (%s)", agentLabel(configID), err, strings.TrimSpace(string(out)))
		}
	}

	if err := os.WriteFile(plistPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write plist file: %w", err)
	}

	if out, err := exec.Command("launchctl", "load", plistPath).CombinedOutput(); err != nil {
		stderr := string(out)
		if !strings.Contains(stderr, "already loaded") {
			return fmt.Errorf("failed to load launch agent %s: %s", agentLabel(configID), strings.TrimSpace(stderr))
		}
	}

	// 安装后验证: 文件存在、内容一致、launchd 已加载
	written, err := os.ReadFile(plistPath)
	if err != nil {
		return fmt.Errorf("schedule descriptor missing after install: %w", err)
	}
	if !bytes.Equal(written, []byte(content)) {
		return fmt.Errorf("schedule descriptor content mismatch after install for %s", configID)
	}
	if !IsAgentLoaded(configID) {
		return fmt.Errorf("launchd does not report agent %s as loaded", agentLabel(configID))
	}

	log.Printf("Installed launch agent %s (%s) with schedule %q", agentLabel(configID), displayName, cronExpr)
	return nil
}

// UninstallLaunchAgent unloads the job and removes the descriptor. Both
// "not loaded" and "no descriptor" are success no-ops.
func UninstallLaunchAgent(configID string) error {
	plistPath, err := PlistPath(configID)
	if err != nil {
		return err
	}

	if out, err := exec.Command("launchctl", "unload", plistPath).CombinedOutput(); err != nil {
		stderr := strings.TrimSpace(string(out))
		if !strings.Contains(stderr, "Could not find specified service") && stderr != "" {
			log.Printf("Warn: failed to unload launch agent %s: %s", agentLabel(configID), stderr)
		}
	}

	if err := os.Remove(plistPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete plist file: %w", err)
	}

	log.Printf("Uninstalled launch agent %s", agentLabel(configID))
	return nil
}

// IsAgentLoaded queries launchd for the job label.
func IsAgentLoaded(configID string) bool {
	err := exec.Command("launchctl", "list", agentLabel(configID)).Run()
	return err == nil
}

// IsAgentInstalled reports whether a descriptor file exists, regardless of
// load state.
func IsAgentInstalled(configID string) bool {
	plistPath, err := PlistPath(configID)
	if err != nil {
		return false
	}
	_, err = os.Stat(plistPath)
	return err == nil
}
