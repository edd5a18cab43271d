// notify.go
package main

import (
	"log"
	"os/exec"
	"runtime"
	"strings"
)

// Notify shows a system notification by spawning the platform notifier. Used
// by scheduled CLI runs so the user sees start/end even with no shell open.
// Failures are logged and ignored: notifications are never load-bearing.
//
// Platform support:
//   - macOS: osascript "display notification"
//   - Linux: notify-send
//   - Windows: PowerShell balloon via System.Windows.Forms
func Notify(title, body string) {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		script := `display notification "` + escapeAppleScript(body) + `" with title "` + escapeAppleScript(title) + `"`
		cmd = exec.Command("osascript", "-e", script)
	case "linux":
		cmd = exec.Command("notify-send", title, body)
	case "windows":
		escapedTitle := strings.ReplaceAll(title, `"`, "`\"")
		escapedBody := strings.ReplaceAll(body, `"`, "`\"")
		cmd = exec.Command("powershell",
			"-WindowStyle", "Hidden",
			"-NoProfile",
			"-Command",
			`Add-Type -AssemblyName System.Windows.Forms; `+
				`$n = New-Object System.Windows.Forms.NotifyIcon; `+
				`$n.Icon = [System.Drawing.SystemIcons]::Information; `+
				`$n.Visible = $true; `+
				`$n.ShowBalloonTip(5000, "`+escapedTitle+`", "`+escapedBody+`", [System.Windows.Forms.ToolTipIcon]::Info)`,
		)
	default:
		log.Printf("NOTIFY [%s]: %s", title, body)
		return
	}

	// Start, don't Run: the notification must not block or outlive-block the
	// backup process.
	if err := cmd.Start(); err != nil {
		log.Printf("Failed to send notification: %v", err)
	}
}

func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}
