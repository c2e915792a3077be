package notify

import (
	"os/exec"
	"runtime"
	"strconv"

	"tunnelctl/pkg/logging"
)

const subsystem = "Notify"

// Sink delivers a user-facing alert. The core only decides whether and how
// often to call it.
type Sink interface {
	Notify(title, body string, isError bool)
}

// DesktopSink delivers notifications through the platform's native mechanism
// (notify-send on Linux, osascript on macOS). Delivery is best effort; a
// missing helper binary is logged once per call and otherwise ignored.
type DesktopSink struct{}

// Notify implements Sink.
func (DesktopSink) Notify(title, body string, isError bool) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		script := "display notification " + strconv.Quote(body) + " with title " + strconv.Quote(title)
		cmd = exec.Command("osascript", "-e", script)
	default:
		urgency := "normal"
		if isError {
			urgency = "critical"
		}
		cmd = exec.Command("notify-send", "--urgency", urgency, title, body)
	}
	if err := cmd.Run(); err != nil {
		logging.Debug(subsystem, "Could not deliver desktop notification %q: %v", title, err)
	}
}

// LogSink writes notifications to the log instead of the desktop, for
// headless environments.
type LogSink struct{}

// Notify implements Sink.
func (LogSink) Notify(title, body string, isError bool) {
	if isError {
		logging.Warn(subsystem, "%s: %s", title, body)
		return
	}
	logging.Info(subsystem, "%s: %s", title, body)
}
