package notify

import (
	"fmt"
	"os/exec"
	"runtime"
)

// DesktopNotifier pops a native notification with the batch digest
type DesktopNotifier struct {
	goos string
}

// NewDesktopNotifier targets the running platform
func NewDesktopNotifier() *DesktopNotifier {
	return &DesktopNotifier{goos: runtime.GOOS}
}

// Send shows n; platforms without a notifier are skipped
func (d *DesktopNotifier) Send(n Notification) error {
	args := desktopCommand(d.goos, n)
	if args == nil {
		return nil
	}
	return exec.Command(args[0], args[1:]...).Run()
}

// desktopCommand returns the argv that shows n on goos, or nil
func desktopCommand(goos string, n Notification) []string {
	title := n.Title
	if n.Ref != "" {
		title += " [" + n.Ref + "]"
	}
	switch goos {
	case "darwin":
		return []string{"osascript", "-e", fmt.Sprintf("display notification %q with title %q", n.Message, title)}
	case "linux":
		return []string{"notify-send", "--icon", iconForType(n.Type), title, n.Message}
	default:
		return nil
	}
}

func iconForType(t NotificationType) string {
	switch t {
	case NotifySuccess:
		return "dialog-positive"
	case NotifyWarning:
		return "dialog-warning"
	case NotifyError:
		return "dialog-error"
	default:
		return "dialog-information"
	}
}
