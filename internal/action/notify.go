package action

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"

	logx "dayloop/pkg/logx"

	"github.com/godbus/dbus/v5"
)

// Notification is a short desktop-visible message.
type Notification struct {
	Title  string
	Body   string
	Footer string
}

func (n Notification) text() string {
	if n.Footer == "" {
		return n.Body
	}
	return n.Body + "\n" + n.Footer
}

// Notifier raises a desktop notification.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Backend names accepted by NewDesktopNotifier.
const (
	BackendAuto      = "auto"
	BackendDBus      = "dbus"
	BackendOSAScript = "osascript"
	BackendLog       = "log"
)

// NewDesktopNotifier picks a notification backend. "auto" uses D-Bus when a
// session bus address is present, osascript on macOS and the log
// otherwise.
func NewDesktopNotifier(backend, appName string, log logx.Logger) (Notifier, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch b := strings.ToLower(strings.TrimSpace(backend)); b {
	case "", BackendAuto:
		return autoNotifier(runtime.GOOS, os.Getenv("DBUS_SESSION_BUS_ADDRESS"), appName, log), nil
	case BackendDBus:
		return NewDBusNotifier(appName), nil
	case BackendOSAScript:
		return NewOSAScriptNotifier(), nil
	case BackendLog:
		return NewLogNotifier(log), nil
	default:
		return nil, fmt.Errorf("unknown notify backend %q (use auto, dbus, osascript or log)", backend)
	}
}

func autoNotifier(goos, busAddr, appName string, log logx.Logger) Notifier {
	switch {
	case goos == "darwin":
		return NewOSAScriptNotifier()
	case busAddr != "":
		return NewDBusNotifier(appName)
	default:
		return NewLogNotifier(log)
	}
}

// DBusNotifier calls org.freedesktop.Notifications.Notify on the session bus.
type DBusNotifier struct {
	appName string

	mu   sync.Mutex
	conn *dbus.Conn
}

func NewDBusNotifier(appName string) *DBusNotifier {
	return &DBusNotifier{appName: appName}
}

func (d *DBusNotifier) session() (*dbus.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn != nil && d.conn.Connected() {
		return d.conn, nil
	}
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("dbus session bus: %w", err)
	}
	d.conn = conn
	return conn, nil
}

func (d *DBusNotifier) Notify(ctx context.Context, n Notification) error {
	conn, err := d.session()
	if err != nil {
		return err
	}
	obj := conn.Object("org.freedesktop.Notifications", "/org/freedesktop/Notifications")
	call := obj.CallWithContext(ctx, "org.freedesktop.Notifications.Notify", 0,
		d.appName,
		uint32(0),
		"",
		n.Title,
		n.text(),
		[]string{},
		map[string]dbus.Variant{},
		int32(-1),
	)
	if call.Err != nil {
		return fmt.Errorf("dbus notify: %w", call.Err)
	}
	return nil
}

// OSAScriptNotifier uses "display notification" through osascript (macOS).
type OSAScriptNotifier struct {
	path string
}

func NewOSAScriptNotifier() *OSAScriptNotifier {
	return &OSAScriptNotifier{path: "/usr/bin/osascript"}
}

func (o *OSAScriptNotifier) Notify(ctx context.Context, n Notification) error {
	cmd := exec.CommandContext(ctx, o.path, "-e", appleScript(n))
	if out, err := cmd.CombinedOutput(); err != nil {
		msg := strings.TrimSpace(string(out))
		if msg != "" {
			return fmt.Errorf("osascript: %w: %s", err, msg)
		}
		return fmt.Errorf("osascript: %w", err)
	}
	return nil
}

func appleScript(n Notification) string {
	script := fmt.Sprintf(`display notification "%s" with title "%s"`,
		escapeAppleScript(truncate(n.Body, 140)), escapeAppleScript(n.Title))
	if n.Footer != "" {
		script += fmt.Sprintf(` subtitle "%s"`, escapeAppleScript(n.Footer))
	}
	return script
}

func escapeAppleScript(text string) string {
	text = strings.ReplaceAll(text, "\\", "\\\\")
	text = strings.ReplaceAll(text, "\"", "\\\"")
	text = strings.ReplaceAll(text, "\n", " ")
	text = strings.ReplaceAll(text, "\r", " ")
	return text
}

func truncate(text string, max int) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= max {
		return string(runes)
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}

// LogNotifier writes notifications to the log. Used headless.
type LogNotifier struct {
	log logx.Logger
}

func NewLogNotifier(log logx.Logger) *LogNotifier { return &LogNotifier{log: log} }

func (l *LogNotifier) Notify(_ context.Context, n Notification) error {
	l.log.Info(n.Title, logx.String("body", n.Body), logx.String("footer", n.Footer))
	return nil
}
