// Package dbussrc monitors the session and system D-Bus for the signals
// hammockd correlates into application lifecycle and suspend/resume
// events: desktop launches via org.gtk.gio.DesktopAppInfo, and sleep
// preparation via logind.
package dbussrc

import (
	"strings"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/hammock-linux/hammockd/internal/errors"
	"github.com/hammock-linux/hammockd/internal/events"
	"github.com/hammock-linux/hammockd/internal/logging"
)

const (
	launchInterface = "org.gtk.gio.DesktopAppInfo"
	launchMember    = "Launched"
)

// LaunchMonitor watches the session bus for GDesktopAppInfo "Launched"
// signals, the freedesktop convention GTK/GLib applications use to
// announce a new process. It tries org.freedesktop.DBus.Monitoring's
// BecomeMonitor first (sees every matching message regardless of
// destination) and falls back to a plain eavesdropping match rule on buses
// that don't implement the monitoring interface (e.g. some embedded
// dbus-broker configurations).
type LaunchMonitor struct {
	conn *dbus.Conn
	bus  *events.Bus
	log  *logging.Logger

	signals chan *dbus.Signal
	stopCh  chan struct{}
}

// NewLaunchMonitor connects to the session bus and installs the Launched
// match rule. Failure to connect to the session bus is a StartupError;
// hammockd cannot correlate launches to applications without it.
func NewLaunchMonitor(bus *events.Bus, log *logging.Logger) (*LaunchMonitor, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, errors.NewStartupError("dbus", "connect to session bus", err)
	}

	m := &LaunchMonitor{
		conn:    conn,
		bus:     bus,
		log:     log.WithComponent("dbus.launch"),
		signals: make(chan *dbus.Signal, 64),
		stopCh:  make(chan struct{}),
	}

	if err := m.installMatch(); err != nil {
		return nil, errors.NewStartupError("dbus", "install Launched match rule", err)
	}

	conn.Signal(m.signals)
	return m, nil
}

func (m *LaunchMonitor) installMatch() error {
	rule := "interface='" + launchInterface + "',member='" + launchMember + "',eavesdrop='true'"

	call := m.conn.BusObject().Call(
		"org.freedesktop.DBus.Monitoring.BecomeMonitor", 0,
		[]string{rule}, uint32(0),
	)
	if call.Err == nil {
		return nil
	}
	m.log.Debug("BecomeMonitor unavailable, falling back to eavesdropping match", "error", call.Err)

	// Launched is broadcast, not addressed to us; without eavesdrop the
	// match rule only delivers signals destined for this connection.
	return m.conn.AddMatchSignal(
		dbus.WithMatchInterface(launchInterface),
		dbus.WithMatchMember(launchMember),
		dbus.WithMatchOption("eavesdrop", "true"),
	)
}

// Run drains signals until stop is closed or Stop is called, translating
// each Launched signal into a NewApplicationEvent published on the bus.
// Malformed signal payloads are logged and dropped, not fatal.
func (m *LaunchMonitor) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-m.stopCh:
			return
		case sig, ok := <-m.signals:
			if !ok {
				return
			}
			m.handle(sig)
		}
	}
}

func (m *LaunchMonitor) handle(sig *dbus.Signal) {
	if !strings.HasSuffix(sig.Name, launchInterface+"."+launchMember) {
		return
	}

	appID, pid, ok := parseLaunched(sig.Body)
	if !ok {
		m.log.Warn("malformed Launched signal body", "body", sig.Body)
		return
	}

	ev := events.NewApplication(appID, pid, time.Now())
	if !m.bus.TryPublish(ev) {
		m.log.Warn("event bus full, dropping NewApplicationEvent", "app_id", appID)
	}
}

// parseLaunched extracts the desktop file ID and launched PID from a
// Launched signal's body: (desktop_file_id ay, display s, pid x, uris as,
// extras a{sv}) per the GApplication D-Bus launch convention. The
// desktop-file path arrives NUL-terminated and with a ".desktop" suffix;
// both are stripped to recover the bare AppId. The wire type of pid is x
// (int64), but other integer widths are accepted since not every emitter
// is GLib.
func parseLaunched(body []any) (appID string, pid uint32, ok bool) {
	if len(body) < 3 {
		return "", 0, false
	}

	raw, ok := body[0].([]byte)
	if !ok {
		return "", 0, false
	}
	path := strings.TrimRight(string(raw), "\x00")
	base := path
	if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
		base = path[idx+1:]
	}
	appID = strings.TrimSuffix(base, ".desktop")
	if appID == "" {
		return "", 0, false
	}

	switch p := body[2].(type) {
	case int64:
		pid = uint32(p)
	case uint64:
		pid = uint32(p)
	case int32:
		pid = uint32(p)
	case uint32:
		pid = p
	default:
		return "", 0, false
	}

	return appID, pid, true
}

// Stop stops Run and removes the signal channel registration.
func (m *LaunchMonitor) Stop() {
	close(m.stopCh)
	m.conn.RemoveSignal(m.signals)
}
