package dbussrc

import (
	"os"
	"time"

	"github.com/coreos/go-systemd/v22/login1"
	"github.com/godbus/dbus/v5"

	"github.com/hammock-linux/hammockd/internal/errors"
	"github.com/hammock-linux/hammockd/internal/events"
	"github.com/hammock-linux/hammockd/internal/logging"
)

const (
	inhibitWhat = "sleep"
	inhibitWho  = "hammockd"
	inhibitWhy  = "freeze application cgroups before suspend"
	inhibitMode = "delay"
)

// SuspendSource holds logind's delay-lock inhibitor and watches for the
// PrepareForSleep signal, publishing SystemSuspendEvent before the machine
// actually sleeps and SystemResumeEvent once it wakes. The delay lock is a
// file descriptor: closing it tells logind to proceed with the sleep.
// The lifecycle controller reacquires it through ReacquireInhibitor after
// each resume, except after a Motion wake.
type SuspendSource struct {
	login  *login1.Conn // holds the Inhibit() delay lock
	sysBus *dbus.Conn   // separate connection for the PrepareForSleep match
	bus    *events.Bus
	log    *logging.Logger

	lockFD *os.File

	signals chan *dbus.Signal
	stopCh  chan struct{}
}

// NewSuspendSource connects to logind over the system bus and takes the
// initial delay inhibitor lock. Failure here is an InhibitorError:
// hammockd keeps running without suspend coordination rather than
// refusing to start.
func NewSuspendSource(bus *events.Bus, log *logging.Logger) (*SuspendSource, error) {
	login, err := login1.New()
	if err != nil {
		return nil, errors.NewInhibitorError("connect to logind", err)
	}

	sysBus, err := dbus.SystemBus()
	if err != nil {
		return nil, errors.NewInhibitorError("connect to system bus", err)
	}

	s := &SuspendSource{
		login:   login,
		sysBus:  sysBus,
		bus:     bus,
		log:     log.WithComponent("dbus.suspend"),
		signals: make(chan *dbus.Signal, 8),
		stopCh:  make(chan struct{}),
	}

	if err := s.acquireLock(); err != nil {
		return nil, err
	}

	if err := sysBus.AddMatchSignal(
		dbus.WithMatchObjectPath("/org/freedesktop/login1"),
		dbus.WithMatchInterface("org.freedesktop.login1.Manager"),
		dbus.WithMatchMember("PrepareForSleep"),
	); err != nil {
		return nil, errors.NewInhibitorError("subscribe to PrepareForSleep", err)
	}
	sysBus.Signal(s.signals)

	return s, nil
}

func (s *SuspendSource) acquireLock() error {
	fd, err := s.login.Inhibit(inhibitWhat, inhibitWho, inhibitWhy, inhibitMode)
	if err != nil {
		return errors.NewInhibitorError("acquire delay inhibitor", err)
	}
	s.lockFD = fd
	return nil
}

// Run drains PrepareForSleep signals until stop is closed, handling
// suspend (true) and resume (false) transitions.
func (s *SuspendSource) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-s.stopCh:
			return
		case sig, ok := <-s.signals:
			if !ok {
				return
			}
			s.handle(sig)
		}
	}
}

func (s *SuspendSource) handle(sig *dbus.Signal) {
	start, ok := parsePrepareForSleep(sig.Body)
	if !ok {
		return
	}

	if start {
		s.handleSuspend()
	} else {
		s.handleResume()
	}
}

// parsePrepareForSleep extracts the single bool argument from a
// PrepareForSleep signal: true means the machine is about to suspend,
// false means it just resumed.
func parsePrepareForSleep(body []any) (start bool, ok bool) {
	if len(body) != 1 {
		return false, false
	}
	start, ok = body[0].(bool)
	return start, ok
}

// handleSuspend publishes SystemSuspendEvent. It does not touch the delay
// lock: logind already holds off the actual suspend until every inhibitor
// is released, and the release must happen only after the controller has
// frozen user cgroups. ReleaseInhibitor is that later, explicit step.
func (s *SuspendSource) handleSuspend() {
	if !s.bus.TryPublish(events.SystemSuspend(time.Now())) {
		s.log.Warn("event bus full, dropping SystemSuspendEvent")
	}
}

// handleResume publishes SystemResumeEvent. Reacquiring the delay lock is
// left to the controller's ReacquireInhibitor call, since wake-cause
// policy decides whether to re-arm at all.
func (s *SuspendSource) handleResume() {
	if !s.bus.TryPublish(events.SystemResume("", time.Now())) {
		s.log.Warn("event bus full, dropping SystemResumeEvent")
	}
}

// ReleaseInhibitor closes the held delay-lock FD, letting logind proceed
// with a pending suspend. Called by the LifecycleController once it has
// frozen the root grouping cgroup. Closing an already-released lock is a
// no-op, not an error.
func (s *SuspendSource) ReleaseInhibitor() error {
	if s.lockFD == nil {
		return nil
	}
	err := s.lockFD.Close()
	s.lockFD = nil
	return err
}

// ReacquireInhibitor re-opens the delay lock so the next suspend cycle is
// coordinated too. Called by the controller after resume, except when
// wake-cause policy intentionally leaves the system unguarded (a Motion
// wake does not re-arm, pending an auto-resuspend revision). Failure is
// an InhibitorError: logged at Warning by the caller, not fatal.
func (s *SuspendSource) ReacquireInhibitor() error {
	return s.acquireLock()
}

// Stop releases the delay lock (if held), removes the PrepareForSleep
// signal registration from the system bus and closes the logind
// connection. The shared system bus connection itself is not closed.
func (s *SuspendSource) Stop() {
	close(s.stopCh)
	if s.lockFD != nil {
		_ = s.lockFD.Close()
	}
	s.sysBus.RemoveSignal(s.signals)
	s.login.Close()
}
