// Package events defines the HammockEvent sum type: the occurrences the
// Wayland, D-Bus, and wakeup sources raise and the LifecycleController
// consumes off the aggregated event channel.
package events

import (
	"time"

	"github.com/hammock-linux/hammockd/internal/config"
)

// Event is the interface every concrete hammockd event satisfies.
type Event interface {
	// EventType returns a string identifier, "category.action" by convention.
	EventType() string
	Timestamp() time.Time
}

// baseEvent carries the fields common to every event. Embed it in a
// concrete type to satisfy Event.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string, at time.Time) baseEvent {
	return baseEvent{eventType: eventType, timestamp: at}
}

// ToplevelState is a toplevel's committed lifecycle state. Its numeric
// values are the zwlr_foreign_toplevel_handle_v1 State event's own wire
// values for the states hammockd cares about (1, 2, 3); ToplevelBackground
// is the default when a commit carries no recognized value at all.
type ToplevelState uint32

const (
	ToplevelBackground ToplevelState = 0
	ToplevelMinimized  ToplevelState = 1
	ToplevelActivated  ToplevelState = 2
	ToplevelFullscreen ToplevelState = 3
)

// ToplevelSnapshot is the last committed view of a Wayland toplevel: the
// fields an aggregator publishes atomically after a Done event.
type ToplevelSnapshot struct {
	Title string
	AppId string
	State ToplevelState
	PID   uint32
}

// NewApplicationEvent is raised for every D-Bus Launched signal. Repeats
// for an already tracked PID are absorbed by the registry, not here.
type NewApplicationEvent struct {
	baseEvent
	AppId string
	PID   uint32
}

func NewApplication(appID string, pid uint32, at time.Time) NewApplicationEvent {
	return NewApplicationEvent{
		baseEvent: newBaseEvent("application.new", at),
		AppId:     appID,
		PID:       pid,
	}
}

// NewToplevelEvent is raised the first time a toplevel handle's generation
// counter reaches 1: its first committed snapshot.
type NewToplevelEvent struct {
	baseEvent
	Handle   uint64
	Snapshot ToplevelSnapshot
}

func NewToplevel(handle uint64, snap ToplevelSnapshot, at time.Time) NewToplevelEvent {
	return NewToplevelEvent{
		baseEvent: newBaseEvent("toplevel.new", at),
		Handle:    handle,
		Snapshot:  snap,
	}
}

// ToplevelChangedEvent is raised on every commit after the first: the
// toplevel's generation counter is greater than 1.
type ToplevelChangedEvent struct {
	baseEvent
	Handle   uint64
	Snapshot ToplevelSnapshot
}

func ToplevelChanged(handle uint64, snap ToplevelSnapshot, at time.Time) ToplevelChangedEvent {
	return ToplevelChangedEvent{
		baseEvent: newBaseEvent("toplevel.changed", at),
		Handle:    handle,
		Snapshot:  snap,
	}
}

// ToplevelClosedEvent is raised when a toplevel handle receives Closed.
type ToplevelClosedEvent struct {
	baseEvent
	Handle uint64
	AppId  string
	PID    uint32
}

func ToplevelClosed(handle uint64, appID string, pid uint32, at time.Time) ToplevelClosedEvent {
	return ToplevelClosedEvent{
		baseEvent: newBaseEvent("toplevel.closed", at),
		Handle:    handle,
		AppId:     appID,
		PID:       pid,
	}
}

// SystemSuspendEvent is raised on the logind PrepareForSleep(true) signal,
// before the kernel suspends.
type SystemSuspendEvent struct {
	baseEvent
}

func SystemSuspend(at time.Time) SystemSuspendEvent {
	return SystemSuspendEvent{baseEvent: newBaseEvent("system.suspend", at)}
}

// SystemResumeEvent is raised on PrepareForSleep(false): the machine has
// resumed. SuspendSource publishes it with Cause empty; the lifecycle
// controller queries the WakeupProbe itself on resume.
type SystemResumeEvent struct {
	baseEvent
	Cause config.WakeupKind
}

func SystemResume(cause config.WakeupKind, at time.Time) SystemResumeEvent {
	return SystemResumeEvent{
		baseEvent: newBaseEvent("system.resume", at),
		Cause:     cause,
	}
}
