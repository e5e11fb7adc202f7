// Package wayland tracks zwlr_foreign_toplevel_handle_v1 state and turns
// the wire protocol's "set a field, then Done" commit pattern into the
// atomic ToplevelSnapshot events the rest of hammockd consumes.
package wayland

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/hammock-linux/hammockd/internal/events"
)

// toplevel accumulates the in-flight fields for one handle between Done
// events: a shadow copy that only becomes visible once committed.
type toplevel struct {
	shadow     events.ToplevelSnapshot
	published  events.ToplevelSnapshot
	generation uint64 // number of Done events processed; 0 before the first
}

// Aggregator tracks every live toplevel handle, keyed by an opaque handle
// ID the caller assigns (the handle's proxy ID in practice). A commit
// arriving for a handle with generation 0 produces a NewToplevelEvent;
// every later commit produces ToplevelChangedEvent. Closed removes the
// handle and emits ToplevelClosedEvent.
type Aggregator struct {
	mu        sync.Mutex
	toplevels map[uint64]*toplevel
}

// NewAggregator creates an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{toplevels: make(map[uint64]*toplevel)}
}

func (a *Aggregator) entry(handle uint64) *toplevel {
	t, ok := a.toplevels[handle]
	if !ok {
		t = &toplevel{}
		a.toplevels[handle] = t
	}
	return t
}

// SetTitle records a pending Title event for handle, visible after the next Done.
func (a *Aggregator) SetTitle(handle uint64, title string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entry(handle).shadow.Title = title
}

// SetAppId records a pending AppId event for handle.
func (a *Aggregator) SetAppId(handle uint64, appID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entry(handle).shadow.AppId = appID
}

// SetPID records the PID carried by the handle's Credentials event. Not
// every compositor sends this; a zero PID means "unknown" and callers fall
// back to D-Bus correlation.
func (a *Aggregator) SetPID(handle uint64, pid uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entry(handle).shadow.PID = pid
}

// SetState decodes a State event's raw array_of(uint32) payload, each
// native-endian 4 bytes one state enum value, and keeps the last
// recognized value as the pending state: 1 -> Minimized, 2 -> Activated,
// 3 -> Fullscreen. A trailing partial (<4 byte) element is ignored rather
// than rejecting the whole event; if nothing in the payload is
// recognized, the pending state is Background.
func (a *Aggregator) SetState(handle uint64, raw []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	t := a.entry(handle)
	state := events.ToplevelBackground
	for i := 0; i+4 <= len(raw); i += 4 {
		v := events.ToplevelState(binary.NativeEndian.Uint32(raw[i : i+4]))
		switch v {
		case events.ToplevelMinimized, events.ToplevelActivated, events.ToplevelFullscreen:
			state = v
		}
	}
	t.shadow.State = state
}

// Done commits the handle's shadow fields and returns the resulting event:
// a NewToplevelEvent on the handle's first commit, a ToplevelChangedEvent
// on every later one.
func (a *Aggregator) Done(handle uint64) events.Event {
	a.mu.Lock()
	defer a.mu.Unlock()

	t := a.entry(handle)
	t.generation++
	t.published = t.shadow

	now := time.Now()
	if t.generation == 1 {
		return events.NewToplevel(handle, t.published, now)
	}
	return events.ToplevelChanged(handle, t.published, now)
}

// Closed removes handle's tracked state and returns a ToplevelClosedEvent
// carrying its last published snapshot.
func (a *Aggregator) Closed(handle uint64) events.Event {
	a.mu.Lock()
	defer a.mu.Unlock()

	t, ok := a.toplevels[handle]
	delete(a.toplevels, handle)

	now := time.Now()
	if !ok {
		return events.ToplevelClosed(handle, "", 0, now)
	}
	return events.ToplevelClosed(handle, t.published.AppId, t.published.PID, now)
}

// Snapshot returns the last published snapshot for handle and whether it
// is currently tracked.
func (a *Aggregator) Snapshot(handle uint64) (events.ToplevelSnapshot, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	t, ok := a.toplevels[handle]
	if !ok {
		return events.ToplevelSnapshot{}, false
	}
	return t.published, true
}

// Len returns the number of toplevels currently tracked, for diagnostics.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.toplevels)
}
