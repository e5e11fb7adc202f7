package wayland

import (
	"context"

	"github.com/rajveermalviya/go-wayland/wayland/client"
	toplevel "github.com/rajveermalviya/go-wayland/wayland/unstable/wlr-foreign-toplevel-management-unstable-v1"

	"github.com/hammock-linux/hammockd/internal/errors"
	"github.com/hammock-linux/hammockd/internal/events"
	"github.com/hammock-linux/hammockd/internal/logging"
)

// managerVersion is the zwlr_foreign_toplevel_manager_v1 protocol version
// hammockd binds. Version 3 is the first that guarantees a Done commit
// after the initial property burst on every toplevel.
const managerVersion = 3

// Source binds zwlr_foreign_toplevel_manager_v1 and turns its events into
// HammockEvents published on the shared Bus. The display's dispatch loop
// runs on the single goroutine that calls Run, since libwayland's client connection is
// not safe to call into from more than one goroutine at a time.
type Source struct {
	display *client.Display
	manager *toplevel.ZwlrForeignToplevelManagerV1
	agg     *Aggregator
	bus     *events.Bus
	log     *logging.Logger

	stopCh chan struct{}
}

// NewSource connects to the compositor's Wayland socket and binds the
// foreign-toplevel-management global. Any failure here is a StartupError:
// hammockd cannot track applications without this protocol.
func NewSource(bus *events.Bus, log *logging.Logger) (*Source, error) {
	display, err := client.Connect("")
	if err != nil {
		return nil, errors.NewStartupError("wayland", "connect to compositor", err)
	}

	s := &Source{
		display: display,
		agg:     NewAggregator(),
		bus:     bus,
		log:     log.WithComponent("wayland"),
		stopCh:  make(chan struct{}),
	}

	registry, err := display.GetRegistry()
	if err != nil {
		_ = display.Context().Close()
		return nil, errors.NewStartupError("wayland", "get registry", err)
	}

	var bindErr error
	registry.SetGlobalHandler(func(ev client.RegistryGlobalEvent) {
		if ev.Interface != "zwlr_foreign_toplevel_manager_v1" {
			return
		}
		if ev.Version < managerVersion {
			bindErr = errors.New("compositor advertises zwlr_foreign_toplevel_manager_v1 below version 3")
			return
		}
		mgr := toplevel.NewZwlrForeignToplevelManagerV1(display.Context())
		if err := registry.Bind(ev.Name, ev.Interface, managerVersion, mgr); err != nil {
			bindErr = err
			return
		}
		s.manager = mgr
		s.manager.SetToplevelHandler(s.onToplevel)
	})

	// A roundtrip forces the compositor to announce its globals and lets
	// the handler above run before we decide whether binding succeeded.
	if err := roundtrip(display); err != nil {
		_ = display.Context().Close()
		return nil, errors.NewStartupError("wayland", "initial roundtrip", err)
	}
	if bindErr != nil {
		_ = display.Context().Close()
		return nil, errors.NewStartupError("wayland", "bind zwlr_foreign_toplevel_manager_v1", bindErr)
	}
	if s.manager == nil {
		_ = display.Context().Close()
		return nil, errors.NewStartupError("wayland", "compositor does not advertise zwlr_foreign_toplevel_manager_v1", nil)
	}

	return s, nil
}

// roundtrip is a small helper around the Display sync callback so NewSource
// doesn't need to hand-roll a wl_callback dance inline.
func roundtrip(display *client.Display) error {
	callback, err := display.Sync()
	if err != nil {
		return err
	}
	done := make(chan struct{})
	callback.SetDoneHandler(func(client.CallbackDoneEvent) { close(done) })

	for {
		select {
		case <-done:
			return nil
		default:
			if err := display.Context().Dispatch(); err != nil {
				return err
			}
		}
	}
}

// onToplevel registers per-handle event callbacks for a newly announced
// zwlr_foreign_toplevel_handle_v1, feeding every field event into the
// Aggregator and publishing the commit it produces.
func (s *Source) onToplevel(ev toplevel.ZwlrForeignToplevelManagerV1ToplevelEvent) {
	handle := ev.Toplevel
	id := uint64(handle.ID())

	handle.SetTitleHandler(func(e toplevel.ZwlrForeignToplevelHandleV1TitleEvent) {
		s.agg.SetTitle(id, e.Title)
	})
	handle.SetAppIdHandler(func(e toplevel.ZwlrForeignToplevelHandleV1AppIdEvent) {
		s.agg.SetAppId(id, e.AppId)
	})
	handle.SetStateHandler(func(e toplevel.ZwlrForeignToplevelHandleV1StateEvent) {
		s.agg.SetState(id, e.State)
	})
	handle.SetDoneHandler(func(toplevel.ZwlrForeignToplevelHandleV1DoneEvent) {
		s.publish(s.agg.Done(id))
	})
	handle.SetClosedHandler(func(toplevel.ZwlrForeignToplevelHandleV1ClosedEvent) {
		s.publish(s.agg.Closed(id))
		_ = handle.Destroy()
	})
}

func (s *Source) publish(ev events.Event) {
	if !s.bus.TryPublish(ev) {
		s.log.Warn("event bus full, dropping toplevel event", "event_type", ev.EventType())
	}
}

// Run drives the Wayland display's dispatch loop until ctx is cancelled or
// Stop is called. It must run on its own goroutine for the lifetime of the
// daemon; libwayland multiplexes everything through this one blocking
// Dispatch call.
func (s *Source) Run(ctx context.Context) error {
	for {
		select {
		case <-s.stopCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := s.display.Context().Dispatch(); err != nil {
				return errors.NewTransientError("wayland", "dispatch", err)
			}
		}
	}
}

// Stop signals Run to return and closes the display connection.
func (s *Source) Stop() {
	close(s.stopCh)
	_ = s.display.Context().Close()
}

// Aggregator exposes the Source's Aggregator for diagnostics (e.g. a debug
// command that dumps currently tracked toplevels).
func (s *Source) Aggregator() *Aggregator {
	return s.agg
}
