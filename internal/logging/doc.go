// Package logging provides structured logging for hammockd.
//
// This package wraps Go's log/slog to provide JSON-formatted logs suitable
// for a long-running daemon: a single log file (or stderr when unattached
// to one), size-based rotation, and attribute propagation so each
// controller subsystem can tag every line it produces without repeating
// itself.
//
// # Basic Usage
//
// Create a logger writing to a daemon log file:
//
//	logger, err := logging.NewLogger("/var/log/hammockd/hammockd.log", "INFO", logging.DefaultRotationConfig())
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	logger.Debug("detailed info", "key", "value")
//	logger.Info("operation completed", "duration_ms", 150)
//	logger.Warn("potential issue", "threshold", 100)
//	logger.Error("operation failed", "error", err.Error())
//
// Passing an empty log path writes JSON lines to stderr instead, which is
// the default when hammockd runs attached to a terminal or under a
// supervisor that captures stderr directly.
//
// # Attribute Propagation
//
// Create child loggers carrying persistent attributes:
//
//	wlLogger := logger.WithComponent("wayland")
//	appLogger := wlLogger.WithApp("firefox.desktop", 4821)
//	appLogger.Info("toplevel state changed", "state", "activated")
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"toplevel state changed","component":"wayland","app_id":"firefox.desktop","pid":4821,"state":"activated"}
//
// # Log Rotation
//
// NewLogger always rotates through a [RotatingWriter] when writing to a
// file; pass a zero-value [RotationConfig] (MaxSizeMB: 0) to disable size
// based rotation and let the log file grow unbounded.
//
// # Testing
//
// For testing, use [NopLogger] to discard all log output:
//
//	func TestSomething(t *testing.T) {
//	    logger := logging.NopLogger()
//	}
package logging
