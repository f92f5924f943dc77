package module

import (
	"context"
	"regexp"

	"github.com/nerrad567/gray-logic-hub/internal/device"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/mqtt"
)

// DiscoverState is the discovery state of a loaded module.
type DiscoverState string

const (
	StateStopped     DiscoverState = "stopped"
	StateDiscovering DiscoverState = "discovering"
)

// Module is a loaded driver module.
type Module interface {
	// Discover starts looking for devices and returns. Devices are
	// reported through Env.Signals, during or after the call.
	Discover(ctx context.Context) error

	// StopDiscover ends a discovery started by Discover.
	StopDiscover(ctx context.Context) error
}

// Closer is implemented by modules that hold resources to release on
// unload.
type Closer interface {
	Close(ctx context.Context) error
}

// Signals is how a module reports devices to the hub.
type Signals interface {
	DeviceOnline(driver device.Driver)
	DeviceOffline(driver device.Driver)
}

// Logger defines the logging interface used by the package.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// moduleLogger tags every entry with the module name.
type moduleLogger struct {
	base Logger
	name string
}

func (l moduleLogger) Debug(msg string, args ...any) { l.base.Debug(msg, l.tag(args)...) }
func (l moduleLogger) Info(msg string, args ...any)  { l.base.Info(msg, l.tag(args)...) }
func (l moduleLogger) Warn(msg string, args ...any)  { l.base.Warn(msg, l.tag(args)...) }
func (l moduleLogger) Error(msg string, args ...any) { l.base.Error(msg, l.tag(args)...) }

func (l moduleLogger) tag(args []any) []any {
	return append([]any{"module", l.name}, args...)
}

// Env is what a Factory receives.
type Env struct {
	Name    string
	Version string
	Options map[string]any
	Signals Signals
	Logger  Logger

	// MQTT is the hub's broker connection. Nil when MQTT is disabled.
	MQTT *mqtt.Client
}

// Factory creates a module instance.
type Factory func(ctx context.Context, env Env) (Module, error)

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,63}$`)

// ValidName reports whether name is a valid module instance name.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}
