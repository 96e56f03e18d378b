// Package model holds the shared data types and error taxonomy used across
// the bridge core: plugins, devices, server nodes, fabrics, sessions,
// commissioning windows and control-plane envelopes.
package model

import "errors"

// Sentinel errors forming the core error taxonomy (spec §7). Components
// wrap these with fmt.Errorf("...: %w", ErrX) so callers can test with
// errors.Is without depending on component-specific error types.
var (
	// ErrStorageUnavailable is returned by the storage adapter when the
	// backing path cannot be opened for writing. Non-recoverable at init.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrPortInUse is returned by bridgecore.Core.Start, wrapping the
	// engine's error, when creating the bridge-mode server node fails.
	// No retry on another port is made.
	ErrPortInUse = errors.New("port in use")

	// ErrPluginError marks a plugin lifecycle failure. It is sticky: the
	// plugin record stays errored until reset by enable or remove.
	ErrPluginError = errors.New("plugin error")

	// ErrTooManyDevices is returned when an AccessoryPlatform plugin
	// attempts to register a second device.
	ErrTooManyDevices = errors.New("too many devices for accessory platform")

	// ErrNotFound covers idempotent operations on absent resources
	// (remove absent device, stop absent node). Callers should treat it
	// as a successful no-op, typically after logging a warning.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized is returned by the control plane on failed session
	// authentication. The session is closed when this is returned.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrTimeout covers control-plane or plugin lifecycle deadlines.
	ErrTimeout = errors.New("timeout")

	// ErrEngineError wraps a failure surfaced by the Matter engine.
	ErrEngineError = errors.New("engine error")

	// ErrDuplicateKey is returned by the endpoint registry when a storage
	// key collides across plugins.
	ErrDuplicateKey = errors.New("duplicate storage key")

	// ErrNotReady is returned by the Matter engine adapter when a parent
	// endpoint has not yet been installed.
	ErrNotReady = errors.New("not ready")

	// ErrUnknownMethod is returned by the control plane for an
	// unrecognised request method. It does not affect session state.
	ErrUnknownMethod = errors.New("unknown method")
)
