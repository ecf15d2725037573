// Package capture manages the audio recording session and its metering loop.
package capture

import "context"

// Permission is the microphone permission state reported by the host environment.
type Permission string

const (
	// PermissionUndetermined indicates the user has not been asked yet.
	PermissionUndetermined Permission = "undetermined"
	// PermissionGranted indicates recording is allowed.
	PermissionGranted Permission = "granted"
	// PermissionDenied indicates the user refused microphone access.
	PermissionDenied Permission = "denied"
)

// Permissions is the host capability for querying and requesting microphone access.
type Permissions interface {
	// Status returns the current permission state without prompting.
	Status(ctx context.Context) Permission
	// Request prompts for permission and returns the resulting state.
	Request(ctx context.Context) (Permission, error)
}

// DeviceConfig configures a recording acquisition.
type DeviceConfig struct {
	// Input is the audio input device identifier (empty = platform default).
	Input string
	// Metering enables level measurement on the handle.
	Metering bool
}

// HandleStatus is one observation of an active recording.
type HandleStatus struct {
	// IsRecording reports whether the underlying resource is still capturing.
	IsRecording bool
	// MeteringDB is the instantaneous level in dBFS, nil if no reading is available.
	MeteringDB *float64
}

// Artifact references a finished recording.
type Artifact struct {
	// Location is the path or URI of the finalized recording.
	Location string
	// SizeBytes is the artifact size, 0 if unknown.
	SizeBytes int64
}

// Handle is an exclusively owned reference to an active recording resource.
// Status and StopAndRelease may block; callers bound them with a context.
type Handle interface {
	Status(ctx context.Context) (HandleStatus, error)
	// StopAndRelease finalizes the recording and frees the resource.
	// It is safe to call at most once; the handle is dead afterwards.
	StopAndRelease(ctx context.Context) (Artifact, error)
}

// Device is the host capability for acquiring a recording resource.
// At most one handle may be live per device at a time.
type Device interface {
	Acquire(ctx context.Context, cfg DeviceConfig) (Handle, error)
}

// LifecycleState is an application lifecycle transition delivered by the host.
type LifecycleState string

const (
	// LifecycleForeground indicates the app is active and visible.
	LifecycleForeground LifecycleState = "foreground"
	// LifecycleBackground indicates the app moved to the background.
	LifecycleBackground LifecycleState = "background"
	// LifecycleInactive indicates the app is transitioning or obscured.
	LifecycleInactive LifecycleState = "inactive"
)

// StaticPermissions is a Permissions implementation with a fixed grant state,
// used by headless deployments where access is decided at install time.
type StaticPermissions Permission

// Status implements Permissions.
func (p StaticPermissions) Status(context.Context) Permission {
	return Permission(p)
}

// Request implements Permissions.
func (p StaticPermissions) Request(context.Context) (Permission, error) {
	return Permission(p), nil
}
