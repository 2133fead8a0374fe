package statesync

import "errors"

// Failure taxonomy for restore and sync attempts. Callers branch on these
// with errors.Is; the admin layer maps them to response codes verbatim.
var (
	// ErrNotConfigured means store credentials are missing. Steady state,
	// user-correctable, not worth alerting on.
	ErrNotConfigured = errors.New("object store not configured")

	// ErrMountFailed means the bucket could not be attached.
	ErrMountFailed = errors.New("store mount failed")

	// ErrRestoreRequired means sync was attempted before this container ever
	// reconciled with the store. Backing up anyway could overwrite a good
	// backup with a fresh empty filesystem, so this is a hard stop.
	ErrRestoreRequired = errors.New("restore required before sync")

	// ErrConfigMissing means no local directory holds an agent config file.
	ErrConfigMissing = errors.New("no agent config found")

	// ErrNoBackup means no remote layout generation matched anything in the
	// store. For a fresh bucket this is expected, not broken.
	ErrNoBackup = errors.New("no backup found")

	// ErrCopyFailed wraps a mirror-copy step that reported failure.
	ErrCopyFailed = errors.New("copy failed")

	// ErrVerificationFailed means the sync appeared to complete but the
	// durable timestamp artifact did not read back correctly.
	ErrVerificationFailed = errors.New("sync verification failed")
)
