// Package common defines shared constants and sentinel errors used across
// the sync engine. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Configuration errors are fatal for the affected operation and are
	// never retried automatically.
	ErrConfig             = errors.New("configuration error")
	ErrUnsupportedAuth    = errors.New("unsupported auth mode")
	ErrMissingCredentials = errors.New("missing credentials")

	// Upstream errors (non-2xx, timeout, malformed remote payload) are
	// retried via the job attempts counter.
	ErrUpstream = errors.New("upstream error")

	// Data errors affect a single item of a batch; siblings still complete.
	ErrMissingField = errors.New("missing required field")

	// Queue errors.
	ErrJobNotOwned    = errors.New("job not locked by this worker")
	ErrUnknownJobType = errors.New("unknown job type")

	// Watermark regression guard: Site.lastSyncAt only moves forward.
	ErrWatermarkRegression = errors.New("watermark would move backwards")
)
