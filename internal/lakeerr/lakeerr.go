// Package lakeerr defines the sentinel error taxonomy shared across the
// gateway, adapters, and HTTP surface. Fallible operations return plain
// errors wrapping one of these sentinels with fmt.Errorf("...: %w", ...);
// callers compare with errors.Is rather than type-switching.
package lakeerr

import (
	"errors"
	"net/http"
)

var (
	// ErrClockDrift is returned when a remote HLC exceeds MAX_DRIFT_MS.
	ErrClockDrift = errors.New("lakesync: remote hlc exceeds drift bound")

	// ErrSchemaMismatch is returned by the HTTP layer when a request body
	// or query parameter cannot be decoded. Pushed delta columns are not
	// checked against the registered TableSchema.
	ErrSchemaMismatch = errors.New("lakesync: delta column not in schema")

	// ErrBufferFull is returned by Push when the shared buffer is still at
	// capacity after one synchronous flush and retry. There is no setting
	// to block, or to reject without flushing first.
	ErrBufferFull = errors.New("lakesync: buffer full")

	// ErrSharedWriteFailed is returned in Strong consistency mode when the
	// backing store insert fails.
	ErrSharedWriteFailed = errors.New("lakesync: shared buffer write failed")

	// ErrAdapterNotFound is returned when a pull names an unregistered
	// source adapter.
	ErrAdapterNotFound = errors.New("lakesync: adapter not found")

	// ErrAdapterError wraps an underlying database/object-store failure.
	ErrAdapterError = errors.New("lakesync: adapter error")

	// ErrFlushError is returned when the object-store upload or columnar
	// encoding of a flush fails.
	ErrFlushError = errors.New("lakesync: flush failed")

	// ErrCatalogueError is returned when a catalogue commit fails after
	// the flush object has already been persisted.
	ErrCatalogueError = errors.New("lakesync: catalogue commit failed")

	// ErrFlushQueueError is returned when the materialisation claim-check
	// publish step fails.
	ErrFlushQueueError = errors.New("lakesync: flush queue publish failed")

	// ErrSchedulerDisabled is returned by Start when compaction is
	// configured off.
	ErrSchedulerDisabled = errors.New("lakesync: scheduler disabled")

	// ErrSchedulerAlreadyRunning is returned by Start when the scheduler
	// timer is already armed.
	ErrSchedulerAlreadyRunning = errors.New("lakesync: scheduler already running")

	// ErrSchedulerNotRunning is returned by Stop when the scheduler is
	// not currently running.
	ErrSchedulerNotRunning = errors.New("lakesync: scheduler not running")

	// ErrSchedulerBusy is returned by RunOnce when a run is already in
	// flight.
	ErrSchedulerBusy = errors.New("lakesync: scheduler run already in flight")

	// ErrSchedulerTaskProviderError wraps a MaintenanceTaskProvider
	// failure; it never crashes the scheduler.
	ErrSchedulerTaskProviderError = errors.New("lakesync: maintenance task provider error")

	// ErrTimeout maps a deadline failure to 504 in HTTPStatus. No adapter
	// or catalogue call in this module returns or wraps it.
	ErrTimeout = errors.New("lakesync: deadline exceeded")

	// ErrUnauthorized is returned by the HTTP layer for a missing or
	// invalid bearer token.
	ErrUnauthorized = errors.New("lakesync: unauthorized")

	// ErrForbidden is returned by the HTTP layer when a token's role does
	// not permit the requested route.
	ErrForbidden = errors.New("lakesync: forbidden")

	// ErrInvalidConfig is returned when a decoded configuration fails
	// validation (missing required field, unknown enum value, ...).
	ErrInvalidConfig = errors.New("lakesync: invalid config")
)

// statusTable maps each sentinel to its HTTP status, per SPEC_FULL §4.9.
// Unlisted errors map to 500 by default in HTTPStatus.
var statusTable = map[error]int{
	ErrClockDrift:                 http.StatusBadRequest,
	ErrSchemaMismatch:             http.StatusBadRequest,
	ErrBufferFull:                 http.StatusRequestEntityTooLarge,
	ErrSharedWriteFailed:          http.StatusInternalServerError,
	ErrAdapterNotFound:            http.StatusNotFound,
	ErrAdapterError:               http.StatusInternalServerError,
	ErrFlushError:                 http.StatusInternalServerError,
	ErrCatalogueError:             http.StatusInternalServerError,
	ErrFlushQueueError:            http.StatusInternalServerError,
	ErrSchedulerDisabled:          http.StatusConflict,
	ErrSchedulerAlreadyRunning:    http.StatusConflict,
	ErrSchedulerNotRunning:        http.StatusConflict,
	ErrSchedulerBusy:              http.StatusConflict,
	ErrSchedulerTaskProviderError: http.StatusInternalServerError,
	ErrTimeout:                    http.StatusGatewayTimeout,
	ErrUnauthorized:               http.StatusUnauthorized,
	ErrForbidden:                  http.StatusForbidden,
	ErrInvalidConfig:              http.StatusInternalServerError,
}

// HTTPStatus maps err to a status code by walking errors.Is against the
// known taxonomy. Returns 500 if err doesn't match any sentinel.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}

	for sentinel, status := range statusTable {
		if errors.Is(err, sentinel) {
			return status
		}
	}

	return http.StatusInternalServerError
}
