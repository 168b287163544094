/*
errors.go - Centralized error taxonomy for the telemetry engine

PURPOSE:
  All sentinel errors in one place. Each maps to one branch of the error
  handling design: transient source errors are retried by the scheduler,
  malformed payloads are absorbed by the adapter, persistence conflicts roll
  back and wait for the next tick, and missing data surfaces to the consumer
  as an explicit no-data response.

USAGE:
  Callers classify with errors.Is:

    if errors.Is(err, telemetry.ErrSourceUnavailable) {
        // leave the window for the next tick
    }

SEE ALSO:
  - source/: returns ErrSourceUnavailable, absorbs ErrMalformedPayload
  - collector/scheduler.go: owns the retry decision
  - api/handlers.go: translates ErrNoData into the no-data response
*/
package telemetry

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceUnavailable is returned when a source cannot be reached or
	// answers with a non-2xx status. Transient: the caller retries.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrMalformedPayload marks a response body that could not be parsed.
	// Adapters log it and return an empty batch; it never propagates to the
	// scheduler as a failure.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrStoreConflict is returned when an upsert transaction rolls back.
	// The batch counts as not-yet-collected and the checkpoint stays put.
	ErrStoreConflict = errors.New("store conflict")

	// ErrNoData is returned when an aggregation window holds no records.
	ErrNoData = errors.New("no data for period")

	// ErrUnknownPeriod is returned for an unrecognized symbolic period.
	ErrUnknownPeriod = errors.New("unknown period")

	// ErrInvalidWindow is returned for a window whose end does not lie
	// strictly after its start.
	ErrInvalidWindow = errors.New("invalid window: end not after start")

	// ErrUnknownStore is returned when a store id is not in the configured
	// registry.
	ErrUnknownStore = errors.New("unknown store")
)

// SourceError carries the failing endpoint alongside the transport cause.
type SourceError struct {
	Store  StoreID
	Sensor string
	URL    string
	Status int
	Cause  error
}

func (e *SourceError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("source %s (store %s): status %d", e.URL, e.Store, e.Status)
	}
	return fmt.Sprintf("source %s (store %s): %v", e.URL, e.Store, e.Cause)
}

func (e *SourceError) Unwrap() error { return ErrSourceUnavailable }

// NoDataError reports the window that came up empty.
type NoDataError struct {
	Stores []StoreID
	Window Window
}

func (e *NoDataError) Error() string {
	return fmt.Sprintf("no data for period %s", e.Window)
}

func (e *NoDataError) Unwrap() error { return ErrNoData }
