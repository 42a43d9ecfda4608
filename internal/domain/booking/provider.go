package booking

import (
	"context"
	"errors"
	"fmt"
)

// Backend is the remote scheduling service. Implementations hold an already
// authenticated session; every failure is reported as a *BackendError.
type Backend interface {
	// ListSites returns the sites in listing order plus a best-effort availability summary.
	ListSites(ctx context.Context) ([]Site, []AvailabilityWindow, error)
	ListAvailableDates(ctx context.Context, siteID string) ([]DateCandidate, error)
	// ListTimeSlots returns slots in backend order; callers treat the first as preferred.
	ListTimeSlots(ctx context.Context, siteID string, date DateCandidate) ([]TimeSlot, error)
	// BookSlot reserves the slot and returns the appointment id. It never retries.
	BookSlot(ctx context.Context, slotID string) (string, error)
}

// ErrGaveUp marks a run that stopped after consecutive failed passes.
var ErrGaveUp = errors.New("gave up after consecutive failed passes")

// BackendError wraps any failure reported by a Backend call.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// WrapBackend returns err as a *BackendError for op, leaving nil and existing BackendErrors alone.
func WrapBackend(op string, err error) error {
	if err == nil {
		return nil
	}
	var be *BackendError
	if errors.As(err, &be) {
		return err
	}
	return &BackendError{Op: op, Err: err}
}

func IsBackendError(err error) bool {
	var be *BackendError
	return errors.As(err, &be)
}
