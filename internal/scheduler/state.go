package scheduler

import (
	"fmt"

	"github.com/example/testsched/internal/domain/booking"
)

// Phase is where a run stands: idle before Run, running, or one of the two terminal phases.
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseRunning Phase = "running"
	PhaseBooked  Phase = "booked"
	PhaseAborted Phase = "aborted"
)

// State is the per-run polling state. Only the engine's run loop mutates it;
// each pass receives the current value and the loop folds the outcome back in.
type State struct {
	Phase          Phase                 `json:"phase"`
	HasBooked      bool                  `json:"has_booked"`
	LastPassFailed bool                  `json:"last_pass_failed"`
	Passes         int                   `json:"passes"`
	Appointments   []booking.Appointment `json:"appointments,omitempty"`
	LastError      string                `json:"last_error,omitempty"`
}

// Terminal reports whether no further pass may be scheduled.
func (s State) Terminal() bool {
	return s.Phase == PhaseBooked || s.Phase == PhaseAborted
}

// BookedAppointment returns the first appointment produced by the run.
func (s State) BookedAppointment() (booking.Appointment, bool) {
	if len(s.Appointments) == 0 {
		return booking.Appointment{}, false
	}
	return s.Appointments[0], true
}

func (s State) clone() State {
	c := s
	c.Appointments = append([]booking.Appointment(nil), s.Appointments...)
	return c
}

// PassOutcome is the result of one sweep. Err is non-nil when the sweep was cut
// short by a backend failure; Booked holds whatever was booked before that point.
// Canceled marks a sweep interrupted by the caller's context; it is neither a
// failure nor a clean pass.
type PassOutcome struct {
	Booked   []booking.Appointment
	Err      error
	Canceled bool
}

func (o PassOutcome) label() string {
	switch {
	case o.Canceled:
		return "canceled"
	case o.Err != nil:
		return "failed"
	case len(o.Booked) > 0:
		return "booked"
	default:
		return "empty"
	}
}

// apply folds a pass outcome into the run state. Two failed passes in a row
// abort the run unless something was already booked.
func apply(s State, o PassOutcome) State {
	s = s.clone()
	s.Passes++
	if len(o.Booked) > 0 {
		s.Appointments = append(s.Appointments, o.Booked...)
		s.HasBooked = true
	}

	stop := s.HasBooked
	switch {
	case o.Canceled:
		// leaves the failure streak as it was
	case o.Err != nil:
		s.LastError = o.Err.Error()
		if s.LastPassFailed {
			stop = true
		}
		s.LastPassFailed = true
	default:
		s.LastPassFailed = false
	}

	switch {
	case !stop:
		s.Phase = PhaseRunning
	case s.HasBooked:
		s.Phase = PhaseBooked
	default:
		s.Phase = PhaseAborted
	}
	return s
}

// AbortError is returned by Run when the consecutive-failure policy ends the run.
type AbortError struct {
	Passes int
	Last   error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("%v (passes=%d): %v", booking.ErrGaveUp, e.Passes, e.Last)
}

func (e *AbortError) Unwrap() []error { return []error{booking.ErrGaveUp, e.Last} }
