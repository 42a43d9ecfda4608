package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/testsched/internal/domain/booking"
	"github.com/example/testsched/internal/notify"
)

const notifyTitle = "Covid Test Scheduler"

// Journal records run history. Failures are logged and never change the run.
type Journal interface {
	StartRun(ctx context.Context, runID uuid.UUID, req booking.Request) error
	RecordPass(ctx context.Context, runID uuid.UUID, p PassRecord) error
	FinishRun(ctx context.Context, runID uuid.UUID, st State) error
}

// PassRecord describes one finished pass for the journal.
type PassRecord struct {
	Pass     int
	Outcome  string
	Bookings []booking.Appointment
	Err      error
	Duration time.Duration
}

// Observer receives pass and booking events, typically for metrics.
type Observer interface {
	PassFinished(outcome string, d time.Duration)
	Booked(appt booking.Appointment)
	NextPassIn(d time.Duration)
}

// Engine polls the backend in passes until a slot is booked or the
// consecutive-failure policy gives up. Passes never overlap.
type Engine struct {
	Backend  booking.Backend
	Notifier notify.Notifier
	Delay    *Jitter
	Log      *slog.Logger
	Journal  Journal
	Observer Observer

	// BaseURL is used to build appointment links in notifications.
	BaseURL string
	// StopPassOnBooking ends a pass at the first booking instead of visiting
	// the remaining sites. Off by default: a pass may book at several sites.
	StopPassOnBooking bool

	mu    sync.Mutex
	state State
}

// Result is what a finished run leaves behind.
type Result struct {
	RunID uuid.UUID
	State State
}

// Appointment returns the first booked appointment, if any.
func (r Result) Appointment() (booking.Appointment, bool) {
	return r.State.BookedAppointment()
}

// run carries the values that live for one Run call.
type run struct {
	id     uuid.UUID
	req    booking.Request
	log    *slog.Logger
	sites  []booking.Site
	loaded bool
}

// Snapshot returns a copy of the current state; safe to call from other goroutines.
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Phase == "" {
		return State{Phase: PhaseIdle}
	}
	return e.state.clone()
}

func (e *Engine) publish(st State) {
	e.mu.Lock()
	e.state = st.clone()
	e.mu.Unlock()
}

// Run executes passes until the run reaches a terminal phase or ctx is done.
// A booked run returns a nil error; a policy abort returns an *AbortError.
func (e *Engine) Run(ctx context.Context, req booking.Request) (Result, error) {
	if e.Backend == nil {
		return Result{}, fmt.Errorf("backend is nil")
	}
	delay := e.Delay
	if delay == nil {
		delay = DefaultJitter()
	}
	log := e.Log
	if log == nil {
		log = slog.Default()
	}

	r := &run{id: uuid.New(), req: req}
	r.log = log.With(slog.String("run_id", r.id.String()))

	st := State{Phase: PhaseRunning}
	e.publish(st)
	r.log.Info("scheduling loop started",
		slog.String("start", dateAttr(req.Start)),
		slog.String("end", dateAttr(req.End)),
		slog.Any("locations", req.Locations))
	if e.Journal != nil {
		if err := e.Journal.StartRun(ctx, r.id, req); err != nil {
			r.log.Warn("journal start failed", slog.Any("err", err))
		}
	}
	e.notify(ctx, notify.Message{Title: notifyTitle, Body: "Started scheduling loop"})

	var lastErr error
	for {
		started := time.Now()
		out := e.pass(ctx, r)
		if out.Err != nil && ctx.Err() != nil {
			out.Err, out.Canceled = nil, true
		}
		st = apply(st, out)
		e.publish(st)
		e.recordPass(ctx, r, st.Passes, out, time.Since(started))

		if out.Err != nil {
			lastErr = out.Err
			r.log.Warn("pass failed", slog.Int("pass", st.Passes), slog.Any("err", out.Err))
		}
		if st.Terminal() {
			break
		}
		if out.Canceled {
			e.finish(r, st)
			return Result{RunID: r.id, State: st}, ctx.Err()
		}

		d := delay.Next()
		if e.Observer != nil {
			e.Observer.NextPassIn(d)
		}
		r.log.Info("sleeping", slog.Duration("delay", d))
		if err := delay.Sleep(ctx, d); err != nil {
			e.finish(r, st)
			return Result{RunID: r.id, State: st}, err
		}
	}

	e.finish(r, st)
	res := Result{RunID: r.id, State: st}
	if st.Phase == PhaseAborted {
		r.log.Error("giving up", slog.Int("passes", st.Passes), slog.Any("err", lastErr))
		e.notify(ctx, notify.Message{Title: notifyTitle, Body: "Gave up after consecutive failures"})
		return res, &AbortError{Passes: st.Passes, Last: lastErr}
	}
	return res, nil
}

// pass performs one sweep over the filtered sites. The first backend error
// ends the sweep; bookings made before it are still reported.
func (e *Engine) pass(ctx context.Context, r *run) (out PassOutcome) {
	if !r.loaded {
		sites, windows, err := e.Backend.ListSites(ctx)
		if err != nil {
			out.Err = booking.WrapBackend("listSites", err)
			return out
		}
		r.sites, r.loaded = sites, true
		for _, w := range windows {
			if w.NextAvailable != nil {
				r.log.Info("site availability", slog.String("site", w.SiteName), slog.Time("next", *w.NextAvailable))
			}
		}
	}

	for _, site := range booking.FilterSites(r.sites, r.req.Locations) {
		r.log.Info("checking for appointments", slog.String("site", site.Name))
		dates, err := e.Backend.ListAvailableDates(ctx, site.ID)
		if err != nil {
			out.Err = booking.WrapBackend("listAvailableDates", err)
			return out
		}
		r.log.Info("dates available", slog.String("site", site.Name), slog.Any("dates", dates))

		for _, date := range booking.FilterDates(dates, r.req.Start, r.req.End) {
			slots, err := e.Backend.ListTimeSlots(ctx, site.ID, date)
			if err != nil {
				out.Err = booking.WrapBackend("listTimeSlots", err)
				return out
			}
			if len(slots) == 0 {
				continue
			}
			// Backend order decides which slot is best.
			slot := slots[0]
			r.log.Info("found available appointment", slog.String("site", site.Name),
				slog.String("slot_id", slot.ID), slog.Time("start", slot.Start))

			id, err := e.Backend.BookSlot(ctx, slot.ID)
			if err != nil {
				out.Err = booking.WrapBackend("bookSlot", err)
				return out
			}
			appt := booking.Appointment{ID: id, SiteName: site.Name, SlotStart: slot.Start}
			out.Booked = append(out.Booked, appt)
			e.announce(ctx, r, appt)
			break
		}

		if e.StopPassOnBooking && len(out.Booked) > 0 {
			return out
		}
	}
	return out
}

func (e *Engine) announce(ctx context.Context, r *run, appt booking.Appointment) {
	link := booking.AppointmentLink(e.BaseURL, appt.ID)
	r.log.Info("got appointment", slog.String("link", link), slog.Time("start", appt.SlotStart))
	if e.Observer != nil {
		e.Observer.Booked(appt)
	}
	e.notify(ctx, notify.Message{
		Title: "Appointment Scheduled",
		Body:  fmt.Sprintf("New appointment at %s\nTime: %s", appt.SiteName, appt.SlotStart.Format("Monday, January 2, 2006 3:04 PM")),
		Link:  link,
	})
}

func (e *Engine) notify(ctx context.Context, m notify.Message) {
	if e.Notifier == nil {
		return
	}
	e.Notifier.Notify(ctx, m)
}

func (e *Engine) recordPass(ctx context.Context, r *run, n int, out PassOutcome, d time.Duration) {
	if e.Observer != nil {
		e.Observer.PassFinished(out.label(), d)
	}
	if e.Journal == nil {
		return
	}
	rec := PassRecord{Pass: n, Outcome: out.label(), Bookings: out.Booked, Err: out.Err, Duration: d}
	if err := e.Journal.RecordPass(context.WithoutCancel(ctx), r.id, rec); err != nil {
		r.log.Warn("journal pass failed", slog.Any("err", err))
	}
}

func (e *Engine) finish(r *run, st State) {
	if e.Journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Journal.FinishRun(ctx, r.id, st); err != nil {
		r.log.Warn("journal finish failed", slog.Any("err", err))
	}
}

func dateAttr(d booking.DateCandidate) string {
	if booking.IsZeroDate(d) {
		return "any"
	}
	return d.String()
}
