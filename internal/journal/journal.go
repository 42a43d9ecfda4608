// Package journal stores run history in Postgres.
package journal

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/example/testsched/internal/db"
	"github.com/example/testsched/internal/domain/booking"
	"github.com/example/testsched/internal/scheduler"
)

// Run is one row of the runs table.
type Run struct {
	ID         uuid.UUID
	StartedAt  time.Time
	FinishedAt *time.Time
	Start      civil.Date
	End        civil.Date
	Locations  []string
	Phase      scheduler.Phase
	Passes     int
	HasBooked  bool
	LastError  *string

	Appointments []booking.Appointment
}

type Repo struct{ db *db.DB }

func NewRepo(d *db.DB) *Repo { return &Repo{db: d} }

var _ scheduler.Journal = (*Repo)(nil)

func (r *Repo) StartRun(ctx context.Context, id uuid.UUID, req booking.Request) error {
	locs := req.Locations
	if locs == nil {
		locs = []string{}
	}
	_, err := r.db.Exec(ctx, `
INSERT INTO runs(id, start_date, end_date, locations, phase)
VALUES ($1, $2, $3, $4, $5)`,
		id, dateArg(req.Start), dateArg(req.End), locs, string(scheduler.PhaseRunning))
	return db.WrapNotFound(err)
}

// RecordPass stores the pass and any appointments it booked in one transaction.
func (r *Repo) RecordPass(ctx context.Context, id uuid.UUID, p scheduler.PassRecord) error {
	var errText *string
	if p.Err != nil {
		s := p.Err.Error()
		errText = &s
	}
	return r.db.InTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
INSERT INTO run_passes(run_id, pass, outcome, bookings, error, duration_ms)
VALUES ($1, $2, $3, $4, $5, $6)`,
			id, p.Pass, p.Outcome, len(p.Bookings), errText, p.Duration.Milliseconds()); err != nil {
			return fmt.Errorf("insert pass: %w", err)
		}
		for _, a := range p.Bookings {
			if _, err := tx.Exec(ctx, `
INSERT INTO run_appointments(run_id, appointment_id, site_name, slot_start)
VALUES ($1, $2, $3, $4)
ON CONFLICT DO NOTHING`, id, a.ID, a.SiteName, a.SlotStart); err != nil {
				return fmt.Errorf("insert appointment: %w", err)
			}
		}
		_, err := tx.Exec(ctx, `UPDATE runs SET passes=$2 WHERE id=$1`, id, p.Pass)
		return err
	})
}

func (r *Repo) FinishRun(ctx context.Context, id uuid.UUID, st scheduler.State) error {
	var lastErr *string
	if st.LastError != "" {
		lastErr = &st.LastError
	}
	tag, err := r.db.Exec(ctx, `
UPDATE runs SET finished_at=now(), phase=$2, passes=$3, has_booked=$4, last_error=$5
WHERE id=$1`, id, string(st.Phase), st.Passes, st.HasBooked, lastErr)
	if err != nil {
		return db.WrapNotFound(err)
	}
	if tag.RowsAffected() == 0 {
		return db.ErrNotFound
	}
	return nil
}

// ListRuns returns the most recent runs first, with their appointments.
func (r *Repo) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.Query(ctx, `
SELECT id, started_at, finished_at, start_date, end_date, locations, phase, passes, has_booked, last_error
FROM runs
ORDER BY started_at DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, db.WrapNotFound(err)
	}
	defer rows.Close()

	var out []Run
	byID := map[uuid.UUID]int{}
	for rows.Next() {
		var (
			run        Run
			start, end *time.Time
			phase      string
		)
		if err := rows.Scan(&run.ID, &run.StartedAt, &run.FinishedAt, &start, &end, &run.Locations, &phase, &run.Passes, &run.HasBooked, &run.LastError); err != nil {
			return nil, err
		}
		run.Start, run.End = fromDate(start), fromDate(end)
		run.Phase = scheduler.Phase(phase)
		byID[run.ID] = len(out)
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	ids := make([]uuid.UUID, 0, len(out))
	for _, run := range out {
		ids = append(ids, run.ID)
	}
	arows, err := r.db.Query(ctx, `
SELECT run_id, appointment_id, site_name, slot_start
FROM run_appointments
WHERE run_id = ANY($1)
ORDER BY booked_at`, ids)
	if err != nil {
		return nil, db.WrapNotFound(err)
	}
	defer arows.Close()
	for arows.Next() {
		var (
			runID uuid.UUID
			a     booking.Appointment
		)
		if err := arows.Scan(&runID, &a.ID, &a.SiteName, &a.SlotStart); err != nil {
			return nil, err
		}
		if i, ok := byID[runID]; ok {
			out[i].Appointments = append(out[i].Appointments, a)
		}
	}
	return out, arows.Err()
}

func dateArg(d civil.Date) any {
	if booking.IsZeroDate(d) {
		return nil
	}
	return d.In(time.UTC)
}

func fromDate(t *time.Time) civil.Date {
	if t == nil {
		return civil.Date{}
	}
	return civil.DateOf(*t)
}
