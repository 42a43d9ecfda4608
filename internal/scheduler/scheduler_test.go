package scheduler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/testsched/internal/domain/booking"
	"github.com/example/testsched/internal/notify"
)

var errDown = errors.New("service unavailable")

// fakeBackend serves a fixed catalogue and counts site and slot lookups.
// failAll makes every call fail.
type fakeBackend struct {
	mu       sync.Mutex
	sites    []booking.Site
	dates    map[string][]civil.Date
	slots    map[string][]booking.TimeSlot // key: siteID/date
	failAll  bool
	failBook error

	listSites int
	listSlots int
	booked    []string
}

func (f *fakeBackend) hit() error {
	if f.failAll {
		return errDown
	}
	return nil
}

func (f *fakeBackend) ListSites(context.Context) ([]booking.Site, []booking.AvailabilityWindow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listSites++
	if err := f.hit(); err != nil {
		return nil, nil, err
	}
	return f.sites, nil, nil
}

func (f *fakeBackend) ListAvailableDates(_ context.Context, siteID string) ([]civil.Date, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit(); err != nil {
		return nil, err
	}
	return f.dates[siteID], nil
}

func (f *fakeBackend) ListTimeSlots(_ context.Context, siteID string, date civil.Date) ([]booking.TimeSlot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listSlots++
	if err := f.hit(); err != nil {
		return nil, err
	}
	return f.slots[siteID+"/"+date.String()], nil
}

func (f *fakeBackend) BookSlot(_ context.Context, slotID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.hit(); err != nil {
		return "", err
	}
	if f.failBook != nil {
		return "", f.failBook
	}
	f.booked = append(f.booked, slotID)
	return "appt-" + slotID, nil
}

type notes struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (n *notes) Notify(_ context.Context, m notify.Message) {
	n.mu.Lock()
	n.msgs = append(n.msgs, m)
	n.mu.Unlock()
}

func (n *notes) titles() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, m := range n.msgs {
		out = append(out, m.Title)
	}
	return out
}

// instantDelay records requested delays and fires immediately.
type instantDelay struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (d *instantDelay) jitter() *Jitter {
	return &Jitter{
		Min:    DefaultMinDelay,
		Spread: DefaultSpread,
		Rand:   rand.New(rand.NewPCG(7, 7)),
		After: func(x time.Duration) <-chan time.Time {
			d.mu.Lock()
			d.delays = append(d.delays, x)
			d.mu.Unlock()
			ch := make(chan time.Time, 1)
			ch <- time.Now()
			return ch
		},
	}
}

func day(n int) civil.Date { return civil.Date{Year: 2021, Month: time.January, Day: n} }

func slot(id string, hour int) booking.TimeSlot {
	return booking.TimeSlot{ID: id, Start: time.Date(2021, time.January, 5, hour, 0, 0, 0, time.UTC)}
}

func newEngine(b booking.Backend, n notify.Notifier, d *instantDelay) *Engine {
	return &Engine{
		Backend:  b,
		Notifier: n,
		Delay:    d.jitter(),
		Log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		BaseURL:  "https://app.beacontesting.com",
	}
}

func TestRunHappyPathBooksOnce(t *testing.T) {
	b := &fakeBackend{
		sites: []booking.Site{{ID: "s1", Name: "Kendall"}},
		dates: map[string][]civil.Date{"s1": {day(5)}},
		slots: map[string][]booking.TimeSlot{"s1/2021-01-05": {slot("t1", 9)}},
	}
	n := &notes{}
	d := &instantDelay{}
	e := newEngine(b, n, d)

	res, err := e.Run(context.Background(), booking.NewRequest(day(4), day(6), nil))
	require.NoError(t, err)

	assert.Equal(t, PhaseBooked, res.State.Phase)
	assert.True(t, res.State.HasBooked)
	assert.Equal(t, 1, res.State.Passes)
	assert.Equal(t, []string{"t1"}, b.booked)
	assert.Empty(t, d.delays, "no further pass is scheduled")

	appt, ok := res.Appointment()
	require.True(t, ok)
	assert.Equal(t, "appt-t1", appt.ID)
	assert.Equal(t, "Kendall", appt.SiteName)

	assert.Equal(t, []string{notifyTitle, "Appointment Scheduled"}, n.titles())
	assert.Equal(t, "https://app.beacontesting.com/appointment/appt-t1", n.msgs[1].Link)
	assert.Equal(t, PhaseBooked, e.Snapshot().Phase)
	assert.NotEqual(t, uuid.Nil, res.RunID)
}

func TestRunAbortsAfterTwoFailedPasses(t *testing.T) {
	b := &fakeBackend{failAll: true}
	d := &instantDelay{}
	e := newEngine(b, &notes{}, d)

	res, err := e.Run(context.Background(), booking.Request{})
	require.Error(t, err)

	assert.ErrorIs(t, err, booking.ErrGaveUp)
	assert.ErrorIs(t, err, errDown)
	assert.True(t, booking.IsBackendError(err))
	var abort *AbortError
	require.ErrorAs(t, err, &abort)
	assert.Equal(t, 2, abort.Passes)

	assert.Equal(t, PhaseAborted, res.State.Phase)
	assert.False(t, res.State.HasBooked)
	assert.Equal(t, 2, res.State.Passes)
	assert.Equal(t, 2, b.listSites, "site list is retried until it loads")
	assert.Len(t, d.delays, 1, "exactly one wait between the two passes, no third pass")
	_, ok := res.Appointment()
	assert.False(t, ok)
}

// A site with several bookable dates is booked once per pass: the first date
// with slots wins and the rest of that site's dates are skipped.
func TestPassBooksAtMostOncePerSite(t *testing.T) {
	b := &fakeBackend{
		sites: []booking.Site{{ID: "s1", Name: "Kendall"}},
		dates: map[string][]civil.Date{"s1": {day(6), day(5)}},
		slots: map[string][]booking.TimeSlot{
			"s1/2021-01-06": {slot("late", 8), slot("later", 9)},
			"s1/2021-01-05": {slot("early", 8)},
		},
	}
	e := newEngine(b, &notes{}, &instantDelay{})

	res, err := e.Run(context.Background(), booking.Request{})
	require.NoError(t, err)

	// Backend order is trusted for both dates and slots; nothing is re-sorted.
	assert.Equal(t, []string{"late"}, b.booked)
	assert.Len(t, res.State.Appointments, 1)
}

// A booking does not end the pass: later sites in the same sweep are still
// visited and may book too. StopPassOnBooking turns this off.
func TestPassContinuesToOtherSitesAfterBooking(t *testing.T) {
	newBackend := func() *fakeBackend {
		return &fakeBackend{
			sites: []booking.Site{{ID: "a", Name: "Kendall"}, {ID: "b", Name: "Back Bay"}},
			dates: map[string][]civil.Date{"a": {day(5)}, "b": {day(5)}},
			slots: map[string][]booking.TimeSlot{
				"a/2021-01-05": {slot("a1", 9)},
				"b/2021-01-05": {slot("b1", 9)},
			},
		}
	}

	t.Run("default visits every site", func(t *testing.T) {
		b := newBackend()
		res, err := newEngine(b, &notes{}, &instantDelay{}).Run(context.Background(), booking.Request{})
		require.NoError(t, err)
		assert.Equal(t, []string{"a1", "b1"}, b.booked)
		assert.Len(t, res.State.Appointments, 2)
		appt, _ := res.Appointment()
		assert.Equal(t, "appt-a1", appt.ID)
	})

	t.Run("stop pass on booking", func(t *testing.T) {
		b := newBackend()
		e := newEngine(b, &notes{}, &instantDelay{})
		e.StopPassOnBooking = true
		res, err := e.Run(context.Background(), booking.Request{})
		require.NoError(t, err)
		assert.Equal(t, []string{"a1"}, b.booked)
		assert.Len(t, res.State.Appointments, 1)
	})
}

func TestRunAppliesFilters(t *testing.T) {
	b := &fakeBackend{
		sites: []booking.Site{{ID: "a", Name: "Kendall"}, {ID: "b", Name: "Back Bay"}},
		dates: map[string][]civil.Date{"a": {day(5)}, "b": {day(3), day(9), day(7)}},
		slots: map[string][]booking.TimeSlot{
			"a/2021-01-05": {slot("a1", 9)},
			"b/2021-01-03": {slot("b3", 9)},
			"b/2021-01-09": {slot("b9", 9)},
			"b/2021-01-07": {slot("b7", 9)},
		},
	}
	e := newEngine(b, &notes{}, &instantDelay{})

	_, err := e.Run(context.Background(), booking.NewRequest(day(4), day(8), []string{"Bay"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"b7"}, b.booked)
}

// flakyBackend fails the whole listing on the passes named in failOn and
// opens a slot on openOn. Other passes offer a date with no free slots.
type flakyBackend struct {
	fakeBackend
	pass   int
	failOn map[int]bool
	openOn int
}

func (f *flakyBackend) ListAvailableDates(ctx context.Context, siteID string) ([]civil.Date, error) {
	f.pass++
	if f.failOn[f.pass] {
		return nil, errDown
	}
	if f.pass == f.openOn {
		return []civil.Date{day(5)}, nil
	}
	return []civil.Date{day(6)}, nil
}

func TestSiteListLoadedOncePerRun(t *testing.T) {
	b := &flakyBackend{
		fakeBackend: fakeBackend{
			sites: []booking.Site{{ID: "s1", Name: "Kendall"}},
			slots: map[string][]booking.TimeSlot{"s1/2021-01-05": {slot("t1", 9)}},
		},
		openOn: 4,
	}
	res, err := newEngine(b, &notes{}, &instantDelay{}).Run(context.Background(), booking.Request{})
	require.NoError(t, err)

	assert.Equal(t, 4, res.State.Passes)
	assert.Equal(t, 1, b.listSites)
	// dates and slots are fetched fresh on every pass
	assert.Equal(t, 4, b.pass)
	assert.Equal(t, 4, b.listSlots)
	assert.Equal(t, []string{"t1"}, b.booked)
}

func TestFailureResetByCleanPass(t *testing.T) {
	b := &flakyBackend{
		fakeBackend: fakeBackend{
			sites: []booking.Site{{ID: "s1", Name: "Kendall"}},
			slots: map[string][]booking.TimeSlot{"s1/2021-01-05": {slot("t1", 9)}},
		},
		failOn: map[int]bool{1: true, 3: true, 5: true},
		openOn: 6,
	}
	d := &instantDelay{}
	res, err := newEngine(b, &notes{}, d).Run(context.Background(), booking.Request{})
	require.NoError(t, err)

	assert.Equal(t, PhaseBooked, res.State.Phase)
	assert.Equal(t, 6, res.State.Passes)
	assert.Len(t, d.delays, 5)
	assert.False(t, res.State.LastPassFailed)
}

func TestBookingFailureCountsAsFailedPass(t *testing.T) {
	b := &fakeBackend{
		sites:    []booking.Site{{ID: "s1", Name: "Kendall"}},
		dates:    map[string][]civil.Date{"s1": {day(5)}},
		slots:    map[string][]booking.TimeSlot{"s1/2021-01-05": {slot("t1", 9)}},
		failBook: errors.New("slot already taken"),
	}
	res, err := newEngine(b, &notes{}, &instantDelay{}).Run(context.Background(), booking.Request{})
	require.ErrorIs(t, err, booking.ErrGaveUp)
	assert.Equal(t, PhaseAborted, res.State.Phase)
	assert.Contains(t, res.State.LastError, "slot already taken")
}

func TestApplyPolicy(t *testing.T) {
	appt := booking.Appointment{ID: "x"}
	fail := PassOutcome{Err: errDown}

	s := apply(State{Phase: PhaseRunning}, fail)
	assert.Equal(t, PhaseRunning, s.Phase)
	assert.True(t, s.LastPassFailed)

	s = apply(s, PassOutcome{})
	assert.Equal(t, PhaseRunning, s.Phase)
	assert.False(t, s.LastPassFailed)

	s = apply(apply(s, fail), fail)
	assert.Equal(t, PhaseAborted, s.Phase)
	assert.Equal(t, 4, s.Passes)

	// A failure after a booking in the same pass still ends as booked.
	s = apply(State{Phase: PhaseRunning, LastPassFailed: true}, PassOutcome{Booked: []booking.Appointment{appt}, Err: errDown})
	assert.Equal(t, PhaseBooked, s.Phase)
	assert.True(t, s.HasBooked)

	// An interrupted pass neither extends nor resets the failure streak.
	s = apply(State{Phase: PhaseRunning, LastPassFailed: true}, PassOutcome{Canceled: true})
	assert.Equal(t, PhaseRunning, s.Phase)
	assert.True(t, s.LastPassFailed)
	s = apply(State{Phase: PhaseRunning}, PassOutcome{Canceled: true})
	assert.False(t, s.LastPassFailed)
	assert.Equal(t, "canceled", PassOutcome{Canceled: true}.label())
}

func TestApplyDoesNotAliasAppointments(t *testing.T) {
	s := State{Phase: PhaseRunning, Appointments: make([]booking.Appointment, 1, 4)}
	next := apply(s, PassOutcome{Booked: []booking.Appointment{{ID: "b"}}})
	assert.Len(t, s.Appointments, 1)
	assert.Len(t, next.Appointments, 2)
}

func TestRunStopsOnCancel(t *testing.T) {
	b := &fakeBackend{sites: []booking.Site{{ID: "s1", Name: "Kendall"}}}
	ctx, cancel := context.WithCancel(context.Background())
	e := newEngine(b, &notes{}, &instantDelay{})
	e.Delay.After = func(time.Duration) <-chan time.Time {
		cancel()
		return make(chan time.Time)
	}

	res, err := e.Run(ctx, booking.Request{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, PhaseRunning, res.State.Phase)
	assert.Equal(t, 1, res.State.Passes)
}

// cancelingBackend cancels the run from inside ListAvailableDates on pass cancelOn.
type cancelingBackend struct {
	flakyBackend
	cancelOn int
	cancel   context.CancelFunc
}

func (c *cancelingBackend) ListAvailableDates(ctx context.Context, siteID string) ([]civil.Date, error) {
	if c.pass+1 == c.cancelOn {
		c.pass++
		c.cancel()
		return nil, ctx.Err()
	}
	return c.flakyBackend.ListAvailableDates(ctx, siteID)
}

func TestCancelMidPassIsNotAFailureOrACleanPass(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := &cancelingBackend{
		flakyBackend: flakyBackend{
			fakeBackend: fakeBackend{sites: []booking.Site{{ID: "s1", Name: "Kendall"}}},
			failOn:      map[int]bool{1: true},
		},
		cancelOn: 2,
		cancel:   cancel,
	}
	j := &recordingJournal{}
	o := &countingObserver{}
	e := newEngine(b, &notes{}, &instantDelay{})
	e.Journal, e.Observer = j, o

	res, err := e.Run(ctx, booking.Request{})
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, booking.ErrGaveUp)

	assert.Equal(t, PhaseRunning, res.State.Phase)
	assert.Equal(t, 2, res.State.Passes)
	assert.True(t, res.State.LastPassFailed, "failure streak survives the interrupted pass")
	assert.Contains(t, res.State.LastError, errDown.Error())

	require.Len(t, j.passes, 2)
	assert.Equal(t, "failed", j.passes[0].Outcome)
	assert.Equal(t, "canceled", j.passes[1].Outcome)
	assert.NoError(t, j.passes[1].Err)
	assert.Equal(t, []string{"failed", "canceled"}, o.outcomes)
	require.Len(t, j.finished, 1)
	assert.Equal(t, PhaseRunning, j.finished[0].Phase)
}

func TestProgressLoggedAtInfo(t *testing.T) {
	b := &fakeBackend{
		sites: []booking.Site{{ID: "s1", Name: "Kendall"}},
		dates: map[string][]civil.Date{"s1": {day(5)}},
		slots: map[string][]booking.TimeSlot{"s1/2021-01-05": {slot("t1", 9)}},
	}
	var buf bytes.Buffer
	e := newEngine(b, &notes{}, &instantDelay{})
	e.Log = slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	_, err := e.Run(context.Background(), booking.Request{})
	require.NoError(t, err)
	out := buf.String()
	for _, msg := range []string{"checking for appointments", "dates available", "found available appointment", "got appointment"} {
		assert.Contains(t, out, msg)
	}
}

func TestSnapshotBeforeRun(t *testing.T) {
	e := &Engine{}
	assert.Equal(t, PhaseIdle, e.Snapshot().Phase)
}

func TestRunRequiresBackend(t *testing.T) {
	_, err := (&Engine{}).Run(context.Background(), booking.Request{})
	require.Error(t, err)
}

type recordingJournal struct {
	started  int
	passes   []PassRecord
	finished []State
	err      error
}

func (j *recordingJournal) StartRun(context.Context, uuid.UUID, booking.Request) error {
	j.started++
	return j.err
}

func (j *recordingJournal) RecordPass(_ context.Context, _ uuid.UUID, p PassRecord) error {
	j.passes = append(j.passes, p)
	return j.err
}

func (j *recordingJournal) FinishRun(_ context.Context, _ uuid.UUID, st State) error {
	j.finished = append(j.finished, st)
	return j.err
}

type countingObserver struct {
	outcomes []string
	booked   int
	delays   []time.Duration
}

func (o *countingObserver) PassFinished(outcome string, _ time.Duration) {
	o.outcomes = append(o.outcomes, outcome)
}
func (o *countingObserver) Booked(booking.Appointment)  { o.booked++ }
func (o *countingObserver) NextPassIn(d time.Duration) { o.delays = append(o.delays, d) }

func TestJournalAndObserverSeeEveryPass(t *testing.T) {
	b := &flakyBackend{
		fakeBackend: fakeBackend{
			sites: []booking.Site{{ID: "s1", Name: "Kendall"}},
			slots: map[string][]booking.TimeSlot{"s1/2021-01-05": {slot("t1", 9)}},
		},
		failOn: map[int]bool{1: true},
		openOn: 3,
	}
	j := &recordingJournal{err: errors.New("db down")}
	o := &countingObserver{}
	e := newEngine(b, &notes{}, &instantDelay{})
	e.Journal, e.Observer = j, o

	_, err := e.Run(context.Background(), booking.Request{})
	require.NoError(t, err, "journal failures do not affect the run")

	assert.Equal(t, 1, j.started)
	require.Len(t, j.passes, 3)
	assert.Equal(t, []string{"failed", "empty", "booked"}, []string{j.passes[0].Outcome, j.passes[1].Outcome, j.passes[2].Outcome})
	require.Len(t, j.finished, 1)
	assert.Equal(t, PhaseBooked, j.finished[0].Phase)

	assert.Equal(t, []string{"failed", "empty", "booked"}, o.outcomes)
	assert.Equal(t, 1, o.booked)
	assert.Len(t, o.delays, 2)
}

func TestJitterBounds(t *testing.T) {
	j := DefaultJitter()
	for i := 0; i < 1000; i++ {
		d := j.Next()
		require.GreaterOrEqual(t, d, 12000*time.Millisecond)
		require.Less(t, d, 22000*time.Millisecond)
	}

	seeded := &Jitter{Min: DefaultMinDelay, Spread: DefaultSpread, Rand: rand.New(rand.NewPCG(1, 1))}
	seen := map[time.Duration]bool{}
	for i := 0; i < 1000; i++ {
		d := seeded.Next()
		require.GreaterOrEqual(t, d, DefaultMinDelay)
		require.Less(t, d, DefaultMinDelay+DefaultSpread)
		seen[d] = true
	}
	assert.Greater(t, len(seen), 900, "delays are spread out")

	fixed := &Jitter{Min: time.Second}
	assert.Equal(t, time.Second, fixed.Next())
}

func TestJitterSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	j := &Jitter{After: func(time.Duration) <-chan time.Time { return make(chan time.Time) }}
	assert.ErrorIs(t, j.Sleep(ctx, time.Hour), context.Canceled)

	fired := &Jitter{After: func(time.Duration) <-chan time.Time {
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	}}
	assert.NoError(t, fired.Sleep(context.Background(), time.Hour))
}
