package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"cloud.google.com/go/civil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/example/testsched/internal/domain/booking"
	"github.com/example/testsched/internal/journal"
	"github.com/example/testsched/internal/metrics"
	"github.com/example/testsched/internal/notify"
	"github.com/example/testsched/internal/prompt"
	"github.com/example/testsched/internal/scheduler"
	"github.com/example/testsched/internal/web"
)

var errInterrupted = errors.New("interrupted")

type runFlags struct {
	username      string
	start, end    string
	locations     string
	open          bool
	stopOnBooking bool
	migrateUp     bool
}

func newRunCmd() *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Poll for open slots until one is booked or the scheduler gives up",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			p := prompt.New(cmd.InOrStdin(), cmd.OutOrStdout())
			client, err := a.login(ctx, p, f.username)
			if err != nil {
				return err
			}
			req, err := f.request(cmd, p)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Start: %s   End: %s\n", dateOrAny(req.Start), dateOrAny(req.End))

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			eng := &scheduler.Engine{
				Backend:           client,
				Notifier:          a.notifier(f.open),
				Delay:             &scheduler.Jitter{Min: a.cfg.PollMin, Spread: a.cfg.PollJitter},
				Log:               a.log.With(slog.String("component", "scheduler")),
				Observer:          metrics.New(reg),
				BaseURL:           client.BaseURL(),
				StopPassOnBooking: f.stopOnBooking,
			}

			var runs web.RunLister
			if a.cfg.DatabaseURL != "" {
				d, err := a.openDB(ctx, f.migrateUp)
				if err != nil {
					return err
				}
				defer d.Close()
				repo := journal.NewRepo(d)
				eng.Journal, runs = repo, repo
			}

			if a.cfg.ListenAddr != "" {
				ws := &web.Server{Status: eng, Gatherer: reg, Runs: runs, Log: a.log}
				go func() {
					if err := web.Start(ctx, a.cfg.ListenAddr, ws.Routes(), a.log); err != nil {
						a.log.Error("web server stopped", slog.Any("err", err))
					}
				}()
			}

			res, err := eng.Run(ctx, req)
			return report(cmd.OutOrStdout(), res, err)
		},
	}

	cmd.Flags().StringVar(&f.username, "username", "", "email or phone number (default $BEACON_USERNAME, else prompted)")
	cmd.Flags().StringVar(&f.start, "start", "", "first acceptable day, YYYY-MM-DD")
	cmd.Flags().StringVar(&f.end, "end", "", "last acceptable day, YYYY-MM-DD")
	cmd.Flags().StringVar(&f.locations, "locations", "", "comma-separated site names; blank for all")
	cmd.Flags().BoolVar(&f.open, "open", false, "open booked appointments in the browser")
	cmd.Flags().BoolVar(&f.stopOnBooking, "stop-on-booking", false, "end a pass at the first booking instead of visiting every site")
	cmd.Flags().BoolVar(&f.migrateUp, "migrate", true, "apply journal migrations on startup when DATABASE_URL is set")
	cmd.Flags().Lookup("migrate").NoOptDefVal = "true"
	return cmd
}

// request builds the search window from flags, prompting for whatever was not
// passed. Dates and locations are prompted only when none of them were given.
func (f runFlags) request(cmd *cobra.Command, p *prompt.Prompter) (booking.Request, error) {
	flags := cmd.Flags()
	if !flags.Changed("start") && !flags.Changed("end") && !flags.Changed("locations") {
		first, last, err := p.Window()
		if err != nil {
			return booking.Request{}, err
		}
		locs, err := p.Locations("Which locations can you use? (Comma separated list. Blank for all.)")
		if err != nil {
			return booking.Request{}, err
		}
		return booking.NewRequest(first, last, locs), nil
	}

	first, err := parseDateFlag("start", f.start)
	if err != nil {
		return booking.Request{}, err
	}
	last, err := parseDateFlag("end", f.end)
	if err != nil {
		return booking.Request{}, err
	}
	if !booking.IsZeroDate(first) && !booking.IsZeroDate(last) && last.Before(first) {
		return booking.Request{}, fmt.Errorf("--end %s is before --start %s", last, first)
	}
	return booking.NewRequest(first, last, booking.ParseLocations(f.locations)), nil
}

func parseDateFlag(name, v string) (civil.Date, error) {
	if v == "" {
		return civil.Date{}, nil
	}
	d, err := civil.ParseDate(v)
	if err != nil {
		return civil.Date{}, fmt.Errorf("invalid --%s (want YYYY-MM-DD): %w", name, err)
	}
	return d, nil
}

func (a *app) notifier(open bool) notify.Notifier {
	ns := notify.Multi{notify.Log{Logger: a.log}}
	if open {
		ns = append(ns, notify.Opener{Log: a.log})
	}
	if a.cfg.TelegramEnabled() {
		tg, err := notify.NewTelegram(a.cfg.TelegramToken, a.cfg.TelegramChatID, a.log)
		if err != nil {
			a.log.Warn("telegram disabled", slog.Any("err", err))
		} else {
			ns = append(ns, tg)
		}
	}
	return ns
}

// report prints the outcome of a run and maps it to the command error.
func report(w io.Writer, res scheduler.Result, err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		fmt.Fprintf(w, "stopped after %d passes\n", res.State.Passes)
		return errInterrupted
	case err != nil:
		return err
	}
	for _, appt := range res.State.Appointments {
		fmt.Fprintf(w, "booked %s at %s (%s)\n", appt.ID, appt.SiteName, appt.SlotStart.Format("Mon Jan 2 2006 3:04 PM"))
	}
	return nil
}

func dateOrAny(d civil.Date) string {
	if booking.IsZeroDate(d) {
		return "any"
	}
	return d.String()
}
