package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/example/testsched/internal/beacon"
	"github.com/example/testsched/internal/config"
	"github.com/example/testsched/internal/db"
	"github.com/example/testsched/internal/logger"
	"github.com/example/testsched/internal/migrate"
	"github.com/example/testsched/internal/prompt"
)

// app holds what every subcommand sets up first.
type app struct {
	cfg      config.Config
	log      *slog.Logger
	closeLog func() error
}

func loadApp() (*app, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	log, closeLog := logger.New(logger.Options{
		Env:          cfg.Env,
		ConsoleLevel: cfg.LogLevel,
		FileLevel:    cfg.LogFileLevel,
		File:         cfg.LogFile,
		App:          "testsched",
	})
	slog.SetDefault(log)
	return &app{cfg: cfg, log: log, closeLog: closeLog}, nil
}

func (a *app) close() {
	if err := a.closeLog(); err != nil {
		fmt.Fprintln(os.Stderr, "close log:", err)
	}
}

// login resolves credentials from flag, then environment, then prompt, and
// returns a client holding the session.
func (a *app) login(ctx context.Context, p *prompt.Prompter, username string) (*beacon.Client, error) {
	var err error
	if username == "" {
		username = a.cfg.BeaconUsername
	}
	if username == "" {
		if username, err = p.Text("What is your email/phone number?"); err != nil {
			return nil, err
		}
	}
	password := a.cfg.BeaconPassword
	if password == "" {
		if password, err = p.Password("What is your password?"); err != nil {
			return nil, err
		}
	}

	client := beacon.New(beacon.Config{
		BaseURL: a.cfg.BeaconBaseURL,
		Timeout: a.cfg.RequestTimeout,
		RPS:     a.cfg.BackendRPS,
		Log:     a.log.With(slog.String("component", "beacon")),
	})
	if err := client.Login(ctx, username, password); err != nil {
		return nil, err
	}
	return client, nil
}

func (a *app) openDB(ctx context.Context, migrateUp bool) (*db.DB, error) {
	if a.cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	d, err := db.Open(ctx, a.cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if migrateUp {
		if err := migrate.Up(ctx, d, a.log); err != nil {
			d.Close()
			return nil, err
		}
	}
	return d, nil
}
