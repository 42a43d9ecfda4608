package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Env          string `validate:"required,oneof=dev prod"`
	LogLevel     string `validate:"required,oneof=debug info warn error"`
	LogFileLevel string `validate:"required,oneof=debug info warn error"`
	LogFile      string

	BeaconBaseURL  string `validate:"required,url"`
	BeaconUsername string
	BeaconPassword string

	RequestTimeout time.Duration `validate:"min=1s"`
	BackendRPS     float64       `validate:"gt=0"`

	// scheduler
	PollMin    time.Duration `validate:"min=1s"`
	PollJitter time.Duration `validate:"min=0"`

	DatabaseURL string
	ListenAddr  string

	TelegramToken  string
	TelegramChatID int64 `validate:"required_with=TelegramToken"`
}

var validate = validator.New()

// FromEnv reads configuration from the environment, after loading an optional .env file.
func FromEnv() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Env:            strings.ToLower(getenv("ENV", "prod")),
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogFileLevel:   strings.ToLower(getenv("LOG_FILE_LEVEL", "debug")),
		LogFile:        os.Getenv("LOG_FILE"),
		BeaconBaseURL:  getenv("BEACON_BASE_URL", "https://app.beacontesting.com"),
		BeaconUsername: os.Getenv("BEACON_USERNAME"),
		BeaconPassword: os.Getenv("BEACON_PASSWORD"),
		DatabaseURL:    strings.TrimSpace(os.Getenv("DATABASE_URL")),
		ListenAddr:     strings.TrimSpace(os.Getenv("LISTEN_ADDR")),
		TelegramToken:  strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN")),
	}

	var err error
	if cfg.RequestTimeout, err = seconds("REQUEST_TIMEOUT_SECONDS", "20"); err != nil {
		return Config{}, err
	}
	if cfg.PollMin, err = seconds("POLL_MIN_SECONDS", "12"); err != nil {
		return Config{}, err
	}
	if cfg.PollJitter, err = seconds("POLL_JITTER_SECONDS", "10"); err != nil {
		return Config{}, err
	}
	if cfg.BackendRPS, err = strconv.ParseFloat(getenv("BACKEND_RPS", "2"), 64); err != nil {
		return Config{}, fmt.Errorf("invalid BACKEND_RPS")
	}
	if v := strings.TrimSpace(os.Getenv("TELEGRAM_CHAT_ID")); v != "" {
		if cfg.TelegramChatID, err = strconv.ParseInt(v, 10, 64); err != nil {
			return Config{}, fmt.Errorf("invalid TELEGRAM_CHAT_ID")
		}
	}

	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// TelegramEnabled reports whether both the bot token and chat id are set.
func (c Config) TelegramEnabled() bool {
	return c.TelegramToken != "" && c.TelegramChatID != 0
}

func seconds(key, def string) (time.Duration, error) {
	n, err := strconv.Atoi(getenv(key, def))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return time.Duration(n) * time.Second, nil
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}
