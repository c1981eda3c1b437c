package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	DefaultTimezone = "America/Argentina/Buenos_Aires"
)

type Config struct {
	Env         string
	ListenAddr  string
	DatabaseURL string
	Store       string

	DispatchWorkers   int
	DispatchInterval  time.Duration
	DispatchBatch     int
	DunningPlaybookID string

	SendTimeout     time.Duration
	WebhookURL      string
	RedisAddr       string
	Timezone        string
	PaymentLinkBase string
	TemplatesFile   string
	CORSOrigins     []string
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Load reads the environment, after merging a .env file when one exists.
// Variables already set in the environment win over the file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, eris.Wrap(err, "read .env")
	}
	cfg := Config{
		Env:               getenv("APP_ENV", "development"),
		ListenAddr:        getenv("LISTEN_ADDR", ":8080"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		Store:             strings.ToLower(getenv("STORE", StorePostgres)),
		DispatchWorkers:   getenvInt("DISPATCH_WORKERS", 0),
		DispatchInterval:  getenvDuration("DISPATCH_INTERVAL", time.Minute),
		DispatchBatch:     getenvInt("DISPATCH_BATCH", 50),
		DunningPlaybookID: os.Getenv("DUNNING_PLAYBOOK_ID"),
		SendTimeout:       getenvDuration("SEND_TIMEOUT", 10*time.Second),
		WebhookURL:        os.Getenv("WEBHOOK_URL"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		Timezone:          getenv("TIMEZONE", DefaultTimezone),
		PaymentLinkBase:   getenv("PAYMENT_LINK_BASE", "https://pagos.empresa.com"),
		TemplatesFile:     os.Getenv("TEMPLATES_FILE"),
		CORSOrigins:       splitList(getenv("CORS_ORIGINS", "*")),
	}
	switch cfg.Store {
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return cfg, eris.New("DATABASE_URL not set")
		}
	case StoreMemory:
	default:
		return cfg, eris.Errorf("STORE must be %q or %q, got %q", StorePostgres, StoreMemory, cfg.Store)
	}
	return cfg, nil
}

// Location resolves TIMEZONE, used for contact windows and schedule dates.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, eris.Wrapf(err, "TIMEZONE %q", c.Timezone)
	}
	return loc, nil
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		var out int
		_, err := fmt.Sscanf(v, "%d", &out)
		if err == nil {
			return out
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
