package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Server struct {
		Port        string   `env:"PORT" envDefault:"8080"`
		CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`

		// Time allowed for in-flight requests when shutting down
		ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	}

	Database struct {
		// "sqlite" or "postgres"
		Driver string `env:"DB_DRIVER" envDefault:"sqlite"`
		DSN    string `env:"DB_DSN" envDefault:"database/bytovka.db"`
	}

	Geocoding struct {
		URL       string        `env:"GEOCODER_URL" envDefault:"https://nominatim.openstreetmap.org/search"`
		UserAgent string        `env:"GEOCODER_USER_AGENT" envDefault:"Bytovka Rental Aggregator/1.0"`
		Country   string        `env:"GEOCODER_COUNTRY" envDefault:"cz"`
		Language  string        `env:"GEOCODER_LANGUAGE" envDefault:"cs-CZ,cs;q=0.9,en;q=0.8"`
		Timeout   time.Duration `env:"GEOCODER_TIMEOUT" envDefault:"10s"`

		// Nominatim usage policy allows one request per second
		RequestsPerSecond float64 `env:"GEOCODER_RPS" envDefault:"1"`
	}

	// Plausible coordinates for the operating country
	Geo struct {
		MinLat float64 `env:"GEO_MIN_LAT" envDefault:"48.55"`
		MaxLat float64 `env:"GEO_MAX_LAT" envDefault:"51.06"`
		MinLng float64 `env:"GEO_MIN_LNG" envDefault:"12.09"`
		MaxLng float64 `env:"GEO_MAX_LNG" envDefault:"18.87"`
	}

	Ingestion struct {
		// Number of concurrent pipeline workers
		Workers int `env:"INGEST_WORKERS" envDefault:"4"`

		// Capacity of the intake queue between scrapers and workers
		QueueSize int `env:"INGEST_QUEUE_SIZE" envDefault:"1000"`

		// Maximum number of retries when the store is unavailable
		MaxRetries int `env:"INGEST_MAX_RETRIES" envDefault:"3"`

		// Delay before the first retry, doubled on every attempt
		RetryDelay time.Duration `env:"INGEST_RETRY_DELAY" envDefault:"2s"`
	}

	Scraping struct {
		Enabled bool `env:"SCRAPING_ENABLED" envDefault:"false"`

		// Entries of the form name=command, e.g. "ulovdomov=python3 scrapers/ulovdomov.py"
		Scrapers []string      `env:"SCRAPERS" envSeparator:";"`
		Interval time.Duration `env:"SCRAPE_INTERVAL" envDefault:"30m"`
	}

	Liveness struct {
		Enabled bool `env:"PING_ENABLED" envDefault:"true"`

		// Minimum age of last_ping before a listing is probed again
		PingInterval time.Duration `env:"PING_INTERVAL" envDefault:"6h"`

		SweepInterval    time.Duration `env:"PING_SWEEP_INTERVAL" envDefault:"5m"`
		ProbeTimeout     time.Duration `env:"PING_TIMEOUT" envDefault:"10s"`
		Workers          int           `env:"PING_WORKERS" envDefault:"8"`
		BatchSize        int           `env:"PING_BATCH_SIZE" envDefault:"200"`
		FailureThreshold int           `env:"PING_FAILURE_THRESHOLD" envDefault:"3"`
		UserAgent        string        `env:"PING_USER_AGENT" envDefault:"Mozilla/5.0 (compatible; BytovkaBot/1.0)"`
	}

	Feed struct {
		// Per-subscriber buffer; the oldest event is dropped on overflow
		Buffer    int           `env:"FEED_BUFFER" envDefault:"64"`
		KeepAlive time.Duration `env:"STREAM_KEEPALIVE" envDefault:"30s"`
	}

	Telegram struct {
		BotToken     string   `env:"TELEGRAM_BOT_TOKEN"`
		ChatID       string   `env:"TELEGRAM_CHAT_ID"`
		APIURL       string   `env:"TELEGRAM_API_URL" envDefault:"https://api.telegram.org"`
		MinPrice     *int     `env:"TELEGRAM_MIN_PRICE"`
		MaxPrice     *int     `env:"TELEGRAM_MAX_PRICE"`
		Districts    []string `env:"TELEGRAM_DISTRICTS" envSeparator:","`
		Dispositions []string `env:"TELEGRAM_DISPOSITIONS" envSeparator:","`
	}
}

// Scraper is a configured external scraper command
type Scraper struct {
	Name    string
	Command []string
}

// LoadConfig reads an optional .env file and parses the environment
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail later at runtime
func (c *Config) Validate() error {
	if c.Ingestion.Workers <= 0 {
		return errors.New("INGEST_WORKERS must be positive")
	}
	if c.Ingestion.QueueSize <= 0 {
		return errors.New("INGEST_QUEUE_SIZE must be positive")
	}
	if c.Liveness.Workers <= 0 {
		return errors.New("PING_WORKERS must be positive")
	}
	if c.Liveness.FailureThreshold <= 0 {
		return errors.New("PING_FAILURE_THRESHOLD must be positive")
	}
	if c.Liveness.BatchSize <= 0 {
		return errors.New("PING_BATCH_SIZE must be positive")
	}
	if c.Feed.Buffer <= 0 {
		return errors.New("FEED_BUFFER must be positive")
	}
	if c.Geo.MinLat >= c.Geo.MaxLat || c.Geo.MinLng >= c.Geo.MaxLng {
		return errors.New("geo bounds are inverted")
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver)
	}
	if _, err := c.ParseScrapers(); err != nil {
		return err
	}
	return nil
}

// ParseScrapers splits the SCRAPERS entries into names and argument lists
func (c *Config) ParseScrapers() ([]Scraper, error) {
	scrapers := make([]Scraper, 0, len(c.Scraping.Scrapers))
	seen := make(map[string]bool)
	for _, entry := range c.Scraping.Scrapers {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, command, ok := strings.Cut(entry, "=")
		name = strings.TrimSpace(name)
		args := strings.Fields(command)
		if !ok || name == "" || len(args) == 0 {
			return nil, fmt.Errorf("invalid scraper entry %q, expected name=command", entry)
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate scraper %q", name)
		}
		seen[name] = true
		scrapers = append(scrapers, Scraper{Name: name, Command: args})
	}
	return scrapers, nil
}

// TelegramEnabled reports whether notifications can be sent
func (c *Config) TelegramEnabled() bool {
	return c.Telegram.BotToken != "" && c.Telegram.ChatID != ""
}
