package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// PageSize is fixed by the backend contract for message history.
const PageSize = 50

type Config struct {
	APIURL   string
	WSURL    string
	DBFile   string
	Email    string
	Password string
	LogLevel slog.Level

	// DownloadDir receives attachments saved with /save.
	DownloadDir string

	HeartBeat           time.Duration
	ConnectTimeout      time.Duration
	ReconnectInitial    time.Duration
	ReconnectMax        time.Duration
	ReconnectMaxElapsed time.Duration
	RequestTimeout      time.Duration
	UserCacheTTL        time.Duration

	PageSize      int
	MaxUploadSize int64

	WebPushSubscription string
	VAPIDPublicKey      string
	VAPIDPrivateKey     string
	VAPIDSubscriber     string
}

// Load reads the configuration from the environment. A .env file in the
// working directory, when present, is loaded first and never overrides
// variables that are already set.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		APIURL:              getEnv("ATHENA_API_URL", "http://localhost:8080"),
		WSURL:               getEnv("ATHENA_WS_URL", "ws://localhost:8080/ws/websocket"),
		DBFile:              getEnv("ATHENA_DB", "athena.db"),
		DownloadDir:         getEnv("ATHENA_DOWNLOADS", "downloads"),
		Email:               os.Getenv("ATHENA_EMAIL"),
		Password:            os.Getenv("ATHENA_PASSWORD"),
		WebPushSubscription: os.Getenv("WEBPUSH_SUBSCRIPTION"),
		VAPIDPublicKey:      os.Getenv("VAPID_PUBLIC_KEY"),
		VAPIDPrivateKey:     os.Getenv("VAPID_PRIVATE_KEY"),
		VAPIDSubscriber:     getEnv("VAPID_SUBSCRIBER", "mailto:athena@localhost"),
	}

	var err error
	durations := []struct {
		dst      *time.Duration
		key      string
		fallback string
	}{
		{&cfg.HeartBeat, "HEARTBEAT", "4s"},
		{&cfg.ConnectTimeout, "CONNECT_TIMEOUT", "10s"},
		{&cfg.ReconnectInitial, "RECONNECT_INITIAL", "1s"},
		{&cfg.ReconnectMax, "RECONNECT_MAX", "30s"},
		{&cfg.ReconnectMaxElapsed, "RECONNECT_MAX_ELAPSED", "0s"},
		{&cfg.RequestTimeout, "REQUEST_TIMEOUT", "15s"},
		{&cfg.UserCacheTTL, "USER_CACHE_TTL", "5m"},
	}
	for _, d := range durations {
		if *d.dst, err = time.ParseDuration(getEnv(d.key, d.fallback)); err != nil {
			return nil, fmt.Errorf("%s: %w", d.key, err)
		}
	}

	if cfg.PageSize, err = strconv.Atoi(getEnv("PAGE_SIZE", strconv.Itoa(PageSize))); err != nil {
		return nil, fmt.Errorf("PAGE_SIZE: %w", err)
	}
	if cfg.MaxUploadSize, err = strconv.ParseInt(getEnv("MAX_UPLOAD_SIZE", "10485760"), 10, 64); err != nil {
		return nil, fmt.Errorf("MAX_UPLOAD_SIZE: %w", err)
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if _, err := url.ParseRequestURI(c.APIURL); err != nil {
		return fmt.Errorf("ATHENA_API_URL is invalid: %w", err)
	}

	u, err := url.ParseRequestURI(c.WSURL)
	if err != nil {
		return fmt.Errorf("ATHENA_WS_URL is invalid: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("ATHENA_WS_URL must use ws or wss, got %q", u.Scheme)
	}

	if c.PageSize != PageSize {
		return fmt.Errorf("PAGE_SIZE must be %d", PageSize)
	}

	if c.HeartBeat < 0 {
		return fmt.Errorf("HEARTBEAT must not be negative")
	}

	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("CONNECT_TIMEOUT must be greater than 0")
	}

	if c.ReconnectInitial <= 0 || c.ReconnectMax < c.ReconnectInitial {
		return fmt.Errorf("RECONNECT_INITIAL must be positive and not above RECONNECT_MAX")
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be greater than 0")
	}

	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("MAX_UPLOAD_SIZE must be greater than 0")
	}

	if c.WebPushSubscription != "" && (c.VAPIDPublicKey == "" || c.VAPIDPrivateKey == "") {
		return fmt.Errorf("WEBPUSH_SUBSCRIPTION requires VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY")
	}

	return nil
}

// WSOrigin is the Origin header sent with the WebSocket handshake.
func (c *Config) WSOrigin() string {
	return strings.TrimRight(c.APIURL, "/")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
