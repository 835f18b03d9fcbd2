package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"corridor-tracker/internal/trip"
)

type Config struct {
	DatabaseURL       string
	NATSURL           string
	NATSSubjectPrefix string
	LogNATSSubjects   bool
	MetricsAddr       string
	HTTPAddr          string
	CorridorFile      string
	JWTSecret         string
	LogLevel          string
	LogDev            bool

	// DefaultCorridorKey is used when a start request names no corridor.
	DefaultCorridorKey string
	SubscriberBuffer   int

	DefaultSpeedKmph float64
	LowSpeedKmph     float64
	Trip             trip.Policy
	ReapInterval     time.Duration

	PollBase    time.Duration
	PollMax     time.Duration
	PushMaxWait time.Duration
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	// Database URL: prefer DATABASE_URL / PG_DSN, else build from PG* vars when PGDATABASE is set.
	// Empty keeps trips in memory only.
	dsn := firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("PG_DSN"))
	if dsn == "" {
		if db := os.Getenv("PGDATABASE"); db != "" {
			host := getenvDefault("PGHOST", "127.0.0.1")
			port := getenvDefault("PGPORT", "5432")
			user := getenvDefault("PGUSER", "postgres")
			pass := os.Getenv("PGPASSWORD")
			sslmode := getenvDefault("PGSSLMODE", "disable")
			if pass != "" {
				dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
			} else {
				dsn = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
			}
		}
	}
	cfg.DatabaseURL = dsn

	// Empty disables the NATS bridge.
	cfg.NATSURL = os.Getenv("NATS_URL")
	cfg.NATSSubjectPrefix = getenvDefault("NATS_SUBJECT_PREFIX", "tracker")
	cfg.LogNATSSubjects = envBool("LOG_NATS_SUBJECTS")

	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")
	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", ":8080")
	cfg.CorridorFile = os.Getenv("CORRIDOR_FILE")
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	cfg.LogLevel = getenvDefault("LOG_LEVEL", "info")
	cfg.LogDev = envBool("LOG_DEV")
	cfg.DefaultCorridorKey = os.Getenv("DEFAULT_CORRIDOR_KEY")

	var err error
	if cfg.SubscriberBuffer, err = envInt("SUBSCRIBER_BUFFER", 64); err != nil {
		return nil, err
	}
	if cfg.DefaultSpeedKmph, err = envPositiveFloat("DEFAULT_SPEED_KMPH", 45); err != nil {
		return nil, err
	}
	if cfg.LowSpeedKmph, err = envNonNegativeFloat("LOW_SPEED_KMPH", 5); err != nil {
		return nil, err
	}

	cfg.Trip = trip.DefaultPolicy()
	if cfg.Trip.Regression, err = trip.ParseRegressionPolicy(os.Getenv("PROGRESS_POLICY")); err != nil {
		return nil, fmt.Errorf("invalid PROGRESS_POLICY: %w", err)
	}
	if cfg.Trip.FreshnessWindow, err = envDuration("FRESHNESS_WINDOW", cfg.Trip.FreshnessWindow); err != nil {
		return nil, err
	}
	if cfg.Trip.MaxBackwardJumpMeters, err = envNonNegativeFloat("MAX_BACKWARD_JUMP_METERS", cfg.Trip.MaxBackwardJumpMeters); err != nil {
		return nil, err
	}
	if cfg.Trip.ProjectionWindowMeters, err = envNonNegativeFloat("PROJECTION_WINDOW_METERS", cfg.Trip.ProjectionWindowMeters); err != nil {
		return nil, err
	}
	if cfg.Trip.StaleAfter, err = envDuration("STALE_TRIP_AFTER", cfg.Trip.StaleAfter); err != nil {
		return nil, err
	}
	if cfg.Trip.EndedRetention, err = envDuration("ENDED_RETENTION", cfg.Trip.EndedRetention); err != nil {
		return nil, err
	}
	if cfg.ReapInterval, err = envDuration("REAP_INTERVAL", time.Minute); err != nil {
		return nil, err
	}

	if cfg.PollBase, err = envDuration("POLL_BASE_INTERVAL", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.PollMax, err = envDuration("POLL_MAX_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.PollMax < cfg.PollBase {
		return nil, fmt.Errorf("POLL_MAX_INTERVAL %s is below POLL_BASE_INTERVAL %s", cfg.PollMax, cfg.PollBase)
	}
	if cfg.PushMaxWait, err = envDuration("PUSH_MAX_BACKOFF", 30*time.Second); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func envBool(k string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(k))) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	}
	return false
}

func envInt(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return n, nil
}

// envDuration accepts Go durations ("90s", "5m") or plain seconds.
func envDuration(k string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def, nil
	}
	if sec, err := strconv.Atoi(v); err == nil && sec >= 0 {
		return time.Duration(sec) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return d, nil
}

func envPositiveFloat(k string, def float64) (float64, error) {
	f, err := envNonNegativeFloat(k, def)
	if err == nil && f == 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", k)
	}
	return f, err
}

func envNonNegativeFloat(k string, def float64) (float64, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return f, nil
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
