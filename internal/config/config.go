package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the dispatch process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Matching
	OfferTimeout time.Duration
	MinBattery   float64 // vehicles at or below are not matchable

	// Simulation
	StepDelay           time.Duration
	SubStepsPerWaypoint int
	BatteryDrain        float64 // applied every DrainPeriod'th step
	DrainPeriod         int
	PickupPause         time.Duration
	CompletionThreshold float64 // fraction of steps at which the ride snaps complete

	// Charging
	ChargeTick      time.Duration
	ChargeIncrement float64

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	GoogleMapsKey string
	StripeKey     string

	LogLevel      string
	LogFormat     string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,

		OfferTimeout: 15 * time.Second,
		MinBattery:   20,

		StepDelay:           1500 * time.Millisecond,
		SubStepsPerWaypoint: 4,
		BatteryDrain:        0.3,
		DrainPeriod:         3,
		PickupPause:         2 * time.Second,
		CompletionThreshold: 0.90,

		ChargeTick:      500 * time.Millisecond,
		ChargeIncrement: 1,

		RedisGeoKey: "fleet_geo",
		KafkaTopic:  "vehicle-telemetry",
		LogLevel:    "info",
		LogFormat:   "json",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	setDurationFromEnv(&cfg.OfferTimeout, "OFFER_TIMEOUT", &errs)
	setFloatFromEnv(&cfg.MinBattery, "MATCH_MIN_BATTERY", &errs)

	setDurationFromEnv(&cfg.StepDelay, "SIM_STEP_DELAY", &errs)
	setIntFromEnv(&cfg.SubStepsPerWaypoint, "SIM_SUB_STEPS", &errs)
	setFloatFromEnv(&cfg.BatteryDrain, "SIM_BATTERY_DRAIN", &errs)
	setIntFromEnv(&cfg.DrainPeriod, "SIM_DRAIN_PERIOD", &errs)
	setDurationFromEnv(&cfg.PickupPause, "SIM_PICKUP_PAUSE", &errs)
	setFloatFromEnv(&cfg.CompletionThreshold, "SIM_COMPLETION_THRESHOLD", &errs)

	setDurationFromEnv(&cfg.ChargeTick, "CHARGE_TICK", &errs)
	setFloatFromEnv(&cfg.ChargeIncrement, "CHARGE_INCREMENT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")
	cfg.GoogleMapsKey = os.Getenv("GOOGLE_MAPS_KEY")
	cfg.StripeKey = os.Getenv("STRIPE_API_KEY")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	setStringFromEnv(&cfg.LogFormat, "LOG_FORMAT")

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.SubStepsPerWaypoint <= 0 {
		errs = append(errs, fmt.Errorf("SIM_SUB_STEPS must be > 0"))
	}
	if cfg.DrainPeriod <= 0 {
		errs = append(errs, fmt.Errorf("SIM_DRAIN_PERIOD must be > 0"))
	}
	if cfg.CompletionThreshold <= 0 || cfg.CompletionThreshold > 1 {
		errs = append(errs, fmt.Errorf("SIM_COMPLETION_THRESHOLD must be in (0,1]"))
	}
	if cfg.OfferTimeout <= 0 {
		errs = append(errs, fmt.Errorf("OFFER_TIMEOUT must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
