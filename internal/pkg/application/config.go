package application

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/diwise/iot-sensor-telemetry/internal/pkg/application/alerts"
	"github.com/diwise/iot-sensor-telemetry/internal/pkg/application/ingestion"
)

type Config struct {
	// GasAlarmThreshold is shared by the ingestion alarm flag and the alert engine.
	GasAlarmThreshold float64
	AlertCooldown     time.Duration
	AlertDisplayTicks int
	StorageTimeout    time.Duration
}

func DefaultConfig() Config {
	return Config{
		GasAlarmThreshold: ingestion.DefaultGasAlarmThreshold,
		AlertCooldown:     alerts.DefaultCooldown,
		AlertDisplayTicks: alerts.DefaultDisplayTicks,
		StorageTimeout:    5 * time.Second,
	}
}

// LoadConfigFromEnv returns the default configuration overridden by any of
// GAS_ALARM_THRESHOLD, ALERT_COOLDOWN, ALERT_DISPLAY_TICKS and STORAGE_TIMEOUT.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v, ok := os.LookupEnv("GAS_ALARM_THRESHOLD"); ok {
		threshold, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return cfg, fmt.Errorf("invalid GAS_ALARM_THRESHOLD %q: %w", v, err)
		}
		cfg.GasAlarmThreshold = threshold
	}

	if v, ok := os.LookupEnv("ALERT_COOLDOWN"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid ALERT_COOLDOWN %q: %w", v, err)
		}
		cfg.AlertCooldown = d
	}

	if v, ok := os.LookupEnv("ALERT_DISPLAY_TICKS"); ok {
		ticks, err := strconv.Atoi(v)
		if err != nil || ticks <= 0 {
			return cfg, fmt.Errorf("invalid ALERT_DISPLAY_TICKS %q", v)
		}
		cfg.AlertDisplayTicks = ticks
	}

	if v, ok := os.LookupEnv("STORAGE_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return cfg, fmt.Errorf("invalid STORAGE_TIMEOUT %q", v)
		}
		cfg.StorageTimeout = d
	}

	return cfg, nil
}
