package config

import (
	"fmt"
	"os"
	"strconv"

	"circuithypo/domain/stats"
	"circuithypo/internal/errors"
	"circuithypo/internal/hypotest"
)

// Config represents the complete application configuration
type Config struct {
	Equivalence EquivalenceConfig
	Minimality  MinimalityConfig
	Range       RangeConfig
	Seed        int64
	LogLevel    string
}

// EquivalenceConfig holds the binomial equivalence test settings
type EquivalenceConfig struct {
	Params stats.TestParams
	UseAbs bool
}

// MinimalityConfig holds the per-edge minimality audit settings
type MinimalityConfig struct {
	Alpha     float64
	QStar     float64
	NPaths    int
	EarlyStop stats.EarlyStop
}

// RangeConfig holds the beta-binomial diagnostic settings
type RangeConfig struct {
	Prior hypotest.BetaPrior
	Alpha float64
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	side, err := stats.ParseSide(getEnvOrDefault("HYPO_SIDE", string(stats.SideNone)))
	if err != nil {
		return nil, errors.Wrap(errors.WithCode(errors.CodeConfigInvalid, err), "failed to parse HYPO_SIDE")
	}

	alpha := getEnvFloatOrDefault("HYPO_ALPHA", 0.05)
	config := &Config{
		Equivalence: EquivalenceConfig{
			Params: stats.TestParams{
				Alpha:   alpha,
				Epsilon: getEnvFloatOrDefault("HYPO_EPSILON", 0.1),
				Side:    side,
			},
			UseAbs: getEnvBoolOrDefault("HYPO_USE_ABS", true),
		},
		Minimality: MinimalityConfig{
			Alpha:  alpha,
			QStar:  getEnvFloatOrDefault("HYPO_Q_STAR", 0.9),
			NPaths: getEnvIntOrDefault("HYPO_N_PATHS", 200),
			EarlyStop: stats.EarlyStop{
				MaxEdgesInOrder:            getEnvIntOrDefault("HYPO_MAX_EDGES_IN_ORDER", stats.Unlimited),
				MaxEdgesInOrderWithoutFail: getEnvIntOrDefault("HYPO_MAX_EDGES_IN_ORDER_WITHOUT_FAIL", stats.Unlimited),
				MaxEdgesToSample:           getEnvIntOrDefault("HYPO_MAX_EDGES_TO_SAMPLE", 0),
			},
		},
		Range: RangeConfig{
			Prior: hypotest.BetaPrior{
				A0: getEnvFloatOrDefault("HYPO_PRIOR_A0", 1),
				A1: getEnvFloatOrDefault("HYPO_PRIOR_A1", 1),
			},
			Alpha: getEnvFloatOrDefault("HYPO_RANGE_ALPHA", 0.5),
		},
		Seed:     getEnvInt64OrDefault("HYPO_SEED", 42),
		LogLevel: getEnvOrDefault("LOG_LEVEL", "INFO"),
	}

	if err := validateConfig(config); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return config, nil
}

func validateConfig(config *Config) error {
	if err := config.Equivalence.Params.Validate(); err != nil {
		return errors.WithCode(errors.CodeConfigInvalid, err)
	}
	if q := config.Minimality.QStar; !(q > 0 && q < 1) {
		return errors.ConfigInvalid(fmt.Sprintf("HYPO_Q_STAR must lie in (0, 1), got %v", q))
	}
	if config.Minimality.NPaths <= 0 {
		return errors.ConfigInvalid("HYPO_N_PATHS must be positive")
	}
	if config.Minimality.EarlyStop.MaxEdgesToSample < 0 {
		return errors.ConfigInvalid("HYPO_MAX_EDGES_TO_SAMPLE cannot be negative")
	}
	if config.Range.Prior.A0 <= 0 || config.Range.Prior.A1 <= 0 {
		return errors.ConfigInvalid("HYPO_PRIOR_A0 and HYPO_PRIOR_A1 must be positive")
	}
	if a := config.Range.Alpha; !(a > 0 && a < 1) {
		return errors.ConfigInvalid(fmt.Sprintf("HYPO_RANGE_ALPHA must lie in (0, 1), got %v", a))
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64OrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
