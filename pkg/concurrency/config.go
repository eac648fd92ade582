package concurrency

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// IteratorMode defines how sequence items are processed
type IteratorMode string

const (
	IteratorModeParallel   IteratorMode = "parallel"
	IteratorModeSequential IteratorMode = "sequential"
)

// ConfigSource indicates where the configuration came from
type ConfigSource string

const (
	ConfigSourceEnvVar     ConfigSource = "environment_variable"
	ConfigSourceAutoDetect ConfigSource = "auto_detect"
	ConfigSourceDefault    ConfigSource = "default"
)

// Config holds concurrency configuration parameters
type Config struct {
	// MaxConcurrent is the worker count of a parallel iteration
	MaxConcurrent int
	// GlobalLimit caps tasks in flight across all iterations of the process
	GlobalLimit  int
	IteratorMode IteratorMode
	// FailFast is nil when the sequence's own policy applies
	FailFast      *bool
	ItemTimeout   time.Duration
	Source        ConfigSource
	IsKubernetes  bool
	EffectiveCPUs int
}

// LoadConfig loads concurrency configuration with priority: env vars > auto-detection > defaults
func LoadConfig() *Config {
	config := &Config{}

	// Detect if running in Kubernetes
	config.IsKubernetes = isKubernetes()

	// Get effective CPUs (respects cgroup limits)
	config.EffectiveCPUs = runtime.GOMAXPROCS(0)

	// Load MaxConcurrent with priority
	if maxConcurrent := getEnvInt("DAEDALUS_MAX_CONCURRENT", 0); maxConcurrent > 0 {
		config.MaxConcurrent = maxConcurrent
		config.Source = ConfigSourceEnvVar
	} else if multiplier := getEnvInt("DAEDALUS_CONCURRENCY_MULTIPLIER", 0); multiplier > 0 {
		config.MaxConcurrent = config.EffectiveCPUs * multiplier
		config.Source = ConfigSourceEnvVar
	} else {
		config.MaxConcurrent = getDefaultMaxConcurrent(config.IsKubernetes, config.EffectiveCPUs)
		config.Source = ConfigSourceAutoDetect
	}

	// Ensure minimum value
	if config.MaxConcurrent < 1 {
		config.MaxConcurrent = 1
	}

	if limit := getEnvInt("DAEDALUS_GLOBAL_LIMIT", 0); limit > 0 {
		config.GlobalLimit = limit
	} else {
		config.GlobalLimit = config.MaxConcurrent * 2
	}

	// Load IteratorMode
	if mode := getEnv("DAEDALUS_ITERATOR_MODE", ""); mode != "" {
		config.IteratorMode = IteratorMode(strings.ToLower(mode))
	} else {
		// Default to sequential for more predictable behavior
		config.IteratorMode = IteratorModeSequential
	}

	// Validate IteratorMode
	if config.IteratorMode != IteratorModeParallel && config.IteratorMode != IteratorModeSequential {
		config.IteratorMode = IteratorModeSequential
	}

	if value := getEnv("DAEDALUS_FAIL_FAST", ""); value != "" {
		if failFast, err := strconv.ParseBool(value); err == nil {
			config.FailFast = &failFast
		}
	}

	if value := getEnv("DAEDALUS_ITEM_TIMEOUT", ""); value != "" {
		if timeout, err := time.ParseDuration(value); err == nil && timeout > 0 {
			config.ItemTimeout = timeout
		}
	}

	return config
}

// isKubernetes detects if the application is running in Kubernetes
func isKubernetes() bool {
	// Kubernetes sets this environment variable in all containers
	return os.Getenv("KUBERNETES_SERVICE_HOST") != ""
}

// getDefaultMaxConcurrent returns sensible defaults based on environment
func getDefaultMaxConcurrent(isK8s bool, cpus int) int {
	if isK8s {
		// Conservative for Kubernetes to prevent resource exhaustion
		return cpus
	}
	return cpus * 2
}

// getEnvInt retrieves an integer from environment variable with default fallback
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnv retrieves a string from environment variable with default fallback
func getEnv(key string, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// String returns a formatted string representation of the config
func (c *Config) String() string {
	failFast := "source"
	if c.FailFast != nil {
		failFast = strconv.FormatBool(*c.FailFast)
	}
	return fmt.Sprintf(
		"Config{MaxConcurrent: %d, GlobalLimit: %d, IteratorMode: %s, FailFast: %s, ItemTimeout: %s, IsK8s: %t, CPUs: %d, Source: %s}",
		c.MaxConcurrent,
		c.GlobalLimit,
		c.IteratorMode,
		failFast,
		c.ItemTimeout,
		c.IsKubernetes,
		c.EffectiveCPUs,
		c.Source,
	)
}
