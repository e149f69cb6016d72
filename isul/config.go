package isul

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// envPrefix is the environment prefix for Tuning, e.g. ISUL_MAX_RETRIES.
const envPrefix = "ISUL"

// Tuning holds runtime knobs that are not part of the product definition.
// Values come from ISUL_* environment variables, falling back to the defaults.
type Tuning struct {
	RequestTimeout       time.Duration `envconfig:"REQUEST_TIMEOUT" default:"10s"`
	MaxRetries           uint64        `envconfig:"MAX_RETRIES" default:"3"`
	RetryInitialInterval time.Duration `envconfig:"RETRY_INITIAL_INTERVAL" default:"250ms"`
	RetryMaxInterval     time.Duration `envconfig:"RETRY_MAX_INTERVAL" default:"5s"`
	BreakerFailures      uint32        `envconfig:"BREAKER_FAILURES" default:"5"`
	BreakerOpenTimeout   time.Duration `envconfig:"BREAKER_OPEN_TIMEOUT" default:"30s"`
	SignInTimeout        time.Duration `envconfig:"SIGNIN_TIMEOUT" default:"15m"`
	Fingerprint          string        `envconfig:"FINGERPRINT"`
}

// LoadTuning reads Tuning from the environment.
func LoadTuning() (Tuning, error) {
	var t Tuning
	if err := envconfig.Process(envPrefix, &t); err != nil {
		return Tuning{}, fmt.Errorf("load tuning: %w", err)
	}
	return t, nil
}

// DefaultTuning returns the built-in defaults, ignoring the environment.
func DefaultTuning() Tuning {
	return Tuning{
		RequestTimeout:       10 * time.Second,
		MaxRetries:           3,
		RetryInitialInterval: 250 * time.Millisecond,
		RetryMaxInterval:     5 * time.Second,
		BreakerFailures:      5,
		BreakerOpenTimeout:   30 * time.Second,
		SignInTimeout:        15 * time.Minute,
	}
}
