package auth

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// TimingConfig holds configuration for timing attack prevention
type TimingConfig struct {
	BaseDelayMs    int  // Base delay in milliseconds
	RandomDelayMs  int  // Random delay range in milliseconds
	DelayOnSuccess bool // If true, delay even on a correct password
}

// TimingDelay pads credential checks so that an unknown identifier and a
// wrong password take approximately the same time.
type TimingDelay struct {
	config TimingConfig
}

// NewTimingDelay creates a new TimingDelay instance
func NewTimingDelay(config TimingConfig) *TimingDelay {
	return &TimingDelay{config: config}
}

// cryptoRandIntn returns a secure random number in [0, max)
func cryptoRandIntn(max int) (int, error) {
	if max <= 0 {
		return 0, nil
	}

	randomBytes := make([]byte, 8)
	if _, err := rand.Read(randomBytes); err != nil {
		return 0, err
	}
	return int(binary.BigEndian.Uint64(randomBytes) % uint64(max)), nil
}

// target returns the padded duration for one check, or zero when none applies
func (td *TimingDelay) target(success bool) time.Duration {
	if success && !td.config.DelayOnSuccess {
		return 0
	}

	delay := time.Duration(td.config.BaseDelayMs) * time.Millisecond
	if td.config.RandomDelayMs > 0 {
		if jitter, err := cryptoRandIntn(td.config.RandomDelayMs); err == nil {
			delay += time.Duration(jitter) * time.Millisecond
		}
	}
	return delay
}

// WaitFrom sleeps until at least the padded duration has elapsed since start.
// Time already spent on the check counts toward the target.
func (td *TimingDelay) WaitFrom(start time.Time, success bool) {
	if remaining := td.target(success) - time.Since(start); remaining > 0 {
		time.Sleep(remaining)
	}
}
