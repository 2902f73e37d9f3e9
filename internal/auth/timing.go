package auth

import (
	"crypto/rand"
	"math/big"
	"time"
)

// TimingConfig holds configuration for timing attack prevention
type TimingConfig struct {
	BaseDelayMs    int
	RandomDelayMs  int
	DelayOnSuccess bool
}

// TimingDelay pads credential checks so that an unknown email and a wrong
// password take about the same time.
type TimingDelay struct {
	config TimingConfig
	sleep  func(time.Duration)
}

func NewTimingDelay(config TimingConfig) *TimingDelay {
	return &TimingDelay{config: config, sleep: time.Sleep}
}

func (td *TimingDelay) target() time.Duration {
	delay := time.Duration(td.config.BaseDelayMs) * time.Millisecond
	if td.config.RandomDelayMs > 0 {
		if n, err := rand.Int(rand.Reader, big.NewInt(int64(td.config.RandomDelayMs))); err == nil {
			delay += time.Duration(n.Int64()) * time.Millisecond
		}
	}
	return delay
}

// Wait sleeps for base + jitter unless the operation succeeded and DelayOnSuccess is off
func (td *TimingDelay) Wait(success bool) {
	if td == nil || (success && !td.config.DelayOnSuccess) {
		return
	}
	td.sleep(td.target())
}

// WaitFrom sleeps only for whatever part of the target delay has not already elapsed since start
func (td *TimingDelay) WaitFrom(start time.Time, success bool) {
	if td == nil || (success && !td.config.DelayOnSuccess) {
		return
	}
	if remaining := td.target() - time.Since(start); remaining > 0 {
		td.sleep(remaining)
	}
}
