package transport

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// BackoffConfig defines dial retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// RetryConfig bounds DialRetry. MaxAttempts <= 0 retries until the
// context is cancelled.
type RetryConfig struct {
	Backoff     BackoffConfig
	MaxAttempts int
}

// DefaultBackoff is the reconnect cadence used by txmuxctl.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       true,
	}
}

// NextBackoffDelay returns the retry delay for attempt N (1-based).
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 {
		return cfg.InitialDelay
	}
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay = delay * f
	}
	return time.Duration(delay)
}

// DialRetry dials with exponential backoff until a connection is
// established, the attempt budget is spent, or ctx is cancelled.
// Security validation failures are permanent and never retried.
func DialRetry(ctx context.Context, network, addr string, sec SecurityConfig, limit int, retry RetryConfig) (MessageConn, error) {
	if err := sec.ValidateClient(); err != nil {
		return nil, err
	}
	if retry.Backoff.InitialDelay <= 0 {
		retry.Backoff = DefaultBackoff()
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var attempt int
	for {
		attempt++
		mc, err := Dial(ctx, network, addr, sec, limit)
		if err == nil {
			return mc, nil
		}
		if errors.Is(err, ErrDatagramTLS) {
			return nil, err
		}
		log.Warn().
			Str("network", network).
			Str("addr", addr).
			Int("attempt", attempt).
			Err(err).
			Msg("dial failed")
		if retry.MaxAttempts > 0 && attempt >= retry.MaxAttempts {
			return nil, err
		}
		delay := NextBackoffDelay(retry.Backoff, attempt, rng)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
