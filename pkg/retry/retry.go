package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Config describes the retry behavior.
type Config struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	JitterFactor   float64
}

func (cfg Config) withDefaults() Config {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Second
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	// A negative factor disables jitter.
	if cfg.JitterFactor == 0 {
		cfg.JitterFactor = 0.2
	}
	return cfg
}

// Do executes fn and retries with exponential backoff until it succeeds, the
// attempts run out or the context is cancelled.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	cfg = cfg.withDefaults()
	b := NewBackoff(cfg)

	var err error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if err = fn(); err == nil {
			return nil
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		if sleepErr := Sleep(ctx, b.Next()); sleepErr != nil {
			return errors.Join(err, sleepErr)
		}
	}
	return err
}

// Backoff hands out exponentially growing, jittered delays capped at
// MaxBackoff. It is not safe for concurrent use.
type Backoff struct {
	cfg     Config
	current time.Duration
}

func NewBackoff(cfg Config) *Backoff {
	cfg = cfg.withDefaults()
	return &Backoff{cfg: cfg, current: cfg.InitialBackoff}
}

// Next returns the delay to wait before the next attempt.
func (b *Backoff) Next() time.Duration {
	sleep := applyJitter(b.current, b.cfg.JitterFactor)
	if sleep > b.cfg.MaxBackoff {
		sleep = b.cfg.MaxBackoff
	}
	if b.current < b.cfg.MaxBackoff {
		b.current *= 2
		if b.current > b.cfg.MaxBackoff {
			b.current = b.cfg.MaxBackoff
		}
	}
	return sleep
}

// Reset starts the sequence over from InitialBackoff.
func (b *Backoff) Reset() {
	b.current = b.cfg.InitialBackoff
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func applyJitter(duration time.Duration, factor float64) time.Duration {
	delta := int64(float64(duration) * factor)
	if delta <= 0 {
		return duration
	}
	return duration + time.Duration(rand.Int63n(2*delta)-delta)
}
