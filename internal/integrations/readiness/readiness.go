// Package readiness polls an external resource until it reports ready.
package readiness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrNotReady is returned when the timeout elapses before the probe succeeds.
var ErrNotReady = errors.New("resource not ready")

type Config struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Timeout         time.Duration
}

func (c Config) withDefaults() Config {
	if c.InitialInterval <= 0 {
		c.InitialInterval = 500 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 10 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Minute
	}
	return c
}

// Probe reports whether the resource is ready. Errors wrapped with Permanent stop
// polling immediately; other errors are treated as not ready yet.
type Probe func(ctx context.Context) (bool, error)

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// WaitFor polls probe with exponential backoff until it is ready, fails permanently,
// ctx is done, or cfg.Timeout elapses.
func WaitFor(ctx context.Context, cfg Config, probe Probe) error {
	cfg = cfg.withDefaults()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = cfg.InitialInterval
	eb.MaxInterval = cfg.MaxInterval
	eb.MaxElapsedTime = cfg.Timeout

	var last, permanent error
	op := func() error {
		ready, err := probe(ctx)
		if err != nil {
			var perm *backoff.PermanentError
			if errors.As(err, &perm) {
				permanent = perm.Err
				return err
			}
			last = err
			return err
		}
		if !ready {
			last = ErrNotReady
			return ErrNotReady
		}
		return nil
	}

	err := backoff.Retry(op, backoff.WithContext(eb, ctx))
	if err == nil {
		return nil
	}
	if permanent != nil {
		return permanent
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if last != nil && !errors.Is(last, ErrNotReady) {
		return fmt.Errorf("%w after %s: %v", ErrNotReady, cfg.Timeout, last)
	}
	return fmt.Errorf("%w after %s", ErrNotReady, cfg.Timeout)
}
