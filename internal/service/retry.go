package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/iliyamo/hotel-reservation/internal/repository"
)

// RetryPolicy retries operations that failed with a transient store error
// (deadlock, lock wait timeout, lost connection).  Business outcomes such
// as conflicts are returned immediately: the caller has to change the
// request, not repeat it.
type RetryPolicy struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
}

// Do runs fn up to p.Attempts times, doubling the delay between attempts.
// When every attempt failed transiently the last error is returned wrapped
// in ErrTransientStore.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.Base
	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(ctx); err == nil || !repository.IsTransient(err) {
			return err
		}
		if i == attempts {
			break
		}
		log.Warn().Err(err).Str("op", op).Int("attempt", i).Dur("backoff", delay).Msg("transient store error, retrying")
		if werr := sleep(ctx, delay); werr != nil {
			return fmt.Errorf("%s: %w", op, werr)
		}
		delay *= 2
		if p.Max > 0 && delay > p.Max {
			delay = p.Max
		}
	}
	return fmt.Errorf("%s: %w: %w", op, ErrTransientStore, err)
}

// Poll calls check every interval until it reports done, returns an error,
// or timeout elapses.  It is the one place that waits on an external state
// change; a timeout is reported as context.DeadlineExceeded.
func Poll(ctx context.Context, interval, timeout time.Duration, check func(ctx context.Context) (bool, error)) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		done, err := check(ctx)
		if err != nil || done {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
