package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nammalwarsai/skill3-cie/internal/store"
)

// call runs fn against a store with a per-attempt timeout. Definite answers
// (nil, ErrAlreadyExists, ErrNotFound) are returned as is; anything else is
// treated as transient and retried with doubling backoff. When attempts
// run out the cause is logged and ErrStoreUnavailable is returned so raw
// backend errors never reach the caller.
func (g *Gateway) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	backoff := g.backoff
	var err error
	for attempt := 1; ; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, g.timeout)
		err = fn(attemptCtx)
		cancel()
		if err == nil || errors.Is(err, store.ErrAlreadyExists) || errors.Is(err, store.ErrNotFound) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt >= g.attempts {
			break
		}
		g.log.Warn().Err(err).Str("op", op).Int("attempt", attempt).Dur("backoff", backoff).Msg("store call failed; retrying")
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		backoff *= 2
	}
	g.log.Error().Err(err).Str("op", op).Int("attempts", g.attempts).Msg("store unavailable")
	return fmt.Errorf("%w (%s)", ErrStoreUnavailable, op)
}
