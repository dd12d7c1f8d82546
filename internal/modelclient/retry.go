package modelclient

import (
	"context"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/coreagent/runtime/internal/agenterr"
)

// backoffDelay computes the exponential-with-jitter delay for retry attempt n
// (1-indexed): starting ~200ms, factor 2.0, +/-10% jitter.
func backoffDelay(n int) time.Duration {
	base := 200 * time.Millisecond
	d := base * time.Duration(1<<uint(n-1))
	jitter := 1 + (rand.Float64()*0.2 - 0.1)
	return time.Duration(float64(d) * jitter)
}

// isTransientStatus reports whether status warrants a retry under the
// model client's HTTP error policy (429/5xx).
func isTransientStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// retryAfter parses a Retry-After header as either seconds or an HTTP date.
func retryAfter(h http.Header) (time.Duration, bool) {
	v := h.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t), true
	}
	return 0, false
}

// trySend delivers ev on ch unless ctx is done first.
func trySend[T any](ctx context.Context, ch chan<- T, ev T) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// sleepWithJitter pauses for d, returning agenterr.ErrInterrupted early if
// ctx is canceled.
func sleepWithJitter(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return agenterr.ErrInterrupted
	}
}

func logRetry(attempt, max int, delay time.Duration, err error) {
	log.Warn().
		Int("attempt", attempt).
		Int("max", max).
		Dur("delay", delay).
		Err(err).
		Msg("model stream retry")
}
