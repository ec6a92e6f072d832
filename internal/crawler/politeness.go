package crawler

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// Default politeness window applied before every request.
const (
	DefaultDelayMin = 3 * time.Second
	DefaultDelayMax = 8 * time.Second
)

// politeDelay draws a uniform delay in [min, max).
type politeDelay struct {
	lo time.Duration
	hi time.Duration
}

func newPoliteDelay(lo, hi time.Duration) (politeDelay, error) {
	if lo <= 0 {
		return politeDelay{}, fmt.Errorf("politeness delay minimum must be > 0, got %s", lo)
	}
	if hi <= lo {
		return politeDelay{}, fmt.Errorf("politeness delay maximum %s must exceed minimum %s", hi, lo)
	}
	return politeDelay{lo: lo, hi: hi}, nil
}

// Next returns the delay to wait before the upcoming request.
func (d politeDelay) Next() time.Duration {
	return d.lo + randomJitter(d.hi-d.lo)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

type timerPauseController struct{}

// Pause sleeps for delay, returning early with the context error on cancellation.
func (p *timerPauseController) Pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("politeness pause interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
