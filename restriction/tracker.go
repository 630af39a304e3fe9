package restriction

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrClaimRejected is for callers that want an error value for a denied claim. Processing itself treats a
// denial as a normal outcome.
var ErrClaimRejected = errors.New("claim rejected")

var ErrNonMonotonicClaim = errors.New("claim positions must increase")

// Claimer is the cross invocation commitment that exactly one worker owns a range.
// Claim must be atomic, and claiming a range that is already claimed or completed must return false without
// side effects.
type Claimer interface {
	Claim(ctx context.Context, r ByteRange) (bool, error)
	Complete(ctx context.Context, r ByteRange) error
	Release(ctx context.Context, r ByteRange) error
}

// Tracker is a monotonic claim cursor over one ByteRange. The first successful TryClaim commits the whole
// range through the Claimer.
type Tracker struct {
	mu          sync.Mutex
	rng         ByteRange
	claimer     Claimer
	lastAttempt int64
	claimed     bool
	done        bool
}

// NewTracker creates a tracker for r. A nil claimer only tracks locally.
func NewTracker(r ByteRange, claimer Claimer) *Tracker {
	return &Tracker{
		rng:         r,
		claimer:     claimer,
		lastAttempt: r.From - 1,
	}
}

func (t *Tracker) CurrentRange() ByteRange {
	return t.rng
}

// TryClaim claims every position up to pos. Positions past the range end are never claimable. A claimer
// failure leaves the tracker as it was.
func (t *Tracker) TryClaim(ctx context.Context, pos int64) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if pos <= t.lastAttempt {
		return false, fmt.Errorf("%w: %d after %d", ErrNonMonotonicClaim, pos, t.lastAttempt)
	}
	if t.done || pos >= t.rng.To {
		return false, nil
	}
	if !t.claimed && t.claimer != nil {
		ok, err := t.claimer.Claim(ctx, t.rng)
		if err != nil {
			return false, fmt.Errorf("error claiming %s: %w", t.rng, err)
		}
		if !ok {
			return false, nil
		}
	}
	t.claimed = true
	t.lastAttempt = pos
	return true, nil
}

func (t *Tracker) Claimed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.claimed
}

// Done marks the claimed range as fully processed.
func (t *Tracker) Done(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.claimed || t.done {
		return nil
	}
	if t.claimer != nil {
		if err := t.claimer.Complete(ctx, t.rng); err != nil {
			return fmt.Errorf("error completing %s: %w", t.rng, err)
		}
	}
	t.done = true
	return nil
}

// Release gives up a claim that was not completed, so the range can be claimed again.
func (t *Tracker) Release(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.claimed || t.done {
		return nil
	}
	if t.claimer != nil {
		if err := t.claimer.Release(ctx, t.rng); err != nil {
			return fmt.Errorf("error releasing %s: %w", t.rng, err)
		}
	}
	t.claimed = false
	t.lastAttempt = t.rng.From - 1
	return nil
}
