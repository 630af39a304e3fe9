package restriction

import (
	"errors"
	"fmt"
)

type State int

const (
	Unclaimed State = iota
	Claimed
	Draining
	Done
	Rejected
)

func (s State) String() string {
	switch s {
	case Unclaimed:
		return "unclaimed"
	case Claimed:
		return "claimed"
	case Draining:
		return "draining"
	case Done:
		return "done"
	case Rejected:
		return "rejected"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s State) Terminal() bool {
	return s == Done || s == Rejected
}

type Event int

const (
	ClaimGranted Event = iota
	ClaimDenied
	ScanStarted
	ScanFinished
)

func (e Event) String() string {
	switch e {
	case ClaimGranted:
		return "claim_granted"
	case ClaimDenied:
		return "claim_denied"
	case ScanStarted:
		return "scan_started"
	case ScanFinished:
		return "scan_finished"
	}
	return fmt.Sprintf("event(%d)", int(e))
}

var ErrInvalidTransition = errors.New("invalid state transition")

// Transition returns the state a split moves to when e happens in s.
func Transition(s State, e Event) (State, error) {
	switch {
	case s == Unclaimed && e == ClaimGranted:
		return Claimed, nil
	case s == Unclaimed && e == ClaimDenied:
		return Rejected, nil
	case s == Claimed && e == ScanStarted:
		return Draining, nil
	case s == Draining && e == ScanFinished:
		return Done, nil
	}
	return s, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, e, s)
}
