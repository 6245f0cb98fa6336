package ring

import (
	"errors"
	"fmt"

	"github.com/danmuck/conga/internal/protocol/frame"
)

// State is a participant connection phase. It only moves forward.
type State int

const (
	StateOpening State = iota
	StateUp
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "OPENING"
	case StateUp:
		return "UP"
	case StateClosing:
		return "CLOSING"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var (
	ErrUnexpectedVerb    = errors.New("ring: unexpected verb for state")
	ErrAlreadyRegistered = errors.New("ring: participant already registered")
	ErrInvalidID         = errors.New("ring: invalid participant id")
)

// action is what a participant does once a frame's body is in hand.
type action int

const (
	actionRegister action = iota + 1
	actionForward
	actionTeardown
)

func (a action) String() string {
	switch a {
	case actionRegister:
		return "register"
	case actionForward:
		return "forward"
	case actionTeardown:
		return "teardown"
	default:
		return "none"
	}
}

// transition resolves the action for verb in state s.
func transition(verb string, s State) (action, error) {
	switch {
	case verb == frame.VerbHello && s == StateOpening:
		return actionRegister, nil
	case verb == frame.VerbMsg && s == StateUp:
		return actionForward, nil
	case verb == frame.VerbBye && s == StateUp:
		return actionTeardown, nil
	default:
		return 0, fmt.Errorf("%w: verb=%q state=%s", ErrUnexpectedVerb, verb, s)
	}
}
