package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/eagleeye/internal/client/models"
)

type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Session is a read-only snapshot of the manager's state.
type Session struct {
	User  *models.User
	Token string
	State State

	// Since is when State was last entered.
	Since time.Time
}

func (s Session) clone() Session {
	if s.User != nil {
		u := *s.User
		s.User = &u
	}
	return s
}

type event string

const (
	evBegin   event = "begin"
	evSucceed event = "succeed"
	evFail    event = "fail"
	evTimeout event = "timeout"
	evReject  event = "reject"
	evLogout  event = "logout"
	evProfile event = "profile"
)

var ErrInvalidTransition = errors.New("invalid session transition")

type transitionKey struct {
	from State
	ev   event
}

var transitions = map[transitionKey]State{
	{StateUnauthenticated, evBegin}: StateAuthenticating,
	{StateAuthenticating, evBegin}:  StateAuthenticating,
	{StateAuthenticated, evBegin}:   StateAuthenticating,

	{StateAuthenticating, evSucceed}: StateAuthenticated,
	{StateAuthenticating, evFail}:    StateUnauthenticated,
	{StateAuthenticating, evTimeout}: StateUnauthenticated,

	{StateAuthenticating, evReject}: StateUnauthenticated,
	{StateAuthenticated, evReject}:  StateUnauthenticated,

	{StateUnauthenticated, evLogout}: StateUnauthenticated,
	{StateAuthenticating, evLogout}:  StateUnauthenticated,
	{StateAuthenticated, evLogout}:   StateUnauthenticated,

	{StateAuthenticated, evProfile}: StateAuthenticated,
}

func next(from State, ev event) (State, error) {
	to, ok := transitions[transitionKey{from, ev}]
	if !ok {
		return from, fmt.Errorf("%w: %s while %s", ErrInvalidTransition, ev, from)
	}
	return to, nil
}
