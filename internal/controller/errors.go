package controller

import "errors"

var (
	// ErrSessionNotFound is returned when targeting a session id absent
	// from the local session list. Recoverable: callers fall back to the
	// most recent existing session or create a new one.
	ErrSessionNotFound = errors.New("session not found")

	// ErrEmptyMessage is returned for input that is empty after trimming.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrNoActiveSession is returned when sending with no active session.
	ErrNoActiveSession = errors.New("no active session")

	// ErrNotAuthenticated is returned for operations without a user.
	ErrNotAuthenticated = errors.New("not authenticated")
)
