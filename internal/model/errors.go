package model

import "errors"

// ErrExitRequest signals a clean user-initiated shutdown, propagated up
// from any suspension point to the top-level run loop.
var ErrExitRequest = errors.New("exit requested")

// ErrReload signals that settings changed in a way that requires the
// inventory and channel state to be rebuilt from scratch.
var ErrReload = errors.New("reload requested")

// ErrRequestInvalid is returned by a pending operation whose
// invalidateAfter deadline elapsed before it completed.
var ErrRequestInvalid = errors.New("request invalidated")

// WebsocketClosedError reports that a pub/sub connection closed, either
// because the remote end closed it or because the local side requested
// the close.
type WebsocketClosedError struct {
	Received bool // true if the close frame came from the server
}

func (e *WebsocketClosedError) Error() string {
	if e.Received {
		return "websocket closed by server"
	}
	return "websocket closed locally"
}

// LoginError reports a failure in the authentication sequence that is not
// recoverable by retrying the same step.
type LoginError struct {
	Reason string
}

func (e *LoginError) Error() string { return "login failed: " + e.Reason }

// CaptchaRequiredError is returned when Twitch demands a captcha solve
// that this miner has no path to satisfy.
type CaptchaRequiredError struct{}

func (e *CaptchaRequiredError) Error() string { return "captcha required, cannot continue" }

// MinerError wraps a GraphQL or HTTP failure with the operation that
// produced it, for logging and for errors.As matching at top-level
// boundaries.
type MinerError struct {
	Operation string
	Err       error
}

func (e *MinerError) Error() string { return e.Operation + ": " + e.Err.Error() }
func (e *MinerError) Unwrap() error { return e.Err }
