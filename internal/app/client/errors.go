/*
Package client implements the client side of the group messaging engine:
the Session (connection manager for the real-time channel), the Reconciler
(which merges the durable log and the live channel into one timeline per
group), and the durable feed.

This file defines the error taxonomy surfaced to callers. Transport-level
failures are recovered internally with backoff and never reach the caller as
errors; the conditions below are the ones the engine cannot heal itself.
*/
package client

import (
	"errors"
	"fmt"
)

// ErrReauthRequired reports that the identity token was rejected. The engine
// does not refresh tokens: the caller must obtain a fresh one and open a new
// session.
var ErrReauthRequired = errors.New("client: authentication failed, new identity token required")

// ErrSessionClosed reports an operation against a session that has been closed.
var ErrSessionClosed = errors.New("client: session is closed")

// StaleDataWarning is the recoverable condition raised when a group's durable
// subscription degrades. The timeline shown so far remains valid; it just may
// lag behind the log until the subscription recovers.
type StaleDataWarning struct {
	GroupID string
	Err     error
}

func (w *StaleDataWarning) Error() string {
	return fmt.Sprintf("client: durable subscription for group %s degraded: %v", w.GroupID, w.Err)
}

func (w *StaleDataWarning) Unwrap() error {
	return w.Err
}
