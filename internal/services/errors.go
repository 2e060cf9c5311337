// Package services holds the gateway's background work that sits behind the
// HTTP layer. Today that is the audit recorder, which persists
// authentication decisions without slowing requests down.
package services

import "errors"

// ErrRecorderClosed is returned by Close when called more than once.
var ErrRecorderClosed = errors.New("audit recorder already closed")
