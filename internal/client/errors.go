package client

import "errors"

var (
	// ErrAuthRejected is fatal to the session; the caller must obtain a fresh
	// credential before connecting again.
	ErrAuthRejected = errors.New("authentication rejected")

	// ErrTransportUnavailable means no network path to the gateway exists.
	ErrTransportUnavailable = errors.New("transport unavailable")

	ErrNotConnected = errors.New("not connected")
	ErrNotInRoom    = errors.New("not in a voice room")

	ErrJoinTimeout  = errors.New("join request timed out")
	ErrLeaveTimeout = errors.New("leave request timed out")

	// ErrJoinRejected carries the server's reason (room full, wrong password).
	ErrJoinRejected = errors.New("join rejected by server")

	// ErrJoinSuperseded resolves a pending join that was replaced by a newer
	// join for a different room (last write wins).
	ErrJoinSuperseded = errors.New("join superseded by a newer request")

	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("coordinator closed")
)
