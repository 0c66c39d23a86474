package connection

import "errors"

// Failure taxonomy. Every error produced by this package and by the client
// and server built on it wraps exactly one of these; match with errors.Is.
var (
	// ErrConnectFailure: a bind or connect could not be established. Fatal to
	// that attempt; never retried here.
	ErrConnectFailure = errors.New("connect failure")

	// ErrReadFailure: the peer closed or the transport failed while reading.
	// Terminal for the connection.
	ErrReadFailure = errors.New("read failure")

	// ErrSendFailure: a write could not complete. Non-fatal to the caller;
	// the connection's read loop detects the dead socket on its own.
	ErrSendFailure = errors.New("send failure")

	// ErrCapacityExceeded: a server refused a peer because it was full.
	ErrCapacityExceeded = errors.New("capacity exceeded")
)
