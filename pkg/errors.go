package pkg

import "errors"

var (
	// ErrKeyNotFound is returned when a key doesn't exist
	ErrKeyNotFound = errors.New("key not found")

	// ErrPeerUnreachable is returned when a remote node cannot be dialed
	// or the connection fails mid-call
	ErrPeerUnreachable = errors.New("peer unreachable")

	// ErrBadRequest is returned for malformed requests or missing arguments
	ErrBadRequest = errors.New("bad request")

	// ErrStoreClosed is returned when the store has been closed
	ErrStoreClosed = errors.New("store closed")
)
