package npu

import "errors"

// Domain-specific errors for NPU operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when sending while the session is not online.
	ErrNotConnected = errors.New("npu: not connected")

	// ErrHandshakeFailed is returned when the gateway does not answer the
	// event registration with !GATRDY;.
	ErrHandshakeFailed = errors.New("npu: gateway handshake failed")

	// ErrUnreachable is returned by TestConnection when either the HTTP or
	// the TCP probe fails.
	ErrUnreachable = errors.New("npu: gateway unreachable")

	// ErrSystemIDNotFound is returned when the levels payload carries no
	// !SYSTEMID record. Without it entities cannot be given stable identities.
	ErrSystemIDNotFound = errors.New("npu: system id not found in levels payload")

	// ErrDiscoveryFailed is returned when the HTTP configuration endpoints
	// cannot be fetched.
	ErrDiscoveryFailed = errors.New("npu: discovery failed")

	// ErrInvalidFrame is returned when an inbound frame cannot be parsed.
	ErrInvalidFrame = errors.New("npu: invalid frame")
)
