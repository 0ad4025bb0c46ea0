package cgate

import "errors"

// Domain errors for the cgate package.
var (
	// ErrNotConnected is returned when an operation requires a connection
	// but the socket is not currently connected.
	ErrNotConnected = errors.New("cgate: not connected")

	// ErrConnectionFailed is returned when a dial or handshake fails.
	ErrConnectionFailed = errors.New("cgate: connection failed")

	// ErrProtocolError is returned when the line framer's size cap is
	// exceeded, indicating the stream can no longer be trusted.
	ErrProtocolError = errors.New("cgate: protocol error")

	// ErrInvalidAddress is returned when an address string cannot be parsed.
	ErrInvalidAddress = errors.New("cgate: invalid address")

	// ErrInvalidCommand is returned when a command topic or payload is
	// malformed or uses an unrecognised kind.
	ErrInvalidCommand = errors.New("cgate: invalid command")

	// ErrNoHealthyConnection is returned by the command pool when no
	// pooled connection is currently healthy enough to dispatch to.
	ErrNoHealthyConnection = errors.New("cgate: no healthy command connection")

	// ErrPoolStartFailed is returned when a pool fails to get even one
	// connection healthy within its start timeout.
	ErrPoolStartFailed = errors.New("cgate: pool failed to start")

	// ErrDuplicateOnce is returned when a relative-dim registration is
	// attempted for an address that already has one pending.
	ErrDuplicateOnce = errors.New("cgate: relative-dim operation already pending")

	// ErrDiscoveryParse describes a TREEXML response that cannot be parsed
	// or does not match the requested network. Discovery logs such
	// responses and drops them; no function in this package returns it.
	ErrDiscoveryParse = errors.New("cgate: tree XML parse failed")
)
