package network

import "errors"

var (
	// ErrPermissionDenied indicates the capability provider lacks a required grant.
	ErrPermissionDenied = errors.New("network: permission denied")
	// ErrProviderUnavailable indicates the transport hardware is off, absent or unsupported.
	ErrProviderUnavailable = errors.New("network: provider unavailable")
	// ErrHandshakeFailed indicates bonding or group negotiation was rejected or timed out.
	ErrHandshakeFailed = errors.New("network: handshake failed")
	// ErrLinkLost indicates the session stream failed while in use.
	ErrLinkLost = errors.New("network: link lost")
	// ErrProtocolViolation indicates an unexpected reply from the remote side.
	ErrProtocolViolation = errors.New("network: protocol violation")
	// ErrScanComplete marks normal completion of a radio scan.
	ErrScanComplete = errors.New("network: scan complete")
	// ErrClosed indicates the manager has been closed.
	ErrClosed = errors.New("network: manager closed")
	// ErrUnsupported indicates the operation is not offered by this transport.
	ErrUnsupported = errors.New("network: operation not supported by transport")
)
