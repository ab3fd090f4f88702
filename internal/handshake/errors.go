package handshake

import "errors"

// Sentinel error kinds for the handshake state machine. Most of these are
// logged and the offending packet dropped in place rather than returned to
// a caller; they are named here so log call sites and tests share one
// vocabulary instead of ad hoc format strings.
var (
	ErrUnknownPeer   = errors.New("handshake: packet type requires a known peer")
	ErrStateMismatch = errors.New("handshake: packet type not valid in current peer state")
	ErrSelfPacket    = errors.New("handshake: from_id equals local node id")
	ErrCryptoFail    = errors.New("handshake: asymmetric or symmetric primitive failed")
)
