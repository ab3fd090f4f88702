// Package handshake implements the per-peer handshake state machine:
// Initialised → KeyExchange → Handshake → CheckEncryption → Connected,
// driven by already-framed, already-decrypted packets handed to it by the
// datagram loop (internal/node).
//
// Grounded on wireguard-go's handshake handling in device/noise-helpers.go
// and device/receive.go insofar as both are "dispatch on packet type,
// mutate per-peer state under a lock, hand back packets to send" loops;
// the state names and transition table are Kapua's own five-step,
// fully peer-driven exchange, which has no direct analogue in WireGuard's
// two-message Noise handshake.
package handshake

import (
	"fmt"

	"github.com/kapua-mesh/kapua/internal/cryptoenv"
	"github.com/kapua-mesh/kapua/internal/logger"
	"github.com/kapua-mesh/kapua/internal/registry"
	"github.com/kapua-mesh/kapua/internal/wire"
)

// Outbound is a packet the dispatcher wants written to the wire, alongside
// its destination and whether the datagram loop must symmetrically encrypt
// it under the destination peer's session_key_tx first.
type Outbound struct {
	Packet    *wire.Packet
	Dest      registry.Addr
	Encrypted bool
}

// Dispatcher runs the state machine. It holds no socket and performs no
// I/O itself; it only reads/mutates the registry and returns packets for
// the caller to actually send, so no lock is ever held across a socket
// call.
//
// The sole currently defined deferred action, RequestPublicKey, is raised
// through onNewPeer rather than returned in-band as an Outbound: answering
// a brand-new peer's first sighting is exactly the kind of longer-running
// reaction that must not block the datagram loop, so the dispatcher only
// signals the need and leaves the actual send to whatever worker the
// caller wires onNewPeer to (internal/node wires it to the action queue's
// Push).
type Dispatcher struct {
	reg       *registry.Registry
	keys      *cryptoenv.KeyPair
	myID      uint64
	log       logger.Logger
	onNewPeer func(peerID uint64)
}

// New constructs a Dispatcher bound to the local node's identity, key
// pair, and peer registry. onNewPeer is invoked (synchronously, on the
// caller's goroutine) every time a previously unknown peer is registered;
// a nil onNewPeer is a no-op, which production wiring never does but unit
// tests that don't care about the deferred PublicKeyRequest may rely on.
func New(reg *registry.Registry, keys *cryptoenv.KeyPair, myID uint64, log logger.Logger, onNewPeer func(peerID uint64)) *Dispatcher {
	return &Dispatcher{reg: reg, keys: keys, myID: myID, log: log, onNewPeer: onNewPeer}
}

// Handle processes one inbound, plaintext packet received from addr. The
// datagram loop is responsible for symmetric-decrypting it first when the
// sender is a known peer at State >= CheckEncryption; Handle only ever
// sees plaintext wire.Packet values.
//
// It never returns an error: a protocol deviation from a single peer is
// logged and that one packet is dropped, never aborting handling of
// anyone else's traffic.
func (d *Dispatcher) Handle(pkt *wire.Packet, addr registry.Addr) []Outbound {
	if pkt.FromID == d.myID {
		d.log.Debugf("%v: from_id=%d", ErrSelfPacket, pkt.FromID)
		return nil
	}

	peer := d.reg.FindByID(pkt.FromID)
	isNew := peer == nil
	if isNew {
		peer = d.reg.Add(pkt.FromID, addr)
		d.log.Debugf("new peer %d at %s", pkt.FromID, addr.String())
		if d.onNewPeer != nil {
			d.onNewPeer(peer.ID)
		}
	}
	d.reg.Touch(pkt.FromID)

	var out []Outbound

	if pkt.Type == wire.Discovery || pkt.Type == wire.Ping {
		// Unsolicited Ping/Discovery in any state only updates last_contact,
		// already done above.
		return out
	}

	switch peer.State {
	case registry.Initialised:
		if pkt.Type == wire.PublicKeyRequest {
			out = append(out, d.replyPublicKey(peer))
			d.reg.Transition(peer.ID, registry.KeyExchange)
			return out
		}

	case registry.KeyExchange:
		if pkt.Type == wire.PublicKeyReply {
			ob, err := d.handlePublicKeyReply(peer, pkt)
			if err != nil {
				d.log.Errorf("peer %d: %v", peer.ID, err)
				return out
			}
			return append(out, ob)
		}

	case registry.Handshake:
		if pkt.Type == wire.EncryptionContext {
			ob, err := d.handleEncryptionContext(peer, pkt)
			if err != nil {
				d.log.Errorf("peer %d: %v", peer.ID, err)
				return out
			}
			return append(out, ob)
		}

	case registry.CheckEncryption:
		if pkt.Type == wire.Ready {
			d.reg.Transition(peer.ID, registry.Connected)
			d.log.Infof("peer %d connected", peer.ID)
			return out
		}

	case registry.Connected:
		return out
	}

	if pkt.Type == wire.EncryptionContext {
		if peer.State < registry.Handshake {
			d.log.Warnf("%v", fmt.Errorf("%w: peer %d encryption context before handshake", ErrStateMismatch, peer.ID))
		}
		// peer.State > Handshake: a stray retransmit, dropped silently.
		return out
	}

	d.log.Warnf("%v", fmt.Errorf("%w: peer %d packet type %s in state %s", ErrStateMismatch, peer.ID, pkt.Type, peer.State))
	return out
}

// replyPublicKey answers a PublicKeyRequest with our own public key.
func (d *Dispatcher) replyPublicKey(peer *registry.Peer) Outbound {
	p := wire.NewReply(wire.PublicKeyReply, d.myID, peer.ID, 0)
	if err := wire.WritePublicKey(p, d.keys.Public); err != nil {
		d.log.Errorf("peer %d: encode public key: %v", peer.ID, err)
	}
	return Outbound{Packet: p, Dest: peer.Addr, Encrypted: false}
}

// handlePublicKeyReply stores the peer's public key, generates a fresh
// outbound session key, and wraps it under the peer's public key as the
// EncryptionContext payload.
func (d *Dispatcher) handlePublicKeyReply(peer *registry.Peer, pkt *wire.Packet) (Outbound, error) {
	pub, err := wire.ReadPublicKey(pkt)
	if err != nil {
		return Outbound{}, err
	}
	d.reg.SetPublicKey(peer.ID, pub)

	sessionKey, err := cryptoenv.GenerateSessionKey()
	if err != nil {
		return Outbound{}, err
	}
	d.reg.SetSessionKeyTx(peer.ID, sessionKey)

	wrapped, err := cryptoenv.EncryptSessionKey(sessionKey, pub)
	if err != nil {
		return Outbound{}, err
	}

	p := wire.NewReply(wire.EncryptionContext, d.myID, peer.ID, 0)
	if err := p.SetPayload(wrapped); err != nil {
		return Outbound{}, err
	}

	d.reg.Transition(peer.ID, registry.Handshake)
	return Outbound{Packet: p, Dest: peer.Addr, Encrypted: false}, nil
}

// handleEncryptionContext unwraps the peer's chosen session key under our
// private key, installs it as session_key_rx, and replies Ready encrypted
// under session_key_tx. The peer's state is set to CheckEncryption before
// Ready is built, so Ready goes out already encrypted rather than as one
// last plaintext message.
func (d *Dispatcher) handleEncryptionContext(peer *registry.Peer, pkt *wire.Packet) (Outbound, error) {
	sessionKey, err := cryptoenv.DecryptSessionKey(pkt.Payload, d.keys.Private)
	if err != nil {
		return Outbound{}, err
	}
	d.reg.SetSessionKeyRx(peer.ID, sessionKey)
	d.reg.Transition(peer.ID, registry.CheckEncryption)

	p := wire.NewReply(wire.Ready, d.myID, peer.ID, 0)
	return Outbound{Packet: p, Dest: peer.Addr, Encrypted: true}, nil
}
