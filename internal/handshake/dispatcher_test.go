package handshake

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kapua-mesh/kapua/internal/cryptoenv"
	"github.com/kapua-mesh/kapua/internal/logger"
	"github.com/kapua-mesh/kapua/internal/registry"
	"github.com/kapua-mesh/kapua/internal/wire"
)

func testKeys(t *testing.T) *cryptoenv.KeyPair {
	t.Helper()
	kp, err := cryptoenv.GenerateKeyPair(2048)
	require.NoError(t, err)
	return kp
}

func testLogger() logger.Logger {
	return logger.New(io.Discard, logger.LevelSilent, "")
}

func addr(port int) registry.Addr {
	return registry.Addr{IP: [4]byte{127, 0, 0, 1}, Port: port}
}

// newPeerRecorder builds an onNewPeer callback that records every peer id
// it is invoked with, standing in for internal/node's real wiring onto the
// action queue.
func newPeerRecorder() (func(uint64), *[]uint64) {
	var seen []uint64
	return func(id uint64) { seen = append(seen, id) }, &seen
}

func TestSelfPacketDropped(t *testing.T) {
	reg := registry.New()
	onNew, seen := newPeerRecorder()
	d := New(reg, testKeys(t), 1, testLogger(), onNew)

	pkt := wire.New(wire.Discovery, 1)
	out := d.Handle(pkt, addr(9000))

	assert.Empty(t, out)
	assert.Equal(t, 0, reg.Len())
	assert.Empty(t, *seen)
}

func TestNewPeerTriggersDeferredPublicKeyRequest(t *testing.T) {
	reg := registry.New()
	onNew, seen := newPeerRecorder()
	d := New(reg, testKeys(t), 1, testLogger(), onNew)

	pkt := wire.New(wire.Discovery, 2)
	out := d.Handle(pkt, addr(9000))

	// The PublicKeyRequest itself is deferred through onNewPeer, not
	// returned in-band: Discovery carries no other reply.
	assert.Empty(t, out)
	assert.Equal(t, []uint64{2}, *seen)
	assert.Equal(t, uint64(2), reg.FindByID(2).ID)
	assert.Equal(t, registry.Initialised, reg.FindByID(2).State)
}

func TestNewPeerCallbackIsOptional(t *testing.T) {
	reg := registry.New()
	d := New(reg, testKeys(t), 1, testLogger(), nil)

	pkt := wire.New(wire.Discovery, 2)
	assert.NotPanics(t, func() { d.Handle(pkt, addr(9000)) })
	assert.Equal(t, uint64(2), reg.FindByID(2).ID)
}

func TestInitialisedRepliesPublicKeyAndAdvances(t *testing.T) {
	reg := registry.New()
	myKeys := testKeys(t)
	onNew, seen := newPeerRecorder()
	d := New(reg, myKeys, 1, testLogger(), onNew)

	pkt := wire.NewTo(wire.PublicKeyRequest, 2, 1)
	out := d.Handle(pkt, addr(9000))

	// The new-peer reaction (a deferred PublicKeyRequest of our own) fires
	// out-of-band; only the direct PublicKeyReply comes back in-band.
	assert.Equal(t, []uint64{2}, *seen)
	require.Len(t, out, 1)
	assert.Equal(t, wire.PublicKeyReply, out[0].Packet.Type)

	pub, err := wire.ReadPublicKey(out[0].Packet)
	require.NoError(t, err)
	assert.Equal(t, myKeys.Public.N, pub.N)

	assert.Equal(t, registry.KeyExchange, reg.FindByID(2).State)
}

func TestKeyExchangeToHandshakeOnPublicKeyReply(t *testing.T) {
	reg := registry.New()
	myKeys := testKeys(t)
	peerKeys := testKeys(t)
	onNew, _ := newPeerRecorder()
	d := New(reg, myKeys, 1, testLogger(), onNew)

	reg.Add(2, addr(9000))
	reg.Transition(2, registry.KeyExchange)

	reply := wire.NewReply(wire.PublicKeyReply, 2, 1, 0)
	require.NoError(t, wire.WritePublicKey(reply, peerKeys.Public))

	out := d.Handle(reply, addr(9000))
	require.Len(t, out, 1)
	assert.Equal(t, wire.EncryptionContext, out[0].Packet.Type)
	assert.False(t, out[0].Encrypted)

	snap, ok := reg.Snapshot(2)
	require.True(t, ok)
	assert.Equal(t, registry.Handshake, snap.State)
	assert.False(t, snap.SessionKeyTx.IsZero())
	assert.Equal(t, peerKeys.Public.N, snap.PublicKey.N)

	// The EncryptionContext payload must decrypt back to the stored tx key.
	recovered, err := cryptoenv.DecryptSessionKey(out[0].Packet.Payload, peerKeys.Private)
	require.NoError(t, err)
	assert.Equal(t, snap.SessionKeyTx, recovered)
}

func TestHandshakeToCheckEncryptionOnEncryptionContext(t *testing.T) {
	reg := registry.New()
	myKeys := testKeys(t)
	onNew, _ := newPeerRecorder()
	d := New(reg, myKeys, 1, testLogger(), onNew)

	reg.Add(2, addr(9000))
	reg.Transition(2, registry.Handshake)

	sessionKey, err := cryptoenv.GenerateSessionKey()
	require.NoError(t, err)
	wrapped, err := cryptoenv.EncryptSessionKey(sessionKey, myKeys.Public)
	require.NoError(t, err)

	pkt := wire.NewReply(wire.EncryptionContext, 2, 1, 0)
	require.NoError(t, pkt.SetPayload(wrapped))

	out := d.Handle(pkt, addr(9000))
	require.Len(t, out, 1)
	assert.Equal(t, wire.Ready, out[0].Packet.Type)
	assert.True(t, out[0].Encrypted)

	snap, ok := reg.Snapshot(2)
	require.True(t, ok)
	assert.Equal(t, registry.CheckEncryption, snap.State)
	assert.Equal(t, sessionKey, snap.SessionKeyRx)
}

func TestCheckEncryptionToConnectedOnReady(t *testing.T) {
	reg := registry.New()
	onNew, _ := newPeerRecorder()
	d := New(reg, testKeys(t), 1, testLogger(), onNew)

	reg.Add(2, addr(9000))
	reg.Transition(2, registry.CheckEncryption)

	pkt := wire.NewReply(wire.Ready, 2, 1, 0)
	out := d.Handle(pkt, addr(9000))

	assert.Empty(t, out)
	snap, ok := reg.Snapshot(2)
	require.True(t, ok)
	assert.Equal(t, registry.Connected, snap.State)
}

func TestStateMismatchDropsWithoutResettingState(t *testing.T) {
	reg := registry.New()
	onNew, _ := newPeerRecorder()
	d := New(reg, testKeys(t), 1, testLogger(), onNew)

	reg.Add(2, addr(9000))
	reg.Transition(2, registry.Handshake)

	// Ready is not valid while in Handshake.
	pkt := wire.NewReply(wire.Ready, 2, 1, 0)
	out := d.Handle(pkt, addr(9000))

	assert.Empty(t, out)
	snap, ok := reg.Snapshot(2)
	require.True(t, ok)
	assert.Equal(t, registry.Handshake, snap.State, "state must be preserved on a mismatched packet type")
}

func TestEncryptionContextBeforeHandshakeLogsAndDrops(t *testing.T) {
	reg := registry.New()
	onNew, _ := newPeerRecorder()
	d := New(reg, testKeys(t), 1, testLogger(), onNew)

	reg.Add(2, addr(9000))
	// still Initialised

	pkt := wire.NewReply(wire.EncryptionContext, 2, 1, 0)
	out := d.Handle(pkt, addr(9000))

	assert.Empty(t, out)
	snap, ok := reg.Snapshot(2)
	require.True(t, ok)
	assert.Equal(t, registry.Initialised, snap.State)
}

func TestFullHandshakeBothDirections(t *testing.T) {
	regA, regB := registry.New(), registry.New()
	keysA, keysB := testKeys(t), testKeys(t)
	const idA, idB = uint64(1), uint64(2)
	addrA, addrB := addr(9000), addr(9001)

	onNewA, seenA := newPeerRecorder()
	onNewB, seenB := newPeerRecorder()
	dA := New(regA, keysA, idA, testLogger(), onNewA)
	dB := New(regB, keysB, idB, testLogger(), onNewB)

	// A discovers B: B registers A as a new peer and defers its own
	// PublicKeyRequest rather than answering Discovery in-band.
	discovery := wire.New(wire.Discovery, idA)
	outB := dB.Handle(discovery, addrA)
	assert.Empty(t, outB)
	require.Equal(t, []uint64{idA}, *seenB)

	// The deferred action fires: B's PublicKeyRequest reaches A. A registers
	// B as new (deferring its own PublicKeyRequest) and replies in-band.
	bRequest := wire.NewTo(wire.PublicKeyRequest, idB, idA)
	outA := dA.Handle(bRequest, addrB)
	require.Equal(t, []uint64{idB}, *seenA)
	require.Len(t, outA, 1)
	require.Equal(t, wire.PublicKeyReply, outA[0].Packet.Type)
	aReply := outA[0].Packet

	// A's deferred PublicKeyRequest reaches B: B replies and moves to
	// KeyExchange, the only state in which it accepts A's reply.
	aRequest := wire.NewTo(wire.PublicKeyRequest, idA, idB)
	outB = dB.Handle(aRequest, addrA)
	require.Len(t, outB, 1)
	require.Equal(t, wire.PublicKeyReply, outB[0].Packet.Type)
	bReply := outB[0].Packet

	// A's reply reaches B: B now has A's public key, sends EncryptionContext.
	outB = dB.Handle(aReply, addrA)
	require.Len(t, outB, 1)
	require.Equal(t, wire.EncryptionContext, outB[0].Packet.Type)
	bContext := outB[0].Packet

	// B's reply reaches A: A now has B's public key, sends EncryptionContext.
	outA = dA.Handle(bReply, addrB)
	require.Len(t, outA, 1)
	require.Equal(t, wire.EncryptionContext, outA[0].Packet.Type)
	aContext := outA[0].Packet

	// B's EncryptionContext reaches A: A derives session_key_rx, replies Ready.
	outA = dA.Handle(bContext, addrB)
	require.Len(t, outA, 1)
	require.Equal(t, wire.Ready, outA[0].Packet.Type)
	require.True(t, outA[0].Encrypted)

	snapA, _ := regA.Snapshot(idB)
	assert.Equal(t, registry.CheckEncryption, snapA.State)

	// A's EncryptionContext reaches B: B derives session_key_rx, replies Ready.
	outB = dB.Handle(aContext, addrA)
	require.Len(t, outB, 1)
	require.Equal(t, wire.Ready, outB[0].Packet.Type)

	// A's Ready reaches B: B is now Connected.
	outB = dB.Handle(outA[0].Packet, addrA)
	assert.Empty(t, outB)
	snapB, _ := regB.Snapshot(idA)
	assert.Equal(t, registry.Connected, snapB.State)
}
