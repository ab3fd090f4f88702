package node

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kapua-mesh/kapua/internal/config"
	"github.com/kapua-mesh/kapua/internal/cryptoenv"
	"github.com/kapua-mesh/kapua/internal/logger"
	"github.com/kapua-mesh/kapua/internal/wire"
)

func testLogger() logger.Logger {
	return logger.New(io.Discard, logger.LevelSilent, "")
}

func testKeys(t *testing.T) *cryptoenv.KeyPair {
	t.Helper()
	kp, err := cryptoenv.GenerateKeyPair(2048)
	require.NoError(t, err)
	return kp
}

func newTestCore(t *testing.T, id uint64, discovery bool) *Core {
	t.Helper()
	s := config.Settings{
		ServerID:               id,
		ServerIDExplicit:       true,
		BindAddress:            "127.0.0.1",
		Port:                   0, // ephemeral; tests read the bound address from conn.LocalAddr
		LocalDiscoveryEnable:   discovery,
		LocalDiscoveryInterval: 100 * time.Millisecond,
	}
	return New(s, testLogger(), testKeys(t))
}

// Two Cores on loopback should discover each other and each install both
// session keys for the other, distinct per direction, within a bounded
// window.
func TestHandshakeKeysBothDirectionsOverLoopback(t *testing.T) {
	a := newTestCore(t, 1, true)
	require.NoError(t, a.Run())
	defer a.Stop()

	b := newTestCore(t, 2, true)
	require.NoError(t, b.Run())
	defer b.Stop()

	aAddr := a.conn.LocalAddr().(*net.UDPAddr)
	bAddr := b.conn.LocalAddr().(*net.UDPAddr)

	// Seed discovery directly rather than waiting on broadcast, which
	// loopback may not deliver in every sandboxed test environment.
	a.conn.WriteToUDP(mustSerialize(t, wire.New(wire.Discovery, a.ID())), bAddr)
	b.conn.WriteToUDP(mustSerialize(t, wire.New(wire.Discovery, b.ID())), aAddr)

	require.Eventually(t, func() bool {
		pa := a.reg.FindByID(b.ID())
		pb := b.reg.FindByID(a.ID())
		return pa != nil && pb != nil && pa.IsFullyKeyed() && pb.IsFullyKeyed()
	}, 2*time.Second, 10*time.Millisecond)

	pa := a.reg.FindByID(b.ID())
	pb := b.reg.FindByID(a.ID())
	assert.NotEqual(t, pa.SessionKeyTx, pa.SessionKeyRx)
	assert.NotEqual(t, pb.SessionKeyTx, pb.SessionKeyRx)
}

// A header-sized all-zero datagram has no valid magic and must be dropped
// without ever registering a peer.
func TestHeaderSizedAllZeroDatagramIsDropped(t *testing.T) {
	a := newTestCore(t, 1, false)
	require.NoError(t, a.Run())
	defer a.Stop()

	conn, err := net.DialUDP("udp4", nil, a.conn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write(make([]byte, wire.HeaderSize))
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, a.reg.Len())
}

// A Discovery packet carrying an incompatible major version must be
// dropped rather than registering its sender as a peer.
func TestIncompatibleMajorVersionIsDropped(t *testing.T) {
	a := newTestCore(t, 1, false)
	require.NoError(t, a.Run())
	defer a.Stop()

	conn, err := net.DialUDP("udp4", nil, a.conn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer conn.Close()

	pkt := wire.New(wire.Discovery, 99)
	pkt.Version.Major = wire.BuildVersion.Major + 1
	buf, err := pkt.Serialize()
	require.NoError(t, err)

	_, err = conn.Write(buf)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Nil(t, a.reg.FindByID(99))
}

// A node's own broadcast, echoed back to itself, must never create a
// self-peer entry.
func TestOwnBroadcastEchoIsSelfFiltered(t *testing.T) {
	a := newTestCore(t, 1, false)
	require.NoError(t, a.Run())
	defer a.Stop()

	conn, err := net.DialUDP("udp4", nil, a.conn.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	defer conn.Close()

	buf := mustSerialize(t, wire.New(wire.Discovery, a.ID()))
	_, err = conn.Write(buf)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	assert.Nil(t, a.reg.FindByID(a.ID()))
}

func mustSerialize(t *testing.T, p *wire.Packet) []byte {
	t.Helper()
	buf, err := p.Serialize()
	require.NoError(t, err)
	return buf
}
