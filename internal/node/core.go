// Package node wires together the packet codec, crypto envelope, peer
// registry, handshake dispatcher, action queue, and rate limiter into the
// running Core: the datagram I/O loop and its supporting goroutines
// (datagram receiver, action worker).
//
// Grounded on wireguard-go's Device: a struct holding the bound socket,
// the peer table, and a net.dropped-packet-tolerant receive loop started
// from a single entry point, with a cooperative atomic "running" flag
// checked by every worker instead of a shared global (device/device.go's
// device.state, translated here to a single sync/atomic.Bool owned by the
// core).
package node

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kapua-mesh/kapua/internal/actions"
	"github.com/kapua-mesh/kapua/internal/config"
	"github.com/kapua-mesh/kapua/internal/cryptoenv"
	"github.com/kapua-mesh/kapua/internal/handshake"
	"github.com/kapua-mesh/kapua/internal/logger"
	"github.com/kapua-mesh/kapua/internal/ratelimiter"
	"github.com/kapua-mesh/kapua/internal/registry"
	"github.com/kapua-mesh/kapua/internal/wire"
)

// recvTimeout bounds how long one ReadFromUDP call blocks, so the datagram
// loop periodically wakes to check the running flag and the discovery
// timer even with no traffic.
const recvTimeout = 100 * time.Microsecond

// Core is one running Kapua node: identity, keys, registry, socket, and
// the goroutines that drive them.
type Core struct {
	settings config.Settings
	log      logger.Logger
	myID     uint64
	keys     *cryptoenv.KeyPair

	reg     *registry.Registry
	disp    *handshake.Dispatcher
	limiter *ratelimiter.Limiter
	acts    *actions.Queue

	conn    *net.UDPConn
	running atomic.Bool
	wg      sync.WaitGroup
}

// New constructs a Core and starts its action worker and the rate
// limiter's garbage collector. It does not yet bind a socket or start the
// datagram loop; call Run for that.
func New(settings config.Settings, log logger.Logger, keys *cryptoenv.KeyPair) *Core {
	myID := settings.ServerID
	if !settings.ServerIDExplicit {
		myID = wire.RandomNodeID()
	}

	reg := registry.New()
	c := &Core{
		settings: settings,
		log:      log,
		myID:     myID,
		keys:     keys,
		reg:      reg,
		limiter:  ratelimiter.New(),
	}
	// onNewPeer defers the first PublicKeyRequest a brand-new peer earns
	// onto the action queue instead of sending it straight from the
	// datagram goroutine, so a burst of discoveries can never stall the
	// I/O loop. c.acts is assigned immediately below; the closure only
	// runs once Run is driving inbound traffic.
	c.disp = handshake.New(reg, keys, myID, log, func(peerID uint64) {
		c.acts.Push(actions.Action{Kind: actions.RequestPublicKey, NodeID: peerID})
	})
	c.acts = actions.New(log, c.handleAction)
	return c
}

// ID returns the local node's identifier.
func (c *Core) ID() uint64 { return c.myID }

// Run binds the socket and starts the datagram goroutine, then returns
// without blocking; it returns an error only if binding fails. Stop shuts
// the core down.
func (c *Core) Run() error {
	conn, err := bindSocket(c.settings.BindAddress, c.settings.Port)
	if err != nil {
		return err
	}
	c.conn = conn
	c.running.Store(true)

	c.wg.Add(1)
	go c.datagramLoop()

	return nil
}

// Stop cooperatively shuts the core down: flips the running flag, closes
// the socket (unblocking any in-flight receive), stops the action worker,
// and waits for the datagram goroutine to exit. Safe to call once Run has
// returned successfully.
func (c *Core) Stop() {
	if !c.running.CompareAndSwap(true, false) {
		return
	}
	if c.conn != nil {
		c.conn.Close()
	}
	c.wg.Wait()
	c.acts.Stop()
	c.limiter.Close()
}

func (c *Core) datagramLoop() {
	defer c.wg.Done()

	buf := make([]byte, wire.MaxPacketSize)
	var lastBroadcast time.Time

	for c.running.Load() {
		if c.settings.LocalDiscoveryEnable && time.Since(lastBroadcast) >= c.settings.LocalDiscoveryInterval {
			c.sendDiscovery()
			lastBroadcast = time.Now()
		}

		c.conn.SetReadDeadline(time.Now().Add(recvTimeout))
		n, from, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			if isTimeout(err) || !c.running.Load() {
				continue
			}
			c.log.Debugf("recv: %v", err)
			continue
		}

		addr := registry.AddrFromUDP(from)
		if !c.limiter.Allow(addr) {
			continue
		}
		c.handleDatagram(buf[:n], addr)
	}
}

func (c *Core) handleDatagram(raw []byte, addr registry.Addr) {
	pkt, err := c.parseInbound(raw, addr)
	if err != nil {
		c.log.Debugf("non-kapua packet from %s: %v", addr, err)
		return
	}

	if !wire.CheckVersion(pkt, wire.BuildVersion, false) {
		c.log.Debugf("dropped packet from %s: incompatible version %+v", addr, pkt.Version)
		return
	}

	for _, ob := range c.disp.Handle(pkt, addr) {
		if err := c.send(ob); err != nil {
			c.log.Errorf("send to %s: %v", ob.Dest, err)
		}
	}
}

// parseInbound tries plaintext first, and only if the magic check fails,
// attempts a symmetric decrypt against a known peer at State >=
// CheckEncryption.
func (c *Core) parseInbound(raw []byte, addr registry.Addr) (*wire.Packet, error) {
	if pkt, err := wire.Deserialize(raw); err == nil {
		return pkt, nil
	}

	peer := c.reg.FindByAddr(addr)
	if peer == nil || peer.State < registry.CheckEncryption {
		return nil, wire.ErrBadFrame
	}

	plain, err := cryptoenv.DecryptPayload(peer.SessionKeyRx, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", handshake.ErrCryptoFail, err)
	}
	return wire.Deserialize(plain)
}

// send implements the outbound half of the send path: serialize, then
// symmetrically encrypt under session_key_tx when the destination
// warrants it.
//
// Each call is tagged with a random correlation id, logged only, so a
// debug trace can line up an outbound send with the inbound packet that
// triggered it without the id ever touching the wire — the packet's own
// packet_id stays the sole wire-level correlator.
func (c *Core) send(ob handshake.Outbound) error {
	corrID := uuid.NewString()

	payload, err := ob.Packet.Serialize()
	if err != nil {
		return err
	}

	if ob.Encrypted {
		peer := c.reg.FindByID(ob.Packet.ToID)
		if peer == nil {
			return fmt.Errorf("%w: node %d", handshake.ErrUnknownPeer, ob.Packet.ToID)
		}
		payload, err = cryptoenv.EncryptPayload(peer.SessionKeyTx, payload)
		if err != nil {
			return err
		}
	}

	dst := &net.UDPAddr{IP: net.IP(ob.Dest.IP[:]), Port: ob.Dest.Port}
	c.log.Debugf("send[%s] %s to %s (encrypted=%v)", corrID, ob.Packet.Type, dst, ob.Encrypted)
	_, err = c.conn.WriteToUDP(payload, dst)
	return err
}

func (c *Core) sendDiscovery() {
	pkt := wire.New(wire.Discovery, c.myID)
	payload, err := pkt.Serialize()
	if err != nil {
		c.log.Errorf("serialize discovery: %v", err)
		return
	}
	dst := &net.UDPAddr{IP: net.ParseIP(broadcastAddr), Port: int(c.settings.Port)}
	if _, err := c.conn.WriteToUDP(payload, dst); err != nil {
		c.log.Debugf("send discovery: %v", err)
	}
}

// handleAction runs on the action-worker goroutine; it is the only caller
// of the socket's send path from outside the datagram goroutine, since the
// socket is shared between the datagram loop (read and write) and the
// action worker (write only).
func (c *Core) handleAction(a actions.Action) {
	switch a.Kind {
	case actions.RequestPublicKey:
		peer := c.reg.FindByID(a.NodeID)
		if peer == nil {
			return
		}
		pkt := wire.NewTo(wire.PublicKeyRequest, c.myID, peer.ID)
		if err := c.send(handshake.Outbound{Packet: pkt, Dest: peer.Addr}); err != nil {
			c.log.Errorf("action %s for %d: %v", a.Kind, a.NodeID, err)
		}
	}
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
