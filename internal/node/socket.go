package node

import (
	"fmt"
	"net"
	"syscall"

	"golang.org/x/net/ipv4"
)

// broadcastAddr is the IPv4 limited broadcast address used for local
// discovery.
const broadcastAddr = "255.255.255.255"

// bindSocket opens the UDP socket the core owns for its entire lifetime:
// one receiving/sending endpoint, broadcast-enabled, scoped to the local
// segment.
//
// golang.org/x/net/ipv4 has no portable wrapper for SO_BROADCAST, so that
// one option is set via the raw syscall conn (the only stdlib-only corner
// of this function); everything else — scoping outbound TTL to 1 so a
// Discovery broadcast never crosses a router onto a neighboring segment —
// goes through ipv4.PacketConn.
func bindSocket(bindAddr string, port uint16) (*net.UDPConn, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(bindAddr), Port: int(port)}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("node: bind %s:%d: %w", bindAddr, port, err)
	}

	if err := enableBroadcast(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("node: enable broadcast: %w", err)
	}

	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetTTL(1); err != nil {
		conn.Close()
		return nil, fmt.Errorf("node: set ttl: %w", err)
	}

	return conn, nil
}

func enableBroadcast(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
