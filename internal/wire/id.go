package wire

import (
	"crypto/rand"
	"encoding/binary"
)

// randomPacketID draws a fresh random 64-bit packet_id, the way
// wireguard-go's indextable.go draws random 32-bit indices off
// crypto/rand rather than math/rand.
func randomPacketID() uint64 {
	var b [8]byte
	// crypto/rand.Read on the standard reader never returns a short read
	// or a non-nil error in practice; a zero id on the rare failure path
	// just costs one wasted correlation slot, not correctness.
	_, _ = rand.Read(b[:])
	return binary.LittleEndian.Uint64(b[:])
}

// RandomNodeID draws a fresh random 64-bit node id, used when
// server.id is not configured.
func RandomNodeID() uint64 {
	return randomPacketID()
}
