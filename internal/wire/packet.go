// Package wire implements Kapua's packet codec: a fixed 46-byte header
// (magic, version, type, ids, TTL, request correlator, payload length),
// little-endian throughout, plus two typed public-key payload helpers.
//
// Framing is memcpy-style over a byte buffer, the way wireguard-go's
// device/noise-types.go treats its own fixed-width protocol fields — plain
// encoding/binary, no reflection, no third-party codec.
package wire

import (
	"bytes"
	"crypto/rsa"
	"crypto/x509"
	"encoding/binary"
	"errors"
	"fmt"
)

// Magic is the constant 5-byte prefix identifying a Kapua packet.
var Magic = [5]byte{0x4B, 0x61, 0x70, 0x75, 0x61} // "Kapua"

// Version identifies the wire format revision this build speaks.
type Version struct {
	Major, Minor, Patch uint8
}

// BuildVersion is the version stamped on every packet this build constructs.
var BuildVersion = Version{Major: 0, Minor: 0, Patch: 1}

// Type enumerates the packet types carried in the header.
type Type uint16

const (
	Ping Type = iota
	PublicKeyRequest
	PublicKeyReply
	EncryptionContext
	Ready
	Discovery Type = 0xFFFF
)

func (t Type) String() string {
	switch t {
	case Ping:
		return "Ping"
	case PublicKeyRequest:
		return "PublicKeyRequest"
	case PublicKeyReply:
		return "PublicKeyReply"
	case EncryptionContext:
		return "EncryptionContext"
	case Ready:
		return "Ready"
	case Discovery:
		return "Discovery"
	default:
		return fmt.Sprintf("Type(%d)", uint16(t))
	}
}

const (
	// HeaderSize is the fixed width, in bytes, of every Kapua packet header.
	HeaderSize = 5 + 3 + 2 + 8 + 8 + 8 + 2 + 8 + 2

	// MaxPacketSize is the ceiling imposed so a packet fits a
	// non-fragmenting IPv4 UDP datagram on typical paths.
	MaxPacketSize = 1450

	// MaxPayloadSize is the largest payload a single packet can carry.
	MaxPayloadSize = MaxPacketSize - HeaderSize

	// BroadcastID is the reserved to_id meaning "every peer".
	BroadcastID uint64 = 0xFFFFFFFFFFFFFFFF

	// InitialTTL is the TTL a freshly constructed packet is given.
	InitialTTL uint16 = 32
)

// Packet is the in-memory representation of a parsed or about-to-be-sent
// Kapua packet.
type Packet struct {
	Version   Version
	Type      Type
	PacketID  uint64
	FromID    uint64
	ToID      uint64
	TTL       uint16
	RequestID uint64
	Payload   []byte
}

// New builds a packet addressed to the broadcast id with no request
// correlation: the "(type, from)" constructor form.
func New(t Type, from uint64) *Packet {
	return NewReply(t, from, BroadcastID, 0)
}

// NewTo is the "(type, from, to)" constructor form.
func NewTo(t Type, from, to uint64) *Packet {
	return NewReply(t, from, to, 0)
}

// NewReply is the "(type, from, to, request_id)" constructor form; a
// requestID of 0 means "not a reply to anything".
func NewReply(t Type, from, to, requestID uint64) *Packet {
	return &Packet{
		Version:   BuildVersion,
		Type:      t,
		PacketID:  randomPacketID(),
		FromID:    from,
		ToID:      to,
		TTL:       InitialTTL,
		RequestID: requestID,
	}
}

// IsBroadcast reports whether the packet is addressed to every peer.
func (p *Packet) IsBroadcast() bool {
	return p.ToID == BroadcastID
}

// Serialize writes the packet's wire representation: the 46-byte header at
// fixed offsets followed by the payload, little-endian throughout.
func (p *Packet) Serialize() ([]byte, error) {
	if len(p.Payload) > MaxPayloadSize {
		return nil, fmt.Errorf("wire: payload of %d bytes exceeds capacity %d", len(p.Payload), MaxPayloadSize)
	}

	buf := make([]byte, HeaderSize+len(p.Payload))
	copy(buf[0:5], Magic[:])
	buf[5] = p.Version.Major
	buf[6] = p.Version.Minor
	buf[7] = p.Version.Patch
	binary.LittleEndian.PutUint16(buf[8:10], uint16(p.Type))
	binary.LittleEndian.PutUint64(buf[10:18], p.PacketID)
	binary.LittleEndian.PutUint64(buf[18:26], p.FromID)
	binary.LittleEndian.PutUint64(buf[26:34], p.ToID)
	binary.LittleEndian.PutUint16(buf[34:36], p.TTL)
	binary.LittleEndian.PutUint64(buf[36:44], p.RequestID)
	binary.LittleEndian.PutUint16(buf[44:46], uint16(len(p.Payload)))
	copy(buf[HeaderSize:], p.Payload)
	return buf, nil
}

// Deserialize parses buf in place into a Packet. It checks minimum length,
// magic, and that length agrees with the buffer actually received; callers
// are expected to separately check Version.Major against BuildVersion.Major
// via CheckVersion, which is kept out of the parser so the caller can choose
// how strict a minor-version mismatch should be.
func Deserialize(buf []byte) (*Packet, error) {
	if len(buf) < HeaderSize {
		return nil, ErrBadFrame
	}
	if !bytes.Equal(buf[0:5], Magic[:]) {
		return nil, ErrBadFrame
	}

	length := binary.LittleEndian.Uint16(buf[44:46])
	if int(length) > len(buf)-HeaderSize {
		return nil, ErrBadFrame
	}

	p := &Packet{
		Version: Version{Major: buf[5], Minor: buf[6], Patch: buf[7]},
		Type:    Type(binary.LittleEndian.Uint16(buf[8:10])),
	}
	p.PacketID = binary.LittleEndian.Uint64(buf[10:18])
	p.FromID = binary.LittleEndian.Uint64(buf[18:26])
	p.ToID = binary.LittleEndian.Uint64(buf[26:34])
	p.TTL = binary.LittleEndian.Uint16(buf[34:36])
	p.RequestID = binary.LittleEndian.Uint64(buf[36:44])
	p.Payload = append([]byte(nil), buf[HeaderSize:HeaderSize+length]...)
	return p, nil
}

// CheckVersion reports whether p's major version is compatible with build.
// Strict comparison of the minor component is left to callers that opt in,
// since a minor-version bump is meant to stay backward compatible.
func CheckVersion(p *Packet, build Version, strictMinor bool) bool {
	if p.Version.Major != build.Major {
		return false
	}
	if strictMinor && p.Version.Minor != build.Minor {
		return false
	}
	return true
}

// SetPayload installs an opaque payload, rejecting one that would not fit
// within a single packet's capacity.
func (p *Packet) SetPayload(payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return fmt.Errorf("wire: payload of %d bytes exceeds capacity %d", len(payload), MaxPayloadSize)
	}
	p.Payload = payload
	return nil
}

// WritePublicKey DER-encodes pub and stores it as the packet payload.
func WritePublicKey(p *Packet, pub *rsa.PublicKey) error {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return fmt.Errorf("wire: marshal public key: %w", err)
	}
	if len(der) > MaxPayloadSize {
		return fmt.Errorf("wire: encoded public key (%d bytes) exceeds payload capacity %d", len(der), MaxPayloadSize)
	}
	p.Payload = der
	return nil
}

// ReadPublicKey decodes the packet's payload as a DER-encoded RSA public key.
func ReadPublicKey(p *Packet) (*rsa.PublicKey, error) {
	if len(p.Payload) == 0 {
		return nil, errors.New("wire: empty payload, no public key present")
	}
	key, err := x509.ParsePKIXPublicKey(p.Payload)
	if err != nil {
		return nil, fmt.Errorf("wire: malformed public key payload: %w", err)
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("wire: payload is not an RSA public key")
	}
	return rsaKey, nil
}
