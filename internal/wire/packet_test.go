package wire

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
)

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	p := NewReply(PublicKeyRequest, 42, 99, 7)
	p.Payload = []byte("hello kapua")

	buf, err := p.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	got, err := Deserialize(buf)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}

	if got.Version != p.Version || got.Type != p.Type || got.PacketID != p.PacketID ||
		got.FromID != p.FromID || got.ToID != p.ToID || got.TTL != p.TTL ||
		got.RequestID != p.RequestID || string(got.Payload) != string(p.Payload) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, p)
	}
}

func TestDeserializeRejectsShortBuffer(t *testing.T) {
	if _, err := Deserialize(make([]byte, HeaderSize-1)); err != ErrBadFrame {
		t.Fatalf("expected ErrBadFrame for short buffer, got %v", err)
	}
}

func TestDeserializeRejectsBadMagic(t *testing.T) {
	buf := make([]byte, HeaderSize)
	if _, err := Deserialize(buf); err != ErrBadFrame {
		t.Fatalf("expected ErrBadFrame for zeroed buffer, got %v", err)
	}
}

func TestDeserializeRejectsOverlongLength(t *testing.T) {
	p := New(Ping, 1)
	buf, err := p.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	// Claim more payload than the buffer actually carries.
	buf[44] = 0xFF
	buf[45] = 0xFF
	if _, err := Deserialize(buf); err != ErrBadFrame {
		t.Fatalf("expected ErrBadFrame for overlong length, got %v", err)
	}
}

func TestCheckVersion(t *testing.T) {
	p := New(Ping, 1)
	build := BuildVersion

	if !CheckVersion(p, build, true) {
		t.Fatalf("expected matching version to pass strict check")
	}

	skewed := build
	skewed.Major++
	if CheckVersion(p, skewed, false) {
		t.Fatalf("expected major-version skew to fail even non-strict check")
	}

	minorSkewed := p
	minorSkewed.Version.Minor++
	if CheckVersion(minorSkewed, build, true) {
		t.Fatalf("expected minor-version skew to fail strict check")
	}
	if !CheckVersion(minorSkewed, build, false) {
		t.Fatalf("expected minor-version skew to pass non-strict check")
	}
}

func TestWriteReadPublicKeyRoundTrip(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	p := New(PublicKeyReply, 1)
	if err := WritePublicKey(p, &key.PublicKey); err != nil {
		t.Fatalf("WritePublicKey: %v", err)
	}

	got, err := ReadPublicKey(p)
	if err != nil {
		t.Fatalf("ReadPublicKey: %v", err)
	}
	if got.N.Cmp(key.PublicKey.N) != 0 || got.E != key.PublicKey.E {
		t.Fatalf("recovered public key does not match original")
	}
}

func TestReadPublicKeyRejectsMalformedPayload(t *testing.T) {
	p := New(PublicKeyReply, 1)
	p.Payload = []byte("not a der-encoded key")
	if _, err := ReadPublicKey(p); err == nil {
		t.Fatalf("expected error reading malformed public key payload")
	}
}

func TestSerializeRejectsOversizedPayload(t *testing.T) {
	p := New(Ping, 1)
	p.Payload = make([]byte, MaxPayloadSize+1)
	if _, err := p.Serialize(); err == nil {
		t.Fatalf("expected error serializing oversized payload")
	}
}

func TestBroadcastDefaultAndIsBroadcast(t *testing.T) {
	p := New(Discovery, 1)
	if p.ToID != BroadcastID || !p.IsBroadcast() {
		t.Fatalf("expected New() to default ToID to BroadcastID")
	}
}
