// Package registry implements Kapua's peer registry: the concurrent index of
// Peer records keyed by both node id and transport address, and the Peer
// type itself.
//
// Grounded on wireguard-go's device/device.go peers map (a single
// sync.RWMutex guarding a map[key]*Peer) and indextable.go's lock-around-map
// idiom: one registry-wide lock, callers never hold a reference that
// outlives the critical section — they copy out what they need instead.
package registry

import (
	"crypto/rsa"
	"net"
	"sync"
	"time"

	"github.com/kapua-mesh/kapua/internal/cryptoenv"
)

// State is a peer's position in the handshake state machine.
type State int

const (
	Initialised State = iota
	KeyExchange
	Handshake
	CheckEncryption
	Connected
)

func (s State) String() string {
	switch s {
	case Initialised:
		return "Initialised"
	case KeyExchange:
		return "KeyExchange"
	case Handshake:
		return "Handshake"
	case CheckEncryption:
		return "CheckEncryption"
	case Connected:
		return "Connected"
	default:
		return "Unknown"
	}
}

// Addr is a comparable, hashable transport address: equality ignores the
// address family and compares only the IPv4 address and port, so this is
// intentionally not a net.UDPAddr (whose IP is a slice and is neither
// comparable nor usable as a map key).
type Addr struct {
	IP   [4]byte
	Port int
}

// AddrFromUDP converts a *net.UDPAddr into the registry's comparable Addr,
// folding any IPv4-in-IPv6 representation down to 4 bytes.
func AddrFromUDP(u *net.UDPAddr) Addr {
	var a Addr
	if ip4 := u.IP.To4(); ip4 != nil {
		copy(a.IP[:], ip4)
	}
	a.Port = u.Port
	return a
}

func (a Addr) String() string {
	return net.JoinHostPort(net.IP(a.IP[:]).String(), itoa(a.Port))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [12]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Peer is one other node known to this node. All fields are mutated only
// through the registry's exclusive lock (see Registry); a Peer is never
// safe to mutate directly by a caller holding a reference outside that
// lock's scope.
type Peer struct {
	ID     uint64
	Addr   Addr
	State  State

	PublicKey *rsa.PublicKey

	SessionKeyTx cryptoenv.SessionKey
	SessionKeyRx cryptoenv.SessionKey

	LastContact time.Time
}

// IsFullyKeyed reports whether both session keys are present, the
// invariant a Connected peer must satisfy.
func (p *Peer) IsFullyKeyed() bool {
	return !p.SessionKeyTx.IsZero() && !p.SessionKeyRx.IsZero()
}

// Registry is the concurrent index of peers. The zero value is not usable;
// construct with New.
type Registry struct {
	mu      sync.Mutex
	byID    map[uint64]*Peer
	byAddr  map[Addr]*Peer
}

// New constructs an empty, ready-to-use Registry.
func New() *Registry {
	return &Registry{
		byID:   make(map[uint64]*Peer),
		byAddr: make(map[Addr]*Peer),
	}
}

// Add is idempotent on id: if a peer with this id already exists its record
// is returned unchanged (its address is not updated, so a known id seen
// from a new address keeps its original address). Two peers that claim the
// same id always collapse to this one entry. A new peer starts in
// Initialised state.
func (r *Registry) Add(id uint64, addr Addr) *Peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byID[id]; ok {
		return existing
	}

	p := &Peer{
		ID:          id,
		Addr:        addr,
		State:       Initialised,
		LastContact: time.Now(),
	}
	r.byID[id] = p
	r.byAddr[addr] = p
	return p
}

// Remove deletes the peer with the given id, if any.
func (r *Registry) Remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)
	delete(r.byAddr, p.Addr)
}

// FindByID returns the peer with the given id, or nil if none is known.
func (r *Registry) FindByID(id uint64) *Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[id]
}

// FindByAddr returns the peer at the given address, or nil if none is known.
func (r *Registry) FindByAddr(addr Addr) *Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byAddr[addr]
}

// Len reports the number of peers currently registered.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// Touch updates last-contact; called on every accepted packet from a peer.
func (r *Registry) Touch(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.byID[id]; ok {
		p.LastContact = time.Now()
	}
}

// Transition moves a peer to a new state under the registry lock, so state
// changes are never racing with a concurrent Add/Remove/lookup.
func (r *Registry) Transition(id uint64, state State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.byID[id]; ok {
		p.State = state
	}
}

// SetPublicKey installs the peer's remote public key under the registry
// lock.
func (r *Registry) SetPublicKey(id uint64, pub *rsa.PublicKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.byID[id]; ok {
		p.PublicKey = pub
	}
}

func (r *Registry) SetSessionKeyTx(id uint64, key cryptoenv.SessionKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.byID[id]; ok {
		p.SessionKeyTx = key
	}
}

func (r *Registry) SetSessionKeyRx(id uint64, key cryptoenv.SessionKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.byID[id]; ok {
		p.SessionKeyRx = key
	}
}

// Snapshot returns a copy of the peer's fields, safe to read without holding
// any lock — copying out what's needed under the lock, in place of handing
// back a reference a caller could hold past the critical section.
func (r *Registry) Snapshot(id uint64) (Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return Peer{}, false
	}
	return *p, true
}

// Prune removes every peer whose last contact is older than olderThan. It
// exists as a building block for a future time-based eviction policy;
// without a configured grace period to drive it, nothing in internal/node
// calls this today.
func (r *Registry) Prune(olderThan time.Duration) []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	var removed []uint64
	for id, p := range r.byID {
		if p.LastContact.Before(cutoff) {
			delete(r.byID, id)
			delete(r.byAddr, p.Addr)
			removed = append(removed, id)
		}
	}
	return removed
}

// Do runs fn with exclusive access to the peer record for id, the "borrowing
// via a short closure" alternative to returning a raw pointer, for callers
// (the handshake state machine) that need several fields updated atomically.
func (r *Registry) Do(id uint64, fn func(p *Peer)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return false
	}
	fn(p)
	return true
}
