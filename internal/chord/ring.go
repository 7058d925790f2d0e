package chord

import (
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// ID is a position on the identifier ring, always in [0, 2^M).
type ID uint64

// Space is the cyclic identifier space of size 2^M that nodes and keys
// are hashed into. M must be between 1 and 63.
type Space struct {
	bits int
	size ID
}

// NewSpace creates an identifier space of 2^bits slots.
func NewSpace(bits int) (Space, error) {
	if bits < 1 || bits > 63 {
		return Space{}, fmt.Errorf("ring bits must be between 1 and 63, got %d", bits)
	}
	return Space{bits: bits, size: ID(1) << uint(bits)}, nil
}

// Bits returns M, the width of the identifier space.
func (s Space) Bits() int {
	return s.bits
}

// Size returns 2^M, the number of slots on the ring.
func (s Space) Size() ID {
	return s.size
}

// Mod reduces an arbitrary value onto the ring.
func (s Space) Mod(v uint64) ID {
	return ID(v) & (s.size - 1)
}

// Add returns (id + delta) on the ring.
func (s Space) Add(id ID, delta uint64) ID {
	return s.Mod(uint64(id) + delta)
}

// Sub returns (id - delta) on the ring.
func (s Space) Sub(id ID, delta uint64) ID {
	return s.Mod(uint64(id) + uint64(s.size) - delta%uint64(s.size))
}

// Next returns the slot immediately after id, wrapping through 0.
func (s Space) Next(id ID) ID {
	return s.Add(id, 1)
}

// NodeID derives a ring identifier from a node's endpoint string.
// The endpoint is hashed with SHA-1 and truncated mod 2^M.
func (s Space) NodeID(host string, port int) ID {
	return s.Truncate(Digest(fmt.Sprintf("%s:%d", host, port)))
}

// Truncate reduces a full SHA-1 digest (hex) onto the ring. Reduction
// mod 2^M keeps only the low M bits, so the last eight digest bytes
// carry everything that survives.
func (s Space) Truncate(digest string) ID {
	raw, err := hex.DecodeString(digest)
	if err != nil || len(raw) < 8 {
		// Not a digest we produced; hash it into the space instead
		// of routing garbage.
		return s.Truncate(Digest(digest))
	}
	return s.Mod(binary.BigEndian.Uint64(raw[len(raw)-8:]))
}

// Digest returns the hex-encoded SHA-1 of the concatenated parts.
// The untruncated digest is the storage key; only routing uses the
// truncated form.
func Digest(parts ...string) string {
	h := sha1.New()
	for _, p := range parts {
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Interval is a half-open range [Start, Stop) over a cyclic identifier
// space, wrapping through 0 when Start > Stop. It is the single
// primitive for every "is this id between two ring positions" decision.
type Interval struct {
	Start ID
	Stop  ID
	space Space
}

// NewInterval constructs [start, stop) over the given space. Both
// bounds are reduced onto the ring.
func (s Space) NewInterval(start, stop ID) Interval {
	return Interval{
		Start: s.Mod(uint64(start)),
		Stop:  s.Mod(uint64(stop)),
		space: s,
	}
}

// Contains reports whether id lies within the interval.
// A Stop of 0 means the interval runs to the top of the ring; equal
// non-zero bounds denote the whole ring.
func (iv Interval) Contains(id ID) bool {
	id = iv.space.Mod(uint64(id))
	switch {
	case iv.Start < iv.Stop:
		return id >= iv.Start && id < iv.Stop
	case iv.Stop == 0:
		return id >= iv.Start
	default:
		// Wraps through 0: [Start, 2^M) or [0, Stop)
		return id >= iv.Start || id < iv.Stop
	}
}

// Len returns the number of slots the interval covers.
func (iv Interval) Len() int {
	switch {
	case iv.Start < iv.Stop:
		return int(iv.Stop - iv.Start)
	case iv.Stop == 0:
		return int(iv.space.size - iv.Start)
	default:
		return int(iv.space.size - iv.Start + iv.Stop)
	}
}

// Slots iterates the interval in ring order, calling fn for each slot
// until it returns false.
func (iv Interval) Slots(fn func(ID) bool) {
	id := iv.Start
	for i := 0; i < iv.Len(); i++ {
		if !fn(id) {
			return
		}
		id = iv.space.Next(id)
	}
}

func (iv Interval) String() string {
	return fmt.Sprintf("[%d,%d)%%%d", iv.Start, iv.Stop, iv.space.size)
}
