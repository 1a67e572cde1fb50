package core

import (
	"fmt"

	"golang.org/x/crypto/ripemd160" //lint:ignore SA1019 wire-mandated digest algorithm, not a hashing-strength choice
)

// DigestLength is the fixed length of every Key digest (§3 invariant 1).
const DigestLength = 20

// ComputeDigest implements §4.1: it writes the UTF-8 set name, one byte
// for the user key's particle type, and the user key's raw particle
// encoding into a scratch buffer, then returns the RIPEMD-160 hash of
// that buffer. NULL values are rejected — a digest identifies a single
// record, and a NULL user key cannot identify anything.
func ComputeDigest(set string, value Value) ([DigestLength]byte, error) {
	var out [DigestLength]byte
	if value == nil {
		return out, fmt.Errorf("core: cannot compute digest of a nil value")
	}
	pt := value.ParticleType()
	if pt == ParticleNull {
		return out, fmt.Errorf("core: cannot compute digest of a NULL value")
	}
	if !pt.digestable() {
		return out, fmt.Errorf("core: value of particle type %s cannot be used as a key", pt)
	}
	if nd, ok := value.(nonDigestableValue); ok && nd.nonDigestable() {
		return out, fmt.Errorf("core: value of type %T cannot be used as a key", value)
	}

	size := value.EstimateSize()
	if size < 0 {
		return out, fmt.Errorf("core: value of particle type %s has no fixed encoding and cannot be digested", pt)
	}

	bp := globalBufferPool.Get(len(set) + 1 + size)
	defer globalBufferPool.Put(bp)
	buf := (*bp)[:0]
	buf = append(buf, set...)
	buf = append(buf, byte(pt))
	n := len(buf)
	buf = buf[:n+size]
	written, err := value.Write(buf[n:])
	if err != nil {
		return out, fmt.Errorf("core: writing key value for digest: %w", err)
	}
	buf = buf[:n+written]

	h := ripemd160.New()
	_, _ = h.Write(buf) // ripemd160.digest.Write never returns an error
	copy(out[:], h.Sum(nil))
	return out, nil
}

// PartitionID returns the 12-bit partition id addressed by a digest, per
// §4.5/§8 invariant 10: the low 12 bits of the first four digest bytes
// read as a little-endian uint32.
func PartitionID(digest [DigestLength]byte) uint16 {
	v := uint32(digest[0]) | uint32(digest[1])<<8 | uint32(digest[2])<<16 | uint32(digest[3])<<24
	return uint16(v & 0x0FFF)
}
