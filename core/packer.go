package core

import (
	"encoding/binary"
	"math"
)

// Packer implements the MessagePack encoding used for CDT (collection)
// bins, with the Aerospike-specific extensions described in §4.2: strings
// and blobs are framed as raw-bytes headers carrying a leading particle
// type byte, map ordering is signalled with a sentinel first entry, and
// infinity/wildcard are distinguished extension bytes.
//
// A generic MessagePack library cannot produce this framing — none expose
// a hook to inject an arbitrary prefix byte ahead of a raw/bin payload or
// to splice a sentinel entry into a map — so the encoder is written
// directly against the MessagePack wire format (see DESIGN.md).
type Packer struct {
	buf []byte
}

// NewPacker returns a Packer with its scratch buffer reserved upfront.
func NewPacker(sizeHint int) *Packer {
	if sizeHint < 0 {
		sizeHint = 0
	}
	return &Packer{buf: make([]byte, 0, sizeHint)}
}

// Bytes returns the packed MessagePack payload accumulated so far.
func (p *Packer) Bytes() []byte { return p.buf }

// Reset empties the packer for reuse without releasing its backing array.
func (p *Packer) Reset() { p.buf = p.buf[:0] }

// Extension type bytes for the two Aerospike CDT sentinels (§4.2): the
// spec fixes these two values; the map-order sentinel key is ours to pick
// and is internally consistent between Packer and Unpacker.
const (
	extTypeWildcard  = 0x00
	extTypeInfinity  = 0x7F
	extTypeMapOrder  = 0x01 // reserved ext type for the map-order sentinel key
)

func (p *Packer) packNil() error {
	p.buf = append(p.buf, 0xc0)
	return nil
}

func (p *Packer) packBool(b bool) error {
	if b {
		p.buf = append(p.buf, 0xc3)
	} else {
		p.buf = append(p.buf, 0xc2)
	}
	return nil
}

func (p *Packer) packInt64(v int64) error {
	switch {
	case v >= 0:
		return p.packUint64(uint64(v))
	case v >= -32:
		p.buf = append(p.buf, byte(0xe0|(v+32)))
	case v >= math.MinInt8:
		p.buf = append(p.buf, 0xd0, byte(int8(v)))
	case v >= math.MinInt16:
		p.buf = append(p.buf, 0xd1)
		p.buf = appendUint16(p.buf, uint16(int16(v)))
	case v >= math.MinInt32:
		p.buf = append(p.buf, 0xd2)
		p.buf = appendUint32(p.buf, uint32(int32(v)))
	default:
		p.buf = append(p.buf, 0xd3)
		p.buf = appendUint64(p.buf, uint64(v))
	}
	return nil
}

func (p *Packer) packUint64(v uint64) error {
	switch {
	case v <= 0x7f:
		p.buf = append(p.buf, byte(v))
	case v <= math.MaxUint8:
		p.buf = append(p.buf, 0xcc, byte(v))
	case v <= math.MaxUint16:
		p.buf = append(p.buf, 0xcd)
		p.buf = appendUint16(p.buf, uint16(v))
	case v <= math.MaxUint32:
		p.buf = append(p.buf, 0xce)
		p.buf = appendUint32(p.buf, uint32(v))
	default:
		p.buf = append(p.buf, 0xcf)
		p.buf = appendUint64(p.buf, v)
	}
	return nil
}

func (p *Packer) packFloat64(v float64) error {
	p.buf = append(p.buf, 0xcb)
	p.buf = appendUint64(p.buf, math.Float64bits(v))
	return nil
}

// packRawHeader writes a MessagePack bin8/bin16/bin32 header for a payload
// of the given total length (prefix byte included).
func (p *Packer) packRawHeader(n int) {
	switch {
	case n <= math.MaxUint8:
		p.buf = append(p.buf, 0xc4, byte(n))
	case n <= math.MaxUint16:
		p.buf = append(p.buf, 0xc5)
		p.buf = appendUint16(p.buf, uint16(n))
	default:
		p.buf = append(p.buf, 0xc6)
		p.buf = appendUint32(p.buf, uint32(n))
	}
}

// packParticleString packs a string with the STRING particle-type prefix
// byte required by §4.2.
func (p *Packer) packParticleString(s string) error {
	return p.packParticleString2(ParticleString, s)
}

// packParticleString2 is packParticleString generalized to an explicit
// particle type, used by GeoJSON (whose prefix is GEOJSON, not STRING).
func (p *Packer) packParticleString2(t ParticleType, s string) error {
	p.packRawHeader(1 + len(s))
	p.buf = append(p.buf, byte(t))
	p.buf = append(p.buf, s...)
	return nil
}

// packParticleBytes packs raw bytes with a leading particle-type prefix
// byte, used for BLOB, HLL, and the language-blob variants.
func (p *Packer) packParticleBytes(t ParticleType, b []byte) error {
	p.packRawHeader(1 + len(b))
	p.buf = append(p.buf, byte(t))
	p.buf = append(p.buf, b...)
	return nil
}

func (p *Packer) packArrayHeader(n int) {
	switch {
	case n <= 15:
		p.buf = append(p.buf, byte(0x90|n))
	case n <= math.MaxUint16:
		p.buf = append(p.buf, 0xdc)
		p.buf = appendUint16(p.buf, uint16(n))
	default:
		p.buf = append(p.buf, 0xdd)
		p.buf = appendUint32(p.buf, uint32(n))
	}
}

func (p *Packer) packMapHeader(n int) {
	switch {
	case n <= 15:
		p.buf = append(p.buf, byte(0x80|n))
	case n <= math.MaxUint16:
		p.buf = append(p.buf, 0xde)
		p.buf = appendUint16(p.buf, uint16(n))
	default:
		p.buf = append(p.buf, 0xdf)
		p.buf = appendUint32(p.buf, uint32(n))
	}
}

func (p *Packer) packList(items []Value) error {
	p.packArrayHeader(len(items))
	for _, v := range items {
		if v == nil {
			if err := p.packNil(); err != nil {
				return err
			}
			continue
		}
		if err := v.Pack(p); err != nil {
			return err
		}
	}
	return nil
}

func (p *Packer) packMap(m MapValue) error {
	n := len(m.Entries)
	if m.Order != MapUnordered {
		n++
	}
	p.packMapHeader(n)
	if m.Order != MapUnordered {
		// sentinel entry at position 0 (§4.2): a fixed ext key marks the
		// entry as the order sentinel, the value carries the order flag.
		p.buf = append(p.buf, 0xd4, extTypeMapOrder, 0x00)
		if err := p.packUint64(uint64(m.Order)); err != nil {
			return err
		}
	}
	for _, e := range m.Entries {
		if err := e.Key.Pack(p); err != nil {
			return err
		}
		if err := e.Value.Pack(p); err != nil {
			return err
		}
	}
	return nil
}

// packInfinity writes the +∞ extension sentinel (§4.2).
func (p *Packer) packInfinity() error {
	p.buf = append(p.buf, 0xd4, extTypeInfinity, 0x00)
	return nil
}

// packWildcard writes the match-any extension sentinel (§4.2).
func (p *Packer) packWildcard() error {
	p.buf = append(p.buf, 0xd4, extTypeWildcard, 0x00)
	return nil
}

func appendUint16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}
