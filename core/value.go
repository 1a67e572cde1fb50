package core

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Value is the tagged union described in §3: every bin value, and every
// key's user key, is one of the variants below. A Value knows its own
// wire particle type and how to lay itself out in the fixed "particle"
// encoding used outside of collections, and how to pack itself into the
// MessagePack-based CDT encoding used inside lists and maps.
type Value interface {
	// ParticleType is the one-byte type tag this value writes to the wire.
	ParticleType() ParticleType
	// EstimateSize returns the number of bytes Write will produce.
	EstimateSize() int
	// Write lays out the fixed particle encoding into buf[0:] and returns
	// the number of bytes written.
	Write(buf []byte) (int, error)
	// Pack appends the MessagePack CDT encoding of this value to the packer.
	Pack(p *Packer) error
	fmt.Stringer
}

// nonDigestableValue is implemented by Value variants that share a
// digestable particle type with other, legitimately-keyable variants but
// must still be rejected as a key's user key (§3) — ParticleType alone
// can't distinguish them, since the wire byte is the same either way.
type nonDigestableValue interface {
	nonDigestable() bool
}

// NullValue represents the server's NULL particle. It cannot be used as a
// key's user key (§3) and is rejected by ComputeDigest (§4.1).
type NullValue struct{}

func (NullValue) ParticleType() ParticleType { return ParticleNull }
func (NullValue) EstimateSize() int          { return 0 }
func (NullValue) Write(buf []byte) (int, error) { return 0, nil }
func (NullValue) Pack(p *Packer) error       { return p.packNil() }
func (NullValue) String() string             { return "<nil>" }

// StringValue is a UTF-8 string particle.
type StringValue string

func (StringValue) ParticleType() ParticleType { return ParticleString }
func (v StringValue) EstimateSize() int        { return len(v) }
func (v StringValue) Write(buf []byte) (int, error) {
	return copy(buf, v), nil
}
func (v StringValue) Pack(p *Packer) error { return p.packParticleString(string(v)) }
func (v StringValue) String() string       { return string(v) }

// BytesValue is a raw BLOB particle (language-neutral byte string, §4.2).
type BytesValue []byte

func (BytesValue) ParticleType() ParticleType { return ParticleBlob }
func (v BytesValue) EstimateSize() int        { return len(v) }
func (v BytesValue) Write(buf []byte) (int, error) {
	return copy(buf, v), nil
}
func (v BytesValue) Pack(p *Packer) error { return p.packParticleBytes(ParticleBlob, v) }
func (v BytesValue) String() string       { return fmt.Sprintf("%x", []byte(v)) }

// ByteSegmentValue is a slice view over a larger byte buffer, wire-identical
// to BytesValue but avoiding a copy on construction (§3 "byte-segment").
type ByteSegmentValue struct {
	Bytes       []byte
	Offset, Len int
}

func (ByteSegmentValue) ParticleType() ParticleType { return ParticleBlob }
func (v ByteSegmentValue) EstimateSize() int        { return v.Len }
func (v ByteSegmentValue) Write(buf []byte) (int, error) {
	return copy(buf, v.Bytes[v.Offset:v.Offset+v.Len]), nil
}
func (v ByteSegmentValue) Pack(p *Packer) error {
	return p.packParticleBytes(ParticleBlob, v.Bytes[v.Offset:v.Offset+v.Len])
}
func (v ByteSegmentValue) String() string {
	return fmt.Sprintf("%x", v.Bytes[v.Offset:v.Offset+v.Len])
}

// DoubleValue is an IEEE 754 64-bit float particle.
type DoubleValue float64

func (DoubleValue) ParticleType() ParticleType { return ParticleDouble }
func (DoubleValue) EstimateSize() int          { return 8 }
func (v DoubleValue) Write(buf []byte) (int, error) {
	binary.BigEndian.PutUint64(buf, math.Float64bits(float64(v)))
	return 8, nil
}
func (v DoubleValue) Pack(p *Packer) error { return p.packFloat64(float64(v)) }
func (v DoubleValue) String() string       { return fmt.Sprintf("%v", float64(v)) }

// FloatValue is a 32-bit float, widened to a double on the wire (the server
// has no distinct 32-bit particle, so FloatValue shares DoubleValue's layout).
type FloatValue float32

func (FloatValue) ParticleType() ParticleType { return ParticleDouble }
func (FloatValue) EstimateSize() int          { return 8 }
func (v FloatValue) Write(buf []byte) (int, error) {
	binary.BigEndian.PutUint64(buf, math.Float64bits(float64(v)))
	return 8, nil
}
func (v FloatValue) Pack(p *Packer) error { return p.packFloat64(float64(v)) }
func (v FloatValue) String() string       { return fmt.Sprintf("%v", float32(v)) }

// integer-family values share the 8-byte big-endian two's-complement layout
// from §4.2, widening to int64/uint64 before writing.

// IntegerValue is a signed 64-bit integer particle.
type IntegerValue int64

func (IntegerValue) ParticleType() ParticleType { return ParticleInteger }
func (IntegerValue) EstimateSize() int          { return 8 }
func (v IntegerValue) Write(buf []byte) (int, error) { return writeInt64(buf, int64(v)) }
func (v IntegerValue) Pack(p *Packer) error          { return p.packInt64(int64(v)) }
func (v IntegerValue) String() string                { return fmt.Sprintf("%d", int64(v)) }

// UnsignedValue is an unsigned 64-bit integer particle. Values with the high
// bit set grow the fixed encoding to 9 bytes with a leading 0x00 (§4.2).
type UnsignedValue uint64

func (UnsignedValue) ParticleType() ParticleType { return ParticleInteger }
func (v UnsignedValue) EstimateSize() int {
	if uint64(v)&(1<<63) != 0 {
		return 9
	}
	return 8
}
func (v UnsignedValue) Write(buf []byte) (int, error) { return writeUint64(buf, uint64(v)) }
func (v UnsignedValue) Pack(p *Packer) error           { return p.packUint64(uint64(v)) }
func (v UnsignedValue) String() string                 { return fmt.Sprintf("%d", uint64(v)) }

// ShortValue, ByteValue, and the other narrow integer variants all widen to
// the same 8-byte fixed layout; they exist so callers can express the
// intended wire width without losing type information before packing.

type ShortValue int16

func (ShortValue) ParticleType() ParticleType        { return ParticleInteger }
func (ShortValue) EstimateSize() int                 { return 8 }
func (v ShortValue) Write(buf []byte) (int, error)   { return writeInt64(buf, int64(v)) }
func (v ShortValue) Pack(p *Packer) error            { return p.packInt64(int64(v)) }
func (v ShortValue) String() string                  { return fmt.Sprintf("%d", int16(v)) }

type UnsignedShortValue uint16

func (UnsignedShortValue) ParticleType() ParticleType      { return ParticleInteger }
func (UnsignedShortValue) EstimateSize() int               { return 8 }
func (v UnsignedShortValue) Write(buf []byte) (int, error) { return writeUint64(buf, uint64(v)) }
func (v UnsignedShortValue) Pack(p *Packer) error           { return p.packUint64(uint64(v)) }
func (v UnsignedShortValue) String() string                 { return fmt.Sprintf("%d", uint16(v)) }

type Int32Value int32

func (Int32Value) ParticleType() ParticleType      { return ParticleInteger }
func (Int32Value) EstimateSize() int               { return 8 }
func (v Int32Value) Write(buf []byte) (int, error) { return writeInt64(buf, int64(v)) }
func (v Int32Value) Pack(p *Packer) error          { return p.packInt64(int64(v)) }
func (v Int32Value) String() string                { return fmt.Sprintf("%d", int32(v)) }

type Uint32Value uint32

func (Uint32Value) ParticleType() ParticleType      { return ParticleInteger }
func (Uint32Value) EstimateSize() int               { return 8 }
func (v Uint32Value) Write(buf []byte) (int, error) { return writeUint64(buf, uint64(v)) }
func (v Uint32Value) Pack(p *Packer) error          { return p.packUint64(uint64(v)) }
func (v Uint32Value) String() string                { return fmt.Sprintf("%d", uint32(v)) }

// SignedByteValue is a single signed byte, widened to the 8-byte layout.
type SignedByteValue int8

func (SignedByteValue) ParticleType() ParticleType      { return ParticleInteger }
func (SignedByteValue) EstimateSize() int               { return 8 }
func (v SignedByteValue) Write(buf []byte) (int, error) { return writeInt64(buf, int64(v)) }
func (v SignedByteValue) Pack(p *Packer) error          { return p.packInt64(int64(v)) }
func (v SignedByteValue) String() string                { return fmt.Sprintf("%d", int8(v)) }

// UnsignedByteValue is a single unsigned byte, widened to the 8-byte layout.
type UnsignedByteValue uint8

func (UnsignedByteValue) ParticleType() ParticleType      { return ParticleInteger }
func (UnsignedByteValue) EstimateSize() int               { return 8 }
func (v UnsignedByteValue) Write(buf []byte) (int, error) { return writeUint64(buf, uint64(v)) }
func (v UnsignedByteValue) Pack(p *Packer) error          { return p.packUint64(uint64(v)) }
func (v UnsignedByteValue) String() string                { return fmt.Sprintf("%d", uint8(v)) }

// BoolValue is the server's native single-byte BOOL particle.
type BoolValue bool

func (BoolValue) ParticleType() ParticleType { return ParticleBool }
func (BoolValue) EstimateSize() int          { return 1 }
func (v BoolValue) Write(buf []byte) (int, error) {
	if v {
		buf[0] = 1
	} else {
		buf[0] = 0
	}
	return 1, nil
}
func (v BoolValue) Pack(p *Packer) error { return p.packBool(bool(v)) }
func (v BoolValue) String() string       { return fmt.Sprintf("%v", bool(v)) }

// BoolIntValue emits a bool as an 8-byte integer particle (0/1) for servers
// or bin contexts that don't support the native BOOL particle (§3, §4.2).
type BoolIntValue bool

func (BoolIntValue) ParticleType() ParticleType { return ParticleInteger }
func (BoolIntValue) EstimateSize() int          { return 8 }
func (v BoolIntValue) Write(buf []byte) (int, error) {
	n := int64(0)
	if v {
		n = 1
	}
	return writeInt64(buf, n)
}
func (v BoolIntValue) Pack(p *Packer) error {
	n := int64(0)
	if v {
		n = 1
	}
	return p.packInt64(n)
}
func (v BoolIntValue) String() string { return fmt.Sprintf("%v", bool(v)) }

// nonDigestable rejects BoolIntValue as a key's user key: it shares
// ParticleInteger's wire byte with genuinely keyable integer variants,
// but §3 lists bool-as-int among the types a key construction must
// reject, so ParticleType.digestable() alone can't catch it.
func (BoolIntValue) nonDigestable() bool { return true }

// LanguageBlobValue carries an already host-serialized object as raw bytes
// tagged with its language particle type. Write and Pack emit Data as is;
// the client performs no host serialization of its own and does not
// reject these values when writing them.
type LanguageBlobValue struct {
	Type ParticleType // e.g. ParticleCSharpBlob
	Data []byte
}

func (v LanguageBlobValue) ParticleType() ParticleType { return v.Type }
func (v LanguageBlobValue) EstimateSize() int          { return len(v.Data) }
func (v LanguageBlobValue) Write(buf []byte) (int, error) {
	return copy(buf, v.Data), nil
}
func (v LanguageBlobValue) Pack(p *Packer) error { return p.packParticleBytes(v.Type, v.Data) }
func (v LanguageBlobValue) String() string       { return fmt.Sprintf("blob<%s>(%d bytes)", v.Type, len(v.Data)) }

// GeoJSONValue is a GeoJSON string particle, flag-byte and ncells-prefixed
// on the wire per §4.2.
type GeoJSONValue string

const geoJSONFlagsLen = 1 + 2 // flags byte + ncells uint16

func (GeoJSONValue) ParticleType() ParticleType { return ParticleGeoJSON }
func (v GeoJSONValue) EstimateSize() int        { return geoJSONFlagsLen + len(v) }
func (v GeoJSONValue) Write(buf []byte) (int, error) {
	buf[0] = 0 // flags
	binary.BigEndian.PutUint16(buf[1:3], 0) // ncells
	n := copy(buf[3:], v)
	return 3 + n, nil
}
func (v GeoJSONValue) Pack(p *Packer) error { return p.packParticleString2(ParticleGeoJSON, string(v)) }
func (v GeoJSONValue) String() string       { return string(v) }

// HLLValue is a raw HyperLogLog sketch particle.
type HLLValue []byte

func (HLLValue) ParticleType() ParticleType { return ParticleHLL }
func (v HLLValue) EstimateSize() int        { return len(v) }
func (v HLLValue) Write(buf []byte) (int, error) {
	return copy(buf, v), nil
}
func (v HLLValue) Pack(p *Packer) error { return p.packParticleBytes(ParticleHLL, v) }
func (v HLLValue) String() string       { return fmt.Sprintf("hll(%d bytes)", len(v)) }

// MapOrder describes how a MapValue is sorted on the wire (§4.2).
type MapOrder uint8

const (
	MapUnordered MapOrder = iota
	MapKeyOrdered
	MapKeyValueOrdered
)

// MapEntry is one key/value pair of a MapValue.
type MapEntry struct {
	Key   Value
	Value Value
}

// MapValue is a CDT map. It has no fixed-particle encoding: it is only
// ever written via Pack, inside a bin whose value particle type is MAP.
type MapValue struct {
	Entries []MapEntry
	Order   MapOrder
}

func (MapValue) ParticleType() ParticleType { return ParticleMap }
func (v MapValue) EstimateSize() int        { return -1 } // must be packed, never fixed-written
func (MapValue) Write(buf []byte) (int, error) {
	return 0, fmt.Errorf("core: map values have no fixed encoding, use Pack")
}
func (v MapValue) Pack(p *Packer) error { return p.packMap(v) }
func (v MapValue) String() string       { return fmt.Sprintf("map[%d entries]", len(v.Entries)) }

// ListValue is a CDT list, packed the same way.
type ListValue []Value

func (ListValue) ParticleType() ParticleType { return ParticleList }
func (v ListValue) EstimateSize() int        { return -1 }
func (ListValue) Write(buf []byte) (int, error) {
	return 0, fmt.Errorf("core: list values have no fixed encoding, use Pack")
}
func (v ListValue) Pack(p *Packer) error { return p.packList([]Value(v)) }
func (v ListValue) String() string       { return fmt.Sprintf("list[%d]", len(v)) }

// ValueArray is a homogeneous alternative to ListValue used by some batch
// and CDT operations; it encodes identically to ListValue.
type ValueArray []Value

func (ValueArray) ParticleType() ParticleType { return ParticleList }
func (v ValueArray) EstimateSize() int        { return -1 }
func (ValueArray) Write(buf []byte) (int, error) {
	return 0, fmt.Errorf("core: value-array has no fixed encoding, use Pack")
}
func (v ValueArray) Pack(p *Packer) error { return p.packList([]Value(v)) }
func (v ValueArray) String() string       { return fmt.Sprintf("valuearray[%d]", len(v)) }

// InfinityValue packs to the server's distinguished "+∞" extension byte,
// used by CDT range operations to mean "no upper bound" (§4.2).
type InfinityValue struct{}

func (InfinityValue) ParticleType() ParticleType      { return ParticleNull }
func (InfinityValue) EstimateSize() int               { return -1 }
func (InfinityValue) Write(buf []byte) (int, error)   { return 0, fmt.Errorf("core: infinity has no fixed encoding") }
func (InfinityValue) Pack(p *Packer) error            { return p.packInfinity() }
func (InfinityValue) String() string                  { return "INFINITY" }

// WildcardValue packs to the server's "match-any" extension byte (§4.2).
type WildcardValue struct{}

func (WildcardValue) ParticleType() ParticleType    { return ParticleNull }
func (WildcardValue) EstimateSize() int             { return -1 }
func (WildcardValue) Write(buf []byte) (int, error) { return 0, fmt.Errorf("core: wildcard has no fixed encoding") }
func (WildcardValue) Pack(p *Packer) error          { return p.packWildcard() }
func (WildcardValue) String() string                { return "*" }

// writeInt64 writes the 8-byte big-endian two's-complement layout shared by
// every signed integer-family particle.
func writeInt64(buf []byte, v int64) (int, error) {
	binary.BigEndian.PutUint64(buf, uint64(v))
	return 8, nil
}

// writeUint64 writes the 8- or 9-byte layout for unsigned integer particles;
// a set high bit grows the encoding with a leading zero byte (§4.2).
func writeUint64(buf []byte, v uint64) (int, error) {
	if v&(1<<63) != 0 {
		buf[0] = 0
		binary.BigEndian.PutUint64(buf[1:9], v)
		return 9, nil
	}
	binary.BigEndian.PutUint64(buf, v)
	return 8, nil
}
