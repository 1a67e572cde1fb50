package core

import (
	"encoding/binary"
	"fmt"
)

// Wire framing constants from §4.3/§6.1.
const (
	protoHeaderSize   = 8
	protoVersion      = 0x02
	protoTypeData     = 0x01
	protoTypeInfo     = 0x02
	messageHeaderSize = 22

	// info1 read flags
	infoRead        = 1 << 0
	infoGetAll      = 1 << 1
	infoBatch       = 1 << 3
	// info2 write flags
	infoWrite   = 1 << 0
	infoDelete  = 1 << 1
	infoGenerationFlag = 1 << 2
)

// FieldType enumerates the well-known field types from §6.1.
type FieldType uint8

const (
	FieldNamespace       FieldType = 0
	FieldSetName         FieldType = 1
	FieldKey             FieldType = 2
	FieldDigestRipe      FieldType = 4
	FieldMRTID           FieldType = 20
	FieldMRTDeadline     FieldType = 21
	FieldMRTVersion      FieldType = 22
	FieldFilterExpression FieldType = 23
	FieldBatchIndex      FieldType = 27
)

// OpType enumerates the operation types from §6.1.
type OpType uint8

const (
	OpRead       OpType = 1
	OpWrite      OpType = 2
	OpAdd        OpType = 5
	OpAppend     OpType = 9
	OpPrepend    OpType = 10
	OpTouch      OpType = 11
	OpReadHeader OpType = 12
	OpCDTRead    OpType = 16
	OpCDTWrite   OpType = 17
	OpBitRead    OpType = 18
	OpBitWrite   OpType = 19
	OpDelete     OpType = 14
	OpHLLRead    OpType = 20
	OpHLLWrite   OpType = 21
	OpExpRead    OpType = 22
	OpExpWrite   OpType = 23
	OpUDF        OpType = 15
)

// Field is a request/reply field: u32 length (type byte included) ‖ u8
// type ‖ payload (§6.1).
type Field struct {
	Type    FieldType
	Payload []byte
}

func (f Field) wireSize() int { return 4 + 1 + len(f.Payload) }

func (f Field) encode(buf []byte) int {
	binary.BigEndian.PutUint32(buf, uint32(1+len(f.Payload)))
	buf[4] = byte(f.Type)
	n := copy(buf[5:], f.Payload)
	return 5 + n
}

func decodeField(buf []byte) (Field, int, error) {
	if len(buf) < 5 {
		return Field{}, 0, fmt.Errorf("core: wire: field header truncated")
	}
	length := binary.BigEndian.Uint32(buf)
	if length < 1 || int(length)+4 > len(buf) {
		return Field{}, 0, fmt.Errorf("core: wire: field length %d out of range", length)
	}
	t := FieldType(buf[4])
	payload := buf[5 : 4+length]
	return Field{Type: t, Payload: append([]byte(nil), payload...)}, int(4 + length), nil
}

// Operation is a single request/reply operation: u32 op-size ‖ u8 op-type
// ‖ u8 particle-type ‖ u8 version ‖ u8 name-length ‖ name ‖ value (§6.1).
type Operation struct {
	Type    OpType
	Name    string
	Value   Value
}

func (o Operation) wireSize() int {
	valueSize := 0
	if o.Value != nil {
		valueSize = o.Value.EstimateSize()
		if valueSize < 0 {
			// CDT values are packed; estimate via a throwaway packer.
			p := NewPacker(64)
			_ = o.Value.Pack(p)
			valueSize = len(p.Bytes())
		}
	}
	return 4 + 1 + 1 + 1 + 1 + len(o.Name) + valueSize
}

// encode writes the operation into buf and returns the number of bytes
// written. buf must be at least o.wireSize() long.
func (o Operation) encode(buf []byte) (int, error) {
	particleType := ParticleNull
	var payload []byte
	if o.Value != nil {
		particleType = o.Value.ParticleType()
		size := o.Value.EstimateSize()
		if size >= 0 {
			payload = make([]byte, size)
			if _, err := o.Value.Write(payload); err != nil {
				return 0, err
			}
		} else {
			p := NewPacker(64)
			if err := o.Value.Pack(p); err != nil {
				return 0, err
			}
			payload = p.Bytes()
		}
	}
	opFieldsSize := 1 + 1 + 1 + 1 + len(o.Name) + len(payload) // everything after op-size
	binary.BigEndian.PutUint32(buf, uint32(opFieldsSize))
	buf[4] = byte(o.Type)
	buf[5] = byte(particleType)
	buf[6] = 0 // version
	buf[7] = byte(len(o.Name))
	n := 8
	n += copy(buf[n:], o.Name)
	n += copy(buf[n:], payload)
	return n, nil
}

// MessageHeader is the 22-byte data-message header from §6.1.
type MessageHeader struct {
	Info1, Info2, Info3 uint8
	ResultCode          ResultCode
	Generation          uint32
	Expiration          uint32
	TransactionTTLMs    uint32
	NFields             uint16
	NOps                uint16
}

func (h MessageHeader) encode(buf []byte) {
	buf[0] = messageHeaderSize
	buf[1] = h.Info1
	buf[2] = h.Info2
	buf[3] = h.Info3
	buf[4] = 0 // unused
	buf[5] = byte(h.ResultCode)
	binary.BigEndian.PutUint32(buf[6:10], h.Generation)
	binary.BigEndian.PutUint32(buf[10:14], h.Expiration)
	binary.BigEndian.PutUint32(buf[14:18], h.TransactionTTLMs)
	binary.BigEndian.PutUint16(buf[18:20], h.NFields)
	binary.BigEndian.PutUint16(buf[20:22], h.NOps)
}

func decodeMessageHeader(buf []byte) (MessageHeader, error) {
	if len(buf) < messageHeaderSize {
		return MessageHeader{}, fmt.Errorf("core: wire: message header truncated")
	}
	var h MessageHeader
	h.Info1 = buf[1]
	h.Info2 = buf[2]
	h.Info3 = buf[3]
	h.ResultCode = ResultCode(int8(buf[5]))
	h.Generation = binary.BigEndian.Uint32(buf[6:10])
	h.Expiration = binary.BigEndian.Uint32(buf[10:14])
	h.TransactionTTLMs = binary.BigEndian.Uint32(buf[14:18])
	h.NFields = binary.BigEndian.Uint16(buf[18:20])
	h.NOps = binary.BigEndian.Uint16(buf[20:22])
	return h, nil
}

// encodeProtoHeader writes the 8-byte proto header: version, type, and a
// 48-bit big-endian payload length (§6.1).
func encodeProtoHeader(buf []byte, msgType uint8, payloadLen uint64) error {
	if payloadLen >= (1 << 48) {
		return fmt.Errorf("core: wire: payload length %d exceeds 48 bits", payloadLen)
	}
	buf[0] = protoVersion
	buf[1] = msgType
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], payloadLen)
	copy(buf[2:8], lenBuf[2:8])
	return nil
}

func decodeProtoHeader(buf [8]byte) (version, msgType uint8, payloadLen uint64) {
	version = buf[0]
	msgType = buf[1]
	var lenBuf [8]byte
	copy(lenBuf[2:8], buf[2:8])
	payloadLen = binary.BigEndian.Uint64(lenBuf[:])
	return
}

// BuildDataMessage assembles a full data message: 8-byte proto header,
// 22-byte message header, fields, then operations (§4.3, §6.1). It is
// exported so callers outside this package (cmd/kvcli, or any other
// caller building requests directly on top of Command) can construct a
// payload for NewCommand's build function without reaching into
// unexported wire internals.
func BuildDataMessage(h MessageHeader, fields []Field, ops []Operation) ([]byte, error) {
	return buildMessage(h, fields, ops)
}

// buildMessage assembles a full data message: 8-byte proto header, 22-byte
// message header, fields, then operations (§4.3, §6.1).
func buildMessage(h MessageHeader, fields []Field, ops []Operation) ([]byte, error) {
	h.NFields = uint16(len(fields))
	h.NOps = uint16(len(ops))

	size := messageHeaderSize
	for _, f := range fields {
		size += f.wireSize()
	}
	opSizes := make([]int, len(ops))
	for i, o := range ops {
		opSizes[i] = o.wireSize()
		size += opSizes[i]
	}

	buf := make([]byte, protoHeaderSize+size)
	if err := encodeProtoHeader(buf, protoTypeData, uint64(size)); err != nil {
		return nil, err
	}
	h.encode(buf[protoHeaderSize:])
	n := protoHeaderSize + messageHeaderSize
	for _, f := range fields {
		n += f.encode(buf[n:])
	}
	for i, o := range ops {
		written, err := o.encode(buf[n : n+opSizes[i]])
		if err != nil {
			return nil, err
		}
		n += written
	}
	return buf[:n], nil
}
