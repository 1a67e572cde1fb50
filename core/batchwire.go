package core

import (
	"encoding/binary"
	"fmt"
	"reflect"
)

// batchRecordKind distinguishes what kind of subcommand one batch record
// within a node's subcommand represents (§4.7: "homogeneous array or
// heterogeneous list of batch records (read, write, UDF, delete)").
type batchRecordKind uint8

const (
	batchKindRead batchRecordKind = iota
	batchKindWrite
	batchKindDelete
	batchKindUDF
)

// batchSubRecord is one key's contribution to a single per-node batch
// request. When repeat is set, every field below digest/origIndex is
// ignored; the server (and our decoder) reuses the previous non-repeat
// record's kind/infoFlags/ops/UDF call instead, per §4.7 bullet 2's
// wire-repeat rule.
type batchSubRecord struct {
	origIndex int
	digest    [DigestLength]byte
	repeat    bool

	kind      batchRecordKind
	infoFlags uint8
	ops       []Operation

	udfPackage  string
	udfFunction string
	udfArgs     []Value
}

// batchWireEqual reports whether two subrecords would produce the same
// bytes after origIndex/digest, i.e. whether b may be sent as a repeat of
// a (§4.7 bullet 2: "reuse the previous record's policy/ops when equal by
// reference equality"). We approximate reference equality with
// structural equality of kind, flags, ops (type, name and value) and the
// UDF call (package, function and args), which is the only thing a
// from-scratch client can compare without carrying the caller's original
// object identity through the planner.
func batchWireEqual(a, b *batchSubRecord) bool {
	if a == nil || a.kind != b.kind || a.infoFlags != b.infoFlags {
		return false
	}
	switch a.kind {
	case batchKindUDF:
		if a.udfPackage != b.udfPackage || a.udfFunction != b.udfFunction || !reflect.DeepEqual(a.udfArgs, b.udfArgs) {
			return false
		}
		return true
	default:
		if len(a.ops) != len(b.ops) {
			return false
		}
		for i := range a.ops {
			if a.ops[i].Type != b.ops[i].Type || a.ops[i].Name != b.ops[i].Name || !reflect.DeepEqual(a.ops[i].Value, b.ops[i].Value) {
				return false
			}
		}
		return true
	}
}

const (
	batchSubFlagRepeat = 1 << 0
)

// encodeBatchField packs recs into the single FieldBatchIndex field a
// node's batch subcommand carries instead of one field block per key
// (§4.7 bullet 2, §6.1's "batch sub-headers").
func encodeBatchField(recs []batchSubRecord) (Field, error) {
	buf := make([]byte, 0, 64*len(recs))
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(recs)))
	buf = append(buf, hdr[:]...)

	for _, r := range recs {
		var idx [4]byte
		binary.BigEndian.PutUint32(idx[:], uint32(r.origIndex))
		buf = append(buf, idx[:]...)
		buf = append(buf, r.digest[:]...)

		flags := uint8(0)
		if r.repeat {
			flags |= batchSubFlagRepeat
		}
		buf = append(buf, flags)
		if r.repeat {
			continue
		}

		buf = append(buf, byte(r.kind), r.infoFlags)
		switch r.kind {
		case batchKindUDF:
			buf = append(buf, byte(len(r.udfPackage)))
			buf = append(buf, r.udfPackage...)
			buf = append(buf, byte(len(r.udfFunction)))
			buf = append(buf, r.udfFunction...)
			p := NewPacker(64)
			if err := p.packList(r.udfArgs); err != nil {
				return Field{}, fmt.Errorf("core: batch: pack UDF args: %w", err)
			}
			var argLen [4]byte
			binary.BigEndian.PutUint32(argLen[:], uint32(len(p.Bytes())))
			buf = append(buf, argLen[:]...)
			buf = append(buf, p.Bytes()...)
		default:
			var opCount [2]byte
			binary.BigEndian.PutUint16(opCount[:], uint16(len(r.ops)))
			buf = append(buf, opCount[:]...)
			for _, op := range r.ops {
				opBuf := make([]byte, op.wireSize())
				n, err := op.encode(opBuf)
				if err != nil {
					return Field{}, fmt.Errorf("core: batch: encode op: %w", err)
				}
				buf = append(buf, opBuf[:n]...)
			}
		}
	}
	return Field{Type: FieldBatchIndex, Payload: buf}, nil
}

// decodeBatchField is encodeBatchField's inverse, expanding repeat
// records back into full subrecords so callers never need to track
// repeat state themselves.
func decodeBatchField(payload []byte) ([]batchSubRecord, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("core: batch: field truncated")
	}
	n := int(binary.BigEndian.Uint32(payload))
	pos := 4
	recs := make([]batchSubRecord, 0, n)
	var last *batchSubRecord

	for i := 0; i < n; i++ {
		if pos+4+DigestLength+1 > len(payload) {
			return nil, fmt.Errorf("core: batch: record %d truncated", i)
		}
		var r batchSubRecord
		r.origIndex = int(binary.BigEndian.Uint32(payload[pos:]))
		pos += 4
		copy(r.digest[:], payload[pos:pos+DigestLength])
		pos += DigestLength
		flags := payload[pos]
		pos++
		r.repeat = flags&batchSubFlagRepeat != 0

		if r.repeat {
			if last == nil {
				return nil, fmt.Errorf("core: batch: record %d repeats with no prior record", i)
			}
			r.kind, r.infoFlags, r.ops = last.kind, last.infoFlags, last.ops
			r.udfPackage, r.udfFunction, r.udfArgs = last.udfPackage, last.udfFunction, last.udfArgs
			recs = append(recs, r)
			last = &recs[len(recs)-1]
			continue
		}

		if pos+2 > len(payload) {
			return nil, fmt.Errorf("core: batch: record %d header truncated", i)
		}
		r.kind = batchRecordKind(payload[pos])
		r.infoFlags = payload[pos+1]
		pos += 2

		switch r.kind {
		case batchKindUDF:
			if pos >= len(payload) {
				return nil, fmt.Errorf("core: batch: record %d UDF package truncated", i)
			}
			pkgLen := int(payload[pos])
			pos++
			r.udfPackage = string(payload[pos : pos+pkgLen])
			pos += pkgLen
			fnLen := int(payload[pos])
			pos++
			r.udfFunction = string(payload[pos : pos+fnLen])
			pos += fnLen
			argLen := int(binary.BigEndian.Uint32(payload[pos:]))
			pos += 4
			u := NewUnpacker(payload[pos : pos+argLen])
			args, err := u.UnpackValue()
			pos += argLen
			if err != nil {
				return nil, fmt.Errorf("core: batch: record %d UDF args: %w", i, err)
			}
			if lv, ok := args.(ListValue); ok {
				r.udfArgs = lv
			}
		default:
			opCount := int(binary.BigEndian.Uint16(payload[pos:]))
			pos += 2
			r.ops = make([]Operation, 0, opCount)
			for j := 0; j < opCount; j++ {
				op, consumed, err := decodeOperation(payload[pos:])
				if err != nil {
					return nil, fmt.Errorf("core: batch: record %d op %d: %w", i, j, err)
				}
				r.ops = append(r.ops, op)
				pos += consumed
			}
		}
		recs = append(recs, r)
		last = &recs[len(recs)-1]
	}
	return recs, nil
}

// batchReplyRecord is one key's outcome inside a node's single batch
// reply message.
type batchReplyRecord struct {
	origIndex  int
	resultCode ResultCode
	generation uint32
	expiration uint32
	ops        []Operation
}

func encodeBatchReplyField(recs []batchReplyRecord) (Field, error) {
	buf := make([]byte, 0, 32*len(recs))
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(recs)))
	buf = append(buf, hdr[:]...)
	for _, r := range recs {
		var idx [4]byte
		binary.BigEndian.PutUint32(idx[:], uint32(r.origIndex))
		buf = append(buf, idx[:]...)
		buf = append(buf, byte(int8(r.resultCode)))
		var gen, exp [4]byte
		binary.BigEndian.PutUint32(gen[:], r.generation)
		binary.BigEndian.PutUint32(exp[:], r.expiration)
		buf = append(buf, gen[:]...)
		buf = append(buf, exp[:]...)
		var opCount [2]byte
		binary.BigEndian.PutUint16(opCount[:], uint16(len(r.ops)))
		buf = append(buf, opCount[:]...)
		for _, op := range r.ops {
			opBuf := make([]byte, op.wireSize())
			n, err := op.encode(opBuf)
			if err != nil {
				return Field{}, err
			}
			buf = append(buf, opBuf[:n]...)
		}
	}
	return Field{Type: FieldBatchIndex, Payload: buf}, nil
}

func decodeBatchReplyField(payload []byte) ([]batchReplyRecord, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("core: batch: reply field truncated")
	}
	n := int(binary.BigEndian.Uint32(payload))
	pos := 4
	recs := make([]batchReplyRecord, 0, n)
	for i := 0; i < n; i++ {
		if pos+13 > len(payload) {
			return nil, fmt.Errorf("core: batch: reply record %d truncated", i)
		}
		var r batchReplyRecord
		r.origIndex = int(binary.BigEndian.Uint32(payload[pos:]))
		pos += 4
		r.resultCode = ResultCode(int8(payload[pos]))
		pos++
		r.generation = binary.BigEndian.Uint32(payload[pos:])
		pos += 4
		r.expiration = binary.BigEndian.Uint32(payload[pos:])
		pos += 4
		opCount := int(binary.BigEndian.Uint16(payload[pos:]))
		pos += 2
		r.ops = make([]Operation, 0, opCount)
		for j := 0; j < opCount; j++ {
			op, consumed, err := decodeOperation(payload[pos:])
			if err != nil {
				return nil, fmt.Errorf("core: batch: reply record %d op %d: %w", i, j, err)
			}
			r.ops = append(r.ops, op)
			pos += consumed
		}
		recs = append(recs, r)
	}
	return recs, nil
}

// findBatchField locates the FieldBatchIndex field a decoded reply
// carries. Readers of a batch reply never see it duplicated per key,
// since the whole subcommand's per-key outcomes live in this one field.
func findBatchField(fields []Field) (Field, bool) {
	for _, f := range fields {
		if f.Type == FieldBatchIndex {
			return f, true
		}
	}
	return Field{}, false
}
