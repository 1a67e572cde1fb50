package core

import (
	"context"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// commandState is the state machine named in §4.6: INIT -> BUILT ->
// SENT(i) -> DONE | RETRY | FATAL, where RETRY loops back to BUILT with
// iteration+1 and FATAL/DONE terminate.
type commandState int

const (
	stateInit commandState = iota
	stateBuilt
	stateSent
	stateDone
	stateFatal
)

// buildFunc produces the wire request for a chosen node; it is called
// fresh on every retry since the node (and thus the generation/partition
// context) may differ iteration to iteration.
type buildFunc func(node *Node) (payload []byte, err error)

// parseFunc consumes the parsed reply. Returning a retryable ResultCode
// error drives another iteration; any other error is fatal.
type parseFunc func(header MessageHeader, fields []Field, ops []Operation) error

// Command executes one request against the cluster, owning retry,
// timeout, and in-doubt bookkeeping (§4.6). Read commands retry freely;
// write commands only mark themselves in-doubt once a request has
// actually been written to the wire, per §8 testable property 5.
type Command struct {
	cluster *Cluster
	log     *logrus.Entry

	namespace string
	partition uint16
	replica   ReplicaPolicy
	isWrite   bool

	policy BasePolicy

	build buildFunc
	parse parseFunc

	traceID   uuid.UUID
	iteration int
	sentCount int
	state     commandState
	inDoubt   bool
	lastNode  *Node
}

// NewCommand builds one Command ready for Execute. It is the low-level
// entry point callers (and cmd/kvcli) use directly to issue any
// read/write/CDT request; §1 excludes a higher-level per-operation
// put/get/append/touch wrapper surface from this module, so assembling
// fields and operations is the caller's job.
func NewCommand(cluster *Cluster, namespace string, partition uint16, replica ReplicaPolicy, isWrite bool, policy BasePolicy, build buildFunc, parse parseFunc) *Command {
	return &Command{
		cluster:   cluster,
		log:       cluster.log.WithField("trace_id", uuid.New().String()),
		namespace: namespace,
		partition: partition,
		replica:   replica,
		isWrite:   isWrite,
		policy:    policy,
		build:     build,
		parse:     parse,
		traceID:   uuid.New(),
		state:     stateInit,
	}
}

// Execute runs the INIT->BUILT->SENT->DONE|RETRY|FATAL loop until the
// command completes, the deadline expires, or retries are exhausted.
func (c *Command) Execute(ctx context.Context) error {
	var deadline time.Time
	if c.policy.TotalTimeout > 0 {
		deadline = time.Now().Add(c.policy.TotalTimeout)
	}

	boff := backoff.NewExponentialBackOff()
	boff.InitialInterval = 1 * time.Millisecond
	boff.MaxInterval = 100 * time.Millisecond
	if c.policy.SleepBetweenRetries > 0 {
		boff.InitialInterval = c.policy.SleepBetweenRetries
		boff.MaxInterval = c.policy.SleepBetweenRetries
		boff.RandomizationFactor = 0
	}

	c.state = stateBuilt
	for {
		if !deadline.IsZero() && time.Now().After(deadline) {
			c.state = stateFatal
			return newAerospikeError(TimeoutResult, c, "total timeout exceeded")
		}
		if err := ctx.Err(); err != nil {
			c.state = stateFatal
			return newAerospikeError(TimeoutResult, c, err.Error())
		}

		err := c.attempt(ctx, deadline)
		if err == nil {
			c.state = stateDone
			return nil
		}

		ae, ok := err.(*AerospikeError)
		if !ok {
			c.state = stateFatal
			return err
		}
		if !ae.IsRetryable(c.policy.RetryableCodes) || c.iteration >= c.policy.MaxRetries {
			c.state = stateFatal
			return ae
		}

		c.state = stateBuilt
		c.iteration++
		select {
		case <-time.After(boff.NextBackOff()):
		case <-ctx.Done():
			c.state = stateFatal
			return newAerospikeError(TimeoutResult, c, ctx.Err().Error())
		}
	}
}

// updateInDoubt applies §4.6's in-doubt rule for a write command's
// outcome at the end of one attempt: once commandSentCounter has
// advanced past one, an earlier attempt's bytes may already have reached
// the server regardless of how this one resolved; at exactly one, the
// outcome is in doubt only when it is itself inconclusive (a timeout or
// a client-observed negative code). Reads never go in doubt.
func (c *Command) updateInDoubt(resultCode ResultCode) {
	if !c.isWrite {
		return
	}
	if c.sentCount > 1 {
		c.inDoubt = true
		return
	}
	c.inDoubt = c.sentCount == 1 && (resultCode == TimeoutResult || resultCode < 0)
}

// attempt performs a single SENT(i) iteration: resolve a node, borrow a
// connection, write the request, read and parse the reply, and decide the
// connection's fate (§4.6, §6.2).
func (c *Command) attempt(ctx context.Context, deadline time.Time) error {
	node, err := c.cluster.GetNodeForKey(c.namespace, c.partition, c.replica)
	if err != nil {
		return newAerospikeError(InvalidNodeError, c, err.Error())
	}
	c.lastNode = node

	connCtx := ctx
	cancel := func() {}
	if !deadline.IsZero() {
		connCtx, cancel = context.WithDeadline(ctx, deadline)
	}
	defer cancel()

	conn, err := node.GetConnection(connCtx, c.policy.SocketTimeout)
	if err != nil {
		return newAerospikeError(ServerNotAvailable, c, err.Error())
	}

	payload, err := c.build(node)
	if err != nil {
		node.PutConnection(conn, true)
		c.state = stateFatal
		return newAerospikeError(SerializeError, c, err.Error())
	}

	socketDeadline := time.Now().Add(c.policy.SocketTimeout)
	if !deadline.IsZero() && deadline.Before(socketDeadline) {
		socketDeadline = deadline
	}
	_ = conn.setDeadline(socketDeadline)

	c.state = stateSent
	if werr := conn.write(payload); werr != nil {
		// Bytes never reached the socket this attempt, so commandSentCounter
		// doesn't advance; the command may still be in doubt from an earlier
		// iteration (§4.6, §8 property 5).
		c.updateInDoubt(ServerNotAvailable)
		node.PutConnection(conn, false)
		return newAerospikeError(ServerNotAvailable, c, werr.Error())
	}
	c.sentCount++

	header, fields, ops, rerr := readReply(conn)
	if rerr != nil {
		node.PutConnection(conn, false)
		if rerr == io.EOF {
			c.updateInDoubt(ServerNotAvailable)
			return newAerospikeError(ServerNotAvailable, c, "connection closed by peer")
		}
		c.updateInDoubt(TimeoutResult)
		return newAerospikeError(TimeoutResult, c, rerr.Error())
	}

	keep := keepConnectionCodes()[header.ResultCode]
	node.PutConnection(conn, keep)

	if header.ResultCode != OK {
		// The round trip itself succeeded, but a definite non-OK reply is
		// still within §4.6's in-doubt rule: TIMEOUT (or any client-observed
		// negative code) at commandSentCounter == 1 means the server's own
		// view of the write is exactly as unresolved as a dropped ack.
		c.updateInDoubt(header.ResultCode)
		return newAerospikeError(header.ResultCode, c, "")
	}
	c.inDoubt = false

	if c.parse != nil {
		if err := c.parse(header, fields, ops); err != nil {
			if ae, ok := err.(*AerospikeError); ok {
				return ae
			}
			return newAerospikeError(ParseError, c, err.Error())
		}
	}
	return nil
}

// readReply reads one full proto-framed data message and decodes its
// header, fields, and operations (§4.3, §6.1).
func readReply(conn *connection) (MessageHeader, []Field, []Operation, error) {
	var protoBuf [8]byte
	if err := conn.readFull(protoBuf[:]); err != nil {
		return MessageHeader{}, nil, nil, err
	}
	_, msgType, payloadLen := decodeProtoHeader(protoBuf)
	if msgType != protoTypeData {
		return MessageHeader{}, nil, nil, fmt.Errorf("core: wire: unexpected message type %d", msgType)
	}
	body := make([]byte, payloadLen)
	if err := conn.readFull(body); err != nil {
		return MessageHeader{}, nil, nil, err
	}
	if len(body) < messageHeaderSize {
		return MessageHeader{}, nil, nil, fmt.Errorf("core: wire: message body shorter than header")
	}
	header, err := decodeMessageHeader(body)
	if err != nil {
		return MessageHeader{}, nil, nil, err
	}

	pos := messageHeaderSize
	fields := make([]Field, 0, header.NFields)
	for i := 0; i < int(header.NFields); i++ {
		f, n, err := decodeField(body[pos:])
		if err != nil {
			return MessageHeader{}, nil, nil, err
		}
		fields = append(fields, f)
		pos += n
	}

	ops := make([]Operation, 0, header.NOps)
	for i := 0; i < int(header.NOps); i++ {
		op, n, err := decodeOperation(body[pos:])
		if err != nil {
			return MessageHeader{}, nil, nil, err
		}
		ops = append(ops, op)
		pos += n
	}

	return header, fields, ops, nil
}

// decodeOperation parses one reply operation back into an Operation with
// its decoded Value (§6.1).
func decodeOperation(buf []byte) (Operation, int, error) {
	if len(buf) < 8 {
		return Operation{}, 0, fmt.Errorf("core: wire: operation header truncated")
	}
	opSize := int(uint32FromBytes(buf))
	if opSize < 4 || 4+opSize > len(buf) {
		return Operation{}, 0, fmt.Errorf("core: wire: operation size %d out of range", opSize)
	}
	opType := OpType(buf[4])
	particleType := ParticleType(buf[5])
	nameLen := int(buf[7])
	pos := 8
	name := string(buf[pos : pos+nameLen])
	pos += nameLen
	valueLen := 4 + opSize - pos
	valueBuf := buf[pos : pos+valueLen]

	value, err := decodeParticle(particleType, valueBuf)
	if err != nil {
		return Operation{}, 0, err
	}
	return Operation{Type: opType, Name: name, Value: value}, 4 + opSize, nil
}

func uint32FromBytes(buf []byte) uint32 {
	return uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
}

// decodeParticle interprets a raw reply value according to its
// particle-type byte from the operation header, separately from the
// self-describing MessagePack particles used inside CDT bins (§4.2).
func decodeParticle(t ParticleType, buf []byte) (Value, error) {
	switch t {
	case ParticleNull:
		return NullValue{}, nil
	case ParticleInteger:
		return IntegerValue(readInt64(buf)), nil
	case ParticleDouble:
		return DoubleValue(math.Float64frombits(readUint64(buf))), nil
	case ParticleString:
		return StringValue(string(buf)), nil
	case ParticleBlob:
		return BytesValue(append([]byte(nil), buf...)), nil
	case ParticleBool:
		return BoolValue(len(buf) > 0 && buf[0] != 0), nil
	case ParticleMap, ParticleList:
		u := NewUnpacker(buf)
		return u.UnpackValue()
	case ParticleGeoJSON, ParticleHLL:
		return LanguageBlobValue{Type: t, Data: append([]byte(nil), buf...)}, nil
	default:
		return LanguageBlobValue{Type: t, Data: append([]byte(nil), buf...)}, nil
	}
}

func readInt64(buf []byte) int64 {
	var v uint64
	for _, b := range buf {
		v = v<<8 | uint64(b)
	}
	if len(buf) < 8 && len(buf) > 0 && buf[0]&0x80 != 0 {
		v |= ^uint64(0) << (8 * uint(len(buf)))
	}
	return int64(v)
}

func readUint64(buf []byte) uint64 {
	var v uint64
	for _, b := range buf {
		v = v<<8 | uint64(b)
	}
	return v
}
