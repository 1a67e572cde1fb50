package core

import (
	"context"
	"net"
	"testing"

	"github.com/nativekv/client-go/internal/fakeserver"
)

// twoNodeCluster maps partition 0 to nodeA and partition 1 to nodeB, every
// other partition left unmapped, so a batch request can be constructed
// whose keys deliberately interleave across nodes (§8 testable property:
// "batch preserves request order regardless of node grouping").
func twoNodeCluster(t *testing.T, addrA, addrB string) *Cluster {
	t.Helper()
	log := testLogEntry().Logger
	nodeA := newNode("a", addrA, nil, 4, noAuthProvider{}, log)
	nodeB := newNode("b", addrB, nil, 4, noAuthProvider{}, log)
	c := &Cluster{
		nodes:      map[string]*Node{"a": nodeA, "b": nodeB},
		partitions: newPartitionMap(),
		closing:    make(chan struct{}),
		log:        log,
	}
	var table [NumPartitions][]*Node
	table[0] = []*Node{nodeA}
	table[1] = []*Node{nodeB}
	c.partitions.rebuild("test", table)
	return c
}

func keyForPartition(t *testing.T, p uint16) *Key {
	t.Helper()
	var digest [DigestLength]byte
	digest[0] = byte(p)
	digest[1] = byte(p >> 8)
	return NewKeyWithDigest("test", digest)
}

// readBatchRequest reads one proto frame, decodes its message header and
// fields, and returns the decoded per-key batch subrecords carried in its
// FieldBatchIndex field — the shape a real node sees for one batch
// subcommand (§4.7 step 2).
func readBatchRequest(conn net.Conn) ([]batchSubRecord, error) {
	_, payload, err := fakeserver.ReadProtoFrame(conn)
	if err != nil {
		return nil, err
	}
	header, err := decodeMessageHeader(payload)
	if err != nil {
		return nil, err
	}
	pos := messageHeaderSize
	var batchPayload []byte
	for i := 0; i < int(header.NFields); i++ {
		f, n, err := decodeField(payload[pos:])
		if err != nil {
			return nil, err
		}
		if f.Type == FieldBatchIndex {
			batchPayload = f.Payload
		}
		pos += n
	}
	return decodeBatchField(batchPayload)
}

// replyToBatch writes a single batch reply message back, reporting
// resultCode for every record in recs and generation for every OK one.
func replyToBatch(conn net.Conn, recs []batchSubRecord, resultCode func(origIndex int) (ResultCode, uint32)) error {
	replies := make([]batchReplyRecord, 0, len(recs))
	for _, r := range recs {
		code, generation := resultCode(r.origIndex)
		replies = append(replies, batchReplyRecord{origIndex: r.origIndex, resultCode: code, generation: generation})
	}
	field, err := encodeBatchReplyField(replies)
	if err != nil {
		return err
	}
	h := MessageHeader{}
	payload, err := buildMessage(h, []Field{field}, nil)
	if err != nil {
		return err
	}
	_, err = conn.Write(payload)
	return err
}

func TestExecuteBatchReadPreservesOrderAcrossNodes(t *testing.T) {
	srvA, err := fakeserver.New(func(conn net.Conn) {
		recs, err := readBatchRequest(conn)
		if err != nil {
			return
		}
		_ = replyToBatch(conn, recs, func(int) (ResultCode, uint32) { return OK, 1 })
	})
	if err != nil {
		t.Fatalf("fakeserver.New(A): %v", err)
	}
	defer srvA.Cleanup()
	srvB, err := fakeserver.New(func(conn net.Conn) {
		recs, err := readBatchRequest(conn)
		if err != nil {
			return
		}
		_ = replyToBatch(conn, recs, func(int) (ResultCode, uint32) { return OK, 2 })
	})
	if err != nil {
		t.Fatalf("fakeserver.New(B): %v", err)
	}
	defer srvB.Cleanup()

	cluster := twoNodeCluster(t, srvA.Addr(), srvB.Addr())

	keyA0 := keyForPartition(t, 0)
	keyB0 := keyForPartition(t, 1)
	keyA1 := keyForPartition(t, 0)
	keyB1 := keyForPartition(t, 1)
	reads := []BatchRead{
		{Key: keyA0},
		{Key: keyB0},
		{Key: keyA1},
		{Key: keyB1},
	}

	results, err := ExecuteBatchRead(context.Background(), cluster, "test", reads, NewBatchPolicy())
	if err != nil {
		t.Fatalf("ExecuteBatchRead: %v", err)
	}
	if len(results) != len(reads) {
		t.Fatalf("results length = %d, want %d", len(results), len(reads))
	}
	for i, r := range results {
		if r.Key != reads[i].Key {
			t.Errorf("result %d key = %v, want %v (order not preserved)", i, r.Key, reads[i].Key)
		}
		if r.ResultCode != OK {
			t.Errorf("result %d ResultCode = %v, want OK", i, r.ResultCode)
		}
	}
	if results[0].Record.Generation != 1 {
		t.Errorf("result 0 generation = %d, want 1 (from node A)", results[0].Record.Generation)
	}
	if results[1].Record.Generation != 2 {
		t.Errorf("result 1 generation = %d, want 2 (from node B)", results[1].Record.Generation)
	}
}

func TestExecuteBatchReadPerKeyResultCode(t *testing.T) {
	srvA, err := fakeserver.New(func(conn net.Conn) {
		recs, err := readBatchRequest(conn)
		if err != nil {
			return
		}
		_ = replyToBatch(conn, recs, func(int) (ResultCode, uint32) { return KeyNotFoundError, 0 })
	})
	if err != nil {
		t.Fatalf("fakeserver.New(A): %v", err)
	}
	defer srvA.Cleanup()
	srvB, err := fakeserver.New(func(conn net.Conn) {
		recs, err := readBatchRequest(conn)
		if err != nil {
			return
		}
		_ = replyToBatch(conn, recs, func(int) (ResultCode, uint32) { return OK, 5 })
	})
	if err != nil {
		t.Fatalf("fakeserver.New(B): %v", err)
	}
	defer srvB.Cleanup()

	cluster := twoNodeCluster(t, srvA.Addr(), srvB.Addr())
	reads := []BatchRead{
		{Key: keyForPartition(t, 0)},
		{Key: keyForPartition(t, 1)},
	}

	policy := NewBatchPolicy()
	policy.AllowPartialResults = true
	results, err := ExecuteBatchRead(context.Background(), cluster, "test", reads, policy)
	if err != nil {
		t.Fatalf("ExecuteBatchRead: %v", err)
	}
	if results[0].ResultCode != KeyNotFoundError {
		t.Errorf("result 0 ResultCode = %v, want KeyNotFoundError", results[0].ResultCode)
	}
	if results[1].ResultCode != OK || results[1].Record.Generation != 5 {
		t.Errorf("result 1 = %+v, want OK/generation 5", results[1])
	}
}

func TestExecuteBatchReadFatalWithoutAllowPartialResults(t *testing.T) {
	srvA, err := fakeserver.New(func(conn net.Conn) {
		conn.Close()
	})
	if err != nil {
		t.Fatalf("fakeserver.New(A): %v", err)
	}
	defer srvA.Cleanup()
	srvB, err := fakeserver.New(func(conn net.Conn) {
		recs, err := readBatchRequest(conn)
		if err != nil {
			return
		}
		_ = replyToBatch(conn, recs, func(int) (ResultCode, uint32) { return OK, 1 })
	})
	if err != nil {
		t.Fatalf("fakeserver.New(B): %v", err)
	}
	defer srvB.Cleanup()

	cluster := twoNodeCluster(t, srvA.Addr(), srvB.Addr())
	policy := NewBatchPolicy()
	policy.BasePolicy.MaxRetries = 0
	reads := []BatchRead{
		{Key: keyForPartition(t, 0)},
		{Key: keyForPartition(t, 1)},
	}

	_, err = ExecuteBatchRead(context.Background(), cluster, "test", reads, policy)
	if err == nil {
		t.Fatalf("expected a fatal BatchError when a node's connection breaks and AllowPartialResults is false")
	}
	if _, ok := err.(*BatchError); !ok {
		t.Fatalf("err = %T, want *BatchError", err)
	}
}

// TestExecuteBatchGroupSendsOneRoundTripWithRepeatFlag verifies the
// planner's core property: a node owning several keys gets exactly one
// request, and keys whose read shape is identical (no bin-name filter)
// are compressed with the repeat flag (§4.7 bullet 2).
func TestExecuteBatchGroupSendsOneRoundTripWithRepeatFlag(t *testing.T) {
	requestCount := 0
	var gotRecs []batchSubRecord
	srv, err := fakeserver.New(func(conn net.Conn) {
		requestCount++
		recs, err := readBatchRequest(conn)
		if err != nil {
			return
		}
		gotRecs = recs
		_ = replyToBatch(conn, recs, func(int) (ResultCode, uint32) { return OK, 1 })
	})
	if err != nil {
		t.Fatalf("fakeserver.New: %v", err)
	}
	defer srv.Cleanup()

	cluster, _ := singleNodeCluster(t, srv.Addr())
	reads := []BatchRead{
		{Key: keyForPartition(t, 0)},
		{Key: keyForPartition(t, 0)},
		{Key: keyForPartition(t, 0)},
	}

	results, err := ExecuteBatchRead(context.Background(), cluster, "test", reads, NewBatchPolicy())
	if err != nil {
		t.Fatalf("ExecuteBatchRead: %v", err)
	}
	if requestCount != 1 {
		t.Fatalf("requestCount = %d, want 1 (one round trip for the whole node group)", requestCount)
	}
	for i, r := range results {
		if r.ResultCode != OK {
			t.Errorf("result %d ResultCode = %v, want OK", i, r.ResultCode)
		}
	}
	if len(gotRecs) != 3 {
		t.Fatalf("server saw %d records, want 3", len(gotRecs))
	}
	if gotRecs[0].repeat {
		t.Errorf("first record must never be a repeat")
	}
	if !gotRecs[1].repeat || !gotRecs[2].repeat {
		t.Errorf("identically-shaped reads after the first should be compressed with the repeat flag, got %+v", gotRecs)
	}
}

func TestExecuteBatchWriteSendsWriteKind(t *testing.T) {
	var gotKind batchRecordKind
	srv, err := fakeserver.New(func(conn net.Conn) {
		recs, err := readBatchRequest(conn)
		if err != nil {
			return
		}
		if len(recs) > 0 {
			gotKind = recs[0].kind
		}
		_ = replyToBatch(conn, recs, func(int) (ResultCode, uint32) { return OK, 1 })
	})
	if err != nil {
		t.Fatalf("fakeserver.New: %v", err)
	}
	defer srv.Cleanup()

	cluster, _ := singleNodeCluster(t, srv.Addr())
	writes := []BatchWrite{
		{Key: keyForPartition(t, 0), Ops: []Operation{{Type: OpWrite, Name: "bin", Value: IntegerValue(1)}}},
	}

	results, err := ExecuteBatchWrite(context.Background(), cluster, "test", writes, NewBatchPolicy())
	if err != nil {
		t.Fatalf("ExecuteBatchWrite: %v", err)
	}
	if results[0].ResultCode != OK {
		t.Fatalf("ResultCode = %v, want OK", results[0].ResultCode)
	}
	if gotKind != batchKindWrite {
		t.Fatalf("server saw kind %v, want batchKindWrite", gotKind)
	}
}

func TestExecuteBatchDeleteAndUDFSendCorrectKinds(t *testing.T) {
	var kinds []batchRecordKind
	srv, err := fakeserver.New(func(conn net.Conn) {
		recs, err := readBatchRequest(conn)
		if err != nil {
			return
		}
		for _, r := range recs {
			kinds = append(kinds, r.kind)
		}
		_ = replyToBatch(conn, recs, func(int) (ResultCode, uint32) { return OK, 1 })
	})
	if err != nil {
		t.Fatalf("fakeserver.New: %v", err)
	}
	defer srv.Cleanup()
	cluster, _ := singleNodeCluster(t, srv.Addr())

	if _, err := ExecuteBatchDelete(context.Background(), cluster, "test", []BatchDelete{{Key: keyForPartition(t, 0)}}, NewBatchPolicy()); err != nil {
		t.Fatalf("ExecuteBatchDelete: %v", err)
	}
	if _, err := ExecuteBatchUDF(context.Background(), cluster, "test", []BatchUDF{{
		Key: keyForPartition(t, 0), PackageName: "pkg", FunctionName: "fn", Args: []Value{IntegerValue(1)},
	}}, NewBatchPolicy()); err != nil {
		t.Fatalf("ExecuteBatchUDF: %v", err)
	}

	if len(kinds) != 2 || kinds[0] != batchKindDelete || kinds[1] != batchKindUDF {
		t.Fatalf("kinds = %v, want [delete, udf]", kinds)
	}
}
