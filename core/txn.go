package core

import (
	"context"
	"fmt"
	"sync"
)

// txnState tracks one multi-record transaction's lifecycle (§4.8).
type txnState int

const (
	txnOpen txnState = iota
	txnVerifying
	txnCommitted
	txnAborted
)

// Txn is a multi-record transaction (MRT): a monitor record plus the set
// of reads and writes performed under it, committed via verify/mark/roll-
// forward or rolled back via roll-backward (§4.8).
type Txn struct {
	id      uint64
	policy  *TxnPolicy
	cluster *Cluster

	mu     sync.Mutex
	state  txnState
	reads  map[string]trackedRead
	writes map[string]*Key
}

// trackedRead is one key's observed version at the time it was read
// under this transaction, kept alongside the Key itself so Commit can
// re-read it during verify without the caller supplying it again.
type trackedRead struct {
	key     *Key
	version uint64
}

// txnIDSeed is the state of a xorshift64* generator seeded once per process; Aerospike
// MRT ids must be non-zero 64-bit values unique to the issuing client, not
// globally unique, so a simple xorshift sequence satisfies §4.8 without
// pulling in a UUID dependency for an internal, server-opaque id.
var (
	txnIDMu   sync.Mutex
	txnIDSeed uint64 = 0x9E3779B97F4A7C15
)

func nextTxnID() uint64 {
	txnIDMu.Lock()
	defer txnIDMu.Unlock()
	x := txnIDSeed
	x ^= x >> 12
	x ^= x << 25
	x ^= x >> 27
	txnIDSeed = x
	id := x * 0x2545F4914F6CDD1D
	if id == 0 {
		id = 1
	}
	return id
}

// NewTxn opens a new MRT against cluster with a fresh id (§4.8). It sends
// nothing to the server; no monitor-creation request is issued.
func NewTxn(cluster *Cluster, policy *TxnPolicy) *Txn {
	if policy == nil {
		policy = NewTxnPolicy()
	}
	return &Txn{
		id:      nextTxnID(),
		policy:  policy,
		cluster: cluster,
		state:   txnOpen,
		reads:   make(map[string]trackedRead),
		writes:  make(map[string]*Key),
	}
}

func (t *Txn) ID() uint64 { return t.id }

// TrackRead records the record version observed by a read performed
// under this transaction, for later verification (§4.8).
func (t *Txn) TrackRead(key *Key, version uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reads[key.String()] = trackedRead{key: key, version: version}
}

// TrackWrite records that key was written under this transaction, so its
// provisional version can be rolled forward or back at commit/abort time
// (§4.8).
func (t *Txn) TrackWrite(key *Key) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writes[key.String()] = key
}

// mrtIDField returns the wire field carrying this transaction's id,
// included on every read/write issued under it regardless of whether the
// target node supports per-operation deadlines (§4.8, §9 Open Question).
func (t *Txn) mrtIDField() Field {
	buf := make([]byte, 8)
	_, _ = writeUint64(buf, t.id)
	return Field{Type: FieldMRTID, Payload: buf}
}

// mrtDeadlineField builds the MRT-deadline wire field from
// policy.DeadlineSeconds. No request built by Txn attaches it, and the
// node's supportsMRTDeadlines flag is not consulted here.
func (t *Txn) mrtDeadlineField() Field {
	buf := make([]byte, 4)
	buf[0] = byte(t.policy.DeadlineSeconds >> 24)
	buf[1] = byte(t.policy.DeadlineSeconds >> 16)
	buf[2] = byte(t.policy.DeadlineSeconds >> 8)
	buf[3] = byte(t.policy.DeadlineSeconds)
	return Field{Type: FieldMRTDeadline, Payload: buf}
}

// Commit performs §4.8's verify phase across every tracked read, then
// marks and rolls the monitor forward. A failed verify returns
// CommitError{Kind: CommitErrorVerifyFail} with the records that
// disagreed; a failure to mark roll-forward returns
// CommitErrorMarkRollForwardAbandoned since the transaction's outcome is
// then ambiguous to the server, not to the client.
func (t *Txn) Commit(ctx context.Context) error {
	t.mu.Lock()
	if t.state != txnOpen {
		t.mu.Unlock()
		return fmt.Errorf("core: txn %d: commit called in state %d", t.id, t.state)
	}
	t.state = txnVerifying
	reads := make(map[string]trackedRead, len(t.reads))
	for k, v := range t.reads {
		reads[k] = v
	}
	writes := make([]*Key, 0, len(t.writes))
	for _, k := range t.writes {
		writes = append(writes, k)
	}
	t.mu.Unlock()

	failed, err := t.verifyReads(ctx, reads)
	if err != nil {
		return fmt.Errorf("core: txn %d: verify: %w", t.id, err)
	}
	if len(failed) > 0 {
		t.mu.Lock()
		t.state = txnAborted
		t.mu.Unlock()

		// A failed verify takes the abort path (§4.8 step 1): roll every
		// tracked write back before reporting VERIFY_FAIL, so a transaction
		// that fails verification never leaves its provisional writes live.
		rollRecords, rollErr := t.rollWrites(ctx, writes, false)
		if rollErr != nil {
			return &CommitError{Kind: CommitErrorVerifyFailAbortAbandoned, VerifyRecords: failed, RollRecords: rollRecords}
		}
		if closeErr := t.closeMonitor(ctx); closeErr != nil {
			return &CommitError{Kind: CommitErrorVerifyFailCloseAbandoned, VerifyRecords: failed, RollRecords: rollRecords}
		}
		return &CommitError{Kind: CommitErrorVerifyFail, VerifyRecords: failed, RollRecords: rollRecords}
	}

	if err := t.markRollForward(ctx); err != nil {
		return &CommitError{Kind: CommitErrorMarkRollForwardAbandoned}
	}

	if _, err := t.rollWrites(ctx, writes, true); err != nil {
		return fmt.Errorf("core: txn %d: roll-forward: %w", t.id, err)
	}

	if err := t.closeMonitor(ctx); err != nil {
		return fmt.Errorf("core: txn %d: close monitor after roll-forward: %w", t.id, err)
	}

	t.mu.Lock()
	t.state = txnCommitted
	t.mu.Unlock()
	return nil
}

// Abort rolls every tracked write back and closes the monitor record
// (§4.8).
func (t *Txn) Abort(ctx context.Context) error {
	t.mu.Lock()
	if t.state != txnOpen {
		t.mu.Unlock()
		return fmt.Errorf("core: txn %d: abort called in state %d", t.id, t.state)
	}
	writes := make([]*Key, 0, len(t.writes))
	for _, k := range t.writes {
		writes = append(writes, k)
	}
	t.state = txnAborted
	t.mu.Unlock()

	if _, err := t.rollWrites(ctx, writes, false); err != nil {
		return fmt.Errorf("core: txn %d: roll-backward: %w", t.id, err)
	}
	return t.closeMonitor(ctx)
}

// verifyReads re-reads every tracked key's generation against its master
// replica and reports the ones that no longer match what TrackRead
// originally observed (§4.8). The probe is a bare OpReadHeader request,
// the same shape ExecuteBatchRead uses for a binless read.
func (t *Txn) verifyReads(ctx context.Context, reads map[string]trackedRead) ([]RecordOutcome, error) {
	var failed []RecordOutcome
	for _, tr := range reads {
		key := tr.key
		var generation uint32
		cmd := NewCommand(t.cluster, key.Namespace, key.PartitionID(), ReplicaMaster, false, t.policy.BasePolicy,
			func(node *Node) ([]byte, error) {
				fields := []Field{
					{Type: FieldNamespace, Payload: []byte(key.Namespace)},
					{Type: FieldDigestRipe, Payload: key.Digest[:]},
					t.mrtIDField(),
				}
				h := MessageHeader{Info1: infoRead}
				return buildMessage(h, fields, []Operation{{Type: OpReadHeader}})
			},
			func(header MessageHeader, fields []Field, ops []Operation) error {
				generation = header.Generation
				return nil
			},
		)
		if err := cmd.Execute(ctx); err != nil {
			if ae, ok := err.(*AerospikeError); ok {
				failed = append(failed, RecordOutcome{Key: key, ResultCode: ae.ResultCode})
				continue
			}
			return nil, fmt.Errorf("core: txn %d: verify %s: %w", t.id, key, err)
		}

		if uint64(generation) != tr.version {
			failed = append(failed, RecordOutcome{Key: key, ResultCode: MRTBlocked})
		}
	}
	return failed, nil
}

func (t *Txn) markRollForward(ctx context.Context) error {
	return t.monitorOp(ctx, "roll-forward")
}

func (t *Txn) closeMonitor(ctx context.Context) error {
	return t.monitorOp(ctx, "close")
}

func (t *Txn) monitorOp(ctx context.Context, op string) error {
	nodes := t.cluster.Nodes()
	if len(nodes) == 0 {
		return fmt.Errorf("core: txn %d: no nodes available for monitor %s", t.id, op)
	}
	node := nodes[0]
	conn, err := node.GetConnection(ctx, t.policy.SocketTimeout)
	if err != nil {
		return err
	}
	defer node.PutConnection(conn, true)

	fields := []Field{t.mrtIDField()}
	h := MessageHeader{Info1: infoRead}
	payload, err := buildMessage(h, fields, nil)
	if err != nil {
		return err
	}
	if err := conn.write(payload); err != nil {
		return err
	}
	header, _, _, err := readReply(conn)
	if err != nil {
		return err
	}
	if header.ResultCode != OK && header.ResultCode != MRTBlocked {
		return newAerospikeError(header.ResultCode, nil, fmt.Sprintf("monitor %s rejected", op))
	}
	return nil
}

// rollWrites replays every tracked write's roll-forward or roll-backward
// record against its master replica (§4.8). Unlike verifyReads it keeps
// going through every key even after one fails, so a caller reporting
// CommitError.RollRecords gets a complete per-key outcome rather than
// stopping at the first rejected write; the returned error is non-nil
// whenever any key's outcome was not OK, so callers that only care about
// success/failure can keep ignoring the records slice.
func (t *Txn) rollWrites(ctx context.Context, keys []*Key, forward bool) ([]RecordOutcome, error) {
	outcomes := make([]RecordOutcome, 0, len(keys))
	for _, key := range keys {
		outcomes = append(outcomes, t.rollOneWrite(ctx, key, forward))
	}
	for _, o := range outcomes {
		if o.ResultCode != OK {
			return outcomes, fmt.Errorf("core: txn %d: roll write for %s: %s", t.id, o.Key, o.ResultCode)
		}
	}
	return outcomes, nil
}

func (t *Txn) rollOneWrite(ctx context.Context, key *Key, forward bool) RecordOutcome {
	node, err := t.cluster.GetNodeForKey(key.Namespace, key.PartitionID(), ReplicaMaster)
	if err != nil {
		return RecordOutcome{Key: key, ResultCode: InvalidNodeError}
	}
	conn, err := node.GetConnection(ctx, t.policy.SocketTimeout)
	if err != nil {
		return RecordOutcome{Key: key, ResultCode: ServerNotAvailable}
	}
	fields := []Field{
		{Type: FieldNamespace, Payload: []byte(key.Namespace)},
		{Type: FieldDigestRipe, Payload: key.Digest[:]},
		t.mrtIDField(),
	}
	info2 := uint8(0)
	if !forward {
		info2 = infoDelete
	}
	h := MessageHeader{Info2: info2}
	payload, err := buildMessage(h, fields, nil)
	if err != nil {
		node.PutConnection(conn, true)
		return RecordOutcome{Key: key, ResultCode: SerializeError}
	}
	if err := conn.write(payload); err != nil {
		node.PutConnection(conn, false)
		return RecordOutcome{Key: key, ResultCode: ServerNotAvailable}
	}
	header, _, _, err := readReply(conn)
	if err != nil {
		node.PutConnection(conn, false)
		return RecordOutcome{Key: key, ResultCode: TimeoutResult}
	}
	node.PutConnection(conn, keepConnectionCodes()[header.ResultCode])
	return RecordOutcome{Key: key, ResultCode: header.ResultCode}
}
