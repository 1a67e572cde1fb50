package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// BatchRead is one key of a batch read request, with the bin names to
// fetch (nil means all bins) (§4.7).
type BatchRead struct {
	Key      *Key
	BinNames []string
}

// BatchWrite is one key of a batch write request: the operations to
// apply and the per-record write policy (§4.7).
type BatchWrite struct {
	Key    *Key
	Ops    []Operation
	Policy *BatchWritePolicy
}

// BatchDelete is one key of a batch delete request (§4.7).
type BatchDelete struct {
	Key    *Key
	Policy *BatchDeletePolicy
}

// BatchUDF is one key of a batch user-defined-function call (§4.7).
type BatchUDF struct {
	Key          *Key
	PackageName  string
	FunctionName string
	Args         []Value
	Policy       *BatchUDFPolicy
}

// BatchRecord is one key's outcome within a batch call: either a Record
// on success or a non-OK ResultCode (§4.7).
type BatchRecord struct {
	Key        *Key
	Record     *Record
	ResultCode ResultCode
	InDoubt    bool
}

// batchGroup is one node's share of a batch: the original indices into
// the caller's request slice, kept so results can be reassembled in the
// caller's original order (§4.7, §8 testable property: "batch preserves
// request order regardless of node grouping").
type batchGroup struct {
	node    *Node
	indices []int
}

// planBatch groups request indices by the node that replica resolves
// their partition to, so one subcommand per node can be sent instead of
// one round trip per key (§4.7 step 1).
func planBatch(cluster *Cluster, namespace string, keys []*Key, replica ReplicaPolicy) (map[string]*batchGroup, []error) {
	groups := make(map[string]*batchGroup)
	errs := make([]error, len(keys))
	for i, k := range keys {
		n, err := cluster.GetNodeForKey(namespace, k.PartitionID(), replica)
		if err != nil {
			errs[i] = err
			continue
		}
		g, ok := groups[n.Name]
		if !ok {
			g = &batchGroup{node: n}
			groups[n.Name] = g
		}
		g.indices = append(g.indices, i)
	}
	for _, g := range groups {
		// §4.7 step 2: order keys within a subcommand by partition for
		// locality before repeat-flag compression, since compression only
		// helps when equal-shaped records end up adjacent.
		idx := g.indices
		sort.Slice(idx, func(a, b int) bool {
			return keys[idx[a]].PartitionID() < keys[idx[b]].PartitionID()
		})
	}
	return groups, errs
}

// runBatch is the shared planner + dispatcher behind every ExecuteBatch*
// entry point: it groups keys by node (planBatch), builds one repeat-
// flag-compressed subcommand per node (§4.7 step 2), sends subcommands in
// parallel bounded by MaxConcurrentNodes (§4.7 step 3), and reassembles
// results in the caller's original order (§4.7 step 4).
func runBatch(ctx context.Context, cluster *Cluster, namespace string, keys []*Key, policy *BatchPolicy, isWrite bool, buildRec func(origIndex int, key *Key) batchSubRecord) ([]BatchRecord, error) {
	if policy == nil {
		policy = NewBatchPolicy()
	}
	groups, planErrs := planBatch(cluster, namespace, keys, policy.Replica)

	results := make([]BatchRecord, len(keys))
	for i, k := range keys {
		results[i] = BatchRecord{Key: k, ResultCode: ClientError}
		if planErrs[i] != nil {
			results[i].ResultCode = InvalidNodeError
		}
	}

	sem := make(chan struct{}, maxConcurrent(policy.MaxConcurrentNodes, len(groups)))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstFatal error

	for _, g := range groups {
		g := g
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			err := executeBatchGroup(ctx, cluster, namespace, keys, g, policy, isWrite, buildRec, results, &mu)
			if err != nil && !policy.AllowPartialResults {
				mu.Lock()
				if firstFatal == nil {
					firstFatal = err
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if firstFatal != nil {
		outcomes := make([]RecordOutcome, len(results))
		for i, r := range results {
			outcomes[i] = RecordOutcome{Key: r.Key, ResultCode: r.ResultCode}
		}
		return results, &BatchError{Outcomes: outcomes, Cause: firstFatal}
	}
	return results, nil
}

// ExecuteBatchRead dispatches one read subcommand per node in parallel,
// bounded by policy.MaxConcurrentNodes, and reassembles per-key results
// in the caller's original order (§4.7).
func ExecuteBatchRead(ctx context.Context, cluster *Cluster, namespace string, reads []BatchRead, policy *BatchPolicy) ([]BatchRecord, error) {
	keys := make([]*Key, len(reads))
	for i, r := range reads {
		keys[i] = r.Key
	}
	return runBatch(ctx, cluster, namespace, keys, policy, false, func(origIndex int, key *Key) batchSubRecord {
		read := reads[origIndex]
		var ops []Operation
		infoFlags := uint8(infoRead)
		if len(read.BinNames) == 0 {
			ops = []Operation{{Type: OpReadHeader}}
			infoFlags |= infoGetAll
		} else {
			for _, bin := range read.BinNames {
				ops = append(ops, Operation{Type: OpRead, Name: bin})
			}
		}
		return batchSubRecord{origIndex: origIndex, digest: key.Digest, kind: batchKindRead, infoFlags: infoFlags, ops: ops}
	})
}

// ExecuteBatchWrite dispatches one write subcommand per node (§4.7).
func ExecuteBatchWrite(ctx context.Context, cluster *Cluster, namespace string, writes []BatchWrite, policy *BatchPolicy) ([]BatchRecord, error) {
	keys := make([]*Key, len(writes))
	for i, w := range writes {
		keys[i] = w.Key
	}
	return runBatch(ctx, cluster, namespace, keys, policy, true, func(origIndex int, key *Key) batchSubRecord {
		w := writes[origIndex]
		return batchSubRecord{origIndex: origIndex, digest: key.Digest, kind: batchKindWrite, infoFlags: infoWrite, ops: w.Ops}
	})
}

// ExecuteBatchDelete dispatches one delete subcommand per node (§4.7).
func ExecuteBatchDelete(ctx context.Context, cluster *Cluster, namespace string, deletes []BatchDelete, policy *BatchPolicy) ([]BatchRecord, error) {
	keys := make([]*Key, len(deletes))
	for i, d := range deletes {
		keys[i] = d.Key
	}
	return runBatch(ctx, cluster, namespace, keys, policy, true, func(origIndex int, key *Key) batchSubRecord {
		return batchSubRecord{origIndex: origIndex, digest: key.Digest, kind: batchKindDelete, infoFlags: infoWrite | infoDelete}
	})
}

// ExecuteBatchUDF dispatches one user-defined-function subcommand per
// node (§4.7).
func ExecuteBatchUDF(ctx context.Context, cluster *Cluster, namespace string, calls []BatchUDF, policy *BatchPolicy) ([]BatchRecord, error) {
	keys := make([]*Key, len(calls))
	for i, c := range calls {
		keys[i] = c.Key
	}
	return runBatch(ctx, cluster, namespace, keys, policy, true, func(origIndex int, key *Key) batchSubRecord {
		c := calls[origIndex]
		return batchSubRecord{
			origIndex:   origIndex,
			digest:      key.Digest,
			kind:        batchKindUDF,
			infoFlags:   infoWrite,
			udfPackage:  c.PackageName,
			udfFunction: c.FunctionName,
			udfArgs:     c.Args,
		}
	})
}

// executeBatchGroup builds one node's subcommand as a single wire
// message covering every index it owns, compressing adjacent equal-
// shaped records with the repeat flag (§4.7 bullet 2), sends it as one
// round trip, and writes each key's outcome back into the shared results
// slice.
func executeBatchGroup(ctx context.Context, cluster *Cluster, namespace string, keys []*Key, g *batchGroup, policy *BatchPolicy, isWrite bool, buildRec func(int, *Key) batchSubRecord, results []BatchRecord, mu *sync.Mutex) error {
	recs := make([]batchSubRecord, 0, len(g.indices))
	var prev *batchSubRecord
	for _, idx := range g.indices {
		rec := buildRec(idx, keys[idx])
		if prev != nil && batchWireEqual(prev, &rec) {
			rec = batchSubRecord{origIndex: rec.origIndex, digest: rec.digest, repeat: true}
		}
		recs = append(recs, rec)
		if !recs[len(recs)-1].repeat {
			prev = &recs[len(recs)-1]
		}
	}

	var reply []batchReplyRecord
	build := func(node *Node) ([]byte, error) {
		batchField, err := encodeBatchField(recs)
		if err != nil {
			return nil, err
		}
		fields := []Field{
			{Type: FieldNamespace, Payload: []byte(namespace)},
			batchField,
		}
		// The top-level header only needs to mark this message as a batch
		// subcommand; each record's own infoFlags (set per buildRec) carries
		// the read/write/delete/UDF distinction the server needs per key.
		h := MessageHeader{Info1: infoBatch}
		return buildMessage(h, fields, nil)
	}
	parse := func(header MessageHeader, fields []Field, ops []Operation) error {
		f, ok := findBatchField(fields)
		if !ok {
			return fmt.Errorf("core: batch: reply from %s missing batch field", g.node.Name)
		}
		decoded, err := decodeBatchReplyField(f.Payload)
		if err != nil {
			return err
		}
		reply = decoded
		return nil
	}

	partition := keys[g.indices[0]].PartitionID()
	cmd := NewCommand(cluster, namespace, partition, policy.Replica, isWrite, policy.BasePolicy, build, parse)
	err := cmd.Execute(ctx)

	mu.Lock()
	defer mu.Unlock()
	if err != nil {
		code := ClientError
		inDoubt := false
		if ae, ok := err.(*AerospikeError); ok {
			code, inDoubt = ae.ResultCode, ae.InDoubt
		}
		for _, idx := range g.indices {
			results[idx] = BatchRecord{Key: keys[idx], ResultCode: code, InDoubt: inDoubt}
		}
		return err
	}

	byIndex := make(map[int]batchReplyRecord, len(reply))
	for _, r := range reply {
		byIndex[r.origIndex] = r
	}
	for _, idx := range g.indices {
		r, ok := byIndex[idx]
		if !ok {
			results[idx] = BatchRecord{Key: keys[idx], ResultCode: KeyNotFoundError}
			continue
		}
		var record *Record
		if r.resultCode == OK {
			bins := make(map[string]Value, len(r.ops))
			for _, op := range r.ops {
				bins[op.Name] = op.Value
			}
			record = newRecord(keys[idx], bins, r.generation, r.expiration)
		}
		results[idx] = BatchRecord{Key: keys[idx], Record: record, ResultCode: r.resultCode}
	}
	return nil
}

func maxConcurrent(configured, groups int) int {
	if configured <= 0 {
		return groups
	}
	if configured > groups {
		return groups
	}
	return configured
}
