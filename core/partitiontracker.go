package core

import "fmt"

// partitionStatus tracks one partition's progress within a scan or query
// cursor (§4.9): its id, the node currently serving it (so a node
// failure can identify exactly which pending partitions need
// reassignment), whether it has finished, the digest of the last record
// delivered (so a retry resumes instead of re-delivering), and bval, the
// opaque secondary-index continuation token a query cursor carries
// between pages.
type partitionStatus struct {
	ID          uint16
	Node        *Node
	Done        bool
	RecordCount int64
	LastDigest  [DigestLength]byte
	HasDigest   bool
	BVal        int64
}

// PartitionTracker drives a scan or query across every partition of a
// namespace, surviving node failures and cluster generation changes by
// resuming each unfinished partition from its last-seen digest (§4.9).
type PartitionTracker struct {
	namespace  string
	partitions []partitionStatus
	generation int
}

// NewPartitionTracker creates a tracker covering every partition, or a
// caller-supplied subset (used to resume a paused query), from the
// cluster's partition map generation observed at creation time (§4.9).
func NewPartitionTracker(cluster *Cluster, namespace string, ids []uint16) *PartitionTracker {
	t := &PartitionTracker{namespace: namespace, generation: cluster.PartitionGeneration()}
	if len(ids) == 0 {
		t.partitions = make([]partitionStatus, NumPartitions)
		for i := range t.partitions {
			t.partitions[i].ID = uint16(i)
		}
		return t
	}
	t.partitions = make([]partitionStatus, len(ids))
	for i, id := range ids {
		t.partitions[i].ID = id
	}
	return t
}

// IsDone reports whether every tracked partition has completed.
func (t *PartitionTracker) IsDone() bool {
	for _, p := range t.partitions {
		if !p.Done {
			return false
		}
	}
	return true
}

// Pending returns the ids of partitions not yet marked done, in tracking
// order (ascending for the default full range, otherwise the order of the
// ids passed to NewPartitionTracker), for building the next round of
// per-node scan requests (§4.9).
func (t *PartitionTracker) Pending() []uint16 {
	var out []uint16
	for _, p := range t.partitions {
		if !p.Done {
			out = append(out, p.ID)
		}
	}
	return out
}

// MarkRecord updates a partition's cursor after a record is delivered, so
// a retried or resumed scan skips everything already seen (§4.9, §8
// testable property on scan resumption never re-delivering a record with
// an identical digest).
func (t *PartitionTracker) MarkRecord(partitionID uint16, digest [DigestLength]byte) error {
	idx, err := t.indexOf(partitionID)
	if err != nil {
		return err
	}
	t.partitions[idx].RecordCount++
	t.partitions[idx].LastDigest = digest
	t.partitions[idx].HasDigest = true
	return nil
}

// MarkDone marks a partition complete, typically on receiving the
// server's end-of-partition marker for it.
func (t *PartitionTracker) MarkDone(partitionID uint16) error {
	idx, err := t.indexOf(partitionID)
	if err != nil {
		return err
	}
	t.partitions[idx].Done = true
	return nil
}

// AssignNode records which node is currently serving partitionID, so a
// later node failure can be mapped back to exactly the pending
// partitions that node owned (§4.9).
func (t *PartitionTracker) AssignNode(partitionID uint16, node *Node) error {
	idx, err := t.indexOf(partitionID)
	if err != nil {
		return err
	}
	t.partitions[idx].Node = node
	return nil
}

// SetBVal records the secondary-index continuation token a query cursor
// must echo back on the next page request for partitionID (§4.9).
func (t *PartitionTracker) SetBVal(partitionID uint16, bval int64) error {
	idx, err := t.indexOf(partitionID)
	if err != nil {
		return err
	}
	t.partitions[idx].BVal = bval
	return nil
}

// PendingForNode returns the ids of not-yet-done partitions currently
// assigned to node, in the same tracking order as Pending.
func (t *PartitionTracker) PendingForNode(node *Node) []uint16 {
	var out []uint16
	for _, p := range t.partitions {
		if !p.Done && p.Node == node {
			out = append(out, p.ID)
		}
	}
	return out
}

// ReleaseNode clears the node assignment for every pending partition
// owned by node, returning them to the pool for reassignment to a
// replacement node (§4.9: "on node failure, partitions served by that
// node are returned to the pool for reassignment"). It returns the
// released partition ids so the caller knows what to resubmit.
func (t *PartitionTracker) ReleaseNode(node *Node) []uint16 {
	var released []uint16
	for i := range t.partitions {
		if !t.partitions[i].Done && t.partitions[i].Node == node {
			t.partitions[i].Node = nil
			released = append(released, t.partitions[i].ID)
		}
	}
	return released
}

// CheckGeneration compares the cluster's current partition-map generation
// against the one observed when the tracker was built; a mismatch means
// partitions may have migrated and the caller should reissue requests for
// every still-pending partition against the freshly resolved master
// (§4.9, §4.5).
func (t *PartitionTracker) CheckGeneration(cluster *Cluster) (changed bool) {
	current := cluster.PartitionGeneration()
	changed = current != t.generation
	t.generation = current
	return changed
}

func (t *PartitionTracker) indexOf(partitionID uint16) (int, error) {
	for i, p := range t.partitions {
		if p.ID == partitionID {
			return i, nil
		}
	}
	return 0, fmt.Errorf("core: partition tracker: partition %d not tracked", partitionID)
}
