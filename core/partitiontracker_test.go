package core

import "testing"

func TestPartitionTrackerCoversAllPartitionsByDefault(t *testing.T) {
	c := &Cluster{
		nodes:      make(map[string]*Node),
		partitions: newPartitionMap(),
		closing:    make(chan struct{}),
		log:        testLogEntry().Logger,
	}
	tr := NewPartitionTracker(c, "test", nil)
	if len(tr.Pending()) != NumPartitions {
		t.Fatalf("Pending() = %d partitions, want %d", len(tr.Pending()), NumPartitions)
	}
	if tr.IsDone() {
		t.Fatalf("a freshly created tracker should not report done")
	}
}

func TestPartitionTrackerSubsetOfIDs(t *testing.T) {
	c := &Cluster{
		nodes:      make(map[string]*Node),
		partitions: newPartitionMap(),
		closing:    make(chan struct{}),
		log:        testLogEntry().Logger,
	}
	tr := NewPartitionTracker(c, "test", []uint16{3, 7, 11})
	pending := tr.Pending()
	if len(pending) != 3 {
		t.Fatalf("Pending() = %v, want 3 entries", pending)
	}
	for _, id := range []uint16{3, 7, 11} {
		if err := tr.MarkDone(id); err != nil {
			t.Fatalf("MarkDone(%d): %v", id, err)
		}
	}
	if !tr.IsDone() {
		t.Fatalf("tracker should be done once every tracked partition is marked done")
	}
}

func TestPartitionTrackerMarkRecordTracksLastDigest(t *testing.T) {
	c := &Cluster{
		nodes:      make(map[string]*Node),
		partitions: newPartitionMap(),
		closing:    make(chan struct{}),
		log:        testLogEntry().Logger,
	}
	tr := NewPartitionTracker(c, "test", []uint16{0})
	var digest [DigestLength]byte
	digest[0] = 0xAB
	if err := tr.MarkRecord(0, digest); err != nil {
		t.Fatalf("MarkRecord: %v", err)
	}
	if tr.partitions[0].RecordCount != 1 {
		t.Fatalf("RecordCount = %d, want 1", tr.partitions[0].RecordCount)
	}
	if tr.partitions[0].LastDigest != digest || !tr.partitions[0].HasDigest {
		t.Fatalf("LastDigest/HasDigest not recorded")
	}
}

func TestPartitionTrackerUntrackedPartitionErrors(t *testing.T) {
	c := &Cluster{
		nodes:      make(map[string]*Node),
		partitions: newPartitionMap(),
		closing:    make(chan struct{}),
		log:        testLogEntry().Logger,
	}
	tr := NewPartitionTracker(c, "test", []uint16{0})
	if err := tr.MarkDone(99); err == nil {
		t.Fatalf("expected an error marking an untracked partition done")
	}
}

func TestPartitionTrackerReleaseNodeReturnsOnlyThatNodesPendingPartitions(t *testing.T) {
	c := &Cluster{
		nodes:      make(map[string]*Node),
		partitions: newPartitionMap(),
		closing:    make(chan struct{}),
		log:        testLogEntry().Logger,
	}
	log := testLogEntry().Logger
	nodeA := newNode("a", "127.0.0.1:0", nil, 1, noAuthProvider{}, log)
	nodeB := newNode("b", "127.0.0.1:0", nil, 1, noAuthProvider{}, log)

	tr := NewPartitionTracker(c, "test", []uint16{0, 1, 2})
	if err := tr.AssignNode(0, nodeA); err != nil {
		t.Fatalf("AssignNode(0): %v", err)
	}
	if err := tr.AssignNode(1, nodeA); err != nil {
		t.Fatalf("AssignNode(1): %v", err)
	}
	if err := tr.AssignNode(2, nodeB); err != nil {
		t.Fatalf("AssignNode(2): %v", err)
	}
	if err := tr.MarkDone(1); err != nil {
		t.Fatalf("MarkDone(1): %v", err)
	}

	released := tr.ReleaseNode(nodeA)
	if len(released) != 1 || released[0] != 0 {
		t.Fatalf("ReleaseNode(nodeA) = %v, want [0] (partition 1 is already done, partition 2 belongs to nodeB)", released)
	}
	if tr.partitions[0].Node != nil {
		t.Fatalf("partition 0's node assignment should be cleared after release")
	}
	if tr.partitions[2].Node != nodeB {
		t.Fatalf("partition 2's node assignment should be untouched by releasing nodeA")
	}

	if again := tr.ReleaseNode(nodeA); len(again) != 0 {
		t.Fatalf("ReleaseNode(nodeA) a second time = %v, want none left to release", again)
	}
}

func TestPartitionTrackerSetBVal(t *testing.T) {
	c := &Cluster{
		nodes:      make(map[string]*Node),
		partitions: newPartitionMap(),
		closing:    make(chan struct{}),
		log:        testLogEntry().Logger,
	}
	tr := NewPartitionTracker(c, "test", []uint16{5})
	if err := tr.SetBVal(5, 42); err != nil {
		t.Fatalf("SetBVal: %v", err)
	}
	if tr.partitions[0].BVal != 42 {
		t.Fatalf("BVal = %d, want 42", tr.partitions[0].BVal)
	}
	if err := tr.SetBVal(99, 1); err == nil {
		t.Fatalf("expected an error setting bval on an untracked partition")
	}
}

func TestPartitionTrackerCheckGenerationDetectsMigration(t *testing.T) {
	pm := newPartitionMap()
	c := &Cluster{
		nodes:      make(map[string]*Node),
		partitions: pm,
		closing:    make(chan struct{}),
		log:        testLogEntry().Logger,
	}
	tr := NewPartitionTracker(c, "test", []uint16{0})
	if changed := tr.CheckGeneration(c); changed {
		t.Fatalf("generation should not have changed yet")
	}
	var table [NumPartitions][]*Node
	pm.rebuild("test", table)
	if changed := tr.CheckGeneration(c); !changed {
		t.Fatalf("expected CheckGeneration to detect the rebuild")
	}
	if changed := tr.CheckGeneration(c); changed {
		t.Fatalf("CheckGeneration should not report change twice for the same rebuild")
	}
}
