package core

import (
	"errors"
	"testing"
)

func newTestNode(t *testing.T, name string) *Node {
	t.Helper()
	return newNode(name, "127.0.0.1:0", nil, 1, noAuthProvider{}, testLogEntry().Logger)
}

func TestPartitionMapNodeForMasterPolicy(t *testing.T) {
	pm := newPartitionMap()
	master := newTestNode(t, "master")
	prole := newTestNode(t, "prole")
	var table [NumPartitions][]*Node
	table[0] = []*Node{master, prole}
	pm.rebuild("test", table)

	n, ok := pm.nodeFor("test", 0, ReplicaMaster)
	if !ok || n != master {
		t.Fatalf("nodeFor(ReplicaMaster) = %v, %v; want master", n, ok)
	}
}

func TestPartitionMapNodeForUnmappedPartition(t *testing.T) {
	pm := newPartitionMap()
	if _, ok := pm.nodeFor("test", 1, ReplicaMaster); ok {
		t.Fatalf("expected unmapped partition to report not ok")
	}
}

func TestPartitionMapRebuildBumpsGeneration(t *testing.T) {
	pm := newPartitionMap()
	g0 := pm.generationFor()
	var table [NumPartitions][]*Node
	pm.rebuild("test", table)
	if pm.generationFor() != g0+1 {
		t.Fatalf("generation = %d, want %d", pm.generationFor(), g0+1)
	}
	pm.rebuild("test", table)
	if pm.generationFor() != g0+2 {
		t.Fatalf("generation = %d, want %d", pm.generationFor(), g0+2)
	}
}

func TestPartitionMapMasterProlesFallsBackToInactive(t *testing.T) {
	pm := newPartitionMap()
	master := newTestNode(t, "master")
	master.markInactive()
	prole := newTestNode(t, "prole")
	var table [NumPartitions][]*Node
	table[5] = []*Node{master, prole}
	pm.rebuild("test", table)

	n, ok := pm.nodeFor("test", 5, ReplicaMasterProles)
	if !ok || n != prole {
		t.Fatalf("nodeFor(ReplicaMasterProles) = %v, %v; want active prole", n, ok)
	}
}

func TestClusterGetNodeForKeyWrapsUnmappedError(t *testing.T) {
	c := &Cluster{
		nodes:      make(map[string]*Node),
		partitions: newPartitionMap(),
		closing:    make(chan struct{}),
		log:        testLogEntry().Logger,
	}
	if _, err := c.GetNodeForKey("test", 0, ReplicaMaster); !errors.Is(err, errPartitionUnmapped) {
		t.Fatalf("err = %v, want an error wrapping errPartitionUnmapped", err)
	}
}
