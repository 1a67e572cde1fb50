package core

import (
	"context"
	"net"
	"testing"

	"github.com/nativekv/client-go/internal/fakeserver"
)

// loopRespond keeps answering OK/generation on every request received on
// a connection, since a Txn's Commit issues several sequential round
// trips that the node's connection pool will serve from one reused
// connection (§4.4, §4.8).
func loopRespond(generation uint32) fakeserver.Handler {
	return func(conn net.Conn) {
		for {
			if err := fakeserver.RespondOnce(conn, 0, generation, 0); err != nil {
				return
			}
		}
	}
}

func TestTxnCommitSucceedsWhenGenerationMatches(t *testing.T) {
	srv, err := fakeserver.New(loopRespond(1))
	if err != nil {
		t.Fatalf("fakeserver.New: %v", err)
	}
	defer srv.Cleanup()

	cluster, _ := singleNodeCluster(t, srv.Addr())
	txn := NewTxn(cluster, NewTxnPolicy())

	key := keyForPartition(t, 0)
	txn.TrackRead(key, 1)
	txn.TrackWrite(key)

	if err := txn.Commit(context.Background()); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestTxnCommitFailsVerifyOnGenerationMismatch(t *testing.T) {
	srv, err := fakeserver.New(loopRespond(2))
	if err != nil {
		t.Fatalf("fakeserver.New: %v", err)
	}
	defer srv.Cleanup()

	cluster, _ := singleNodeCluster(t, srv.Addr())
	txn := NewTxn(cluster, NewTxnPolicy())

	key := keyForPartition(t, 0)
	txn.TrackRead(key, 1) // observed generation 1, server now reports 2
	txn.TrackWrite(key)

	err = txn.Commit(context.Background())
	if err == nil {
		t.Fatalf("expected a verify failure")
	}
	ce, ok := err.(*CommitError)
	if !ok {
		t.Fatalf("err = %T, want *CommitError", err)
	}
	if ce.Kind != CommitErrorVerifyFail {
		t.Fatalf("Kind = %v, want CommitErrorVerifyFail", ce.Kind)
	}
	if len(ce.VerifyRecords) != 1 || ce.VerifyRecords[0].Key != key {
		t.Fatalf("VerifyRecords = %+v, want one entry for %v", ce.VerifyRecords, key)
	}
	// A failed verify must still roll the tracked write back (§4.8 step 1)
	// before reporting VERIFY_FAIL, not just abandon it.
	if len(ce.RollRecords) != 1 || ce.RollRecords[0].Key != key || ce.RollRecords[0].ResultCode != OK {
		t.Fatalf("RollRecords = %+v, want one OK entry for %v", ce.RollRecords, key)
	}
}

func TestTxnCommitVerifyFailureAbortAbandonedWhenRollbackFails(t *testing.T) {
	srv, err := fakeserver.New(func(conn net.Conn) {
		n := 0
		for {
			n++
			if n == 1 {
				// verify read: generation 2 disagrees with the tracked version 1
				if err := fakeserver.RespondOnce(conn, 0, 2, 0); err != nil {
					return
				}
				continue
			}
			// roll-backward request: accept it, then hang up without a reply
			if _, _, err := fakeserver.ReadProtoFrame(conn); err != nil {
				return
			}
			return
		}
	})
	if err != nil {
		t.Fatalf("fakeserver.New: %v", err)
	}
	defer srv.Cleanup()

	cluster, _ := singleNodeCluster(t, srv.Addr())
	txn := NewTxn(cluster, NewTxnPolicy())

	key := keyForPartition(t, 0)
	txn.TrackRead(key, 1)
	txn.TrackWrite(key)

	err = txn.Commit(context.Background())
	ce, ok := err.(*CommitError)
	if !ok {
		t.Fatalf("err = %T, want *CommitError", err)
	}
	if ce.Kind != CommitErrorVerifyFailAbortAbandoned {
		t.Fatalf("Kind = %v, want CommitErrorVerifyFailAbortAbandoned", ce.Kind)
	}
	if len(ce.RollRecords) != 1 || ce.RollRecords[0].ResultCode == OK {
		t.Fatalf("RollRecords = %+v, want one non-OK entry recording the abandoned rollback", ce.RollRecords)
	}
}

func TestTxnCommitRejectsWhenNotOpen(t *testing.T) {
	srv, err := fakeserver.New(loopRespond(1))
	if err != nil {
		t.Fatalf("fakeserver.New: %v", err)
	}
	defer srv.Cleanup()

	cluster, _ := singleNodeCluster(t, srv.Addr())
	txn := NewTxn(cluster, NewTxnPolicy())
	if err := txn.Commit(context.Background()); err != nil {
		t.Fatalf("first Commit: %v", err)
	}
	if err := txn.Commit(context.Background()); err == nil {
		t.Fatalf("second Commit on an already-committed txn should fail")
	}
}

func TestTxnAbortRollsBackWrites(t *testing.T) {
	srv, err := fakeserver.New(loopRespond(1))
	if err != nil {
		t.Fatalf("fakeserver.New: %v", err)
	}
	defer srv.Cleanup()

	cluster, _ := singleNodeCluster(t, srv.Addr())
	txn := NewTxn(cluster, NewTxnPolicy())

	key := keyForPartition(t, 0)
	txn.TrackWrite(key)

	if err := txn.Abort(context.Background()); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if err := txn.Abort(context.Background()); err == nil {
		t.Fatalf("second Abort on an already-aborted txn should fail")
	}
}
