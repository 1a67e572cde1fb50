package core

import "testing"

func TestNewTxnPolicyMarksMRTBlockedRetryable(t *testing.T) {
	p := NewTxnPolicy()
	if !p.RetryableCodes[MRTBlocked] {
		t.Fatalf("NewTxnPolicy must mark MRTBlocked retryable (§4.8 verify contention)")
	}
	if !p.RetryableCodes[TimeoutResult] {
		t.Fatalf("NewTxnPolicy should still carry the default retryable codes")
	}
}

func TestNewScanPolicyDisablesTotalTimeout(t *testing.T) {
	p := NewScanPolicy()
	if p.TotalTimeout != 0 {
		t.Fatalf("TotalTimeout = %v, want 0 (scans are long-running and unbounded by default)", p.TotalTimeout)
	}
}

func TestDefaultPoliciesDoNotShareRetryableCodesMap(t *testing.T) {
	a := NewReadPolicy()
	b := NewWritePolicy()
	a.RetryableCodes[KeyNotFoundError] = true
	if b.RetryableCodes[KeyNotFoundError] {
		t.Fatalf("policies must not share the same underlying RetryableCodes map")
	}
}

func TestNewBatchPolicyDefaultsToReplicaSequence(t *testing.T) {
	p := NewBatchPolicy()
	if p.Replica != ReplicaSequence {
		t.Fatalf("Replica = %v, want ReplicaSequence", p.Replica)
	}
	if p.AllowPartialResults {
		t.Fatalf("AllowPartialResults should default to false")
	}
}
