package core

import (
	"fmt"
	"time"
)

// AerospikeError is the user-visible failure surface described in §7: it
// carries everything a caller needs to decide whether to retry, log, or
// surface the failure, and formats deterministically.
type AerospikeError struct {
	ResultCode    ResultCode
	Iteration     int
	SocketTimeout time.Duration
	TotalTimeout  time.Duration
	MaxRetries    int
	InDoubt       bool
	LastNode      *Node
	Message       string
}

// Error formats the canonical deterministic message from §7:
// "Error <code>[,<iter>][,<st>,<tt>,<mr>][,inDoubt][,<node>]: <text>"
func (e *AerospikeError) Error() string {
	s := fmt.Sprintf("Error %d", int(e.ResultCode))
	if e.Iteration > 0 {
		s += fmt.Sprintf(",%d", e.Iteration)
	}
	if e.SocketTimeout > 0 || e.TotalTimeout > 0 || e.MaxRetries > 0 {
		s += fmt.Sprintf(",%s,%s,%d", e.SocketTimeout, e.TotalTimeout, e.MaxRetries)
	}
	if e.InDoubt {
		s += ",inDoubt"
	}
	if e.LastNode != nil {
		s += fmt.Sprintf(",%s", e.LastNode.Name)
	}
	msg := e.Message
	if msg == "" {
		msg = e.ResultCode.String()
	}
	return fmt.Sprintf("%s: %s", s, msg)
}

// IsRetryable reports whether the wrapped result code is in the
// retryable table carried by policy (§4.6).
func (e *AerospikeError) IsRetryable(retryable map[ResultCode]bool) bool {
	return retryable[e.ResultCode]
}

// newAerospikeError builds an AerospikeError from the live state of a
// Command (§4.6/§7).
func newAerospikeError(code ResultCode, cmd *Command, message string) *AerospikeError {
	e := &AerospikeError{
		ResultCode: code,
		Message:    message,
	}
	if cmd != nil {
		e.Iteration = cmd.iteration
		e.MaxRetries = cmd.policy.MaxRetries
		e.TotalTimeout = cmd.policy.TotalTimeout
		e.SocketTimeout = cmd.policy.SocketTimeout
		e.InDoubt = cmd.inDoubt
		e.LastNode = cmd.lastNode
	}
	return e
}

// CommitErrorKind distinguishes the phase a commit failed in (§4.8, §7).
type CommitErrorKind int

const (
	CommitErrorVerifyFail CommitErrorKind = iota
	CommitErrorVerifyFailCloseAbandoned
	CommitErrorVerifyFailAbortAbandoned
	CommitErrorMarkRollForwardAbandoned
)

func (k CommitErrorKind) String() string {
	switch k {
	case CommitErrorVerifyFail:
		return "VERIFY_FAIL"
	case CommitErrorVerifyFailCloseAbandoned:
		return "VERIFY_FAIL_CLOSE_ABANDONED"
	case CommitErrorVerifyFailAbortAbandoned:
		return "VERIFY_FAIL_ABORT_ABANDONED"
	case CommitErrorMarkRollForwardAbandoned:
		return "MARK_ROLL_FORWARD_ABANDONED"
	default:
		return "UNKNOWN"
	}
}

// RecordOutcome is one key's result within a batch or MRT phase (§4.7,
// §4.8, §7: "carrying the array of per-record outcomes").
type RecordOutcome struct {
	Key        *Key
	ResultCode ResultCode
}

// CommitError is raised by Txn.Commit on a failed verify or an abandoned
// roll-forward mark (§4.8).
type CommitError struct {
	Kind          CommitErrorKind
	VerifyRecords []RecordOutcome
	RollRecords   []RecordOutcome
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("core: commit failed: %s (%d verify records, %d roll records)",
		e.Kind, len(e.VerifyRecords), len(e.RollRecords))
}

// BatchError signals that one or more subcommands of a batch failed
// outright (fatal network error), while per-record outcomes for the
// surviving subcommands remain valid (§4.7, §7).
type BatchError struct {
	Outcomes []RecordOutcome
	Cause    error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("core: batch failed: %v (%d records)", e.Cause, len(e.Outcomes))
}

func (e *BatchError) Unwrap() error { return e.Cause }
