package core

import "time"

// ReplicaPolicy selects which replica role a read is allowed to hit
// (§3: master/prole roles).
type ReplicaPolicy int

const (
	ReplicaMaster ReplicaPolicy = iota
	ReplicaMasterProles
	ReplicaSequence
	ReplicaPreferRack
)

// ConsistencyLevel bounds how many replicas a read must agree with
// (§4.1, §4.6).
type ConsistencyLevel int

const (
	ConsistencyOne ConsistencyLevel = iota
	ConsistencyAll
)

// CommitLevel bounds how many replicas must ack a write before it returns
// (§4.1, §4.6).
type CommitLevel int

const (
	CommitAll CommitLevel = iota
	CommitMaster
)

// BasePolicy carries the fields common to every per-call policy: timeouts,
// retry ceiling, and the retryable-code table (§4.6, §9 Open Question on
// retryable codes).
type BasePolicy struct {
	SocketTimeout    time.Duration
	TotalTimeout     time.Duration
	MaxRetries       int
	SleepBetweenRetries time.Duration
	RetryableCodes   map[ResultCode]bool
	SendKey          bool
}

func defaultBasePolicy() BasePolicy {
	return BasePolicy{
		SocketTimeout:       30 * time.Second,
		TotalTimeout:        1 * time.Second,
		MaxRetries:          2,
		SleepBetweenRetries: 0,
		RetryableCodes:      defaultRetryableCodes(),
	}
}

// ReadPolicy governs single-record reads (§4.1).
type ReadPolicy struct {
	BasePolicy
	Replica     ReplicaPolicy
	Consistency ConsistencyLevel
}

func NewReadPolicy() *ReadPolicy {
	return &ReadPolicy{BasePolicy: defaultBasePolicy(), Replica: ReplicaSequence, Consistency: ConsistencyOne}
}

// WritePolicy governs single-record writes, including generation checks
// (§4.1, §3).
type WritePolicy struct {
	BasePolicy
	Commit            CommitLevel
	GenerationPolicy  GenerationPolicy
	Generation        uint32
	Expiration        uint32
	DurableDelete     bool
}

// GenerationPolicy controls how a write's Generation field constrains the
// server-side compare-and-swap (§3, §4.6).
type GenerationPolicy int

const (
	GenerationIgnore GenerationPolicy = iota
	GenerationEQ
	GenerationGT
)

func NewWritePolicy() *WritePolicy {
	return &WritePolicy{BasePolicy: defaultBasePolicy(), Commit: CommitAll, GenerationPolicy: GenerationIgnore}
}

// ScanPolicy and QueryPolicy govern the long-running, partition-cursor
// operations from §4.9.
type ScanPolicy struct {
	BasePolicy
	MaxRecords     int64
	RecordsPerSecond int
	Concurrent     bool
	MaxConcurrentNodes int
}

func NewScanPolicy() *ScanPolicy {
	p := &ScanPolicy{BasePolicy: defaultBasePolicy(), MaxConcurrentNodes: 0}
	p.TotalTimeout = 0
	return p
}

type QueryPolicy struct {
	ScanPolicy
}

func NewQueryPolicy() *QueryPolicy {
	return &QueryPolicy{ScanPolicy: *NewScanPolicy()}
}

// BatchPolicy governs the parent batch request; BatchWritePolicy,
// BatchDeletePolicy, and BatchUDFPolicy override it per-record-type
// (§4.7).
type BatchPolicy struct {
	BasePolicy
	Replica            ReplicaPolicy
	Consistency        ConsistencyLevel
	MaxConcurrentNodes int
	AllowPartialResults bool
}

func NewBatchPolicy() *BatchPolicy {
	return &BatchPolicy{BasePolicy: defaultBasePolicy(), Replica: ReplicaSequence, MaxConcurrentNodes: 0}
}

type BatchWritePolicy struct {
	Commit           CommitLevel
	GenerationPolicy GenerationPolicy
	Generation       uint32
	Expiration       uint32
	DurableDelete    bool
}

func NewBatchWritePolicy() *BatchWritePolicy {
	return &BatchWritePolicy{Commit: CommitAll}
}

type BatchDeletePolicy struct {
	Commit     CommitLevel
	Generation uint32
}

type BatchUDFPolicy struct {
	Commit CommitLevel
}

// InfoPolicy governs info-protocol requests used by tend and admin calls
// (§4.5, §6.1).
type InfoPolicy struct {
	Timeout time.Duration
}

func NewInfoPolicy() *InfoPolicy {
	return &InfoPolicy{Timeout: 1 * time.Second}
}

// AdminPolicy governs user/role management calls (§4.1 roles glossary
// entry, §6.1 admin commands).
type AdminPolicy struct {
	Timeout time.Duration
}

// MetricsPolicy governs the client's own operational metrics emission
// (ambient, not server-facing).
type MetricsPolicy struct {
	Enabled        bool
	ReportInterval time.Duration
}

// TxnPolicy governs an MRT's verify/roll-forward/roll-backward requests
// (§4.8). Its BasePolicy timeouts and retry table apply alike to every
// phase; the phases visit keys one at a time, with no fan-out.
type TxnPolicy struct {
	BasePolicy
	MaxMRTRecords int
	DeadlineSeconds uint32
}

func NewTxnPolicy() *TxnPolicy {
	p := &TxnPolicy{BasePolicy: defaultBasePolicy(), MaxMRTRecords: 4096, DeadlineSeconds: 10}
	p.RetryableCodes[MRTBlocked] = true
	return p
}

// ClientPolicy configures the Cluster itself: seed hosts, per-node pool
// capacities (one pool per node, not split by size class), tend cadence, and authentication (§4.4, §4.5, §10
// ambient config layer).
type ClientPolicy struct {
	Hosts              []string
	MinConnsPerNode    int
	MaxConnsPerNode    int
	TendInterval       time.Duration
	LoginTimeout       time.Duration
	User               string
	Password           string
	ClusterName        string
	RackAware          bool
	RackID             int
	FailIfNotConnected bool
}

func NewClientPolicy() *ClientPolicy {
	return &ClientPolicy{
		MinConnsPerNode: 1,
		MaxConnsPerNode: 100,
		TendInterval:    1 * time.Second,
		LoginTimeout:    1 * time.Second,
	}
}
