package core

// ResultCode enumerates the subset of server and client result codes
// named in §6.2. Implementations maintain the full server enumeration;
// this is the subset the client engine interprets directly.
type ResultCode int

const (
	OK                    ResultCode = 0
	ServerError           ResultCode = 1
	KeyNotFoundError      ResultCode = 2
	GenerationError       ResultCode = 3
	ParameterError        ResultCode = 4
	KeyExistsError        ResultCode = 5
	BinExistsError        ResultCode = 6
	TimeoutResult         ResultCode = 9
	DeviceOverload        ResultCode = 18
	KeyBusy               ResultCode = 14
	ForbiddenReplica      ResultCode = 26
	PartitionUnavailable  ResultCode = 27
	MRTConflict           ResultCode = 41
	MRTBlocked            ResultCode = 43

	// Client-side result codes are negative, per the teacher's and the
	// real wire protocol's convention of keeping client/server code
	// ranges disjoint.
	ServerNotAvailable ResultCode = -1
	ParseError         ResultCode = -2
	SerializeError     ResultCode = -7
	InvalidNodeError   ResultCode = -8
	InvalidNamespace   ResultCode = -9
	ScanTerminated     ResultCode = -11
	QueryTerminated    ResultCode = -12
	ClientError        ResultCode = -13
	CommandRejected    ResultCode = -14
	BatchFailed        ResultCode = -16
	TxnFailed          ResultCode = -17
)

func (c ResultCode) String() string {
	switch c {
	case OK:
		return "OK"
	case ServerError:
		return "SERVER_ERROR"
	case KeyNotFoundError:
		return "KEY_NOT_FOUND_ERROR"
	case GenerationError:
		return "GENERATION_ERROR"
	case ParameterError:
		return "PARAMETER_ERROR"
	case KeyExistsError:
		return "KEY_EXISTS_ERROR"
	case BinExistsError:
		return "BIN_EXISTS_ERROR"
	case TimeoutResult:
		return "TIMEOUT"
	case DeviceOverload:
		return "DEVICE_OVERLOAD"
	case KeyBusy:
		return "KEY_BUSY"
	case ForbiddenReplica:
		return "FORBIDDEN_REPLICA"
	case PartitionUnavailable:
		return "PARTITION_UNAVAILABLE"
	case MRTConflict:
		return "MRT_CONFLICT"
	case MRTBlocked:
		return "MRT_BLOCKED"
	case ServerNotAvailable:
		return "SERVER_NOT_AVAILABLE"
	case ParseError:
		return "PARSE_ERROR"
	case SerializeError:
		return "SERIALIZE_ERROR"
	case InvalidNodeError:
		return "INVALID_NODE_ERROR"
	case InvalidNamespace:
		return "INVALID_NAMESPACE"
	case ScanTerminated:
		return "SCAN_TERMINATED"
	case QueryTerminated:
		return "QUERY_TERMINATED"
	case ClientError:
		return "CLIENT_ERROR"
	case CommandRejected:
		return "COMMAND_REJECTED"
	case BatchFailed:
		return "BATCH_FAILED"
	case TxnFailed:
		return "TXN_FAILED"
	default:
		return "UNKNOWN"
	}
}

// defaultRetryableCodes is the configurable table from §4.6/§9: the Open
// Question about "exact set of retryable server result codes" is resolved
// by defaulting to the union of every code §4.6 names as retryable, kept
// as a mutable map so callers can extend or narrow it per call through
// each policy's BasePolicy.RetryableCodes.
func defaultRetryableCodes() map[ResultCode]bool {
	return map[ResultCode]bool{
		TimeoutResult:        true,
		DeviceOverload:       true,
		ServerNotAvailable:   true,
		KeyBusy:              true,
		PartitionUnavailable: true,
		ForbiddenReplica:     true,
	}
}

// keepConnectionCodes lists results after which the socket is known to be
// in a well-defined protocol state and can be returned to the pool (§6.2,
// §7). Every other code — parse errors, timeouts, and any code not in
// this set — closes the connection instead.
func keepConnectionCodes() map[ResultCode]bool {
	return map[ResultCode]bool{
		OK:                   true,
		KeyNotFoundError:     true,
		GenerationError:      true,
		ParameterError:       true,
		KeyExistsError:       true,
		BinExistsError:       true,
		MRTConflict:          true,
		MRTBlocked:           true,
		PartitionUnavailable: true,
		ForbiddenReplica:     true,
	}
}
