package core

import "fmt"

// MaxBinNameLength is the wire limit on a bin name (§3).
const MaxBinNameLength = 15

// Bin is one named field of a record (§3).
type Bin struct {
	Name  string
	Value Value
}

// NewBin validates the bin name length/encoding and returns a Bin.
func NewBin(name string, value Value) (Bin, error) {
	if len(name) > MaxBinNameLength {
		return Bin{}, fmt.Errorf("core: bin name %q exceeds %d bytes", name, MaxBinNameLength)
	}
	return Bin{Name: name, Value: value}, nil
}

// Record is returned to the caller and is immutable after construction
// (§3): bins, the generation counter, and the expiration (seconds since
// the Aerospike epoch, 2010-01-01T00:00:00Z).
type Record struct {
	Key        *Key
	Bins       map[string]Value
	Generation uint32
	Expiration uint32
}

func newRecord(key *Key, bins map[string]Value, generation, expiration uint32) *Record {
	return &Record{Key: key, Bins: bins, Generation: generation, Expiration: expiration}
}
