package core

import "fmt"

// Key identifies a single record: (namespace, set, user-key, digest)
// per §3. Equality and hashing use only namespace and digest — two Keys
// built from the same (set, particle-type, serialized user key) compare
// equal regardless of how the caller constructed the user key.
type Key struct {
	Namespace string
	Set       string
	UserKey   Value // nil if the key was constructed from a digest directly
	Digest    [DigestLength]byte
}

// NewKey builds a Key from a namespace, set, and user key, computing its
// digest immediately (§3, §4.1). It rejects user key types that cannot be
// digested.
func NewKey(namespace, set string, userKey Value) (*Key, error) {
	digest, err := ComputeDigest(set, userKey)
	if err != nil {
		return nil, fmt.Errorf("core: new key: %w", err)
	}
	return &Key{Namespace: namespace, Set: set, UserKey: userKey, Digest: digest}, nil
}

// NewKeyWithDigest builds a Key directly from a precomputed digest, for
// callers (batch replies, scans) that never had the original user key.
func NewKeyWithDigest(namespace string, digest [DigestLength]byte) *Key {
	return &Key{Namespace: namespace, Digest: digest}
}

// Equal reports whether two keys identify the same record (§3).
func (k *Key) Equal(other *Key) bool {
	if k == nil || other == nil {
		return k == other
	}
	return k.Namespace == other.Namespace && k.Digest == other.Digest
}

// PartitionID returns the partition this key routes to (§4.5).
func (k *Key) PartitionID() uint16 {
	return PartitionID(k.Digest)
}

func (k *Key) String() string {
	return fmt.Sprintf("%s:%s:%x", k.Namespace, k.Set, k.Digest)
}
