package core

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// nodeCapabilities records server features discovered at tend time that
// change how commands are built (§4.5, §9 Open Question on MRT deadlines).
type nodeCapabilities struct {
	supportsMRTDeadlines bool
	supportsBatchAny     bool
	partitionGeneration  int
}

// Node is a single cluster member: its connect address, its known
// aliases, a pool of pooled connections, and the capability/health state
// discovered by the tend loop (§4.5).
type Node struct {
	Name    string
	Address string
	aliases []string

	pool *connectionPool

	mu           sync.RWMutex
	capabilities nodeCapabilities
	active       bool
	failures     int32

	log *logrus.Entry
}

// newNode dials nothing; it records identity and creates the node's
// connection pool, bounded by poolSize, which dials lazily on first use.
func newNode(name, address string, aliases []string, poolSize int, authProvider authProvider, log *logrus.Logger) *Node {
	entry := log.WithField("node", name)
	n := &Node{
		Name:    name,
		Address: address,
		aliases: aliases,
		active:  true,
		log:     entry,
	}
	n.pool = newConnectionPool(address, poolSize, authProvider, entry)
	return n
}

// GetConnection borrows a connection from the node's pool, dialing a new
// one if the pool is empty and below its max (§4.4).
func (n *Node) GetConnection(ctx context.Context, timeout time.Duration) (*connection, error) {
	if !n.IsActive() {
		return nil, fmt.Errorf("core: node %s: %w", n.Name, errNodeInactive)
	}
	return n.pool.get(ctx, timeout)
}

// PutConnection returns a connection to the pool, or closes it if
// healthy==false (§4.6: "connection state after error").
func (n *Node) PutConnection(c *connection, healthy bool) {
	if !healthy {
		c.close()
		return
	}
	n.pool.put(c)
}

func (n *Node) IsActive() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.active
}

func (n *Node) markInactive() {
	n.mu.Lock()
	n.active = false
	n.mu.Unlock()
	n.pool.closeAll()
}

func (n *Node) recordFailure() int32 {
	return atomic.AddInt32(&n.failures, 1)
}

func (n *Node) resetFailures() {
	atomic.StoreInt32(&n.failures, 0)
}

func (n *Node) Capabilities() nodeCapabilities {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.capabilities
}

func (n *Node) setCapabilities(c nodeCapabilities) {
	n.mu.Lock()
	n.capabilities = c
	n.mu.Unlock()
}

// refreshInfo queries build/partition-generation/features info and updates
// capabilities from the features reply; it is the per-node half of Cluster's tend (§4.5).
func (n *Node) refreshInfo(ctx context.Context, timeout time.Duration) error {
	conn, err := n.GetConnection(ctx, timeout)
	if err != nil {
		return err
	}
	reply, err := infoRequest(ctx, conn.raw(), timeout, "build", "partition-generation", "features")
	if err != nil {
		n.PutConnection(conn, false)
		return err
	}
	n.PutConnection(conn, true)

	caps := nodeCapabilities{}
	if features, ok := reply["features"]; ok {
		caps.supportsMRTDeadlines = containsToken(features, "mrt-deadline")
		caps.supportsBatchAny = containsToken(features, "batch-any")
	}
	n.setCapabilities(caps)
	n.resetFailures()
	return nil
}

func containsToken(csv, token string) bool {
	for _, t := range splitBracketed(csv) {
		if t == token {
			return true
		}
	}
	return false
}

func (n *Node) dialAddr() (*net.TCPAddr, error) {
	return net.ResolveTCPAddr("tcp", n.Address)
}

var errNodeInactive = fmt.Errorf("node marked inactive")
