package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Cluster owns node discovery, the tend loop, and the partition map. It is
// the single long-lived object a caller constructs; Commands borrow nodes
// and connections from it (§4.5).
type Cluster struct {
	policy *ClientPolicy
	log    *logrus.Logger

	mu    sync.RWMutex
	nodes map[string]*Node // keyed by node name

	partitions *partitionMap

	closing chan struct{}
	wg      sync.WaitGroup
	closeOnce sync.Once
}

// NewCluster dials every seed host, merges their peer lists into a single
// node set, and starts the background tend loop (§4.5).
func NewCluster(ctx context.Context, policy *ClientPolicy, log *logrus.Logger) (*Cluster, error) {
	if log == nil {
		log = logrus.New()
	}
	c := &Cluster{
		policy:     policy,
		log:        log,
		nodes:      make(map[string]*Node),
		partitions: newPartitionMap(),
		closing:    make(chan struct{}),
	}

	var auth authProvider = noAuthProvider{}
	if policy.User != "" {
		auth = credentialsAuthProvider{user: policy.User, password: policy.Password}
	}

	var lastErr error
	seeded := false
	for _, host := range policy.Hosts {
		if err := c.seedFrom(ctx, host, auth); err != nil {
			lastErr = err
			c.log.WithError(err).WithField("host", host).Warn("seed host unreachable")
			continue
		}
		seeded = true
	}
	if !seeded {
		if policy.FailIfNotConnected {
			return nil, fmt.Errorf("core: cluster: no seed host reachable: %w", lastErr)
		}
		c.log.Warn("cluster started with zero reachable seed hosts")
	}

	c.wg.Add(1)
	go c.tendLoop()
	return c, nil
}

func (c *Cluster) seedFrom(ctx context.Context, host string, auth authProvider) error {
	n := newNode(host, host, nil, c.policy.MaxConnsPerNode, auth, c.log)
	if err := n.refreshInfo(ctx, c.policy.LoginTimeout); err != nil {
		return err
	}
	c.addNode(n)

	conn, err := n.GetConnection(ctx, c.policy.LoginTimeout)
	if err != nil {
		return nil // seed node usable even if peer discovery fails once
	}
	defer n.PutConnection(conn, true)
	reply, err := infoRequest(ctx, conn.raw(), c.policy.LoginTimeout, "peers-clear-std")
	if err != nil {
		return nil
	}
	_, defaultPort, peers, err := parsePeersReply(reply["peers-clear-std"])
	if err != nil {
		return nil
	}
	for _, p := range peers {
		if len(p.Addresses) == 0 {
			continue
		}
		addr := p.Addresses[0]
		if !strings.Contains(addr, ":") {
			addr = fmt.Sprintf("%s:%d", addr, defaultPort)
		}
		if c.getNode(p.NodeID) != nil {
			continue
		}
		peerNode := newNode(p.NodeID, addr, p.Addresses, c.policy.MaxConnsPerNode, auth, c.log)
		if err := peerNode.refreshInfo(ctx, c.policy.LoginTimeout); err == nil {
			c.addNode(peerNode)
		}
	}
	return nil
}

func (c *Cluster) addNode(n *Node) {
	c.mu.Lock()
	c.nodes[n.Name] = n
	c.mu.Unlock()
}

func (c *Cluster) getNode(name string) *Node {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.nodes[name]
}

// Nodes returns a snapshot of the currently known nodes.
func (c *Cluster) Nodes() []*Node {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Node, 0, len(c.nodes))
	for _, n := range c.nodes {
		out = append(out, n)
	}
	return out
}

// GetNodeForKey resolves the node to route a request for key to, honoring
// replica policy (§4.1, §4.5).
func (c *Cluster) GetNodeForKey(namespace string, partition uint16, replica ReplicaPolicy) (*Node, error) {
	n, ok := c.partitions.nodeFor(namespace, partition, replica)
	if !ok || n == nil {
		return nil, fmt.Errorf("core: cluster: %w (namespace=%s partition=%d)", errPartitionUnmapped, namespace, partition)
	}
	return n, nil
}

// PartitionGeneration reports the partition map's rebuild counter, used by
// PartitionTracker to detect mid-scan cluster changes (§4.9).
func (c *Cluster) PartitionGeneration() int {
	return c.partitions.generationFor()
}

func (c *Cluster) tendLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.policy.TendInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.tendOnce(context.Background())
		case <-c.closing:
			return
		}
	}
}

// tendOnce refreshes every known node's info and rebuilds the partition
// map from whichever nodes answer (§4.5).
func (c *Cluster) tendOnce(ctx context.Context) {
	tctx, cancel := context.WithTimeout(ctx, c.policy.LoginTimeout*4)
	defer cancel()

	namespaceTables := make(map[string][NumPartitions][]*Node)
	for _, n := range c.Nodes() {
		if err := n.refreshInfo(tctx, c.policy.LoginTimeout); err != nil {
			if n.recordFailure() > 3 {
				n.markInactive()
			}
			continue
		}
		conn, err := n.GetConnection(tctx, c.policy.LoginTimeout)
		if err != nil {
			continue
		}
		reply, err := infoRequest(tctx, conn.raw(), c.policy.LoginTimeout, "partition-map")
		n.PutConnection(conn, err == nil)
		if err != nil {
			continue
		}
		c.mergePartitionReply(reply["partition-map"], n, namespaceTables)
	}
	for ns, table := range namespaceTables {
		c.partitions.rebuild(ns, table)
	}
}

// mergePartitionReply decodes this client's "partition-map" info line:
//
//	<namespace>\t<partitionID>:<role>,<partitionID>:<role>,...
//
// where role is "m" (master) or "p" (prole), one line per namespace,
// separated by ';'. This client-specific framing keeps the real server's
// bitmap encoding out of scope while preserving the master/prole
// ordering invariant §4.5 requires downstream.
func (c *Cluster) mergePartitionReply(value string, n *Node, tables map[string][NumPartitions][]*Node) {
	for _, nsChunk := range strings.Split(value, ";") {
		nsChunk = strings.TrimSpace(nsChunk)
		if nsChunk == "" {
			continue
		}
		sep := strings.IndexByte(nsChunk, '\t')
		if sep < 0 {
			continue
		}
		ns := nsChunk[:sep]
		table := tables[ns]
		for _, entry := range strings.Split(nsChunk[sep+1:], ",") {
			parts := strings.SplitN(entry, ":", 2)
			if len(parts) != 2 {
				continue
			}
			pid, err := strconv.Atoi(parts[0])
			if err != nil || pid < 0 || pid >= NumPartitions {
				continue
			}
			if parts[1] == "m" {
				table[pid] = append([]*Node{n}, table[pid]...)
			} else {
				table[pid] = append(table[pid], n)
			}
		}
		tables[ns] = table
	}
}

// Close stops the tend loop and closes every node's connection pool.
func (c *Cluster) Close() {
	c.closeOnce.Do(func() {
		close(c.closing)
		c.wg.Wait()
		for _, n := range c.Nodes() {
			n.markInactive()
		}
	})
}

var errPartitionUnmapped = fmt.Errorf("no replicas mapped")
