package cluster

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/hashicorp/memberlist"

	"github.com/openendpoint/replicator/internal/object"
)

// defaultVnodes mirrors the pack's consistent-hash ring: enough virtual
// nodes per physical node to keep partition ownership evenly spread as
// membership changes.
const defaultVnodes = 150

// ring is a consistent-hash ring over node names: a partition id hashes
// to a ring position, and its replica set is the N distinct physical
// nodes first encountered walking clockwise from there. Adding or
// removing one node only reshuffles the partitions near it on the
// ring, not the whole keyspace.
type ring struct {
	mu     sync.RWMutex
	vnodes int
	slots  map[uint32]string
	sorted []uint32
}

func newRing() *ring {
	return &ring{vnodes: defaultVnodes, slots: make(map[uint32]string)}
}

func (r *ring) hash(s string) uint32 {
	h := sha256.Sum256([]byte(s))
	return binary.BigEndian.Uint32(h[:4])
}

// reset rebuilds the ring from scratch against the given node set. The
// redundancy map calls this once per lookup against memberlist's
// current membership, so the ring never drifts from live membership.
func (r *ring) reset(nodes []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.slots = make(map[uint32]string, len(nodes)*r.vnodes)
	for _, node := range nodes {
		for i := 0; i < r.vnodes; i++ {
			pos := r.hash(node + "#" + strconv.Itoa(i))
			r.slots[pos] = node
		}
	}
	r.sorted = make([]uint32, 0, len(r.slots))
	for pos := range r.slots {
		r.sorted = append(r.sorted, pos)
	}
	sort.Slice(r.sorted, func(i, j int) bool { return r.sorted[i] < r.sorted[j] })
}

// nodesFor walks the ring clockwise from partitionKey's position,
// collecting up to n distinct physical nodes.
func (r *ring) nodesFor(partitionKey string, n int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.sorted) == 0 || n <= 0 {
		return nil
	}

	pos := r.hash(partitionKey)
	idx := sort.Search(len(r.sorted), func(i int) bool { return r.sorted[i] >= pos })
	if idx == len(r.sorted) {
		idx = 0
	}

	seen := make(map[string]bool, n)
	out := make([]string, 0, n)
	for i := 0; i < len(r.sorted) && len(out) < n; i++ {
		node := r.slots[r.sorted[(idx+i)%len(r.sorted)]]
		if !seen[node] {
			seen[node] = true
			out = append(out, node)
		}
	}
	return out
}

// memberSource is the slice of Membership this package actually needs;
// narrowing it to an interface lets the ring-selection logic be tested
// without a live memberlist gossip instance.
type memberSource interface {
	Members() []*memberlist.Node
}

// RedundancyMap derives each partition's ordered replica set from
// current cluster membership and reports per-target reachability from
// memberlist's own alive/suspect/dead state — spec.md §6's redundancy
// map, concretized.
type RedundancyMap struct {
	membership memberSource
	ring       *ring
}

// NewRedundancyMap builds a redundancy map over the given membership.
func NewRedundancyMap(membership *Membership) *RedundancyMap {
	return &RedundancyMap{membership: membership, ring: newRing()}
}

// Targets returns the ordered list of N replica targets for partitionID,
// each flagged reachable or not per memberlist's current view. Fewer
// than N targets come back only when the cluster itself has fewer than
// N known members.
func (rm *RedundancyMap) Targets(partitionID int64, n int) []object.Target {
	members := rm.membership.Members()

	names := make([]string, 0, len(members))
	alive := make(map[string]bool, len(members))
	for _, m := range members {
		names = append(names, m.Name)
		alive[m.Name] = m.State == memberlist.StateAlive
	}
	rm.ring.reset(names)

	partitionKey := fmt.Sprintf("partition-%d", partitionID)
	chosen := rm.ring.nodesFor(partitionKey, n)

	targets := make([]object.Target, 0, len(chosen))
	for _, node := range chosen {
		targets = append(targets, object.Target{Node: node, Reachable: alive[node]})
	}
	return targets
}
