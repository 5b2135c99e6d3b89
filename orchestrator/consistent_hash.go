package orchestrator

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// consistentHash partitions SagaIDs across a fixed set of shard names so
// the same SagaID always routes to the same shard, giving the coordinator's
// single-worker-per-shard executors a single-owner-at-a-time guarantee
// within one process; the coordinator still holds the per-SagaID lock for
// the whole step duration. Grounded on the
// teacher's scale.ConsistentHash, with xxhash in place of crc32 per the
// domain-stack dependency wiring.
type consistentHash struct {
	mu       sync.RWMutex
	ring     []uint64
	nodes    map[uint64]string
	replicas int
	members  map[string]bool
}

func newConsistentHash(replicas int) *consistentHash {
	if replicas <= 0 {
		replicas = 100
	}
	return &consistentHash{
		nodes:    make(map[uint64]string),
		replicas: replicas,
		members:  make(map[string]bool),
	}
}

func (h *consistentHash) AddNode(node string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.members[node] {
		return
	}
	h.members[node] = true
	for i := 0; i < h.replicas; i++ {
		hash := hashKey(fmt.Sprintf("%s-%d", node, i))
		h.ring = append(h.ring, hash)
		h.nodes[hash] = node
	}
	sort.Slice(h.ring, func(i, j int) bool { return h.ring[i] < h.ring[j] })
}

func (h *consistentHash) GetNode(key string) (string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.ring) == 0 {
		return "", fmt.Errorf("empty hash ring")
	}
	hash := hashKey(key)
	idx := sort.Search(len(h.ring), func(i int) bool { return h.ring[i] >= hash })
	if idx >= len(h.ring) {
		idx = 0
	}
	return h.nodes[h.ring[idx]], nil
}

func (h *consistentHash) Size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.members)
}

func hashKey(key string) uint64 {
	return xxhash.Sum64String(key)
}
