package resolver

import (
	"sync"
	"time"

	"github.com/kswhitlock9493-jpg/brh/pkg/federation"
	"k8s.io/klog/v2"
)

// PeerStore is the resolver's in-memory table of per-node heartbeat facts.
// Records that fall outside the staleness window are logically stale but
// never deleted: they remain available for forensic inspection and re-enter
// the active set if a fresh heartbeat arrives.
type PeerStore struct {
	mu    sync.RWMutex
	peers map[string]federation.LivenessRecord

	// now is swappable for staleness tests
	now func() time.Time
}

// NewPeerStore creates an empty liveness table.
func NewPeerStore() *PeerStore {
	return &PeerStore{
		peers: make(map[string]federation.LivenessRecord),
		now:   time.Now,
	}
}

// Upsert records a heartbeat for nodeID, stamping last_seen with the
// resolver clock. Epochs are monotonically non-decreasing per node: a
// regressed epoch refreshes last_seen and status but keeps the higher
// epoch, since epoch is only a freshness signal.
func (s *PeerStore) Upsert(nodeID string, epoch int64, status federation.NodeStatus, signature string) federation.LivenessRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := federation.LivenessRecord{
		NodeID:    nodeID,
		Epoch:     epoch,
		Signature: signature,
		Status:    status,
		LastSeen:  s.now(),
	}

	if prev, ok := s.peers[nodeID]; ok && prev.Epoch > epoch {
		klog.V(2).InfoS("Heartbeat epoch regressed, keeping prior epoch",
			"node", nodeID, "prev", prev.Epoch, "got", epoch)
		rec.Epoch = prev.Epoch
		rec.Signature = prev.Signature
	}

	s.peers[nodeID] = rec
	return rec
}

// ActivePeers returns the records whose age is strictly below the staleness
// window, sorted by nothing in particular; callers that need a total order
// impose their own.
func (s *PeerStore) ActivePeers(window time.Duration) []federation.LivenessRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := s.now().Add(-window)
	active := make([]federation.LivenessRecord, 0, len(s.peers))
	for _, rec := range s.peers {
		if rec.LastSeen.After(cutoff) {
			active = append(active, rec)
		}
	}
	return active
}

// Get returns the record for nodeID regardless of staleness.
func (s *PeerStore) Get(nodeID string) (federation.LivenessRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.peers[nodeID]
	return rec, ok
}

// All returns every record, stale ones included.
func (s *PeerStore) All() []federation.LivenessRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]federation.LivenessRecord, 0, len(s.peers))
	for _, rec := range s.peers {
		all = append(all, rec)
	}
	return all
}
