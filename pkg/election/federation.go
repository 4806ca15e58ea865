package election

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kswhitlock9493-jpg/brh/pkg/federation"
	"k8s.io/klog/v2"
)

// FederationStrategy elects the peer with the highest epoch, breaking ties
// by lexicographically smallest node id. The ordering is a total order over
// the candidate set, so every node computing over the same peers arrives at
// the same leader without coordination.
type FederationStrategy struct {
	localNodeID string
	debug       bool

	mu            sync.RWMutex
	currentLeader string
}

// NewFederationStrategy creates a new federation election strategy
func NewFederationStrategy(nodeID string, debug bool) *FederationStrategy {
	return &FederationStrategy{
		localNodeID: nodeID,
		debug:       debug,
	}
}

// Start initializes the strategy
func (f *FederationStrategy) Start(ctx context.Context) error {
	if f.debug {
		klog.Info("Started federation election strategy")
	}
	return nil
}

// Stop gracefully stops the strategy
func (f *FederationStrategy) Stop() error {
	if f.debug {
		klog.Info("Stopped federation election strategy")
	}
	return nil
}

// IsLeader returns true if this node won the most recent local election
func (f *FederationStrategy) IsLeader() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.currentLeader == f.localNodeID
}

// GetLeader returns the most recently computed leader
func (f *FederationStrategy) GetLeader() (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.currentLeader == "" {
		return "", fmt.Errorf("no leader elected")
	}
	return f.currentLeader, nil
}

// ElectLeader performs the deterministic election over the active peer set.
// An empty peer set means total isolation; a single surviving node must be
// able to self-elect, so the local node is proposed.
func (f *FederationStrategy) ElectLeader(ctx context.Context, peers []federation.LivenessRecord) (string, error) {
	if len(peers) == 0 {
		klog.InfoS("No active peers, proposing self", "node", f.localNodeID)
		f.setLeader(f.localNodeID)
		return f.localNodeID, nil
	}

	if f.debug {
		klog.InfoS("Election candidates", "count", len(peers))
		for i, p := range peers {
			klog.InfoS("Candidate",
				"rank", i+1,
				"node", p.NodeID,
				"epoch", p.Epoch,
				"status", p.Status,
				"lastSeen", p.LastSeen)
		}
	}

	// Sort by:
	// 1. Epoch (highest first)
	// 2. Node id (lexicographically)
	sorted := make([]federation.LivenessRecord, len(peers))
	copy(sorted, peers)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Epoch == sorted[j].Epoch {
			return sorted[i].NodeID < sorted[j].NodeID
		}
		return sorted[i].Epoch > sorted[j].Epoch
	})

	elected := sorted[0].NodeID

	if f.debug {
		klog.InfoS("Elected leader",
			"node", elected,
			"epoch", sorted[0].Epoch,
			"reason", f.electionReason(sorted))
	}

	f.setLeader(elected)
	return elected, nil
}

// Name returns the strategy name
func (f *FederationStrategy) Name() string {
	return "federation"
}

func (f *FederationStrategy) setLeader(nodeID string) {
	f.mu.Lock()
	f.currentLeader = nodeID
	f.mu.Unlock()
}

// electionReason explains why the elected leader was chosen
func (f *FederationStrategy) electionReason(sorted []federation.LivenessRecord) string {
	if len(sorted) < 2 {
		return "only candidate"
	}

	elected := sorted[0]
	runner := sorted[1]

	if elected.Epoch != runner.Epoch {
		return fmt.Sprintf("highest epoch (%d vs %d)", elected.Epoch, runner.Epoch)
	}

	return fmt.Sprintf("tie-breaker: node id (%s < %s)", elected.NodeID, runner.NodeID)
}
