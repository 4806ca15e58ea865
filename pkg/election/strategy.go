package election

import (
	"context"

	"github.com/kswhitlock9493-jpg/brh/pkg/federation"
)

// Strategy defines the interface for leader election mechanisms. The
// federation strategy below computes the leader from observed peer
// liveness; alternate strategies (e.g. quorum-based) can be plugged in
// without touching the agent loop.
type Strategy interface {
	Start(ctx context.Context) error

	Stop() error

	IsLeader() bool

	GetLeader() (nodeID string, err error)

	ElectLeader(ctx context.Context, peers []federation.LivenessRecord) (string, error)

	Name() string
}
