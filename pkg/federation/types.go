package federation

import "time"

// NodeStatus is the self-reported liveness of a node.
type NodeStatus string

const (
	// StatusAlive is the normal self-reported status.
	StatusAlive NodeStatus = "alive"
	// StatusSuspect marks a node that considers itself degraded but still
	// participates in heartbeats and elections.
	StatusSuspect NodeStatus = "suspect"
)

// LivenessRecord is one node's heartbeat fact as held by the resolver.
// LastSeen is always resolver-assigned, never taken from the sender, so a
// node cannot claim artificial freshness.
type LivenessRecord struct {
	NodeID    string     `json:"node_id"`
	Epoch     int64      `json:"epoch"`
	Signature string     `json:"signature"`
	Status    NodeStatus `json:"status"`
	LastSeen  time.Time  `json:"last_seen"`
}

// HeartbeatRequest is the body of POST /federation/heartbeat.
type HeartbeatRequest struct {
	NodeID    string     `json:"node_id"`
	Epoch     int64      `json:"epoch"`
	Status    NodeStatus `json:"status"`
	Signature string     `json:"signature"`
}

// HeartbeatResponse acknowledges an accepted heartbeat.
type HeartbeatResponse struct {
	OK bool `json:"ok"`
}

// ElectionReport is the body of POST /federation/consensus. NodeID
// identifies the reporting node so the resolver can verify the signature;
// Peers is the reporter's view of the active peer set at election time.
type ElectionReport struct {
	NodeID    string           `json:"node_id"`
	Epoch     int64            `json:"epoch"`
	Leader    string           `json:"leader"`
	Peers     []LivenessRecord `json:"peers"`
	Signature string           `json:"signature"`
}

// ConsensusResponse is returned for an accepted election report.
type ConsensusResponse struct {
	Accepted      bool   `json:"accepted"`
	CurrentLeader string `json:"current_leader"`
}

// LeaderResponse is the body of GET /federation/leader. Lease is minted by
// the resolver whenever the leader changes and stays stable otherwise.
type LeaderResponse struct {
	Leader    string    `json:"leader"`
	Lease     string    `json:"lease"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConsensusRecord is one entry of the resolver's append-only consensus
// history. Entries are never mutated; bounded retention trims the oldest.
type ConsensusRecord struct {
	Epoch        int64            `json:"epoch"`
	Leader       string           `json:"leader"`
	Reporter     string           `json:"reporter"`
	PeerSnapshot []LivenessRecord `json:"peer_snapshot"`
	ReceivedAt   time.Time        `json:"received_at"`
}

// DeployRequest is the body of POST /deploy on the node agent.
type DeployRequest struct {
	Image string `json:"image"`
}

// DeployResponse distinguishes the not-leader policy outcome from real
// errors: a witness answers 200 with status "ignored", transport and auth
// failures surface as non-200.
type DeployResponse struct {
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	Image     string `json:"image,omitempty"`
	Restarted int    `json:"restarted,omitempty"`
}

const (
	DeployStatusRestarted = "restarted"
	DeployStatusIgnored   = "ignored"
	DeployReasonNotLeader = "not-leader"
)
