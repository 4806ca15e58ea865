package agent

import "sync"

// Role is a node's local view of its own authority.
type Role string

const (
	// RoleWitness is the initial role: observe, heartbeat, elect, but hold
	// no redeploy authority.
	RoleWitness Role = "WITNESS"
	// RoleLeader holds exclusive redeploy authority over the managed set.
	RoleLeader Role = "LEADER"
)

// Transition describes the outcome of applying a leader-poll response.
type Transition int

const (
	TransitionNone Transition = iota
	TransitionPromoted
	TransitionDemoted
)

// RoleState is the per-node role machine. It is written by the leader-poll
// task and read concurrently by the deploy gate, so all access goes through
// the lock. Poll failures never touch it: the node fails safe to its last
// known role rather than guessing.
type RoleState struct {
	selfID string

	mu       sync.RWMutex
	role     Role
	leaderID string
	lease    string
}

// NewRoleState starts as WITNESS with no known leader.
func NewRoleState(selfID string) *RoleState {
	return &RoleState{
		selfID: selfID,
		role:   RoleWitness,
	}
}

// Role returns the current role.
func (s *RoleState) Role() Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.role
}

// Leader returns the last known authoritative leader.
func (s *RoleState) Leader() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.leaderID
}

// Lease returns the last lease token received with a leader announcement.
func (s *RoleState) Lease() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lease
}

// Apply folds one authoritative leader announcement into the state machine
// and reports the resulting transition. Announcements matching the current
// role are no-ops.
func (s *RoleState) Apply(leaderID, lease string) Transition {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.leaderID = leaderID
	s.lease = lease

	switch {
	case leaderID == s.selfID && s.role == RoleWitness:
		s.role = RoleLeader
		return TransitionPromoted
	case leaderID != s.selfID && s.role == RoleLeader:
		s.role = RoleWitness
		return TransitionDemoted
	default:
		return TransitionNone
	}
}
