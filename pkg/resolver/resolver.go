package resolver

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/kswhitlock9493-jpg/brh/pkg/auth"
	"github.com/kswhitlock9493-jpg/brh/pkg/config"
	"github.com/kswhitlock9493-jpg/brh/pkg/federation"
	"github.com/kswhitlock9493-jpg/brh/pkg/metrics"
	"k8s.io/klog/v2"
)

// Resolver is the shared arbitration authority: it ingests heartbeats into
// the peer liveness store, arbitrates election reports with last-report-wins
// semantics, and answers leader queries. It is the single source of truth
// every node converges to.
//
// Arbitration is deliberately weakly consistent: the most recently received
// accepted report overwrites the authoritative leader, with no quorum check
// across reports from different nodes. The per-report epoch tie-break
// already reflects the reporting node's view of "most alive"; averaging
// conflicting views is out of scope. Writes are serialized behind a single
// lock so a torn overwrite cannot occur.
type Resolver struct {
	cfg           *config.ResolverConfig
	store         *PeerStore
	history       *History
	authenticator *auth.Authenticator
	metrics       *metrics.Metrics

	mu            sync.RWMutex
	currentLeader string
	lease         string
	updatedAt     time.Time

	// now is swappable in tests
	now func() time.Time
}

// New creates a resolver around an open consensus history.
func New(cfg *config.ResolverConfig, history *History, m *metrics.Metrics) *Resolver {
	return &Resolver{
		cfg:           cfg,
		store:         NewPeerStore(),
		history:       history,
		authenticator: auth.New(cfg.SharedSecret),
		metrics:       m,
		now:           time.Now,
	}
}

// Store exposes the peer liveness table.
func (r *Resolver) Store() *PeerStore {
	return r.store
}

// Leader returns the authoritative leader state.
func (r *Resolver) Leader() federation.LeaderResponse {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return federation.LeaderResponse{
		Leader:    r.currentLeader,
		Lease:     r.lease,
		UpdatedAt: r.updatedAt,
	}
}

// RecordHeartbeat validates and ingests one heartbeat. An invalid signature
// is rejected at the boundary with no state change.
func (r *Resolver) RecordHeartbeat(req federation.HeartbeatRequest) (federation.LivenessRecord, error) {
	if err := r.authenticator.VerifyPayload(req.NodeID, req.Epoch, req.Signature); err != nil {
		r.metrics.HeartbeatsTotal.WithLabelValues("rejected").Inc()
		return federation.LivenessRecord{}, err
	}

	status := req.Status
	if status == "" {
		status = federation.StatusAlive
	}

	rec := r.store.Upsert(req.NodeID, req.Epoch, status, req.Signature)
	r.metrics.HeartbeatsTotal.WithLabelValues("accepted").Inc()
	r.metrics.ActivePeers.Set(float64(len(r.store.ActivePeers(r.cfg.StalenessWindow))))

	klog.V(2).InfoS("Heartbeat recorded", "node", req.NodeID, "epoch", req.Epoch, "status", status)
	return rec, nil
}

// ApplyReport arbitrates one election report. The report signature is
// verified against the reporting node's identity; on success the
// authoritative leader is overwritten and a consensus record appended.
// A lease token is minted only when the leader actually changes.
func (r *Resolver) ApplyReport(report federation.ElectionReport) (federation.ConsensusResponse, error) {
	if err := r.authenticator.VerifyPayload(report.NodeID, report.Epoch, report.Signature); err != nil {
		r.metrics.ConsensusReportsTotal.WithLabelValues("rejected").Inc()
		return federation.ConsensusResponse{}, err
	}

	now := r.now()

	r.mu.Lock()
	changed := report.Leader != r.currentLeader
	r.currentLeader = report.Leader
	r.updatedAt = now
	if changed {
		r.lease = r.authenticator.SignPayload(report.Leader, now.Unix())
	}
	current := r.currentLeader
	r.mu.Unlock()

	if changed {
		r.metrics.LeaderChangesTotal.Inc()
		klog.InfoS("Authoritative leader changed", "leader", current, "reporter", report.NodeID)
	} else {
		klog.V(2).InfoS("Leader confirmed", "leader", current, "reporter", report.NodeID)
	}

	rec := federation.ConsensusRecord{
		Epoch:        report.Epoch,
		Leader:       report.Leader,
		Reporter:     report.NodeID,
		PeerSnapshot: report.Peers,
		ReceivedAt:   now,
	}
	if err := r.history.Append(rec); err != nil {
		// History is forensic; arbitration already succeeded
		klog.ErrorS(err, "Failed to append consensus record")
	}

	r.metrics.ConsensusReportsTotal.WithLabelValues("accepted").Inc()
	return federation.ConsensusResponse{Accepted: true, CurrentLeader: current}, nil
}

// Routes builds the resolver's HTTP mux. Read endpoints go through the
// header-auth middleware; heartbeat and consensus submissions carry their
// own payload signatures and are validated in the handlers.
func (r *Resolver) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/federation/heartbeat", r.handleHeartbeat)
	mux.HandleFunc("/federation/consensus", r.handleConsensus)
	mux.HandleFunc("/federation/leader", r.authenticator.Middleware(r.handleLeader))
	mux.HandleFunc("/federation/peers", r.authenticator.Middleware(r.handlePeers))
	mux.HandleFunc("/federation/history", r.authenticator.Middleware(r.handleHistory))
	mux.HandleFunc("/healthz", r.handleHealth)

	return mux
}

func (r *Resolver) handleHeartbeat(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var hb federation.HeartbeatRequest
	if err := json.NewDecoder(req.Body).Decode(&hb); err != nil {
		http.Error(w, "invalid heartbeat body", http.StatusBadRequest)
		return
	}
	if hb.NodeID == "" {
		http.Error(w, "node_id is required", http.StatusBadRequest)
		return
	}

	if _, err := r.RecordHeartbeat(hb); err != nil {
		klog.InfoS("Rejected heartbeat", "node", hb.NodeID, "error", err)
		http.Error(w, "authentication failed", http.StatusUnauthorized)
		return
	}

	writeJSON(w, federation.HeartbeatResponse{OK: true})
}

func (r *Resolver) handleConsensus(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var report federation.ElectionReport
	if err := json.NewDecoder(req.Body).Decode(&report); err != nil {
		http.Error(w, "invalid election report", http.StatusBadRequest)
		return
	}
	if report.NodeID == "" || report.Leader == "" {
		http.Error(w, "node_id and leader are required", http.StatusBadRequest)
		return
	}

	resp, err := r.ApplyReport(report)
	if err != nil {
		klog.InfoS("Rejected election report", "node", report.NodeID, "error", err)
		http.Error(w, "authentication failed", http.StatusUnauthorized)
		return
	}

	writeJSON(w, resp)
}

func (r *Resolver) handleLeader(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, r.Leader())
}

func (r *Resolver) handlePeers(w http.ResponseWriter, req *http.Request) {
	active := r.store.ActivePeers(r.cfg.StalenessWindow)
	r.metrics.ActivePeers.Set(float64(len(active)))
	writeJSON(w, active)
}

func (r *Resolver) handleHistory(w http.ResponseWriter, req *http.Request) {
	records, err := r.history.Recent(64)
	if err != nil {
		klog.ErrorS(err, "Failed to read consensus history")
		http.Error(w, "history unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, records)
}

func (r *Resolver) handleHealth(w http.ResponseWriter, req *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
