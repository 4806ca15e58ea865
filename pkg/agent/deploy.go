package agent

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kswhitlock9493-jpg/brh/pkg/events"
	"github.com/kswhitlock9493-jpg/brh/pkg/federation"
	"k8s.io/klog/v2"
)

// NodeState is served on GET /state for peer and operator inspection.
type NodeState struct {
	NodeID      string    `json:"node_id"`
	Role        Role      `json:"role"`
	Leader      string    `json:"leader"`
	Epoch       int64     `json:"epoch"`
	Witness     bool      `json:"witness"`
	StartupTime time.Time `json:"startup_time"`
}

func (a *Agent) setupHTTPServer() {
	mux := http.NewServeMux()

	mux.HandleFunc("/deploy", a.authenticator.Middleware(a.handleDeploy))
	mux.HandleFunc("/state", a.authenticator.Middleware(a.handleState))
	mux.HandleFunc("/healthz", a.handleHealth)

	a.httpServer = &http.Server{
		Addr:    a.cfg.ListenAddr,
		Handler: mux,
	}
}

// handleDeploy is the deploy gate: the role check here, re-evaluated on
// every request, is what prevents concurrent conflicting deploys across
// nodes - the election protocol only elects, it does not enforce. A witness
// answers with a structured policy outcome, not an error, so callers can
// tell "not the leader" apart from transport or auth failures.
func (a *Agent) handleDeploy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req federation.DeployRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid deploy request", http.StatusBadRequest)
		return
	}

	if a.role.Role() != RoleLeader || a.controller == nil {
		klog.InfoS("Deploy request ignored", "image", req.Image, "role", a.role.Role())
		a.metrics.DeployRequestsTotal.WithLabelValues(federation.DeployStatusIgnored).Inc()
		writeJSON(w, federation.DeployResponse{
			Status: federation.DeployStatusIgnored,
			Reason: federation.DeployReasonNotLeader,
		})
		return
	}

	restarted, err := a.controller.RestartOwned(r.Context(), req.Image)
	if err != nil {
		klog.ErrorS(err, "Redeploy failed", "image", req.Image)
		a.metrics.DeployRequestsTotal.WithLabelValues("error").Inc()
		http.Error(w, "redeploy failed", http.StatusInternalServerError)
		return
	}

	klog.InfoS("Redeploy accepted", "image", req.Image, "restarted", restarted)
	a.metrics.DeployRequestsTotal.WithLabelValues(federation.DeployStatusRestarted).Inc()
	a.sink.Publish(r.Context(), events.Event{
		Type:   events.TypeDeploy,
		Node:   a.cfg.NodeID,
		Detail: fmt.Sprintf("restarted %d containers (image %s)", restarted, req.Image),
	})

	writeJSON(w, federation.DeployResponse{
		Status:    federation.DeployStatusRestarted,
		Image:     req.Image,
		Restarted: restarted,
	})
}

func (a *Agent) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, NodeState{
		NodeID:      a.cfg.NodeID,
		Role:        a.role.Role(),
		Leader:      a.role.Leader(),
		Epoch:       a.currentEpoch(),
		Witness:     a.cfg.Witness,
		StartupTime: a.startupTime,
	})
}

func (a *Agent) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
