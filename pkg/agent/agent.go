package agent

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/kswhitlock9493-jpg/brh/pkg/auth"
	"github.com/kswhitlock9493-jpg/brh/pkg/config"
	"github.com/kswhitlock9493-jpg/brh/pkg/election"
	"github.com/kswhitlock9493-jpg/brh/pkg/events"
	"github.com/kswhitlock9493-jpg/brh/pkg/federation"
	"github.com/kswhitlock9493-jpg/brh/pkg/handover"
	"github.com/kswhitlock9493-jpg/brh/pkg/metrics"
	"github.com/kswhitlock9493-jpg/brh/pkg/resolver"
	"k8s.io/client-go/kubernetes"
	"k8s.io/klog/v2"
)

// Agent runs one federation node: three periodic tasks (heartbeat emitter,
// election engine, leader poll) over a shared RoleState, plus the deploy
// gate HTTP surface. All cross-node coordination goes through the resolver;
// the tasks share nothing but the local role state, which is lock-protected
// because the deploy gate reads it concurrently.
type Agent struct {
	cfg        *config.Config
	client     *resolver.Client
	strategy   election.Strategy
	controller *handover.Controller
	sink       events.Sink
	metrics    *metrics.Metrics

	authenticator *auth.Authenticator
	role          *RoleState
	startupTime   time.Time

	mu        sync.Mutex
	epoch     int64
	lastPeers []string

	httpServer *http.Server
}

// New creates an agent. kubeClient may be nil in witness mode, where the
// node participates in heartbeats and elections without managing
// containers.
func New(cfg *config.Config, kubeClient kubernetes.Interface, sink events.Sink, m *metrics.Metrics) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	authenticator := auth.New(cfg.SharedSecret)
	if !authenticator.Enabled() {
		klog.Warning("No shared secret configured - peer authentication disabled (not recommended for production)")
	}

	// Request timeouts stay at half the shortest period that uses them
	client := resolver.NewClient(cfg.ResolverURL, authenticator, cfg.LeaderPollInterval/2)

	var controller *handover.Controller
	if cfg.Witness {
		klog.InfoS("Running in witness mode", "node", cfg.NodeID)
	} else {
		if kubeClient == nil {
			return nil, fmt.Errorf("kubernetes client is required unless running as witness")
		}
		controller = handover.New(kubeClient, cfg.Namespace, cfg.LabelSelector, cfg.NodeID, sink, m, cfg.Debug)
	}

	a := &Agent{
		cfg:           cfg,
		client:        client,
		strategy:      election.NewFederationStrategy(cfg.NodeID, cfg.Debug),
		controller:    controller,
		sink:          sink,
		metrics:       m,
		authenticator: authenticator,
		role:          NewRoleState(cfg.NodeID),
		startupTime:   time.Now(),
	}

	a.setupHTTPServer()

	return a, nil
}

// Role exposes the node's role state (read by the deploy gate and tests).
func (a *Agent) Role() *RoleState {
	return a.role
}

// Run drives the three periodic tasks until ctx is cancelled. Each tick is
// independently idempotent: a failed or partially-sent request is simply
// superseded by the next tick, so there is no retry queue.
func (a *Agent) Run(ctx context.Context) error {
	klog.InfoS("Starting federation agent",
		"node", a.cfg.NodeID,
		"resolver", a.cfg.ResolverURL,
		"heartbeatInterval", a.cfg.HeartbeatInterval,
		"consensusInterval", a.cfg.ConsensusInterval,
		"leaderPollInterval", a.cfg.LeaderPollInterval,
		"witness", a.cfg.Witness)

	if err := a.strategy.Start(ctx); err != nil {
		return fmt.Errorf("failed to start election strategy: %w", err)
	}

	go func() {
		klog.InfoS("Starting HTTP server", "listen", a.cfg.ListenAddr)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			klog.ErrorS(err, "HTTP server error")
		}
	}()

	// Optional startup jitter so a fleet restarted together does not
	// heartbeat in lockstep.
	if a.cfg.HeartbeatJitter {
		jitter := time.Duration(rand.Int63n(int64(a.cfg.HeartbeatInterval / 10)))
		klog.V(2).InfoS("Applying heartbeat jitter", "delay", jitter)
		select {
		case <-time.After(jitter):
		case <-ctx.Done():
			return a.shutdown()
		}
	}

	heartbeat := time.NewTicker(a.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	consensus := time.NewTicker(a.cfg.ConsensusInterval)
	defer consensus.Stop()
	poll := time.NewTicker(a.cfg.LeaderPollInterval)
	defer poll.Stop()

	// Establish liveness before the first tick fires
	a.heartbeatTick(ctx)

	for {
		select {
		case <-ctx.Done():
			klog.Info("Context cancelled, shutting down")
			return a.shutdown()
		case <-heartbeat.C:
			a.heartbeatTick(ctx)
		case <-consensus.C:
			a.electionTick(ctx)
		case <-poll.C:
			a.pollTick(ctx)
		}
	}
}

// nextEpoch refreshes the local epoch from the wall clock without ever
// letting it decrease between consecutive ticks.
func (a *Agent) nextEpoch() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	e := time.Now().Unix()
	if e < a.epoch {
		e = a.epoch
	}
	a.epoch = e
	return e
}

func (a *Agent) currentEpoch() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.epoch
}

// heartbeatTick emits one signed liveness assertion. Failures are logged
// and dropped; the next tick supersedes.
func (a *Agent) heartbeatTick(ctx context.Context) {
	epoch := a.nextEpoch()

	hb := federation.HeartbeatRequest{
		NodeID:    a.cfg.NodeID,
		Epoch:     epoch,
		Status:    federation.StatusAlive,
		Signature: a.authenticator.SignPayload(a.cfg.NodeID, epoch),
	}

	if err := a.client.Heartbeat(ctx, hb); err != nil {
		klog.ErrorS(err, "Heartbeat failed", "epoch", epoch)
		a.metrics.TickFailuresTotal.WithLabelValues("heartbeat").Inc()
		return
	}

	klog.V(2).InfoS("Heartbeat sent", "epoch", epoch)
}

// electionTick fetches the active peer set, computes the deterministic
// leader, and reports the result to the resolver.
func (a *Agent) electionTick(ctx context.Context) {
	peers, err := a.client.Peers(ctx)
	if err != nil {
		klog.ErrorS(err, "Failed to fetch peer set")
		a.metrics.TickFailuresTotal.WithLabelValues("election").Inc()
		return
	}

	// The resolver already filters by its own staleness window; filter
	// again locally so a misconfigured resolver cannot widen ours.
	active := peers[:0]
	cutoff := time.Now().Add(-a.cfg.StalenessWindow)
	for _, p := range peers {
		if p.LastSeen.After(cutoff) {
			active = append(active, p)
		}
	}

	leader, err := a.strategy.ElectLeader(ctx, active)
	if err != nil {
		klog.ErrorS(err, "Election failed")
		a.metrics.TickFailuresTotal.WithLabelValues("election").Inc()
		return
	}

	ids := make([]string, 0, len(active))
	for _, p := range active {
		ids = append(ids, p.NodeID)
	}
	a.mu.Lock()
	a.lastPeers = ids
	a.mu.Unlock()

	epoch := a.currentEpoch()
	report := federation.ElectionReport{
		NodeID:    a.cfg.NodeID,
		Epoch:     epoch,
		Leader:    leader,
		Peers:     active,
		Signature: a.authenticator.SignPayload(a.cfg.NodeID, epoch),
	}

	resp, err := a.client.SubmitReport(ctx, report)
	if err != nil {
		klog.ErrorS(err, "Failed to submit election report", "proposed", leader)
		a.metrics.TickFailuresTotal.WithLabelValues("election").Inc()
		return
	}

	klog.InfoS("Election report accepted",
		"proposed", leader,
		"authoritative", resp.CurrentLeader,
		"peers", len(active))
}

// pollTick reads the authoritative leader and drives the role state
// machine. On any poll failure the role is retained unchanged - the node
// fails safe to its last known role rather than guessing, including during
// a total resolver outage.
func (a *Agent) pollTick(ctx context.Context) {
	lr, err := a.client.Leader(ctx)
	if err != nil {
		klog.V(2).InfoS("Leader poll failed, retaining role",
			"role", a.role.Role(), "error", err)
		a.metrics.TickFailuresTotal.WithLabelValues("poll").Inc()
		return
	}

	if lr.Leader == "" {
		// Resolver has no leader yet; nothing to converge to
		return
	}

	switch a.role.Apply(lr.Leader, lr.Lease) {
	case TransitionPromoted:
		klog.InfoS("Promoted to leader", "node", a.cfg.NodeID, "lease", truncate(lr.Lease, 8))
		a.metrics.RoleTransitionsTotal.WithLabelValues("promoted").Inc()
		a.sink.Publish(ctx, events.Event{
			Type:   events.TypePromoted,
			Node:   a.cfg.NodeID,
			Leader: lr.Leader,
		})
		a.runHandover(ctx, true)
	case TransitionDemoted:
		klog.InfoS("Demoted to witness", "node", a.cfg.NodeID, "leader", lr.Leader)
		a.metrics.RoleTransitionsTotal.WithLabelValues("demoted").Inc()
		a.sink.Publish(ctx, events.Event{
			Type:   events.TypeDemoted,
			Node:   a.cfg.NodeID,
			Leader: lr.Leader,
		})
		a.runHandover(ctx, false)
	default:
		klog.V(2).InfoS("Role unchanged", "role", a.role.Role(), "leader", lr.Leader)
	}
}

// runHandover transfers container ownership after a role transition.
// Partial handover failures are logged but never abort the transition
// itself; the role has already changed.
func (a *Agent) runHandover(ctx context.Context, promotion bool) {
	if a.controller == nil {
		klog.V(2).Info("Witness mode: skipping container handover")
		return
	}

	a.mu.Lock()
	peers := make([]string, len(a.lastPeers))
	copy(peers, a.lastPeers)
	a.mu.Unlock()

	var err error
	if promotion {
		err = a.controller.Adopt(ctx, peers)
	} else {
		err = a.controller.Relinquish(ctx)
	}
	if err != nil {
		klog.ErrorS(err, "Handover completed with failures", "promotion", promotion)
	}
}

// shutdown gracefully stops the election strategy and HTTP server.
func (a *Agent) shutdown() error {
	klog.Info("Shutting down federation agent")

	if err := a.strategy.Stop(); err != nil {
		klog.ErrorS(err, "Failed to stop election strategy")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(ctx); err != nil {
		klog.ErrorS(err, "Failed to shutdown HTTP server")
	}

	if err := a.sink.Close(); err != nil {
		klog.ErrorS(err, "Failed to close event sink")
	}

	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
