package resolver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/kswhitlock9493-jpg/brh/pkg/auth"
	"github.com/kswhitlock9493-jpg/brh/pkg/config"
	"github.com/kswhitlock9493-jpg/brh/pkg/federation"
	"github.com/kswhitlock9493-jpg/brh/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "integration-test-seal"

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()

	cfg := &config.ResolverConfig{
		ListenAddr:      ":0",
		SharedSecret:    testSecret,
		StalenessWindow: 300 * time.Second,
		HistoryPath:     filepath.Join(t.TempDir(), "consensus.db"),
		HistoryRetain:   64,
	}
	require.NoError(t, cfg.Validate())

	history, err := OpenHistory(cfg.HistoryPath, cfg.HistoryRetain)
	require.NoError(t, err)
	t.Cleanup(func() { history.Close() })

	return New(cfg, history, metrics.New(prometheus.NewRegistry()))
}

func signedHeartbeat(nodeID string, epoch int64) federation.HeartbeatRequest {
	a := auth.New(testSecret)
	return federation.HeartbeatRequest{
		NodeID:    nodeID,
		Epoch:     epoch,
		Status:    federation.StatusAlive,
		Signature: a.SignPayload(nodeID, epoch),
	}
}

func signedReport(nodeID string, epoch int64, leader string, peers []federation.LivenessRecord) federation.ElectionReport {
	a := auth.New(testSecret)
	return federation.ElectionReport{
		NodeID:    nodeID,
		Epoch:     epoch,
		Leader:    leader,
		Peers:     peers,
		Signature: a.SignPayload(nodeID, epoch),
	}
}

func postJSON(t *testing.T, handler http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestHeartbeatEndpoint(t *testing.T) {
	r := newTestResolver(t)
	routes := r.Routes()

	t.Run("valid heartbeat accepted", func(t *testing.T) {
		w := postJSON(t, routes, "/federation/heartbeat", signedHeartbeat("node-001", 1000))
		require.Equal(t, http.StatusOK, w.Code)

		var resp federation.HeartbeatResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.True(t, resp.OK)

		rec, ok := r.Store().Get("node-001")
		require.True(t, ok)
		assert.Equal(t, int64(1000), rec.Epoch)
		assert.False(t, rec.LastSeen.IsZero(), "last_seen must be resolver-stamped")
	})

	t.Run("garbage signature rejected without state change", func(t *testing.T) {
		hb := signedHeartbeat("node-garbage", 1000)
		hb.Signature = "garbage"

		w := postJSON(t, routes, "/federation/heartbeat", hb)
		assert.Equal(t, http.StatusUnauthorized, w.Code)

		_, ok := r.Store().Get("node-garbage")
		assert.False(t, ok, "rejected heartbeat must not create a liveness record")
	})

	t.Run("missing node id rejected", func(t *testing.T) {
		w := postJSON(t, routes, "/federation/heartbeat", federation.HeartbeatRequest{Epoch: 1})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("get not allowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/federation/heartbeat", nil)
		w := httptest.NewRecorder()
		routes.ServeHTTP(w, req)
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	})
}

func TestConsensusArbitration(t *testing.T) {
	r := newTestResolver(t)
	routes := r.Routes()

	t.Run("accepted report sets leader", func(t *testing.T) {
		w := postJSON(t, routes, "/federation/consensus", signedReport("node-001", 1000, "node-002", nil))
		require.Equal(t, http.StatusOK, w.Code)

		var resp federation.ConsensusResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.True(t, resp.Accepted)
		assert.Equal(t, "node-002", resp.CurrentLeader)
	})

	t.Run("last report wins regardless of epoch", func(t *testing.T) {
		// Higher epoch first, then an older-epoch report: receipt order
		// decides, not epoch.
		postJSON(t, routes, "/federation/consensus", signedReport("node-001", 5000, "node-005", nil))
		w := postJSON(t, routes, "/federation/consensus", signedReport("node-002", 4000, "node-004", nil))
		require.Equal(t, http.StatusOK, w.Code)

		assert.Equal(t, "node-004", r.Leader().Leader)
	})

	t.Run("bad signature rejected", func(t *testing.T) {
		before := r.Leader().Leader

		report := signedReport("node-003", 9000, "node-003", nil)
		report.Signature = "forged"
		w := postJSON(t, routes, "/federation/consensus", report)
		assert.Equal(t, http.StatusUnauthorized, w.Code)

		assert.Equal(t, before, r.Leader().Leader, "rejected report must not change the leader")
	})

	t.Run("history records accepted reports", func(t *testing.T) {
		records, err := r.history.Recent(10)
		require.NoError(t, err)
		require.NotEmpty(t, records)
		assert.Equal(t, "node-004", records[0].Leader)
	})
}

func TestLeaseIssuedOnChangeOnly(t *testing.T) {
	r := newTestResolver(t)
	routes := r.Routes()

	postJSON(t, routes, "/federation/consensus", signedReport("node-001", 1000, "node-001", nil))
	first := r.Leader()
	require.NotEmpty(t, first.Lease)

	// Same leader reconfirmed: lease stays stable
	postJSON(t, routes, "/federation/consensus", signedReport("node-002", 1001, "node-001", nil))
	assert.Equal(t, first.Lease, r.Leader().Lease)

	// Leader changes: new lease
	postJSON(t, routes, "/federation/consensus", signedReport("node-002", 1002, "node-002", nil))
	assert.NotEqual(t, first.Lease, r.Leader().Lease)
}

func TestLeaderAndPeersEndpoints(t *testing.T) {
	r := newTestResolver(t)
	routes := r.Routes()
	a := auth.New(testSecret)

	postJSON(t, routes, "/federation/heartbeat", signedHeartbeat("node-001", 1000))
	postJSON(t, routes, "/federation/heartbeat", signedHeartbeat("node-002", 2000))
	postJSON(t, routes, "/federation/consensus", signedReport("node-001", 1000, "node-002", nil))

	t.Run("leader query", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/federation/leader", nil)
		require.NoError(t, a.SignRequest(req))
		w := httptest.NewRecorder()
		routes.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		var resp federation.LeaderResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, "node-002", resp.Leader)
		assert.NotEmpty(t, resp.Lease)
	})

	t.Run("peers query returns active set", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/federation/peers", nil)
		require.NoError(t, a.SignRequest(req))
		w := httptest.NewRecorder()
		routes.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		var peers []federation.LivenessRecord
		require.NoError(t, json.NewDecoder(w.Body).Decode(&peers))
		assert.Len(t, peers, 2)
	})

	t.Run("unsigned read rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/federation/leader", nil)
		w := httptest.NewRecorder()
		routes.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("history query", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/federation/history", nil)
		require.NoError(t, a.SignRequest(req))
		w := httptest.NewRecorder()
		routes.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		var records []federation.ConsensusRecord
		require.NoError(t, json.NewDecoder(w.Body).Decode(&records))
		assert.NotEmpty(t, records)
	})
}

func TestStalePeersExcludedFromPeersEndpoint(t *testing.T) {
	r := newTestResolver(t)
	routes := r.Routes()
	a := auth.New(testSecret)

	base := time.Now()
	r.Store().now = func() time.Time { return base }
	postJSON(t, routes, "/federation/heartbeat", signedHeartbeat("node-old", 1000))

	r.Store().now = func() time.Time { return base.Add(400 * time.Second) }
	postJSON(t, routes, "/federation/heartbeat", signedHeartbeat("node-new", 2000))

	req := httptest.NewRequest(http.MethodGet, "/federation/peers", nil)
	require.NoError(t, a.SignRequest(req))
	w := httptest.NewRecorder()
	routes.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var peers []federation.LivenessRecord
	require.NoError(t, json.NewDecoder(w.Body).Decode(&peers))
	require.Len(t, peers, 1)
	assert.Equal(t, "node-new", peers[0].NodeID)
}
