package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kswhitlock9493-jpg/brh/pkg/federation"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"
)

func deployRequest(t *testing.T, image string) *http.Request {
	t.Helper()
	body, err := json.Marshal(federation.DeployRequest{Image: image})
	if err != nil {
		t.Fatalf("Failed to encode request: %v", err)
	}
	return httptest.NewRequest(http.MethodPost, "/deploy", bytes.NewReader(body))
}

func decodeDeploy(t *testing.T, rec *httptest.ResponseRecorder) federation.DeployResponse {
	t.Helper()
	var resp federation.DeployResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return resp
}

func TestDeployGate(t *testing.T) {
	t.Run("witness ignores without touching the runtime", func(t *testing.T) {
		f := newFakeResolver(t)
		clientset := fake.NewSimpleClientset()
		touched := 0
		clientset.PrependReactor("*", "*", func(action k8stesting.Action) (bool, runtime.Object, error) {
			touched++
			return false, nil, nil
		})

		a := newTestAgent(t, "node-001", f.server.URL, clientset)
		if a.role.Role() != RoleWitness {
			t.Fatalf("Expected initial WITNESS role, got %s", a.role.Role())
		}

		rec := httptest.NewRecorder()
		a.handleDeploy(rec, deployRequest(t, "bridge/backend:v2"))

		// Not-leader is a policy outcome, not an error
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", rec.Code)
		}
		resp := decodeDeploy(t, rec)
		if resp.Status != federation.DeployStatusIgnored {
			t.Errorf("Expected status ignored, got %s", resp.Status)
		}
		if resp.Reason != federation.DeployReasonNotLeader {
			t.Errorf("Expected reason not-leader, got %s", resp.Reason)
		}
		if touched != 0 {
			t.Errorf("Witness contacted the container runtime %d times", touched)
		}
	})

	t.Run("role is re-checked per request", func(t *testing.T) {
		f := newFakeResolver(t)
		clientset := fake.NewSimpleClientset()
		a := newTestAgent(t, "node-001", f.server.URL, clientset)

		a.role.Apply("node-001", "lease-1")

		rec := httptest.NewRecorder()
		a.handleDeploy(rec, deployRequest(t, "bridge/backend:v2"))
		if decodeDeploy(t, rec).Status != federation.DeployStatusRestarted {
			t.Fatal("Expected leader to accept deploy")
		}

		// Demotion between requests flips the outcome without restart
		a.role.Apply("node-002", "lease-2")

		rec = httptest.NewRecorder()
		a.handleDeploy(rec, deployRequest(t, "bridge/backend:v2"))
		resp := decodeDeploy(t, rec)
		if resp.Status != federation.DeployStatusIgnored || resp.Reason != federation.DeployReasonNotLeader {
			t.Errorf("Expected ignored/not-leader after demotion, got %s/%s", resp.Status, resp.Reason)
		}
	})

	t.Run("leader restarts owned containers", func(t *testing.T) {
		f := newFakeResolver(t)
		clientset := fake.NewSimpleClientset(&corev1.Pod{
			ObjectMeta: metav1.ObjectMeta{
				Name:      "backend",
				Namespace: "bridge",
				Labels: map[string]string{
					"brh.service": "backend",
					"brh.owner":   "node-001",
				},
			},
		})

		a := newTestAgent(t, "node-001", f.server.URL, clientset)
		a.role.Apply("node-001", "lease-1")

		rec := httptest.NewRecorder()
		a.handleDeploy(rec, deployRequest(t, "bridge/backend:v2"))

		if rec.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", rec.Code)
		}
		resp := decodeDeploy(t, rec)
		if resp.Status != federation.DeployStatusRestarted {
			t.Errorf("Expected status restarted, got %s", resp.Status)
		}
		if resp.Restarted != 1 {
			t.Errorf("Expected 1 container restarted, got %d", resp.Restarted)
		}

		pod, err := clientset.CoreV1().Pods("bridge").Get(context.Background(), "backend", metav1.GetOptions{})
		if err != nil {
			t.Fatalf("Failed to get pod: %v", err)
		}
		if pod.Annotations["brh.restarted-at"] == "" {
			t.Error("Expected restart annotation after accepted deploy")
		}
	})

	t.Run("runtime failure is an error, not a policy outcome", func(t *testing.T) {
		f := newFakeResolver(t)
		clientset := fake.NewSimpleClientset(&corev1.Pod{
			ObjectMeta: metav1.ObjectMeta{
				Name:      "backend",
				Namespace: "bridge",
				Labels: map[string]string{
					"brh.service": "backend",
					"brh.owner":   "node-001",
				},
			},
		})
		clientset.PrependReactor("update", "pods", func(action k8stesting.Action) (bool, runtime.Object, error) {
			return true, nil, fmt.Errorf("simulated API failure")
		})

		a := newTestAgent(t, "node-001", f.server.URL, clientset)
		a.role.Apply("node-001", "lease-1")

		rec := httptest.NewRecorder()
		a.handleDeploy(rec, deployRequest(t, "bridge/backend:v2"))

		if rec.Code != http.StatusInternalServerError {
			t.Errorf("Expected status 500, got %d", rec.Code)
		}
	})

	t.Run("rejects non-POST", func(t *testing.T) {
		f := newFakeResolver(t)
		a := newTestAgent(t, "node-001", f.server.URL, nil)

		rec := httptest.NewRecorder()
		a.handleDeploy(rec, httptest.NewRequest(http.MethodGet, "/deploy", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("Expected status 405, got %d", rec.Code)
		}
	})
}

func TestStateEndpoint(t *testing.T) {
	f := newFakeResolver(t)
	a := newTestAgent(t, "node-001", f.server.URL, nil)
	a.role.Apply("node-002", "lease-1")

	rec := httptest.NewRecorder()
	a.handleState(rec, httptest.NewRequest(http.MethodGet, "/state", nil))

	var state NodeState
	if err := json.NewDecoder(rec.Body).Decode(&state); err != nil {
		t.Fatalf("Failed to decode state: %v", err)
	}
	if state.NodeID != "node-001" {
		t.Errorf("Expected node-001, got %s", state.NodeID)
	}
	if state.Role != RoleWitness {
		t.Errorf("Expected WITNESS, got %s", state.Role)
	}
	if state.Leader != "node-002" {
		t.Errorf("Expected leader node-002, got %s", state.Leader)
	}
	if !state.Witness {
		t.Error("Expected witness flag set")
	}
}
