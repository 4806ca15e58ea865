package handover

import (
	"context"
	"fmt"
	"time"

	"github.com/kswhitlock9493-jpg/brh/pkg/events"
	"github.com/kswhitlock9493-jpg/brh/pkg/metrics"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/klog/v2"
)

const (
	// OwnerLabel marks which node holds redeploy authority over a managed
	// container. Ownership transfer moves only this label; the workload
	// itself keeps running, which is what makes handover zero-downtime.
	OwnerLabel = "brh.owner"

	// RestartedAtAnnotation is bumped to trigger a redeploy of an owned
	// workload.
	RestartedAtAnnotation = "brh.restarted-at"

	// ImageAnnotation records the image requested by the last accepted
	// deploy.
	ImageAnnotation = "brh.image"
)

// Controller transfers exclusive ownership labels over the managed workload
// set on role transitions. It never creates or destroys workloads; lifecycle
// belongs to the container runtime.
type Controller struct {
	kubeClient    kubernetes.Interface
	namespace     string
	labelSelector string
	nodeID        string
	sink          events.Sink
	metrics       *metrics.Metrics
	debug         bool
}

// New creates a handover controller for the pods matching labelSelector.
func New(kubeClient kubernetes.Interface, namespace, labelSelector, nodeID string, sink events.Sink, m *metrics.Metrics, debug bool) *Controller {
	return &Controller{
		kubeClient:    kubeClient,
		namespace:     namespace,
		labelSelector: labelSelector,
		nodeID:        nodeID,
		sink:          sink,
		metrics:       m,
		debug:         debug,
	}
}

// Adopt claims every managed container that is orphaned (no owner label) or
// owned by a node absent from activePeers. Idempotent: containers already
// owned by this node are left untouched, so running it twice produces the
// same end state. One container's failure never aborts the loop over the
// rest.
func (c *Controller) Adopt(ctx context.Context, activePeers []string) error {
	active := make(map[string]bool, len(activePeers))
	for _, id := range activePeers {
		active[id] = true
	}
	// Own ownership is always current
	active[c.nodeID] = true

	pods, err := c.kubeClient.CoreV1().Pods(c.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: c.labelSelector,
	})
	if err != nil {
		return fmt.Errorf("failed to list managed containers: %w", err)
	}

	adopted := 0
	failed := 0
	for i := range pods.Items {
		pod := &pods.Items[i]
		owner := pod.Labels[OwnerLabel]

		if owner == c.nodeID {
			continue
		}
		if owner != "" && active[owner] {
			// Owned by a live peer; not ours to take
			if c.debug {
				klog.InfoS("Skipping container owned by live peer",
					"container", pod.Name, "owner", owner)
			}
			continue
		}

		if pod.Labels == nil {
			pod.Labels = make(map[string]string)
		}
		pod.Labels[OwnerLabel] = c.nodeID

		if _, err := c.kubeClient.CoreV1().Pods(c.namespace).Update(ctx, pod, metav1.UpdateOptions{}); err != nil {
			klog.ErrorS(err, "Failed to adopt container", "container", pod.Name, "previousOwner", owner)
			c.metrics.HandoverFailures.WithLabelValues("adopt").Inc()
			failed++
			continue
		}

		klog.InfoS("Adopted container", "container", pod.Name, "previousOwner", owner)
		adopted++
	}

	c.sink.Publish(ctx, events.Event{
		Type:   events.TypeHandoverResult,
		Node:   c.nodeID,
		Detail: fmt.Sprintf("adopt: %d adopted, %d failed of %d managed", adopted, failed, len(pods.Items)),
	})

	if failed > 0 {
		return fmt.Errorf("adoption incomplete: %d of %d label updates failed", failed, adopted+failed)
	}
	return nil
}

// Relinquish clears the owner label on every managed container owned by
// this node. The workload keeps running; only redeploy authority moves.
func (c *Controller) Relinquish(ctx context.Context) error {
	pods, err := c.kubeClient.CoreV1().Pods(c.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: c.labelSelector,
	})
	if err != nil {
		return fmt.Errorf("failed to list managed containers: %w", err)
	}

	released := 0
	failed := 0
	for i := range pods.Items {
		pod := &pods.Items[i]
		if pod.Labels[OwnerLabel] != c.nodeID {
			continue
		}

		delete(pod.Labels, OwnerLabel)

		if _, err := c.kubeClient.CoreV1().Pods(c.namespace).Update(ctx, pod, metav1.UpdateOptions{}); err != nil {
			klog.ErrorS(err, "Failed to release container", "container", pod.Name)
			c.metrics.HandoverFailures.WithLabelValues("relinquish").Inc()
			failed++
			continue
		}

		klog.InfoS("Released container", "container", pod.Name)
		released++
	}

	c.sink.Publish(ctx, events.Event{
		Type:   events.TypeHandoverResult,
		Node:   c.nodeID,
		Detail: fmt.Sprintf("relinquish: %d released, %d failed", released, failed),
	})

	if failed > 0 {
		return fmt.Errorf("release incomplete: %d of %d label updates failed", failed, released+failed)
	}
	return nil
}

// RestartOwned bumps the restart annotation on every container owned by
// this node, recording the requested image. Returns how many containers
// were touched.
func (c *Controller) RestartOwned(ctx context.Context, image string) (int, error) {
	pods, err := c.kubeClient.CoreV1().Pods(c.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: c.labelSelector,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list managed containers: %w", err)
	}

	restarted := 0
	failed := 0
	now := time.Now().UTC().Format(time.RFC3339)
	for i := range pods.Items {
		pod := &pods.Items[i]
		if pod.Labels[OwnerLabel] != c.nodeID {
			continue
		}

		if pod.Annotations == nil {
			pod.Annotations = make(map[string]string)
		}
		pod.Annotations[RestartedAtAnnotation] = now
		if image != "" {
			pod.Annotations[ImageAnnotation] = image
		}

		if _, err := c.kubeClient.CoreV1().Pods(c.namespace).Update(ctx, pod, metav1.UpdateOptions{}); err != nil {
			klog.ErrorS(err, "Failed to restart container", "container", pod.Name)
			failed++
			continue
		}

		klog.InfoS("Restart triggered", "container", pod.Name, "image", image)
		restarted++
	}

	if failed > 0 {
		return restarted, fmt.Errorf("redeploy incomplete: %d of %d containers failed", failed, restarted+failed)
	}
	return restarted, nil
}
