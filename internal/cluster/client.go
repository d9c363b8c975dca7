// Package cluster is the narrow collaborator between the reaper and the
// Kubernetes API: listing candidate resources and issuing deletions.
package cluster

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/bryanpaget/tenant-reaper/internal/policy"
)

// Resource is one candidate for evaluation: identity, creation time and
// labels captured at list time. Owned is only meaningful for pods and marks
// a controller-managed pod, which is reclaimed transitively through its
// controller rather than directly.
type Resource struct {
	Kind      policy.Kind
	Namespace string
	Name      string
	Created   time.Time
	Labels    map[string]string
	Owned     bool
}

// Interface is what the run orchestrator needs from the cluster.
type Interface interface {
	ListControllers(ctx context.Context) ([]Resource, error)
	ListPods(ctx context.Context) ([]Resource, error)
	ListServices(ctx context.Context) ([]Resource, error)
	DeleteResource(ctx context.Context, kind policy.Kind, namespace, name string, force bool) error
	DeletePods(ctx context.Context, namespace string, names []string, force bool) error
}

// Client implements Interface over a typed clientset. Workload controllers
// are apps/v1 Deployments; deleting one transitively reaps its ReplicaSets
// and pods.
type Client struct {
	clientset   kubernetes.Interface
	callTimeout time.Duration
}

var _ Interface = (*Client)(nil)

// New wraps a clientset. Every mutation call is bounded by callTimeout so a
// hung deletion cannot stall the run; a non-positive timeout disables the
// bound.
func New(clientset kubernetes.Interface, callTimeout time.Duration) *Client {
	return &Client{clientset: clientset, callTimeout: callTimeout}
}

// NewClientset builds a clientset from the in-cluster config, falling back
// to the given kubeconfig path (or $KUBECONFIG, or ~/.kube/config) for
// local runs.
func NewClientset(kubeconfig string) (kubernetes.Interface, error) {
	config, err := rest.InClusterConfig()
	if err != nil {
		if kubeconfig == "" {
			kubeconfig = os.Getenv("KUBECONFIG")
		}
		if kubeconfig == "" {
			if home, err := os.UserHomeDir(); err == nil {
				kubeconfig = filepath.Join(home, ".kube", "config")
			}
		}
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("building cluster config: %w", err)
		}
	}
	client, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("creating kubernetes client: %w", err)
	}
	return client, nil
}

// AgeMinutes derives a resource's age, floored to whole minutes. A zero
// (unreadable) or future creation timestamp yields 0, which no threshold
// deletes: the fail-safe for bad metadata is to preserve.
func AgeMinutes(now, created time.Time) int64 {
	if created.IsZero() {
		return 0
	}
	d := now.Sub(created)
	if d < 0 {
		return 0
	}
	return int64(d / time.Minute)
}

func (c *Client) ListControllers(ctx context.Context) ([]Resource, error) {
	list, err := c.clientset.AppsV1().Deployments(metav1.NamespaceAll).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("listing deployments: %w", err)
	}
	out := make([]Resource, 0, len(list.Items))
	for _, d := range list.Items {
		out = append(out, Resource{
			Kind:      policy.KindController,
			Namespace: d.Namespace,
			Name:      d.Name,
			Created:   d.CreationTimestamp.Time,
			Labels:    d.Labels,
		})
	}
	return out, nil
}

func (c *Client) ListPods(ctx context.Context) ([]Resource, error) {
	list, err := c.clientset.CoreV1().Pods(metav1.NamespaceAll).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("listing pods: %w", err)
	}
	out := make([]Resource, 0, len(list.Items))
	for _, p := range list.Items {
		out = append(out, Resource{
			Kind:      policy.KindPod,
			Namespace: p.Namespace,
			Name:      p.Name,
			Created:   p.CreationTimestamp.Time,
			Labels:    p.Labels,
			Owned:     len(p.OwnerReferences) > 0,
		})
	}
	return out, nil
}

func (c *Client) ListServices(ctx context.Context) ([]Resource, error) {
	list, err := c.clientset.CoreV1().Services(metav1.NamespaceAll).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("listing services: %w", err)
	}
	out := make([]Resource, 0, len(list.Items))
	for _, s := range list.Items {
		out = append(out, Resource{
			Kind:      policy.KindService,
			Namespace: s.Namespace,
			Name:      s.Name,
			Created:   s.CreationTimestamp.Time,
			Labels:    s.Labels,
		})
	}
	return out, nil
}

// DeleteResource deletes one resource. NotFound is success: someone beat us
// to it.
func (c *Client) DeleteResource(ctx context.Context, kind policy.Kind, namespace, name string, force bool) error {
	ctx, cancel := c.mutationContext(ctx)
	defer cancel()

	opts := deleteOptions(force)
	var err error
	switch kind {
	case policy.KindController:
		err = c.clientset.AppsV1().Deployments(namespace).Delete(ctx, name, opts)
	case policy.KindPod:
		err = c.clientset.CoreV1().Pods(namespace).Delete(ctx, name, opts)
	case policy.KindService:
		err = c.clientset.CoreV1().Services(namespace).Delete(ctx, name, opts)
	default:
		return fmt.Errorf("unknown resource kind %q", kind)
	}
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("deleting %s %s/%s: %w", kind, namespace, name, err)
	}
	return nil
}

// DeletePods is the batched form: one collaborator call per chunk. Per-pod
// failures are aggregated so the caller sees the whole chunk's outcome.
func (c *Client) DeletePods(ctx context.Context, namespace string, names []string, force bool) error {
	ctx, cancel := c.mutationContext(ctx)
	defer cancel()

	opts := deleteOptions(force)
	var errs []error
	for _, name := range names {
		err := c.clientset.CoreV1().Pods(namespace).Delete(ctx, name, opts)
		if err != nil && !apierrors.IsNotFound(err) {
			errs = append(errs, fmt.Errorf("pod %s/%s: %w", namespace, name, err))
		}
	}
	return utilerrors.NewAggregate(errs)
}

func (c *Client) mutationContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.callTimeout)
}

func deleteOptions(force bool) metav1.DeleteOptions {
	if !force {
		return metav1.DeleteOptions{}
	}
	grace := int64(0)
	return metav1.DeleteOptions{GracePeriodSeconds: &grace}
}
