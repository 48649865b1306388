package kube

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"
	typedappsv1 "k8s.io/client-go/kubernetes/typed/apps/v1"
	"k8s.io/client-go/util/retry"

	"github.com/artpar/rollout/internal/core/deployment"
	"github.com/artpar/rollout/internal/core/domain"
	"github.com/artpar/rollout/internal/core/monitoring"
	"github.com/artpar/rollout/internal/shell/driver"
)

// RevisionAnnotation is the revision number the deployment controller
// stamps on Deployments and their ReplicaSets.
const RevisionAnnotation = "deployment.kubernetes.io/revision"

// errProgressDeadline ends a rollout wait early.
var errProgressDeadline = errors.New("progress deadline exceeded")

// =============================================================================
// Driver
// =============================================================================

// Driver implements driver.Driver for one Kubernetes namespace.
type Driver struct {
	client    kubernetes.Interface
	namespace string
	config    Config
	logger    *slog.Logger
}

var _ driver.Driver = (*Driver)(nil)

// NewDriver creates a Kubernetes driver for namespace.
func NewDriver(client kubernetes.Interface, namespace string, config Config, logger *slog.Logger) *Driver {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultConfig().PollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		client:    client,
		namespace: namespace,
		config:    config,
		logger:    logger.With("component", "kube_driver", "namespace", namespace),
	}
}

func (d *Driver) Platform() domain.Platform { return domain.PlatformClusterOrchestrator }

func (d *Driver) deployments() typedappsv1.DeploymentInterface {
	return d.client.AppsV1().Deployments(d.namespace)
}

// =============================================================================
// Apply
// =============================================================================

// ApplyWorkload creates the Deployment for spec or updates its replicas and
// pod template. The Service of the workload's service is created on first
// apply and never modified afterwards.
func (d *Driver) ApplyWorkload(ctx context.Context, spec domain.WorkloadSpec) error {
	op := driver.OpApplyWorkload
	desired := deployment.BuildDeployment(d.namespace, spec)

	_, err := d.deployments().Create(ctx, desired, metav1.CreateOptions{})
	switch {
	case err == nil:
		d.logger.Info("deployment created", "workload", spec.Name, "image", spec.Image, "replicas", spec.Replicas)
	case apierrors.IsAlreadyExists(err):
		err = d.update(ctx, spec.Name, func(dep *appsv1.Deployment) {
			dep.Spec.Replicas = desired.Spec.Replicas
			dep.Spec.Template = desired.Spec.Template
			if dep.Labels == nil {
				dep.Labels = map[string]string{}
			}
			for k, v := range desired.Labels {
				dep.Labels[k] = v
			}
		})
		if err != nil {
			return driverError(op, spec.Name, err)
		}
		d.logger.Info("deployment updated", "workload", spec.Name, "image", spec.Image, "replicas", spec.Replicas)
	default:
		return driverError(op, spec.Name, err)
	}

	if err := d.ensureService(ctx, spec); err != nil {
		return driverError(op, spec.Name, err)
	}
	return nil
}

// ensureService creates the Service fronting the workload's service when it
// does not exist. Blue and green workloads pin the selector to their own
// version; stable and canary share traffic by replica count.
func (d *Driver) ensureService(ctx context.Context, spec domain.WorkloadSpec) error {
	service, version := deployment.SplitWorkloadName(spec.Name)
	if version == deployment.VersionStable || version == deployment.VersionCanary {
		version = ""
	}

	svc := deployment.BuildService(d.namespace, service, spec.Port, version)
	_, err := d.client.CoreV1().Services(d.namespace).Create(ctx, svc, metav1.CreateOptions{})
	if err != nil && !apierrors.IsAlreadyExists(err) {
		return err
	}
	if err == nil {
		d.logger.Info("service created", "service", service, "version", version)
	}
	return nil
}

// update applies mutate to the latest Deployment, retrying on conflicts.
func (d *Driver) update(ctx context.Context, name string, mutate func(*appsv1.Deployment)) error {
	return retry.RetryOnConflict(retry.DefaultRetry, func() error {
		dep, err := d.deployments().Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			return err
		}
		mutate(dep)
		_, err = d.deployments().Update(ctx, dep, metav1.UpdateOptions{})
		return err
	})
}

// =============================================================================
// Scale and Image
// =============================================================================

func (d *Driver) Scale(ctx context.Context, name string, replicas int) error {
	n := int32(replicas)
	err := d.update(ctx, name, func(dep *appsv1.Deployment) {
		dep.Spec.Replicas = &n
	})
	if err != nil {
		return driverError(driver.OpScale, name, err)
	}
	d.logger.Info("deployment scaled", "workload", name, "replicas", replicas)
	return nil
}

func (d *Driver) SetImage(ctx context.Context, name, image string) error {
	var missing bool
	err := d.update(ctx, name, func(dep *appsv1.Deployment) {
		c := appContainer(&dep.Spec.Template.Spec)
		if c == nil {
			missing = true
			return
		}
		c.Image = image
	})
	if err != nil {
		return driverError(driver.OpSetImage, name, err)
	}
	if missing {
		return domain.NewDriverError(domain.KindPermanent, driver.OpSetImage, name, "deployment has no containers", nil)
	}
	d.logger.Info("deployment image set", "workload", name, "image", image)
	return nil
}

// Undo rolls the Deployment back to the pod template of its previous
// revision, like kubectl rollout undo.
func (d *Driver) Undo(ctx context.Context, name string) error {
	op := driver.OpUndo

	dep, err := d.deployments().Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return driverError(op, name, err)
	}

	previous, err := d.previousReplicaSet(ctx, dep)
	if err != nil {
		return driverError(op, name, err)
	}
	if previous == nil {
		return domain.NewDriverError(domain.KindPermanent, op, name, "no previous revision", nil)
	}

	template := *previous.Spec.Template.DeepCopy()
	delete(template.Labels, appsv1.DefaultDeploymentUniqueLabelKey)

	err = d.update(ctx, name, func(dep *appsv1.Deployment) {
		dep.Spec.Template = template
	})
	if err != nil {
		return driverError(op, name, err)
	}
	d.logger.Info("deployment rolled back", "workload", name, "revision", previous.Annotations[RevisionAnnotation])
	return nil
}

// previousReplicaSet returns the owned ReplicaSet with the highest revision
// below the Deployment's current one, or nil.
func (d *Driver) previousReplicaSet(ctx context.Context, dep *appsv1.Deployment) (*appsv1.ReplicaSet, error) {
	selector, err := metav1.LabelSelectorAsSelector(dep.Spec.Selector)
	if err != nil {
		return nil, err
	}
	list, err := d.client.AppsV1().ReplicaSets(d.namespace).List(ctx, metav1.ListOptions{LabelSelector: selector.String()})
	if err != nil {
		return nil, err
	}

	current := revision(dep.Annotations)
	var best *appsv1.ReplicaSet
	bestRev := int64(-1)
	for i := range list.Items {
		rs := &list.Items[i]
		if !metav1.IsControlledBy(rs, dep) {
			continue
		}
		rev := revision(rs.Annotations)
		if rev < current && rev > bestRev {
			best, bestRev = rs, rev
		}
	}
	return best, nil
}

func revision(annotations map[string]string) int64 {
	v, err := strconv.ParseInt(annotations[RevisionAnnotation], 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// =============================================================================
// Readiness
// =============================================================================

// WaitReady polls the Deployment status until the rollout completes. A
// ProgressDeadlineExceeded condition or the timeout end the wait with false.
func (d *Driver) WaitReady(ctx context.Context, name string, timeout time.Duration) (bool, error) {
	d.logger.Info("waiting for rollout", "workload", name, "timeout", timeout)

	err := wait.PollUntilContextTimeout(ctx, d.config.PollInterval, timeout, true, func(ctx context.Context) (bool, error) {
		dep, err := d.deployments().Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			if kindOf(err) == domain.KindTransient {
				d.logger.Debug("rollout status poll failed, retrying", "workload", name, "error", err)
				return false, nil
			}
			return false, err
		}
		if progressDeadlineExceeded(dep) {
			return false, errProgressDeadline
		}
		return monitoring.RolloutComplete(progress(dep)), nil
	})

	switch {
	case err == nil:
		d.logger.Info("rollout complete", "workload", name)
		return true, nil
	case errors.Is(err, errProgressDeadline):
		d.logger.Warn("rollout exceeded its progress deadline", "workload", name)
		return false, nil
	case wait.Interrupted(err):
		d.logger.Warn("rollout not complete before timeout", "workload", name, "timeout", timeout)
		return false, nil
	default:
		return false, driverError(driver.OpWaitReady, name, err)
	}
}

func progress(dep *appsv1.Deployment) monitoring.Progress {
	desired := 1
	if dep.Spec.Replicas != nil {
		desired = int(*dep.Spec.Replicas)
	}
	return monitoring.Progress{
		Desired:   desired,
		Updated:   int(dep.Status.UpdatedReplicas),
		Ready:     int(dep.Status.ReadyReplicas),
		Available: int(dep.Status.AvailableReplicas),
		Total:     int(dep.Status.Replicas),
		Observed:  dep.Status.ObservedGeneration >= dep.Generation,
	}
}

func progressDeadlineExceeded(dep *appsv1.Deployment) bool {
	for _, c := range dep.Status.Conditions {
		if c.Type == appsv1.DeploymentProgressing && c.Reason == "ProgressDeadlineExceeded" {
			return true
		}
	}
	return false
}

// InstanceStatuses lists the pods of name. Terminating pods are skipped.
func (d *Driver) InstanceStatuses(ctx context.Context, name string) ([]domain.InstanceStatus, error) {
	selector := labels.SelectorFromSet(labels.Set{deployment.KubeLabelApp: name})
	pods, err := d.client.CoreV1().Pods(d.namespace).List(ctx, metav1.ListOptions{LabelSelector: selector.String()})
	if err != nil {
		return nil, driverError(driver.OpInstanceStatuses, name, err)
	}

	out := make([]domain.InstanceStatus, 0, len(pods.Items))
	for _, pod := range pods.Items {
		if pod.DeletionTimestamp != nil {
			continue
		}
		out = append(out, domain.InstanceStatus{
			ID:    pod.Name,
			Phase: string(pod.Status.Phase),
			Ready: podReady(&pod),
		})
	}
	return out, nil
}

// podReady reports whether every container of pod is ready.
func podReady(pod *corev1.Pod) bool {
	if len(pod.Status.ContainerStatuses) == 0 {
		return false
	}
	for _, cs := range pod.Status.ContainerStatuses {
		if !cs.Ready {
			return false
		}
	}
	return true
}

// =============================================================================
// Traffic
// =============================================================================

// PatchTrafficSelector merge-patches the Service selector's version label.
func (d *Driver) PatchTrafficSelector(ctx context.Context, service, label string) error {
	patch, err := json.Marshal(map[string]any{
		"spec": map[string]any{
			"selector": map[string]string{deployment.KubeLabelVersion: label},
		},
	})
	if err != nil {
		return driverError(driver.OpPatchTrafficSelector, service, err)
	}

	_, err = d.client.CoreV1().Services(d.namespace).Patch(ctx, service, types.MergePatchType, patch, metav1.PatchOptions{})
	if err != nil {
		return driverError(driver.OpPatchTrafficSelector, service, err)
	}
	d.logger.Info("service selector patched", "service", service, "version", label)
	return nil
}

// =============================================================================
// Delete and Describe
// =============================================================================

func (d *Driver) DeleteWorkload(ctx context.Context, name string) error {
	policy := metav1.DeletePropagationBackground
	err := d.deployments().Delete(ctx, name, metav1.DeleteOptions{PropagationPolicy: &policy})
	if err != nil && !apierrors.IsNotFound(err) {
		return driverError(driver.OpDeleteWorkload, name, err)
	}
	d.logger.Info("deployment deleted", "workload", name)
	return nil
}

func (d *Driver) Describe(ctx context.Context, name string) (*domain.WorkloadDescription, error) {
	dep, err := d.deployments().Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, driverError(driver.OpDescribe, name, err)
	}

	desc := &domain.WorkloadDescription{
		Name:              dep.Name,
		Namespace:         dep.Namespace,
		ReadyReplicas:     int(dep.Status.ReadyReplicas),
		AvailableReplicas: int(dep.Status.AvailableReplicas),
		Conditions:        []domain.Condition{},
	}
	if dep.Spec.Replicas != nil {
		desc.Replicas = int(*dep.Spec.Replicas)
	}
	if c := appContainer(&dep.Spec.Template.Spec); c != nil {
		desc.Image = c.Image
	}
	for _, c := range dep.Status.Conditions {
		desc.Conditions = append(desc.Conditions, domain.Condition{
			Type:    string(c.Type),
			Status:  string(c.Status),
			Reason:  c.Reason,
			Message: c.Message,
		})
	}
	return desc, nil
}

// appContainer returns the application container, falling back to the first
// container for Deployments created by other tools.
func appContainer(spec *corev1.PodSpec) *corev1.Container {
	for i := range spec.Containers {
		if spec.Containers[i].Name == deployment.AppContainer {
			return &spec.Containers[i]
		}
	}
	if len(spec.Containers) > 0 {
		return &spec.Containers[0]
	}
	return nil
}
