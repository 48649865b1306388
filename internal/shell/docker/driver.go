package docker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/artpar/rollout/internal/core/deployment"
	"github.com/artpar/rollout/internal/core/domain"
	"github.com/artpar/rollout/internal/core/monitoring"
	"github.com/artpar/rollout/internal/shell/driver"
)

// DriverConfig tunes the container engine driver.
type DriverConfig struct {
	// PollInterval is the readiness poll cadence. Default: 5 seconds.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// StopTimeout is the grace period given to a replaced container.
	// Default: 10 seconds.
	StopTimeout time.Duration `mapstructure:"stop_timeout"`
}

// DefaultDriverConfig returns the default configuration.
func DefaultDriverConfig() DriverConfig {
	return DriverConfig{
		PollInterval: 5 * time.Second,
		StopTimeout:  10 * time.Second,
	}
}

// =============================================================================
// Driver
// =============================================================================

// Driver runs workloads as labelled containers on one Docker engine. The
// namespace maps to the bridge network rollout_<namespace>.
//
// The containers are the source of truth. The driver additionally remembers
// the template of each workload it touched so that a workload scaled to zero
// can be given a new image and scaled back up.
type Driver struct {
	client    Client
	namespace string
	network   string
	config    DriverConfig
	logger    *slog.Logger

	mu        sync.Mutex
	templates map[string]*workloadTemplate
}

// workloadTemplate is the desired state of a workload.
type workloadTemplate struct {
	image         string
	previousImage string
	port          int
	healthPath    string
	replicas      int
}

var _ driver.Driver = (*Driver)(nil)

// NewDriver creates a container engine driver for namespace.
func NewDriver(client Client, namespace string, config DriverConfig, logger *slog.Logger) *Driver {
	def := DefaultDriverConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.StopTimeout <= 0 {
		config.StopTimeout = def.StopTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		client:    client,
		namespace: namespace,
		network:   deployment.NetworkName(namespace),
		config:    config,
		logger:    logger.With("component", "docker_driver", "namespace", namespace),
		templates: make(map[string]*workloadTemplate),
	}
}

func (d *Driver) Platform() domain.Platform { return domain.PlatformContainerEngine }

// Close releases the Docker connection.
func (d *Driver) Close() error {
	return d.client.Close()
}

// =============================================================================
// Apply
// =============================================================================

// ApplyWorkload converges the workload onto spec: containers with another
// image are replaced, missing replicas created and surplus ones removed.
// Applying the same spec twice leaves the containers untouched.
func (d *Driver) ApplyWorkload(ctx context.Context, spec domain.WorkloadSpec) error {
	op := driver.OpApplyWorkload

	if err := d.ensureNetwork(ctx); err != nil {
		return driverError(op, spec.Name, err)
	}
	if err := d.ensureImage(ctx, spec.Image); err != nil {
		return driverError(op, spec.Name, err)
	}

	existing, err := d.containers(ctx, spec.Name)
	if err != nil {
		return driverError(op, spec.Name, err)
	}

	tmpl := d.template(spec.Name, existing)
	next := workloadTemplate{
		image:      spec.Image,
		port:       spec.Port,
		healthPath: spec.HealthPath,
		replicas:   spec.Replicas,
	}
	if tmpl != nil {
		next.previousImage = tmpl.previousImage
		if tmpl.image != spec.Image {
			next.previousImage = tmpl.image
		}
	}

	err = d.reconcile(ctx, spec.Name, next, existing)
	d.remember(spec.Name, next)
	if err != nil {
		return driverError(op, spec.Name, err)
	}

	d.logger.Info("workload applied", "workload", spec.Name, "image", spec.Image, "replicas", spec.Replicas)
	return nil
}

// reconcile brings the containers of workload to tmpl. A container matching
// the image and port is kept; any other one is recreated.
func (d *Driver) reconcile(ctx context.Context, workload string, tmpl workloadTemplate, existing []ContainerInfo) error {
	byIndex := make(map[int]ContainerInfo, len(existing))
	for _, c := range existing {
		byIndex[containerIndex(c)] = c
	}

	alias, err := d.carriesServiceAlias(ctx, workload)
	if err != nil {
		return err
	}

	for i := 0; i < tmpl.replicas; i++ {
		c, ok := byIndex[i]
		delete(byIndex, i)

		if ok && c.Image == tmpl.image && c.Labels[deployment.LabelPort] == strconv.Itoa(tmpl.port) {
			if c.State != string(ContainerStatusRunning) {
				if err := d.client.StartContainer(ctx, c.ID); err != nil && !errors.Is(err, ErrContainerAlreadyRunning) {
					return err
				}
			}
			continue
		}
		if ok {
			if err := d.remove(ctx, c); err != nil {
				return err
			}
		}
		if err := d.create(ctx, workload, i, tmpl, alias); err != nil {
			return err
		}
	}

	// Whatever remains is beyond the desired count.
	for _, c := range byIndex {
		if err := d.remove(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Scale and Image
// =============================================================================

func (d *Driver) Scale(ctx context.Context, name string, replicas int) error {
	op := driver.OpScale

	existing, err := d.containers(ctx, name)
	if err != nil {
		return driverError(op, name, err)
	}
	tmpl := d.template(name, existing)
	if tmpl == nil {
		return domain.NewDriverError(domain.KindNotFound, op, name, "workload not found", nil)
	}

	next := *tmpl
	next.replicas = replicas
	err = d.reconcile(ctx, name, next, existing)
	d.remember(name, next)
	if err != nil {
		return driverError(op, name, err)
	}

	d.logger.Info("workload scaled", "workload", name, "replicas", replicas)
	return nil
}

// SetImage replaces the containers of name one by one with image and
// records the image they ran before. It is a no-op only when every desired
// replica already runs image, so repeating a call that failed partway
// finishes the replacement.
func (d *Driver) SetImage(ctx context.Context, name, image string) error {
	op := driver.OpSetImage

	existing, err := d.containers(ctx, name)
	if err != nil {
		return driverError(op, name, err)
	}
	tmpl := d.template(name, existing)
	if tmpl == nil {
		return domain.NewDriverError(domain.KindNotFound, op, name, "workload not found", nil)
	}
	if tmpl.image == image && converged(existing, *tmpl) {
		return nil
	}

	if err := d.ensureImage(ctx, image); err != nil {
		return driverError(op, name, err)
	}

	next := *tmpl
	if tmpl.image != image {
		next.previousImage = tmpl.image
		next.image = image
	}
	err = d.reconcile(ctx, name, next, existing)
	// Containers may already run image after a partial failure; the
	// template follows them so a compensating call is not mistaken for
	// a no-op.
	d.remember(name, next)
	if err != nil {
		return driverError(op, name, err)
	}

	d.logger.Info("workload image set", "workload", name, "image", image, "previous_image", next.previousImage)
	return nil
}

// Undo sets the image back to the one recorded before the last change.
func (d *Driver) Undo(ctx context.Context, name string) error {
	existing, err := d.containers(ctx, name)
	if err != nil {
		return driverError(driver.OpUndo, name, err)
	}
	tmpl := d.template(name, existing)
	if tmpl == nil {
		return domain.NewDriverError(domain.KindNotFound, driver.OpUndo, name, "workload not found", nil)
	}
	if tmpl.previousImage == "" {
		return domain.NewDriverError(domain.KindPermanent, driver.OpUndo, name, "no previous image recorded", nil)
	}
	return d.SetImage(ctx, name, tmpl.previousImage)
}

// =============================================================================
// Readiness
// =============================================================================

// WaitReady polls until the desired number of containers run the current
// image and pass their health check. It reports false when timeout elapses.
func (d *Driver) WaitReady(ctx context.Context, name string, timeout time.Duration) (bool, error) {
	d.logger.Info("waiting for workload to be ready", "workload", name, "timeout", timeout)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		ready, err := d.ready(ctx, name)
		if err != nil {
			if ctx.Err() != nil {
				return false, nil
			}
			return false, driverError(driver.OpWaitReady, name, err)
		}
		if ready {
			d.logger.Info("workload ready", "workload", name)
			return true, nil
		}

		select {
		case <-ctx.Done():
			d.logger.Warn("workload not ready before timeout", "workload", name, "timeout", timeout)
			return false, nil
		case <-ticker.C:
			d.logger.Debug("workload not yet ready, waiting...", "workload", name)
		}
	}
}

func (d *Driver) ready(ctx context.Context, name string) (bool, error) {
	existing, err := d.containers(ctx, name)
	if err != nil {
		return false, err
	}
	tmpl := d.template(name, existing)
	if tmpl == nil {
		return false, nil
	}

	ready := 0
	for _, c := range existing {
		if c.Image != tmpl.image {
			return false, nil
		}
		info, err := d.client.InspectContainer(ctx, c.ID)
		if err != nil {
			return false, err
		}
		if monitoring.ContainerReady(info.State, info.Health) {
			ready++
		}
	}
	return ready >= tmpl.replicas && len(existing) == tmpl.replicas, nil
}

// InstanceStatuses reports one status per container of name.
func (d *Driver) InstanceStatuses(ctx context.Context, name string) ([]domain.InstanceStatus, error) {
	existing, err := d.containers(ctx, name)
	if err != nil {
		return nil, driverError(driver.OpInstanceStatuses, name, err)
	}

	out := make([]domain.InstanceStatus, 0, len(existing))
	for _, c := range existing {
		info, err := d.client.InspectContainer(ctx, c.ID)
		if errors.Is(err, ErrContainerNotFound) {
			continue
		}
		if err != nil {
			return nil, driverError(driver.OpInstanceStatuses, name, err)
		}
		out = append(out, domain.InstanceStatus{
			ID:    info.Name,
			Phase: monitoring.ContainerPhase(info.State),
			Ready: monitoring.ContainerReady(info.State, info.Health),
		})
	}
	return out, nil
}

// =============================================================================
// Traffic
// =============================================================================

// PatchTrafficSelector moves the service alias so that only containers of
// version label resolve under the service name. Containers of other
// versions keep their workload alias.
func (d *Driver) PatchTrafficSelector(ctx context.Context, service, label string) error {
	op := driver.OpPatchTrafficSelector

	all, err := d.client.ListContainers(ctx, ListOptions{
		All: true,
		Labels: map[string]string{
			deployment.LabelManaged:   "true",
			deployment.LabelNamespace: d.namespace,
			deployment.LabelService:   service,
		},
	})
	if err != nil {
		return driverError(op, service, err)
	}

	for _, c := range all {
		workload := c.Labels[deployment.LabelWorkload]
		want := c.Labels[deployment.LabelVersion] == label

		info, err := d.client.InspectContainer(ctx, c.ID)
		if err != nil {
			return driverError(op, service, err)
		}
		if slices.Contains(info.Networks[d.network], service) == want {
			continue
		}

		aliases := serviceAliases(workload, service, want)
		if err := d.client.DisconnectNetwork(ctx, d.network, c.ID, true); err != nil && !errors.Is(err, ErrContainerNotFound) {
			return driverError(op, service, err)
		}
		if err := d.client.ConnectNetwork(ctx, d.network, c.ID, aliases); err != nil {
			return driverError(op, service, err)
		}
	}

	d.logger.Info("traffic selector patched", "service", service, "version", label)
	return nil
}

// carriesServiceAlias decides whether new replicas of workload join the
// service alias, based on which version holds it now.
func (d *Driver) carriesServiceAlias(ctx context.Context, workload string) (bool, error) {
	service, version := deployment.SplitWorkloadName(workload)
	if version == deployment.VersionStable || version == deployment.VersionCanary {
		return true, nil
	}

	all, err := d.client.ListContainers(ctx, ListOptions{
		All: true,
		Labels: map[string]string{
			deployment.LabelManaged:   "true",
			deployment.LabelNamespace: d.namespace,
			deployment.LabelService:   service,
		},
	})
	if err != nil {
		return false, err
	}

	selected := ""
	for _, c := range all {
		if c.Labels[deployment.LabelWorkload] == workload {
			continue
		}
		info, err := d.client.InspectContainer(ctx, c.ID)
		if err != nil {
			if errors.Is(err, ErrContainerNotFound) {
				continue
			}
			return false, err
		}
		if slices.Contains(info.Networks[d.network], service) {
			selected = c.Labels[deployment.LabelVersion]
			break
		}
	}
	return deployment.ReceivesServiceTraffic(version, selected), nil
}

func serviceAliases(workload, service string, withService bool) []string {
	aliases := []string{workload}
	if withService && service != workload {
		aliases = append(aliases, service)
	}
	return aliases
}

// =============================================================================
// Delete and Describe
// =============================================================================

// DeleteWorkload force-removes every container of name. An absent workload
// is not an error.
func (d *Driver) DeleteWorkload(ctx context.Context, name string) error {
	existing, err := d.containers(ctx, name)
	if err != nil {
		return driverError(driver.OpDeleteWorkload, name, err)
	}
	for _, c := range existing {
		if err := d.remove(ctx, c); err != nil {
			return driverError(driver.OpDeleteWorkload, name, err)
		}
	}

	d.mu.Lock()
	delete(d.templates, name)
	d.mu.Unlock()

	d.logger.Info("workload deleted", "workload", name, "containers", len(existing))
	return nil
}

func (d *Driver) Describe(ctx context.Context, name string) (*domain.WorkloadDescription, error) {
	existing, err := d.containers(ctx, name)
	if err != nil {
		return nil, driverError(driver.OpDescribe, name, err)
	}
	tmpl := d.template(name, existing)
	if tmpl == nil {
		return nil, domain.NewDriverError(domain.KindNotFound, driver.OpDescribe, name, "workload not found", nil)
	}

	desc := &domain.WorkloadDescription{
		Name:      name,
		Namespace: d.namespace,
		Replicas:  tmpl.replicas,
		Image:     tmpl.image,
	}
	for _, c := range existing {
		info, err := d.client.InspectContainer(ctx, c.ID)
		if err != nil {
			if errors.Is(err, ErrContainerNotFound) {
				continue
			}
			return nil, driverError(driver.OpDescribe, name, err)
		}
		if info.State == string(ContainerStatusRunning) {
			desc.AvailableReplicas++
		}
		if monitoring.ContainerReady(info.State, info.Health) {
			desc.ReadyReplicas++
		}
	}

	available := "False"
	if desc.AvailableReplicas >= desc.Replicas {
		available = "True"
	}
	progressing := "False"
	if desc.ReadyReplicas < desc.Replicas {
		progressing = "True"
	}
	desc.Conditions = []domain.Condition{
		{Type: "Available", Status: available, Message: fmt.Sprintf("%d/%d running", desc.AvailableReplicas, desc.Replicas)},
		{Type: "Progressing", Status: progressing, Message: fmt.Sprintf("%d/%d ready", desc.ReadyReplicas, desc.Replicas)},
	}
	return desc, nil
}

// =============================================================================
// Helpers
// =============================================================================

// containers lists the containers of workload ordered by replica index.
func (d *Driver) containers(ctx context.Context, workload string) ([]ContainerInfo, error) {
	list, err := d.client.ListContainers(ctx, ListOptions{
		All: true,
		Labels: map[string]string{
			deployment.LabelManaged:   "true",
			deployment.LabelNamespace: d.namespace,
			deployment.LabelWorkload:  workload,
		},
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(list, func(i, j int) bool {
		return containerIndex(list[i]) < containerIndex(list[j])
	})
	return list, nil
}

// template returns the remembered template of workload, or rebuilds it from
// its containers' labels. Nil means the workload does not exist.
func (d *Driver) template(workload string, existing []ContainerInfo) *workloadTemplate {
	d.mu.Lock()
	defer d.mu.Unlock()

	if t, ok := d.templates[workload]; ok {
		cp := *t
		return &cp
	}
	if len(existing) == 0 {
		return nil
	}

	first := existing[0]
	port, _ := strconv.Atoi(first.Labels[deployment.LabelPort])
	t := &workloadTemplate{
		image:         first.Image,
		previousImage: first.Labels[deployment.LabelPreviousImage],
		port:          port,
		healthPath:    first.Labels[deployment.LabelHealthPath],
		replicas:      len(existing),
	}
	d.templates[workload] = t
	cp := *t
	return &cp
}

func (d *Driver) remember(workload string, t workloadTemplate) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.templates[workload] = &t
}

func (d *Driver) ensureNetwork(ctx context.Context) error {
	_, err := d.client.CreateNetwork(ctx, NetworkSpec{
		Name: d.network,
		Labels: map[string]string{
			deployment.LabelManaged:   "true",
			deployment.LabelNamespace: d.namespace,
		},
	})
	if err != nil && !errors.Is(err, ErrNetworkAlreadyExists) {
		return err
	}
	return nil
}

func (d *Driver) ensureImage(ctx context.Context, image string) error {
	exists, err := d.client.ImageExists(ctx, image)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	d.logger.Info("pulling image", "image", image)
	return d.client.PullImage(ctx, image, PullOptions{})
}

func (d *Driver) create(ctx context.Context, workload string, index int, tmpl workloadTemplate, serviceAlias bool) error {
	plan := deployment.BuildContainerPlan(deployment.BuildContainerPlanParams{
		Namespace: d.namespace,
		Spec: domain.WorkloadSpec{
			Name:       workload,
			Image:      tmpl.image,
			Replicas:   tmpl.replicas,
			Port:       tmpl.port,
			HealthPath: tmpl.healthPath,
		},
		Index:         index,
		PreviousImage: tmpl.previousImage,
		ServiceAlias:  serviceAlias,
	})

	id, err := d.client.CreateContainer(ctx, containerSpec(plan))
	if err != nil {
		return err
	}
	if err := d.client.StartContainer(ctx, id); err != nil {
		_ = d.client.RemoveContainer(ctx, id, RemoveOptions{Force: true})
		return err
	}
	d.logger.Debug("container started", "container", plan.Name, "image", plan.Image)
	return nil
}

func (d *Driver) remove(ctx context.Context, c ContainerInfo) error {
	timeout := d.config.StopTimeout
	if c.State == string(ContainerStatusRunning) {
		err := d.client.StopContainer(ctx, c.ID, &timeout)
		if err != nil && !errors.Is(err, ErrContainerNotRunning) && !errors.Is(err, ErrContainerNotFound) {
			return err
		}
	}
	err := d.client.RemoveContainer(ctx, c.ID, RemoveOptions{Force: true})
	if err != nil && !errors.Is(err, ErrContainerNotFound) {
		return err
	}
	return nil
}

func containerSpec(plan deployment.ContainerPlan) ContainerSpec {
	spec := ContainerSpec{
		Name:           plan.Name,
		Image:          plan.Image,
		Env:            plan.Env,
		Labels:         plan.Labels,
		ExposedPorts:   []int{plan.Port},
		Network:        plan.Network,
		NetworkAliases: plan.Aliases,
		RestartPolicy: RestartPolicy{
			Name:              plan.RestartPolicy.Name,
			MaximumRetryCount: plan.RestartPolicy.MaximumRetryCount,
		},
		Resources: ResourceLimits{
			CPULimit:    plan.Resources.CPULimit,
			MemoryLimit: plan.Resources.MemoryLimit,
		},
	}
	if hc := plan.HealthCheck; hc != nil {
		spec.HealthCheck = &HealthCheck{
			Test:        hc.Test,
			Interval:    hc.Interval,
			Timeout:     hc.Timeout,
			Retries:     hc.Retries,
			StartPeriod: hc.StartPeriod,
		}
	}
	return spec
}

// converged reports whether existing holds exactly the replicas of tmpl, all
// running its image.
func converged(existing []ContainerInfo, tmpl workloadTemplate) bool {
	if len(existing) != tmpl.replicas {
		return false
	}
	for _, c := range existing {
		if c.Image != tmpl.image {
			return false
		}
	}
	return true
}

func containerIndex(c ContainerInfo) int {
	i, err := strconv.Atoi(c.Labels[deployment.LabelIndex])
	if err != nil {
		return -1
	}
	return i
}
