// Package drivertest provides a scriptable in-memory driver for tests.
package drivertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/artpar/rollout/internal/core/domain"
	"github.com/artpar/rollout/internal/shell/driver"
)

// Call records one driver invocation.
type Call struct {
	Op       string
	Name     string
	Image    string
	Replicas int
	Label    string
}

func (c Call) String() string {
	switch c.Op {
	case driver.OpApplyWorkload:
		return fmt.Sprintf("%s(%s, %s, %d)", c.Op, c.Name, c.Image, c.Replicas)
	case driver.OpScale:
		return fmt.Sprintf("%s(%s, %d)", c.Op, c.Name, c.Replicas)
	case driver.OpSetImage:
		return fmt.Sprintf("%s(%s, %s)", c.Op, c.Name, c.Image)
	case driver.OpPatchTrafficSelector:
		return fmt.Sprintf("%s(%s, %s)", c.Op, c.Name, c.Label)
	default:
		return fmt.Sprintf("%s(%s)", c.Op, c.Name)
	}
}

// Workload is the fake's model of one deployed workload.
type Workload struct {
	Image         string
	PreviousImage string
	Replicas      int
}

// Fake is a Driver backed by an in-memory model. Hooks override the default
// behaviour of each operation; a hook returning an error fails the call
// before the model changes.
type Fake struct {
	PlatformName domain.Platform

	ApplyFunc     func(spec domain.WorkloadSpec) error
	ScaleFunc     func(name string, replicas int) error
	SetImageFunc  func(name, image string) error
	WaitReadyFunc func(name string, timeout time.Duration) (bool, error)
	StatusesFunc  func(name string) ([]domain.InstanceStatus, error)
	PatchFunc     func(service, label string) error
	DeleteFunc    func(name string) error
	DescribeFunc  func(name string) (*domain.WorkloadDescription, error)
	UndoFunc      func(name string) error

	mu        sync.Mutex
	workloads map[string]*Workload
	selectors map[string]string
	calls     []Call
}

var _ driver.Driver = (*Fake)(nil)

// New creates an empty fake for the cluster orchestrator platform.
func New() *Fake {
	return &Fake{
		PlatformName: domain.PlatformClusterOrchestrator,
		workloads:    make(map[string]*Workload),
		selectors:    make(map[string]string),
	}
}

// Seed installs a workload as if it had been deployed earlier.
func (f *Fake) Seed(name, image string, replicas int) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workloads[name] = &Workload{Image: image, Replicas: replicas}
	return f
}

// Workload returns a copy of the modelled workload.
func (f *Fake) Workload(name string) (Workload, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.workloads[name]
	if !ok {
		return Workload{}, false
	}
	return *w, true
}

// Selector returns the version label service currently points at.
func (f *Fake) Selector(service string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.selectors[service]
}

// Calls returns every recorded call in order.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsTo returns the recorded calls of op.
func (f *Fake) CallsTo(op string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (f *Fake) record(c Call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

// =============================================================================
// Driver Implementation
// =============================================================================

func (f *Fake) Platform() domain.Platform { return f.PlatformName }

func (f *Fake) ApplyWorkload(ctx context.Context, spec domain.WorkloadSpec) error {
	f.record(Call{Op: driver.OpApplyWorkload, Name: spec.Name, Image: spec.Image, Replicas: spec.Replicas})
	if f.ApplyFunc != nil {
		if err := f.ApplyFunc(spec); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.workloads[spec.Name]
	if !ok {
		w = &Workload{}
		f.workloads[spec.Name] = w
	}
	if w.Image != spec.Image {
		w.PreviousImage = w.Image
	}
	w.Image = spec.Image
	w.Replicas = spec.Replicas
	return nil
}

func (f *Fake) Scale(ctx context.Context, name string, replicas int) error {
	f.record(Call{Op: driver.OpScale, Name: name, Replicas: replicas})
	if f.ScaleFunc != nil {
		if err := f.ScaleFunc(name, replicas); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.workloads[name]
	if !ok {
		return domain.NewDriverError(domain.KindNotFound, driver.OpScale, name, "workload not found", nil)
	}
	w.Replicas = replicas
	return nil
}

func (f *Fake) SetImage(ctx context.Context, name, image string) error {
	f.record(Call{Op: driver.OpSetImage, Name: name, Image: image})
	if f.SetImageFunc != nil {
		if err := f.SetImageFunc(name, image); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.workloads[name]
	if !ok {
		return domain.NewDriverError(domain.KindNotFound, driver.OpSetImage, name, "workload not found", nil)
	}
	if w.Image != image {
		w.PreviousImage = w.Image
	}
	w.Image = image
	return nil
}

func (f *Fake) WaitReady(ctx context.Context, name string, timeout time.Duration) (bool, error) {
	f.record(Call{Op: driver.OpWaitReady, Name: name})
	if f.WaitReadyFunc != nil {
		return f.WaitReadyFunc(name, timeout)
	}
	return true, nil
}

// InstanceStatuses reports one Running, ready instance per modelled replica.
func (f *Fake) InstanceStatuses(ctx context.Context, name string) ([]domain.InstanceStatus, error) {
	f.record(Call{Op: driver.OpInstanceStatuses, Name: name})
	if f.StatusesFunc != nil {
		return f.StatusesFunc(name)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.workloads[name]
	if !ok {
		return nil, nil
	}
	out := make([]domain.InstanceStatus, 0, w.Replicas)
	for i := 0; i < w.Replicas; i++ {
		out = append(out, domain.InstanceStatus{
			ID:    fmt.Sprintf("%s-%d", name, i),
			Phase: domain.PhaseRunning,
			Ready: true,
		})
	}
	return out, nil
}

func (f *Fake) PatchTrafficSelector(ctx context.Context, service, label string) error {
	f.record(Call{Op: driver.OpPatchTrafficSelector, Name: service, Label: label})
	if f.PatchFunc != nil {
		if err := f.PatchFunc(service, label); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.selectors[service] = label
	return nil
}

func (f *Fake) DeleteWorkload(ctx context.Context, name string) error {
	f.record(Call{Op: driver.OpDeleteWorkload, Name: name})
	if f.DeleteFunc != nil {
		if err := f.DeleteFunc(name); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.workloads, name)
	return nil
}

func (f *Fake) Describe(ctx context.Context, name string) (*domain.WorkloadDescription, error) {
	f.record(Call{Op: driver.OpDescribe, Name: name})
	if f.DescribeFunc != nil {
		return f.DescribeFunc(name)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.workloads[name]
	if !ok {
		return nil, domain.NewDriverError(domain.KindNotFound, driver.OpDescribe, name, "workload not found", nil)
	}
	return &domain.WorkloadDescription{
		Name:              name,
		Replicas:          w.Replicas,
		ReadyReplicas:     w.Replicas,
		AvailableReplicas: w.Replicas,
		Image:             w.Image,
		Conditions:        []domain.Condition{{Type: "Available", Status: "True"}},
	}, nil
}

func (f *Fake) Undo(ctx context.Context, name string) error {
	f.record(Call{Op: driver.OpUndo, Name: name})
	if f.UndoFunc != nil {
		if err := f.UndoFunc(name); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.workloads[name]
	if !ok {
		return domain.NewDriverError(domain.KindNotFound, driver.OpUndo, name, "workload not found", nil)
	}
	if w.PreviousImage == "" {
		return domain.NewDriverError(domain.KindPermanent, driver.OpUndo, name, "no previous rollout", nil)
	}
	w.Image, w.PreviousImage = w.PreviousImage, w.Image
	return nil
}
