package deployment

import (
	"bytes"
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"sigs.k8s.io/yaml"

	"github.com/artpar/rollout/internal/core/domain"
)

// =============================================================================
// Kubernetes Manifest Builders
// =============================================================================

// AppContainer is the name of the single application container in every pod.
const AppContainer = "app"

// PodLabels returns the labels carried by pods of workload.
func PodLabels(workload string) map[string]string {
	service, version := SplitWorkloadName(workload)
	return map[string]string{
		KubeLabelApp:       workload,
		KubeLabelName:      service,
		KubeLabelVersion:   version,
		KubeLabelManagedBy: ManagedBy,
	}
}

// BuildDeployment builds the apps/v1 Deployment applied for spec.
// The selector matches on the workload name only, so the version label can
// differ between workloads of one service.
func BuildDeployment(namespace string, spec domain.WorkloadSpec) *appsv1.Deployment {
	replicas := int32(spec.Replicas)
	labels := PodLabels(spec.Name)
	port := intstr.FromInt32(int32(spec.Port))

	return &appsv1.Deployment{
		TypeMeta: metav1.TypeMeta{APIVersion: "apps/v1", Kind: "Deployment"},
		ObjectMeta: metav1.ObjectMeta{
			Name:      spec.Name,
			Namespace: namespace,
			Labels:    labels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{
				MatchLabels: map[string]string{KubeLabelApp: spec.Name},
			},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{{
						Name:  AppContainer,
						Image: spec.Image,
						Ports: []corev1.ContainerPort{{
							ContainerPort: int32(spec.Port),
							Protocol:      corev1.ProtocolTCP,
						}},
						ReadinessProbe: httpProbe(spec.HealthPath, port, 10, 5),
						LivenessProbe:  httpProbe(spec.HealthPath, port, 30, 10),
						Resources: corev1.ResourceRequirements{
							Requests: corev1.ResourceList{
								corev1.ResourceCPU:    resource.MustParse(CPURequest),
								corev1.ResourceMemory: resource.MustParse(MemoryRequest),
							},
							Limits: corev1.ResourceList{
								corev1.ResourceCPU:    resource.MustParse(CPULimit),
								corev1.ResourceMemory: resource.MustParse(MemoryLimit),
							},
						},
					}},
				},
			},
		},
	}
}

func httpProbe(path string, port intstr.IntOrString, initialDelay, period int32) *corev1.Probe {
	return &corev1.Probe{
		ProbeHandler: corev1.ProbeHandler{
			HTTPGet: &corev1.HTTPGetAction{Path: path, Port: port},
		},
		InitialDelaySeconds: initialDelay,
		PeriodSeconds:       period,
	}
}

// BuildService builds the Service fronting every workload of service.
// A non-empty version pins the selector to that version label, which is how
// blue-green switches traffic; an empty version spreads traffic across all
// versions by replica count.
func BuildService(namespace, service string, port int, version string) *corev1.Service {
	selector := map[string]string{KubeLabelName: service}
	if version != "" {
		selector[KubeLabelVersion] = version
	}

	return &corev1.Service{
		TypeMeta: metav1.TypeMeta{APIVersion: "v1", Kind: "Service"},
		ObjectMeta: metav1.ObjectMeta{
			Name:      service,
			Namespace: namespace,
			Labels: map[string]string{
				KubeLabelName:      service,
				KubeLabelManagedBy: ManagedBy,
			},
		},
		Spec: corev1.ServiceSpec{
			Selector: selector,
			Ports: []corev1.ServicePort{{
				Name:       "http",
				Port:       80,
				TargetPort: intstr.FromInt32(int32(port)),
				Protocol:   corev1.ProtocolTCP,
			}},
		},
	}
}

// BuildManifests builds the objects the manifest command prints for cfg:
// the workload that receives the first apply plus its service.
func BuildManifests(cfg domain.DeploymentConfig) (*appsv1.Deployment, *corev1.Service) {
	workload, version := cfg.Name, ""
	if cfg.Strategy == domain.StrategyBlueGreen {
		workload, version = BlueName(cfg.Name), VersionBlue
	}
	dep := BuildDeployment(cfg.Namespace, cfg.WorkloadSpec(workload, cfg.Image, cfg.Replicas))
	svc := BuildService(cfg.Namespace, cfg.Name, cfg.Port, version)
	return dep, svc
}

// RenderManifests renders objects as a multi-document YAML stream.
func RenderManifests(objects ...any) ([]byte, error) {
	var buf bytes.Buffer
	for i, obj := range objects {
		out, err := yaml.Marshal(obj)
		if err != nil {
			return nil, fmt.Errorf("render manifest %d: %w", i, err)
		}
		if i > 0 {
			buf.WriteString("---\n")
		}
		buf.Write(out)
	}
	return buf.Bytes(), nil
}
