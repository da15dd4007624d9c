package cluster

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory Client for tests. Zero value is ready to use.
type Fake struct {
	mu sync.Mutex

	namespaces map[string]bool
	secrets    map[string]map[string]string // "ns/name" -> data
	secretType map[string]SecretType
	workloads  map[string]*WorkloadStatus // "ns/name"
	services   map[string]*ServiceIngress
	podMetrics map[string][]PodMetrics
	applied    []Manifest

	// WorkloadsNeverReady keeps ReadyReplicas at 0 regardless of scale.
	WorkloadsNeverReady bool
	// FailOn makes the named operation return a backend error.
	FailOn map[string]error

	// Call counters by operation name
	Calls map[string]int
}

func (f *Fake) init() {
	if f.namespaces == nil {
		f.namespaces = make(map[string]bool)
		f.secrets = make(map[string]map[string]string)
		f.secretType = make(map[string]SecretType)
		f.workloads = make(map[string]*WorkloadStatus)
		f.services = make(map[string]*ServiceIngress)
		f.podMetrics = make(map[string][]PodMetrics)
		f.Calls = make(map[string]int)
	}
}

func (f *Fake) record(op string) error {
	f.init()
	f.Calls[op]++
	if err, ok := f.FailOn[op]; ok {
		return &Error{Kind: ErrKindBackend, Op: op, Err: err}
	}
	return nil
}

func key(namespace, name string) string {
	return namespace + "/" + name
}

func (f *Fake) CreateNamespace(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateNamespace"); err != nil {
		return err
	}
	f.namespaces[name] = true
	return nil
}

func (f *Fake) CreateSecret(ctx context.Context, namespace, name string, data map[string]string, secretType SecretType, labels map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateSecret"); err != nil {
		return err
	}
	if !f.namespaces[namespace] {
		return &Error{Kind: ErrKindNotFound, Op: "CreateSecret", Err: fmt.Errorf("namespace %q not found", namespace)}
	}
	copied := make(map[string]string, len(data))
	for k, v := range data {
		copied[k] = v
	}
	f.secrets[key(namespace, name)] = copied
	f.secretType[key(namespace, name)] = secretType
	return nil
}

func (f *Fake) CreateStatefulWorkload(ctx context.Context, namespace string, manifest Manifest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateStatefulWorkload"); err != nil {
		return err
	}
	replicas := int32(1)
	if spec, ok := manifest.Body["spec"].(map[string]any); ok {
		if r, ok := spec["replicas"].(int); ok {
			replicas = int32(r)
		}
	}
	ready := replicas
	if f.WorkloadsNeverReady {
		ready = 0
	}
	f.workloads[key(namespace, manifest.Name)] = &WorkloadStatus{
		Name:            manifest.Name,
		Namespace:       namespace,
		DesiredReplicas: replicas,
		ReadyReplicas:   ready,
	}
	return nil
}

func (f *Fake) CreateService(ctx context.Context, namespace string, manifest Manifest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("CreateService"); err != nil {
		return err
	}
	f.services[key(namespace, manifest.Name)] = &ServiceIngress{
		Name:      manifest.Name,
		Namespace: namespace,
		ClusterIP: "10.0.0.1",
	}
	return nil
}

func (f *Fake) GetStatefulWorkload(ctx context.Context, namespace, name string) (*WorkloadStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetStatefulWorkload"); err != nil {
		return nil, err
	}
	w, ok := f.workloads[key(namespace, name)]
	if !ok {
		return nil, &Error{Kind: ErrKindNotFound, Op: "GetStatefulWorkload", Err: fmt.Errorf("workload %q not found", name)}
	}
	copied := *w
	return &copied, nil
}

func (f *Fake) ScaleStatefulWorkload(ctx context.Context, namespace, name string, replicas int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ScaleStatefulWorkload"); err != nil {
		return err
	}
	w, ok := f.workloads[key(namespace, name)]
	if !ok {
		return &Error{Kind: ErrKindNotFound, Op: "ScaleStatefulWorkload", Err: fmt.Errorf("workload %q not found", name)}
	}
	w.DesiredReplicas = replicas
	if !f.WorkloadsNeverReady {
		w.ReadyReplicas = replicas
	}
	return nil
}

func (f *Fake) GetService(ctx context.Context, namespace, name string) (*ServiceIngress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetService"); err != nil {
		return nil, err
	}
	svc, ok := f.services[key(namespace, name)]
	if !ok {
		return nil, &Error{Kind: ErrKindNotFound, Op: "GetService", Err: fmt.Errorf("service %q not found", name)}
	}
	copied := *svc
	return &copied, nil
}

func (f *Fake) DeleteNamespace(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DeleteNamespace"); err != nil {
		return err
	}
	delete(f.namespaces, name)
	for k := range f.secrets {
		if len(k) > len(name) && k[:len(name)+1] == name+"/" {
			delete(f.secrets, k)
			delete(f.secretType, k)
		}
	}
	for k := range f.workloads {
		if len(k) > len(name) && k[:len(name)+1] == name+"/" {
			delete(f.workloads, k)
		}
	}
	for k := range f.services {
		if len(k) > len(name) && k[:len(name)+1] == name+"/" {
			delete(f.services, k)
		}
	}
	return nil
}

func (f *Fake) GetNamespace(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetNamespace"); err != nil {
		return err
	}
	if !f.namespaces[name] {
		return &Error{Kind: ErrKindNotFound, Op: "GetNamespace", Err: fmt.Errorf("namespace %q not found", name)}
	}
	return nil
}

func (f *Fake) GetPodMetrics(ctx context.Context, namespace, name string) ([]PodMetrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("GetPodMetrics"); err != nil {
		return nil, err
	}
	return f.podMetrics[key(namespace, name)], nil
}

func (f *Fake) ApplyManifest(ctx context.Context, namespace string, manifest Manifest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ApplyManifest"); err != nil {
		return err
	}
	f.applied = append(f.applied, manifest)
	if manifest.Kind == "Secret" {
		data := make(map[string]string)
		if d, ok := manifest.Body["data"].(map[string]string); ok {
			for k, v := range d {
				data[k] = v
			}
		}
		f.secrets[key(namespace, manifest.Name)] = data
		if t, ok := manifest.Body["type"].(string); ok {
			f.secretType[key(namespace, manifest.Name)] = SecretType(t)
		}
	}
	return nil
}

// --- test helpers ---

// HasNamespace reports whether the namespace exists
func (f *Fake) HasNamespace(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.init()
	return f.namespaces[name]
}

// Secret returns a copy of a stored secret's data, or nil
func (f *Fake) Secret(namespace, name string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.init()
	data, ok := f.secrets[key(namespace, name)]
	if !ok {
		return nil
	}
	copied := make(map[string]string, len(data))
	for k, v := range data {
		copied[k] = v
	}
	return copied
}

// SecretTypeOf returns the stored secret's type
func (f *Fake) SecretTypeOf(namespace, name string) SecretType {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.init()
	return f.secretType[key(namespace, name)]
}

// SetPodMetrics seeds pod metrics for a workload
func (f *Fake) SetPodMetrics(namespace, name string, metrics []PodMetrics) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.init()
	f.podMetrics[key(namespace, name)] = metrics
}

// AppliedManifests returns a copy of all manifests applied via ApplyManifest
func (f *Fake) AppliedManifests() []Manifest {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.init()
	out := make([]Manifest, len(f.applied))
	copy(out, f.applied)
	return out
}
