// Package provisioner drives the full-lifecycle state machine for
// cluster-hosted resources: provision, deprovision, scale and config
// updates, with rollback on partial failure.
package provisioner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dreyhq/drey/pkg/cluster"
	"github.com/dreyhq/drey/pkg/log"
	"github.com/dreyhq/drey/pkg/metrics"
	"github.com/dreyhq/drey/pkg/storage"
	"github.com/dreyhq/drey/pkg/template"
	"github.com/dreyhq/drey/pkg/types"
	"github.com/dreyhq/drey/pkg/vault"
)

// Provisioner orchestrates cluster-hosted resource lifecycles.
type Provisioner struct {
	store    storage.Store
	vault    *vault.Vault
	cluster  cluster.Client
	renderer *template.Renderer
	logger   zerolog.Logger

	// Poll tuning; tests shrink these.
	ReadinessPollInterval time.Duration
	ReadinessTimeout      time.Duration
	DeletionPollInterval  time.Duration
	DeletionTimeout       time.Duration
}

// New wires a provisioner with production poll intervals
func New(store storage.Store, v *vault.Vault, c cluster.Client, r *template.Renderer) *Provisioner {
	return &Provisioner{
		store:    store,
		vault:    v,
		cluster:  c,
		renderer: r,
		logger:   log.WithComponent("provisioner"),

		ReadinessPollInterval: 5 * time.Second,
		ReadinessTimeout:      300 * time.Second,
		DeletionPollInterval:  2 * time.Second,
		DeletionTimeout:       60 * time.Second,
	}
}

// Provision drives a pending resource to active, creating every cluster
// object it needs. On failure the resource is marked error and the
// namespace is torn down best-effort.
func (p *Provisioner) Provision(ctx context.Context, resourceID int64, userID *int64) error {
	runID := uuid.NewString()
	logger := p.logger.With().Int64("resource_id", resourceID).Str("run_id", runID).Logger()

	res, err := p.store.GetResource(ctx, resourceID)
	if err != nil {
		return err
	}
	rt, err := p.store.GetResourceType(ctx, res.ResourceTypeID)
	if err != nil {
		return err
	}
	if !rt.SupportsFullLifecycle || !template.Supported(rt.Name) {
		return fmt.Errorf("resource type %q does not support full lifecycle provisioning", rt.Name)
	}

	job := &types.ProvisioningJob{
		ResourceID: resourceID,
		JobType:    types.JobProvision,
		Status:     types.JobPending,
		CreatedBy:  userID,
	}
	if err := p.store.CreateProvisioningJob(ctx, job); err != nil {
		return err
	}
	started := time.Now()
	p.startJob(ctx, job)

	res.Status = types.StatusProvisioning
	if err := p.store.UpdateResource(ctx, res); err != nil {
		return p.failProvision(ctx, logger, res, job, nil, started, err)
	}

	namespace := fmt.Sprintf("team-%d", res.TeamID)
	var steps []string
	step := func(format string, args ...any) {
		steps = append(steps, fmt.Sprintf(format, args...))
	}

	logger.Info().Str("type", rt.Name).Str("namespace", namespace).Msg("provisioning resource")

	if err := p.cluster.CreateNamespace(ctx, namespace); err != nil {
		return p.failProvision(ctx, logger, res, job, steps, started, fmt.Errorf("failed to create namespace: %w", err))
	}
	step("created namespace %s", namespace)

	creds, err := generateCredentials(rt.Name)
	if err != nil {
		return p.failProvision(ctx, logger, res, job, steps, started, fmt.Errorf("failed to generate credentials: %w", err))
	}
	step("generated credentials")

	secretName := res.Name + "-secret"
	if err := p.cluster.CreateSecret(ctx, namespace, secretName, creds, cluster.SecretOpaque,
		map[string]string{"app": res.Name}); err != nil {
		return p.failProvision(ctx, logger, res, job, steps, started, fmt.Errorf("failed to create secret: %w", err))
	}
	step("created secret %s", secretName)

	prefix, _ := template.Prefix(rt.Name)
	tctx := map[string]any{
		"namespace":                  namespace,
		prefix + "_name":             res.Name,
		prefix + "_secret_name":      secretName,
		prefix + "_replicas":         1,
		"storage_class":              "standard",
		prefix + "_storage_size":     "10Gi",
	}
	for k, v := range creds {
		tctx[prefix+"_"+k] = v
	}
	for k, v := range res.Config {
		tctx[k] = v
	}

	rendered, err := p.renderer.Render(rt.Name, tctx)
	if err != nil {
		return p.failProvision(ctx, logger, res, job, steps, started, err)
	}
	bundle, err := template.SplitBundle(rendered)
	if err != nil {
		return p.failProvision(ctx, logger, res, job, steps, started, err)
	}
	step("rendered manifest bundle")

	if bundle.Service != nil {
		if err := p.cluster.CreateService(ctx, namespace, *bundle.Service); err != nil {
			return p.failProvision(ctx, logger, res, job, steps, started, fmt.Errorf("failed to create service: %w", err))
		}
		step("created service %s", bundle.Service.Name)
	}
	if err := p.cluster.CreateStatefulWorkload(ctx, namespace, *bundle.Workload); err != nil {
		return p.failProvision(ctx, logger, res, job, steps, started, fmt.Errorf("failed to create workload: %w", err))
	}
	step("created stateful workload %s", bundle.Workload.Name)

	if err := p.waitForReadiness(ctx, namespace, bundle.Workload.Name, 0); err != nil {
		return p.failProvision(ctx, logger, res, job, steps, started, err)
	}
	step("workload ready")

	serviceName := res.Name
	if bundle.Service != nil {
		serviceName = bundle.Service.Name
	}
	endpoint := fmt.Sprintf("%s.%s.svc.cluster.local", serviceName, namespace)

	sealed, err := p.vault.EncryptMap(creds)
	if err != nil {
		return p.failProvision(ctx, logger, res, job, steps, started, fmt.Errorf("failed to encrypt credentials: %w", err))
	}

	res.Status = types.StatusActive
	res.K8sNamespace = namespace
	res.K8sResourceName = bundle.Workload.Name
	res.K8sResourceType = bundle.Workload.Kind
	res.Credentials = sealed
	res.ConnectionInfo = &types.ConnectionInfo{
		Host:        endpoint,
		Port:        defaultPort(rt.Name),
		Namespace:   namespace,
		ServiceName: serviceName,
	}
	if err := p.store.UpdateResource(ctx, res); err != nil {
		return p.failProvision(ctx, logger, res, job, steps, started, err)
	}
	step("resource active at %s", endpoint)

	p.completeJob(ctx, job, strings.Join(steps, "\n"))
	metrics.ProvisioningDuration.WithLabelValues(string(types.JobProvision)).Observe(time.Since(started).Seconds())
	metrics.ProvisioningJobsTotal.WithLabelValues(string(types.JobProvision), string(types.JobCompleted)).Inc()
	logger.Info().Dur("elapsed", time.Since(started)).Msg("resource provisioned")
	return nil
}

// failProvision records the failure, then rolls the cluster state back.
// Rollback errors are logged; the original error surfaces.
func (p *Provisioner) failProvision(ctx context.Context, logger zerolog.Logger, res *types.Resource, job *types.ProvisioningJob, steps []string, started time.Time, cause error) error {
	logger.Error().Err(cause).Msg("provisioning failed, rolling back")

	res.Status = types.StatusError
	if err := p.store.UpdateResource(ctx, res); err != nil {
		logger.Error().Err(err).Msg("failed to mark resource as error during rollback")
	}

	now := time.Now().UTC()
	job.Status = types.JobFailed
	job.CompletedAt = &now
	job.Logs = strings.Join(steps, "\n")
	job.ErrorMessage = cause.Error()
	if err := p.store.UpdateProvisioningJob(ctx, job); err != nil {
		logger.Error().Err(err).Msg("failed to record failed job during rollback")
	}

	namespace := fmt.Sprintf("team-%d", res.TeamID)
	if err := p.cluster.DeleteNamespace(ctx, namespace); err != nil && !cluster.IsNotFound(err) {
		logger.Error().Err(err).Str("namespace", namespace).Msg("rollback namespace delete failed")
	}

	metrics.ProvisioningJobsTotal.WithLabelValues(string(types.JobProvision), string(types.JobFailed)).Inc()
	return cause
}

// Deprovision deletes the resource's namespace and tombstones the record
func (p *Provisioner) Deprovision(ctx context.Context, resourceID int64, userID *int64) error {
	logger := p.logger.With().Int64("resource_id", resourceID).Logger()

	res, err := p.store.GetResource(ctx, resourceID)
	if err != nil {
		return err
	}

	job := &types.ProvisioningJob{
		ResourceID: resourceID,
		JobType:    types.JobDeprovision,
		Status:     types.JobPending,
		CreatedBy:  userID,
	}
	if err := p.store.CreateProvisioningJob(ctx, job); err != nil {
		return err
	}
	p.startJob(ctx, job)

	namespace := res.K8sNamespace
	if namespace == "" {
		namespace = fmt.Sprintf("team-%d", res.TeamID)
	}

	if err := p.cluster.DeleteNamespace(ctx, namespace); err != nil && !cluster.IsNotFound(err) {
		p.failJob(ctx, job, err)
		return fmt.Errorf("failed to delete namespace: %w", err)
	}

	// Deletion is asynchronous; wait until the namespace is gone.
	deadline := time.Now().Add(p.DeletionTimeout)
	for {
		err := p.cluster.GetNamespace(ctx, namespace)
		if cluster.IsNotFound(err) {
			break
		}
		if time.Now().After(deadline) {
			logger.Warn().Str("namespace", namespace).Msg("namespace still terminating after deadline")
			break
		}
		select {
		case <-ctx.Done():
			p.failJob(ctx, job, ctx.Err())
			return ctx.Err()
		case <-time.After(p.DeletionPollInterval):
		}
	}

	res.K8sNamespace = ""
	res.K8sResourceName = ""
	res.K8sResourceType = ""
	if err := p.store.UpdateResource(ctx, res); err != nil {
		p.failJob(ctx, job, err)
		return err
	}
	if err := p.store.SoftDeleteResource(ctx, resourceID); err != nil {
		p.failJob(ctx, job, err)
		return err
	}

	p.completeJob(ctx, job, fmt.Sprintf("deleted namespace %s", namespace))
	metrics.ProvisioningJobsTotal.WithLabelValues(string(types.JobDeprovision), string(types.JobCompleted)).Inc()
	logger.Info().Msg("resource deprovisioned")
	return nil
}

// Scale changes the workload's replica count and waits for readiness
func (p *Provisioner) Scale(ctx context.Context, resourceID int64, replicas int32, userID *int64) error {
	if replicas < 1 {
		return fmt.Errorf("replica count must be >= 1, got %d", replicas)
	}

	res, err := p.store.GetResource(ctx, resourceID)
	if err != nil {
		return err
	}
	if !res.CanScale {
		return fmt.Errorf("resource %d does not allow scaling", resourceID)
	}
	if !res.IsClusterBound() {
		return fmt.Errorf("resource %d has no cluster binding", resourceID)
	}

	job := &types.ProvisioningJob{
		ResourceID: resourceID,
		JobType:    types.JobScale,
		Status:     types.JobPending,
		CreatedBy:  userID,
	}
	if err := p.store.CreateProvisioningJob(ctx, job); err != nil {
		return err
	}
	p.startJob(ctx, job)

	res.Status = types.StatusUpdating
	if err := p.store.UpdateResource(ctx, res); err != nil {
		p.failJob(ctx, job, err)
		return err
	}

	if err := p.cluster.ScaleStatefulWorkload(ctx, res.K8sNamespace, res.K8sResourceName, replicas); err != nil {
		p.markError(ctx, res)
		p.failJob(ctx, job, err)
		return fmt.Errorf("failed to scale workload: %w", err)
	}

	if err := p.waitForReadiness(ctx, res.K8sNamespace, res.K8sResourceName, replicas); err != nil {
		p.markError(ctx, res)
		p.failJob(ctx, job, err)
		return err
	}

	if res.Config == nil {
		res.Config = types.Config{}
	}
	res.Config["replicas"] = int(replicas)
	res.Status = types.StatusActive
	if err := p.store.UpdateResource(ctx, res); err != nil {
		p.failJob(ctx, job, err)
		return err
	}

	p.completeJob(ctx, job, fmt.Sprintf("scaled to %d replicas", replicas))
	metrics.ProvisioningJobsTotal.WithLabelValues(string(types.JobScale), string(types.JobCompleted)).Inc()
	return nil
}

// UpdateConfig deep-merges new parameters into the stored config. The
// running workload keeps its manifest until the next provision-level
// change; reconciliation of live state is deliberately deferred.
func (p *Provisioner) UpdateConfig(ctx context.Context, resourceID int64, params map[string]any, userID *int64) error {
	res, err := p.store.GetResource(ctx, resourceID)
	if err != nil {
		return err
	}
	if !res.CanModifyConfig {
		return fmt.Errorf("resource %d does not allow config changes", resourceID)
	}

	job := &types.ProvisioningJob{
		ResourceID: resourceID,
		JobType:    types.JobUpdateConfig,
		Status:     types.JobPending,
		CreatedBy:  userID,
	}
	if err := p.store.CreateProvisioningJob(ctx, job); err != nil {
		return err
	}
	p.startJob(ctx, job)

	res.Status = types.StatusUpdating
	if err := p.store.UpdateResource(ctx, res); err != nil {
		p.failJob(ctx, job, err)
		return err
	}

	res.Config = deepMerge(res.Config, params)
	res.Status = types.StatusActive
	if err := p.store.UpdateResource(ctx, res); err != nil {
		p.failJob(ctx, job, err)
		return err
	}

	p.completeJob(ctx, job, fmt.Sprintf("merged %d config keys", len(params)))
	metrics.ProvisioningJobsTotal.WithLabelValues(string(types.JobUpdateConfig), string(types.JobCompleted)).Inc()
	return nil
}

func (p *Provisioner) waitForReadiness(ctx context.Context, namespace, name string, want int32) error {
	deadline := time.Now().Add(p.ReadinessTimeout)
	for {
		status, err := p.cluster.GetStatefulWorkload(ctx, namespace, name)
		if err == nil {
			if want > 0 {
				if status.ReadyReplicas >= want {
					return nil
				}
			} else if status.Ready() {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("workload %s/%s not ready after %s", namespace, name, p.ReadinessTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.ReadinessPollInterval):
		}
	}
}

func (p *Provisioner) markError(ctx context.Context, res *types.Resource) {
	res.Status = types.StatusError
	if err := p.store.UpdateResource(ctx, res); err != nil {
		p.logger.Error().Err(err).Int64("resource_id", res.ID).Msg("failed to mark resource as error")
	}
}

func (p *Provisioner) startJob(ctx context.Context, job *types.ProvisioningJob) {
	now := time.Now().UTC()
	job.Status = types.JobRunning
	job.StartedAt = &now
	if err := p.store.UpdateProvisioningJob(ctx, job); err != nil {
		p.logger.Error().Err(err).Int64("job_id", job.ID).Msg("failed to mark job running")
	}
}

func (p *Provisioner) completeJob(ctx context.Context, job *types.ProvisioningJob, logs string) {
	now := time.Now().UTC()
	job.Status = types.JobCompleted
	job.CompletedAt = &now
	job.Logs = logs
	if err := p.store.UpdateProvisioningJob(ctx, job); err != nil {
		p.logger.Error().Err(err).Int64("job_id", job.ID).Msg("failed to mark job completed")
	}
}

func (p *Provisioner) failJob(ctx context.Context, job *types.ProvisioningJob, cause error) {
	now := time.Now().UTC()
	job.Status = types.JobFailed
	job.CompletedAt = &now
	job.ErrorMessage = cause.Error()
	if err := p.store.UpdateProvisioningJob(ctx, job); err != nil {
		p.logger.Error().Err(err).Int64("job_id", job.ID).Msg("failed to mark job failed")
	}
}

// deepMerge overlays src onto dst, recursing into nested maps
func deepMerge(dst types.Config, src map[string]any) types.Config {
	if dst == nil {
		dst = types.Config{}
	}
	for k, v := range src {
		if srcMap, ok := v.(map[string]any); ok {
			if dstMap, ok := dst[k].(map[string]any); ok {
				dst[k] = map[string]any(deepMerge(types.Config(dstMap), srcMap))
				continue
			}
		}
		dst[k] = v
	}
	return dst
}
