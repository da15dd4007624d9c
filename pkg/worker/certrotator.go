package worker

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dreyhq/drey/pkg/audit"
	"github.com/dreyhq/drey/pkg/ca"
	"github.com/dreyhq/drey/pkg/cluster"
	"github.com/dreyhq/drey/pkg/connector"
	"github.com/dreyhq/drey/pkg/log"
	"github.com/dreyhq/drey/pkg/metrics"
	"github.com/dreyhq/drey/pkg/notify"
	"github.com/dreyhq/drey/pkg/storage"
	"github.com/dreyhq/drey/pkg/types"
	"github.com/dreyhq/drey/pkg/vault"
)

// renewalWindowDays bounds the expiry query; per-certificate thresholds
// are checked against each row inside the window.
const renewalWindowDays = 30

// CertRotator renews expiring certificates and warns about ones it
// cannot renew.
type CertRotator struct {
	store    storage.Store
	service  *ca.Service
	cluster  cluster.Client
	vault    *vault.Vault
	registry *connector.Registry
	audit    *audit.Recorder
	notify   *notify.Broker
	interval time.Duration
	logger   zerolog.Logger

	NotificationThresholdDays int
	// Now is the clock; tests substitute it.
	Now func() time.Time
}

// NewCertRotator wires the rotation worker with a 24-hour interval
func NewCertRotator(store storage.Store, service *ca.Service, c cluster.Client, v *vault.Vault, registry *connector.Registry, recorder *audit.Recorder, broker *notify.Broker, interval time.Duration) *CertRotator {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &CertRotator{
		store:    store,
		service:  service,
		cluster:  c,
		vault:    v,
		registry: registry,
		audit:    recorder,
		notify:   broker,
		interval: interval,
		logger:   log.WithWorker("cert-rotator"),

		NotificationThresholdDays: 7,
		Now:                       time.Now,
	}
}

func (r *CertRotator) Name() string            { return "cert-rotator" }
func (r *CertRotator) Interval() time.Duration { return r.interval }

// Cycle examines every certificate inside the renewal window. A failure
// on one certificate never stops the cycle.
func (r *CertRotator) Cycle(ctx context.Context) error {
	now := r.Now()
	deadline := now.AddDate(0, 0, renewalWindowDays)

	certs, err := r.store.ListCertificatesExpiringBy(ctx, deadline)
	if err != nil {
		return err
	}

	for _, cert := range certs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		days := cert.DaysUntilExpiry(now)
		if days > cert.RenewalThresholdDays {
			continue
		}

		if !cert.AutoRenew {
			if days <= r.NotificationThresholdDays {
				r.warnExpiry(cert, days)
			}
			continue
		}

		if err := r.renew(ctx, cert); err != nil {
			r.logger.Error().Err(err).Int64("certificate_id", cert.ID).
				Str("common_name", cert.CommonName).Msg("certificate renewal failed")
			r.notify.Publish(&notify.Event{
				Type:    notify.EventRenewalFailed,
				Message: fmt.Sprintf("renewal of %s failed: %v", cert.CommonName, err),
				Metadata: map[string]string{
					"certificate_id": fmt.Sprint(cert.ID),
					"common_name":    cert.CommonName,
				},
			})
		}
	}
	return nil
}

// renew is two-phase: issue then push the cluster secret, and only then
// persist. A cluster failure after issuance leaves the stored
// certificate untouched.
func (r *CertRotator) renew(ctx context.Context, cert *types.Certificate) error {
	caRow, err := r.store.GetCA(ctx, cert.CAID)
	if err != nil {
		return err
	}

	// Capture the old material so a late failure can be reported with
	// certainty about what is still live.
	oldSerial := cert.SerialNumber

	bundle, err := r.service.RenewCertificate(caRow, cert)
	if err != nil {
		return err
	}

	var res *types.Resource
	if cert.ResourceID != nil {
		res, err = r.store.GetResource(ctx, *cert.ResourceID)
		if err != nil {
			return err
		}
		if res.IsClusterBound() {
			if err := r.applyTLSSecret(ctx, res, bundle); err != nil {
				return fmt.Errorf("cluster secret update failed, keeping certificate %s: %w", oldSerial, err)
			}
		}
	}

	cert.Certificate = bundle.CertificatePEM
	cert.PrivateKey = bundle.PrivateKeyPEM
	cert.ValidFrom = bundle.ValidFrom
	cert.ValidUntil = bundle.ValidUntil
	cert.SerialNumber = bundle.SerialNumber
	if err := r.store.UpdateCertificate(ctx, cert); err != nil {
		return err
	}

	if res != nil {
		r.reloadResource(ctx, res)
	}

	r.audit.Record(ctx, audit.Entry{
		Action:       types.ActionCertificateRenewed,
		ResourceType: "certificate",
		ResourceID:   &cert.ID,
		Details: map[string]any{
			"common_name": cert.CommonName,
			"old_serial":  oldSerial,
			"new_serial":  cert.SerialNumber,
			"valid_until": cert.ValidUntil.Format(time.RFC3339),
		},
	})
	r.notify.Publish(&notify.Event{
		Type:    notify.EventRenewalSuccess,
		Message: fmt.Sprintf("certificate %s renewed until %s", cert.CommonName, cert.ValidUntil.Format(time.RFC3339)),
		Metadata: map[string]string{
			"certificate_id": fmt.Sprint(cert.ID),
			"common_name":    cert.CommonName,
		},
	})
	metrics.CertificatesRenewed.Inc()
	r.logger.Info().Int64("certificate_id", cert.ID).
		Str("common_name", cert.CommonName).
		Time("valid_until", cert.ValidUntil).Msg("certificate renewed")
	return nil
}

func (r *CertRotator) applyTLSSecret(ctx context.Context, res *types.Resource, bundle *ca.Bundle) error {
	secretName := res.K8sResourceName + "-tls"
	manifest := cluster.Manifest{
		Kind: "Secret",
		Name: secretName,
		Body: map[string]any{
			"apiVersion": "v1",
			"kind":       "Secret",
			"type":       string(cluster.SecretTLS),
			"metadata": map[string]any{
				"name":      secretName,
				"namespace": res.K8sNamespace,
			},
			"data": map[string]string{
				"tls.crt": base64.StdEncoding.EncodeToString([]byte(bundle.CertificatePEM)),
				"tls.key": base64.StdEncoding.EncodeToString([]byte(bundle.PrivateKeyPEM)),
			},
		},
	}
	return r.cluster.ApplyManifest(ctx, res.K8sNamespace, manifest)
}

// reloadResource asks the resource to pick up the new certificate.
// Best-effort: a reload failure does not undo the renewal.
func (r *CertRotator) reloadResource(ctx context.Context, res *types.Resource) {
	rt, err := r.store.GetResourceType(ctx, res.ResourceTypeID)
	if err != nil {
		r.logger.Warn().Err(err).Int64("resource_id", res.ID).Msg("skipping reload after renewal")
		return
	}
	var creds map[string]string
	if len(res.Credentials) > 0 {
		creds, err = r.vault.DecryptMap(res.Credentials)
		if err != nil {
			r.logger.Warn().Err(err).Int64("resource_id", res.ID).Msg("skipping reload after renewal")
			return
		}
	}
	conn, err := r.registry.New(rt.Name, res.ConnectionInfo, creds)
	if err != nil {
		r.logger.Warn().Err(err).Int64("resource_id", res.ID).Msg("skipping reload after renewal")
		return
	}
	defer conn.Close()
	if err := conn.ReloadConfig(ctx); err != nil && !connector.IsUnsupported(err) {
		r.logger.Warn().Err(err).Int64("resource_id", res.ID).Msg("config reload after renewal failed")
	}
}

func (r *CertRotator) warnExpiry(cert *types.Certificate, days int) {
	r.logger.Warn().Int64("certificate_id", cert.ID).
		Str("common_name", cert.CommonName).Int("days_until_expiry", days).
		Msg("certificate expires soon and auto-renew is off")
	r.notify.Publish(&notify.Event{
		Type:    notify.EventExpiryWarning,
		Message: fmt.Sprintf("certificate %s expires in %d days", cert.CommonName, days),
		Metadata: map[string]string{
			"certificate_id": fmt.Sprint(cert.ID),
			"common_name":    cert.CommonName,
			"days":           fmt.Sprint(days),
		},
	})
}
