package worker

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreyhq/drey/pkg/audit"
	"github.com/dreyhq/drey/pkg/ca"
	"github.com/dreyhq/drey/pkg/cluster"
	"github.com/dreyhq/drey/pkg/connector"
	"github.com/dreyhq/drey/pkg/notify"
	"github.com/dreyhq/drey/pkg/storage"
	"github.com/dreyhq/drey/pkg/types"
	"github.com/dreyhq/drey/pkg/vault"
)

type rotatorFixture struct {
	rotator *CertRotator
	store   *storage.Mem
	fake    *cluster.Fake
	conn    *connector.Fake
	broker  *notify.Broker
	events  notify.Subscriber
	caRow   *types.CertificateAuthority
	service *ca.Service
}

func newRotatorFixture(t *testing.T) *rotatorFixture {
	t.Helper()
	store := storage.NewMem()
	service := ca.NewService()
	fake := &cluster.Fake{}
	v, err := vault.New([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	conn := &connector.Fake{}
	registry := connector.NewRegistry()
	registry.Register(types.TypePostgreSQL, connector.FakeFactory(conn))

	broker := notify.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)
	events := broker.Subscribe()

	bundle, err := service.CreateCA("drey", "Drey Internal CA")
	require.NoError(t, err)
	caRow := &types.CertificateAuthority{
		Name:         "internal",
		Type:         types.CATypeSelfSigned,
		Certificate:  bundle.CertificatePEM,
		PrivateKey:   bundle.PrivateKeyPEM,
		Subject:      bundle.Subject,
		Issuer:       bundle.Issuer,
		ValidFrom:    bundle.ValidFrom,
		ValidUntil:   bundle.ValidUntil,
		SerialNumber: bundle.SerialNumber,
		IsManaged:    true,
	}
	require.NoError(t, store.CreateCA(context.Background(), caRow))

	rotator := NewCertRotator(store, service, fake, v, registry, audit.NewRecorder(store), broker, time.Hour)
	return &rotatorFixture{
		rotator: rotator,
		store:   store,
		fake:    fake,
		conn:    conn,
		broker:  broker,
		events:  events,
		caRow:   caRow,
		service: service,
	}
}

// seedBoundCert issues a leaf for a cluster-bound resource and rewrites
// its expiry to daysLeft from now.
func (f *rotatorFixture) seedBoundCert(t *testing.T, daysLeft int, autoRenew bool) (*types.Resource, *types.Certificate) {
	t.Helper()
	ctx := context.Background()

	rt := f.store.SeedResourceType(types.ResourceType{
		Name:                  types.TypePostgreSQL,
		Category:              "database",
		SupportsFullLifecycle: true,
	})
	res := &types.Resource{
		Name:            "webapi",
		ResourceTypeID:  rt.ID,
		TeamID:          7,
		Status:          types.StatusActive,
		LifecycleMode:   types.LifecycleFull,
		K8sNamespace:    "team-7",
		K8sResourceName: "webapi",
		K8sResourceType: "StatefulSet",
		TLSEnabled:      true,
	}
	require.NoError(t, f.store.CreateResource(ctx, res))
	require.NoError(t, f.fake.CreateNamespace(ctx, "team-7"))

	cn := "webapi.team-7.svc.cluster.local"
	sans := []string{"webapi", cn}
	bundle, err := f.service.IssueCertificate(f.caRow.Certificate, f.caRow.PrivateKey, cn, sans, nil, 365)
	require.NoError(t, err)

	cert := &types.Certificate{
		ResourceID:           &res.ID,
		CAID:                 f.caRow.ID,
		Certificate:          bundle.CertificatePEM,
		PrivateKey:           bundle.PrivateKeyPEM,
		CommonName:           cn,
		SANDNS:               sans,
		ValidFrom:            time.Now().AddDate(0, 0, daysLeft-365),
		ValidUntil:           time.Now().AddDate(0, 0, daysLeft),
		SerialNumber:         bundle.SerialNumber,
		AutoRenew:            autoRenew,
		RenewalThresholdDays: 30,
	}
	require.NoError(t, f.store.CreateCertificate(ctx, cert))
	return res, cert
}

func waitForEvent(t *testing.T, events notify.Subscriber, want notify.EventType) *notify.Event {
	t.Helper()
	select {
	case e := <-events:
		require.Equal(t, want, e.Type)
		return e
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s event", want)
		return nil
	}
}

func TestCertRotatorRenewsExpiringCertificate(t *testing.T) {
	f := newRotatorFixture(t)
	_, cert := f.seedBoundCert(t, 5, true)
	oldSerial := cert.SerialNumber
	ctx := context.Background()

	require.NoError(t, f.rotator.Cycle(ctx))

	got, err := f.store.GetCertificate(ctx, cert.ID)
	require.NoError(t, err)
	assert.Equal(t, "webapi.team-7.svc.cluster.local", got.CommonName)
	assert.Equal(t, cert.SANDNS, got.SANDNS)
	assert.NotEqual(t, oldSerial, got.SerialNumber)
	assert.True(t, got.ValidUntil.After(time.Now().AddDate(0, 0, 300)),
		"renewed certificate should be valid for roughly a year")

	// The cluster TLS secret carries the new material, base64-encoded.
	secret := f.fake.Secret("team-7", "webapi-tls")
	require.NotNil(t, secret)
	assert.Equal(t, cluster.SecretTLS, f.fake.SecretTypeOf("team-7", "webapi-tls"))
	crt, err := base64.StdEncoding.DecodeString(secret["tls.crt"])
	require.NoError(t, err)
	assert.Equal(t, got.Certificate, string(crt))
	key, err := base64.StdEncoding.DecodeString(secret["tls.key"])
	require.NoError(t, err)
	assert.Equal(t, got.PrivateKey, string(key))

	// Best-effort reload reached the resource.
	assert.Equal(t, 1, f.conn.Calls("ReloadConfig"))

	logs := f.store.AuditLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, types.ActionCertificateRenewed, logs[0].Action)

	waitForEvent(t, f.events, notify.EventRenewalSuccess)
}

func TestCertRotatorSecondCycleIsNoOp(t *testing.T) {
	f := newRotatorFixture(t)
	f.seedBoundCert(t, 5, true)
	ctx := context.Background()

	require.NoError(t, f.rotator.Cycle(ctx))
	require.NoError(t, f.rotator.Cycle(ctx))

	// The renewed certificate sits outside the window; no second secret push.
	assert.Equal(t, 1, f.fake.Calls["ApplyManifest"])
	assert.Len(t, f.store.AuditLogs(), 1)
}

func TestCertRotatorSecretFailureKeepsStoredCertificate(t *testing.T) {
	f := newRotatorFixture(t)
	f.fake.FailOn = map[string]error{"ApplyManifest": errors.New("apiserver unavailable")}
	_, cert := f.seedBoundCert(t, 5, true)
	oldSerial := cert.SerialNumber
	ctx := context.Background()

	require.NoError(t, f.rotator.Cycle(ctx))

	got, err := f.store.GetCertificate(ctx, cert.ID)
	require.NoError(t, err)
	assert.Equal(t, oldSerial, got.SerialNumber, "stored certificate must not change when the secret push fails")
	assert.Empty(t, f.store.AuditLogs())

	waitForEvent(t, f.events, notify.EventRenewalFailed)
}

func TestCertRotatorWarnsWithoutAutoRenew(t *testing.T) {
	f := newRotatorFixture(t)
	_, cert := f.seedBoundCert(t, 3, false)
	ctx := context.Background()

	require.NoError(t, f.rotator.Cycle(ctx))

	got, err := f.store.GetCertificate(ctx, cert.ID)
	require.NoError(t, err)
	assert.Equal(t, cert.SerialNumber, got.SerialNumber)
	assert.Equal(t, 0, f.fake.Calls["ApplyManifest"])

	e := waitForEvent(t, f.events, notify.EventExpiryWarning)
	assert.Contains(t, e.Message, "expires in")
}

func TestCertRotatorIgnoresCertificatesOutsideThreshold(t *testing.T) {
	f := newRotatorFixture(t)

	// Inside the query window but above the per-certificate threshold.
	_, cert := f.seedBoundCert(t, 25, true)
	ctx := context.Background()
	got, err := f.store.GetCertificate(ctx, cert.ID)
	require.NoError(t, err)
	got.RenewalThresholdDays = 10
	require.NoError(t, f.store.UpdateCertificate(ctx, got))

	require.NoError(t, f.rotator.Cycle(ctx))

	after, err := f.store.GetCertificate(ctx, cert.ID)
	require.NoError(t, err)
	assert.Equal(t, cert.SerialNumber, after.SerialNumber)
	assert.Equal(t, 0, f.fake.Calls["ApplyManifest"])
}
