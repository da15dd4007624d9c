package ca

import (
	"context"
	"fmt"
	"time"

	"github.com/dreyhq/drey/pkg/audit"
	"github.com/dreyhq/drey/pkg/rbac"
	"github.com/dreyhq/drey/pkg/storage"
	"github.com/dreyhq/drey/pkg/types"
)

// Manager wraps the CA service with persistence, authorization and audit.
// CA lifecycle operations require a global admin; certificate operations
// require an admin of the owning resource's team.
type Manager struct {
	store   storage.Store
	service *Service
	rbac    *rbac.Checker
	audit   *audit.Recorder
}

// NewManager wires the certificate manager
func NewManager(store storage.Store, service *Service, checker *rbac.Checker, recorder *audit.Recorder) *Manager {
	return &Manager{store: store, service: service, rbac: checker, audit: recorder}
}

// CreateCA generates and persists a new self-signed CA
func (m *Manager) CreateCA(ctx context.Context, userID int64, name, commonName string) (*types.CertificateAuthority, error) {
	if err := m.rbac.RequireGlobalAdmin(ctx, userID); err != nil {
		return nil, err
	}

	bundle, err := m.service.CreateCA(name, commonName)
	if err != nil {
		return nil, err
	}

	ca := &types.CertificateAuthority{
		Name:         name,
		Type:         types.CATypeSelfSigned,
		Certificate:  bundle.CertificatePEM,
		PrivateKey:   bundle.PrivateKeyPEM,
		Subject:      bundle.Subject,
		Issuer:       bundle.Issuer,
		ValidFrom:    bundle.ValidFrom,
		ValidUntil:   bundle.ValidUntil,
		SerialNumber: bundle.SerialNumber,
		IsManaged:    true,
		CreatedBy:    &userID,
	}
	if err := m.store.CreateCA(ctx, ca); err != nil {
		return nil, fmt.Errorf("failed to persist CA: %w", err)
	}

	m.audit.Record(ctx, audit.Entry{
		UserID:       &userID,
		Action:       types.ActionCACreated,
		ResourceType: "certificate_authority",
		ResourceID:   &ca.ID,
		Details:      map[string]any{"name": name, "common_name": commonName},
	})
	return ca, nil
}

// ImportCA persists an externally-issued CA certificate. The private key
// is optional; without it the CA cannot sign renewals.
func (m *Manager) ImportCA(ctx context.Context, userID int64, name, certPEM, keyPEM string, caType types.CAType) (*types.CertificateAuthority, error) {
	if err := m.rbac.RequireGlobalAdmin(ctx, userID); err != nil {
		return nil, err
	}

	parsed, err := m.service.ParseBundle(certPEM)
	if err != nil {
		return nil, err
	}

	ca := &types.CertificateAuthority{
		Name:         name,
		Type:         caType,
		Certificate:  certPEM,
		PrivateKey:   keyPEM,
		Subject:      parsed.Subject,
		Issuer:       parsed.Issuer,
		ValidFrom:    parsed.ValidFrom,
		ValidUntil:   parsed.ValidUntil,
		SerialNumber: parsed.SerialNumber,
		IsManaged:    keyPEM != "",
		CreatedBy:    &userID,
	}
	if err := m.store.CreateCA(ctx, ca); err != nil {
		return nil, fmt.Errorf("failed to persist CA: %w", err)
	}

	m.audit.Record(ctx, audit.Entry{
		UserID:       &userID,
		Action:       types.ActionCAImported,
		ResourceType: "certificate_authority",
		ResourceID:   &ca.ID,
		Details:      map[string]any{"name": name, "type": string(caType)},
	})
	return ca, nil
}

// DeleteCA soft-deletes a CA
func (m *Manager) DeleteCA(ctx context.Context, userID, caID int64) error {
	if err := m.rbac.RequireGlobalAdmin(ctx, userID); err != nil {
		return err
	}
	if err := m.store.SoftDeleteCA(ctx, caID); err != nil {
		return err
	}
	m.audit.Record(ctx, audit.Entry{
		UserID:       &userID,
		Action:       types.ActionCADeleted,
		ResourceType: "certificate_authority",
		ResourceID:   &caID,
	})
	return nil
}

// GenerateCertificate issues and persists a leaf certificate, optionally
// bound to a resource
func (m *Manager) GenerateCertificate(ctx context.Context, userID, caID int64, resourceID *int64, commonName string, sanDNS, sanIPs []string, validityDays int, autoRenew bool) (*types.Certificate, error) {
	if err := m.authorizeCertOp(ctx, userID, resourceID); err != nil {
		return nil, err
	}

	caRow, err := m.store.GetCA(ctx, caID)
	if err != nil {
		return nil, err
	}

	bundle, err := m.service.IssueCertificate(caRow.Certificate, caRow.PrivateKey,
		commonName, sanDNS, sanIPs, validityDays)
	if err != nil {
		return nil, err
	}

	cert := &types.Certificate{
		ResourceID:   resourceID,
		CAID:         caID,
		Certificate:  bundle.CertificatePEM,
		PrivateKey:   bundle.PrivateKeyPEM,
		CommonName:   commonName,
		SANDNS:       sanDNS,
		SANIPs:       sanIPs,
		ValidFrom:    bundle.ValidFrom,
		ValidUntil:   bundle.ValidUntil,
		SerialNumber: bundle.SerialNumber,
		AutoRenew:    autoRenew,
	}
	if err := m.store.CreateCertificate(ctx, cert); err != nil {
		return nil, fmt.Errorf("failed to persist certificate: %w", err)
	}

	m.audit.Record(ctx, audit.Entry{
		UserID:       &userID,
		Action:       types.ActionCertificateGenerated,
		ResourceType: "certificate",
		ResourceID:   &cert.ID,
		Details:      map[string]any{"common_name": commonName, "ca_id": caID},
	})
	return cert, nil
}

// RenewCertificate re-issues a certificate with the same CN and SANs
func (m *Manager) RenewCertificate(ctx context.Context, userID, certID int64) (*types.Certificate, error) {
	cert, err := m.store.GetCertificate(ctx, certID)
	if err != nil {
		return nil, err
	}
	if err := m.authorizeCertOp(ctx, userID, cert.ResourceID); err != nil {
		return nil, err
	}

	caRow, err := m.store.GetCA(ctx, cert.CAID)
	if err != nil {
		return nil, err
	}

	bundle, err := m.service.RenewCertificate(caRow, cert)
	if err != nil {
		return nil, err
	}

	cert.Certificate = bundle.CertificatePEM
	cert.PrivateKey = bundle.PrivateKeyPEM
	cert.ValidFrom = bundle.ValidFrom
	cert.ValidUntil = bundle.ValidUntil
	cert.SerialNumber = bundle.SerialNumber
	if err := m.store.UpdateCertificate(ctx, cert); err != nil {
		return nil, fmt.Errorf("failed to persist renewed certificate: %w", err)
	}

	m.audit.Record(ctx, audit.Entry{
		UserID:       &userID,
		Action:       types.ActionCertificateRenewed,
		ResourceType: "certificate",
		ResourceID:   &cert.ID,
		Details:      map[string]any{"valid_until": cert.ValidUntil.Format(time.RFC3339)},
	})
	return cert, nil
}

// RevokeCertificate soft-deletes a certificate
func (m *Manager) RevokeCertificate(ctx context.Context, userID, certID int64) error {
	cert, err := m.store.GetCertificate(ctx, certID)
	if err != nil {
		return err
	}
	if err := m.authorizeCertOp(ctx, userID, cert.ResourceID); err != nil {
		return err
	}
	if err := m.store.SoftDeleteCertificate(ctx, certID); err != nil {
		return err
	}
	m.audit.Record(ctx, audit.Entry{
		UserID:       &userID,
		Action:       types.ActionCertificateRevoked,
		ResourceType: "certificate",
		ResourceID:   &certID,
	})
	return nil
}

// authorizeCertOp requires team admin when the certificate is bound to a
// resource, global admin otherwise
func (m *Manager) authorizeCertOp(ctx context.Context, userID int64, resourceID *int64) error {
	if resourceID == nil {
		return m.rbac.RequireGlobalAdmin(ctx, userID)
	}
	res, err := m.store.GetResource(ctx, *resourceID)
	if err != nil {
		return err
	}
	return m.rbac.RequireTeamAdmin(ctx, userID, res.TeamID)
}
