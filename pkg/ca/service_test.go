package ca

import (
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreyhq/drey/pkg/types"
)

func TestCreateCA(t *testing.T) {
	s := NewService()
	bundle, err := s.CreateCA("drey", "Drey Internal CA")
	require.NoError(t, err)

	block, _ := pem.Decode([]byte(bundle.CertificatePEM))
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)

	assert.True(t, cert.IsCA)
	assert.Equal(t, "Drey Internal CA", cert.Subject.CommonName)
	assert.Equal(t, cert.Subject.String(), cert.Issuer.String(), "CA is self-signed")
	assert.True(t, cert.NotAfter.After(time.Now().AddDate(9, 0, 0)), "CA valid for about ten years")
	assert.NotEmpty(t, bundle.SerialNumber)
}

func TestIssueCertificateChainsToCA(t *testing.T) {
	s := NewService()
	caBundle, err := s.CreateCA("drey", "Drey Internal CA")
	require.NoError(t, err)

	leaf, err := s.IssueCertificate(caBundle.CertificatePEM, caBundle.PrivateKeyPEM,
		"db.team-1.svc.cluster.local", []string{"db", "db.team-1.svc.cluster.local"}, []string{"10.0.0.5"}, 90)
	require.NoError(t, err)

	block, _ := pem.Decode([]byte(leaf.CertificatePEM))
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)

	assert.Equal(t, "db.team-1.svc.cluster.local", cert.Subject.CommonName)
	assert.ElementsMatch(t, []string{"db", "db.team-1.svc.cluster.local"}, cert.DNSNames)
	require.Len(t, cert.IPAddresses, 1)
	assert.Equal(t, "10.0.0.5", cert.IPAddresses[0].String())
	assert.False(t, cert.IsCA)

	roots := x509.NewCertPool()
	require.True(t, roots.AppendCertsFromPEM([]byte(caBundle.CertificatePEM)))
	_, err = cert.Verify(x509.VerifyOptions{Roots: roots, KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}})
	assert.NoError(t, err, "leaf must chain to the issuing CA")

	// About 90 days of validity.
	assert.WithinDuration(t, time.Now().AddDate(0, 0, 90), cert.NotAfter, time.Hour)
}

func TestIssueCertificateDefaultValidity(t *testing.T) {
	s := NewService()
	caBundle, err := s.CreateCA("drey", "Drey Internal CA")
	require.NoError(t, err)

	leaf, err := s.IssueCertificate(caBundle.CertificatePEM, caBundle.PrivateKeyPEM, "svc", nil, nil, 0)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, DefaultLeafValidityDays), leaf.ValidUntil, time.Hour)
}

func TestRenewCertificateKeepsIdentity(t *testing.T) {
	s := NewService()
	caBundle, err := s.CreateCA("drey", "Drey Internal CA")
	require.NoError(t, err)

	caRow := &types.CertificateAuthority{
		Certificate: caBundle.CertificatePEM,
		PrivateKey:  caBundle.PrivateKeyPEM,
	}
	original, err := s.IssueCertificate(caBundle.CertificatePEM, caBundle.PrivateKeyPEM,
		"cache.team-2.svc.cluster.local", []string{"cache"}, nil, 30)
	require.NoError(t, err)

	cert := &types.Certificate{
		Certificate: original.CertificatePEM,
		PrivateKey:  original.PrivateKeyPEM,
		CommonName:  "cache.team-2.svc.cluster.local",
		SANDNS:      []string{"cache"},
	}
	renewed, err := s.RenewCertificate(caRow, cert)
	require.NoError(t, err)

	assert.NotEqual(t, original.SerialNumber, renewed.SerialNumber)
	block, _ := pem.Decode([]byte(renewed.CertificatePEM))
	require.NotNil(t, block)
	parsed, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	assert.Equal(t, "cache.team-2.svc.cluster.local", parsed.Subject.CommonName)
	assert.Equal(t, []string{"cache"}, parsed.DNSNames)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, DefaultLeafValidityDays), parsed.NotAfter, time.Hour)
}

func TestParseBundle(t *testing.T) {
	s := NewService()
	caBundle, err := s.CreateCA("drey", "Drey Internal CA")
	require.NoError(t, err)

	parsed, err := s.ParseBundle(caBundle.CertificatePEM)
	require.NoError(t, err)
	assert.Equal(t, caBundle.SerialNumber, parsed.SerialNumber)
	assert.Equal(t, caBundle.Subject, parsed.Subject)
}

func TestInvalidPEMErrors(t *testing.T) {
	s := NewService()

	_, err := s.ParseBundle("not a certificate")
	require.Error(t, err)
	assert.True(t, IsInvalidPEM(err))

	_, err = s.IssueCertificate("garbage", "garbage", "cn", nil, nil, 1)
	require.Error(t, err)
	assert.True(t, IsInvalidPEM(err))
}
