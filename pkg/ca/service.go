// Package ca issues and renews X.509 certificates for managed resources.
package ca

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"time"

	"github.com/dreyhq/drey/pkg/types"
)

// ErrorKind classifies CA failures
type ErrorKind string

const (
	// ErrKindInvalidPEM - input is not parseable PEM material
	ErrKindInvalidPEM ErrorKind = "invalid_pem"
	// ErrKindKeyGeneration - key material could not be generated
	ErrKindKeyGeneration ErrorKind = "key_generation"
	// ErrKindSigning - the certificate could not be signed
	ErrKindSigning ErrorKind = "signing"
)

// Error is a typed CA failure
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("ca: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsInvalidPEM reports whether err is an invalid-PEM CA error
func IsInvalidPEM(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Kind == ErrKindInvalidPEM
}

const (
	// CA validity: 10 years
	caValidity = 10 * 365 * 24 * time.Hour
	// Default leaf validity: 1 year
	DefaultLeafValidityDays = 365
	// CA key size: 4096 bits (long-lived)
	caKeySize = 4096
	// Leaf key size: 2048 bits (rotated regularly)
	leafKeySize = 2048
)

// Service issues, renews and inspects certificates.
type Service struct{}

// NewService returns the CA service
func NewService() *Service {
	return &Service{}
}

// Bundle is one issued certificate with its key, both PEM-encoded.
type Bundle struct {
	CertificatePEM string
	PrivateKeyPEM  string
	Subject        string
	Issuer         string
	SerialNumber   string
	ValidFrom      time.Time
	ValidUntil     time.Time
}

// CreateCA generates a self-signed CA certificate
func (s *Service) CreateCA(name string, commonName string) (*Bundle, error) {
	key, err := rsa.GenerateKey(rand.Reader, caKeySize)
	if err != nil {
		return nil, &Error{Kind: ErrKindKeyGeneration, Err: fmt.Errorf("failed to generate CA key: %w", err)}
	}

	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{name},
			CommonName:   commonName,
		},
		NotBefore:             now,
		NotAfter:              now.Add(caValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		IsCA:                  true,
		BasicConstraintsValid: true,
		MaxPathLen:            1,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, &Error{Kind: ErrKindSigning, Err: fmt.Errorf("failed to create CA certificate: %w", err)}
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, &Error{Kind: ErrKindSigning, Err: fmt.Errorf("failed to parse CA certificate: %w", err)}
	}
	return bundleFrom(cert, key), nil
}

// IssueCertificate signs a leaf certificate under the given CA
func (s *Service) IssueCertificate(caCertPEM, caKeyPEM, commonName string, sanDNS []string, sanIPs []string, validityDays int) (*Bundle, error) {
	caCert, err := parseCertPEM(caCertPEM)
	if err != nil {
		return nil, err
	}
	caKey, err := parseKeyPEM(caKeyPEM)
	if err != nil {
		return nil, err
	}

	key, err := rsa.GenerateKey(rand.Reader, leafKeySize)
	if err != nil {
		return nil, &Error{Kind: ErrKindKeyGeneration, Err: fmt.Errorf("failed to generate key: %w", err)}
	}

	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}

	if validityDays <= 0 {
		validityDays = DefaultLeafValidityDays
	}

	var ips []net.IP
	for _, raw := range sanIPs {
		if ip := net.ParseIP(raw); ip != nil {
			ips = append(ips, ip)
		}
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName: commonName,
		},
		NotBefore:   now,
		NotAfter:    now.Add(time.Duration(validityDays) * 24 * time.Hour),
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:    sanDNS,
		IPAddresses: ips,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, caCert, &key.PublicKey, caKey)
	if err != nil {
		return nil, &Error{Kind: ErrKindSigning, Err: fmt.Errorf("failed to sign certificate: %w", err)}
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, &Error{Kind: ErrKindSigning, Err: fmt.Errorf("failed to parse signed certificate: %w", err)}
	}
	return bundleFrom(cert, key), nil
}

// RenewCertificate issues a fresh certificate with the same CN and SANs
func (s *Service) RenewCertificate(ca *types.CertificateAuthority, cert *types.Certificate) (*Bundle, error) {
	return s.IssueCertificate(ca.Certificate, ca.PrivateKey,
		cert.CommonName, cert.SANDNS, cert.SANIPs, DefaultLeafValidityDays)
}

// ParseBundle extracts metadata from a PEM certificate
func (s *Service) ParseBundle(certPEM string) (*Bundle, error) {
	cert, err := parseCertPEM(certPEM)
	if err != nil {
		return nil, err
	}
	return &Bundle{
		CertificatePEM: certPEM,
		Subject:        cert.Subject.String(),
		Issuer:         cert.Issuer.String(),
		SerialNumber:   cert.SerialNumber.Text(16),
		ValidFrom:      cert.NotBefore,
		ValidUntil:     cert.NotAfter,
	}, nil
}

func bundleFrom(cert *x509.Certificate, key *rsa.PrivateKey) *Bundle {
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	return &Bundle{
		CertificatePEM: string(certPEM),
		PrivateKeyPEM:  string(keyPEM),
		Subject:        cert.Subject.String(),
		Issuer:         cert.Issuer.String(),
		SerialNumber:   cert.SerialNumber.Text(16),
		ValidFrom:      cert.NotBefore,
		ValidUntil:     cert.NotAfter,
	}
}

func randomSerial() (*big.Int, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, &Error{Kind: ErrKindKeyGeneration, Err: fmt.Errorf("failed to generate serial number: %w", err)}
	}
	return serial, nil
}

func parseCertPEM(certPEM string) (*x509.Certificate, error) {
	block, _ := pem.Decode([]byte(certPEM))
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, &Error{Kind: ErrKindInvalidPEM, Err: fmt.Errorf("no certificate block found")}
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, &Error{Kind: ErrKindInvalidPEM, Err: fmt.Errorf("failed to parse certificate: %w", err)}
	}
	return cert, nil
}

func parseKeyPEM(keyPEM string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(keyPEM))
	if block == nil {
		return nil, &Error{Kind: ErrKindInvalidPEM, Err: fmt.Errorf("no key block found")}
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, &Error{Kind: ErrKindInvalidPEM, Err: fmt.Errorf("failed to parse private key: %w", err)}
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, &Error{Kind: ErrKindInvalidPEM, Err: fmt.Errorf("unsupported key type %T", parsed)}
	}
	return key, nil
}
