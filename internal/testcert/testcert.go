// Package testcert mints throwaway device certificates for tests.
package testcert

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"math/big"
	"testing"
	"time"
)

// Device is a self-signed certificate together with its private key.
type Device struct {
	Cert *x509.Certificate
	Key  crypto.Signer
}

// NewRSA creates a device certificate backed by a 2048-bit RSA key.
func NewRSA(t testing.TB, commonName string) *Device {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	return selfSign(t, commonName, key)
}

// NewECDSA creates a device certificate backed by a P-256 key.
func NewECDSA(t testing.TB, commonName string) *Device {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate ecdsa key: %v", err)
	}
	return selfSign(t, commonName, key)
}

func selfSign(t testing.TB, commonName string, key crypto.Signer) *Device {
	t.Helper()
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, key.Public(), key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	return &Device{Cert: cert, Key: key}
}

// PEMBase64 returns the certificate as base64-encoded PEM text, the form devices send.
func (d *Device) PEMBase64() string {
	block := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: d.Cert.Raw})
	return base64.StdEncoding.EncodeToString(block)
}

// DERBase64 returns the certificate as base64-encoded DER.
func (d *Device) DERBase64() string {
	return base64.StdEncoding.EncodeToString(d.Cert.Raw)
}

// Sign signs message with SHA-256 and returns the raw signature.
func (d *Device) Sign(t testing.TB, message []byte) []byte {
	t.Helper()
	digest := sha256.Sum256(message)
	sig, err := d.Key.Sign(rand.Reader, digest[:], crypto.SHA256)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return sig
}

// SignBase64 is Sign with the result base64-encoded.
func (d *Device) SignBase64(t testing.TB, message []byte) string {
	return base64.StdEncoding.EncodeToString(d.Sign(t, message))
}
