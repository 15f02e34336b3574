// Package x509util decodes device certificates and performs the
// proof-of-possession checks used by the rotation pipeline.
package x509util

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"strings"

	"github.com/AptLogic/CloudLAPS/internal/errl"
)

// ErrSignature is returned when a signature does not verify against a certificate key.
var ErrSignature = errors.New("signature verification failed")

// DecodeCertificateB64 parses a base64 blob holding either PEM text or raw DER.
// Whitespace inside the blob is ignored, and unpadded base64 is accepted.
func DecodeCertificateB64(blob string) (*x509.Certificate, error) {
	cleaned := strings.Join(strings.Fields(blob), "")
	if cleaned == "" {
		return nil, errl.Errorf("empty certificate")
	}

	raw, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(cleaned, "="))
		if err != nil {
			return nil, errl.Errorf("invalid certificate encoding: %w", err)
		}
	}

	return ParseCertificate(raw)
}

// ParseCertificate parses PEM or DER certificate bytes.
func ParseCertificate(raw []byte) (*x509.Certificate, error) {
	der := raw
	if bytes.Contains(raw, []byte("-----BEGIN")) {
		block, _ := pem.Decode(raw)
		if block == nil {
			return nil, errl.Errorf("invalid PEM data")
		}
		if block.Type != "CERTIFICATE" {
			return nil, errl.Errorf("unexpected PEM block type %q", block.Type)
		}
		der = block.Bytes
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, errl.Errorf("invalid certificate: %w", err)
	}
	return cert, nil
}

// Thumbprint returns the uppercase hex SHA-1 fingerprint of the certificate.
func Thumbprint(cert *x509.Certificate) string {
	sum := sha1.Sum(cert.Raw)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// ThumbprintsMatch compares a computed thumbprint with one supplied by a client.
// Case and the usual separators (spaces, colons) are ignored, but the full
// value must match.
func ThumbprintsMatch(computed, supplied string) bool {
	norm := func(s string) string {
		s = strings.ToUpper(strings.TrimSpace(s))
		return strings.NewReplacer(" ", "", ":", "").Replace(s)
	}
	a, b := norm(computed), norm(supplied)
	return a != "" && a == b
}

// subjectPublicKeyInfo mirrors the SPKI structure so the raw key bits can be read
type subjectPublicKeyInfo struct {
	Algorithm pkix.AlgorithmIdentifier
	PublicKey asn1.BitString
}

// PublicKeyBytes returns the contents of the subjectPublicKey BIT STRING,
// i.e. the encoded key without the algorithm identifier.
func PublicKeyBytes(cert *x509.Certificate) ([]byte, error) {
	var spki subjectPublicKeyInfo
	rest, err := asn1.Unmarshal(cert.RawSubjectPublicKeyInfo, &spki)
	if err != nil {
		return nil, errl.Errorf("invalid subject public key info: %w", err)
	}
	if len(rest) > 0 {
		return nil, errl.Errorf("trailing data after subject public key info")
	}
	return spki.PublicKey.RightAlign(), nil
}

// PublicKeyHash returns base64(SHA-256(PublicKeyBytes(cert))).
func PublicKeyHash(cert *x509.Certificate) (string, error) {
	keyBytes, err := PublicKeyBytes(cert)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(keyBytes)
	return base64.StdEncoding.EncodeToString(sum[:]), nil
}

// VerifySignature checks sig over message with the certificate's public key.
// RSA keys use PKCS#1 v1.5 with SHA-256, ECDSA keys an ASN.1 signature over
// SHA-256, and Ed25519 keys the plain message.
func VerifySignature(cert *x509.Certificate, message, sig []byte) error {
	switch pub := cert.PublicKey.(type) {
	case *rsa.PublicKey:
		digest := sha256.Sum256(message)
		if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig); err != nil {
			return errl.Errorf("rsa: %w", ErrSignature)
		}
	case *ecdsa.PublicKey:
		digest := sha256.Sum256(message)
		if !ecdsa.VerifyASN1(pub, digest[:], sig) {
			return errl.Errorf("ecdsa: %w", ErrSignature)
		}
	case ed25519.PublicKey:
		if !ed25519.Verify(pub, message, sig) {
			return errl.Errorf("ed25519: %w", ErrSignature)
		}
	default:
		return errl.Errorf("unsupported public key type %T", pub)
	}
	return nil
}
