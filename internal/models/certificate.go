package models

import (
	"crypto/x509"
	"time"
)

// CertificateData is what the pipeline learns about the certificate presented by a device
type CertificateData struct {
	// Thumbprint is the uppercase hex SHA-1 of the DER encoding
	Thumbprint string `json:"thumbprint"`
	// PublicKeyHash is the base64 SHA-256 of the subjectPublicKey bits
	PublicKeyHash string            `json:"public_key_hash"`
	Subject       string            `json:"subject"`
	ValidFrom     time.Time         `json:"valid_from"`
	ValidTo       time.Time         `json:"valid_to"`
	Certificate   *x509.Certificate `json:"-"`
}
