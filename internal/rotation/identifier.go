package rotation

import (
	"crypto/x509"
	"encoding/base64"

	"golang.org/x/text/encoding/unicode"

	"github.com/AptLogic/CloudLAPS/internal/errl"
	"github.com/AptLogic/CloudLAPS/internal/x509util"
)

// IdentifierPrefix marks a certificate binding keyed on the SHA-1 thumbprint and the public key.
const IdentifierPrefix = "X509:<SHA1-TP-PUBKEY>"

// SecurityIdentifier derives the certificate binding stored for a device:
// the prefix, the certificate thumbprint, then base64(SHA-256(public key bytes)).
func SecurityIdentifier(cert *x509.Certificate) (string, error) {
	keyHash, err := x509util.PublicKeyHash(cert)
	if err != nil {
		return "", err
	}
	return IdentifierPrefix + x509util.Thumbprint(cert) + keyHash, nil
}

// EncodeIdentifier returns the stored form of an identifier: base64 of its UTF-16LE encoding.
func EncodeIdentifier(identifier string) (string, error) {
	encoder := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder()
	raw, err := encoder.Bytes([]byte(identifier))
	if err != nil {
		return "", errl.Errorf("encode identifier as UTF-16: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeIdentifier reverses EncodeIdentifier.
func DecodeIdentifier(stored string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return "", errl.Errorf("decode stored identifier: %w", err)
	}
	decoder := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	plain, err := decoder.Bytes(raw)
	if err != nil {
		return "", errl.Errorf("decode identifier as UTF-16: %w", err)
	}
	return string(plain), nil
}
