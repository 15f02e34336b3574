// Package rotation rotates the security identifier a device keeps in the
// identity directory, after the device proves possession of the
// certificate the identifier is derived from.
//
// A rotation is an ordered list of named gates. Each gate either lets the
// request through or ends it with an *Error carrying the HTTP outcome.
// The last gate writes the new identifier and its expiration date.
package rotation

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/AptLogic/CloudLAPS/internal/models"
	"github.com/AptLogic/CloudLAPS/internal/x509util"
)

// Gate names, in the order they run. They double as metric labels.
const (
	GateValidateRequest       = "validate-request"
	GateLookupDevice          = "lookup-device"
	GateCheckPlatform         = "check-platform"
	GateCheckStoredIdentifier = "check-stored-identifier"
	GateCheckStoredExpiration = "check-stored-expiration"
	GateDecodeCertificate     = "decode-certificate"
	GateCheckThumbprint       = "check-thumbprint"
	GateCheckSignature        = "check-signature"
	GateCheckEnabled          = "check-enabled"
	GateWriteAttributes       = "write-attributes"

	OutcomeSuccess = "success"
)

// Defaults for Options
const (
	DefaultPlatform            = "MacMDM"
	DefaultIdentifierAttribute = "extensionAttribute1"
	DefaultExpirationAttribute = "extensionAttribute2"
)

// Options tune a Service.
type Options struct {
	// Platform is the operatingSystem value a device record must carry.
	Platform string
	// IdentifierAttribute holds the encoded security identifier.
	IdentifierAttribute string
	// ExpirationAttribute holds the identifier's expiration date.
	ExpirationAttribute string
	// Debug logs the signature and certificate of each request in clear.
	Debug bool
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Result describes a successful rotation.
type Result struct {
	ObjectID       string
	Thumbprint     string
	Identifier     string
	StoredValue    string
	ExpirationDate string
}

// Service runs rotations against a Directory.
type Service struct {
	dir      Directory
	opts     Options
	log      *slog.Logger
	observer Observer
	gates    []gate
}

type gate struct {
	name string
	run  func(ctx context.Context, inv *invocation) error
}

// invocation is the state accumulated by the gates of one rotation
type invocation struct {
	req        models.RotationRequest
	expiration time.Time
	token      *oauth2.Token
	device     *models.DeviceRecord
	cert       *models.CertificateData
	result     *Result
	log        *slog.Logger
}

// New creates a Service. A nil observer disables observation.
func New(dir Directory, opts Options, observer Observer) *Service {
	if opts.Platform == "" {
		opts.Platform = DefaultPlatform
	}
	if opts.IdentifierAttribute == "" {
		opts.IdentifierAttribute = DefaultIdentifierAttribute
	}
	if opts.ExpirationAttribute == "" {
		opts.ExpirationAttribute = DefaultExpirationAttribute
	}
	if observer == nil {
		observer = nopObserver{}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	s := &Service{
		dir:      dir,
		opts:     opts,
		log:      log,
		observer: observer,
	}
	s.gates = []gate{
		{GateValidateRequest, s.validateRequest},
		{GateLookupDevice, s.lookupDevice},
		{GateCheckPlatform, s.checkPlatform},
		{GateCheckStoredIdentifier, s.checkStoredIdentifier},
		{GateCheckStoredExpiration, s.checkStoredExpiration},
		{GateDecodeCertificate, s.decodeCertificate},
		{GateCheckThumbprint, s.checkThumbprint},
		{GateCheckSignature, s.checkSignature},
		{GateCheckEnabled, s.checkEnabled},
		{GateWriteAttributes, s.writeAttributes},
	}
	return s
}

// Rotate runs every gate in order for req. The returned error, when not nil,
// is an *Error; HTTPResponse maps it for the caller.
func (s *Service) Rotate(ctx context.Context, req models.RotationRequest) (*Result, error) {
	inv := &invocation{
		req: req,
		log: s.log.With("device_id", req.DeviceID, "serial_number", req.SerialNumber),
	}

	for _, g := range s.gates {
		start := time.Now()
		err := g.run(ctx, inv)
		s.observer.ObserveGate(g.name, time.Since(start), err)
		if err == nil {
			continue
		}

		rerr, ok := err.(*Error)
		if !ok {
			rerr = directoryError("unexpected failure", err)
		}
		rerr.Gate = g.name

		inv.log.Warn("Security identifier rotation refused",
			"gate", g.name,
			"kind", rerr.Kind.String(),
			"status", rerr.Status,
			"reason", rerr.Reason,
			"error", rerr.Err)
		s.observer.ObserveOutcome(g.name)
		return nil, rerr
	}

	inv.log.Info("Security identifier rotated",
		"object_id", inv.result.ObjectID,
		"thumbprint", inv.result.Thumbprint,
		"expiration_date", inv.result.ExpirationDate)
	s.observer.ObserveOutcome(OutcomeSuccess)
	return inv.result, nil
}

func (s *Service) validateRequest(_ context.Context, inv *invocation) error {
	expiration, err := Validate(inv.log, inv.req, s.opts.Debug)
	if err != nil {
		return err
	}
	inv.expiration = expiration
	return nil
}

func (s *Service) lookupDevice(ctx context.Context, inv *invocation) error {
	token, err := s.dir.GetToken(ctx)
	if err != nil {
		return directoryError("token acquisition failed", err)
	}

	device, err := s.dir.LookupDevice(ctx, token, strings.TrimSpace(inv.req.DeviceID))
	if err != nil {
		return directoryError("device lookup failed", err)
	}
	if device == nil {
		return notFoundError("no directory record for device")
	}

	inv.log.Debug("Directory record found",
		"object_id", device.ID,
		"operating_system", device.OperatingSystem,
		"account_enabled", device.AccountEnabled)
	inv.token = token
	inv.device = device
	return nil
}

func (s *Service) checkPlatform(_ context.Context, inv *invocation) error {
	if inv.device.OperatingSystem != s.opts.Platform {
		return eligibilityError(http.StatusBadRequest, BodyInvalid,
			"operating system "+inv.device.OperatingSystem+" is not "+s.opts.Platform)
	}
	return nil
}

// checkStoredIdentifier lets a populated identifier be replaced only when its
// recorded expiration is known and falls on or before the requested date.
func (s *Service) checkStoredIdentifier(_ context.Context, inv *invocation) error {
	if strings.TrimSpace(inv.device.Extension(s.opts.IdentifierAttribute)) == "" {
		return nil
	}
	stored, ok := parseStoredDate(inv.device.Extension(s.opts.ExpirationAttribute))
	if !ok || stored.After(inv.expiration) {
		return eligibilityError(http.StatusBadRequest, BodyInvalid,
			"security identifier in "+s.opts.IdentifierAttribute+" is populated")
	}
	return nil
}

// checkStoredExpiration requires any stored expiration date to fall on or before the requested one.
func (s *Service) checkStoredExpiration(_ context.Context, inv *invocation) error {
	raw := inv.device.Extension(s.opts.ExpirationAttribute)
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	stored, ok := parseStoredDate(raw)
	if !ok {
		return eligibilityError(http.StatusBadRequest, BodyInvalid,
			"stored expiration "+raw+" in "+s.opts.ExpirationAttribute+" is unreadable")
	}
	if stored.After(inv.expiration) {
		return eligibilityError(http.StatusBadRequest, BodyInvalid,
			"security identifier is not expired until "+stored.Format(DateLayout))
	}
	return nil
}

func (s *Service) decodeCertificate(_ context.Context, inv *invocation) error {
	cert, err := x509util.DecodeCertificateB64(inv.req.FullPem)
	if err != nil {
		return decodeError(err)
	}
	keyHash, err := x509util.PublicKeyHash(cert)
	if err != nil {
		return decodeError(err)
	}
	inv.cert = &models.CertificateData{
		Thumbprint:    x509util.Thumbprint(cert),
		PublicKeyHash: keyHash,
		Subject:       cert.Subject.String(),
		ValidFrom:     cert.NotBefore,
		ValidTo:       cert.NotAfter,
		Certificate:   cert,
	}
	inv.log.Debug("Certificate decoded",
		"subject", inv.cert.Subject,
		"valid_from", inv.cert.ValidFrom,
		"valid_to", inv.cert.ValidTo)
	return nil
}

func (s *Service) checkThumbprint(_ context.Context, inv *invocation) error {
	if !x509util.ThumbprintsMatch(inv.cert.Thumbprint, inv.req.Thumbprint) {
		return cryptoError(http.StatusBadRequest, BodyInvalid,
			"thumbprint does not match certificate "+inv.cert.Thumbprint, nil)
	}
	return nil
}

// checkSignature proves possession: the device signs its directory object id.
func (s *Service) checkSignature(_ context.Context, inv *invocation) error {
	sig, err := decodeSignature(inv.req.Signature)
	if err != nil {
		return cryptoError(http.StatusForbidden, BodyUntrusted, "signature is not base64", err)
	}
	if err := x509util.VerifySignature(inv.cert.Certificate, []byte(inv.device.ID), sig); err != nil {
		return cryptoError(http.StatusForbidden, BodyUntrusted, "signature does not verify", err)
	}
	return nil
}

func (s *Service) checkEnabled(_ context.Context, inv *invocation) error {
	if !inv.device.AccountEnabled {
		return eligibilityError(http.StatusForbidden, BodyDisabled, "device record is disabled")
	}
	return nil
}

// writeAttributes stores the identifier, then its expiration date.
// The writes are not transactional: if the second fails the first stays.
func (s *Service) writeAttributes(ctx context.Context, inv *invocation) error {
	identifier, err := SecurityIdentifier(inv.cert.Certificate)
	if err != nil {
		return directoryError("derive security identifier", err)
	}
	stored, err := EncodeIdentifier(identifier)
	if err != nil {
		return directoryError("encode security identifier", err)
	}
	expiration := inv.expiration.Format(DateLayout)

	if err := s.dir.WriteAttribute(ctx, inv.token, inv.device.ID, s.opts.IdentifierAttribute, stored); err != nil {
		return directoryError("identifier write failed", err)
	}
	if err := s.dir.WriteAttribute(ctx, inv.token, inv.device.ID, s.opts.ExpirationAttribute, expiration); err != nil {
		return directoryError("expiration write failed after identifier was written", err)
	}

	inv.result = &Result{
		ObjectID:       inv.device.ID,
		Thumbprint:     inv.cert.Thumbprint,
		Identifier:     identifier,
		StoredValue:    stored,
		ExpirationDate: expiration,
	}
	return nil
}

func decodeSignature(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if sig, err := base64.StdEncoding.DecodeString(s); err == nil {
		return sig, nil
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}
