package rotation

import (
	"log/slog"
	"strings"
	"time"

	"github.com/AptLogic/CloudLAPS/internal/errl"
	"github.com/AptLogic/CloudLAPS/internal/models"
)

// DateLayout is the wire format of expiration dates (yyyy-MM-dd).
const DateLayout = "2006-01-02"

const redacted = "[REDACTED]"

type field struct {
	name      string
	value     string
	sensitive bool
}

func requestFields(req models.RotationRequest) []field {
	return []field{
		{name: "DeviceID", value: req.DeviceID},
		{name: "SerialNumber", value: req.SerialNumber},
		{name: "Signature", value: req.Signature, sensitive: true},
		{name: "Thumbprint", value: req.Thumbprint},
		{name: "ExpirationDate", value: req.ExpirationDate},
		{name: "FullPem", value: req.FullPem, sensitive: true},
	}
}

// Validate checks that every required field of req is present and that the
// expiration date is well formed, returning the parsed date.
// Each field's outcome is logged; the signature and the certificate are
// only logged in clear when debug is set.
func Validate(log *slog.Logger, req models.RotationRequest, debug bool) (time.Time, error) {
	if log == nil {
		log = slog.Default()
	}

	var missing []string
	for _, f := range requestFields(req) {
		if strings.TrimSpace(f.value) == "" {
			log.Warn("Request field missing", "field", f.name)
			missing = append(missing, f.name)
			continue
		}
		shown := f.value
		if f.sensitive && !debug {
			shown = redacted
		}
		log.Info("Request field present", "field", f.name, "value", shown)
	}

	if len(missing) > 0 {
		return time.Time{}, validationError("missing required fields", errl.Errorf("missing %s", strings.Join(missing, ", ")))
	}

	expiration, err := time.Parse(DateLayout, strings.TrimSpace(req.ExpirationDate))
	if err != nil {
		log.Warn("Request field malformed", "field", "ExpirationDate", "value", req.ExpirationDate)
		return time.Time{}, validationError("malformed expiration date", errl.Errorf("parse expiration date: %w", err))
	}

	return expiration, nil
}

// parseStoredDate reads an expiration date stored in the directory.
// Older records may carry a full RFC 3339 timestamp; only the date is kept.
func parseStoredDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
	}
	return time.Time{}, false
}
