package rotation

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies why a rotation was refused.
type Kind int

const (
	// KindValidation means a required request field is missing or malformed.
	KindValidation Kind = iota + 1
	// KindNotFound means the directory has no record for the device.
	KindNotFound
	// KindEligibility means the directory record does not allow a rotation.
	KindEligibility
	// KindDecode means the supplied certificate could not be decoded.
	KindDecode
	// KindCrypto means the thumbprint or the signature did not check out.
	KindCrypto
	// KindDirectory means a call to the directory collaborator failed.
	KindDirectory
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindEligibility:
		return "eligibility"
	case KindDecode:
		return "decode"
	case KindCrypto:
		return "crypto_verification"
	case KindDirectory:
		return "directory"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Response bodies returned to callers.
const (
	BodyHeaderValidation = "Header validation failed"
	BodyUntrusted        = "Untrusted request"
	BodyInvalid          = "Invalid Request"
	BodyDisabled         = "Disabled device record"
	BodyInternal         = "Internal server error"
)

// Error is the terminal outcome of a refused rotation.
// Status and Body are what the HTTP caller receives; Reason and Err are for logs only.
type Error struct {
	Kind   Kind
	Gate   string
	Status int
	Body   string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Reason
	if e.Gate != "" {
		msg = e.Gate + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func validationError(reason string, err error) *Error {
	return &Error{Kind: KindValidation, Status: http.StatusBadRequest, Body: BodyHeaderValidation, Reason: reason, Err: err}
}

func notFoundError(reason string) *Error {
	return &Error{Kind: KindNotFound, Status: http.StatusForbidden, Body: BodyUntrusted, Reason: reason}
}

func eligibilityError(status int, body, reason string) *Error {
	return &Error{Kind: KindEligibility, Status: status, Body: body, Reason: reason}
}

func decodeError(err error) *Error {
	return &Error{Kind: KindDecode, Status: http.StatusBadRequest, Body: BodyInvalid, Reason: "certificate could not be decoded", Err: err}
}

func cryptoError(status int, body, reason string, err error) *Error {
	return &Error{Kind: KindCrypto, Status: status, Body: body, Reason: reason, Err: err}
}

func directoryError(reason string, err error) *Error {
	return &Error{Kind: KindDirectory, Status: http.StatusInternalServerError, Body: BodyInternal, Reason: reason, Err: err}
}

// HTTPResponse maps an error returned by Rotate to a status code and body.
// Errors that are not rotation errors are reported as internal failures.
func HTTPResponse(err error) (int, string) {
	if err == nil {
		return http.StatusOK, ""
	}
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Status, rerr.Body
	}
	return http.StatusInternalServerError, BodyInternal
}
