package rotation

import (
	"context"
	"time"

	"golang.org/x/oauth2"

	"github.com/AptLogic/CloudLAPS/internal/models"
)

// Directory is the identity directory holding device records.
// Implementations perform blocking round-trips; the pipeline adds no retries.
type Directory interface {
	// GetToken returns a bearer token valid for the directory API.
	GetToken(ctx context.Context) (*oauth2.Token, error)

	// LookupDevice returns the record whose device id matches deviceID,
	// or nil and no error when there is none.
	LookupDevice(ctx context.Context, token *oauth2.Token, deviceID string) (*models.DeviceRecord, error)

	// WriteAttribute overwrites one extension attribute of the object objectID.
	WriteAttribute(ctx context.Context, token *oauth2.Token, objectID, attribute, value string) error
}

// Observer is told about every gate run and about the final outcome of each rotation.
type Observer interface {
	ObserveGate(gate string, elapsed time.Duration, err error)
	// ObserveOutcome receives "success" or the name of the gate that refused the request.
	ObserveOutcome(outcome string)
}

type nopObserver struct{}

func (nopObserver) ObserveGate(string, time.Duration, error) {}
func (nopObserver) ObserveOutcome(string)                    {}
