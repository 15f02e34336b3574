package models

// RotationRequest is the inbound body of a security identifier rotation.
// Field names follow the wire contract used by the device agents.
type RotationRequest struct {
	DeviceID       string `json:"DeviceID"`
	SerialNumber   string `json:"SerialNumber"`
	Signature      string `json:"Signature"`      // base64
	Thumbprint     string `json:"Thumbprint"`     // hex
	ExpirationDate string `json:"ExpirationDate"` // yyyy-MM-dd
	FullPem        string `json:"FullPem"`        // base64-encoded certificate
}
