package models

// DeviceRecord is the subset of a directory device object the rotation needs.
// It is read-only for the pipeline; updates go through the directory client.
type DeviceRecord struct {
	ID              string            `json:"id"`       // directory object id
	DeviceID        string            `json:"deviceId"` // id reported by the device
	DisplayName     string            `json:"displayName,omitempty"`
	OperatingSystem string            `json:"operatingSystem"`
	AccountEnabled  bool              `json:"accountEnabled"`
	Extensions      map[string]string `json:"extensionAttributes,omitempty"`
}

// Extension returns the value of the named extension attribute, or "" when unset.
func (d *DeviceRecord) Extension(name string) string {
	if d == nil || d.Extensions == nil {
		return ""
	}
	return d.Extensions[name]
}
