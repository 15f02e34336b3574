// Package graph is the directory client for Microsoft Graph device objects.
package graph

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"golang.org/x/oauth2"

	"github.com/AptLogic/CloudLAPS/internal/errl"
	"github.com/AptLogic/CloudLAPS/internal/models"
)

const (
	moduleName    = "cloudlaps/graph"
	moduleVersion = "v1.0.0"

	DefaultBaseURL    = "https://graph.microsoft.com"
	DefaultAPIVersion = "v1.0"
)

// deviceSelect lists the device properties the rotation reads
const deviceSelect = "id,deviceId,displayName,operatingSystem,accountEnabled,extensionAttributes"

// Options configure a Client.
type Options struct {
	BaseURL    string
	APIVersion string
	// HTTPClient sends the requests. nil means the Azure SDK default transport.
	HTTPClient *http.Client
}

// Client reads and updates device objects. Requests are sent once;
// the pipeline's retry policy is disabled.
type Client struct {
	tokens   oauth2.TokenSource
	pipeline runtime.Pipeline
	baseURL  string
}

// NewClient creates a Client that authenticates with tokens from ts.
func NewClient(ts oauth2.TokenSource, opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.APIVersion == "" {
		opts.APIVersion = DefaultAPIVersion
	}

	clientOpts := &policy.ClientOptions{
		Retry: policy.RetryOptions{MaxRetries: -1},
	}
	if opts.HTTPClient != nil {
		clientOpts.Transport = opts.HTTPClient
	}

	return &Client{
		tokens:   ts,
		pipeline: runtime.NewPipeline(moduleName, moduleVersion, runtime.PipelineOptions{}, clientOpts),
		baseURL:  strings.TrimRight(opts.BaseURL, "/") + "/" + strings.Trim(opts.APIVersion, "/"),
	}
}

// GetToken returns a bearer token for Graph.
func (c *Client) GetToken(_ context.Context) (*oauth2.Token, error) {
	tok, err := c.tokens.Token()
	if err != nil {
		return nil, errl.Errorf("failed to acquire directory token: %w", err)
	}
	return tok, nil
}

type deviceWire struct {
	ID                  string             `json:"id"`
	DeviceID            string             `json:"deviceId"`
	DisplayName         string             `json:"displayName"`
	OperatingSystem     string             `json:"operatingSystem"`
	AccountEnabled      bool               `json:"accountEnabled"`
	ExtensionAttributes map[string]*string `json:"extensionAttributes"`
}

func (w deviceWire) record() *models.DeviceRecord {
	ext := make(map[string]string, len(w.ExtensionAttributes))
	for k, v := range w.ExtensionAttributes {
		if v != nil {
			ext[k] = *v
		}
	}
	return &models.DeviceRecord{
		ID:              w.ID,
		DeviceID:        w.DeviceID,
		DisplayName:     w.DisplayName,
		OperatingSystem: w.OperatingSystem,
		AccountEnabled:  w.AccountEnabled,
		Extensions:      ext,
	}
}

// LookupDevice finds the device object whose deviceId equals deviceID.
// It returns nil and no error when there is no such device.
func (c *Client) LookupDevice(ctx context.Context, token *oauth2.Token, deviceID string) (*models.DeviceRecord, error) {
	filter := "deviceId eq '" + strings.ReplaceAll(deviceID, "'", "''") + "'"
	endpoint := c.baseURL + "/devices?$filter=" + queryEscape(filter) + "&$select=" + queryEscape(deviceSelect)

	req, err := runtime.NewRequest(ctx, http.MethodGet, endpoint)
	if err != nil {
		return nil, errl.Errorf("failed to build device lookup: %w", err)
	}
	token.SetAuthHeader(req.Raw())
	req.Raw().Header.Set("Accept", "application/json")

	resp, err := c.pipeline.Do(req)
	if err != nil {
		return nil, errl.Errorf("device lookup failed: %w", err)
	}
	if !runtime.HasStatusCode(resp, http.StatusOK) {
		return nil, errl.Wrap(runtime.NewResponseError(resp), "device lookup failed")
	}

	var page struct {
		Value []deviceWire `json:"value"`
	}
	if err := runtime.UnmarshalAsJSON(resp, &page); err != nil {
		return nil, errl.Errorf("invalid device lookup response: %w", err)
	}

	switch len(page.Value) {
	case 0:
		return nil, nil
	case 1:
	default:
		slog.Warn("Several directory records share a device id, using the first",
			"device_id", deviceID, "count", len(page.Value))
	}
	return page.Value[0].record(), nil
}

// WriteAttribute sets one extension attribute on the device object objectID.
func (c *Client) WriteAttribute(ctx context.Context, token *oauth2.Token, objectID, attribute, value string) error {
	endpoint := c.baseURL + "/devices/" + url.PathEscape(objectID)

	req, err := runtime.NewRequest(ctx, http.MethodPatch, endpoint)
	if err != nil {
		return errl.Errorf("failed to build attribute write: %w", err)
	}
	token.SetAuthHeader(req.Raw())

	body := map[string]any{
		"extensionAttributes": map[string]string{attribute: value},
	}
	if err := runtime.MarshalAsJSON(req, body); err != nil {
		return errl.Errorf("failed to encode attribute write: %w", err)
	}

	resp, err := c.pipeline.Do(req)
	if err != nil {
		return errl.Errorf("attribute write failed: %w", err)
	}
	if !runtime.HasStatusCode(resp, http.StatusNoContent, http.StatusOK) {
		return errl.Wrap(runtime.NewResponseError(resp), "attribute write failed")
	}
	runtime.Drain(resp)

	slog.Debug("Directory attribute written", "object_id", objectID, "attribute", attribute)
	return nil
}

// queryEscape escapes s for an OData query value, encoding spaces as %20.
func queryEscape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
