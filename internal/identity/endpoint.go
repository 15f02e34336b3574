package identity

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"github.com/AptLogic/CloudLAPS/internal/errl"
)

// endpointAPIVersion is the App Service managed identity protocol version
const endpointAPIVersion = "2019-08-01"

// endpointSource exchanges the platform-provided identity secret for a token
// at the local identity endpoint of the hosting platform.
type endpointSource struct {
	ctx  context.Context
	opts Options
}

type endpointResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Resource    string `json:"resource"`
	// ExpiresOn is epoch seconds, sent as a string by some hosts and a number by others
	ExpiresOn any `json:"expires_on"`
}

func (s *endpointSource) Token() (*oauth2.Token, error) {
	u, err := url.Parse(s.opts.Endpoint)
	if err != nil {
		return nil, errl.Errorf("invalid identity endpoint: %w", err)
	}
	q := u.Query()
	q.Set("resource", s.opts.Resource)
	q.Set("api-version", endpointAPIVersion)
	if s.opts.ClientID != "" {
		q.Set("client_id", s.opts.ClientID)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(s.ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errl.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("X-IDENTITY-HEADER", s.opts.Secret)
	req.Header.Set("Accept", "application/json")

	resp, err := s.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, errl.Errorf("identity endpoint request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errl.Errorf("failed to read identity endpoint response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errl.Errorf("identity endpoint returned %d: %s", resp.StatusCode, body)
	}

	var er endpointResponse
	if err := json.Unmarshal(body, &er); err != nil {
		return nil, errl.Errorf("invalid identity endpoint response: %w", err)
	}
	if er.AccessToken == "" {
		return nil, errl.Errorf("identity endpoint returned no access token")
	}

	tok := &oauth2.Token{
		AccessToken: er.AccessToken,
		TokenType:   "Bearer",
		Expiry:      parseEpoch(er.ExpiresOn),
	}
	if tok.Expiry.IsZero() {
		if claims, err := ParseClaims(er.AccessToken); err == nil && claims.ExpiresAt != nil {
			tok.Expiry = claims.ExpiresAt.Time
		}
	}
	return tok, nil
}

func parseEpoch(v any) time.Time {
	var secs int64
	switch t := v.(type) {
	case float64:
		secs = int64(t)
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return time.Time{}
		}
		secs = n
	default:
		return time.Time{}
	}
	if secs <= 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0)
}
