package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/AptLogic/CloudLAPS/internal/cache"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := TokenClaims{
		AppID:    "11111111-2222-3333-4444-555555555555",
		ObjectID: "66666666-7777-8888-9999-000000000000",
		TenantID: "contoso",
		Roles:    []string{"Device.ReadWrite.All"},
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
			Audience:  jwt.ClaimStrings{DefaultResource},
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return raw
}

func TestEndpointSource(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "s3cr3t", r.Header.Get("X-IDENTITY-HEADER"))
		assert.Equal(t, DefaultResource, r.URL.Query().Get("resource"))
		assert.Equal(t, endpointAPIVersion, r.URL.Query().Get("api-version"))
		assert.Equal(t, "user-assigned", r.URL.Query().Get("client_id"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "opaque-token",
			"token_type":   "Bearer",
			"expires_on":   strconv.FormatInt(exp.Unix(), 10),
		})
	}))
	defer srv.Close()

	ts, err := NewTokenSource(context.Background(), Options{
		Mode:       ModeIdentityEndpoint,
		Endpoint:   srv.URL + "/msi/token",
		Secret:     "s3cr3t",
		ClientID:   "user-assigned",
		HTTPClient: srv.Client(),
	})
	require.NoError(t, err)

	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "opaque-token", tok.AccessToken)
	assert.True(t, exp.Equal(tok.Expiry))
}

func TestEndpointSource_ExpiryFromClaims(t *testing.T) {
	exp := time.Now().Add(30 * time.Minute).Truncate(time.Second)
	raw := signedToken(t, exp)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": raw})
	}))
	defer srv.Close()

	src := &endpointSource{ctx: context.Background(), opts: Options{
		Endpoint: srv.URL, Secret: "x", Resource: DefaultResource, HTTPClient: srv.Client(),
	}}
	tok, err := src.Token()
	require.NoError(t, err)
	assert.True(t, exp.Equal(tok.Expiry))
}

func TestEndpointSource_Errors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"forbidden", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "bad secret", http.StatusForbidden)
		}},
		{"not json", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("<html>"))
		}},
		{"no token", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"expires_on": 1700000000}`))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			src := &endpointSource{ctx: context.Background(), opts: Options{
				Endpoint: srv.URL, Secret: "x", Resource: DefaultResource, HTTPClient: srv.Client(),
			}}
			_, err := src.Token()
			assert.Error(t, err)
		})
	}
}

func TestParseEpoch(t *testing.T) {
	assert.Equal(t, int64(1700000000), parseEpoch("1700000000").Unix())
	assert.Equal(t, int64(1700000000), parseEpoch(float64(1700000000)).Unix())
	assert.True(t, parseEpoch("soon").IsZero())
	assert.True(t, parseEpoch(nil).IsZero())
	assert.True(t, parseEpoch("0").IsZero())
}

func TestClientCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "app-id", r.PostForm.Get("client_id"))
		assert.Equal(t, "app-secret", r.PostForm.Get("client_secret"))
		assert.Equal(t, DefaultResource+"/.default", r.PostForm.Get("scope"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"cc-token","token_type":"Bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	ts, err := NewTokenSource(context.Background(), Options{
		Mode:         ModeClientCredentials,
		ClientID:     "app-id",
		ClientSecret: "app-secret",
		TokenURL:     srv.URL,
		HTTPClient:   srv.Client(),
	})
	require.NoError(t, err)

	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "cc-token", tok.AccessToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.Expiry, time.Minute)
}

func TestNewTokenSource_InvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"unknown mode", Options{Mode: "kerberos"}},
		{"endpoint without secret", Options{Mode: ModeIdentityEndpoint, Endpoint: "http://127.0.0.1:41741/msi/token"}},
		{"client credentials without secret", Options{Mode: ModeClientCredentials, ClientID: "app"}},
		{"client credentials without tenant", Options{Mode: ModeClientCredentials, ClientID: "app", ClientSecret: "s"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTokenSource(context.Background(), tt.opts)
			assert.Error(t, err)
		})
	}
}

type fakeCredential struct {
	scopes []string
	err    error
}

func (f *fakeCredential) GetToken(_ context.Context, opts policy.TokenRequestOptions) (azcore.AccessToken, error) {
	f.scopes = opts.Scopes
	if f.err != nil {
		return azcore.AccessToken{}, f.err
	}
	return azcore.AccessToken{Token: "azure-token", ExpiresOn: time.Unix(1800000000, 0)}, nil
}

func TestCredentialSource(t *testing.T) {
	cred := &fakeCredential{}
	ts := NewCredentialSource(context.Background(), cred, Options{Resource: "https://graph.microsoft.com/"}.Scope())

	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "azure-token", tok.AccessToken)
	assert.Equal(t, "Bearer", tok.TokenType)
	assert.Equal(t, int64(1800000000), tok.Expiry.Unix())
	assert.Equal(t, []string{"https://graph.microsoft.com/.default"}, cred.scopes)

	cred.err = errors.New("no identity assigned")
	_, err = ts.Token()
	assert.ErrorContains(t, err, "no identity assigned")
}

type countingSource struct {
	calls  atomic.Int32
	expiry time.Time
}

func (c *countingSource) Token() (*oauth2.Token, error) {
	n := c.calls.Add(1)
	return &oauth2.Token{AccessToken: "token-" + strconv.Itoa(int(n)), Expiry: c.expiry}, nil
}

func TestCachedTokenSource(t *testing.T) {
	src := &countingSource{expiry: time.Now().Add(time.Hour)}
	ts := NewCachedTokenSource(src, cache.New[*oauth2.Token](time.Hour), "graph")

	first, err := ts.Token()
	require.NoError(t, err)
	second, err := ts.Token()
	require.NoError(t, err)

	assert.Equal(t, "token-1", first.AccessToken)
	assert.Same(t, first, second)
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestCachedTokenSource_NearExpiry(t *testing.T) {
	src := &countingSource{expiry: time.Now().Add(time.Minute)}
	ts := NewCachedTokenSource(src, cache.New[*oauth2.Token](time.Hour), "graph")

	_, err := ts.Token()
	require.NoError(t, err)
	_, err = ts.Token()
	require.NoError(t, err)

	assert.Equal(t, int32(2), src.calls.Load(), "tokens inside the refresh window are not cached")
}

func TestDescribe(t *testing.T) {
	exp := time.Now().Add(time.Hour)
	attrs := Describe(&oauth2.Token{AccessToken: signedToken(t, exp), Expiry: exp})
	assert.Contains(t, attrs, "app_id")
	assert.Contains(t, attrs, "11111111-2222-3333-4444-555555555555")
	assert.Contains(t, attrs, "tenant_id")

	opaque := Describe(&oauth2.Token{AccessToken: "opaque"})
	assert.Len(t, opaque, 2)

	assert.Nil(t, Describe(nil))
}
