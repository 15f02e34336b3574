// Package identity obtains bearer tokens for the directory API.
//
// Every source is exposed as an oauth2.TokenSource so the directory client
// does not care how the token was obtained.
package identity

import (
	"context"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/AptLogic/CloudLAPS/internal/errl"
)

// Token acquisition modes
const (
	ModeManagedIdentity   = "managed-identity"
	ModeIdentityEndpoint  = "identity-endpoint"
	ModeClientCredentials = "client-credentials"
)

// DefaultResource is the Microsoft Graph resource
const DefaultResource = "https://graph.microsoft.com"

// Options selects and configures a token source.
type Options struct {
	Mode     string
	Resource string

	// ClientID is the user-assigned identity for managed identity modes,
	// or the application id for client credentials.
	ClientID string

	// Identity endpoint mode
	Endpoint string
	Secret   string

	// Client credentials mode
	TenantID     string
	ClientSecret string
	TokenURL     string

	// HTTPClient is used for every token request. Defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// Scope returns the OAuth2 scope for the configured resource.
func (o Options) Scope() string {
	resource := o.Resource
	if resource == "" {
		resource = DefaultResource
	}
	return strings.TrimRight(resource, "/") + "/.default"
}

// NewTokenSource builds the token source selected by opts.Mode.
// The context bounds every token request made through the source.
func NewTokenSource(ctx context.Context, opts Options) (oauth2.TokenSource, error) {
	if opts.Resource == "" {
		opts.Resource = DefaultResource
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	switch opts.Mode {
	case ModeManagedIdentity, "":
		miOpts := &azidentity.ManagedIdentityCredentialOptions{
			ClientOptions: azcore.ClientOptions{Transport: opts.HTTPClient},
		}
		if opts.ClientID != "" {
			miOpts.ID = azidentity.ClientID(opts.ClientID)
		}
		cred, err := azidentity.NewManagedIdentityCredential(miOpts)
		if err != nil {
			return nil, errl.Errorf("failed to create managed identity credential: %w", err)
		}
		return NewCredentialSource(ctx, cred, opts.Scope()), nil

	case ModeIdentityEndpoint:
		if opts.Endpoint == "" || opts.Secret == "" {
			return nil, errl.Errorf("identity endpoint and secret are required for %s", ModeIdentityEndpoint)
		}
		return &endpointSource{ctx: ctx, opts: opts}, nil

	case ModeClientCredentials:
		if opts.ClientID == "" || opts.ClientSecret == "" {
			return nil, errl.Errorf("client id and client secret are required for %s", ModeClientCredentials)
		}
		tokenURL := opts.TokenURL
		if tokenURL == "" {
			if opts.TenantID == "" {
				return nil, errl.Errorf("tenant id or token url is required for %s", ModeClientCredentials)
			}
			tokenURL = "https://login.microsoftonline.com/" + opts.TenantID + "/oauth2/v2.0/token"
		}
		cc := clientcredentials.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			TokenURL:     tokenURL,
			Scopes:       []string{opts.Scope()},
			AuthStyle:    oauth2.AuthStyleInParams,
		}
		return cc.TokenSource(context.WithValue(ctx, oauth2.HTTPClient, opts.HTTPClient)), nil

	default:
		return nil, errl.Errorf("unknown identity mode %q", opts.Mode)
	}
}

// credentialSource adapts an azcore.TokenCredential to oauth2.TokenSource
type credentialSource struct {
	ctx   context.Context
	cred  azcore.TokenCredential
	scope string
}

// NewCredentialSource returns a token source backed by an Azure SDK credential.
func NewCredentialSource(ctx context.Context, cred azcore.TokenCredential, scope string) oauth2.TokenSource {
	return &credentialSource{ctx: ctx, cred: cred, scope: scope}
}

func (s *credentialSource) Token() (*oauth2.Token, error) {
	tok, err := s.cred.GetToken(s.ctx, policy.TokenRequestOptions{Scopes: []string{s.scope}})
	if err != nil {
		return nil, errl.Errorf("failed to get Azure access token: %w", err)
	}
	return &oauth2.Token{
		AccessToken: tok.Token,
		TokenType:   "Bearer",
		Expiry:      tok.ExpiresOn,
	}, nil
}
