package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/oauth2"

	"github.com/AptLogic/CloudLAPS/internal/cache"
	"github.com/AptLogic/CloudLAPS/internal/config"
	"github.com/AptLogic/CloudLAPS/internal/errl"
	"github.com/AptLogic/CloudLAPS/internal/function"
	"github.com/AptLogic/CloudLAPS/internal/graph"
	"github.com/AptLogic/CloudLAPS/internal/identity"
	"github.com/AptLogic/CloudLAPS/internal/metrics"
	"github.com/AptLogic/CloudLAPS/internal/rotation"
)

// Server wires the identity, directory, rotation and HTTP components together
type Server struct {
	cfg      *config.Config
	function *function.Server
	registry *prometheus.Registry
}

// New creates a new server instance from a validated configuration
func New(ctx context.Context, cfg *config.Config) (*Server, error) {

	// Create a token cache with a default expiration time of 10 minutes.
	// Entries normally carry their own lifetime, derived from the token expiry.
	tokens := cache.New[*oauth2.Token](10 * time.Minute)

	// One HTTP client for the identity provider and the directory
	httpClient := &http.Client{Timeout: cfg.Directory.Timeout}

	idOpts := cfg.IdentityOptions()
	idOpts.HTTPClient = httpClient
	src, err := identity.NewTokenSource(ctx, idOpts)
	if err != nil {
		return nil, errl.Wrap(err, "failed to create token source")
	}

	dir := graph.NewClient(identity.NewCachedTokenSource(src, tokens, idOpts.Scope()), graph.Options{
		BaseURL:    cfg.Directory.BaseURL,
		APIVersion: cfg.Directory.APIVersion,
		HTTPClient: httpClient,
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	rotator := rotation.New(dir, rotation.Options{
		Platform:            cfg.Rotation.Platform,
		IdentifierAttribute: cfg.Rotation.IdentifierAttribute,
		ExpirationAttribute: cfg.Rotation.ExpirationAttribute,
		Debug:               cfg.Debug,
		Logger:              slog.Default(),
	}, metrics.New(registry))

	fn := function.New(rotator, registry, function.Config{
		Port:            cfg.Port,
		FunctionName:    cfg.FunctionName,
		FunctionKeyHash: cfg.FunctionKeyHash,
		Timeout:         cfg.Directory.Timeout,
	})

	return &Server{
		cfg:      cfg,
		function: fn,
		registry: registry,
	}, nil
}

// App returns the HTTP application
func (s *Server) App() *fiber.App {
	return s.function.App()
}

// Start serves until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	slog.Info("Server started",
		"port", s.cfg.Port,
		"function", s.cfg.FunctionName,
		"identity_mode", s.cfg.Identity.Mode,
		"graph_url", s.cfg.Directory.BaseURL,
		"platform", s.cfg.Rotation.Platform,
		"function_key", s.cfg.FunctionKeyHash != "",
		"debug", s.cfg.Debug)

	if err := s.function.Start(ctx); err != nil {
		return errl.Wrap(err, "function host failed")
	}
	slog.Info("Shutting down server")
	return nil
}
