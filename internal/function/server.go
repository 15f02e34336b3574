// Package function hosts the rotation as an HTTP-triggered function behind
// the Functions custom handler contract.
package function

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AptLogic/CloudLAPS/internal/middleware"
	"github.com/AptLogic/CloudLAPS/internal/models"
	"github.com/AptLogic/CloudLAPS/internal/rotation"
)

// Rotator runs one security identifier rotation.
type Rotator interface {
	Rotate(ctx context.Context, req models.RotationRequest) (*rotation.Result, error)
}

// Config is the configuration of the function host
type Config struct {
	Port            string
	FunctionName    string
	FunctionKeyHash string
	// Timeout bounds one rotation, directory round-trips included.
	Timeout time.Duration
}

// Server represents the function host
type Server struct {
	app     *fiber.App
	rotator Rotator
	cfg     Config
}

// New creates a new function host. Metrics are served from gatherer when it is not nil.
func New(rotator Rotator, gatherer prometheus.Gatherer, cfg Config) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "CloudLAPS",
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(logger.New())

	s := &Server{
		app:     app,
		rotator: rotator,
		cfg:     cfg,
	}

	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	})

	if gatherer != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	auth := middleware.NewFunctionKeyAuth(cfg.FunctionKeyHash)
	api := s.app.Group("/api", auth.AuthMiddleware())
	api.Post("/"+cfg.FunctionName, s.handleRotate)

	return s
}

// App exposes the fiber application, mostly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// handleRotate reads the rotation request from the JSON body. Fields absent
// from the body are taken from request headers of the same name.
func (s *Server) handleRotate(c *fiber.Ctx) error {
	var req models.RotationRequest
	if body := bytes.TrimSpace(c.Body()); len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			slog.Warn("Malformed rotation request", "error", err, "ip", c.IP())
			return c.Status(fiber.StatusBadRequest).SendString(rotation.BodyHeaderValidation)
		}
	}
	fillFromHeaders(c, &req)

	ctx := c.UserContext()
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	_, err := s.rotator.Rotate(ctx, req)
	status, body := rotation.HTTPResponse(err)
	if body == "" {
		// SendStatus would fill the body with the status text
		c.Status(status)
		return nil
	}
	return c.Status(status).SendString(body)
}

func fillFromHeaders(c *fiber.Ctx, req *models.RotationRequest) {
	fields := []struct {
		name string
		dst  *string
	}{
		{"DeviceID", &req.DeviceID},
		{"SerialNumber", &req.SerialNumber},
		{"Signature", &req.Signature},
		{"Thumbprint", &req.Thumbprint},
		{"ExpirationDate", &req.ExpirationDate},
		{"FullPem", &req.FullPem},
	}
	for _, f := range fields {
		if *f.dst == "" {
			*f.dst = c.Get(f.name)
		}
	}
}

// Start starts the server
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort("0.0.0.0", s.cfg.Port)
	slog.Info("Starting function host", "addr", addr, "route", "/api/"+s.cfg.FunctionName)

	// Start server in goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := s.app.Listen(addr); err != nil {
			errChan <- fmt.Errorf("failed to start server: %w", err)
		}
	}()

	// Wait for context cancellation or error
	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		return s.app.Shutdown()
	}
}
