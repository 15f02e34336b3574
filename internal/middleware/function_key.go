package middleware

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
)

// FunctionKeyHeader carries the function key, as on the Functions host.
const FunctionKeyHeader = "x-functions-key"

// FunctionKeyAuth handles function key authentication
type FunctionKeyAuth struct {
	keyHash []byte
}

// NewFunctionKeyAuth creates the middleware from a bcrypt hash of the key.
// An empty hash leaves requests unauthenticated, for hosts that check keys themselves.
func NewFunctionKeyAuth(keyHash string) *FunctionKeyAuth {
	return &FunctionKeyAuth{
		keyHash: []byte(keyHash),
	}
}

// HashKey returns the bcrypt hash to configure for key.
func HashKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// AuthMiddleware returns the function key middleware
func (a *FunctionKeyAuth) AuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if len(a.keyHash) == 0 {
			return c.Next()
		}

		key := c.Get(FunctionKeyHeader)
		if key == "" {
			key = c.Query("code")
		}
		if key == "" {
			slog.Warn("Function key missing", "path", c.Path(), "ip", c.IP())
			return c.Status(fiber.StatusUnauthorized).SendString("Unauthorized")
		}

		if err := bcrypt.CompareHashAndPassword(a.keyHash, []byte(key)); err != nil {
			slog.Warn("Function key rejected", "path", c.Path(), "ip", c.IP())
			return c.Status(fiber.StatusUnauthorized).SendString("Unauthorized")
		}

		return c.Next()
	}
}
