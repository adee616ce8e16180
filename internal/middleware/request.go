package middleware

import (
	"context"
	"time"

	common_models "go-opsdesk/internal/common/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const requestIDHeader = "X-Request-ID"

// RequestIDMiddleware reuses the caller's X-Request-ID or mints one, and puts
// it on both the response and the user context.
func RequestIDMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := c.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(requestIDHeader, requestID)
		c.Locals(common_models.RequestIDKey, requestID)

		ctx := context.WithValue(c.UserContext(), common_models.RequestIDKey, requestID)
		c.SetUserContext(ctx)
		return c.Next()
	}
}

// RequestLogger logs one line per request once the handler chain returns.
func RequestLogger(log *zap.Logger) fiber.Handler {
	log = log.Named("http")
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", c.Response().StatusCode()),
			zap.Duration("latency", time.Since(start)),
			zap.String("user_id", CallerID(c)),
		}
		if id, ok := c.Locals(common_models.RequestIDKey).(string); ok {
			fields = append(fields, zap.String("request_id", id))
		}
		if err != nil {
			fields = append(fields, zap.Error(err))
			log.Error("Request failed", fields...)
			return err
		}
		if c.Response().StatusCode() >= fiber.StatusInternalServerError {
			log.Error("Request failed", fields...)
		} else {
			log.Info("Request handled", fields...)
		}
		return nil
	}
}
