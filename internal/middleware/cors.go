package middleware

import (
	"go-opsdesk/internal/config"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

const baseAllowHeaders = "Content-Type,Authorization,X-Requested-With,X-Request-ID"

// CORSMiddleware returns Fiber's built-in CORS middleware. Browsers may only
// send the identity header when the deployment trusts it.
func CORSMiddleware(cfg *config.Config) fiber.Handler {
	return cors.New(cors.Config{
		AllowOrigins:     "http://localhost:3000, http://localhost:3001, http://localhost:8000",
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     allowHeaders(cfg),
		AllowCredentials: true,
	})
}

func allowHeaders(cfg *config.Config) string {
	if cfg.TrustIdentityHeader && cfg.IdentityHeader != "" {
		return baseAllowHeaders + "," + cfg.IdentityHeader
	}
	return baseAllowHeaders
}
