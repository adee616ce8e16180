package middleware

import (
	"strings"

	common_models "go-opsdesk/internal/common/models"
	"go-opsdesk/internal/config"
	"go-opsdesk/pkg/utils"

	"github.com/gofiber/fiber/v2"
	fiberutils "github.com/gofiber/fiber/v2/utils"
)

const devUserID = "dev-admin-id"

// IdentityMiddleware establishes who is calling. With TrustIdentityHeader the
// upstream gateway's header is the identity; otherwise a bearer token is
// required and the header is ignored. Only the user id is taken from the
// request; everything else about the caller is looked up by the handlers.
func IdentityMiddleware(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if cfg.TrustIdentityHeader {
			if userID := strings.TrimSpace(c.Get(cfg.IdentityHeader)); userID != "" {
				c.Locals(utils.UserClaimsKey, &utils.UserClaims{UserID: fiberutils.CopyString(userID)})
				return c.Next()
			}
		}

		if cfg.SkipAuth {
			c.Locals(utils.UserClaimsKey, &utils.UserClaims{UserID: devUserID})
			return c.Next()
		}

		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return common_models.Fail(c, fiber.StatusUnauthorized, "Unauthorized", "caller identity required", nil)
		}

		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok {
			return common_models.Fail(c, fiber.StatusUnauthorized, "Unauthorized", "invalid authorization header format", nil)
		}

		claims, err := utils.ValidateToken(token)
		if err != nil {
			return common_models.Fail(c, fiber.StatusUnauthorized, "Unauthorized", "invalid token", nil)
		}

		c.Locals(utils.UserClaimsKey, claims)
		return c.Next()
	}
}

// CallerID returns the user id established by IdentityMiddleware.
func CallerID(c *fiber.Ctx) string {
	claims, ok := c.Locals(utils.UserClaimsKey).(*utils.UserClaims)
	if !ok || claims == nil {
		return ""
	}
	return claims.UserID
}
