package system

import (
	"context"
	"errors"

	common_models "go-opsdesk/internal/common/models"
	"go-opsdesk/internal/features/approval"
	"go-opsdesk/internal/middleware"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// ActorResolver is the part of the approval service the debug routes need.
type ActorResolver interface {
	ResolveActor(ctx context.Context, userID string) (approval.Actor, error)
}

type DebugController struct {
	Actors ActorResolver
	Log    *zap.Logger
}

func NewDebugController(actors ActorResolver, log *zap.Logger) *DebugController {
	return &DebugController{Actors: actors, Log: log.Named("debug")}
}

// GetCurrentUser godoc
// @Summary      Get current caller
// @Description  Resolve the caller identity into the actor the approval engine sees
// @Tags         debug
// @Produce      json
// @Success      200  {object}  common_models.Envelope
// @Failure      403  {object}  common_models.Envelope
// @Failure      500  {object}  common_models.Envelope
// @Router       /debug/me [get]
func (c *DebugController) GetCurrentUser(ctx *fiber.Ctx) error {
	userID := middleware.CallerID(ctx)
	actor, err := c.Actors.ResolveActor(ctx.UserContext(), userID)
	if err != nil {
		var e *approval.Error
		if errors.As(err, &e) {
			return common_models.Fail(ctx, approval.StatusFor(e.Kind), string(e.Kind), e.Message, fiber.Map{"user_id": userID})
		}
		c.Log.Error("Failed to resolve caller", zap.Error(err), zap.String("user_id", userID))
		return common_models.Fail(ctx, fiber.StatusInternalServerError, "InternalError", "internal server error", nil)
	}

	return common_models.OK(ctx, fiber.StatusOK, fiber.Map{
		"user_id": userID,
		"actor":   actor,
	})
}
