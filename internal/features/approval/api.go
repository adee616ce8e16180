package approval

import (
	"go-opsdesk/internal/config"
	"go-opsdesk/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

type ApprovalApi struct {
	controller *ApprovalController
	config     *config.Config
}

func NewApprovalApi(controller *ApprovalController, config *config.Config) *ApprovalApi {
	return &ApprovalApi{
		controller: controller,
		config:     config,
	}
}

func (h *ApprovalApi) Setup(app *fiber.App) {
	api := app.Group("/api", middleware.IdentityMiddleware(h.config))

	api.Get("/approvals", h.controller.ListPending)
	api.Get("/policies", h.controller.ListPolicies)

	api.Post("/:entityType", h.controller.Submit)
	api.Get("/:entityType/:entityId", h.controller.Get)
	api.Post("/:entityType/:entityId/approve", h.controller.Approve)
	api.Post("/:entityType/:entityId/add-approver", h.controller.AddApprover)
}
