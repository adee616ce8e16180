package approval

import (
	"errors"

	common_models "go-opsdesk/internal/common/models"
	"go-opsdesk/internal/middleware"

	"github.com/gofiber/fiber/v2"
	fiberutils "github.com/gofiber/fiber/v2/utils"
	"go.uber.org/zap"
)

type ApprovalController struct {
	Service ApprovalService
	Log     *zap.Logger
}

func NewApprovalController(service ApprovalService, log *zap.Logger) *ApprovalController {
	return &ApprovalController{
		Service: service,
		Log:     log.Named("approval_api"),
	}
}

type SubmitRequest struct {
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Amount      float64             `json:"amount"`
	Approvers   map[string][]string `json:"approvers"` // level -> user ids
}

type ApproveRequest struct {
	ApprovalID string `json:"approvalId"`
	UserID     string `json:"userId"`
	Level      string `json:"level"`
	Action     string `json:"action"`
	Comments   string `json:"comments"`
}

type AddApproverRequest struct {
	ActorID            string `json:"actorId"`
	NewApproverID      string `json:"newApproverId"`
	Level              string `json:"level"`
	RequiredPermission string `json:"requiredPermission"`
}

var statusByKind = map[Kind]int{
	KindValidation:       fiber.StatusBadRequest,
	KindForbidden:        fiber.StatusForbidden,
	KindNotFound:         fiber.StatusNotFound,
	KindAlreadyProcessed: fiber.StatusConflict,
	KindLevelMismatch:    fiber.StatusConflict,
	KindStageNotReached:  fiber.StatusConflict,
}

// StatusFor maps an error kind to its HTTP status. Unknown kinds are internal.
func StatusFor(kind Kind) int {
	if status, ok := statusByKind[kind]; ok {
		return status
	}
	return fiber.StatusInternalServerError
}

func (c *ApprovalController) fail(ctx *fiber.Ctx, err error) error {
	var e *Error
	if errors.As(err, &e) {
		status := StatusFor(e.Kind)
		var details interface{}
		if len(e.Details) > 0 {
			details = e.Details
		}
		return common_models.Fail(ctx, status, string(e.Kind), e.Message, details)
	}

	c.Log.Error("Approval request failed",
		zap.Error(err),
		zap.String("method", ctx.Method()),
		zap.String("path", ctx.Path()),
	)
	return common_models.Fail(ctx, fiber.StatusInternalServerError, "InternalError", "internal server error", nil)
}

func (c *ApprovalController) caller(ctx *fiber.Ctx) (Actor, error) {
	return c.Service.ResolveActor(ctx.UserContext(), middleware.CallerID(ctx))
}

// param copies a path parameter out of fiber's request buffer, which is
// reused once the handler returns. Values stored in records or audit events
// must never alias it.
func param(ctx *fiber.Ctx, name string) string {
	return fiberutils.CopyString(ctx.Params(name))
}

func invalidBody() error {
	return newError(KindValidation, "invalid request body")
}

// Submit godoc
// @Summary Submit an entity for approval
// @Description Create a Request, Payment, Payroll run or Project and seed its approval records
// @Tags approvals
// @Accept json
// @Produce json
// @Param entityType path string true "Entity type slug or name (requests, payments, payroll, projects)"
// @Param request body SubmitRequest true "Entity and approvers per level"
// @Success 201 {object} common_models.Envelope
// @Failure 400 {object} common_models.Envelope
// @Failure 403 {object} common_models.Envelope
// @Router /api/{entityType} [post]
func (c *ApprovalController) Submit(ctx *fiber.Ctx) error {
	policy, err := c.Service.ResolvePolicy(param(ctx, "entityType"))
	if err != nil {
		return c.fail(ctx, err)
	}
	var input SubmitRequest
	if err := ctx.BodyParser(&input); err != nil {
		return c.fail(ctx, invalidBody())
	}
	actor, err := c.caller(ctx)
	if err != nil {
		return c.fail(ctx, err)
	}

	view, err := c.Service.Submit(ctx.UserContext(), actor, SubmitInput{
		EntityType:  policy.Type,
		Title:       input.Title,
		Description: input.Description,
		Amount:      input.Amount,
		Approvers:   input.Approvers,
	})
	if err != nil {
		return c.fail(ctx, err)
	}
	return common_models.OK(ctx, fiber.StatusCreated, view)
}

// Get godoc
// @Summary Get an entity with its approval trail
// @Tags approvals
// @Produce json
// @Param entityType path string true "Entity type slug or name"
// @Param entityId path string true "Entity ID"
// @Success 200 {object} common_models.Envelope
// @Failure 404 {object} common_models.Envelope
// @Router /api/{entityType}/{entityId} [get]
func (c *ApprovalController) Get(ctx *fiber.Ctx) error {
	policy, err := c.Service.ResolvePolicy(param(ctx, "entityType"))
	if err != nil {
		return c.fail(ctx, err)
	}
	if _, err := c.caller(ctx); err != nil {
		return c.fail(ctx, err)
	}

	view, err := c.Service.Get(ctx.UserContext(), policy.Type, param(ctx, "entityId"))
	if err != nil {
		return c.fail(ctx, err)
	}
	return common_models.OK(ctx, fiber.StatusOK, view)
}

// Approve godoc
// @Summary Approve or reject an approval record
// @Description Decide one pending approval record assigned to the caller and return the updated entity
// @Tags approvals
// @Accept json
// @Produce json
// @Param entityType path string true "Entity type slug or name"
// @Param entityId path string true "Entity ID"
// @Param request body ApproveRequest true "Decision"
// @Success 200 {object} common_models.Envelope
// @Failure 400 {object} common_models.Envelope
// @Failure 403 {object} common_models.Envelope
// @Failure 404 {object} common_models.Envelope
// @Failure 409 {object} common_models.Envelope
// @Router /api/{entityType}/{entityId}/approve [post]
func (c *ApprovalController) Approve(ctx *fiber.Ctx) error {
	policy, err := c.Service.ResolvePolicy(param(ctx, "entityType"))
	if err != nil {
		return c.fail(ctx, err)
	}
	var input ApproveRequest
	if err := ctx.BodyParser(&input); err != nil {
		return c.fail(ctx, invalidBody())
	}
	actor, err := c.caller(ctx)
	if err != nil {
		return c.fail(ctx, err)
	}
	if input.UserID != "" && input.UserID != actor.ID {
		return c.fail(ctx, newError(KindForbidden, "userId does not match the caller"))
	}

	result, err := c.Service.Act(ctx.UserContext(), actor, ActInput{
		EntityType: policy.Type,
		EntityID:   param(ctx, "entityId"),
		ApprovalID: input.ApprovalID,
		Action:     Action(input.Action),
		Level:      input.Level,
		Comments:   input.Comments,
	})
	if err != nil {
		return c.fail(ctx, err)
	}
	return common_models.OK(ctx, fiber.StatusOK, result.View())
}

// AddApprover godoc
// @Summary Delegate to an additional approver
// @Description Add a pending approver at a level of an in-flight workflow. The caller must already be part of the workflow and hold a delegation permission.
// @Tags approvals
// @Accept json
// @Produce json
// @Param entityType path string true "Entity type slug or name"
// @Param entityId path string true "Entity ID"
// @Param request body AddApproverRequest true "New approver"
// @Success 200 {object} common_models.Envelope
// @Failure 400 {object} common_models.Envelope
// @Failure 403 {object} common_models.Envelope
// @Failure 404 {object} common_models.Envelope
// @Failure 409 {object} common_models.Envelope
// @Router /api/{entityType}/{entityId}/add-approver [post]
func (c *ApprovalController) AddApprover(ctx *fiber.Ctx) error {
	policy, err := c.Service.ResolvePolicy(param(ctx, "entityType"))
	if err != nil {
		return c.fail(ctx, err)
	}
	var input AddApproverRequest
	if err := ctx.BodyParser(&input); err != nil {
		return c.fail(ctx, invalidBody())
	}
	actor, err := c.caller(ctx)
	if err != nil {
		return c.fail(ctx, err)
	}
	if input.ActorID != "" && input.ActorID != actor.ID {
		return c.fail(ctx, newError(KindForbidden, "actorId does not match the caller"))
	}

	entityID := param(ctx, "entityId")
	if _, err := c.Service.AddApprover(ctx.UserContext(), actor, AddApproverInput{
		EntityType:         policy.Type,
		EntityID:           entityID,
		NewApproverID:      input.NewApproverID,
		Level:              input.Level,
		RequiredPermission: input.RequiredPermission,
	}); err != nil {
		return c.fail(ctx, err)
	}

	view, err := c.Service.Get(ctx.UserContext(), policy.Type, entityID)
	if err != nil {
		return c.fail(ctx, err)
	}
	return common_models.OK(ctx, fiber.StatusOK, view)
}

// ListPending godoc
// @Summary List the caller's pending approvals
// @Description Pending approval records assigned to the caller across every entity type, with an entity summary
// @Tags approvals
// @Produce json
// @Success 200 {object} common_models.Envelope
// @Failure 403 {object} common_models.Envelope
// @Router /api/approvals [get]
func (c *ApprovalController) ListPending(ctx *fiber.Ctx) error {
	actor, err := c.caller(ctx)
	if err != nil {
		return c.fail(ctx, err)
	}
	items, err := c.Service.ListPending(ctx.UserContext(), actor)
	if err != nil {
		return c.fail(ctx, err)
	}
	return common_models.OK(ctx, fiber.StatusOK, items)
}

// ListPolicies godoc
// @Summary List approval level policies
// @Tags approvals
// @Produce json
// @Success 200 {object} common_models.Envelope
// @Router /api/policies [get]
func (c *ApprovalController) ListPolicies(ctx *fiber.Ctx) error {
	return common_models.OK(ctx, fiber.StatusOK, c.Service.Policies())
}
