package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	common_models "go-opsdesk/internal/common/models"
	"go-opsdesk/internal/features/audit"
	"go-opsdesk/internal/features/user"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type AddApproverInput struct {
	EntityType         EntityType
	EntityID           string
	NewApproverID      string
	Level              string
	RequiredPermission string // optional; any of the policy's delegation permissions otherwise
}

// Delegator inserts extra approvers into an in-flight workflow. It only ever
// inserts; existing records and the entity row are left alone, and no lock is
// taken, so it cannot deadlock with a transition on the same entity.
type Delegator struct {
	Store      Store
	Registry   *Registry
	Authorizer *Authorizer
	Audit      audit.Recorder
	Log        *zap.Logger
}

func NewDelegator(store Store, registry *Registry, authorizer *Authorizer, recorder audit.Recorder, log *zap.Logger) *Delegator {
	return &Delegator{
		Store:      store,
		Registry:   registry,
		Authorizer: authorizer,
		Audit:      recorder,
		Log:        log.Named("delegation"),
	}
}

func (d *Delegator) validate(in AddApproverInput) (*Policy, error) {
	policy, err := d.Registry.mustGet(in.EntityType)
	if err != nil {
		return nil, err
	}
	if in.EntityID == "" {
		return nil, newError(KindValidation, "entityId is required")
	}
	if in.NewApproverID == "" {
		return nil, newError(KindValidation, "newApproverId is required")
	}
	if !policy.HasLevel(in.Level) {
		return nil, newError(KindValidation, "level %q is not defined for %s", in.Level, policy.Type).
			with("levels", policy.Levels)
	}
	if in.RequiredPermission != "" && !policy.AcceptsPermission(in.RequiredPermission) {
		return nil, newError(KindValidation, "permission %s cannot authorize delegation on %s", in.RequiredPermission, policy.Type).
			with("accepted", policy.DelegationPermissions)
	}
	return policy, nil
}

// AddApprover adds a pending record for NewApproverID at Level. Records at the
// same level form an OR-gate: the first approval satisfies the level.
func (d *Delegator) AddApprover(ctx context.Context, actor Actor, in AddApproverInput) (*ApprovalRecord, error) {
	policy, err := d.validate(in)
	if err != nil {
		return nil, err
	}

	entity, err := d.Store.GetEntity(ctx, policy.Type, in.EntityID)
	if errors.Is(err, ErrStoreNotFound) {
		return nil, newError(KindNotFound, "%s %s not found", policy.Type, in.EntityID)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s %s: %w", policy.Type, in.EntityID, err)
	}

	records, err := d.Store.ListRecords(ctx, policy.Type, in.EntityID)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}

	inWorkflow := false
	for _, r := range records {
		if r.UserID == actor.ID {
			inWorkflow = true
			break
		}
	}
	if !inWorkflow {
		return nil, newError(KindForbidden, "user %s is not part of the approval workflow", actor.ID)
	}

	// Permissions may have changed since the actor was resolved.
	fresh, err := d.Authorizer.Resolve(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	required := policy.DelegationPermissions
	if in.RequiredPermission != "" {
		required = []string{in.RequiredPermission}
	}
	if err := d.Authorizer.Require(fresh, required...); err != nil {
		return nil, err
	}

	if status := policy.Project(records); policy.IsTerminal(status) {
		return nil, newError(KindAlreadyProcessed, "%s %s is already %s", policy.Type, in.EntityID, status).
			with("entityStatus", status)
	}
	if policy.LevelSatisfied(records, in.Level) {
		return nil, newError(KindAlreadyProcessed, "level %s is already approved", in.Level).
			with("level", in.Level)
	}

	approver, err := d.Authorizer.Users.FindByID(ctx, in.NewApproverID)
	if errors.Is(err, user.ErrNotFound) {
		return nil, newError(KindNotFound, "user %s not found", in.NewApproverID)
	}
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", in.NewApproverID, err)
	}
	if !approver.IsActive() {
		return nil, newError(KindValidation, "user %s is not active", in.NewApproverID)
	}

	for _, r := range records {
		if r.Level == in.Level && r.UserID == in.NewApproverID && r.Status == StatusPending {
			return nil, duplicateApprover(in)
		}
	}

	now := time.Now().UTC()
	rec := ApprovalRecord{
		ID:         uuid.NewString(),
		EntityType: policy.Type,
		EntityID:   in.EntityID,
		Level:      in.Level,
		UserID:     in.NewApproverID,
		Status:     StatusPending,
		AddedBy:    stringPtr(fresh.ID),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := d.Store.InsertRecord(ctx, rec); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, duplicateApprover(in)
		}
		return nil, fmt.Errorf("insert approval: %w", err)
	}

	d.Log.Info("Approver added",
		zap.String("approval_id", rec.ID),
		zap.String("entity_type", string(policy.Type)),
		zap.String("entity_id", in.EntityID),
		zap.String("level", in.Level),
		zap.String("added_by", fresh.ID),
	)
	emit(d.Audit, d.Log, audit.Event{
		ActorID:       fresh.ID,
		ActorSnapshot: fresh.Snapshot(),
		ActionType:    common_models.AuditActionDelegate,
		EntityType:    string(policy.Type),
		EntityID:      in.EntityID,
		Description: fmt.Sprintf("%s added %s as %s approver on %s %s",
			fresh.Name, approver.Username, in.Level, policy.Type, in.EntityID),
		NewState: map[string]interface{}{
			"approvalId":   rec.ID,
			"level":        rec.Level,
			"userId":       rec.UserID,
			"entityStatus": entity.Status,
		},
	})
	return &rec, nil
}

func duplicateApprover(in AddApproverInput) error {
	return newError(KindValidation, "user %s is already a pending %s approver", in.NewApproverID, in.Level).
		with("level", in.Level)
}
