package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	common_models "go-opsdesk/internal/common/models"
	"go-opsdesk/internal/features/audit"

	"go.uber.org/zap"
)

const maxCommentLength = 2000

type ActInput struct {
	EntityType EntityType
	EntityID   string
	ApprovalID string
	Action     Action
	Level      string // optional hint from the client's view of the record
	Comments   string
}

// TransitionResult is the committed outcome of one Act call.
type TransitionResult struct {
	Entity         Entity
	Approval       ApprovalRecord
	Approvals      []ApprovalRecord
	PreviousStatus string
}

func (r *TransitionResult) View() EntityView {
	return EntityView{Entity: r.Entity, Approvals: r.Approvals}
}

// TransitionProcessor applies approve/reject actions. The record write and the
// entity status projection commit together or not at all.
type TransitionProcessor struct {
	Store     Store
	Registry  *Registry
	Projector *Projector
	Audit     audit.Recorder
	Log       *zap.Logger
}

func NewTransitionProcessor(store Store, registry *Registry, projector *Projector, recorder audit.Recorder, log *zap.Logger) *TransitionProcessor {
	return &TransitionProcessor{
		Store:     store,
		Registry:  registry,
		Projector: projector,
		Audit:     recorder,
		Log:       log.Named("transition"),
	}
}

func (p *TransitionProcessor) validate(in ActInput) (*Policy, error) {
	policy, err := p.Registry.mustGet(in.EntityType)
	if err != nil {
		return nil, err
	}
	if in.EntityID == "" {
		return nil, newError(KindValidation, "entityId is required")
	}
	if in.ApprovalID == "" {
		return nil, newError(KindValidation, "approvalId is required")
	}
	if !in.Action.Valid() {
		return nil, newError(KindValidation, "action must be approve or reject").with("action", in.Action)
	}
	if len(in.Comments) > maxCommentLength {
		return nil, newError(KindValidation, "comments exceed %d characters", maxCommentLength)
	}
	return policy, nil
}

// Act decides one pending approval record and reprojects the entity status.
func (p *TransitionProcessor) Act(ctx context.Context, actor Actor, in ActInput) (*TransitionResult, error) {
	policy, err := p.validate(in)
	if err != nil {
		return nil, err
	}

	var result TransitionResult
	err = p.Store.Transact(ctx, func(ctx context.Context, tx Tx) error {
		result = TransitionResult{}

		rec, err := tx.GetRecord(ctx, in.ApprovalID)
		if errors.Is(err, ErrStoreNotFound) || (err == nil && (rec.EntityType != policy.Type || rec.EntityID != in.EntityID)) {
			return newError(KindNotFound, "approval %s not found on %s %s", in.ApprovalID, policy.Type, in.EntityID)
		}
		if err != nil {
			return fmt.Errorf("load approval %s: %w", in.ApprovalID, err)
		}

		if !actor.IsActive || actor.ID != rec.UserID {
			return newError(KindForbidden, "user %s is not the assigned approver", actor.ID)
		}
		if rec.Status != StatusPending {
			return newError(KindAlreadyProcessed, "approval %s is already %s", rec.ID, rec.Status).
				with("approvalStatus", rec.Status)
		}
		if in.Level != "" && in.Level != rec.Level {
			return newError(KindLevelMismatch, "approval %s is at level %s, not %s", rec.ID, rec.Level, in.Level).
				with("level", rec.Level)
		}

		entity, err := tx.LockEntity(ctx, policy.Type, in.EntityID)
		if errors.Is(err, ErrStoreNotFound) {
			return newError(KindNotFound, "%s %s not found", policy.Type, in.EntityID)
		}
		if err != nil {
			return fmt.Errorf("lock %s %s: %w", policy.Type, in.EntityID, err)
		}

		records, err := tx.ListRecords(ctx, policy.Type, in.EntityID)
		if err != nil {
			return fmt.Errorf("list approvals: %w", err)
		}
		if err := policy.Actionable(records, *rec); err != nil {
			return err
		}

		now := time.Now().UTC()
		ok, err := tx.ResolveRecord(ctx, rec.ID, in.Action.Outcome(), now, stringPtr(in.Comments))
		if err != nil {
			return fmt.Errorf("resolve approval %s: %w", rec.ID, err)
		}
		if !ok {
			return newError(KindAlreadyProcessed, "approval %s was processed concurrently", rec.ID)
		}

		// Recompute from the full set rather than applying a delta.
		records, err = tx.ListRecords(ctx, policy.Type, in.EntityID)
		if err != nil {
			return fmt.Errorf("list approvals: %w", err)
		}
		previous := entity.Status
		if _, err := p.Projector.Project(ctx, tx, entity, policy.Project(records)); err != nil {
			return err
		}

		for _, r := range records {
			if r.ID == rec.ID {
				result.Approval = r
			}
		}
		result.Entity = *entity
		result.Approvals = records
		result.PreviousStatus = previous
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.Log.Info("Approval decided",
		zap.String("approval_id", result.Approval.ID),
		zap.String("entity_type", string(policy.Type)),
		zap.String("entity_id", in.EntityID),
		zap.String("decision", string(result.Approval.Status)),
		zap.String("entity_status", result.Entity.Status),
	)
	p.recordAudit(actor, in.Action, &result)
	return &result, nil
}

func (p *TransitionProcessor) recordAudit(actor Actor, action Action, r *TransitionResult) {
	actionType := common_models.AuditActionApprove
	verb := "approved"
	if action == ActionReject {
		actionType = common_models.AuditActionReject
		verb = "rejected"
	}

	emit(p.Audit, p.Log, audit.Event{
		ActorID:       actor.ID,
		ActorSnapshot: actor.Snapshot(),
		ActionType:    actionType,
		EntityType:    string(r.Entity.Type),
		EntityID:      r.Entity.ID,
		Description: fmt.Sprintf("%s %s level %s of %s %s",
			actor.Name, verb, r.Approval.Level, r.Entity.Type, r.Entity.ID),
		PreviousState: map[string]interface{}{
			"approvalStatus": StatusPending,
			"entityStatus":   r.PreviousStatus,
		},
		NewState: map[string]interface{}{
			"approvalId":     r.Approval.ID,
			"approvalStatus": r.Approval.Status,
			"entityStatus":   r.Entity.Status,
		},
	})
}

// emit hands an event to the recorder after the caller's work has committed.
// A misbehaving recorder is logged and otherwise ignored.
func emit(recorder audit.Recorder, log *zap.Logger, e audit.Event) {
	if recorder == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("Audit recorder panicked", zap.Any("panic", r), zap.String("entity_id", e.EntityID))
		}
	}()
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	recorder.Record(e)
}
