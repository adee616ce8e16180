package approval

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	common_models "go-opsdesk/internal/common/models"
	"go-opsdesk/internal/features/audit"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type SubmitInput struct {
	EntityType  EntityType
	Title       string
	Description string
	Amount      float64
	Approvers   map[string][]string // level -> user ids
}

type ApprovalService interface {
	Submit(ctx context.Context, actor Actor, in SubmitInput) (*EntityView, error)
	Get(ctx context.Context, entityType EntityType, id string) (*EntityView, error)
	Act(ctx context.Context, actor Actor, in ActInput) (*TransitionResult, error)
	AddApprover(ctx context.Context, actor Actor, in AddApproverInput) (*ApprovalRecord, error)
	ListPending(ctx context.Context, actor Actor) ([]PendingApproval, error)
	Reconcile(ctx context.Context) (int, error)

	ResolveActor(ctx context.Context, userID string) (Actor, error)
	ResolvePolicy(token string) (*Policy, error)
	Policies() []*Policy
}

type ApprovalServiceImpl struct {
	Store       Store
	Registry    *Registry
	Authorizer  *Authorizer
	Projector   *Projector
	Transitions *TransitionProcessor
	Delegations *Delegator
	Audit       audit.Recorder
	Log         *zap.Logger
}

func NewApprovalService(
	store Store,
	registry *Registry,
	authorizer *Authorizer,
	recorder audit.Recorder,
	log *zap.Logger,
) ApprovalService {
	projector := NewProjector()
	return &ApprovalServiceImpl{
		Store:       store,
		Registry:    registry,
		Authorizer:  authorizer,
		Projector:   projector,
		Transitions: NewTransitionProcessor(store, registry, projector, recorder, log),
		Delegations: NewDelegator(store, registry, authorizer, recorder, log),
		Audit:       recorder,
		Log:         log.Named("approval"),
	}
}

func (s *ApprovalServiceImpl) Act(ctx context.Context, actor Actor, in ActInput) (*TransitionResult, error) {
	return s.Transitions.Act(ctx, actor, in)
}

func (s *ApprovalServiceImpl) AddApprover(ctx context.Context, actor Actor, in AddApproverInput) (*ApprovalRecord, error) {
	return s.Delegations.AddApprover(ctx, actor, in)
}

func (s *ApprovalServiceImpl) ResolveActor(ctx context.Context, userID string) (Actor, error) {
	return s.Authorizer.Resolve(ctx, userID)
}

func (s *ApprovalServiceImpl) ResolvePolicy(token string) (*Policy, error) {
	p, ok := s.Registry.Resolve(token)
	if !ok {
		return nil, newError(KindNotFound, "unknown entity type %q", token)
	}
	return p, nil
}

func (s *ApprovalServiceImpl) Policies() []*Policy {
	return s.Registry.All()
}

// Submit creates an entity and seeds one pending record per assigned approver.
func (s *ApprovalServiceImpl) Submit(ctx context.Context, actor Actor, in SubmitInput) (*EntityView, error) {
	policy, err := s.Registry.mustGet(in.EntityType)
	if err != nil {
		return nil, err
	}
	if !actor.IsActive {
		return nil, newError(KindForbidden, "user %s is not active", actor.ID)
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, newError(KindValidation, "title is required")
	}
	if in.Amount < 0 {
		return nil, newError(KindValidation, "amount cannot be negative")
	}

	for level := range in.Approvers {
		if !policy.HasLevel(level) {
			return nil, newError(KindValidation, "level %q is not defined for %s", level, policy.Type).
				with("levels", policy.Levels)
		}
	}

	var ids []string
	for _, level := range policy.Levels {
		approvers := in.Approvers[level]
		if len(approvers) == 0 {
			return nil, newError(KindValidation, "level %s needs at least one approver", level).
				with("level", level)
		}
		seen := map[string]bool{}
		for _, id := range approvers {
			if id == "" {
				return nil, newError(KindValidation, "empty approver id at level %s", level)
			}
			if seen[id] {
				return nil, newError(KindValidation, "user %s is assigned twice at level %s", id, level)
			}
			seen[id] = true
			if !slices.Contains(ids, id) {
				ids = append(ids, id)
			}
		}
	}

	if err := s.checkApprovers(ctx, ids); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	entity := Entity{
		ID:          uuid.NewString(),
		Type:        policy.Type,
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		Amount:      in.Amount,
		RequestedBy: actor.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	records := make([]ApprovalRecord, 0, len(ids))
	for _, level := range policy.Levels {
		for _, userID := range in.Approvers[level] {
			records = append(records, ApprovalRecord{
				ID:         uuid.NewString(),
				EntityType: policy.Type,
				EntityID:   entity.ID,
				Level:      level,
				UserID:     userID,
				Status:     StatusPending,
				CreatedAt:  now,
				UpdatedAt:  now,
			})
		}
	}
	entity.Status = policy.Project(records)

	if err := s.Store.CreateEntity(ctx, entity, records); err != nil {
		return nil, fmt.Errorf("create %s: %w", policy.Type, err)
	}

	s.Log.Info("Entity submitted",
		zap.String("entity_type", string(policy.Type)),
		zap.String("entity_id", entity.ID),
		zap.Int("approvals", len(records)),
	)
	emit(s.Audit, s.Log, audit.Event{
		ActorID:       actor.ID,
		ActorSnapshot: actor.Snapshot(),
		ActionType:    common_models.AuditActionSubmit,
		EntityType:    string(policy.Type),
		EntityID:      entity.ID,
		Description:   fmt.Sprintf("%s submitted %s %q", actor.Name, policy.Type, entity.Title),
		NewState:      entity.Summary(),
	})
	return &EntityView{Entity: entity, Approvals: records}, nil
}

func (s *ApprovalServiceImpl) checkApprovers(ctx context.Context, ids []string) error {
	users, err := s.Authorizer.Users.FindByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("load approvers: %w", err)
	}
	active := map[string]bool{}
	found := map[string]bool{}
	for _, u := range users {
		found[u.ID] = true
		active[u.ID] = u.IsActive()
	}

	var missing, inactive []string
	for _, id := range ids {
		switch {
		case !found[id]:
			missing = append(missing, id)
		case !active[id]:
			inactive = append(inactive, id)
		}
	}
	if len(missing) > 0 {
		return newError(KindValidation, "unknown approvers: %s", strings.Join(missing, ", ")).
			with("missing", missing)
	}
	if len(inactive) > 0 {
		return newError(KindValidation, "inactive approvers: %s", strings.Join(inactive, ", ")).
			with("inactive", inactive)
	}
	return nil
}

func (s *ApprovalServiceImpl) Get(ctx context.Context, entityType EntityType, id string) (*EntityView, error) {
	policy, err := s.Registry.mustGet(entityType)
	if err != nil {
		return nil, err
	}
	entity, err := s.Store.GetEntity(ctx, policy.Type, id)
	if errors.Is(err, ErrStoreNotFound) {
		return nil, newError(KindNotFound, "%s %s not found", policy.Type, id)
	}
	if err != nil {
		return nil, err
	}
	records, err := s.Store.ListRecords(ctx, policy.Type, id)
	if err != nil {
		return nil, err
	}
	return &EntityView{Entity: *entity, Approvals: records}, nil
}

// ListPending returns the actor's pending records across every entity type.
// Records that can no longer change anything are kept but marked not actionable.
func (s *ApprovalServiceImpl) ListPending(ctx context.Context, actor Actor) ([]PendingApproval, error) {
	pending, err := s.Store.ListPendingForUser(ctx, actor.ID)
	if err != nil {
		return nil, err
	}

	type trail struct {
		entity  *Entity
		records []ApprovalRecord
	}
	trails := map[entityKey]*trail{}

	out := make([]PendingApproval, 0, len(pending))
	for _, rec := range pending {
		policy, ok := s.Registry.Get(rec.EntityType)
		if !ok {
			s.Log.Warn("Pending approval for unregistered entity type",
				zap.String("approval_id", rec.ID), zap.String("entity_type", string(rec.EntityType)))
			continue
		}

		key := entityKey{rec.EntityType, rec.EntityID}
		t, ok := trails[key]
		if !ok {
			entity, err := s.Store.GetEntity(ctx, rec.EntityType, rec.EntityID)
			if errors.Is(err, ErrStoreNotFound) {
				s.Log.Warn("Pending approval without parent entity",
					zap.String("approval_id", rec.ID), zap.String("entity_id", rec.EntityID))
				continue
			}
			if err != nil {
				return nil, err
			}
			records, err := s.Store.ListRecords(ctx, rec.EntityType, rec.EntityID)
			if err != nil {
				return nil, err
			}
			t = &trail{entity: entity, records: records}
			trails[key] = t
		}

		out = append(out, PendingApproval{
			Approval:   rec,
			Entity:     t.entity.Summary(),
			Actionable: policy.Actionable(t.records, rec) == nil,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Approval.CreatedAt.Before(out[j].Approval.CreatedAt)
	})
	return out, nil
}

// Reconcile recomputes every open entity's status from its records and
// projects any drift. Running it twice in a row changes nothing the second time.
func (s *ApprovalServiceImpl) Reconcile(ctx context.Context) (int, error) {
	corrected := 0
	for _, policy := range s.Registry.All() {
		terminal := []string{policy.CompletedStatus, policy.RejectedStatus}
		entities, err := s.Store.ListOpenEntities(ctx, policy.Type, terminal)
		if err != nil {
			return corrected, fmt.Errorf("list open %s: %w", policy.Type, err)
		}

		for _, e := range entities {
			changed, previous, next, err := s.reconcileOne(ctx, policy, e.ID)
			if err != nil {
				s.Log.Error("Failed to reconcile entity",
					zap.Error(err),
					zap.String("entity_type", string(policy.Type)),
					zap.String("entity_id", e.ID),
				)
				continue
			}
			if !changed {
				continue
			}
			corrected++
			s.Log.Warn("Entity status drift corrected",
				zap.String("entity_type", string(policy.Type)),
				zap.String("entity_id", e.ID),
				zap.String("from", previous),
				zap.String("to", next),
			)
			emit(s.Audit, s.Log, audit.Event{
				ActorID:       "system",
				ActionType:    common_models.AuditActionReconcile,
				EntityType:    string(policy.Type),
				EntityID:      e.ID,
				Description:   fmt.Sprintf("status of %s %s recomputed from its approvals", policy.Type, e.ID),
				PreviousState: map[string]interface{}{"entityStatus": previous},
				NewState:      map[string]interface{}{"entityStatus": next},
			})
		}
	}
	return corrected, nil
}

func (s *ApprovalServiceImpl) reconcileOne(ctx context.Context, policy *Policy, id string) (changed bool, previous, next string, err error) {
	err = s.Store.Transact(ctx, func(ctx context.Context, tx Tx) error {
		entity, err := tx.LockEntity(ctx, policy.Type, id)
		if err != nil {
			return err
		}
		records, err := tx.ListRecords(ctx, policy.Type, id)
		if err != nil {
			return err
		}
		previous = entity.Status
		next = policy.Project(records)
		changed, err = s.Projector.Project(ctx, tx, entity, next)
		return err
	})
	return changed, previous, next, err
}
