package approval

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go-opsdesk/internal/features/audit"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSequentialAdvance(t *testing.T) {
	f := newFixture(t)
	view := f.submitRequest(t)
	assert.Equal(t, "pending_dept_head", view.Status)

	res, err := f.act(t, view, "dept_head", "dept1", ActionApprove)
	require.NoError(t, err)
	assert.Equal(t, "pending_admin_head", res.Entity.Status)
	assert.Equal(t, "pending_dept_head", res.PreviousStatus)
	assert.Equal(t, StatusApproved, res.Approval.Status)
	require.NotNil(t, res.Approval.ActionDate)

	res, err = f.act(t, view, "admin_head", "admin1", ActionApprove)
	require.NoError(t, err)
	assert.Equal(t, "approved", res.Entity.Status)
	assert.Equal(t, "approved", f.entity(t, view).Status)
}

func TestSequentialRejectCascades(t *testing.T) {
	f := newFixture(t)
	view := f.submitRequest(t)

	res, err := f.act(t, view, "dept_head", "dept1", ActionReject)
	require.NoError(t, err)
	assert.Equal(t, "rejected", res.Entity.Status)

	got := f.entity(t, view)
	assert.Equal(t, "rejected", got.Status)
	admin := recordOf(t, got.Approvals, "admin_head", "admin1")
	assert.Equal(t, StatusPending, admin.Status, "later stages are left pending")
	assert.Nil(t, admin.ActionDate)

	_, err = f.act(t, view, "admin_head", "admin1", ActionApprove)
	assert.True(t, errors.Is(err, ErrAlreadyProcessed))
	assert.Equal(t, "rejected", f.entity(t, view).Status)
}

func TestSequentialStageOrdering(t *testing.T) {
	f := newFixture(t)
	view := f.submitRequest(t)

	_, err := f.act(t, view, "admin_head", "admin1", ActionApprove)
	assert.True(t, errors.Is(err, ErrStageNotReached))

	got := f.entity(t, view)
	assert.Equal(t, "pending_dept_head", got.Status)
	assert.Equal(t, StatusPending, recordOf(t, got.Approvals, "admin_head", "admin1").Status)
}

func TestParallelThreshold(t *testing.T) {
	f := newFixture(t)
	view := f.submitPayment(t)
	assert.Equal(t, "pending_approval", view.Status)

	res, err := f.act(t, view, "ceo", "ceo1", ActionApprove)
	require.NoError(t, err)
	assert.Equal(t, "pending_approval", res.Entity.Status)

	res, err = f.act(t, view, "accountant", "acct1", ActionApprove)
	require.NoError(t, err)
	assert.Equal(t, "pending_approval", res.Entity.Status)

	res, err = f.act(t, view, "finance_manager", "fin1", ActionApprove)
	require.NoError(t, err)
	assert.Equal(t, "scheduled", res.Entity.Status)
}

func TestParallelRejectVoidsImmediately(t *testing.T) {
	f := newFixture(t)
	view := f.submitPayment(t)

	_, err := f.act(t, view, "accountant", "acct1", ActionApprove)
	require.NoError(t, err)

	res, err := f.act(t, view, "finance_manager", "fin1", ActionReject)
	require.NoError(t, err)
	assert.Equal(t, "voided", res.Entity.Status)

	got := f.entity(t, view)
	assert.Equal(t, StatusPending, recordOf(t, got.Approvals, "ceo", "ceo1").Status)

	_, err = f.act(t, view, "ceo", "ceo1", ActionApprove)
	assert.True(t, errors.Is(err, ErrAlreadyProcessed))
	assert.Equal(t, "voided", f.entity(t, view).Status)
}

func TestActIsIdempotentOnceDecided(t *testing.T) {
	f := newFixture(t)
	view := f.submitPayment(t)

	first, err := f.act(t, view, "accountant", "acct1", ActionApprove)
	require.NoError(t, err)

	for _, action := range []Action{ActionApprove, ActionReject} {
		_, err := f.act(t, view, "accountant", "acct1", action)
		assert.True(t, errors.Is(err, ErrAlreadyProcessed), action)
	}

	got := f.entity(t, view)
	acct := recordOf(t, got.Approvals, "accountant", "acct1")
	assert.Equal(t, StatusApproved, acct.Status)
	assert.Equal(t, first.Approval.ActionDate, acct.ActionDate)
	assert.Equal(t, "pending_approval", got.Status)
}

func TestActExactlyOnceUnderRace(t *testing.T) {
	f := newFixture(t)
	view := f.submitPayment(t)
	target := recordOf(t, view.Approvals, "accountant", "acct1")
	actor := f.actor(t, "acct1")

	const n = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
		others    []error
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			action := ActionApprove
			if i%2 == 1 {
				action = ActionReject
			}
			<-start
			_, err := f.service.Act(context.Background(), actor, ActInput{
				EntityType: EntityPayment,
				EntityID:   view.ID,
				ApprovalID: target.ID,
				Action:     action,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrAlreadyProcessed):
				conflicts++
			default:
				others = append(others, err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, n-1, conflicts)
	assert.Empty(t, others)

	decided := 0
	for _, e := range f.recorder.Events() {
		if e.EntityID == view.ID && (e.ActionType == "APPROVE" || e.ActionType == "REJECT") {
			decided++
		}
	}
	assert.Equal(t, 1, decided)
}

func TestActRequiresAssignedApprover(t *testing.T) {
	f := newFixture(t)
	view := f.submitPayment(t)
	target := recordOf(t, view.Approvals, "accountant", "acct1")

	// outsider holds every delegation permission but is not the assignee.
	for _, id := range []string{"fin1", "outsider", "requester"} {
		_, err := f.service.Act(context.Background(), f.actor(t, id), ActInput{
			EntityType: EntityPayment,
			EntityID:   view.ID,
			ApprovalID: target.ID,
			Action:     ActionApprove,
		})
		assert.True(t, errors.Is(err, ErrForbidden), id)
	}

	_, err := f.service.Act(context.Background(), Actor{ID: "acct1", IsActive: false}, ActInput{
		EntityType: EntityPayment,
		EntityID:   view.ID,
		ApprovalID: target.ID,
		Action:     ActionApprove,
	})
	assert.True(t, errors.Is(err, ErrForbidden), "inactive actor")

	assert.Equal(t, StatusPending, recordOf(t, f.entity(t, view).Approvals, "accountant", "acct1").Status)
}

func TestActLevelHint(t *testing.T) {
	f := newFixture(t)
	view := f.submitPayment(t)
	target := recordOf(t, view.Approvals, "accountant", "acct1")
	actor := f.actor(t, "acct1")

	_, err := f.service.Act(context.Background(), actor, ActInput{
		EntityType: EntityPayment,
		EntityID:   view.ID,
		ApprovalID: target.ID,
		Action:     ActionApprove,
		Level:      "ceo",
	})
	assert.True(t, errors.Is(err, ErrLevelMismatch))

	_, err = f.service.Act(context.Background(), actor, ActInput{
		EntityType: EntityPayment,
		EntityID:   view.ID,
		ApprovalID: target.ID,
		Action:     ActionApprove,
		Level:      "cfo",
	})
	assert.True(t, errors.Is(err, ErrLevelMismatch), "levels outside the policy mismatch too")

	res, err := f.service.Act(context.Background(), actor, ActInput{
		EntityType: EntityPayment,
		EntityID:   view.ID,
		ApprovalID: target.ID,
		Action:     ActionApprove,
		Level:      "accountant",
		Comments:   "matches PO",
	})
	require.NoError(t, err)
	require.NotNil(t, res.Approval.Comments)
	assert.Equal(t, "matches PO", *res.Approval.Comments)
}

func TestActNotFound(t *testing.T) {
	f := newFixture(t)
	payment := f.submitPayment(t)
	request := f.submitRequest(t)
	actor := f.actor(t, "acct1")
	target := recordOf(t, payment.Approvals, "accountant", "acct1")

	tests := []struct {
		name string
		in   ActInput
	}{
		{"unknown approval", ActInput{EntityType: EntityPayment, EntityID: payment.ID, ApprovalID: "missing", Action: ActionApprove}},
		{"approval of another entity", ActInput{EntityType: EntityPayment, EntityID: "other", ApprovalID: target.ID, Action: ActionApprove}},
		{"approval of another type", ActInput{EntityType: EntityRequest, EntityID: request.ID, ApprovalID: target.ID, Action: ActionApprove}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.Act(context.Background(), actor, tt.in)
			assert.True(t, errors.Is(err, ErrNotFound))
		})
	}
}

func TestActValidation(t *testing.T) {
	f := newFixture(t)
	actor := f.actor(t, "acct1")

	tests := []struct {
		name string
		in   ActInput
	}{
		{"unknown type", ActInput{EntityType: "Memo", EntityID: "e", ApprovalID: "a", Action: ActionApprove}},
		{"missing entity", ActInput{EntityType: EntityPayment, ApprovalID: "a", Action: ActionApprove}},
		{"missing approval", ActInput{EntityType: EntityPayment, EntityID: "e", Action: ActionApprove}},
		{"bad action", ActInput{EntityType: EntityPayment, EntityID: "e", ApprovalID: "a", Action: "escalate"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.Act(context.Background(), actor, tt.in)
			assert.True(t, errors.Is(err, ErrValidation))
		})
	}
}

func TestActRecordsAuditAfterCommit(t *testing.T) {
	f := newFixture(t)
	view := f.submitRequest(t)

	_, err := f.act(t, view, "dept_head", "dept1", ActionReject)
	require.NoError(t, err)

	events := f.recorder.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "SUBMIT", string(events[0].ActionType))

	e := events[1]
	assert.Equal(t, "REJECT", string(e.ActionType))
	assert.Equal(t, "dept1", e.ActorID)
	assert.Equal(t, "Request", e.EntityType)
	assert.Equal(t, view.ID, e.EntityID)
	assert.Equal(t, "rejected", e.NewState.(map[string]interface{})["entityStatus"])
	assert.Equal(t, "pending_dept_head", e.PreviousState.(map[string]interface{})["entityStatus"])
	assert.False(t, e.OccurredAt.IsZero())
}

type failingSink struct{}

func (failingSink) Record(context.Context, audit.Event) error {
	return errors.New("audit store unavailable")
}

func TestAuditFailureDoesNotAffectTransition(t *testing.T) {
	t.Run("recorder panics", func(t *testing.T) {
		f := newFixture(t)
		view := f.submitPayment(t)
		f.service = f.newService(f.store, PanickingRecorder{})

		res, err := f.act(t, view, "accountant", "acct1", ActionReject)
		require.NoError(t, err)
		assert.Equal(t, "voided", res.Entity.Status)
		assert.Equal(t, "voided", f.entity(t, view).Status)
	})

	t.Run("sink errors", func(t *testing.T) {
		f := newFixture(t)
		view := f.submitPayment(t)
		dispatcher := audit.NewDispatcher(failingSink{}, zap.NewNop(), 4)
		f.service = f.newService(f.store, dispatcher)

		res, err := f.act(t, view, "accountant", "acct1", ActionApprove)
		require.NoError(t, err)
		assert.Equal(t, StatusApproved, res.Approval.Status)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		assert.NoError(t, dispatcher.Close(ctx))
	})
}

// brokenProjectionStore fails every entity status write.
type brokenProjectionStore struct {
	Store
}

func (s brokenProjectionStore) Transact(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return s.Store.Transact(ctx, func(ctx context.Context, tx Tx) error {
		return fn(ctx, brokenProjectionTx{tx})
	})
}

type brokenProjectionTx struct {
	Tx
}

func (brokenProjectionTx) SetEntityStatus(context.Context, EntityType, string, string, time.Time) error {
	return errors.New("entity table locked")
}

func TestActRollsBackWhenProjectionFails(t *testing.T) {
	f := newFixture(t)
	view := f.submitRequest(t)
	f.service = f.newService(brokenProjectionStore{f.store}, f.recorder)

	_, err := f.act(t, view, "dept_head", "dept1", ActionApprove)
	require.Error(t, err)
	assert.Equal(t, Kind(""), KindOf(err), "storage failures are internal errors")

	got := f.entity(t, view)
	assert.Equal(t, "pending_dept_head", got.Status)
	assert.Equal(t, StatusPending, recordOf(t, got.Approvals, "dept_head", "dept1").Status)
	assert.Len(t, f.recorder.Events(), 1, "only the submission was audited")
}

// staleResolveStore loses every compare-and-set on a pending record, as if a
// concurrent decision committed between the read and the write.
type staleResolveStore struct {
	Store
}

func (s staleResolveStore) Transact(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return s.Store.Transact(ctx, func(ctx context.Context, tx Tx) error {
		return fn(ctx, staleResolveTx{tx})
	})
}

type staleResolveTx struct {
	Tx
}

func (staleResolveTx) ResolveRecord(context.Context, string, Status, time.Time, *string) (bool, error) {
	return false, nil
}

func TestActLosesConcurrentResolve(t *testing.T) {
	f := newFixture(t)
	view := f.submitRequest(t)
	f.service = f.newService(staleResolveStore{f.store}, f.recorder)

	_, err := f.act(t, view, "dept_head", "dept1", ActionApprove)
	assert.True(t, errors.Is(err, ErrAlreadyProcessed), "got %v", err)

	got := f.entity(t, view)
	assert.Equal(t, "pending_dept_head", got.Status)
	assert.Equal(t, StatusPending, recordOf(t, got.Approvals, "dept_head", "dept1").Status)

	events := f.recorder.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "SUBMIT", string(events[0].ActionType))
}
