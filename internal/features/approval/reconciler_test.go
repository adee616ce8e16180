package approval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockReconcileService struct {
	ApprovalService
	calls     int
	corrected int
	err       error
}

func (m *MockReconcileService) Reconcile(ctx context.Context) (int, error) {
	m.calls++
	return m.corrected, m.err
}

func TestReconcilerRunOnce(t *testing.T) {
	svc := &MockReconcileService{corrected: 3}
	r := NewReconciler(svc, "@every 1h", zap.NewNop())

	n, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 1, svc.calls)

	svc.err = errors.New("store down")
	_, err = r.RunOnce(context.Background())
	assert.Error(t, err)
}

func TestReconcilerSchedule(t *testing.T) {
	t.Run("disabled when empty", func(t *testing.T) {
		r := NewReconciler(&MockReconcileService{}, "", zap.NewNop())
		require.NoError(t, r.Start())
		r.Stop()
	})

	t.Run("invalid schedule", func(t *testing.T) {
		r := NewReconciler(&MockReconcileService{}, "every now and then", zap.NewNop())
		assert.Error(t, r.Start())
	})

	t.Run("valid schedule starts and stops", func(t *testing.T) {
		r := NewReconciler(&MockReconcileService{}, "@every 1h", zap.NewNop())
		require.NoError(t, r.Start())
		r.Stop()
	})
}

func TestReconcilerAgainstRealService(t *testing.T) {
	f := newFixture(t)
	view := f.submitRequest(t)
	require.NoError(t, f.store.Transact(context.Background(), func(ctx context.Context, tx Tx) error {
		e, err := tx.LockEntity(ctx, EntityRequest, view.ID)
		if err != nil {
			return err
		}
		return tx.SetEntityStatus(ctx, EntityRequest, view.ID, "pending_admin_head", e.UpdatedAt)
	}))

	r := NewReconciler(f.service, "", zap.NewNop())
	n, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "pending_dept_head", f.entity(t, view).Status)
}
