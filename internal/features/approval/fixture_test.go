package approval

import (
	"context"
	"sync"
	"testing"

	"go-opsdesk/internal/features/audit"
	"go-opsdesk/internal/features/user"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockRecorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (m *MockRecorder) Record(e audit.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

func (m *MockRecorder) Events() []audit.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]audit.Event(nil), m.events...)
}

type PanickingRecorder struct{}

func (PanickingRecorder) Record(audit.Event) {
	panic("audit backend exploded")
}

func testUsers() []user.User {
	active := func(id string, perms ...string) user.User {
		return user.User{ID: id, Username: id, Status: user.StatusActive, Permissions: perms}
	}
	return []user.User{
		active("requester"),
		active("dept1", "add_approvers"),
		active("dept2"),
		active("admin1"),
		active("acct1"),
		active("acct2"),
		active("fin1", "manage_approvers"),
		active("ceo1"),
		active("dir1", "manage_approvers"),
		active("outsider", "add_approvers", "manage_approvers"),
		{ID: "ghost", Username: "ghost", Status: "inactive", Permissions: []string{"manage_approvers"}},
	}
}

type fixture struct {
	store    *MemoryStore
	users    *user.MemoryUserRepository
	registry *Registry
	recorder *MockRecorder
	service  *ApprovalServiceImpl
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	registry, err := NewRegistry(DefaultPolicies()...)
	require.NoError(t, err)

	f := &fixture{
		store:    NewMemoryStore(),
		users:    user.NewMemoryUserRepository(testUsers()...),
		registry: registry,
		recorder: &MockRecorder{},
	}
	f.service = f.newService(f.store, f.recorder)
	return f
}

func (f *fixture) newService(store Store, recorder audit.Recorder) *ApprovalServiceImpl {
	return NewApprovalService(store, f.registry, NewAuthorizer(f.users), recorder, zap.NewNop()).(*ApprovalServiceImpl)
}

func (f *fixture) actor(t *testing.T, id string) Actor {
	t.Helper()
	a, err := f.service.ResolveActor(context.Background(), id)
	require.NoError(t, err)
	return a
}

// submitRequest creates a Request with dept1 at dept_head and admin1 at admin_head.
func (f *fixture) submitRequest(t *testing.T) *EntityView {
	t.Helper()
	view, err := f.service.Submit(context.Background(), f.actor(t, "requester"), SubmitInput{
		EntityType: EntityRequest,
		Title:      "New laptops",
		Amount:     4200,
		Approvers: map[string][]string{
			"dept_head":  {"dept1"},
			"admin_head": {"admin1"},
		},
	})
	require.NoError(t, err)
	return view
}

// submitPayment creates a Payment with acct1, fin1 and ceo1 as parallel approvers.
func (f *fixture) submitPayment(t *testing.T) *EntityView {
	t.Helper()
	view, err := f.service.Submit(context.Background(), f.actor(t, "requester"), SubmitInput{
		EntityType: EntityPayment,
		Title:      "Vendor invoice 1182",
		Amount:     990.5,
		Approvers: map[string][]string{
			"accountant":      {"acct1"},
			"finance_manager": {"fin1"},
			"ceo":             {"ceo1"},
		},
	})
	require.NoError(t, err)
	return view
}

func recordOf(t *testing.T, records []ApprovalRecord, level, userID string) ApprovalRecord {
	t.Helper()
	for _, r := range records {
		if r.Level == level && r.UserID == userID {
			return r
		}
	}
	t.Fatalf("no %s record for %s", level, userID)
	return ApprovalRecord{}
}

func (f *fixture) act(t *testing.T, view *EntityView, level, userID string, action Action) (*TransitionResult, error) {
	t.Helper()
	records, err := f.store.ListRecords(context.Background(), view.Type, view.ID)
	require.NoError(t, err)
	rec := recordOf(t, records, level, userID)
	return f.service.Act(context.Background(), f.actor(t, userID), ActInput{
		EntityType: view.Type,
		EntityID:   view.ID,
		ApprovalID: rec.ID,
		Action:     action,
	})
}

func (f *fixture) entity(t *testing.T, view *EntityView) *EntityView {
	t.Helper()
	got, err := f.service.Get(context.Background(), view.Type, view.ID)
	require.NoError(t, err)
	return got
}
