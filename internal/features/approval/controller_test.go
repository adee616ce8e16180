package approval

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	common_models "go-opsdesk/internal/common/models"
	"go-opsdesk/internal/config"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type apiResponse struct {
	Status   int
	Envelope common_models.Envelope
	Raw      []byte
}

func newTestApp(f *fixture) *fiber.App {
	app := fiber.New()
	cfg := &config.Config{IdentityHeader: "X-User-ID", TrustIdentityHeader: true, JWTSecret: "test-secret"}
	NewApprovalApi(NewApprovalController(f.service, zap.NewNop()), cfg).Setup(app)
	return app
}

func call(t *testing.T, app *fiber.App, method, path, userID string, body interface{}) apiResponse {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var env common_models.Envelope
	require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	return apiResponse{Status: resp.StatusCode, Envelope: env, Raw: raw}
}

// decodeData re-decodes the envelope payload into out.
func decodeData(t *testing.T, r apiResponse, out interface{}) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(r.Raw, &env))
	require.NoError(t, json.Unmarshal(env.Data, out))
}

func submitBody() SubmitRequest {
	return SubmitRequest{
		Title:  "Conference travel",
		Amount: 1200,
		Approvers: map[string][]string{
			"dept_head":  {"dept1"},
			"admin_head": {"admin1"},
		},
	}
}

func TestControllerSubmitAndGet(t *testing.T) {
	f := newFixture(t)
	app := newTestApp(f)

	res := call(t, app, http.MethodPost, "/api/requests", "requester", submitBody())
	require.Equal(t, fiber.StatusCreated, res.Status, string(res.Raw))
	assert.True(t, res.Envelope.OK)

	var view EntityView
	decodeData(t, res, &view)
	assert.Equal(t, "pending_dept_head", view.Status)
	assert.Len(t, view.Approvals, 2)

	res = call(t, app, http.MethodGet, "/api/Request/"+view.ID, "dept1", nil)
	require.Equal(t, fiber.StatusOK, res.Status)
	var got EntityView
	decodeData(t, res, &got)
	assert.Equal(t, view.ID, got.ID)

	res = call(t, app, http.MethodGet, "/api/payments/"+view.ID, "dept1", nil)
	assert.Equal(t, fiber.StatusNotFound, res.Status)
	assert.Equal(t, "NotFound", res.Envelope.Error)
}

func TestControllerApproveFlow(t *testing.T) {
	f := newFixture(t)
	app := newTestApp(f)
	view := f.submitRequest(t)
	dept := recordOf(t, view.Approvals, "dept_head", "dept1")
	admin := recordOf(t, view.Approvals, "admin_head", "admin1")

	res := call(t, app, http.MethodPost, "/api/requests/"+view.ID+"/approve", "admin1", ApproveRequest{
		ApprovalID: admin.ID,
		Action:     "approve",
	})
	assert.Equal(t, fiber.StatusConflict, res.Status)
	assert.Equal(t, "StageNotReached", res.Envelope.Error)

	res = call(t, app, http.MethodPost, "/api/requests/"+view.ID+"/approve", "dept1", ApproveRequest{
		ApprovalID: dept.ID,
		UserID:     "dept1",
		Level:      "dept_head",
		Action:     "approve",
		Comments:   "ok",
	})
	require.Equal(t, fiber.StatusOK, res.Status, string(res.Raw))
	var updated EntityView
	decodeData(t, res, &updated)
	assert.Equal(t, "pending_admin_head", updated.Status)

	res = call(t, app, http.MethodPost, "/api/requests/"+view.ID+"/approve", "dept1", ApproveRequest{
		ApprovalID: dept.ID,
		Action:     "approve",
	})
	assert.Equal(t, fiber.StatusConflict, res.Status)
	assert.Equal(t, "AlreadyProcessed", res.Envelope.Error)
}

func TestControllerErrors(t *testing.T) {
	f := newFixture(t)
	app := newTestApp(f)
	view := f.submitRequest(t)
	dept := recordOf(t, view.Approvals, "dept_head", "dept1")
	approvePath := "/api/requests/" + view.ID + "/approve"

	tests := []struct {
		name   string
		method string
		path   string
		user   string
		body   interface{}
		status int
		kind   string
	}{
		{"no identity", http.MethodGet, "/api/approvals", "", nil, fiber.StatusUnauthorized, "Unauthorized"},
		{"unknown caller", http.MethodGet, "/api/approvals", "nobody", nil, fiber.StatusForbidden, "Forbidden"},
		{"inactive caller", http.MethodGet, "/api/approvals", "ghost", nil, fiber.StatusForbidden, "Forbidden"},
		{"unknown entity type", http.MethodPost, "/api/invoices", "requester", submitBody(), fiber.StatusNotFound, "NotFound"},
		{"invalid submission", http.MethodPost, "/api/requests", "requester", SubmitRequest{Title: "x"}, fiber.StatusBadRequest, "ValidationError"},
		{"invalid action", http.MethodPost, approvePath, "dept1", ApproveRequest{ApprovalID: dept.ID, Action: "maybe"}, fiber.StatusBadRequest, "ValidationError"},
		{"spoofed userId", http.MethodPost, approvePath, "admin1", ApproveRequest{ApprovalID: dept.ID, UserID: "dept1", Action: "approve"}, fiber.StatusForbidden, "Forbidden"},
		{"not the assignee", http.MethodPost, approvePath, "admin1", ApproveRequest{ApprovalID: dept.ID, Action: "approve"}, fiber.StatusForbidden, "Forbidden"},
		{"wrong level hint", http.MethodPost, approvePath, "dept1", ApproveRequest{ApprovalID: dept.ID, Level: "admin_head", Action: "approve"}, fiber.StatusConflict, "LevelMismatch"},
		{"unknown approval", http.MethodPost, approvePath, "dept1", ApproveRequest{ApprovalID: "missing", Action: "approve"}, fiber.StatusNotFound, "NotFound"},
		{"spoofed actorId", http.MethodPost, "/api/requests/" + view.ID + "/add-approver", "dept1", AddApproverRequest{ActorID: "admin1", NewApproverID: "dept2", Level: "dept_head"}, fiber.StatusForbidden, "Forbidden"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := call(t, app, tt.method, tt.path, tt.user, tt.body)
			assert.Equal(t, tt.status, res.Status, string(res.Raw))
			assert.False(t, res.Envelope.OK)
			assert.Equal(t, tt.kind, res.Envelope.Error)
		})
	}

	assert.Equal(t, "pending_dept_head", f.entity(t, view).Status)
}

func TestControllerMalformedBody(t *testing.T) {
	f := newFixture(t)
	app := newTestApp(f)

	req := httptest.NewRequest(http.MethodPost, "/api/requests", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "requester")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestControllerAddApproverAndPending(t *testing.T) {
	f := newFixture(t)
	app := newTestApp(f)
	view := f.submitPayment(t)

	res := call(t, app, http.MethodPost, "/api/payments/"+view.ID+"/add-approver", "fin1", AddApproverRequest{
		ActorID:       "fin1",
		NewApproverID: "acct2",
		Level:         "accountant",
	})
	require.Equal(t, fiber.StatusOK, res.Status, string(res.Raw))
	var updated EntityView
	decodeData(t, res, &updated)
	assert.Len(t, updated.Approvals, 4)
	added := recordOf(t, updated.Approvals, "accountant", "acct2")
	require.NotNil(t, added.AddedBy)
	assert.Equal(t, "fin1", *added.AddedBy)

	res = call(t, app, http.MethodPost, "/api/payments/"+view.ID+"/add-approver", "fin1", AddApproverRequest{
		NewApproverID: "acct2",
		Level:         "accountant",
	})
	assert.Equal(t, fiber.StatusBadRequest, res.Status)

	res = call(t, app, http.MethodGet, "/api/approvals", "acct2", nil)
	require.Equal(t, fiber.StatusOK, res.Status)
	var pending []PendingApproval
	decodeData(t, res, &pending)
	require.Len(t, pending, 1)
	assert.True(t, pending[0].Actionable)
	assert.Equal(t, view.ID, pending[0].Entity.ID)

	res = call(t, app, http.MethodGet, "/api/policies", "acct2", nil)
	require.Equal(t, fiber.StatusOK, res.Status)
	var policies []Policy
	decodeData(t, res, &policies)
	assert.Len(t, policies, 4)
}

func TestControllerAddApproverSurvivesLaterRequests(t *testing.T) {
	f := newFixture(t)
	app := newTestApp(f)
	view := f.submitPayment(t)

	res := call(t, app, http.MethodPost, "/api/payments/"+view.ID+"/add-approver", "fin1", AddApproverRequest{
		NewApproverID: "acct2",
		Level:         "accountant",
	})
	require.Equal(t, fiber.StatusOK, res.Status, string(res.Raw))

	// Later requests reuse the server's buffers.
	for i := 0; i < 50; i++ {
		res = call(t, app, http.MethodPost, "/api/payments/"+uuid.NewString()+"/add-approver", "fin1", AddApproverRequest{
			NewApproverID: "acct2",
			Level:         "accountant",
		})
		require.Equal(t, fiber.StatusNotFound, res.Status)
	}

	records, err := f.store.ListRecords(context.Background(), EntityPayment, view.ID)
	require.NoError(t, err)
	require.Len(t, records, 4)
	added := recordOf(t, records, "accountant", "acct2")
	assert.Equal(t, view.ID, added.EntityID)

	res = call(t, app, http.MethodGet, "/api/payments/"+view.ID, "fin1", nil)
	require.Equal(t, fiber.StatusOK, res.Status)
	var got EntityView
	decodeData(t, res, &got)
	assert.Len(t, got.Approvals, 4)

	var delegated int
	for _, e := range f.recorder.Events() {
		if e.ActionType == common_models.AuditActionDelegate {
			delegated++
			assert.Equal(t, view.ID, e.EntityID)
			assert.Contains(t, e.Description, view.ID)
		}
	}
	assert.Equal(t, 1, delegated)
}
