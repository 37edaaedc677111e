package bulk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/memhub/pkg/auth"
)

type handlerFixture struct {
	*executorFixture
	router    *mux.Router
	submitted int
}

func newHandlerFixture(t *testing.T, maxConcurrent int) *handlerFixture {
	t.Helper()
	f := &handlerFixture{executorFixture: newExecutorFixture(t, maxConcurrent), router: mux.NewRouter()}
	counting := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			f.submitted++
			next.ServeHTTP(w, r)
		})
	}
	gate := managerGate(sourceOrg)
	gate.users = map[int64]bool{1: true, 3: true}
	NewHandlers(f.planner, f.executor, f.store, gate, counting).RegisterRoutes(f.router)
	return f
}

func (f *handlerFixture) serve(identity *auth.Identity, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if identity != nil {
		req = req.WithContext(auth.WithIdentity(req.Context(), identity))
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func stranger() *auth.Identity {
	return &auth.Identity{User: &auth.User{ID: 2, Email: "stranger@example.com"}}
}

func TestHandlersDryRunDelete(t *testing.T) {
	f := newHandlerFixture(t, 0)
	agent := f.store.orgAgent(sourceOrg, "Bot")
	f.store.orgBlock(sourceOrg, "persona", int64Ptr(agent))

	rec := f.serve(caller(), "POST", "/bulk-operations/organizations/10/bulk-delete",
		`{"dry_run": true, "resource_types": ["agents"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "delete", body["kind"])
	items, ok := body["resources_to_delete"].([]interface{})
	require.True(t, ok)
	assert.Len(t, items, 1)
	assert.Equal(t, float64(1), body["cascade"].(map[string]interface{})["memory_blocks"])

	assert.Zero(t, f.store.opsCreated)
	assert.Zero(t, f.store.mutations)
	assert.Equal(t, 1, f.submitted)
}

func TestHandlersSubmitAndPoll(t *testing.T) {
	f := newHandlerFixture(t, 0)
	f.store.orgKeyword(sourceOrg, "alpha")
	f.store.orgKeyword(sourceOrg, "beta")
	f.store.users[destUser] = true

	rec := f.serve(caller(), "POST", "/bulk-operations/organizations/10/bulk-move",
		fmt.Sprintf(`{"destination_owner_user_id": %d, "resource_types": ["keywords"]}`, destUser))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp SubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StatusRunning, resp.Status)
	assert.Equal(t, 2, resp.Total)
	f.wait(t, resp.OperationID)

	rec = f.serve(caller(), "GET", fmt.Sprintf("/bulk-operations/%d", resp.OperationID), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var op Operation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &op))
	assert.Equal(t, StatusCompleted, op.Status)
	assert.Equal(t, 2, op.Progress)
	assert.Equal(t, OperationMove, op.Request.Type)

	rec = f.serve(caller(), "POST", fmt.Sprintf("/bulk-operations/%d/cancel", resp.OperationID), "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlersSubmitErrors(t *testing.T) {
	f := newHandlerFixture(t, 0)
	f.store.orgAgent(sourceOrg, "Bot")

	tests := []struct {
		name     string
		identity *auth.Identity
		path     string
		body     string
		want     int
	}{
		{"unauthenticated", nil, "/bulk-operations/organizations/10/bulk-delete", `{"resource_types":["agents"]}`, http.StatusUnauthorized},
		{"not a manager", caller(), "/bulk-operations/organizations/20/bulk-delete", `{"resource_types":["agents"]}`, http.StatusForbidden},
		{"missing destination", caller(), "/bulk-operations/organizations/10/bulk-move", `{"resource_types":["agents"]}`, http.StatusBadRequest},
		{"unknown destination user", caller(), "/bulk-operations/organizations/10/bulk-move", `{"destination_owner_user_id":404,"resource_types":["agents"]}`, http.StatusNotFound},
		{"unknown field", caller(), "/bulk-operations/organizations/10/bulk-delete", `{"resource_types":["agents"],"force":true}`, http.StatusBadRequest},
		{"bad org id", caller(), "/bulk-operations/organizations/abc/bulk-delete", `{"resource_types":["agents"]}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.serve(tt.identity, "POST", tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
	assert.Zero(t, f.store.opsCreated)
}

func TestHandlersConcurrencyLimitDiscardsOperation(t *testing.T) {
	f := newHandlerFixture(t, 1)
	f.store.orgAgent(sourceOrg, "a")
	f.store.orgAgent(sourceOrg, "b")
	reached, release := blockAt(f.store, 1)

	rec := f.serve(caller(), "POST", "/bulk-operations/organizations/10/bulk-delete", `{"resource_types":["agents"]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var first SubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	waitFor(t, reached)

	rec = f.serve(caller(), "POST", "/bulk-operations/organizations/10/bulk-delete", `{"resource_types":["agents"]}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, 2, f.store.opsCreated)
	assert.Len(t, f.store.ops, 1, "the rejected operation row is discarded")

	close(release)
	f.wait(t, first.OperationID)
}

func TestHandlersOperationVisibility(t *testing.T) {
	f := newHandlerFixture(t, 0)
	op := &Operation{Type: OperationDelete, ActorUserID: 1, OrganizationID: sourceOrg}
	require.NoError(t, f.store.CreateOperation(context.Background(), op))
	path := fmt.Sprintf("/bulk-operations/%d", op.ID)

	assert.Equal(t, http.StatusOK, f.serve(caller(), "GET", path, "").Code)
	assert.Equal(t, http.StatusForbidden, f.serve(stranger(), "GET", path, "").Code)
	assert.Equal(t, http.StatusForbidden, f.serve(stranger(), "POST", path+"/cancel", "").Code)
	assert.Equal(t, http.StatusNotFound, f.serve(caller(), "GET", "/bulk-operations/999", "").Code)

	manager := &auth.Identity{User: &auth.User{ID: 3}}
	assert.Equal(t, http.StatusOK, f.serve(manager, "GET", path, "").Code)
}

func TestHandlersCancelRunning(t *testing.T) {
	f := newHandlerFixture(t, 0)
	for _, name := range []string{"a", "b", "c"} {
		f.store.orgAgent(sourceOrg, name)
	}
	reached, release := blockAt(f.store, 1)

	rec := f.serve(caller(), "POST", "/bulk-operations/organizations/10/bulk-delete", `{"resource_types":["agents"]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp SubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	waitFor(t, reached)

	rec = f.serve(caller(), "POST", fmt.Sprintf("/bulk-operations/%d/cancel", resp.OperationID), "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"cancel_requested":true`)
	close(release)

	got := f.wait(t, resp.OperationID)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, 1, got.Progress)
}

func TestHandlersInventory(t *testing.T) {
	f := newHandlerFixture(t, 0)
	f.store.orgAgent(sourceOrg, "a")
	f.store.orgKeyword(sourceOrg, "k")

	rec := f.serve(caller(), "GET", "/bulk-operations/organizations/10/inventory?resource_types=agents,keywords", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		OrganizationID int64     `json:"organization_id"`
		Inventory      Inventory `json:"inventory"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, sourceOrg, body.OrganizationID)
	assert.Equal(t, Inventory{ResourceAgents: 1, ResourceKeywords: 1}, body.Inventory)

	rec = f.serve(caller(), "GET", "/bulk-operations/organizations/10/inventory?resource_types=widgets", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.serve(stranger(), "GET", "/bulk-operations/organizations/20/inventory", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
