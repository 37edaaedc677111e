package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/memhub/pkg/auth"
	"github.com/platinummonkey/memhub/pkg/errs"
)

type fakeSearcher struct {
	last SearchFilter
}

func (s *fakeSearcher) Search(_ context.Context, filter SearchFilter) (*Page, error) {
	s.last = filter
	return &Page{Entries: []*Entry{{ID: 1, ActionType: ActionBulkStart}}, Total: 1, Limit: filter.Limit}, nil
}

// fakeGate allows managing only the listed organizations
type fakeGate map[int64]bool

func (g fakeGate) RequireManage(_ context.Context, _ *auth.Identity, orgID int64) error {
	if g[orgID] {
		return nil
	}
	return fmt.Errorf("manage %d: %w", orgID, errs.ErrForbidden)
}

func newAuditRouter(searcher Searcher, gate ManageGate) *mux.Router {
	router := mux.NewRouter()
	NewHandlers(searcher, gate).RegisterRoutes(router)
	return router
}

func doAudits(t *testing.T, router http.Handler, identity *auth.Identity, query string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/audits"+query, nil)
	if identity != nil {
		req = req.WithContext(auth.WithIdentity(req.Context(), identity))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestListAudits(t *testing.T) {
	member := &auth.Identity{User: &auth.User{ID: 5}}
	admin := &auth.Identity{User: &auth.User{ID: 1, IsSuperadmin: true}}

	tests := []struct {
		name       string
		identity   *auth.Identity
		query      string
		wantStatus int
		wantActor  *int64
	}{
		{name: "unauthenticated", query: "", wantStatus: http.StatusUnauthorized},
		{name: "own entries by default", identity: member, wantStatus: http.StatusOK, wantActor: int64Ptr(5)},
		{name: "explicit self", identity: member, query: "?user_id=5", wantStatus: http.StatusOK, wantActor: int64Ptr(5)},
		{name: "other user forbidden", identity: member, query: "?user_id=6", wantStatus: http.StatusForbidden},
		{name: "managed org", identity: member, query: "?organization_id=10", wantStatus: http.StatusOK},
		{name: "unmanaged org", identity: member, query: "?organization_id=11", wantStatus: http.StatusForbidden},
		{name: "superadmin sees everyone", identity: admin, query: "?user_id=6", wantStatus: http.StatusOK, wantActor: int64Ptr(6)},
		{name: "superadmin unfiltered", identity: admin, wantStatus: http.StatusOK},
		{name: "bad status", identity: member, query: "?status=maybe", wantStatus: http.StatusBadRequest},
		{name: "bad org id", identity: member, query: "?organization_id=abc", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			searcher := &fakeSearcher{}
			rec := doAudits(t, newAuditRouter(searcher, fakeGate{10: true}), tt.identity, tt.query)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantStatus != http.StatusOK {
				return
			}
			assert.Equal(t, tt.wantActor, searcher.last.ActorUserID)

			var page Page
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
			assert.Equal(t, int64(1), page.Total)
		})
	}
}

func TestListAudits_Pagination(t *testing.T) {
	searcher := &fakeSearcher{}
	admin := &auth.Identity{User: &auth.User{ID: 1, IsSuperadmin: true}}

	rec := doAudits(t, newAuditRouter(searcher, fakeGate{}), admin, "?limit=9999&offset=20&action_type=authz.denied&status=denied")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxPageSize, searcher.last.Limit)
	assert.Equal(t, 20, searcher.last.Offset)
	assert.Equal(t, ActionAuthzDenied, searcher.last.ActionType)
	assert.Equal(t, StatusDenied, searcher.last.Status)
}

func int64Ptr(v int64) *int64 { return &v }
