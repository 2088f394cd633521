package authz

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, f *fixture) http.Handler {
	t.Helper()
	handler := NewHandler(slog.New(slog.DiscardHandler), f.service)
	r := chi.NewRouter()
	r.Route("/v1", handler.MountRoutes)
	return r
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestHandlerAuthorize(t *testing.T) {
	f := newFixture(t, false)
	f.seedEditorial(t)
	router := newTestRouter(t, f)

	rr := doJSON(t, router, http.MethodPost, "/v1/users/1/roles", map[string]any{
		"role": "editor", "actor_id": actor,
	})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(t, router, http.MethodPost, "/v1/authorize", map[string]any{
		"user_id": 1, "permission": "article.edit",
	})
	require.Equal(t, http.StatusOK, rr.Code)

	var decision Decision
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &decision))
	require.Equal(t, Allow, decision.Effect)
	require.Equal(t, ReasonRoleGrant, decision.Reason)
}

func TestHandlerAuthorizeRejectsMissingFields(t *testing.T) {
	f := newFixture(t, false)
	router := newTestRouter(t, f)

	rr := doJSON(t, router, http.MethodPost, "/v1/authorize", map[string]any{
		"permission": "article.edit",
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))
}

func TestHandlerCreateRoleCycleConflict(t *testing.T) {
	f := newFixture(t, false)
	f.seedEditorial(t)
	router := newTestRouter(t, f)

	rr := doJSON(t, router, http.MethodPut, "/v1/roles/viewer/parent", map[string]any{
		"parent_role": "senior_editor", "actor_id": actor,
	})
	require.Equal(t, http.StatusConflict, rr.Code)
}

func TestHandlerUnknownRoleNotFound(t *testing.T) {
	f := newFixture(t, false)
	f.seedEditorial(t)
	router := newTestRouter(t, f)

	rr := doJSON(t, router, http.MethodPost, "/v1/users/1/roles", map[string]any{
		"role": "ghost", "actor_id": actor,
	})
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandlerTemporaryGrant(t *testing.T) {
	f := newFixture(t, false)
	f.seedEditorial(t)
	router := newTestRouter(t, f)

	rr := doJSON(t, router, http.MethodPost, "/v1/users/1/grants/temporary", map[string]any{
		"permission": "article.publish", "actor_id": actor, "duration_seconds": 3600,
	})
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = doJSON(t, router, http.MethodPost, "/v1/authorize", map[string]any{
		"user_id": 1, "permission": "article.publish",
	})
	require.Equal(t, http.StatusOK, rr.Code)
	var decision Decision
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &decision))
	require.Equal(t, ReasonTemporaryGrant, decision.Reason)
}

func TestHandlerConditionalGrantValidation(t *testing.T) {
	f := newFixture(t, false)
	f.seedEditorial(t)
	router := newTestRouter(t, f)

	rr := doJSON(t, router, http.MethodPost, "/v1/users/1/grants/conditional", map[string]any{
		"permission": "article.publish", "actor_id": actor,
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doJSON(t, router, http.MethodPost, "/v1/users/1/grants/conditional", map[string]any{
		"permission": "article.publish",
		"actor_id":   actor,
		"predicate":  map[string]any{"channel": "web"},
	})
	require.Equal(t, http.StatusCreated, rr.Code)
}

func TestHandlerListEffectivePermissions(t *testing.T) {
	f := newFixture(t, false)
	f.seedEditorial(t)
	router := newTestRouter(t, f)

	rr := doJSON(t, router, http.MethodPost, "/v1/users/1/roles", map[string]any{
		"role": "viewer", "actor_id": actor,
	})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(t, router, http.MethodPost, "/v1/users/1/permissions", map[string]any{})
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Permissions []EffectivePermission `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Permissions, 3)
}
