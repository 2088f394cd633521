package authz

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/gatehouse/gatehouse/internal/catalog"
	"github.com/gatehouse/gatehouse/internal/grants"
	"github.com/gatehouse/gatehouse/internal/platform/httpx"
	"github.com/gatehouse/gatehouse/internal/rolegraph"
	"github.com/gatehouse/gatehouse/internal/shared"
)

// Handler wires HTTP endpoints for the decision API.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{
		logger:    logger,
		service:   service,
		validator: validator.New(),
	}
}

// MountRoutes registers decision API routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/authorize", h.authorize)
	r.Post("/permissions", h.ensurePermission)
	r.Post("/roles", h.createRole)
	r.Put("/roles/{roleName}/parent", h.setRoleParent)
	r.Post("/roles/{roleName}/permissions", h.attachRolePermission)
	r.Delete("/roles/{roleName}/permissions/{permission}", h.detachRolePermission)
	r.Post("/users/{userID}/roles", h.assignRole)
	r.Delete("/users/{userID}/roles/{roleName}", h.removeRole)
	r.Put("/users/{userID}/overrides", h.grantPermission)
	r.Post("/users/{userID}/grants/temporary", h.grantTemporary)
	r.Post("/users/{userID}/grants/conditional", h.grantConditional)
	// GET answers without request context; POST accepts a context body so
	// conditional grants can be evaluated in the listing.
	r.Get("/users/{userID}/permissions", h.listEffective)
	r.Post("/users/{userID}/permissions", h.listEffective)
}

type authorizeRequest struct {
	UserID     int64          `json:"user_id" validate:"required"`
	Permission string         `json:"permission" validate:"required"`
	Context    map[string]any `json:"context"`
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) {
	var req authorizeRequest
	if !h.decode(w, r, &req) {
		return
	}
	decision, err := h.service.Authorize(r.Context(), req.UserID, req.Permission, req.Context)
	if err != nil {
		h.respondError(w, "authorize", err)
		return
	}
	httpx.JSON(w, http.StatusOK, decision)
}

type ensurePermissionRequest struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
	ActorID     int64  `json:"actor_id" validate:"required"`
}

func (h *Handler) ensurePermission(w http.ResponseWriter, r *http.Request) {
	var req ensurePermissionRequest
	if !h.decode(w, r, &req) {
		return
	}
	perm, err := h.service.EnsurePermission(r.Context(), req.Name, req.Description, req.ActorID)
	if err != nil {
		h.respondError(w, "ensure permission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"id": perm.ID, "name": perm.Name})
}

type createRoleRequest struct {
	Name       string `json:"name" validate:"required"`
	ParentRole string `json:"parent_role"`
	ActorID    int64  `json:"actor_id" validate:"required"`
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	role, err := h.service.CreateRole(r.Context(), req.Name, req.ParentRole, req.ActorID)
	if err != nil {
		h.respondError(w, "create role", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"id": role.ID, "name": role.Name})
}

type setParentRequest struct {
	ParentRole string `json:"parent_role"`
	ActorID    int64  `json:"actor_id" validate:"required"`
}

func (h *Handler) setRoleParent(w http.ResponseWriter, r *http.Request) {
	var req setParentRequest
	if !h.decode(w, r, &req) {
		return
	}
	err := h.service.SetRoleParent(r.Context(), chi.URLParam(r, "roleName"), req.ParentRole, req.ActorID)
	if err != nil {
		h.respondError(w, "set role parent", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type rolePermissionRequest struct {
	Permission string `json:"permission" validate:"required"`
	ActorID    int64  `json:"actor_id" validate:"required"`
}

func (h *Handler) attachRolePermission(w http.ResponseWriter, r *http.Request) {
	var req rolePermissionRequest
	if !h.decode(w, r, &req) {
		return
	}
	err := h.service.AttachRolePermission(r.Context(), chi.URLParam(r, "roleName"), req.Permission, req.ActorID)
	if err != nil {
		h.respondError(w, "attach role permission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) detachRolePermission(w http.ResponseWriter, r *http.Request) {
	actorID, ok := h.actorFromQuery(w, r)
	if !ok {
		return
	}
	err := h.service.DetachRolePermission(r.Context(), chi.URLParam(r, "roleName"), chi.URLParam(r, "permission"), actorID)
	if err != nil {
		h.respondError(w, "detach role permission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type assignRoleRequest struct {
	Role    string `json:"role" validate:"required"`
	ActorID int64  `json:"actor_id" validate:"required"`
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userFromPath(w, r)
	if !ok {
		return
	}
	var req assignRoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.AssignRole(r.Context(), userID, req.Role, req.ActorID); err != nil {
		h.respondError(w, "assign role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) removeRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userFromPath(w, r)
	if !ok {
		return
	}
	actorID, ok := h.actorFromQuery(w, r)
	if !ok {
		return
	}
	if err := h.service.RemoveRole(r.Context(), userID, chi.URLParam(r, "roleName"), actorID); err != nil {
		h.respondError(w, "remove role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type overrideRequest struct {
	Permission string `json:"permission" validate:"required"`
	Granted    *bool  `json:"granted" validate:"required"`
	ActorID    int64  `json:"actor_id" validate:"required"`
}

func (h *Handler) grantPermission(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userFromPath(w, r)
	if !ok {
		return
	}
	var req overrideRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.GrantPermission(r.Context(), userID, req.Permission, req.ActorID, *req.Granted); err != nil {
		h.respondError(w, "grant permission", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type temporaryGrantRequest struct {
	Permission      string `json:"permission" validate:"required"`
	ActorID         int64  `json:"actor_id" validate:"required"`
	DurationSeconds int64  `json:"duration_seconds" validate:"required,gt=0"`
	Reason          string `json:"reason"`
}

func (h *Handler) grantTemporary(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userFromPath(w, r)
	if !ok {
		return
	}
	var req temporaryGrantRequest
	if !h.decode(w, r, &req) {
		return
	}
	id, err := h.service.GrantTemporaryPermission(r.Context(), userID, req.Permission, req.ActorID,
		time.Duration(req.DurationSeconds)*time.Second, req.Reason)
	if err != nil {
		h.respondError(w, "grant temporary", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"grant_id": id})
}

type conditionalGrantRequest struct {
	Permission string           `json:"permission" validate:"required"`
	ActorID    int64            `json:"actor_id" validate:"required"`
	Predicate  grants.Predicate `json:"predicate" validate:"required"`
	ValidFrom  *time.Time       `json:"valid_from"`
	ValidUntil *time.Time       `json:"valid_until"`
}

func (h *Handler) grantConditional(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userFromPath(w, r)
	if !ok {
		return
	}
	var req conditionalGrantRequest
	if !h.decode(w, r, &req) {
		return
	}
	id, err := h.service.GrantConditionalPermission(r.Context(), userID, req.Permission, req.ActorID,
		req.Predicate, req.ValidFrom, req.ValidUntil)
	if err != nil {
		h.respondError(w, "grant conditional", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"grant_id": id})
}

type listEffectiveRequest struct {
	Context map[string]any `json:"context"`
}

func (h *Handler) listEffective(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userFromPath(w, r)
	if !ok {
		return
	}
	var req listEffectiveRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
			return
		}
	}
	effective, err := h.service.ListEffectivePermissions(r.Context(), userID, req.Context)
	if err != nil {
		h.respondError(w, "list effective permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": effective})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) userFromPath(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid user id")
		return 0, false
	}
	return userID, true
}

func (h *Handler) actorFromQuery(w http.ResponseWriter, r *http.Request) (int64, bool) {
	actorID, err := strconv.ParseInt(r.URL.Query().Get("actor_id"), 10, 64)
	if err != nil || actorID == 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "actor_id query parameter required")
		return 0, false
	}
	return actorID, true
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrUnknownUser),
		errors.Is(err, ErrUnknownRole),
		errors.Is(err, ErrUnknownPermission),
		errors.Is(err, rolegraph.ErrNotFound),
		errors.Is(err, catalog.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, rolegraph.ErrCycle):
		httpx.Problem(w, http.StatusConflict, "Cycle Rejected", err.Error())
	case errors.Is(err, rolegraph.ErrDuplicate):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrInvalidGrant), errors.Is(err, catalog.ErrInvalidName):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrStoreUnavailable):
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, httpx.ErrUnavailable)
	case errors.Is(err, rolegraph.ErrHierarchyTooDeep):
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
