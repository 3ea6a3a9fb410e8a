package rbac

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/dentflow/dentflow/pkg/httputil"
	"github.com/dentflow/dentflow/pkg/middleware"
)

// Handler exposes the admin authorization API. All mutation and listing
// routes are registered behind the AdminOnly guard; /me is the one
// self-service read.
type Handler struct {
	manager  *Manager
	resolver *Resolver
}

// NewHandler creates the HTTP handler set.
func NewHandler(manager *Manager, resolver *Resolver) *Handler {
	return &Handler{manager: manager, resolver: resolver}
}

// RegisterRoutes mounts the API under /api/v1/authz.
func (h *Handler) RegisterRoutes(router *mux.Router, gm *GuardMiddleware) {
	api := router.PathPrefix("/api/v1/authz").Subrouter()

	api.Handle("/me", http.HandlerFunc(h.GetMyAccess)).Methods("GET")

	admin := api.NewRoute().Subrouter()
	admin.Use(gm.AdminOnly)
	admin.HandleFunc("/roles", h.ListRoles).Methods("GET")
	admin.HandleFunc("/permissions", h.ListPermissions).Methods("GET")
	admin.HandleFunc("/users", h.ListUsers).Methods("GET")
	admin.HandleFunc("/users/{user_id:[0-9]+}", h.GetUserDetails).Methods("GET")
	admin.HandleFunc("/users/{user_id:[0-9]+}/roles", h.AssignRole).Methods("POST")
	admin.HandleFunc("/users/{user_id:[0-9]+}/roles", h.BulkAssignRoles).Methods("PUT")
	admin.HandleFunc("/users/{user_id:[0-9]+}/roles/{role}", h.RemoveRole).Methods("DELETE")
	admin.HandleFunc("/users/{user_id:[0-9]+}/permissions", h.GrantPermission).Methods("POST")
	admin.HandleFunc("/users/{user_id:[0-9]+}/permissions/{permission}", h.RevokePermission).Methods("DELETE")
}

// GetMyAccess returns the caller's own roles, effective permissions and
// admin flag. Available to any authenticated user.
func (h *Handler) GetMyAccess(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipal(r)
	if principal == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	summary, err := h.resolver.Summary(r.Context(), principal.UserID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, summary)
}

// ListRoles returns all role rows.
func (h *Handler) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.manager.ListRoles(r.Context())
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"roles": roles})
}

// ListPermissions returns all permission rows grouped flat with categories.
func (h *Handler) ListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.manager.ListPermissions(r.Context())
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"permissions": perms})
}

// ListUsers returns one summary row per user holding any grant.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.manager.ListUsers(r.Context())
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"users": users})
}

// GetUserDetails returns the expanded view for one user.
func (h *Handler) GetUserDetails(w http.ResponseWriter, r *http.Request) {
	userID, err := httputil.PathInt64(r, "user_id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	details, err := h.manager.GetUserDetails(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, details)
}

type assignRoleRequest struct {
	Role string `json:"role"`
}

// AssignRole grants one role to the user.
func (h *Handler) AssignRole(w http.ResponseWriter, r *http.Request) {
	userID, err := httputil.PathInt64(r, "user_id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	var req assignRoleRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if req.Role == "" {
		httputil.WriteBadRequest(w, "role is required")
		return
	}

	grant, err := h.manager.AssignRole(r.Context(), userID, req.Role, h.actorID(r))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	httputil.WriteCreated(w, grant)
}

type bulkAssignRequest struct {
	Roles []string `json:"roles"`
}

// BulkAssignRoles replaces the user's role set atomically. An empty roles
// array is valid and clears every role.
func (h *Handler) BulkAssignRoles(w http.ResponseWriter, r *http.Request) {
	userID, err := httputil.PathInt64(r, "user_id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	var req bulkAssignRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if req.Roles == nil {
		httputil.WriteBadRequest(w, "roles is required (may be empty)")
		return
	}

	if err := h.manager.BulkAssignRoles(r.Context(), userID, req.Roles, h.actorID(r)); err != nil {
		h.writeDomainError(w, err)
		return
	}
	details, err := h.manager.GetUserDetails(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	httputil.WriteSuccess(w, details)
}

// RemoveRole revokes one role from the user.
func (h *Handler) RemoveRole(w http.ResponseWriter, r *http.Request) {
	userID, err := httputil.PathInt64(r, "user_id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	role := mux.Vars(r)["role"]

	if err := h.manager.RemoveRole(r.Context(), userID, role, h.actorID(r)); err != nil {
		h.writeDomainError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

type grantPermissionRequest struct {
	Permission string `json:"permission"`
}

// GrantPermission grants one direct permission to the user.
func (h *Handler) GrantPermission(w http.ResponseWriter, r *http.Request) {
	userID, err := httputil.PathInt64(r, "user_id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	var req grantPermissionRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if req.Permission == "" {
		httputil.WriteBadRequest(w, "permission is required")
		return
	}

	grant, err := h.manager.GrantPermission(r.Context(), userID, req.Permission, h.actorID(r))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	httputil.WriteCreated(w, grant)
}

// RevokePermission removes one direct permission grant.
func (h *Handler) RevokePermission(w http.ResponseWriter, r *http.Request) {
	userID, err := httputil.PathInt64(r, "user_id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	permission := mux.Vars(r)["permission"]

	if err := h.manager.RevokePermission(r.Context(), userID, permission, h.actorID(r)); err != nil {
		h.writeDomainError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *Handler) actorID(r *http.Request) int64 {
	if principal := middleware.GetPrincipal(r); principal != nil {
		return principal.UserID
	}
	return 0
}

// writeDomainError maps domain sentinels onto HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httputil.WriteNotFound(w, err.Error())
	case errors.Is(err, ErrDuplicateGrant):
		httputil.WriteConflict(w, err.Error())
	case errors.Is(err, ErrForbidden):
		httputil.WriteForbidden(w, err.Error())
	default:
		httputil.WriteInternalError(w, err)
	}
}
