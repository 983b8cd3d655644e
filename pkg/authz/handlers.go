package authz

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/arborhq/arbor/pkg/httputil"
	"github.com/arborhq/arbor/pkg/middleware"
	"github.com/arborhq/arbor/pkg/observability"
	"github.com/arborhq/arbor/pkg/workspace"
)

// Handlers provides HTTP handlers for grants, resolution, and workspace
// defaults
type Handlers struct {
	service *Service
}

// NewHandlers creates new authz handlers
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes registers all authz routes. Grant management requires
// full access on the target node.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/nodes/{id}/access", h.ResolveAccess).Methods("GET")
	router.HandleFunc("/nodes/{id}/grants", h.service.RequireLevel(LevelFullAccess, h.ListGrants)).Methods("GET")
	router.HandleFunc("/nodes/{id}/grants", h.service.RequireLevel(LevelFullAccess, h.SetGrant)).Methods("PUT")
	router.HandleFunc("/nodes/{id}/grants", h.service.RequireLevel(LevelFullAccess, h.RemoveGrant)).Methods("DELETE")
	router.HandleFunc("/workspaces/{id}/default", h.SetWorkspaceDefault).Methods("PUT")
	router.HandleFunc("/workspaces/{id}/default", h.GetWorkspaceDefault).Methods("GET")
}

// ResolveAccess resolves the effective access on a node. Without a
// user_id query parameter it resolves for the caller.
func (h *Handlers) ResolveAccess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	nodeID, err := httputil.PathID(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid node ID")
		return
	}

	userID, ok, err := httputil.QueryID(r, "user_id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid user_id")
		return
	}
	if !ok {
		authCtx := middleware.GetAuthContext(r)
		if authCtx == nil {
			httputil.WriteBadRequest(w, "user_id is required")
			return
		}
		userID = authCtx.UserID
	}

	res, err := h.service.Resolve(ctx, userID, nodeID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"user_id":    userID,
		"node_id":    nodeID,
		"resolution": res,
	})
}

// SetGrant creates or updates a grant on a node
func (h *Handlers) SetGrant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	nodeID, err := httputil.PathID(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid node ID")
		return
	}

	var req struct {
		UserID  *int64 `json:"user_id,omitempty"`
		GroupID *int64 `json:"group_id,omitempty"`
		Level   string `json:"level"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, "invalid request body")
		return
	}

	level, err := ParseLevel(req.Level)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	grant := &Grant{
		NodeID:  nodeID,
		UserID:  req.UserID,
		GroupID: req.GroupID,
		Level:   level,
	}
	if err := h.service.SetGrant(ctx, grant); err != nil {
		h.writeError(w, r, err)
		return
	}

	observability.FromContext(ctx).WithFields(map[string]interface{}{
		"node_id": nodeID,
		"level":   level,
	}).Info("grant set")

	httputil.WriteSuccess(w, grant)
}

// RemoveGrant deletes a grant, reverting to inheritance. The grantee
// comes from user_id or group_id query parameters.
func (h *Handlers) RemoveGrant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	nodeID, err := httputil.PathID(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid node ID")
		return
	}

	var userID, groupID *int64
	if id, ok, err := httputil.QueryID(r, "user_id"); err != nil {
		httputil.WriteBadRequest(w, "invalid user_id")
		return
	} else if ok {
		userID = &id
	}
	if id, ok, err := httputil.QueryID(r, "group_id"); err != nil {
		httputil.WriteBadRequest(w, "invalid group_id")
		return
	} else if ok {
		groupID = &id
	}

	if err := h.service.RemoveGrant(ctx, nodeID, userID, groupID); err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteNoContent(w)
}

// ListGrants returns every grant on a node
func (h *Handlers) ListGrants(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	nodeID, err := httputil.PathID(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid node ID")
		return
	}

	result, err := h.service.ListGrants(ctx, nodeID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if result == nil {
		result = []Grant{}
	}

	httputil.WriteSuccess(w, result)
}

// SetWorkspaceDefault stores the workspace fallback level
func (h *Handlers) SetWorkspaceDefault(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	workspaceID, err := httputil.PathID(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid workspace ID")
		return
	}

	var req struct {
		Level string `json:"level"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, "invalid request body")
		return
	}

	level, err := ParseLevel(req.Level)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.SetWorkspaceDefault(ctx, workspaceID, level); err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"workspace_id": workspaceID,
		"level":        level,
	})
}

// GetWorkspaceDefault returns the configured fallback level, if any
func (h *Handlers) GetWorkspaceDefault(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	workspaceID, err := httputil.PathID(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid workspace ID")
		return
	}

	level, configured, err := h.service.WorkspaceDefault(ctx, workspaceID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	body := map[string]interface{}{
		"workspace_id": workspaceID,
		"configured":   configured,
	}
	if configured {
		body["level"] = level
	}
	httputil.WriteSuccess(w, body)
}

// writeError maps service errors to HTTP status codes
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNodeNotFound), errors.Is(err, ErrGrantNotFound), errors.Is(err, workspace.ErrWorkspaceNotFound):
		httputil.WriteNotFound(w, err.Error())
	case errors.Is(err, ErrInvalidLevel), errors.Is(err, ErrInvalidGrantee):
		httputil.WriteBadRequest(w, err.Error())
	default:
		observability.FromContext(r.Context()).WithError(err).Error("authz operation failed")
		httputil.WriteInternalError(w, err)
	}
}
