package groups

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/arborhq/arbor/pkg/httputil"
	"github.com/arborhq/arbor/pkg/observability"
)

// Invalidator evicts cached permission resolutions for users whose
// transitive memberships changed. Implemented by the authz cache.
type Invalidator interface {
	InvalidateUsers(userIDs []int64)
}

// Handlers provides HTTP handlers for group operations
type Handlers struct {
	store       *Store
	invalidator Invalidator
}

// NewHandlers creates new group handlers
func NewHandlers(store *Store, invalidator Invalidator) *Handlers {
	return &Handlers{store: store, invalidator: invalidator}
}

// RegisterRoutes registers all group routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/groups", h.CreateGroup).Methods("POST")
	router.HandleFunc("/groups", h.ListGroups).Methods("GET")
	router.HandleFunc("/groups/{id}", h.GetGroup).Methods("GET")
	router.HandleFunc("/groups/{id}", h.DeleteGroup).Methods("DELETE")
	router.HandleFunc("/groups/{id}/nested", h.NestGroup).Methods("POST")
	router.HandleFunc("/groups/{id}/nested/{child_id}", h.UnnestGroup).Methods("DELETE")
	router.HandleFunc("/groups/{id}/members", h.AddUser).Methods("POST")
	router.HandleFunc("/groups/{id}/members", h.ListMembers).Methods("GET")
	router.HandleFunc("/groups/{id}/members/{user_id}", h.RemoveUser).Methods("DELETE")
	router.HandleFunc("/users/{id}/groups", h.GroupsOfUser).Methods("GET")
}

// CreateGroup creates a new group
func (h *Handlers) CreateGroup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		WorkspaceID int64  `json:"workspace_id"`
		Name        string `json:"name"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, "invalid request body")
		return
	}
	if req.WorkspaceID == 0 || req.Name == "" {
		httputil.WriteBadRequest(w, "workspace_id and name are required")
		return
	}

	group := &Group{WorkspaceID: req.WorkspaceID, Name: req.Name}
	if err := h.store.CreateGroup(ctx, group); err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	httputil.WriteCreated(w, group)
}

// ListGroups lists the groups of a workspace
func (h *Handlers) ListGroups(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	workspaceID, ok, err := httputil.QueryID(r, "workspace_id")
	if err != nil || !ok {
		httputil.WriteBadRequest(w, "workspace_id is required")
		return
	}

	result, err := h.store.ListGroups(ctx, workspaceID)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	if result == nil {
		result = []Group{}
	}

	httputil.WriteSuccess(w, result)
}

// GetGroup retrieves a single group
func (h *Handlers) GetGroup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	groupID, err := httputil.PathID(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid group ID")
		return
	}

	group, err := h.store.GetGroup(ctx, groupID)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, group)
}

// DeleteGroup removes a group and everything derived from it
func (h *Handlers) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	groupID, err := httputil.PathID(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid group ID")
		return
	}

	affected, err := h.store.DeleteGroup(ctx, groupID)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	if h.invalidator != nil {
		h.invalidator.InvalidateUsers(affected)
	}

	httputil.WriteNoContent(w)
}

// NestGroup places a child group inside this group
func (h *Handlers) NestGroup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	parentID, err := httputil.PathID(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid group ID")
		return
	}

	var req struct {
		ChildGroupID int64 `json:"child_group_id"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, "invalid request body")
		return
	}
	if req.ChildGroupID == 0 {
		httputil.WriteBadRequest(w, "child_group_id is required")
		return
	}

	affected, err := h.store.Nest(ctx, parentID, req.ChildGroupID)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	if h.invalidator != nil {
		h.invalidator.InvalidateUsers(affected)
	}

	observability.FromContext(ctx).WithFields(map[string]interface{}{
		"parent_group_id": parentID,
		"child_group_id":  req.ChildGroupID,
		"affected_users":  len(affected),
	}).Info("group nested")

	httputil.WriteCreated(w, NestingEdge{ParentGroupID: parentID, ChildGroupID: req.ChildGroupID})
}

// UnnestGroup removes a nesting edge
func (h *Handlers) UnnestGroup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	parentID, err := httputil.PathID(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid group ID")
		return
	}
	childID, err := httputil.PathID(r, "child_id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid child group ID")
		return
	}

	affected, err := h.store.Unnest(ctx, parentID, childID)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	if h.invalidator != nil {
		h.invalidator.InvalidateUsers(affected)
	}

	httputil.WriteNoContent(w)
}

// AddUser adds a direct member to the group
func (h *Handlers) AddUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	groupID, err := httputil.PathID(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid group ID")
		return
	}

	var req struct {
		UserID int64 `json:"user_id"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, "invalid request body")
		return
	}
	if req.UserID == 0 {
		httputil.WriteBadRequest(w, "user_id is required")
		return
	}

	if err := h.store.AddUser(ctx, groupID, req.UserID); err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	if h.invalidator != nil {
		h.invalidator.InvalidateUsers([]int64{req.UserID})
	}

	httputil.WriteCreated(w, map[string]int64{"group_id": groupID, "user_id": req.UserID})
}

// RemoveUser removes a direct member from the group
func (h *Handlers) RemoveUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	groupID, err := httputil.PathID(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid group ID")
		return
	}
	userID, err := httputil.PathID(r, "user_id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid user ID")
		return
	}

	if err := h.store.RemoveUser(ctx, groupID, userID); err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	if h.invalidator != nil {
		h.invalidator.InvalidateUsers([]int64{userID})
	}

	httputil.WriteNoContent(w)
}

// ListMembers returns the transitive members of a group
func (h *Handlers) ListMembers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	groupID, err := httputil.PathID(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid group ID")
		return
	}

	members, err := h.store.MembersOf(ctx, groupID)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	if members == nil {
		members = []int64{}
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"group_id": groupID,
		"members":  members,
	})
}

// GroupsOfUser returns the groups a user transitively belongs to
func (h *Handlers) GroupsOfUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, err := httputil.PathID(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid user ID")
		return
	}

	ids, err := h.store.GroupsOf(ctx, userID)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	if ids == nil {
		ids = []int64{}
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"user_id": userID,
		"groups":  ids,
	})
}

// writeStoreError maps store errors to HTTP status codes
func (h *Handlers) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	var cycleErr *CycleError
	var invariantErr *InvariantError

	switch {
	case errors.Is(err, ErrGroupNotFound), errors.Is(err, ErrEdgeNotFound), errors.Is(err, ErrMemberNotFound):
		httputil.WriteNotFound(w, err.Error())
	case errors.Is(err, ErrDuplicateEdge), errors.Is(err, ErrDuplicateMember), errors.Is(err, ErrCrossWorkspace):
		httputil.WriteConflict(w, err.Error())
	case errors.As(err, &cycleErr):
		httputil.WriteConflict(w, err.Error())
	case errors.As(err, &invariantErr):
		observability.FromContext(r.Context()).WithError(err).Error("group index diverged")
		httputil.WriteInternalError(w, err)
	default:
		observability.FromContext(r.Context()).WithError(err).Error("group operation failed")
		httputil.WriteInternalError(w, err)
	}
}
