package workspace

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/arborhq/arbor/pkg/httputil"
	"github.com/arborhq/arbor/pkg/observability"
)

// Invalidator evicts cached permission resolutions for users whose
// workspace membership changed. Implemented by the authz cache.
type Invalidator interface {
	InvalidateUsers(userIDs []int64)
}

// Handlers provides HTTP handlers for workspace and user operations
type Handlers struct {
	store       *Store
	invalidator Invalidator
}

// NewHandlers creates new workspace handlers
func NewHandlers(store *Store, invalidator Invalidator) *Handlers {
	return &Handlers{store: store, invalidator: invalidator}
}

// RegisterRoutes registers all workspace routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/workspaces", h.CreateWorkspace).Methods("POST")
	router.HandleFunc("/workspaces/{id}", h.GetWorkspace).Methods("GET")
	router.HandleFunc("/workspaces/{id}/members", h.AddMember).Methods("POST")
	router.HandleFunc("/workspaces/{id}/members/{user_id}", h.RemoveMember).Methods("DELETE")
	router.HandleFunc("/users", h.CreateUser).Methods("POST")
	router.HandleFunc("/users/{id}", h.GetUser).Methods("GET")
}

// CreateWorkspace creates a new workspace
func (h *Handlers) CreateWorkspace(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Name string `json:"name"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, "invalid request body")
		return
	}
	if req.Name == "" {
		httputil.WriteBadRequest(w, "name is required")
		return
	}

	ws := &Workspace{Name: req.Name}
	if err := h.store.CreateWorkspace(ctx, ws); err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	httputil.WriteCreated(w, ws)
}

// GetWorkspace retrieves a workspace
func (h *Handlers) GetWorkspace(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	workspaceID, err := httputil.PathID(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid workspace ID")
		return
	}

	ws, err := h.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, ws)
}

// AddMember adds a user to a workspace
func (h *Handlers) AddMember(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	workspaceID, err := httputil.PathID(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid workspace ID")
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

	if err := h.store.AddMember(ctx, workspaceID, req.UserID); err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	// Membership gates the workspace-default fallback, so cached
	// resolutions for this user may change.
	if h.invalidator != nil {
		h.invalidator.InvalidateUsers([]int64{req.UserID})
	}

	httputil.WriteCreated(w, map[string]int64{"workspace_id": workspaceID, "user_id": req.UserID})
}

// RemoveMember removes a user from a workspace
func (h *Handlers) RemoveMember(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	workspaceID, err := httputil.PathID(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid workspace ID")
		return
	}
	userID, err := httputil.PathID(r, "user_id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid user ID")
		return
	}

	if err := h.store.RemoveMember(ctx, workspaceID, userID); err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	if h.invalidator != nil {
		h.invalidator.InvalidateUsers([]int64{userID})
	}

	httputil.WriteNoContent(w)
}

// CreateUser creates a user account with a fresh API token. The token is
// returned once, in this response only.
func (h *Handlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, "invalid request body")
		return
	}
	if req.Username == "" {
		httputil.WriteBadRequest(w, "username is required")
		return
	}

	user := &User{
		Username: req.Username,
		Email:    req.Email,
		APIToken: uuid.NewString(),
	}
	if err := h.store.CreateUser(ctx, user); err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	observability.FromContext(ctx).WithField("user_id", user.ID).Info("user created")

	httputil.WriteCreated(w, map[string]interface{}{
		"user":      user,
		"api_token": user.APIToken,
	})
}

// GetUser retrieves a user account
func (h *Handlers) GetUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, err := httputil.PathID(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid user ID")
		return
	}

	user, err := h.store.GetUser(ctx, userID)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, user)
}

// writeStoreError maps store errors to HTTP status codes
func (h *Handlers) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrWorkspaceNotFound), errors.Is(err, ErrUserNotFound), errors.Is(err, ErrMemberNotFound):
		httputil.WriteNotFound(w, err.Error())
	case errors.Is(err, ErrDuplicateMember):
		httputil.WriteConflict(w, err.Error())
	default:
		observability.FromContext(r.Context()).WithError(err).Error("workspace operation failed")
		httputil.WriteInternalError(w, err)
	}
}
