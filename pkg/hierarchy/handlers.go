package hierarchy

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/arborhq/arbor/pkg/httputil"
	"github.com/arborhq/arbor/pkg/observability"
)

// Invalidator evicts cached permission resolutions after structural
// mutations commit. Implemented by the authz cache.
type Invalidator interface {
	InvalidateNodes(nodeIDs []int64)
}

// Handlers provides HTTP handlers for tree operations
type Handlers struct {
	store       *Store
	invalidator Invalidator
}

// NewHandlers creates new hierarchy handlers
func NewHandlers(store *Store, invalidator Invalidator) *Handlers {
	return &Handlers{store: store, invalidator: invalidator}
}

// RegisterRoutes registers all hierarchy routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/nodes", h.CreateNode).Methods("POST")
	router.HandleFunc("/nodes/{id}", h.GetNode).Methods("GET")
	router.HandleFunc("/nodes/{id}", h.DeleteNode).Methods("DELETE")
	router.HandleFunc("/nodes/{id}/move", h.MoveNode).Methods("POST")
	router.HandleFunc("/nodes/{id}/children", h.ListChildren).Methods("GET")
	router.HandleFunc("/nodes/{id}/ancestors", h.GetAncestors).Methods("GET")
	router.HandleFunc("/nodes/{id}/descendants", h.GetDescendants).Methods("GET")
}

// CreateNode creates a node, optionally under a parent
func (h *Handlers) CreateNode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		WorkspaceID int64  `json:"workspace_id"`
		Title       string `json:"title"`
		ParentID    *int64 `json:"parent_id,omitempty"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, "invalid request body")
		return
	}
	if req.WorkspaceID == 0 || req.Title == "" {
		httputil.WriteBadRequest(w, "workspace_id and title are required")
		return
	}

	node := &Node{
		WorkspaceID: req.WorkspaceID,
		Title:       req.Title,
		ParentID:    req.ParentID,
	}
	if err := h.store.CreateNode(ctx, node); err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	httputil.WriteCreated(w, node)
}

// GetNode retrieves a single node
func (h *Handlers) GetNode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	nodeID, err := httputil.PathID(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid node ID")
		return
	}

	node, err := h.store.GetNode(ctx, nodeID)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, node)
}

// MoveNode reparents a node. A null parent_id makes it a root.
func (h *Handlers) MoveNode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	nodeID, err := httputil.PathID(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid node ID")
		return
	}

	var req struct {
		ParentID *int64 `json:"parent_id"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, "invalid request body")
		return
	}

	subtree, err := h.store.MoveNode(ctx, nodeID, req.ParentID)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	// Evict after commit: every node in the moved subtree may resolve
	// differently now.
	if h.invalidator != nil {
		h.invalidator.InvalidateNodes(subtree)
	}

	observability.FromContext(ctx).WithFields(map[string]interface{}{
		"node_id":      nodeID,
		"subtree_size": len(subtree),
	}).Info("node moved")

	node, err := h.store.GetNode(ctx, nodeID)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, node)
}

// DeleteNode removes a node and its subtree
func (h *Handlers) DeleteNode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	nodeID, err := httputil.PathID(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid node ID")
		return
	}

	subtree, err := h.store.DeleteNode(ctx, nodeID)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	if h.invalidator != nil {
		h.invalidator.InvalidateNodes(subtree)
	}

	observability.FromContext(ctx).WithFields(map[string]interface{}{
		"node_id":      nodeID,
		"subtree_size": len(subtree),
	}).Info("node deleted")

	httputil.WriteNoContent(w)
}

// ListChildren lists the direct children of a node
func (h *Handlers) ListChildren(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	nodeID, err := httputil.PathID(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid node ID")
		return
	}

	children, err := h.store.ListChildren(ctx, nodeID)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	if children == nil {
		children = []Node{}
	}

	httputil.WriteSuccess(w, children)
}

// GetAncestors returns a node's ancestor chain, nearest first
func (h *Handlers) GetAncestors(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	nodeID, err := httputil.PathID(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid node ID")
		return
	}

	ancestors, err := h.store.AncestorsOf(ctx, nodeID)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, ancestors)
}

// GetDescendants returns a node's subtree, nearest first
func (h *Handlers) GetDescendants(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	nodeID, err := httputil.PathID(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, "invalid node ID")
		return
	}

	descendants, err := h.store.DescendantsOf(ctx, nodeID)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, descendants)
}

// writeStoreError maps store errors to HTTP status codes
func (h *Handlers) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	var cycleErr *CycleError
	var invariantErr *InvariantError

	switch {
	case errors.Is(err, ErrNodeNotFound):
		httputil.WriteNotFound(w, err.Error())
	case errors.Is(err, ErrCrossWorkspace):
		httputil.WriteConflict(w, err.Error())
	case errors.As(err, &cycleErr):
		httputil.WriteConflict(w, err.Error())
	case errors.As(err, &invariantErr):
		observability.FromContext(r.Context()).WithError(err).Error("ancestry index diverged")
		httputil.WriteInternalError(w, err)
	default:
		observability.FromContext(r.Context()).WithError(err).Error("hierarchy operation failed")
		httputil.WriteInternalError(w, err)
	}
}
