package authz

import (
	"errors"
	"net/http"

	"github.com/arborhq/arbor/pkg/httputil"
	"github.com/arborhq/arbor/pkg/middleware"
	"github.com/arborhq/arbor/pkg/observability"
)

// RequireLevel gates a node-scoped handler on the caller's resolved
// access. The node ID is taken from the route's {id} variable. Grant
// management itself requires LevelFullAccess.
func (s *Service) RequireLevel(min Level, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authCtx := middleware.GetAuthContext(r)
		if authCtx == nil {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}

		nodeID, err := httputil.PathID(r, "id")
		if err != nil {
			httputil.WriteBadRequest(w, "invalid node ID")
			return
		}

		res, err := s.Resolve(r.Context(), authCtx.UserID, nodeID)
		if errors.Is(err, ErrNodeNotFound) {
			httputil.WriteNotFound(w, "node not found")
			return
		}
		if err != nil {
			observability.FromContext(r.Context()).WithError(err).Error("resolution failed")
			httputil.WriteInternalError(w, err)
			return
		}

		if !res.Allows(min) {
			httputil.WriteForbidden(w, "insufficient access")
			return
		}

		next(w, r)
	}
}
