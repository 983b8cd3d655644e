package authz

import (
	"context"
	"fmt"
	"time"

	"github.com/arborhq/arbor/pkg/hierarchy"
	"github.com/arborhq/arbor/pkg/observability"
	"github.com/arborhq/arbor/pkg/workspace"
)

// Service ties the resolver, the grant store, and the cache together. All
// mutations go through it so invalidation always happens after the
// mutation's transaction has committed.
type Service struct {
	grants     *Store
	resolver   *Resolver
	cache      *Cache
	nodes      *hierarchy.Store
	workspaces *workspace.Store
	metrics    *observability.Metrics
}

// NewService creates a new authz service
func NewService(grants *Store, resolver *Resolver, cache *Cache, nodes *hierarchy.Store, workspaces *workspace.Store, metrics *observability.Metrics) *Service {
	return &Service{
		grants:     grants,
		resolver:   resolver,
		cache:      cache,
		nodes:      nodes,
		workspaces: workspaces,
		metrics:    metrics,
	}
}

// Cache exposes the resolution cache so index mutations elsewhere can
// register it as their invalidator
func (s *Service) Cache() *Cache {
	return s.cache
}

// Resolve returns the effective access of a user on a node, consulting
// the cache first
func (s *Service) Resolve(ctx context.Context, userID, nodeID int64) (Resolution, error) {
	if res, ok := s.cache.Get(userID, nodeID); ok {
		return res, nil
	}
	res, err := s.ResolveFresh(ctx, userID, nodeID)
	if err != nil {
		return Resolution{}, err
	}
	s.cache.Put(userID, nodeID, res)
	return res, nil
}

// ResolveFresh computes a resolution bypassing the cache. The result is
// not stored.
func (s *Service) ResolveFresh(ctx context.Context, userID, nodeID int64) (Resolution, error) {
	start := time.Now()
	res, err := s.resolver.Resolve(ctx, userID, nodeID)
	if err != nil {
		return Resolution{}, err
	}
	if s.metrics != nil {
		s.metrics.ResolutionDuration.Observe(time.Since(start).Seconds())
		s.metrics.ResolutionsTotal.WithLabelValues(string(res.Source)).Inc()
	}
	return res, nil
}

// SetGrant creates or updates a grant, then evicts the grant node's
// subtree from the cache
func (s *Service) SetGrant(ctx context.Context, grant *Grant) error {
	start := time.Now()
	if err := s.grants.SetGrant(ctx, grant); err != nil {
		s.recordMutation("set_grant", start, err)
		return err
	}
	s.recordMutation("set_grant", start, nil)
	s.invalidateSubtree(ctx, grant.NodeID)
	return nil
}

// RemoveGrant deletes a grant, reverting (node, grantee) to inheritance,
// then evicts the node's subtree from the cache
func (s *Service) RemoveGrant(ctx context.Context, nodeID int64, userID, groupID *int64) error {
	start := time.Now()
	if err := s.grants.RemoveGrant(ctx, nodeID, userID, groupID); err != nil {
		s.recordMutation("remove_grant", start, err)
		return err
	}
	s.recordMutation("remove_grant", start, nil)
	s.invalidateSubtree(ctx, nodeID)
	return nil
}

// ListGrants returns every grant on a node
func (s *Service) ListGrants(ctx context.Context, nodeID int64) ([]Grant, error) {
	return s.grants.ListGrants(ctx, nodeID)
}

// SetWorkspaceDefault stores the workspace fallback level and evicts
// every cached resolution in the workspace
func (s *Service) SetWorkspaceDefault(ctx context.Context, workspaceID int64, level Level) error {
	if !level.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidLevel, level)
	}
	start := time.Now()
	if err := s.workspaces.SetDefaultLevel(ctx, workspaceID, string(level)); err != nil {
		s.recordMutation("set_workspace_default", start, err)
		return err
	}
	s.recordMutation("set_workspace_default", start, nil)
	s.cache.InvalidateWorkspace(workspaceID)
	return nil
}

// WorkspaceDefault returns the configured fallback level, if any
func (s *Service) WorkspaceDefault(ctx context.Context, workspaceID int64) (Level, bool, error) {
	raw, configured, err := s.workspaces.DefaultLevel(ctx, workspaceID)
	if err != nil || !configured {
		return "", false, err
	}
	level, err := ParseLevel(raw)
	if err != nil {
		return "", false, err
	}
	return level, true, nil
}

func (s *Service) invalidateSubtree(ctx context.Context, nodeID int64) {
	entries, err := s.nodes.DescendantsOf(ctx, nodeID)
	if err != nil {
		// Cannot enumerate the affected scope; dropping everything is the
		// only way to stay correct.
		observability.FromContext(ctx).WithError(err).
			WithField("node_id", nodeID).
			Warn("subtree enumeration failed, purging resolution cache")
		s.cache.Purge()
		return
	}
	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.NodeID
	}
	s.cache.InvalidateNodes(ids)
}

func (s *Service) recordMutation(operation string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	s.metrics.MutationsTotal.WithLabelValues(operation, status).Inc()
	s.metrics.MutationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
