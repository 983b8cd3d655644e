package groups

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Store maintains groups, nesting edges, the group closure, and the
// flattened membership index
type Store struct {
	db *sql.DB

	// CheckInvariants runs a full closure and membership verification
	// inside every mutation's transaction. Intended for tests and staging.
	CheckInvariants bool
}

// NewStore creates a new groups store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateGroup inserts a group together with its depth-0 closure row
func (s *Store) CreateGroup(ctx context.Context, group *Group) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	err = tx.QueryRowContext(ctx, `
		INSERT INTO groups (workspace_id, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, group.WorkspaceID, group.Name, now, now).Scan(&group.ID)
	if err != nil {
		return fmt.Errorf("failed to create group: %w", err)
	}
	group.CreatedAt = now
	group.UpdatedAt = now

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO group_closure (ancestor_id, descendant_id, depth)
		VALUES ($1, $2, 0)
	`, group.ID, group.ID); err != nil {
		return fmt.Errorf("failed to insert self closure row: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit group creation: %w", err)
	}
	return nil
}

// GetGroup retrieves a group by ID
func (s *Store) GetGroup(ctx context.Context, groupID int64) (*Group, error) {
	var group Group
	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, name, created_at, updated_at
		FROM groups
		WHERE id = $1
	`, groupID).Scan(&group.ID, &group.WorkspaceID, &group.Name, &group.CreatedAt, &group.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrGroupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	return &group, nil
}

// ListGroups lists all groups in a workspace
func (s *Store) ListGroups(ctx context.Context, workspaceID int64) ([]Group, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, name, created_at, updated_at
		FROM groups
		WHERE workspace_id = $1
		ORDER BY id ASC
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	defer rows.Close()

	var result []Group
	for rows.Next() {
		var group Group
		if err := rows.Scan(&group.ID, &group.WorkspaceID, &group.Name, &group.CreatedAt, &group.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		result = append(result, group)
	}
	return result, rows.Err()
}

// Nest records that the parent group contains the child group, extending
// the closure and flattened membership incrementally. Returns the users
// whose transitive memberships grew, for cache invalidation.
func (s *Store) Nest(ctx context.Context, parentGroupID, childGroupID int64) ([]int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if parentGroupID == childGroupID {
		return nil, &CycleError{ParentGroupID: parentGroupID, ChildGroupID: childGroupID}
	}

	var parentWorkspace, childWorkspace int64
	err = tx.QueryRowContext(ctx, `SELECT workspace_id FROM groups WHERE id = $1`, parentGroupID).
		Scan(&parentWorkspace)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("parent group %d: %w", parentGroupID, ErrGroupNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up parent group: %w", err)
	}
	err = tx.QueryRowContext(ctx, `SELECT workspace_id FROM groups WHERE id = $1`, childGroupID).
		Scan(&childWorkspace)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("child group %d: %w", childGroupID, ErrGroupNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up child group: %w", err)
	}
	if parentWorkspace != childWorkspace {
		return nil, ErrCrossWorkspace
	}

	// Cycle guard: the child must not already contain the parent.
	var one int
	err = tx.QueryRowContext(ctx, `
		SELECT 1 FROM group_closure WHERE ancestor_id = $1 AND descendant_id = $2
	`, childGroupID, parentGroupID).Scan(&one)
	if err == nil {
		return nil, &CycleError{ParentGroupID: parentGroupID, ChildGroupID: childGroupID}
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed cycle check: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		SELECT 1 FROM group_edges WHERE parent_group_id = $1 AND child_group_id = $2
	`, parentGroupID, childGroupID).Scan(&one)
	if err == nil {
		return nil, ErrDuplicateEdge
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed duplicate edge check: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO group_edges (parent_group_id, child_group_id)
		VALUES ($1, $2)
	`, parentGroupID, childGroupID); err != nil {
		return nil, fmt.Errorf("failed to insert nesting edge: %w", err)
	}

	// Cross product of the parent's ancestor set with the child's
	// descendant set. A pair already connected through another path keeps
	// the shorter of the two depths: the new edge may be a shortcut, and
	// every pair it can shorten is in this cross product.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO group_closure (ancestor_id, descendant_id, depth)
		SELECT a.ancestor_id, d.descendant_id, a.depth + d.depth + 1
		FROM group_closure a, group_closure d
		WHERE a.descendant_id = $1 AND d.ancestor_id = $2
		ON CONFLICT (ancestor_id, descendant_id) DO UPDATE SET depth = excluded.depth
		WHERE excluded.depth < group_closure.depth
	`, parentGroupID, childGroupID); err != nil {
		return nil, fmt.Errorf("failed to extend group closure: %w", err)
	}

	// Everyone reachable under the child becomes a member of the parent
	// and all of the parent's ancestors.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO group_members_flat (group_id, user_id)
		SELECT DISTINCT a.ancestor_id, gu.user_id
		FROM group_closure a, group_closure d
		JOIN group_users gu ON gu.group_id = d.descendant_id
		WHERE a.descendant_id = $1 AND d.ancestor_id = $2
		ON CONFLICT (group_id, user_id) DO NOTHING
	`, parentGroupID, childGroupID); err != nil {
		return nil, fmt.Errorf("failed to extend flattened membership: %w", err)
	}

	affected, err := flatMembers(ctx, tx, childGroupID)
	if err != nil {
		return nil, err
	}

	if s.CheckInvariants {
		if err := verifyIndexes(ctx, tx); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit nest: %w", err)
	}
	return affected, nil
}

// Unnest removes a nesting edge. The closure and flattened membership of
// the parent's ancestor scope are recomputed from the surviving edges,
// because the removed edge may or may not have been the only path. Returns
// the users whose transitive memberships may have shrunk.
func (s *Store) Unnest(ctx context.Context, parentGroupID, childGroupID int64) ([]int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	var one int
	err = tx.QueryRowContext(ctx, `
		SELECT 1 FROM group_edges WHERE parent_group_id = $1 AND child_group_id = $2
	`, parentGroupID, childGroupID).Scan(&one)
	if err == sql.ErrNoRows {
		return nil, ErrEdgeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up edge: %w", err)
	}

	// Both reads happen before the edge goes away: these users and groups
	// are the ones whose derived rows depended on it.
	affected, err := flatMembers(ctx, tx, childGroupID)
	if err != nil {
		return nil, err
	}
	scope, err := ancestorGroups(ctx, tx, parentGroupID)
	if err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM group_edges WHERE parent_group_id = $1 AND child_group_id = $2
	`, parentGroupID, childGroupID); err != nil {
		return nil, fmt.Errorf("failed to delete nesting edge: %w", err)
	}

	if err := rebuildScope(ctx, tx, scope); err != nil {
		return nil, err
	}

	if s.CheckInvariants {
		if err := verifyIndexes(ctx, tx); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit unnest: %w", err)
	}
	return affected, nil
}

// AddUser makes the user a direct member of the group, extending the
// flattened membership to the group and all of its ancestors
func (s *Store) AddUser(ctx context.Context, groupID, userID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM groups WHERE id = $1`, groupID).Scan(&one)
	if err == sql.ErrNoRows {
		return ErrGroupNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to look up group: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		SELECT 1 FROM group_users WHERE group_id = $1 AND user_id = $2
	`, groupID, userID).Scan(&one)
	if err == nil {
		return ErrDuplicateMember
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("failed duplicate member check: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO group_users (group_id, user_id) VALUES ($1, $2)
	`, groupID, userID); err != nil {
		return fmt.Errorf("failed to insert direct membership: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO group_members_flat (group_id, user_id)
		SELECT ancestor_id, $1 FROM group_closure WHERE descendant_id = $2
		ON CONFLICT (group_id, user_id) DO NOTHING
	`, userID, groupID); err != nil {
		return fmt.Errorf("failed to extend flattened membership: %w", err)
	}

	if s.CheckInvariants {
		if err := verifyIndexes(ctx, tx); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit membership: %w", err)
	}
	return nil
}

// RemoveUser removes a direct membership. Flattened rows in the group's
// ancestor scope survive only where another direct membership still
// justifies them.
func (s *Store) RemoveUser(ctx context.Context, groupID, userID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		DELETE FROM group_users WHERE group_id = $1 AND user_id = $2
	`, groupID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete direct membership: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrMemberNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM group_members_flat
		WHERE user_id = $1
		  AND group_id IN (SELECT ancestor_id FROM group_closure WHERE descendant_id = $2)
		  AND NOT EXISTS (
			SELECT 1
			FROM group_users gu
			JOIN group_closure c ON c.descendant_id = gu.group_id
			WHERE c.ancestor_id = group_members_flat.group_id AND gu.user_id = $3
		  )
	`, userID, groupID, userID); err != nil {
		return fmt.Errorf("failed to retract flattened membership: %w", err)
	}

	if s.CheckInvariants {
		if err := verifyIndexes(ctx, tx); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit membership removal: %w", err)
	}
	return nil
}

// DeleteGroup removes a group, its edges, and its memberships, then
// recomputes the derived rows of its former ancestors. Returns the users
// whose transitive memberships may have shrunk.
func (s *Store) DeleteGroup(ctx context.Context, groupID int64) ([]int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM groups WHERE id = $1`, groupID).Scan(&one)
	if err == sql.ErrNoRows {
		return nil, ErrGroupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up group: %w", err)
	}

	affected, err := flatMembers(ctx, tx, groupID)
	if err != nil {
		return nil, err
	}
	ancestors, err := ancestorGroups(ctx, tx, groupID)
	if err != nil {
		return nil, err
	}
	scope := ancestors[:0]
	for _, id := range ancestors {
		if id != groupID {
			scope = append(scope, id)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM group_edges WHERE parent_group_id = $1 OR child_group_id = $2
	`, groupID, groupID); err != nil {
		return nil, fmt.Errorf("failed to delete edges: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM group_users WHERE group_id = $1
	`, groupID); err != nil {
		return nil, fmt.Errorf("failed to delete direct memberships: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM group_closure WHERE ancestor_id = $1 OR descendant_id = $2
	`, groupID, groupID); err != nil {
		return nil, fmt.Errorf("failed to delete closure rows: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM group_members_flat WHERE group_id = $1
	`, groupID); err != nil {
		return nil, fmt.Errorf("failed to delete flattened rows: %w", err)
	}

	if err := rebuildScope(ctx, tx, scope); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM groups WHERE id = $1`, groupID); err != nil {
		return nil, fmt.Errorf("failed to delete group: %w", err)
	}

	if s.CheckInvariants {
		if err := verifyIndexes(ctx, tx); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit group deletion: %w", err)
	}
	return affected, nil
}

// GroupsOf returns every group the user is a transitive member of
func (s *Store) GroupsOf(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT group_id FROM group_members_flat WHERE user_id = $1 ORDER BY group_id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query user groups: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan group id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MembersOf returns every user transitively reachable under the group
func (s *Store) MembersOf(ctx context.Context, groupID int64) ([]int64, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM groups WHERE id = $1`, groupID).Scan(&one)
	if err == sql.ErrNoRows {
		return nil, ErrGroupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up group: %w", err)
	}
	return flatMembers(ctx, s.db, groupID)
}

// VerifyIndexes recomputes the closure and flattened membership from the
// nesting edges and direct memberships and compares them with the stored
// rows. Returns an InvariantError describing the first divergence.
func (s *Store) VerifyIndexes(ctx context.Context) error {
	return verifyIndexes(ctx, s.db)
}

func flatMembers(ctx context.Context, q querier, groupID int64) ([]int64, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT user_id FROM group_members_flat WHERE group_id = $1 ORDER BY user_id ASC
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query flattened members: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan member id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ancestorGroups returns the group's ancestor set including itself
func ancestorGroups(ctx context.Context, q querier, groupID int64) ([]int64, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT ancestor_id FROM group_closure WHERE descendant_id = $1 ORDER BY depth ASC
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query ancestor groups: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan ancestor id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// loadEdges reads the whole nesting graph as a parent -> children map
func loadEdges(ctx context.Context, q querier) (map[int64][]int64, error) {
	rows, err := q.QueryContext(ctx, `SELECT parent_group_id, child_group_id FROM group_edges`)
	if err != nil {
		return nil, fmt.Errorf("failed to load nesting edges: %w", err)
	}
	defer rows.Close()

	edges := make(map[int64][]int64)
	for rows.Next() {
		var parent, child int64
		if err := rows.Scan(&parent, &child); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		edges[parent] = append(edges[parent], child)
	}
	return edges, rows.Err()
}

// descendantDepths walks the nesting graph downward from a group,
// returning the shortest depth to every reachable group, itself included
func descendantDepths(edges map[int64][]int64, groupID int64) map[int64]int {
	depths := map[int64]int{groupID: 0}
	queue := []int64{groupID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, child := range edges[cur] {
			if _, seen := depths[child]; !seen {
				depths[child] = depths[cur] + 1
				queue = append(queue, child)
			}
		}
	}
	return depths
}

// rebuildScope recomputes closure and flattened membership rows for the
// given ancestor groups from the surviving edges
func rebuildScope(ctx context.Context, tx *sql.Tx, scope []int64) error {
	if len(scope) == 0 {
		return nil
	}

	edges, err := loadEdges(ctx, tx)
	if err != nil {
		return err
	}

	in := placeholders(1, len(scope))
	args := make([]interface{}, len(scope))
	for i, id := range scope {
		args[i] = id
	}

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM group_closure WHERE ancestor_id IN (%s)`, in), args...); err != nil {
		return fmt.Errorf("failed to clear closure scope: %w", err)
	}

	for _, groupID := range scope {
		for descendant, depth := range descendantDepths(edges, groupID) {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO group_closure (ancestor_id, descendant_id, depth)
				VALUES ($1, $2, $3)
			`, groupID, descendant, depth); err != nil {
				return fmt.Errorf("failed to rebuild closure row: %w", err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM group_members_flat WHERE group_id IN (%s)`, in), args...); err != nil {
		return fmt.Errorf("failed to clear flattened scope: %w", err)
	}

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO group_members_flat (group_id, user_id)
		SELECT DISTINCT c.ancestor_id, gu.user_id
		FROM group_closure c
		JOIN group_users gu ON gu.group_id = c.descendant_id
		WHERE c.ancestor_id IN (%s)
	`, in), args...); err != nil {
		return fmt.Errorf("failed to rebuild flattened scope: %w", err)
	}

	return nil
}

func verifyIndexes(ctx context.Context, q querier) error {
	groupRows, err := q.QueryContext(ctx, `SELECT id FROM groups`)
	if err != nil {
		return fmt.Errorf("failed to load groups: %w", err)
	}
	var groupIDs []int64
	for groupRows.Next() {
		var id int64
		if err := groupRows.Scan(&id); err != nil {
			groupRows.Close()
			return fmt.Errorf("failed to scan group id: %w", err)
		}
		groupIDs = append(groupIDs, id)
	}
	groupRows.Close()
	if err := groupRows.Err(); err != nil {
		return fmt.Errorf("failed to read groups: %w", err)
	}

	edges, err := loadEdges(ctx, q)
	if err != nil {
		return err
	}

	type pair struct{ ancestor, descendant int64 }
	expected := make(map[pair]int)
	for _, id := range groupIDs {
		for descendant, depth := range descendantDepths(edges, id) {
			expected[pair{id, descendant}] = depth
		}
	}

	actual := make(map[pair]int)
	rows, err := q.QueryContext(ctx, `SELECT ancestor_id, descendant_id, depth FROM group_closure`)
	if err != nil {
		return fmt.Errorf("failed to load closure: %w", err)
	}
	for rows.Next() {
		var a, d int64
		var depth int
		if err := rows.Scan(&a, &d, &depth); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan closure row: %w", err)
		}
		actual[pair{a, d}] = depth
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read closure: %w", err)
	}

	for p, depth := range expected {
		got, ok := actual[p]
		if !ok {
			return &InvariantError{Detail: fmt.Sprintf("missing closure row (%d, %d, %d)", p.ancestor, p.descendant, depth)}
		}
		if got != depth {
			return &InvariantError{Detail: fmt.Sprintf("closure row (%d, %d) has depth %d, edges imply %d", p.ancestor, p.descendant, got, depth)}
		}
	}
	for p := range actual {
		if _, ok := expected[p]; !ok {
			return &InvariantError{Detail: fmt.Sprintf("stale closure row (%d, %d)", p.ancestor, p.descendant)}
		}
	}

	direct := make(map[int64][]int64)
	rows, err = q.QueryContext(ctx, `SELECT group_id, user_id FROM group_users`)
	if err != nil {
		return fmt.Errorf("failed to load direct memberships: %w", err)
	}
	for rows.Next() {
		var groupID, userID int64
		if err := rows.Scan(&groupID, &userID); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan membership: %w", err)
		}
		direct[groupID] = append(direct[groupID], userID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read direct memberships: %w", err)
	}

	expectedFlat := make(map[pair]bool)
	for _, id := range groupIDs {
		for descendant := range descendantDepths(edges, id) {
			for _, userID := range direct[descendant] {
				expectedFlat[pair{id, userID}] = true
			}
		}
	}

	actualFlat := make(map[pair]bool)
	rows, err = q.QueryContext(ctx, `SELECT group_id, user_id FROM group_members_flat`)
	if err != nil {
		return fmt.Errorf("failed to load flattened membership: %w", err)
	}
	for rows.Next() {
		var groupID, userID int64
		if err := rows.Scan(&groupID, &userID); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan flattened row: %w", err)
		}
		actualFlat[pair{groupID, userID}] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read flattened membership: %w", err)
	}

	for p := range expectedFlat {
		if !actualFlat[p] {
			return &InvariantError{Detail: fmt.Sprintf("missing flattened row (group %d, user %d)", p.ancestor, p.descendant)}
		}
	}
	for p := range actualFlat {
		if !expectedFlat[p] {
			return &InvariantError{Detail: fmt.Sprintf("stale flattened row (group %d, user %d)", p.ancestor, p.descendant)}
		}
	}

	return nil
}

func placeholders(start, n int) string {
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ", ")
}
