// Package authz resolves effective access levels and stores permission
// grants.
//
// A grant attaches a level to exactly one of (node, user) or (node, group).
// Levels form a total order: none < read < write < full_access, where none
// is an explicit denial distinct from the absence of a grant.
//
// Resolution walks the node's ancestor chain outward from the node itself.
// At each depth a user grant wins outright; otherwise the highest-ranked
// grant among the user's groups at that depth answers. The first depth with
// any applicable grant terminates the walk. With no grant anywhere on the
// chain, the workspace default applies, and only to workspace members.
//
// Because a depth's group answer is the maximum rank, a group-level none
// cannot deny a user who is in a more permissive group at the same depth.
// True denial requires a user-level grant. This is intentional.
//
// Results are memoized per (user, node) in an in-process LRU with a TTL.
// Mutations invalidate after their transaction commits: grant changes and
// moves evict the affected subtree, membership changes evict the affected
// users, default changes evict the workspace. The TTL bounds staleness if
// an invalidation path is ever missed; it is not the invalidation
// mechanism.
package authz
