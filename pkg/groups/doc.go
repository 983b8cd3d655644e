// Package groups maintains group nesting and the flattened membership
// index.
//
// Groups form a DAG through nesting edges ("parent contains child"). Two
// derived structures are kept alongside the edges:
//
//   - group_closure: the transitive closure of the nesting DAG. Because a
//     pair of groups can be connected by more than one path, the closure
//     keys on (ancestor, descendant) and stores the shortest path depth.
//   - group_members_flat: for every group, the set of users transitively
//     reachable through nesting. This is the index permission resolution
//     reads; it is never computed on the fly.
//
// Additions (nest, addUser) extend both structures incrementally. Removals
// (unnest, removeUser) cannot: deleting one edge may or may not eliminate a
// membership, depending on paths that are not locally detectable. Removals
// therefore recompute the closure and flattened membership for the affected
// ancestor scope from the surviving edges. Removals are rare next to reads,
// so the recomputation cost is acceptable where an incremental retraction
// would be easy to get wrong.
//
// Nesting a group under itself or under one of its own descendants is
// rejected with a CycleError before anything is written.
package groups
