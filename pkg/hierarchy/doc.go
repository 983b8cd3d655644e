// Package hierarchy maintains the document tree and its ancestry index.
//
// Every node carries an adjacency pointer (parent_id) and the package keeps
// a materialized transitive closure of that adjacency forest in
// node_closure: one row per (ancestor, descendant, depth) pair, including a
// depth-0 self row for every node. The closure makes "all ancestors of a
// node" a single indexed lookup, which is the read path permission
// resolution depends on.
//
// Writes pay for that read speed:
//
//   - Creating a node is O(depth): the parent's ancestor rows are copied
//     with depth shifted by one.
//   - Moving a node rebuilds the closure rows for the whole moved subtree:
//     rows tying the subtree to the old ancestor chain are deleted, and the
//     cross product of the new parent's ancestor set with the subtree is
//     inserted. Moves that would place a node under itself or one of its
//     descendants are rejected with a CycleError before anything is
//     written.
//
// All structural mutations run in a single transaction so the closure never
// observably diverges from the adjacency pointers. VerifyClosure recomputes
// the closure from adjacency and reports any divergence as an
// InvariantError; stores can be configured to run it after every mutation.
package hierarchy
