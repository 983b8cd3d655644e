// Package workspace stores workspaces, their members, per-workspace
// default access levels, and user accounts with API tokens. It is plain
// storage: the default level is an opaque string here, interpreted and
// validated by permission resolution.
package workspace
