// Package rbac implements role-based access control for DentFlow: the
// persistent grant relations, the cached permission resolver, the guard
// predicates used at enforcement points, and the admin mutation API.
//
// The model is additive. A user's effective permission set is the union of
// what their roles confer and what was granted directly; there are no deny
// rules and no role hierarchy. Admin status is membership in a fixed set of
// privileged roles, never derivable from permissions.
package rbac
