package rbac

import (
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// Sentinel errors for the authorization domain.
var (
	// ErrForbidden is the base error for every failed authorization check.
	ErrForbidden = errors.New("rbac: forbidden")

	// ErrDuplicateGrant is returned when an assign/grant call targets an
	// edge that already exists. The API is strict: duplicates are rejected,
	// never silently merged.
	ErrDuplicateGrant = errors.New("rbac: grant already exists")

	// ErrNotFound is returned when a referenced user, role, permission or
	// grant does not exist.
	ErrNotFound = errors.New("rbac: not found")
)

// ForbiddenError carries the specific requirement an authorization check
// failed on. It unwraps to ErrForbidden, so callers that only branch on
// the sentinel keep working.
type ForbiddenError struct {
	Kind        string // "permission" or "role"
	Requirement string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("forbidden: missing %s %q", e.Kind, e.Requirement)
}

func (e *ForbiddenError) Unwrap() error { return ErrForbidden }

// missingPermission builds the error raised by RequirePermission.
func missingPermission(name string) error {
	return &ForbiddenError{Kind: "permission", Requirement: name}
}

// missingRole builds the error raised by RequireRole and RequireAdmin.
func missingRole(name string) error {
	return &ForbiddenError{Kind: "role", Requirement: name}
}

// isUniqueViolation reports whether err is a uniqueness-constraint violation
// from the underlying store. Inserts race past any application-level check,
// so the constraint is the authority on duplicates; the losing writer's
// error is translated into ErrDuplicateGrant.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	// SQLite (used by the test suite) has no typed error code path here.
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
