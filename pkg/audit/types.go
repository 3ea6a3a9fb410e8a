package audit

import "time"

// Action identifies what an audit event records.
type Action string

const (
	ActionRoleAssigned      Action = "authz.role_assigned"
	ActionRoleRemoved       Action = "authz.role_removed"
	ActionRolesReplaced     Action = "authz.roles_replaced"
	ActionPermissionGranted Action = "authz.permission_granted"
	ActionPermissionRevoked Action = "authz.permission_revoked"
	ActionAccessDenied      Action = "authz.access_denied"
)

// Event is one audit log entry. ActorID is the admin performing the change;
// TargetUserID is the user whose access changed. Subject names the role or
// permission involved, when a single one applies.
type Event struct {
	Timestamp    time.Time `json:"timestamp"`
	Action       Action    `json:"action"`
	ActorID      int64     `json:"actor_id"`
	TargetUserID int64     `json:"target_user_id"`
	Subject      string    `json:"subject,omitempty"`
	Detail       string    `json:"detail,omitempty"`
	RequestID    string    `json:"request_id,omitempty"`
}
