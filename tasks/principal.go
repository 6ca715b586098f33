package tasks

import "strings"

// Role is the submitting principal's role claim.
type Role string

const (
	RoleViewer       Role = "Viewer"
	RoleSubscriberT1 Role = "SubscriberT1"
	RoleSubscriberT2 Role = "SubscriberT2"
	RoleSubscriberT3 Role = "SubscriberT3"
	RoleModerator    Role = "Moderator"
	RoleVIP          Role = "VIP"
	RoleBroadcaster  Role = "Broadcaster"
)

// ParseRole maps a claim (extension JWT or chat badge name) onto a Role.
// Unknown and anonymous claims read as Viewer.
func ParseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "broadcaster":
		return RoleBroadcaster
	case "moderator", "mod":
		return RoleModerator
	case "vip":
		return RoleVIP
	case "subscribert1", "subscriber":
		return RoleSubscriberT1
	case "subscribert2":
		return RoleSubscriberT2
	case "subscribert3":
		return RoleSubscriberT3
	}
	return RoleViewer
}

// Principal is an authenticated actor. OpaqueID is the pseudonymous
// per-channel viewer id recorded as the submitter.
type Principal struct {
	ChannelID string
	UserID    string
	OpaqueID  string
	Role      Role
}

// CanModerate reports whether the principal may approve, reject and toggle
// any task.
func (p Principal) CanModerate() bool {
	return p.Role == RoleModerator || p.Role == RoleBroadcaster
}

// RecordRole is the value written to a record's Role field. The field has no
// broadcaster option, so the broadcaster is recorded as Moderator.
func (p Principal) RecordRole() string {
	switch p.Role {
	case RoleBroadcaster:
		return string(RoleModerator)
	case RoleSubscriberT1, RoleSubscriberT2, RoleSubscriberT3, RoleModerator, RoleVIP:
		return string(p.Role)
	}
	return string(RoleViewer)
}
