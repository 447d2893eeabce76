// Package authz decides which membership and invite actions a role may take
// inside an organisation. Every mutating operation consults CanPerform.
package authz

import "kindred-collective-backend/pkg/models"

type Action string

const (
	ViewMembers       Action = "view_members"
	ViewInvites       Action = "view_invites"
	CreateInvite      Action = "create_invite"
	RemoveMember      Action = "remove_member"
	TransferOwnership Action = "transfer_ownership"
	ChangeRole        Action = "change_role"
)

func isManager(r models.OrgRole) bool {
	return r == models.RoleOwner || r == models.RoleAdmin
}

// CanPerform reports whether a member holding actor may perform action.
// target is the role the action is aimed at: the invited role, the role of
// the member being removed, the current role of the designated new owner, or
// the requested role for ChangeRole. It is ignored for read actions.
func CanPerform(actor models.OrgRole, action Action, target models.OrgRole) bool {
	if !actor.Valid() {
		return false
	}
	switch action {
	case ViewMembers:
		return true
	case ViewInvites:
		return isManager(actor)
	case CreateInvite:
		if !target.Invitable() || !isManager(actor) {
			return false
		}
		// admins cannot mint peer admins
		return target != models.RoleAdmin || actor == models.RoleOwner
	case RemoveMember:
		return isManager(actor) && target != models.RoleOwner
	case TransferOwnership:
		return actor == models.RoleOwner && target == models.RoleAdmin
	case ChangeRole:
		return actor == models.RoleOwner && target.Invitable()
	}
	return false
}
