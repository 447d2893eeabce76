package models

import "time"

type OrgRole string

const (
	RoleOwner  OrgRole = "owner"
	RoleAdmin  OrgRole = "admin"
	RoleMember OrgRole = "member"
)

// Valid reports whether r is one of the three membership roles.
func (r OrgRole) Valid() bool {
	return r == RoleOwner || r == RoleAdmin || r == RoleMember
}

// Invitable reports whether an invite may carry r. Ownership is only ever
// obtained by creating an organisation or by transfer.
func (r OrgRole) Invitable() bool {
	return r == RoleAdmin || r == RoleMember
}

// Membership relates a user to an organisation with a role
type Membership struct {
	ID             string    `json:"id" db:"id"`
	OrganisationID string    `json:"organisation_id" db:"organisation_id"`
	UserID         string    `json:"user_id" db:"user_id"`
	Role           OrgRole   `json:"role" db:"role"`
	JoinedAt       time.Time `json:"joined_at" db:"joined_at"`
}

// Member is a membership with the user's profile fields denormalised for the team directory
type Member struct {
	Membership
	Name     string `json:"name"`
	Email    string `json:"email"`
	JobTitle string `json:"job_title,omitempty"`
}
