package models

import "time"

type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationExpired  InvitationStatus = "expired"
)

// Invitation is a time-boxed token letting one email address join an organisation
type Invitation struct {
	ID             string     `json:"id" db:"id"`
	OrganisationID string     `json:"organisation_id" db:"organisation_id"`
	Email          string     `json:"email" db:"email"`
	Token          string     `json:"token" db:"token"`
	Role           OrgRole    `json:"role" db:"role"`
	ExpiresAt      time.Time  `json:"expires_at" db:"expires_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	CreatedByID    string     `json:"created_by_id" db:"created_by_id"`
	AcceptedAt     *time.Time `json:"accepted_at,omitempty" db:"accepted_at"`
	AcceptedByID   *string    `json:"accepted_by_id,omitempty" db:"accepted_by_id"`
}

// StatusAt derives the invitation status at now. Status is never persisted.
func (inv *Invitation) StatusAt(now time.Time) InvitationStatus {
	if inv.AcceptedAt != nil {
		return InvitationAccepted
	}
	if now.After(inv.ExpiresAt) {
		return InvitationExpired
	}
	return InvitationPending
}

// ExpiredAt reports whether the invitation can no longer be accepted at now.
func (inv *Invitation) ExpiredAt(now time.Time) bool {
	return now.After(inv.ExpiresAt)
}

// LiveAt reports whether the invitation is unaccepted and unexpired.
func (inv *Invitation) LiveAt(now time.Time) bool {
	return inv.StatusAt(now) == InvitationPending
}

// InvitationView is an invitation with its status computed at read time
type InvitationView struct {
	Invitation
	Status InvitationStatus `json:"status"`
}

// InvitationPreview is the public view of an invite shown on the signup page
type InvitationPreview struct {
	OrganisationName string           `json:"organisation_name"`
	OrganisationType OrganisationType `json:"organisation_type"`
	Email            string           `json:"email"`
	Role             OrgRole          `json:"role"`
	ExpiresAt        time.Time        `json:"expires_at"`
	Status           InvitationStatus `json:"status"`
}
