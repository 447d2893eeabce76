package orgs

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"kindred-collective-backend/pkg/apperr"
	"kindred-collective-backend/pkg/authz"
	"kindred-collective-backend/pkg/database"
	"kindred-collective-backend/pkg/models"
	"kindred-collective-backend/pkg/notify"

	"go.uber.org/zap"
)

// CreateInviteInput invites Email to an organisation. OrganisationID may be
// empty when the caller belongs to exactly one organisation.
type CreateInviteInput struct {
	OrganisationID string `json:"organisation_id,omitempty"`
	Email          string `json:"email"`
	Role           string `json:"role"`
}

type CreateInviteResult struct {
	Invite    models.InvitationView `json:"invite"`
	InviteURL string                `json:"inviteUrl"`
}

type InviteList struct {
	Invites      []models.InvitationView `json:"invites"`
	PendingCount int                     `json:"pendingCount"`
}

// resolveOrganisation picks the organisation an invite is for. Without an
// explicit id the caller must belong to exactly one organisation.
func (s *Service) resolveOrganisation(ctx context.Context, auth models.AuthContext, orgID string) (*models.Organisation, *models.Membership, error) {
	if orgID != "" {
		return s.membership(ctx, orgID, auth.UserID)
	}
	list, err := s.store.ListUserOrganisations(ctx, auth.UserID)
	if err != nil {
		return nil, nil, apperr.Internal(err)
	}
	switch len(list) {
	case 0:
		return nil, nil, apperr.E(apperr.Forbidden, "you are not a member of any organisation")
	case 1:
		return s.membership(ctx, list[0].ID, auth.UserID)
	}
	return nil, nil, apperr.E(apperr.BadRequest, "you belong to %d organisations; specify orgId", len(list))
}

// CreateInvite issues a time-boxed invite token for one email address. The
// email notification is best effort and never fails the call.
func (s *Service) CreateInvite(ctx context.Context, auth models.AuthContext, in CreateInviteInput) (*CreateInviteResult, error) {
	if err := requireAuth(auth); err != nil {
		return nil, err
	}
	email := strings.TrimSpace(in.Email)
	if !ValidEmail(email) {
		return nil, apperr.E(apperr.BadRequest, "invalid email address")
	}
	role, err := parseInviteRole(in.Role)
	if err != nil {
		return nil, err
	}

	org, actor, err := s.resolveOrganisation(ctx, auth, in.OrganisationID)
	if err != nil {
		return nil, err
	}
	if !authz.CanPerform(actor.Role, authz.CreateInvite, role) {
		if role == models.RoleAdmin && actor.Role == models.RoleAdmin {
			return nil, apperr.E(apperr.Forbidden, "only the owner can invite admins")
		}
		return nil, apperr.E(apperr.Forbidden, "only owners and admins can invite members")
	}

	existingUser, err := s.store.GetUserByEmail(ctx, email)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, apperr.Internal(err)
	}
	if existingUser != nil {
		_, err := s.store.GetMembership(ctx, org.ID, existingUser.ID)
		if err == nil {
			return nil, apperr.E(apperr.Conflict, "%s is already a member of this organisation", email)
		}
		if !errors.Is(err, database.ErrNotFound) {
			return nil, apperr.Internal(err)
		}
	}

	token, err := s.newToken()
	if err != nil {
		return nil, apperr.Internal(err)
	}
	now := s.now()
	inv := &models.Invitation{
		OrganisationID: org.ID,
		Email:          email,
		Token:          token,
		Role:           role,
		ExpiresAt:      now.Add(s.cfg.InviteTTL),
		CreatedByID:    auth.UserID,
	}
	// expired rows for the same email are removed inside this call
	if err := s.store.CreateInvitation(ctx, inv, now); err != nil {
		return nil, storeError(err, "organisation not found")
	}

	inviteURL := s.inviteURL(token, existingUser != nil)
	s.logger.Info("invitation created",
		zap.String("invitation_id", inv.ID),
		zap.String("organisation_id", org.ID),
		zap.String("role", string(role)),
		zap.String("created_by", auth.UserID),
	)

	s.notifyInvite(ctx, auth, org, inv, inviteURL)

	return &CreateInviteResult{
		Invite:    models.InvitationView{Invitation: *inv, Status: inv.StatusAt(now)},
		InviteURL: inviteURL,
	}, nil
}

// inviteURL links existing users to the join page and new users to signup.
func (s *Service) inviteURL(token string, existingUser bool) string {
	if existingUser {
		return s.cfg.AppBaseURL + "/invite/" + url.PathEscape(token)
	}
	return s.cfg.AppBaseURL + "/signup?invite=" + url.QueryEscape(token)
}

func (s *Service) notifyInvite(ctx context.Context, auth models.AuthContext, org *models.Organisation, inv *models.Invitation, inviteURL string) {
	invitedBy := auth.Email
	if u, err := s.store.GetUserByID(ctx, auth.UserID); err == nil && u.Name != "" {
		invitedBy = u.Name
	}
	msg := notify.InviteEmail{
		InvitationID:     inv.ID,
		OrganisationID:   org.ID,
		OrganisationName: org.Name,
		OrganisationType: org.Type,
		Email:            inv.Email,
		Role:             inv.Role,
		InviteURL:        inviteURL,
		InvitedBy:        invitedBy,
		ExpiresAt:        inv.ExpiresAt,
	}
	if err := s.notifier.NotifyInvite(ctx, msg); err != nil {
		s.logger.Warn("failed to enqueue invite email",
			zap.String("invitation_id", inv.ID),
			zap.Error(err),
		)
	}
}

// ListInvites returns every invite of the organisation with its status
// computed now. OWNER or ADMIN only.
func (s *Service) ListInvites(ctx context.Context, auth models.AuthContext, orgID string) (*InviteList, error) {
	if err := requireAuth(auth); err != nil {
		return nil, err
	}
	org, actor, err := s.resolveOrganisation(ctx, auth, orgID)
	if err != nil {
		return nil, err
	}
	if !authz.CanPerform(actor.Role, authz.ViewInvites, "") {
		return nil, apperr.E(apperr.Forbidden, "only owners and admins can view invitations")
	}
	invites, err := s.store.ListInvitations(ctx, org.ID)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	now := s.now()
	result := &InviteList{Invites: make([]models.InvitationView, 0, len(invites))}
	for _, inv := range invites {
		status := inv.StatusAt(now)
		if status == models.InvitationPending {
			result.PendingCount++
		}
		result.Invites = append(result.Invites, models.InvitationView{Invitation: inv, Status: status})
	}
	return result, nil
}

// PreviewInvite is the unauthenticated view of an invite for the signup page.
func (s *Service) PreviewInvite(ctx context.Context, token string) (*models.InvitationPreview, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperr.E(apperr.BadRequest, "invite token is required")
	}
	inv, err := s.store.GetInvitationByToken(ctx, token)
	if err != nil {
		return nil, storeError(err, "invitation not found")
	}
	org, err := s.store.GetOrganisation(ctx, inv.OrganisationID)
	if err != nil {
		return nil, storeError(err, "invitation not found")
	}
	return &models.InvitationPreview{
		OrganisationName: org.Name,
		OrganisationType: org.Type,
		Email:            inv.Email,
		Role:             inv.Role,
		ExpiresAt:        inv.ExpiresAt,
		Status:           inv.StatusAt(s.now()),
	}, nil
}
