package orgs

import (
	"context"
	"errors"

	"kindred-collective-backend/pkg/apperr"
	"kindred-collective-backend/pkg/authz"
	"kindred-collective-backend/pkg/database"
	"kindred-collective-backend/pkg/models"

	"go.uber.org/zap"
)

// ListMembers returns the team directory. Any member may read it.
func (s *Service) ListMembers(ctx context.Context, auth models.AuthContext, orgID string) ([]models.Member, error) {
	if err := requireAuth(auth); err != nil {
		return nil, err
	}
	_, actor, err := s.membership(ctx, orgID, auth.UserID)
	if err != nil {
		return nil, err
	}
	if !authz.CanPerform(actor.Role, authz.ViewMembers, "") {
		return nil, apperr.E(apperr.Forbidden, "you cannot view members of this organisation")
	}
	members, err := s.store.ListMembers(ctx, orgID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if members == nil {
		members = []models.Member{}
	}
	return members, nil
}

// target loads another member's membership; NotFound when absent.
func (s *Service) target(ctx context.Context, orgID, userID string) (*models.Membership, error) {
	if userID == "" {
		return nil, apperr.E(apperr.BadRequest, "user id is required")
	}
	m, err := s.store.GetMembership(ctx, orgID, userID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, apperr.Wrap(apperr.NotFound, err, "member not found")
		}
		return nil, apperr.Internal(err)
	}
	return m, nil
}

// RemoveMember deletes a non-owner membership. OWNER or ADMIN only.
func (s *Service) RemoveMember(ctx context.Context, auth models.AuthContext, orgID, userID string) error {
	if err := requireAuth(auth); err != nil {
		return err
	}
	_, actor, err := s.membership(ctx, orgID, auth.UserID)
	if err != nil {
		return err
	}
	if !authz.CanPerform(actor.Role, authz.RemoveMember, "") {
		return apperr.E(apperr.Forbidden, "only owners and admins can remove members")
	}
	target, err := s.target(ctx, orgID, userID)
	if err != nil {
		return err
	}
	if target.Role == models.RoleOwner {
		return apperr.E(apperr.InvalidOperation, "the organisation owner cannot be removed; transfer ownership first")
	}
	if !authz.CanPerform(actor.Role, authz.RemoveMember, target.Role) {
		return apperr.E(apperr.Forbidden, "you cannot remove this member")
	}

	if err := s.store.DeleteMembership(ctx, orgID, userID); err != nil {
		return storeError(err, "member not found")
	}
	s.logger.Info("member removed",
		zap.String("organisation_id", orgID),
		zap.String("user_id", userID),
		zap.String("removed_by", auth.UserID),
	)
	return nil
}

// TransferOwnership makes newOwnerID (currently ADMIN) the OWNER and demotes
// the caller to ADMIN in one store transaction.
func (s *Service) TransferOwnership(ctx context.Context, auth models.AuthContext, orgID, newOwnerID string) error {
	if err := requireAuth(auth); err != nil {
		return err
	}
	_, actor, err := s.membership(ctx, orgID, auth.UserID)
	if err != nil {
		return err
	}
	if actor.Role != models.RoleOwner {
		return apperr.E(apperr.Forbidden, "only the owner can transfer ownership")
	}
	if newOwnerID == auth.UserID {
		return apperr.E(apperr.InvalidOperation, "you already own this organisation")
	}
	target, err := s.target(ctx, orgID, newOwnerID)
	if err != nil {
		return err
	}
	if !authz.CanPerform(actor.Role, authz.TransferOwnership, target.Role) {
		return apperr.E(apperr.InvalidOperation, "ownership can only be transferred to an admin; %s is a %s", newOwnerID, target.Role)
	}

	if err := s.store.TransferOwnership(ctx, orgID, auth.UserID, newOwnerID); err != nil {
		return storeError(err, "member not found")
	}
	s.logger.Info("ownership transferred",
		zap.String("organisation_id", orgID),
		zap.String("from", auth.UserID),
		zap.String("to", newOwnerID),
	)
	return nil
}

// ChangeMemberRole moves a non-owner member between ADMIN and MEMBER. OWNER only.
func (s *Service) ChangeMemberRole(ctx context.Context, auth models.AuthContext, orgID, userID, rawRole string) (*models.Membership, error) {
	if err := requireAuth(auth); err != nil {
		return nil, err
	}
	role, err := parseInviteRole(rawRole)
	if err != nil {
		return nil, err
	}
	_, actor, err := s.membership(ctx, orgID, auth.UserID)
	if err != nil {
		return nil, err
	}
	if !authz.CanPerform(actor.Role, authz.ChangeRole, role) {
		return nil, apperr.E(apperr.Forbidden, "only the owner can change member roles")
	}
	target, err := s.target(ctx, orgID, userID)
	if err != nil {
		return nil, err
	}
	if target.Role == models.RoleOwner {
		return nil, apperr.E(apperr.InvalidOperation, "the owner's role changes only through an ownership transfer")
	}
	if target.Role == role {
		return target, nil
	}

	if err := s.store.UpdateMemberRole(ctx, orgID, userID, target.Role, role); err != nil {
		return nil, storeError(err, "member not found")
	}
	s.logger.Info("member role changed",
		zap.String("organisation_id", orgID),
		zap.String("user_id", userID),
		zap.String("from", string(target.Role)),
		zap.String("to", string(role)),
	)
	target.Role = role
	return target, nil
}
