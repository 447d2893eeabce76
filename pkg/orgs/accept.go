package orgs

import (
	"context"
	"strings"

	"kindred-collective-backend/pkg/apperr"
	"kindred-collective-backend/pkg/models"

	"go.uber.org/zap"
)

// AcceptInvite consumes token for the caller. Checks run in order: unknown
// token, expired, already accepted, already a member. Membership creation and
// marking the invite accepted happen in one store transaction.
func (s *Service) AcceptInvite(ctx context.Context, auth models.AuthContext, token string) (*models.Membership, error) {
	if err := requireAuth(auth); err != nil {
		return nil, err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, apperr.E(apperr.BadRequest, "inviteToken is required")
	}

	m, err := s.store.AcceptInvitation(ctx, token, auth.UserID, s.now())
	if err != nil {
		return nil, storeError(err, "invitation not found")
	}
	s.logger.Info("invitation accepted",
		zap.String("organisation_id", m.OrganisationID),
		zap.String("user_id", auth.UserID),
		zap.String("role", string(m.Role)),
	)
	return m, nil
}
