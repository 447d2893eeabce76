// Package orgs implements organisation membership and invitations: the
// member registry, the invite issuer and the invite acceptor. Every
// operation takes the caller's models.AuthContext explicitly and returns
// *apperr.Error values.
package orgs

import (
	"context"
	"errors"
	"time"

	"kindred-collective-backend/pkg/apperr"
	"kindred-collective-backend/pkg/database"
	"kindred-collective-backend/pkg/models"
	"kindred-collective-backend/pkg/notify"
	"kindred-collective-backend/pkg/utils"

	"go.uber.org/zap"
)

const DefaultInviteTTL = 7 * 24 * time.Hour

// Config holds the invite settings taken from the app config.
type Config struct {
	AppBaseURL string
	InviteTTL  time.Duration
}

type Service struct {
	store    database.Store
	notifier notify.Notifier
	logger   *zap.Logger
	cfg      Config
	now      func() time.Time
	newToken func() (string, error)
}

type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTokenSource replaces the random invite token generator.
func WithTokenSource(fn func() (string, error)) Option {
	return func(s *Service) { s.newToken = fn }
}

func NewService(store database.Store, notifier notify.Notifier, logger *zap.Logger, cfg Config, opts ...Option) *Service {
	if cfg.InviteTTL <= 0 {
		cfg.InviteTTL = DefaultInviteTTL
	}
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}
	s := &Service{
		store:    store,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
		newToken: func() (string, error) { return utils.GenerateURLToken(32) },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func requireAuth(auth models.AuthContext) error {
	if !auth.Authenticated() {
		return apperr.E(apperr.Unauthorized, "authentication required")
	}
	return nil
}

// membership loads the organisation and the caller's membership in it.
// A missing organisation is NotFound; a non-member caller is Forbidden.
func (s *Service) membership(ctx context.Context, orgID, userID string) (*models.Organisation, *models.Membership, error) {
	if orgID == "" {
		return nil, nil, apperr.E(apperr.BadRequest, "organisation id is required")
	}
	org, err := s.store.GetOrganisation(ctx, orgID)
	if err != nil {
		return nil, nil, storeError(err, "organisation not found")
	}
	m, err := s.store.GetMembership(ctx, orgID, userID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, nil, apperr.E(apperr.Forbidden, "you are not a member of this organisation")
		}
		return nil, nil, apperr.Internal(err)
	}
	return org, m, nil
}

// storeError maps store sentinels onto error kinds. Anything unrecognised is
// a ServerError whose cause is kept for logging.
func storeError(err error, notFound string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, database.ErrNotFound):
		return apperr.Wrap(apperr.NotFound, err, "%s", notFound)
	case errors.Is(err, database.ErrAlreadyMember):
		return apperr.Wrap(apperr.Conflict, err, "user is already a member of this organisation")
	case errors.Is(err, database.ErrLiveInvitation):
		return apperr.Wrap(apperr.Conflict, err, "a pending invitation already exists for this email")
	case errors.Is(err, database.ErrInviteExpired):
		return apperr.Wrap(apperr.Expired, err, "invitation has expired")
	case errors.Is(err, database.ErrInviteAccepted):
		return apperr.Wrap(apperr.AlreadyAccepted, err, "invitation has already been accepted")
	case errors.Is(err, database.ErrOwnerProtected):
		return apperr.Wrap(apperr.InvalidOperation, err, "the organisation owner cannot be removed; transfer ownership first")
	case errors.Is(err, database.ErrRoleMismatch):
		return apperr.Wrap(apperr.Conflict, err, "membership changed while processing the request; retry")
	}
	return apperr.Internal(err)
}
