package orgs

import (
	"context"
	"errors"
	"strings"

	"kindred-collective-backend/pkg/apperr"
	"kindred-collective-backend/pkg/database"
	"kindred-collective-backend/pkg/models"
	"kindred-collective-backend/pkg/utils"

	"go.uber.org/zap"
)

const maxSlugAttempts = 5

// CreateOrganisationInput creates an organisation that claims one brand or
// supplier listing.
type CreateOrganisationInput struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	ProfileID string `json:"profile_id"`
}

// CreateOrganisation creates the organisation and makes the caller its OWNER.
func (s *Service) CreateOrganisation(ctx context.Context, auth models.AuthContext, in CreateOrganisationInput) (*models.UserOrganisation, error) {
	if err := requireAuth(auth); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperr.E(apperr.BadRequest, "name is required")
	}
	orgType := models.OrganisationType(strings.ToLower(strings.TrimSpace(in.Type)))
	if !orgType.Valid() {
		return nil, apperr.E(apperr.BadRequest, "type must be one of brand, supplier")
	}
	profileID := strings.TrimSpace(in.ProfileID)
	if profileID == "" {
		return nil, apperr.E(apperr.BadRequest, "profile_id is required")
	}
	profile := models.BrandProfile(profileID)
	if orgType == models.OrganisationSupplier {
		profile = models.SupplierProfile(profileID)
	}

	base := Slugify(name)
	slug := base
	for attempt := 0; attempt < maxSlugAttempts; attempt++ {
		if attempt > 0 || s.slugTaken(ctx, slug) {
			suffix, err := utils.GenerateSlugSuffix()
			if err != nil {
				return nil, apperr.Internal(err)
			}
			slug = base + "-" + suffix
		}

		org := &models.Organisation{Name: name, Slug: slug, Type: orgType, Profile: profile}
		owner := &models.Membership{UserID: auth.UserID}
		err := s.store.CreateOrganisation(ctx, org, owner)
		if err == nil {
			s.logger.Info("organisation created",
				zap.String("organisation_id", org.ID),
				zap.String("slug", org.Slug),
				zap.String("type", string(org.Type)),
				zap.String("owner_id", auth.UserID),
			)
			return &models.UserOrganisation{Organisation: *org, Role: owner.Role, JoinedAt: owner.JoinedAt}, nil
		}
		if !errors.Is(err, database.ErrDuplicate) {
			return nil, storeError(err, "user not found")
		}
		// a duplicate with a free slug means the profile is taken
		if !s.slugTaken(ctx, slug) {
			return nil, apperr.Wrap(apperr.Conflict, err, "this %s profile has already been claimed", orgType)
		}
	}
	return nil, apperr.E(apperr.Conflict, "could not allocate a unique slug for %q", name)
}

func (s *Service) slugTaken(ctx context.Context, slug string) bool {
	taken, err := s.store.SlugExists(ctx, slug)
	if err != nil {
		s.logger.Warn("slug lookup failed", zap.String("slug", slug), zap.Error(err))
		return false
	}
	return taken
}

// ListMyOrganisations lists every organisation the caller belongs to with the caller's role.
func (s *Service) ListMyOrganisations(ctx context.Context, auth models.AuthContext) ([]models.UserOrganisation, error) {
	if err := requireAuth(auth); err != nil {
		return nil, err
	}
	list, err := s.store.ListUserOrganisations(ctx, auth.UserID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	if list == nil {
		list = []models.UserOrganisation{}
	}
	return list, nil
}

// GetOrganisation returns one organisation the caller belongs to.
func (s *Service) GetOrganisation(ctx context.Context, auth models.AuthContext, orgID string) (*models.UserOrganisation, error) {
	if err := requireAuth(auth); err != nil {
		return nil, err
	}
	org, m, err := s.membership(ctx, orgID, auth.UserID)
	if err != nil {
		return nil, err
	}
	return &models.UserOrganisation{Organisation: *org, Role: m.Role, JoinedAt: m.JoinedAt}, nil
}
