package handlers

import (
	"fmt"
	"hash/fnv"
	"net/http"

	"kindred-collective-backend/pkg/middleware"
	"kindred-collective-backend/pkg/models"
	"kindred-collective-backend/pkg/orgs"
	"kindred-collective-backend/pkg/utils"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// OrgsHandler serves organisations, their members and invites.
type OrgsHandler struct {
	service *orgs.Service
	logger  *zap.Logger
}

func NewOrgsHandler(service *orgs.Service, logger *zap.Logger) *OrgsHandler {
	return &OrgsHandler{service: service, logger: logger}
}

// GET /api/organisations
func (h *OrgsHandler) ListMyOrganisations(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListMyOrganisations(r.Context(), middleware.GetAuthContext(r))
	if err != nil {
		utils.WriteAppError(w, h.logger, err)
		return
	}

	etag := organisationsETag(middleware.GetAuthContext(r).UserID, list)
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"organisations": list})
}

// organisationsETag is a weak validator over ids, roles and the newest update.
func organisationsETag(userID string, list []models.UserOrganisation) string {
	var maxUpdated int64
	fp := fnv.New32a()
	for _, o := range list {
		if ts := o.UpdatedAt.UnixMilli(); ts > maxUpdated {
			maxUpdated = ts
		}
		fmt.Fprintf(fp, "%s:%s;", o.ID, o.Role)
	}
	return fmt.Sprintf("W/\"orgs:%s:%d:%d:%08x\"", userID, len(list), maxUpdated, fp.Sum32())
}

// POST /api/organisations
func (h *OrgsHandler) CreateOrganisation(w http.ResponseWriter, r *http.Request) {
	var req orgs.CreateOrganisationInput
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid request body")
		return
	}
	org, err := h.service.CreateOrganisation(r.Context(), middleware.GetAuthContext(r), req)
	if err != nil {
		utils.WriteAppError(w, h.logger, err)
		return
	}
	utils.WriteCreatedResponse(w, map[string]interface{}{"organisation": org})
}

// GET /api/organisations/{orgId}
func (h *OrgsHandler) GetOrganisation(w http.ResponseWriter, r *http.Request) {
	org, err := h.service.GetOrganisation(r.Context(), middleware.GetAuthContext(r), chi.URLParam(r, "orgId"))
	if err != nil {
		utils.WriteAppError(w, h.logger, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"organisation": org})
}

// GET /api/organisations/{orgId}/members
func (h *OrgsHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.service.ListMembers(r.Context(), middleware.GetAuthContext(r), chi.URLParam(r, "orgId"))
	if err != nil {
		utils.WriteAppError(w, h.logger, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"members": members})
}

// DELETE /api/organisations/{orgId}/members/{userId}
func (h *OrgsHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	orgID, userID := chi.URLParam(r, "orgId"), chi.URLParam(r, "userId")
	if err := h.service.RemoveMember(r.Context(), middleware.GetAuthContext(r), orgID, userID); err != nil {
		utils.WriteAppError(w, h.logger, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"removed": userID})
}

// PUT /api/organisations/{orgId}/members/{userId}/role
func (h *OrgsHandler) ChangeMemberRole(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Role string `json:"role"`
	}
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid request body")
		return
	}
	m, err := h.service.ChangeMemberRole(r.Context(), middleware.GetAuthContext(r),
		chi.URLParam(r, "orgId"), chi.URLParam(r, "userId"), req.Role)
	if err != nil {
		utils.WriteAppError(w, h.logger, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"membership": m})
}

// POST /api/organisations/{orgId}/transfer
func (h *OrgsHandler) TransferOwnership(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NewOwnerID string `json:"newOwnerId"`
	}
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid request body")
		return
	}
	if req.NewOwnerID == "" {
		utils.WriteBadRequestResponse(w, "newOwnerId is required")
		return
	}
	orgID := chi.URLParam(r, "orgId")
	if err := h.service.TransferOwnership(r.Context(), middleware.GetAuthContext(r), orgID, req.NewOwnerID); err != nil {
		utils.WriteAppError(w, h.logger, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"owner": req.NewOwnerID})
}

// orgSelector reads the organisation from the path, falling back to ?orgId=.
// Empty means "the caller's only organisation".
func orgSelector(r *http.Request) string {
	if id := chi.URLParam(r, "orgId"); id != "" {
		return id
	}
	return r.URL.Query().Get("orgId")
}

// POST /api/organisations/{orgId}/invites, POST /api/me/organisation/invite
func (h *OrgsHandler) CreateInvite(w http.ResponseWriter, r *http.Request) {
	var req orgs.CreateInviteInput
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid request body")
		return
	}
	if sel := orgSelector(r); sel != "" {
		req.OrganisationID = sel
	}
	result, err := h.service.CreateInvite(r.Context(), middleware.GetAuthContext(r), req)
	if err != nil {
		utils.WriteAppError(w, h.logger, err)
		return
	}
	utils.WriteCreatedResponse(w, result)
}

// GET /api/organisations/{orgId}/invites, GET /api/me/organisation/invite
func (h *OrgsHandler) ListInvites(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListInvites(r.Context(), middleware.GetAuthContext(r), orgSelector(r))
	if err != nil {
		utils.WriteAppError(w, h.logger, err)
		return
	}
	utils.WriteSuccessResponse(w, list)
}
