package handlers

import (
	"net/http"

	"kindred-collective-backend/pkg/middleware"
	"kindred-collective-backend/pkg/orgs"
	"kindred-collective-backend/pkg/utils"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// InvitesHandler serves the invite link endpoints.
type InvitesHandler struct {
	service *orgs.Service
	logger  *zap.Logger
}

func NewInvitesHandler(service *orgs.Service, logger *zap.Logger) *InvitesHandler {
	return &InvitesHandler{service: service, logger: logger}
}

// POST /api/invites/accept
func (h *InvitesHandler) Accept(w http.ResponseWriter, r *http.Request) {
	var req struct {
		InviteToken string `json:"inviteToken"`
	}
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid request body")
		return
	}
	m, err := h.service.AcceptInvite(r.Context(), middleware.GetAuthContext(r), req.InviteToken)
	if err != nil {
		utils.WriteAppError(w, h.logger, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"membership": m})
}

// GET /api/invites/{token}, public
func (h *InvitesHandler) Preview(w http.ResponseWriter, r *http.Request) {
	preview, err := h.service.PreviewInvite(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		utils.WriteAppError(w, h.logger, err)
		return
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{"invite": preview})
}
