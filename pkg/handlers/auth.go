package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"kindred-collective-backend/pkg/apperr"
	"kindred-collective-backend/pkg/config"
	"kindred-collective-backend/pkg/database"
	"kindred-collective-backend/pkg/models"
	"kindred-collective-backend/pkg/orgs"
	"kindred-collective-backend/pkg/utils"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 8

// AuthHandler 认证处理器
type AuthHandler struct {
	config  *config.Config
	store   database.Store
	jwt     *utils.JWTService
	service *orgs.Service
	logger  *zap.Logger
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(cfg *config.Config, store database.Store, jwt *utils.JWTService, service *orgs.Service, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		config:  cfg,
		store:   store,
		jwt:     jwt,
		service: service,
		logger:  logger,
	}
}

// registerResponse 注册成功后返回；InviteError 表示账号已创建但邀请未能接受
type registerResponse struct {
	models.UserLoginResponse
	InviteError *utils.APIError `json:"invite_error,omitempty"`
}

// Register 用户注册；携带 inviteToken 时注册后立即接受邀请
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req models.UserRegisterRequest
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid request body")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if !orgs.ValidEmail(req.Email) {
		utils.WriteBadRequestResponse(w, "A valid email is required")
		return
	}
	if len(req.Password) < minPasswordLength {
		utils.WriteBadRequestResponse(w, "Password must be at least 8 characters")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		utils.WriteAppError(w, h.logger, apperr.Internal(err))
		return
	}
	user := &models.User{
		Email:    req.Email,
		Password: string(hash),
		Name:     strings.TrimSpace(req.Name),
		JobTitle: strings.TrimSpace(req.JobTitle),
	}
	if err := h.store.CreateUser(r.Context(), user); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			utils.WriteAppError(w, h.logger, apperr.E(apperr.Conflict, "an account with this email already exists"))
			return
		}
		utils.WriteAppError(w, h.logger, apperr.Internal(err))
		return
	}
	h.logger.Info("user registered", zap.String("user_id", user.ID))

	resp, err := h.issueTokens(user)
	if err != nil {
		utils.WriteAppError(w, h.logger, err)
		return
	}
	out := registerResponse{UserLoginResponse: *resp}

	if token := strings.TrimSpace(req.InviteToken); token != "" {
		auth := models.AuthContext{UserID: user.ID, Email: user.Email}
		m, err := h.service.AcceptInvite(r.Context(), auth, token)
		if err != nil {
			kind := apperr.KindOf(err)
			if kind == apperr.ServerError {
				h.logger.Error("accept invite during signup", zap.String("user_id", user.ID), zap.Error(err))
			}
			out.InviteError = &utils.APIError{Code: string(kind), Message: apperr.MessageOf(err)}
		} else {
			out.Membership = m
		}
	}

	utils.WriteCreatedResponse(w, out)
}

// Login 邮箱密码登录
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.UserLoginRequest
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid request body")
		return
	}
	user, err := h.store.GetUserByEmail(r.Context(), strings.TrimSpace(req.Email))
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		utils.WriteAppError(w, h.logger, apperr.Internal(err))
		return
	}
	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)) != nil {
		utils.WriteUnauthorizedResponse(w, "Invalid email or password")
		return
	}

	resp, err := h.issueTokens(user)
	if err != nil {
		utils.WriteAppError(w, h.logger, err)
		return
	}
	utils.WriteSuccessResponse(w, resp)
}

func (h *AuthHandler) issueTokens(user *models.User) (*models.UserLoginResponse, error) {
	access, refresh, expiresIn, err := h.jwt.GenerateTokenPair(user.ID, user.Email)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return &models.UserLoginResponse{
		User:         *user,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    expiresIn,
	}, nil
}

// RefreshToken 刷新访问令牌
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req models.RefreshTokenRequest
	if err := utils.ParseJSONBody(r, &req); err != nil {
		utils.WriteBadRequestResponse(w, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		utils.WriteBadRequestResponse(w, "refresh_token is required")
		return
	}

	accessToken, expiresIn, err := h.jwt.RefreshAccessToken(req.RefreshToken)
	if err != nil {
		utils.WriteUnauthorizedResponse(w, "Invalid or expired refresh token")
		return
	}

	utils.WriteSuccessResponse(w, map[string]interface{}{
		"access_token": accessToken,
		"expires_in":   expiresIn,
	})
}

// HealthCheck 健康检查
func (h *AuthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	dbStatus := "healthy"
	if err := h.store.HealthCheck(ctx); err != nil {
		h.logger.Warn("database health check failed", zap.Error(err))
		dbStatus = "unhealthy"
	}

	utils.WriteSuccessResponse(w, map[string]interface{}{
		"service":     "kindred-collective-backend",
		"version":     "1.0.0",
		"environment": h.config.Environment,
		"database":    h.config.DatabaseType(),
		"db_status":   dbStatus,
		"timestamp":   time.Now().Unix(),
		"status":      "healthy",
	})
}
