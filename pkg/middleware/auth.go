package middleware

import (
	"context"
	"net/http"
	"strings"

	"kindred-collective-backend/pkg/models"
	"kindred-collective-backend/pkg/utils"

	"go.uber.org/zap"
)

// ContextKey 用于在context中存储认证信息的键
type ContextKey string

const (
	AuthContextKey ContextKey = "auth"
)

// TokenValidator 校验访问令牌，*utils.JWTService 实现此接口
type TokenValidator interface {
	ValidateAccessToken(token string) (*models.TokenClaims, error)
}

// AuthMiddleware JWT认证中间件；请求通过后 context 中带有 models.AuthContext
func AuthMiddleware(tokens TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				utils.WriteUnauthorizedResponse(w, "Missing authorization header")
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader || tokenString == "" {
				utils.WriteUnauthorizedResponse(w, "Invalid authorization header format")
				return
			}

			claims, err := tokens.ValidateAccessToken(tokenString)
			if err != nil {
				logger.Debug("token rejected", zap.String("path", r.URL.Path), zap.Error(err))
				utils.WriteUnauthorizedResponse(w, "Invalid or expired token")
				return
			}

			auth := models.AuthContext{
				UserID: claims.UserID,
				Email:  claims.Email,
				Claims: claims,
			}
			next.ServeHTTP(w, r.WithContext(WithAuthContext(r.Context(), auth)))
		})
	}
}

// WithAuthContext 将认证信息写入 context
func WithAuthContext(ctx context.Context, auth models.AuthContext) context.Context {
	return context.WithValue(ctx, AuthContextKey, auth)
}

// GetAuthContext 从请求中取出认证信息；未认证时返回零值
func GetAuthContext(r *http.Request) models.AuthContext {
	auth, _ := r.Context().Value(AuthContextKey).(models.AuthContext)
	return auth
}
