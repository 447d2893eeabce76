package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// CORS 创建CORS中间件
// 目录前端与后台管理页面跨域调用；"*" 时不允许携带凭据
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	options := cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders: []string{
			"Accept",
			"Authorization",
			"Content-Type",
			"If-None-Match",
			"X-Requested-With",
		},
		ExposedHeaders:   []string{"ETag"},
		AllowCredentials: true,
		MaxAge:           300, // 5分钟
	}

	if len(allowedOrigins) == 0 || contains(allowedOrigins, "*") {
		options.AllowedOrigins = []string{"*"}
		options.AllowCredentials = false
	}

	return cors.Handler(options)
}

// contains 检查切片是否包含指定的字符串
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
