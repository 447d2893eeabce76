package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"kindred-collective-backend/pkg/apperr"
	"kindred-collective-backend/pkg/utils"

	"go.uber.org/zap"
)

// Recovery 恢复中间件，处理panic并返回统一的错误响应
// showDetails 为 true（开发环境）时在响应中附带 panic 信息
func Recovery(logger *zap.Logger, showDetails bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				stack := debug.Stack()
				logger.Error("panic recovered",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
					zap.ByteString("stack", stack),
				)

				details := ""
				if showDetails {
					details = fmt.Sprintf("%v", rec)
				}
				utils.WriteErrorResponseWithCode(w, http.StatusInternalServerError,
					string(apperr.ServerError), "Internal server error occurred", details)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
