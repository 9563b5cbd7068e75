package handler

import (
	"net/http"

	"z-class-ai-api/internal/interfaces/http/dto"
	"z-class-ai-api/pkg/errors"
	"z-class-ai-api/pkg/logger"

	"github.com/gin-gonic/gin"
)

// respondError 将错误映射为统一错误响应
// 非 AppError 视为内部错误，msg 作为对外消息
func respondError(c *gin.Context, err error, msg string) {
	ctx := c.Request.Context()
	if !errors.IsAppError(err) {
		logger.Error(ctx, msg, err)
		dto.InternalError(c, msg)
		return
	}

	appErr := errors.AsAppError(err)
	if appErr.HTTPStatus >= http.StatusInternalServerError {
		logger.Error(ctx, msg, err, "code", string(appErr.Code))
	}
	dto.ErrorWithDetail(c, appErr.HTTPStatus, appErr.Message, &dto.ErrorDetail{
		ErrorCode: string(appErr.Code),
		Details:   appErr.Detail,
	})
}
