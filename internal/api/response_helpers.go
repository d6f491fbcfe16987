// internal/api/response_helpers.go
package api

import (
	"errors"
	"net/http"
	"time"

	apperrors "github.com/Corphon/ScreenplayStudio/internal/errors"
	"github.com/Corphon/ScreenplayStudio/internal/i18n"
	"github.com/gin-gonic/gin"
)

// APIResponse 标准API响应格式
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"` // 用于调试和追踪
}

// APIError 标准错误格式
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ResponseHelper 响应助手类
type ResponseHelper struct {
	catalog *i18n.Catalog
}

// NewResponseHelper 创建响应助手
func NewResponseHelper(catalog *i18n.Catalog) *ResponseHelper {
	return &ResponseHelper{catalog: catalog}
}

// Success 成功响应
func (rh *ResponseHelper) Success(c *gin.Context, data interface{}, message ...string) {
	rh.write(c, http.StatusOK, data, message...)
}

// Created 创建成功响应
func (rh *ResponseHelper) Created(c *gin.Context, data interface{}, message ...string) {
	rh.write(c, http.StatusCreated, data, message...)
}

func (rh *ResponseHelper) write(c *gin.Context, status int, data interface{}, message ...string) {
	response := &APIResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: rh.getRequestID(c),
	}
	if len(message) > 0 {
		response.Message = message[0]
	}
	c.JSON(status, response)
}

// Error 错误响应，message 为空时使用本地化的错误代码文案
func (rh *ResponseHelper) Error(c *gin.Context, statusCode int, errorCode, message string, details ...string) {
	if message == "" {
		message = rh.localizer(c).T("errors." + errorCode)
	}

	apiError := &APIError{
		Code:    errorCode,
		Message: message,
	}
	if len(details) > 0 {
		apiError.Details = details[0]
	}

	c.JSON(statusCode, &APIResponse{
		Success:   false,
		Error:     apiError,
		Timestamp: time.Now(),
		RequestID: rh.getRequestID(c),
	})
}

// FromError 按错误类型输出响应；内部原因不返回给客户端
func (rh *ResponseHelper) FromError(c *gin.Context, err error) {
	status, code := errorStatus(err)

	details := ""
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && status < http.StatusInternalServerError {
		details = appErr.Message
	}
	_ = c.Error(err)

	if details == "" {
		rh.Error(c, status, code, "")
		return
	}
	rh.Error(c, status, code, "", details)
}

// BadRequest 400错误响应
func (rh *ResponseHelper) BadRequest(c *gin.Context, details string) {
	rh.Error(c, http.StatusBadRequest, ErrorValidation, "", details)
}

// NotFound 404错误响应
func (rh *ResponseHelper) NotFound(c *gin.Context, details string) {
	rh.Error(c, http.StatusNotFound, ErrorNotFound, "", details)
}

// getRequestID 获取请求ID
func (rh *ResponseHelper) getRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// localizer 返回请求的本地化对象，未经过中间件时使用默认语言
func (rh *ResponseHelper) localizer(c *gin.Context) *i18n.Localizer {
	if v, ok := c.Get(localizerKey); ok {
		if loc, ok := v.(*i18n.Localizer); ok {
			return loc
		}
	}
	return i18n.NewLocalizer(rh.catalog, rh.catalog.DefaultLanguage())
}
