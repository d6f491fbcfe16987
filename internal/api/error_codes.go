// internal/api/error_codes.go
package api

import (
	"net/http"

	apperrors "github.com/Corphon/ScreenplayStudio/internal/errors"
)

// API错误代码常量
const (
	// 通用错误
	ErrorValidation    = "VALIDATION_ERROR"
	ErrorNotFound      = "NOT_FOUND"
	ErrorConflict      = "CONFLICT"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorRateLimited   = "RATE_LIMITED"

	// 数据加载与写入
	ErrorLoadFailure  = "LOAD_FAILURE"
	ErrorWriteFailure = "WRITE_FAILURE"

	// 拖拽排序
	ErrorReorderRejected = "REORDER_REJECTED"
	ErrorReorderFailure  = "REORDER_FAILURE"
)

// errorStatus 错误类型对应的 HTTP 状态码和错误代码
func errorStatus(err error) (int, string) {
	errType, ok := apperrors.TypeOf(err)
	if !ok {
		return http.StatusInternalServerError, ErrorInternalError
	}

	switch errType {
	case apperrors.ErrorTypeValidation:
		return http.StatusBadRequest, ErrorValidation
	case apperrors.ErrorTypeNotFound:
		return http.StatusNotFound, ErrorNotFound
	case apperrors.ErrorTypeConflict:
		return http.StatusConflict, ErrorConflict
	case apperrors.ErrorTypeReorderRejected:
		return http.StatusConflict, ErrorReorderRejected
	case apperrors.ErrorTypeLoadFailure:
		return http.StatusServiceUnavailable, ErrorLoadFailure
	case apperrors.ErrorTypeWriteFailure:
		return http.StatusInternalServerError, ErrorWriteFailure
	case apperrors.ErrorTypeReorderFailure:
		return http.StatusInternalServerError, ErrorReorderFailure
	default:
		return http.StatusInternalServerError, ErrorInternalError
	}
}
