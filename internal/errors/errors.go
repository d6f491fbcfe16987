// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

// ErrorType 定义错误类型
type ErrorType string

const (
	// 通用错误类型
	ErrorTypeValidation ErrorType = "validation_error"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"

	// 数据加载与写入
	ErrorTypeLoadFailure  ErrorType = "load_failure"
	ErrorTypeWriteFailure ErrorType = "write_failure"

	// 拖拽排序
	ErrorTypeReorderRejected ErrorType = "reorder_rejected"
	ErrorTypeReorderFailure  ErrorType = "reorder_failure"
)

// AppError 应用程序错误结构
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
	Code    string // 用户友好的错误代码
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap 实现错误链接
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError 创建新的 AppError
func NewAppError(errType ErrorType, message string, originalError error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Err:     originalError,
		Code:    generateErrorCode(errType),
	}
}

// NewValidationError 创建验证错误
func NewValidationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeValidation, message, originalError)
}

// NewNotFoundError 创建未找到错误
func NewNotFoundError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeNotFound, message, originalError)
}

// NewConflictError 创建冲突错误
func NewConflictError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeConflict, message, originalError)
}

// NewLoadFailure 订阅或读取失败
func NewLoadFailure(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeLoadFailure, message, originalError)
}

// NewWriteFailure 创建、更新或删除失败
func NewWriteFailure(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeWriteFailure, message, originalError)
}

// NewReorderRejected 排序前置条件不满足（搜索中或已有排序在进行）
func NewReorderRejected(message string) *AppError {
	return NewAppError(ErrorTypeReorderRejected, message, nil)
}

// NewReorderFailure 批量写入顺序失败
func NewReorderFailure(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeReorderFailure, message, originalError)
}

// TypeOf 返回错误链中第一个 AppError 的类型
func TypeOf(err error) (ErrorType, bool) {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type, true
	}
	return "", false
}

func isType(err error, errType ErrorType) bool {
	t, ok := TypeOf(err)
	return ok && t == errType
}

// IsValidationError 检查是否为验证错误
func IsValidationError(err error) bool { return isType(err, ErrorTypeValidation) }

// IsNotFoundError 检查是否为未找到错误
func IsNotFoundError(err error) bool { return isType(err, ErrorTypeNotFound) }

// IsConflictError 检查是否为冲突错误
func IsConflictError(err error) bool { return isType(err, ErrorTypeConflict) }

// IsLoadFailure 检查是否为加载失败
func IsLoadFailure(err error) bool { return isType(err, ErrorTypeLoadFailure) }

// IsWriteFailure 检查是否为写入失败
func IsWriteFailure(err error) bool { return isType(err, ErrorTypeWriteFailure) }

// IsReorderRejected 检查排序是否被拒绝
func IsReorderRejected(err error) bool { return isType(err, ErrorTypeReorderRejected) }

// IsReorderFailure 检查是否为排序写入失败
func IsReorderFailure(err error) bool { return isType(err, ErrorTypeReorderFailure) }

// generateErrorCode 根据错误类型生成错误代码
func generateErrorCode(errType ErrorType) string {
	switch errType {
	case ErrorTypeValidation:
		return "VALIDATION_ERROR"
	case ErrorTypeNotFound:
		return "NOT_FOUND"
	case ErrorTypeConflict:
		return "CONFLICT"
	case ErrorTypeLoadFailure:
		return "LOAD_FAILURE"
	case ErrorTypeWriteFailure:
		return "WRITE_FAILURE"
	case ErrorTypeReorderRejected:
		return "REORDER_REJECTED"
	case ErrorTypeReorderFailure:
		return "REORDER_FAILURE"
	default:
		return "UNKNOWN_ERROR"
	}
}

// WrapError 包装现有错误
func WrapError(err error, message string, errType ErrorType) error {
	if err == nil {
		return nil
	}

	var appError *AppError
	if errors.As(err, &appError) {
		// 如果已经是 AppError，只更新消息
		return &AppError{
			Type:    appError.Type,
			Message: fmt.Sprintf("%s: %s", message, appError.Message),
			Err:     appError,
			Code:    appError.Code,
		}
	}

	// 否则创建新的 AppError
	return NewAppError(errType, message, err)
}
