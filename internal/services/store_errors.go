// internal/services/store_errors.go
package services

import (
	"errors"
	"fmt"

	apperrors "github.com/Corphon/ScreenplayStudio/internal/errors"
	"github.com/Corphon/ScreenplayStudio/internal/storage"
)

// loadError 将存储读取错误映射为应用错误
func loadError(err error, what string) error {
	return mapStoreError(err, what, apperrors.NewLoadFailure)
}

// writeError 将存储写入错误映射为应用错误
func writeError(err error, what string) error {
	return mapStoreError(err, what, apperrors.NewWriteFailure)
}

func mapStoreError(err error, what string, fallback func(string, error) *apperrors.AppError) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return apperrors.NewNotFoundError(fmt.Sprintf("%s不存在", what), err)
	case errors.Is(err, storage.ErrInvalidPath):
		return apperrors.NewValidationError(fmt.Sprintf("%s路径无效", what), err)
	default:
		return fallback(fmt.Sprintf("%s操作失败", what), err)
	}
}

func validateIDs(ids ...string) error {
	for _, id := range ids {
		if err := storage.ValidateSegment(id); err != nil {
			return apperrors.NewValidationError(fmt.Sprintf("无效的ID: %q", id), err)
		}
	}
	return nil
}
