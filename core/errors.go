package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	KitErrorBadInput           = "KIT_BAD_INPUT"
	KitErrorStorageRead        = "STORAGE_READ_FAILED"
	KitErrorStorageWrite       = "STORAGE_WRITE_FAILED"
	KitErrorAuthExchangeFailed = "AUTH_EXCHANGE_FAILED"
	KitErrorTokenRefreshFailed = "TOKEN_REFRESH_FAILED"
	KitErrorRecurrenceSkipped  = "RECURRENCE_SKIPPED"
	KitErrorNotFound           = "KIT_NOT_FOUND"
	KitErrorInternal           = "KIT_INTERNAL_ERROR"
)

func kitErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureKitErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "read obligation") || strings.Contains(msg, "read credential") || strings.Contains(msg, "load record"):
		return newKitError(err.Error(), goerrors.CategoryExternal, KitErrorStorageRead)
	case strings.Contains(msg, "persist") || strings.Contains(msg, "write record"):
		return newKitError(err.Error(), goerrors.CategoryExternal, KitErrorStorageWrite)
	case strings.Contains(msg, "exchange"):
		return newKitError(err.Error(), goerrors.CategoryAuth, KitErrorAuthExchangeFailed)
	case strings.Contains(msg, "refresh"):
		return newKitError(err.Error(), goerrors.CategoryAuth, KitErrorTokenRefreshFailed)
	case strings.Contains(msg, "not found"):
		return newKitError(err.Error(), goerrors.CategoryNotFound, KitErrorNotFound)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return newKitError(err.Error(), goerrors.CategoryBadInput, KitErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureKitErrorEnvelope(mapped)
}

func newKitError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureKitErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureKitErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = kitHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultKitTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultKitTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return KitErrorBadInput
	case goerrors.CategoryNotFound:
		return KitErrorNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return KitErrorAuthExchangeFailed
	case goerrors.CategoryExternal:
		return KitErrorStorageRead
	default:
		return KitErrorInternal
	}
}

func kitHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
