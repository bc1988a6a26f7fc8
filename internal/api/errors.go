package api

import (
	"errors"
	"net/http"

	"github.com/Gammanik/livestore/internal/store"
)

// Error ошибка, видимая клиенту, с соответствующим HTTP кодом
type Error struct {
	HTTPStatus int
	Message    string
}

var (
	// ErrResourceNotFound путь отсутствует или префикс пуст
	ErrResourceNotFound = &Error{
		HTTPStatus: http.StatusNotFound,
		Message:    "Resource not found",
	}
	// ErrUploadNotFound неизвестный идентификатор загрузки
	ErrUploadNotFound = &Error{
		HTTPStatus: http.StatusNotFound,
		Message:    "Upload not found",
	}
	// ErrMissingPath запрос истории загрузок без параметра path
	ErrMissingPath = &Error{
		HTTPStatus: http.StatusBadRequest,
		Message:    "Missing path query parameter",
	}
	// ErrMethodNotAllowed метод не поддерживается для этого маршрута
	ErrMethodNotAllowed = &Error{
		HTTPStatus: http.StatusMethodNotAllowed,
		Message:    "Method not allowed",
	}
	// ErrInternal непредвиденная ошибка сервера
	ErrInternal = &Error{
		HTTPStatus: http.StatusInternalServerError,
		Message:    "Internal server error",
	}
)

func (e *Error) Error() string {
	return e.Message
}

// renderError приводит ошибку к ответу клиенту
func renderError(w http.ResponseWriter, err error) {
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr):
	case errors.Is(err, store.ErrNotFound):
		apiErr = ErrResourceNotFound
	default:
		log.WithError(err).Error("Unexpected error")
		apiErr = ErrInternal
	}
	http.Error(w, apiErr.Message, apiErr.HTTPStatus)
}
