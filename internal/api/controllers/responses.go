package controllers

import (
	"errors"
	"net/http"

	"github.com/datallboy/packman/internal/domain"
	"github.com/labstack/echo/v5"
)

var statusByKind = map[error]int{
	domain.ErrPackNotFound:          http.StatusNotFound,
	domain.ErrInvalidPackSize:       http.StatusUnprocessableEntity,
	domain.ErrInvalidDownloadTarget: http.StatusBadRequest,
	domain.ErrAlreadyInProgress:     http.StatusConflict,
	domain.ErrNetworkUnavailable:    http.StatusServiceUnavailable,
	domain.ErrInsufficientStorage:   http.StatusInsufficientStorage,
	domain.ErrVerificationFailed:    http.StatusUnprocessableEntity,
	domain.ErrInstallationFailed:    http.StatusInternalServerError,
	domain.ErrUnknown:               http.StatusInternalServerError,
}

// StatusFor maps an operation error onto an HTTP status.
func StatusFor(err error) int {
	if code, ok := statusByKind[domain.KindOf(err)]; ok {
		return code
	}
	return http.StatusInternalServerError
}

func errorResponse(c *echo.Context, err error, packID string) error {
	kind := domain.KindOf(err)
	detail := ErrorDetail{
		Kind:    domain.KindName(kind),
		PackID:  packID,
		Message: err.Error(),
	}

	var pe *domain.PackError
	if errors.As(err, &pe) {
		detail.PackID = pe.PackID
		detail.Message = pe.Message()
	}

	return c.JSON(StatusFor(err), ErrorBody{Error: detail})
}

func badRequest(c *echo.Context, packID, msg string) error {
	return c.JSON(http.StatusBadRequest, ErrorBody{Error: ErrorDetail{
		Kind:    domain.KindName(domain.ErrUnknown),
		PackID:  packID,
		Message: msg,
	}})
}
