// Package server provides the HTTP REST API for the content factory.
package server

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/jonathan/content-factory/internal/llm"
	"github.com/jonathan/content-factory/internal/pipeline"
	"github.com/jonathan/content-factory/internal/store"
)

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Message string
}

func (e *ErrValidation) Error() string {
	return e.Message
}

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	var notFound *store.ErrNotFound
	if errors.As(err, &notFound) {
		return http.StatusNotFound
	}
	var validation *ErrValidation
	if errors.As(err, &validation) {
		return http.StatusBadRequest
	}
	var fieldErrors validator.ValidationErrors
	if errors.As(err, &fieldErrors) {
		return http.StatusBadRequest
	}
	var configErr *pipeline.ConfigurationError
	if errors.As(err, &configErr) {
		return http.StatusUnprocessableEntity
	}
	var upstream *llm.UpstreamError
	if errors.As(err, &upstream) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
