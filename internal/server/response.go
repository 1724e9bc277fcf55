package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"juris-rag/internal/models"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func respondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.AbortWithStatusJSON(status, ErrorEnvelope{Error: APIError{Message: msg, Code: code}})
}

// respondDomainError maps sentinel errors to HTTP statuses. Anything
// unrecognised is logged and hidden behind a generic 500.
func respondDomainError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		respondError(c, http.StatusBadRequest, "invalid_input", err)
	case errors.Is(err, models.ErrNotFound):
		respondError(c, http.StatusNotFound, "not_found", err)
	case errors.Is(err, models.ErrRequestInProgress):
		respondError(c, http.StatusConflict, "request_in_progress", err)
	case errors.Is(err, models.ErrProviderFailure):
		log.Error().Err(err).Str("path", c.FullPath()).Msg("Provider failure")
		respondError(c, http.StatusBadGateway, "provider_failure", errors.New("the language model provider is unavailable, retry later"))
	default:
		log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
		respondError(c, http.StatusInternalServerError, "internal", errors.New("internal error"))
	}
}
