package utils

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const genericServerError = "An unexpected error occurred. Please try again later."

// SendJSONError sends a standardized JSON error response and logs the internal error.
// For 5xx errors the client only sees a generic message unless publicMsg is set
// to something other than the internal error text.
func SendJSONError(c *gin.Context, statusCode int, publicMsg string, internalError error, details ...string) {
	SendJSONErrorWith(c, statusCode, publicMsg, internalError, nil, details...)
}

// SendJSONErrorWith is SendJSONError with extra response fields.
func SendJSONErrorWith(c *gin.Context, statusCode int, publicMsg string, internalError error, extra gin.H, details ...string) {
	errorDetails := ""
	if len(details) > 0 {
		errorDetails = details[0]
	}

	if statusCode >= http.StatusInternalServerError {
		if publicMsg == "" || (internalError != nil && publicMsg == internalError.Error()) {
			publicMsg = genericServerError
		}
	}

	response := gin.H{"error": publicMsg}
	if errorDetails != "" {
		response["details"] = errorDetails
	}
	for k, v := range extra {
		response[k] = v
	}

	event := log.Info()
	if internalError != nil {
		event = log.Error().Err(internalError)
	}
	event.
		Str("component", "Handler").
		Int("status_code", statusCode).
		Str("public_message", publicMsg).
		Str("details", errorDetails).
		Str("path", c.Request.URL.Path).
		Msg("error response")

	c.AbortWithStatusJSON(statusCode, response)
}
