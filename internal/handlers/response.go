package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lijuuu/ContestBroadcastService/internal/apperr"
)

// WriteJSONResponse writes a JSON response
func WriteJSONResponse(c *gin.Context, data interface{}, status int) {
	c.JSON(status, gin.H{
		"status": "success",
		"data":   data,
	})
}

// WriteJSONError writes a JSON error response
func WriteJSONError(c *gin.Context, message string, status int) {
	c.AbortWithStatusJSON(status, gin.H{
		"status": "error",
		"error":  message,
	})
}

// WriteAppError maps err onto an HTTP status and writes its client-facing
// message.
func WriteAppError(c *gin.Context, err error) {
	WriteJSONError(c, apperr.Message(err), httpStatus(err))
}

func httpStatus(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindForbidden:
		return http.StatusConflict
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindMalformed:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
