package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/webrtc-studio/internal/models"
	"github.com/rs/zerolog/log"
)

func statusFor(code string) int {
	switch code {
	case models.CodeRoomNotFound, models.CodeParticipantNotFound:
		return http.StatusNotFound
	case models.CodeRoomFull:
		return http.StatusConflict
	case models.CodeForbidden:
		return http.StatusForbidden
	case models.CodeBadRequest:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// respondError writes the {error, code} body for err. Unexpected errors are
// logged and hidden from the client.
func respondError(c *gin.Context, err error) {
	code := models.ErrorCode(err)
	status := statusFor(code)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
		msg = "Internal server error"
	}
	c.JSON(status, models.ErrorResponse{Error: msg, Code: code})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: msg, Code: models.CodeBadRequest})
}
