package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/webrtc-studio/internal/middleware"
	"github.com/mossy-p/webrtc-studio/internal/models"
	"github.com/rs/zerolog/log"
)

const tokenTTL = 24 * time.Hour

// LoginRequest represents the login request body
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse represents the login response
type LoginResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

// Login handles user login and JWT generation
// For demo purposes, accepts any username/password combination
func Login(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body", Code: models.CodeBadRequest})
			return
		}

		// In production, validate against a user database
		userID := req.Username

		token, err := middleware.IssueToken(jwtSecret, userID, tokenTTL)
		if err != nil {
			log.Error().Err(err).Msg("Failed to sign token")
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to generate token", Code: models.CodeInternal})
			return
		}

		c.JSON(http.StatusOK, LoginResponse{
			Token:  token,
			UserID: userID,
		})
	}
}
