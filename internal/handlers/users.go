package handlers

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"clinical-workflow-server/internal/config"
	"clinical-workflow-server/internal/middleware"
	"clinical-workflow-server/internal/models"
	"clinical-workflow-server/internal/utils"
)

// UserHandler lists users and switches the acting user.
type UserHandler struct {
	DB  *gorm.DB
	cfg *config.Config
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(db *gorm.DB, cfg *config.Config) *UserHandler {
	return &UserHandler{DB: db, cfg: cfg}
}

// SwitchUserRequest selects the user to act as.
type SwitchUserRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

// SwitchUserResponse carries the token for the selected user.
type SwitchUserResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

// GetUsers handles fetching every user that can be acted as.
func (h *UserHandler) GetUsers(c *gin.Context) {
	var users []models.User
	if err := h.DB.WithContext(c.Request.Context()).Order("role").Order("name").Find(&users).Error; err != nil {
		utils.InternalServerError(c, "Failed to fetch users: "+err.Error())
		return
	}
	utils.Success(c, "Users fetched successfully", users)
}

// SwitchUser issues a token acting as the requested user.
func (h *UserHandler) SwitchUser(c *gin.Context) {
	var req SwitchUserRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	var user models.User
	if err := h.DB.WithContext(c.Request.Context()).First(&user, "id = ?", req.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.NotFound(c, "User not found")
		} else {
			utils.InternalServerError(c, "Database error: "+err.Error())
		}
		return
	}

	ttl := time.Duration(h.cfg.JWTExpirationMinutes) * time.Minute
	token, expiresAt, err := utils.GenerateToken(&user, h.cfg.JWTSecret, ttl)
	if err != nil {
		utils.InternalServerError(c, err.Error())
		return
	}
	utils.Success(c, "Switched to "+user.Name, SwitchUserResponse{Token: token, ExpiresAt: expiresAt, User: &user})
}

// GetCurrentUser returns the user resolved for this request.
func (h *UserHandler) GetCurrentUser(c *gin.Context) {
	user, ok := middleware.GetUserFromContext(c)
	if !ok {
		utils.Unauthorized(c, "No current user")
		return
	}
	utils.Success(c, "Current user fetched successfully", user)
}
