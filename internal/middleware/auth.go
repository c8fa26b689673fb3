package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"clinical-workflow-server/internal/config"
	"clinical-workflow-server/internal/models"
	"clinical-workflow-server/internal/policy"
	"clinical-workflow-server/internal/utils"
)

const (
	userKey  = "user"
	actorKey = "actor"
)

// AuthMiddleware resolves the acting user. A bearer token selects the user;
// the user row is re-read on every request so role changes apply at once.
// Without a token, and when cfg.DefaultToStaff is set, the oldest staff user
// acts.
func AuthMiddleware(cfg *config.Config, db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var (
			user *models.User
			err  error
		)

		authHeader := c.GetHeader("Authorization")
		switch {
		case authHeader != "":
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				utils.Unauthorized(c, "Invalid authorization header format")
				c.Abort()
				return
			}
			claims, verr := utils.ValidateToken(parts[1], cfg.JWTSecret)
			if verr != nil {
				utils.Unauthorized(c, "Invalid token: "+verr.Error())
				c.Abort()
				return
			}
			user, err = findUser(db.WithContext(c.Request.Context()), claims.UserID)
		case cfg.DefaultToStaff:
			user, err = DefaultStaffUser(db.WithContext(c.Request.Context()))
		default:
			utils.Unauthorized(c, "Authorization header required")
			c.Abort()
			return
		}

		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.Unauthorized(c, policy.ReasonNotAuthenticated)
			c.Abort()
			return
		}
		if err != nil {
			utils.InternalServerError(c, "Failed to resolve current user")
			c.Abort()
			return
		}

		c.Set(userKey, user)
		c.Set(actorKey, policy.Actor{ID: user.ID, Role: user.Role})
		c.Next()
	}
}

// DefaultStaffUser returns the oldest staff user.
func DefaultStaffUser(db *gorm.DB) (*models.User, error) {
	var user models.User
	if err := db.Where("role = ?", models.RoleStaff).Order("created_at").First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func findUser(db *gorm.DB, id string) (*models.User, error) {
	var user models.User
	if err := db.First(&user, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// GetActorFromContext returns the actor resolved by AuthMiddleware. The zero
// Actor is returned when none was resolved; policies refuse it.
func GetActorFromContext(c *gin.Context) policy.Actor {
	v, exists := c.Get(actorKey)
	if !exists {
		return policy.Actor{}
	}
	actor, _ := v.(policy.Actor)
	return actor
}

// GetUserFromContext returns the user resolved by AuthMiddleware.
func GetUserFromContext(c *gin.Context) (*models.User, bool) {
	v, exists := c.Get(userKey)
	if !exists {
		return nil, false
	}
	user, ok := v.(*models.User)
	return user, ok
}
