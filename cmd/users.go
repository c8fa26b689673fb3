package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"clinical-workflow-server/internal/models"
	"clinical-workflow-server/internal/utils"
)

var (
	userName  string
	userEmail string
	userRole  string
	userID    string
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage the users operations can act as",
}

var usersCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		role := models.Role(strings.ToLower(userRole))
		if !role.Valid() {
			return fmt.Errorf("role must be %q or %q, got %q", models.RoleStaff, models.RoleDoctor, userRole)
		}
		if strings.TrimSpace(userName) == "" || strings.TrimSpace(userEmail) == "" {
			return errors.New("--name and --email are required")
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		user := models.User{
			Name:  strings.TrimSpace(userName),
			Email: strings.ToLower(strings.TrimSpace(userEmail)),
			Role:  role,
		}
		if err := db.WithContext(cmd.Context()).Create(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("user with email %s already exists", user.Email)
			}
			return fmt.Errorf("creating user: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", user.ID, user.Role, user.Email)
		return nil
	},
}

var usersTokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer token for a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		if userID == "" && userEmail == "" {
			return errors.New("one of --id or --email is required")
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		q := db.WithContext(cmd.Context())
		if userID != "" {
			q = q.Where("id = ?", userID)
		} else {
			q = q.Where("email = ?", strings.ToLower(strings.TrimSpace(userEmail)))
		}

		var user models.User
		if err := q.First(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errors.New("user not found")
			}
			return fmt.Errorf("finding user: %w", err)
		}

		ttl := time.Duration(cfg.JWTExpirationMinutes) * time.Minute
		token, expiresAt, err := utils.GenerateToken(&user, cfg.JWTSecret, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		log.Info().Str("user_id", user.ID).Time("expires_at", expiresAt).Msg("token issued")
		return nil
	},
}

func init() {
	usersCreateCmd.Flags().StringVar(&userName, "name", "", "display name")
	usersCreateCmd.Flags().StringVar(&userEmail, "email", "", "unique email")
	usersCreateCmd.Flags().StringVar(&userRole, "role", string(models.RoleStaff), "staff or doctor")

	usersTokenCmd.Flags().StringVar(&userID, "id", "", "user id")
	usersTokenCmd.Flags().StringVar(&userEmail, "email", "", "user email")

	usersCmd.AddCommand(usersCreateCmd, usersTokenCmd)
	rootCmd.AddCommand(usersCmd)
}
