package cmd

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"clinical-workflow-server/internal/broadcast"
	"clinical-workflow-server/internal/config"
	"clinical-workflow-server/internal/logger"
	"clinical-workflow-server/internal/models"
)

var (
	envFile string

	cfg *config.Config
	log zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "clinic",
	Short: "Medical record workflow server",
	Long: `Runs the clinic API that tracks medical records through their
consultation workflow and pushes every change to realtime subscribers.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		envErr := godotenv.Load(envFile)

		var err error
		cfg, err = config.LoadConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		log = logger.New(cfg.Environment, cfg.LogLevel)
		if envErr != nil {
			log.Debug().Str("file", envFile).Msg("no env file loaded, using process environment")
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading configuration")
}

func openDB() (*gorm.DB, error) {
	db, err := models.InitDB(models.DatabaseConfig{
		Driver: cfg.Database.Driver,
		DSN:    cfg.Database.DSN,
		Debug:  cfg.LogLevel == "debug",
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return db, nil
}

func broadcastOptions() broadcast.Options {
	return broadcast.Options{
		Workers:     cfg.Broadcast.Workers,
		QueueSize:   cfg.Broadcast.QueueSize,
		SendTimeout: cfg.Broadcast.SendTimeout,
		MaxAttempts: cfg.Broadcast.MaxAttempts,
	}
}

// webhookTransport returns the configured webhook sink, or nil.
func webhookTransport() broadcast.Transport {
	if cfg.Broadcast.WebhookURL == "" {
		return nil
	}
	return broadcast.NewWebhookTransport(cfg.Broadcast.WebhookURL, nil)
}
