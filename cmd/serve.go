package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"clinical-workflow-server/internal/broadcast"
	"clinical-workflow-server/internal/middleware"
	"clinical-workflow-server/internal/routes"
	"clinical-workflow-server/internal/services"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and websocket server",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}

		hub := broadcast.NewHub(cfg.Origin, log)
		transport := broadcast.Transport(hub)
		if webhook := webhookTransport(); webhook != nil {
			transport = broadcast.MultiTransport{hub, webhook}
		}
		broadcaster := broadcast.New(transport, broadcastOptions(), log)
		broadcaster.Start()

		records := services.NewMedicalRecordService(db, broadcaster, log)

		if cfg.IsProduction() {
			gin.SetMode(gin.ReleaseMode)
		}
		router := gin.New()
		router.Use(middleware.RequestID(), middleware.Logger(log), middleware.Recovery(log))

		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = []string{cfg.Origin}
		corsConfig.AllowCredentials = true
		corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"}
		router.Use(cors.New(corsConfig))

		routes.SetupRoutes(router, db, cfg, records, hub)

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%s", cfg.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() {
			log.Info().Str("addr", srv.Addr).Str("env", cfg.Environment).Msg("server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case <-ctx.Done():
			log.Info().Msg("shutting down")
		case err := <-errCh:
			if err != nil {
				broadcaster.Stop()
				hub.Close()
				return fmt.Errorf("serving: %w", err)
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http shutdown")
		}

		broadcaster.Stop()
		hub.Close()

		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
