package routes

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"clinical-workflow-server/internal/broadcast"
	"clinical-workflow-server/internal/config"
	"clinical-workflow-server/internal/handlers"
	"clinical-workflow-server/internal/middleware"
	"clinical-workflow-server/internal/services"
)

// SetupRoutes configures the application routes.
func SetupRoutes(router *gin.Engine, db *gorm.DB, cfg *config.Config, records *services.MedicalRecordService, hub *broadcast.Hub) {
	userHandler := handlers.NewUserHandler(db, cfg)
	patientHandler := handlers.NewPatientHandler(db)
	medicalRecordHandler := handlers.NewMedicalRecordHandler(records)

	// Realtime record events
	router.GET("/ws/medical-records", hub.HandleConnect)

	// Public routes
	public := router.Group("/api/v1")
	{
		public.GET("/users", userHandler.GetUsers)
		public.POST("/users/switch", userHandler.SwitchUser)
	}

	// Routes acting on behalf of a resolved user
	private := router.Group("/api/v1")
	private.Use(middleware.AuthMiddleware(cfg, db))
	{
		private.GET("/users/current", userHandler.GetCurrentUser)

		patientRoutes := private.Group("/patients")
		{
			patientRoutes.POST("", patientHandler.CreatePatient)
			patientRoutes.GET("", patientHandler.GetPatients)
			patientRoutes.GET("/:id", patientHandler.GetPatientByID)
		}

		// Permission checks live in the service, per operation.
		medicalRecordRoutes := private.Group("/medical-records")
		{
			medicalRecordRoutes.POST("", medicalRecordHandler.CreateMedicalRecord)
			medicalRecordRoutes.GET("", medicalRecordHandler.GetMedicalRecords)
			medicalRecordRoutes.GET("/stats", medicalRecordHandler.GetStatistics)
			medicalRecordRoutes.GET("/:id", medicalRecordHandler.GetMedicalRecordByID)
			medicalRecordRoutes.PUT("/:id", medicalRecordHandler.UpdateMedicalRecord)
			medicalRecordRoutes.DELETE("/:id", medicalRecordHandler.DeleteMedicalRecord)
			medicalRecordRoutes.POST("/:id/start-consultation", medicalRecordHandler.StartConsultation)
			medicalRecordRoutes.PUT("/:id/consultation", medicalRecordHandler.CompleteConsultation)
			medicalRecordRoutes.GET("/:id/statuses", medicalRecordHandler.GetStatusHistory)
		}
	}

	// Simple health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "UP"})
	})
}
