package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"clinical-workflow-server/internal/middleware"
	"clinical-workflow-server/internal/services"
	"clinical-workflow-server/internal/utils"
)

// MedicalRecordHandler handles medical record related requests.
type MedicalRecordHandler struct {
	records *services.MedicalRecordService
}

// NewMedicalRecordHandler creates a new MedicalRecordHandler.
func NewMedicalRecordHandler(records *services.MedicalRecordService) *MedicalRecordHandler {
	return &MedicalRecordHandler{records: records}
}

// CreateMedicalRecord handles creating a new medical record. The record
// starts in the Pending status.
func (h *MedicalRecordHandler) CreateMedicalRecord(c *gin.Context) {
	var req services.CreateRecordInput
	if !utils.BindJSON(c, &req) {
		return
	}

	view, err := h.records.CreateRecord(c.Request.Context(), middleware.GetActorFromContext(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	utils.Created(c, "Medical record created successfully", view)
}

// GetMedicalRecords handles the filtered, paginated record list.
func (h *MedicalRecordHandler) GetMedicalRecords(c *gin.Context) {
	var q services.ListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		utils.BadRequest(c, "Invalid query parameters: "+err.Error())
		return
	}

	page, err := h.records.ListRecords(c.Request.Context(), middleware.GetActorFromContext(c), q)
	if err != nil {
		respondError(c, err)
		return
	}
	utils.Success(c, "Medical records fetched successfully", page)
}

// GetStatistics handles the dashboard counters.
func (h *MedicalRecordHandler) GetStatistics(c *gin.Context) {
	stats, err := h.records.Statistics(c.Request.Context(), middleware.GetActorFromContext(c))
	if err != nil {
		respondError(c, err)
		return
	}
	utils.Success(c, "Statistics fetched successfully", stats)
}

// GetMedicalRecordByID returns the record with its patient, current status
// and status history.
func (h *MedicalRecordHandler) GetMedicalRecordByID(c *gin.Context) {
	view, err := h.records.GetRecord(c.Request.Context(), c.Param("id"), middleware.GetActorFromContext(c))
	if err != nil {
		respondError(c, err)
		return
	}
	utils.Success(c, "Medical record fetched successfully", view)
}

// UpdateMedicalRecord handles partial updates. Diagnosis and treatment are
// doctor-only; a request carrying them from staff is rejected whole.
func (h *MedicalRecordHandler) UpdateMedicalRecord(c *gin.Context) {
	var req services.UpdateRecordInput
	if !utils.BindJSON(c, &req) {
		return
	}

	view, err := h.records.UpdateRecord(c.Request.Context(), c.Param("id"), middleware.GetActorFromContext(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	utils.Success(c, "Medical record updated successfully", view)
}

// DeleteMedicalRecord handles deleting a medical record and its history.
func (h *MedicalRecordHandler) DeleteMedicalRecord(c *gin.Context) {
	if err := h.records.DeleteRecord(c.Request.Context(), c.Param("id"), middleware.GetActorFromContext(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, utils.ResponseData{
		Status:  http.StatusOK,
		Message: "Medical record deleted successfully",
	})
}

// StartConsultation moves a Pending record to Attending. Doctors only.
func (h *MedicalRecordHandler) StartConsultation(c *gin.Context) {
	view, err := h.records.StartConsultation(c.Request.Context(), c.Param("id"), middleware.GetActorFromContext(c))
	if err != nil {
		respondError(c, err)
		return
	}
	utils.Success(c, "Consultation started successfully", view)
}

// CompleteConsultation records the outcome of an Attending record. Doctors only.
func (h *MedicalRecordHandler) CompleteConsultation(c *gin.Context) {
	var req services.CompleteConsultationInput
	if !utils.BindJSON(c, &req) {
		return
	}

	view, err := h.records.CompleteConsultation(c.Request.Context(), c.Param("id"), middleware.GetActorFromContext(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	utils.Success(c, "Consultation completed successfully", view)
}

// GetStatusHistory returns the record's status changes, newest first.
func (h *MedicalRecordHandler) GetStatusHistory(c *gin.Context) {
	changes, err := h.records.GetStatusHistory(c.Request.Context(), c.Param("id"), middleware.GetActorFromContext(c))
	if err != nil {
		respondError(c, err)
		return
	}
	utils.Success(c, "Status history fetched successfully", changes)
}
