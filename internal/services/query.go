package services

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"gorm.io/gorm"

	"clinical-workflow-server/internal/apperr"
	"clinical-workflow-server/internal/models"
	"clinical-workflow-server/internal/policy"
	"clinical-workflow-server/internal/statuslog"
)

const (
	defaultPerPage = 10
	minPerPage     = 5
	maxPerPage     = 100
	dateLayout     = "2006-01-02"
)

// ListQuery holds the list view options.
type ListQuery struct {
	Page          int    `form:"page" json:"page"`
	PerPage       int    `form:"per_page" json:"per_page"`
	PatientFilter string `form:"patient_filter" json:"patient_filter"`
	DateFrom      string `form:"date_from" json:"date_from"`
	DateTo        string `form:"date_to" json:"date_to"`
	Status        string `form:"status" json:"status"`
	SortBy        string `form:"sort_by" json:"sort_by"`
	SortDirection string `form:"sort_direction" json:"sort_direction"`
}

func (q ListQuery) filterValues() map[string]string {
	return map[string]string{
		"patient_filter": strings.TrimSpace(q.PatientFilter),
		"date_from":      strings.TrimSpace(q.DateFrom),
		"date_to":        strings.TrimSpace(q.DateTo),
		"status":         strings.TrimSpace(q.Status),
	}
}

// RecordPage is one page of the record list.
type RecordPage struct {
	Items             []RecordView    `json:"data"`
	Total             int64           `json:"total"`
	Page              int             `json:"page"`
	PerPage           int             `json:"per_page"`
	LastPage          int             `json:"last_page"`
	AvailableStatuses []models.Status `json:"available_statuses"`
}

// Statistics are the dashboard counters.
type Statistics struct {
	TotalRecords     int64                   `json:"total_records"`
	TotalPatients    int64                   `json:"total_patients"`
	RecordsThisMonth int64                   `json:"records_this_month"`
	StatusCounts     map[models.Status]int64 `json:"status_counts"`
}

// recordFilter narrows the record list query by one option value.
type recordFilter func(ctx context.Context, q *gorm.DB, log *statuslog.Log, value string) (*gorm.DB, error)

// recordFilters maps every supported filter key to its filter. Filters run
// in recordFilterOrder.
var recordFilters = map[string]recordFilter{
	"patient_filter": filterPatientName,
	"date_from":      filterDateFrom,
	"date_to":        filterDateTo,
	"status":         filterStatus,
}

var recordFilterOrder = []string{"patient_filter", "date_from", "date_to", "status"}

var sortColumns = map[string]string{
	"updated_at":   "medical_records.updated_at",
	"patient_name": "patients.name",
	"diagnosis":    "medical_records.diagnosis",
	"symptoms":     "medical_records.symptoms",
}

func filterPatientName(_ context.Context, q *gorm.DB, _ *statuslog.Log, value string) (*gorm.DB, error) {
	return q.Where("LOWER(patients.name) LIKE ?", "%"+strings.ToLower(value)+"%"), nil
}

func filterDateFrom(_ context.Context, q *gorm.DB, _ *statuslog.Log, value string) (*gorm.DB, error) {
	day, err := time.ParseInLocation(dateLayout, value, time.UTC)
	if err != nil {
		return nil, apperr.Invalid("date_from", "The date from field must be a date in YYYY-MM-DD format.")
	}
	return q.Where("medical_records.updated_at >= ?", day), nil
}

func filterDateTo(_ context.Context, q *gorm.DB, _ *statuslog.Log, value string) (*gorm.DB, error) {
	day, err := time.ParseInLocation(dateLayout, value, time.UTC)
	if err != nil {
		return nil, apperr.Invalid("date_to", "The date to field must be a date in YYYY-MM-DD format.")
	}
	return q.Where("medical_records.updated_at < ?", day.AddDate(0, 0, 1)), nil
}

func filterStatus(ctx context.Context, q *gorm.DB, log *statuslog.Log, value string) (*gorm.DB, error) {
	status := models.Status(value)
	if !status.Valid() {
		return nil, apperr.Invalid("status", "The selected status is invalid.")
	}
	return q.Where("medical_records.id IN (?)", log.EntitiesInStatus(ctx, recordKind, status)), nil
}

// ListRecords returns one page of records with their patient and current status.
func (s *MedicalRecordService) ListRecords(ctx context.Context, actor policy.Actor, lq ListQuery) (*RecordPage, error) {
	if err := authorize(actor, policy.CanView, policy.ReasonNotAuthenticated); err != nil {
		return nil, err
	}

	page := lq.Page
	if page < 1 {
		page = 1
	}
	perPage := lq.PerPage
	switch {
	case perPage == 0:
		perPage = defaultPerPage
	case perPage < minPerPage:
		perPage = minPerPage
	case perPage > maxPerPage:
		perPage = maxPerPage
	}

	sortBy := lq.SortBy
	if sortBy == "" {
		sortBy = "updated_at"
	}
	column, ok := sortColumns[sortBy]
	if !ok {
		return nil, apperr.Invalid("sort_by", "The selected sort by is invalid.")
	}
	direction := strings.ToLower(lq.SortDirection)
	if direction == "" {
		direction = "desc"
	}
	if direction != "asc" && direction != "desc" {
		return nil, apperr.Invalid("sort_direction", "The selected sort direction is invalid.")
	}

	log := statuslog.New(s.db)
	q := s.db.WithContext(ctx).
		Model(&models.MedicalRecord{}).
		Joins("LEFT JOIN patients ON patients.id = medical_records.patient_id")

	values := lq.filterValues()
	for _, key := range recordFilterOrder {
		value := values[key]
		if value == "" {
			continue
		}
		var err error
		if q, err = recordFilters[key](ctx, q, log, value); err != nil {
			return nil, err
		}
	}
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("counting medical records: %w", err)
	}

	var records []models.MedicalRecord
	err := q.Select("medical_records.*").
		Preload("Patient").
		Order(column + " " + direction).
		Order("medical_records.id").
		Limit(perPage).
		Offset((page - 1) * perPage).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("listing medical records: %w", err)
	}

	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	current, err := log.CurrentMany(ctx, recordKind, ids)
	if err != nil {
		return nil, err
	}

	items := make([]RecordView, len(records))
	for i := range records {
		items[i] = RecordView{MedicalRecord: &records[i]}
		if st, ok := current[records[i].ID]; ok {
			items[i].CurrentStatus = &st
		}
	}

	lastPage := int(math.Ceil(float64(total) / float64(perPage)))
	if lastPage < 1 {
		lastPage = 1
	}
	return &RecordPage{
		Items:             items,
		Total:             total,
		Page:              page,
		PerPage:           perPage,
		LastPage:          lastPage,
		AvailableStatuses: models.Statuses(),
	}, nil
}

// Statistics counts records, patients, this month's records and records per
// current status.
func (s *MedicalRecordService) Statistics(ctx context.Context, actor policy.Actor) (*Statistics, error) {
	if err := authorize(actor, policy.CanView, policy.ReasonNotAuthenticated); err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx)
	stats := &Statistics{}
	if err := db.Model(&models.MedicalRecord{}).Count(&stats.TotalRecords).Error; err != nil {
		return nil, fmt.Errorf("counting records: %w", err)
	}
	if err := db.Model(&models.Patient{}).Count(&stats.TotalPatients).Error; err != nil {
		return nil, fmt.Errorf("counting patients: %w", err)
	}

	now := s.now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	if err := db.Model(&models.MedicalRecord{}).Where("created_at >= ?", monthStart).Count(&stats.RecordsThisMonth).Error; err != nil {
		return nil, fmt.Errorf("counting records this month: %w", err)
	}

	counts, err := statuslog.New(s.db).CountByCurrent(ctx, recordKind)
	if err != nil {
		return nil, err
	}
	stats.StatusCounts = make(map[models.Status]int64, len(models.Statuses()))
	for _, st := range models.Statuses() {
		stats.StatusCounts[st] = counts[st]
	}
	return stats, nil
}
