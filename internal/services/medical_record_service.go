// Package services holds the medical record lifecycle: the status workflow,
// field edits with field-level authorization, and change notifications.
//
// Every operation takes the acting policy.Actor explicitly. Writes to one
// record are serialized, and the change event of a write is published after
// its transaction commits and before the next writer of that record starts.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"clinical-workflow-server/internal/apperr"
	"clinical-workflow-server/internal/broadcast"
	"clinical-workflow-server/internal/models"
	"clinical-workflow-server/internal/policy"
	"clinical-workflow-server/internal/statuslog"
	"clinical-workflow-server/internal/utils"
)

const recordKind = models.EntityMedicalRecord

// ActionTest is the default tag of manually triggered broadcasts.
const ActionTest = "test_update"

// EventPublisher receives change events. Publish must not block.
type EventPublisher interface {
	Publish(ev broadcast.ChangeEvent)
}

type noopPublisher struct{}

func (noopPublisher) Publish(broadcast.ChangeEvent) {}

// StatusChange is one entry of a record's status history.
type StatusChange struct {
	Sequence  int           `json:"sequence"`
	Status    models.Status `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
}

// RecordView is a record with its patient, current status and, when
// requested, its status history (newest first).
type RecordView struct {
	*models.MedicalRecord
	CurrentStatus *models.Status `json:"current_status"`
	History       []StatusChange `json:"status_history,omitempty"`
}

// CreateRecordInput is the payload of CreateRecord.
type CreateRecordInput struct {
	PatientID   string  `json:"patient_id" validate:"required"`
	AnamnesisID *string `json:"anamnesis_id" validate:"omitnil,min=1"`
	Symptoms    string  `json:"symptoms" validate:"required,max=1000"`
	Diagnosis   *string `json:"diagnosis" validate:"omitnil,max=1000"`
	Treatment   *string `json:"treatment" validate:"omitnil,max=1000"`
	Notes       *string `json:"notes" validate:"omitnil,max=1000"`
}

// UpdateRecordInput is the payload of UpdateRecord. Nil fields are left as is.
type UpdateRecordInput struct {
	PatientID *string `json:"patient_id" validate:"omitnil,min=1"`
	Symptoms  *string `json:"symptoms" validate:"omitnil,min=1,max=1000"`
	Diagnosis *string `json:"diagnosis" validate:"omitnil,max=1000"`
	Treatment *string `json:"treatment" validate:"omitnil,max=1000"`
	Notes     *string `json:"notes" validate:"omitnil,max=1000"`
}

func (in UpdateRecordInput) general() GeneralFields {
	return GeneralFields{Symptoms: in.Symptoms, Notes: in.Notes, PatientID: in.PatientID}
}

func (in UpdateRecordInput) clinical() ClinicalFields {
	return ClinicalFields{Diagnosis: in.Diagnosis, Treatment: in.Treatment}
}

// CompleteConsultationInput is the payload of CompleteConsultation.
type CompleteConsultationInput struct {
	Diagnosis string        `json:"diagnosis" validate:"required,max=1000"`
	Treatment string        `json:"treatment" validate:"required,max=1000"`
	Notes     string        `json:"notes" validate:"max=1000"`
	Status    models.Status `json:"status" validate:"required"`
}

// MedicalRecordService runs every medical record operation.
type MedicalRecordService struct {
	db     *gorm.DB
	events EventPublisher
	logger zerolog.Logger
	locks  *recordLocks
	now    func() time.Time
}

// NewMedicalRecordService creates a new MedicalRecordService. A nil events
// publisher discards events.
func NewMedicalRecordService(db *gorm.DB, events EventPublisher, logger zerolog.Logger) *MedicalRecordService {
	if events == nil {
		events = noopPublisher{}
	}
	return &MedicalRecordService{
		db:     db,
		events: events,
		logger: logger.With().Str("component", "medical-records").Logger(),
		locks:  newRecordLocks(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CreateRecord stores a new record and assigns it the Pending status in the
// same transaction.
func (s *MedicalRecordService) CreateRecord(ctx context.Context, actor policy.Actor, in CreateRecordInput) (*RecordView, error) {
	if err := authorize(actor, policy.CanCreate, policy.ReasonNotAuthenticated); err != nil {
		return nil, err
	}
	in.Symptoms = strings.TrimSpace(in.Symptoms)
	in.Diagnosis, in.Treatment, in.Notes = trimmed(in.Diagnosis), trimmed(in.Treatment), trimmed(in.Notes)
	clinical := ClinicalFields{Diagnosis: in.Diagnosis, Treatment: in.Treatment}
	if err := authorizeClinical(actor, clinical); err != nil {
		return nil, err
	}

	if err := utils.Validate(in); err != nil {
		return nil, err
	}
	if err := s.checkPatient(ctx, in.PatientID); err != nil {
		return nil, err
	}
	if err := s.checkAnamnesis(ctx, in.AnamnesisID); err != nil {
		return nil, err
	}
	if err := checkTransition(noStatus, models.StatusPending); err != nil {
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)
	rec := &models.MedicalRecord{
		BaseModel:   models.BaseModel{ID: uuid.New().String()},
		PatientID:   in.PatientID,
		AnamnesisID: in.AnamnesisID,
		Symptoms:    in.Symptoms,
	}
	if err := ApplyEdits(actor, rec, GeneralFields{Notes: in.Notes}, clinical); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(rec.ID)
	defer unlock()

	var view *RecordView
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(rec).Error; err != nil {
			return fmt.Errorf("creating medical record: %w", err)
		}
		if _, err := statuslog.New(tx).Append(ctx, recordKind, rec.ID, models.StatusPending); err != nil {
			return err
		}
		var err error
		view, err = loadView(ctx, tx, rec.ID, false)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.publish(view, broadcast.ActionCreated)
	s.logger.Info().Str("record_id", rec.ID).Str("actor_id", actor.ID).Msg("medical record created")
	return view, nil
}

// StartConsultation moves a Pending record to Attending.
func (s *MedicalRecordService) StartConsultation(ctx context.Context, id string, actor policy.Actor) (*RecordView, error) {
	if err := authorize(actor, policy.CanStartConsultation, policy.ReasonStartConsultation); err != nil {
		return nil, err
	}

	view, err := s.mutate(ctx, id, broadcast.ActionStatusChanged, func(ctx context.Context, tx *gorm.DB, log *statuslog.Log, rec *models.MedicalRecord) error {
		return transition(ctx, log, rec.ID, models.StatusAttending)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("record_id", id).Str("actor_id", actor.ID).Msg("consultation started")
	return view, nil
}

// CompleteConsultation writes the consultation outcome and moves an
// Attending record to in.Status. Fields and status commit together.
func (s *MedicalRecordService) CompleteConsultation(ctx context.Context, id string, actor policy.Actor, in CompleteConsultationInput) (*RecordView, error) {
	if err := authorize(actor, policy.CanFinishConsultation, policy.ReasonFinishConsultation); err != nil {
		return nil, err
	}
	if in.Status != "" && !isConsultationOutcome(in.Status) {
		return nil, fmt.Errorf("status %q is not a consultation outcome: %w", in.Status, apperr.ErrInvalidStatusKind)
	}
	in.Diagnosis = strings.TrimSpace(in.Diagnosis)
	in.Treatment = strings.TrimSpace(in.Treatment)
	in.Notes = strings.TrimSpace(in.Notes)
	if err := utils.Validate(in); err != nil {
		return nil, err
	}

	view, err := s.mutate(ctx, id, broadcast.ActionStatusChanged, func(ctx context.Context, tx *gorm.DB, log *statuslog.Log, rec *models.MedicalRecord) error {
		current, _, err := log.Current(ctx, recordKind, rec.ID)
		if err != nil {
			return err
		}
		if err := checkTransition(current, in.Status); err != nil {
			return err
		}

		clinical := ClinicalFields{Diagnosis: &in.Diagnosis, Treatment: &in.Treatment}
		if err := ApplyEdits(actor, rec, GeneralFields{Notes: &in.Notes}, clinical); err != nil {
			return err
		}
		if err := saveRecord(tx, rec); err != nil {
			return err
		}
		_, err = log.Append(ctx, recordKind, rec.ID, in.Status)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("record_id", id).
		Str("actor_id", actor.ID).
		Str("status", string(in.Status)).
		Msg("consultation completed")
	return view, nil
}

// UpdateRecord edits record fields. A payload touching diagnosis or
// treatment from an actor who may not write them is rejected whole.
func (s *MedicalRecordService) UpdateRecord(ctx context.Context, id string, actor policy.Actor, in UpdateRecordInput) (*RecordView, error) {
	if err := authorize(actor, policy.CanUpdateGeneralFields, policy.ReasonNotAuthenticated); err != nil {
		return nil, err
	}
	if err := authorizeClinical(actor, in.clinical()); err != nil {
		return nil, err
	}

	in.Symptoms, in.Notes = trimmed(in.Symptoms), trimmed(in.Notes)
	in.Diagnosis, in.Treatment = trimmed(in.Diagnosis), trimmed(in.Treatment)
	if err := utils.Validate(in); err != nil {
		return nil, err
	}
	if in.PatientID != nil {
		if err := s.checkPatient(ctx, *in.PatientID); err != nil {
			return nil, err
		}
	}

	return s.mutate(ctx, id, broadcast.ActionUpdated, func(ctx context.Context, tx *gorm.DB, log *statuslog.Log, rec *models.MedicalRecord) error {
		if err := ApplyEdits(actor, rec, in.general(), in.clinical()); err != nil {
			return err
		}
		return saveRecord(tx, rec)
	})
}

// DeleteRecord removes a record and its status history. The deleted event
// carries the record as it was just before deletion.
func (s *MedicalRecordService) DeleteRecord(ctx context.Context, id string, actor policy.Actor) error {
	if err := authorize(actor, policy.CanDelete, policy.ReasonNotAuthenticated); err != nil {
		return err
	}

	ctx = context.WithoutCancel(ctx)
	unlock := s.locks.Lock(id)
	defer unlock()

	var view *RecordView
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockRecord(tx, id); err != nil {
			return err
		}
		var err error
		if view, err = loadView(ctx, tx, id, false); err != nil {
			return err
		}
		if _, err := statuslog.New(tx).Purge(ctx, recordKind, id); err != nil {
			return err
		}
		if err := tx.Delete(&models.MedicalRecord{}, "id = ?", id).Error; err != nil {
			return fmt.Errorf("deleting medical record: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(view, broadcast.ActionDeleted)
	s.logger.Info().Str("record_id", id).Str("actor_id", actor.ID).Msg("medical record deleted")
	return nil
}

// GetRecord returns the record with its patient, current status and history.
func (s *MedicalRecordService) GetRecord(ctx context.Context, id string, actor policy.Actor) (*RecordView, error) {
	if err := authorize(actor, policy.CanView, policy.ReasonNotAuthenticated); err != nil {
		return nil, err
	}
	return loadView(ctx, s.db, id, true)
}

// GetStatusHistory returns the record's status changes, newest first.
func (s *MedicalRecordService) GetStatusHistory(ctx context.Context, id string, actor policy.Actor) ([]StatusChange, error) {
	if err := authorize(actor, policy.CanView, policy.ReasonNotAuthenticated); err != nil {
		return nil, err
	}
	if _, err := findRecord(s.db.WithContext(ctx), id); err != nil {
		return nil, err
	}
	entries, err := statuslog.New(s.db).History(ctx, recordKind, id)
	if err != nil {
		return nil, err
	}
	return toChanges(entries), nil
}

// AssignDefaultStatus gives a record without any status the Pending status.
// It reports whether an entry was appended. No event is published.
func (s *MedicalRecordService) AssignDefaultStatus(ctx context.Context, id string) (bool, error) {
	assigned := false
	_, err := s.mutate(ctx, id, "", func(ctx context.Context, tx *gorm.DB, log *statuslog.Log, rec *models.MedicalRecord) error {
		has, err := log.Has(ctx, recordKind, rec.ID)
		if err != nil || has {
			return err
		}
		if _, err := log.Append(ctx, recordKind, rec.ID, models.StatusPending); err != nil {
			return err
		}
		assigned = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return assigned, nil
}

// RecordsWithoutStatus lists records that have no status entry, oldest first.
func (s *MedicalRecordService) RecordsWithoutStatus(ctx context.Context) ([]models.MedicalRecord, error) {
	withStatus := s.db.Model(&models.StatusLogEntry{}).
		Select("entity_id").
		Where("entity_kind = ?", recordKind)

	var records []models.MedicalRecord
	err := s.db.WithContext(ctx).
		Where("id NOT IN (?)", withStatus).
		Order("created_at").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("listing records without status: %w", err)
	}
	return records, nil
}

// BackfillDefaultStatuses assigns Pending to every record without a status
// and returns how many were assigned.
func (s *MedicalRecordService) BackfillDefaultStatuses(ctx context.Context) (int, error) {
	records, err := s.RecordsWithoutStatus(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, rec := range records {
		assigned, err := s.AssignDefaultStatus(ctx, rec.ID)
		if err != nil {
			return count, fmt.Errorf("record %s: %w", rec.ID, err)
		}
		if assigned {
			count++
		}
	}
	s.logger.Info().Int("assigned", count).Msg("default statuses backfilled")
	return count, nil
}

// BroadcastSnapshot publishes the current state of a record under a
// free-form action tag. An empty id picks the most recently created record.
func (s *MedicalRecordService) BroadcastSnapshot(ctx context.Context, id, action string) (*broadcast.ChangeEvent, error) {
	if action == "" {
		action = ActionTest
	}
	if id == "" {
		var latest models.MedicalRecord
		res := s.db.WithContext(ctx).Order("created_at DESC").Limit(1).Find(&latest)
		if res.Error != nil {
			return nil, fmt.Errorf("finding latest record: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, apperr.NotFound("medical record")
		}
		id = latest.ID
	}

	view, err := loadView(ctx, s.db, id, false)
	if err != nil {
		return nil, err
	}
	ev := broadcast.NewChangeEvent(view.MedicalRecord, view.CurrentStatus, action, s.now())
	s.events.Publish(ev)
	return &ev, nil
}

type mutation func(ctx context.Context, tx *gorm.DB, log *statuslog.Log, rec *models.MedicalRecord) error

// mutate runs fn on the locked record inside a transaction, reloads the
// record and publishes action for it after commit. An empty action publishes
// nothing. Once started the write is not cancelled with ctx.
func (s *MedicalRecordService) mutate(ctx context.Context, id, action string, fn mutation) (*RecordView, error) {
	ctx = context.WithoutCancel(ctx)
	unlock := s.locks.Lock(id)
	defer unlock()

	var view *RecordView
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := lockRecord(tx, id)
		if err != nil {
			return err
		}
		if err := fn(ctx, tx, statuslog.New(tx), rec); err != nil {
			return err
		}
		view, err = loadView(ctx, tx, id, false)
		return err
	})
	if err != nil {
		return nil, err
	}

	if action != "" {
		s.publish(view, action)
	}
	return view, nil
}

func (s *MedicalRecordService) publish(view *RecordView, action string) {
	s.events.Publish(broadcast.NewChangeEvent(view.MedicalRecord, view.CurrentStatus, action, s.now()))
}

func (s *MedicalRecordService) checkPatient(ctx context.Context, patientID string) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Patient{}).Where("id = ?", patientID).Count(&count).Error; err != nil {
		return fmt.Errorf("checking patient: %w", err)
	}
	if count == 0 {
		return apperr.Invalid("patient_id", "The selected patient does not exist.")
	}
	return nil
}

func (s *MedicalRecordService) checkAnamnesis(ctx context.Context, anamnesisID *string) error {
	if anamnesisID == nil {
		return nil
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Anamnesis{}).Where("id = ?", *anamnesisID).Count(&count).Error; err != nil {
		return fmt.Errorf("checking anamnesis: %w", err)
	}
	if count == 0 {
		return apperr.Invalid("anamnesis_id", "The selected anamnesis does not exist.")
	}
	return nil
}

// transition appends to after checking the edge from the current status.
func transition(ctx context.Context, log *statuslog.Log, recordID string, to models.Status) error {
	current, _, err := log.Current(ctx, recordKind, recordID)
	if err != nil {
		return err
	}
	if err := checkTransition(current, to); err != nil {
		return err
	}
	_, err = log.Append(ctx, recordKind, recordID, to)
	return err
}

// lockRecord loads the record for update. SQLite has no row locks; its
// single writer connection serializes transactions instead.
func lockRecord(tx *gorm.DB, id string) (*models.MedicalRecord, error) {
	q := tx
	if tx.Dialector.Name() != "sqlite" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return findRecord(q, id)
}

func findRecord(db *gorm.DB, id string) (*models.MedicalRecord, error) {
	var rec models.MedicalRecord
	if err := db.First(&rec, "id = ?", id).Error; err != nil {
		return nil, recordErr(err)
	}
	return &rec, nil
}

func saveRecord(tx *gorm.DB, rec *models.MedicalRecord) error {
	if err := tx.Omit(clause.Associations).Save(rec).Error; err != nil {
		return fmt.Errorf("saving medical record: %w", err)
	}
	return nil
}

func loadView(ctx context.Context, db *gorm.DB, id string, withHistory bool) (*RecordView, error) {
	var rec models.MedicalRecord
	if err := db.WithContext(ctx).Preload("Patient").First(&rec, "id = ?", id).Error; err != nil {
		return nil, recordErr(err)
	}

	log := statuslog.New(db)
	view := &RecordView{MedicalRecord: &rec}
	status, ok, err := log.Current(ctx, recordKind, id)
	if err != nil {
		return nil, err
	}
	if ok {
		view.CurrentStatus = &status
	}

	if withHistory {
		entries, err := log.History(ctx, recordKind, id)
		if err != nil {
			return nil, err
		}
		view.History = toChanges(entries)
	}
	return view, nil
}

func toChanges(entries []models.StatusLogEntry) []StatusChange {
	out := make([]StatusChange, 0, len(entries))
	for _, e := range entries {
		out = append(out, StatusChange{Sequence: e.Sequence, Status: e.Status, Timestamp: e.CreatedAt.UTC()})
	}
	return out
}

// trimmed returns p with surrounding whitespace removed; nil stays nil.
func trimmed(p *string) *string {
	if p == nil {
		return nil
	}
	v := strings.TrimSpace(*p)
	return &v
}

func recordErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound("medical record")
	}
	return fmt.Errorf("loading medical record: %w", err)
}
