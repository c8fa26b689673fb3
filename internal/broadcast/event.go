// Package broadcast turns committed medical record mutations into change
// events and delivers them to realtime subscribers.
package broadcast

import (
	"time"

	"clinical-workflow-server/internal/models"
)

const (
	// Channel is the single logical channel every record event is published on.
	Channel = "medical-records"
	// EventName tags every frame sent on Channel.
	EventName = "medical.record.updated"
)

// Action tags. Free-form tags are also allowed (see the broadcast-test command).
const (
	ActionCreated       = "created"
	ActionUpdated       = "updated"
	ActionDeleted       = "deleted"
	ActionStatusChanged = "status_changed"
)

// RecordSnapshot is the denormalized record carried by a ChangeEvent.
type RecordSnapshot struct {
	ID            string             `json:"id"`
	PatientID     string             `json:"patient_id"`
	Symptoms      string             `json:"symptoms"`
	Diagnosis     string             `json:"diagnosis"`
	Treatment     string             `json:"treatment"`
	Notes         string             `json:"notes"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
	Patient       *models.PatientRef `json:"patient"`
	CurrentStatus *models.Status     `json:"current_status"`
}

// ChangeEvent is one notification about one record mutation. Never persisted.
type ChangeEvent struct {
	MedicalRecord RecordSnapshot `json:"medical_record"`
	Action        string         `json:"action"`
	Timestamp     time.Time      `json:"timestamp"`
}

// RecordID returns the id of the record the event is about.
func (e ChangeEvent) RecordID() string {
	return e.MedicalRecord.ID
}

// NewChangeEvent snapshots rec. The patient projection is taken from
// rec.Patient when it is loaded; status is the current status after the write.
func NewChangeEvent(rec *models.MedicalRecord, status *models.Status, action string, at time.Time) ChangeEvent {
	snap := RecordSnapshot{
		ID:        rec.ID,
		PatientID: rec.PatientID,
		Symptoms:  rec.Symptoms,
		Diagnosis: rec.Diagnosis,
		Treatment: rec.Treatment,
		Notes:     rec.Notes,
		CreatedAt: rec.CreatedAt.UTC(),
		UpdatedAt: rec.UpdatedAt.UTC(),
	}
	if rec.Patient != nil {
		ref := rec.Patient.Ref()
		snap.Patient = &ref
	}
	if status != nil {
		s := *status
		snap.CurrentStatus = &s
	}
	return ChangeEvent{
		MedicalRecord: snap,
		Action:        action,
		Timestamp:     at.UTC(),
	}
}

// Frame is the envelope written to transports.
type Frame struct {
	Channel string      `json:"channel"`
	Event   string      `json:"event"`
	Data    ChangeEvent `json:"data"`
}

// NewFrame wraps ev for the record channel.
func NewFrame(ev ChangeEvent) Frame {
	return Frame{Channel: Channel, Event: EventName, Data: ev}
}
