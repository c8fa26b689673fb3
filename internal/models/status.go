package models

import "time"

// Status is a medical record lifecycle state.
type Status string

const (
	StatusPending       Status = "Pending"
	StatusAttending     Status = "Attending"
	StatusFinalized     Status = "Finalized"
	StatusNeedsFollowUp Status = "Needs Follow-up"
)

var allStatuses = []Status{StatusPending, StatusAttending, StatusFinalized, StatusNeedsFollowUp}

// Statuses returns the closed set of statuses in lifecycle order.
func Statuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// Valid reports whether s belongs to the closed enumeration.
func (s Status) Valid() bool {
	for _, known := range allStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// EntityKind tags the owner type of a status log entry.
type EntityKind string

const (
	EntityMedicalRecord EntityKind = "medical_record"
)

// Valid reports whether k is a known entity kind.
func (k EntityKind) Valid() bool {
	return k == EntityMedicalRecord
}

// StatusLogEntry is one immutable row of an entity's status history.
// Sequence is dense per (EntityKind, EntityID) and defines the total order.
type StatusLogEntry struct {
	ID         uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	EntityKind EntityKind `gorm:"size:40;not null;uniqueIndex:idx_status_log_entity_seq,priority:1" json:"entity_kind"`
	EntityID   string     `gorm:"size:36;not null;uniqueIndex:idx_status_log_entity_seq,priority:2" json:"entity_id"`
	Sequence   int        `gorm:"not null;uniqueIndex:idx_status_log_entity_seq,priority:3" json:"sequence"`
	Status     Status     `gorm:"size:32;not null;index" json:"status"`
	CreatedAt  time.Time  `gorm:"not null" json:"created_at"`
}

// TableName pins the ledger table name.
func (StatusLogEntry) TableName() string {
	return "status_log_entries"
}
