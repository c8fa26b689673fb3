// Package statuslog is the append-only ledger of entity statuses.
//
// Entries are never updated. The current status of an entity is the status of
// its entry with the highest sequence number. The ledger does not validate
// transitions and does not notify anyone; both belong to the workflow.
package statuslog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"clinical-workflow-server/internal/apperr"
	"clinical-workflow-server/internal/models"
)

// Log reads and appends status entries.
type Log struct {
	db *gorm.DB
}

// New returns a Log backed by db.
func New(db *gorm.DB) *Log {
	return &Log{db: db}
}

// WithTx returns a Log bound to an open transaction.
func (l *Log) WithTx(tx *gorm.DB) *Log {
	return &Log{db: tx}
}

// Append adds status as the newest entry for the entity.
// A sequence collision with a concurrent writer yields apperr.ErrConflict.
func (l *Log) Append(ctx context.Context, kind models.EntityKind, entityID string, status models.Status) (*models.StatusLogEntry, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("entity kind %q: %w", kind, apperr.ErrInvalidStatusKind)
	}
	if !status.Valid() {
		return nil, fmt.Errorf("status %q: %w", status, apperr.ErrInvalidStatusKind)
	}

	db := l.db.WithContext(ctx)

	var last int
	err := db.Model(&models.StatusLogEntry{}).
		Where("entity_kind = ? AND entity_id = ?", kind, entityID).
		Select("COALESCE(MAX(sequence), 0)").
		Scan(&last).Error
	if err != nil {
		return nil, fmt.Errorf("reading last sequence: %w", err)
	}

	entry := &models.StatusLogEntry{
		EntityKind: kind,
		EntityID:   entityID,
		Sequence:   last + 1,
		Status:     status,
	}
	if err := db.Create(entry).Error; err != nil {
		if isDuplicate(err) {
			return nil, fmt.Errorf("appending %s for %s %s: %w", status, kind, entityID, apperr.ErrConflict)
		}
		return nil, fmt.Errorf("appending status entry: %w", err)
	}
	return entry, nil
}

// Current returns the newest status of the entity; ok is false when the
// entity has no entries.
func (l *Log) Current(ctx context.Context, kind models.EntityKind, entityID string) (status models.Status, ok bool, err error) {
	var entry models.StatusLogEntry
	res := l.db.WithContext(ctx).
		Where("entity_kind = ? AND entity_id = ?", kind, entityID).
		Order("sequence DESC").
		Limit(1).
		Find(&entry)
	if res.Error != nil {
		return "", false, fmt.Errorf("reading current status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return "", false, nil
	}
	return entry.Status, true, nil
}

// History returns every entry of the entity, newest first.
func (l *Log) History(ctx context.Context, kind models.EntityKind, entityID string) ([]models.StatusLogEntry, error) {
	var entries []models.StatusLogEntry
	err := l.db.WithContext(ctx).
		Where("entity_kind = ? AND entity_id = ?", kind, entityID).
		Order("sequence DESC").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("reading status history: %w", err)
	}
	return entries, nil
}

// Has reports whether the entity has at least one entry.
func (l *Log) Has(ctx context.Context, kind models.EntityKind, entityID string) (bool, error) {
	var count int64
	err := l.db.WithContext(ctx).Model(&models.StatusLogEntry{}).
		Where("entity_kind = ? AND entity_id = ?", kind, entityID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("counting status entries: %w", err)
	}
	return count > 0, nil
}

// CurrentMany returns the current status for each of ids that has one.
func (l *Log) CurrentMany(ctx context.Context, kind models.EntityKind, ids []string) (map[string]models.Status, error) {
	out := make(map[string]models.Status, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var rows []models.StatusLogEntry
	err := l.latest(ctx, kind).
		Where("s.entity_id IN ?", ids).
		Select("s.entity_id, s.status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("reading current statuses: %w", err)
	}
	for _, r := range rows {
		out[r.EntityID] = r.Status
	}
	return out, nil
}

// CountByCurrent returns how many entities currently sit in each status.
func (l *Log) CountByCurrent(ctx context.Context, kind models.EntityKind) (map[models.Status]int64, error) {
	type row struct {
		Status models.Status
		Total  int64
	}
	var rows []row
	err := l.latest(ctx, kind).
		Select("s.status AS status, COUNT(*) AS total").
		Group("s.status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("counting current statuses: %w", err)
	}

	out := make(map[models.Status]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Total
	}
	return out, nil
}

// EntitiesInStatus returns a subquery selecting the ids of entities whose
// current status is status, for use in IN (?) clauses.
func (l *Log) EntitiesInStatus(ctx context.Context, kind models.EntityKind, status models.Status) *gorm.DB {
	return l.latest(ctx, kind).
		Where("s.status = ?", status).
		Select("s.entity_id")
}

// Purge removes the whole history of an entity. Only used when the entity
// itself is deleted.
func (l *Log) Purge(ctx context.Context, kind models.EntityKind, entityID string) (int64, error) {
	res := l.db.WithContext(ctx).
		Where("entity_kind = ? AND entity_id = ?", kind, entityID).
		Delete(&models.StatusLogEntry{})
	if res.Error != nil {
		return 0, fmt.Errorf("purging status history: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// latest selects the newest entry of every entity of kind, aliased as s.
func (l *Log) latest(ctx context.Context, kind models.EntityKind) *gorm.DB {
	db := l.db.Session(&gorm.Session{NewDB: true}).WithContext(ctx)
	newest := db.Model(&models.StatusLogEntry{}).
		Select("entity_id, MAX(sequence) AS seq").
		Where("entity_kind = ?", kind).
		Group("entity_id")

	return db.Table("status_log_entries AS s").
		Joins("JOIN (?) AS newest ON newest.entity_id = s.entity_id AND newest.seq = s.sequence", newest).
		Where("s.entity_kind = ?", kind)
}

func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate")
}
