package statuslog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"clinical-workflow-server/internal/apperr"
	"clinical-workflow-server/internal/models"
)

func newTestLog(t *testing.T) (*Log, *gorm.DB) {
	t.Helper()
	db, err := models.InitDB(models.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	return New(db), db
}

func TestAppendAndCurrent(t *testing.T) {
	ctx := context.Background()
	log, _ := newTestLog(t)

	_, ok, err := log.Current(ctx, models.EntityMedicalRecord, "rec-1")
	require.NoError(t, err)
	assert.False(t, ok)

	first, err := log.Append(ctx, models.EntityMedicalRecord, "rec-1", models.StatusPending)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Sequence)

	second, err := log.Append(ctx, models.EntityMedicalRecord, "rec-1", models.StatusAttending)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Sequence)

	status, ok, err := log.Current(ctx, models.EntityMedicalRecord, "rec-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.StatusAttending, status)
}

func TestAppendRejectsUnknownStatus(t *testing.T) {
	ctx := context.Background()
	log, db := newTestLog(t)

	_, err := log.Append(ctx, models.EntityMedicalRecord, "rec-1", models.Status("Archived"))
	assert.ErrorIs(t, err, apperr.ErrInvalidStatusKind)

	_, err = log.Append(ctx, models.EntityKind("invoice"), "inv-1", models.StatusPending)
	assert.ErrorIs(t, err, apperr.ErrInvalidStatusKind)

	var count int64
	require.NoError(t, db.Model(&models.StatusLogEntry{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestHistoryIsNewestFirstAndPerEntity(t *testing.T) {
	ctx := context.Background()
	log, _ := newTestLog(t)

	for _, s := range []models.Status{models.StatusPending, models.StatusAttending, models.StatusFinalized} {
		_, err := log.Append(ctx, models.EntityMedicalRecord, "rec-1", s)
		require.NoError(t, err)
	}
	_, err := log.Append(ctx, models.EntityMedicalRecord, "rec-2", models.StatusPending)
	require.NoError(t, err)

	history, err := log.History(ctx, models.EntityMedicalRecord, "rec-1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, models.StatusFinalized, history[0].Status)
	assert.Equal(t, models.StatusAttending, history[1].Status)
	assert.Equal(t, models.StatusPending, history[2].Status)

	again, err := log.History(ctx, models.EntityMedicalRecord, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, history, again)
}

func TestDuplicateSequenceIsConflict(t *testing.T) {
	ctx := context.Background()
	log, db := newTestLog(t)

	_, err := log.Append(ctx, models.EntityMedicalRecord, "rec-1", models.StatusPending)
	require.NoError(t, err)

	// A second writer that read the same last sequence.
	dup := &models.StatusLogEntry{
		EntityKind: models.EntityMedicalRecord,
		EntityID:   "rec-1",
		Sequence:   1,
		Status:     models.StatusAttending,
	}
	err = db.Create(dup).Error
	require.Error(t, err)
	assert.True(t, isDuplicate(err))
}

func TestHas(t *testing.T) {
	ctx := context.Background()
	log, _ := newTestLog(t)

	has, err := log.Has(ctx, models.EntityMedicalRecord, "rec-1")
	require.NoError(t, err)
	assert.False(t, has)

	_, err = log.Append(ctx, models.EntityMedicalRecord, "rec-1", models.StatusPending)
	require.NoError(t, err)

	has, err = log.Has(ctx, models.EntityMedicalRecord, "rec-1")
	require.NoError(t, err)
	assert.True(t, has)
}

func TestCurrentManyAndCounts(t *testing.T) {
	ctx := context.Background()
	log, _ := newTestLog(t)

	appendAll := func(id string, statuses ...models.Status) {
		for _, s := range statuses {
			_, err := log.Append(ctx, models.EntityMedicalRecord, id, s)
			require.NoError(t, err)
		}
	}
	appendAll("a", models.StatusPending)
	appendAll("b", models.StatusPending, models.StatusAttending)
	appendAll("c", models.StatusPending, models.StatusAttending, models.StatusFinalized)
	appendAll("d", models.StatusPending, models.StatusAttending)

	current, err := log.CurrentMany(ctx, models.EntityMedicalRecord, []string{"a", "b", "c", "missing"})
	require.NoError(t, err)
	assert.Equal(t, map[string]models.Status{
		"a": models.StatusPending,
		"b": models.StatusAttending,
		"c": models.StatusFinalized,
	}, current)

	counts, err := log.CountByCurrent(ctx, models.EntityMedicalRecord)
	require.NoError(t, err)
	assert.Equal(t, map[models.Status]int64{
		models.StatusPending:   1,
		models.StatusAttending: 2,
		models.StatusFinalized: 1,
	}, counts)
}

func TestEntitiesInStatus(t *testing.T) {
	ctx := context.Background()
	log, db := newTestLog(t)

	_, err := log.Append(ctx, models.EntityMedicalRecord, "a", models.StatusPending)
	require.NoError(t, err)
	_, err = log.Append(ctx, models.EntityMedicalRecord, "b", models.StatusPending)
	require.NoError(t, err)
	_, err = log.Append(ctx, models.EntityMedicalRecord, "b", models.StatusAttending)
	require.NoError(t, err)

	var ids []string
	err = db.Model(&models.StatusLogEntry{}).
		Distinct("entity_id").
		Where("entity_id IN (?)", log.EntitiesInStatus(ctx, models.EntityMedicalRecord, models.StatusPending)).
		Pluck("entity_id", &ids).Error
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids)
}

func TestPurge(t *testing.T) {
	ctx := context.Background()
	log, _ := newTestLog(t)

	_, err := log.Append(ctx, models.EntityMedicalRecord, "a", models.StatusPending)
	require.NoError(t, err)
	_, err = log.Append(ctx, models.EntityMedicalRecord, "b", models.StatusPending)
	require.NoError(t, err)

	n, err := log.Purge(ctx, models.EntityMedicalRecord, "a")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	has, err := log.Has(ctx, models.EntityMedicalRecord, "b")
	require.NoError(t, err)
	assert.True(t, has)
}
