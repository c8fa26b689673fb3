package services

import (
	"fmt"
	"sync"

	"clinical-workflow-server/internal/apperr"
	"clinical-workflow-server/internal/models"
)

// noStatus stands for "no log entry yet" in the transition table.
const noStatus models.Status = ""

// transitions lists the legal edges of the record lifecycle. Finalized and
// Needs Follow-up are terminal.
var transitions = map[models.Status][]models.Status{
	noStatus:               {models.StatusPending},
	models.StatusPending:   {models.StatusAttending},
	models.StatusAttending: {models.StatusFinalized, models.StatusNeedsFollowUp},
}

// consultationOutcomes are the statuses a consultation can be completed with.
var consultationOutcomes = []models.Status{models.StatusFinalized, models.StatusNeedsFollowUp}

// CanTransition reports whether from -> to is a legal edge. An empty from
// means the record has no status yet.
func CanTransition(from, to models.Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// NextStatuses returns the statuses reachable from from.
func NextStatuses(from models.Status) []models.Status {
	next := transitions[from]
	out := make([]models.Status, len(next))
	copy(out, next)
	return out
}

func checkTransition(from models.Status, to models.Status) error {
	if !to.Valid() {
		return fmt.Errorf("status %q: %w", to, apperr.ErrInvalidStatusKind)
	}
	if !CanTransition(from, to) {
		name := string(from)
		if from == noStatus {
			name = "(none)"
		}
		return fmt.Errorf("%s -> %s: %w", name, to, apperr.ErrIllegalTransition)
	}
	return nil
}

func isConsultationOutcome(s models.Status) bool {
	for _, o := range consultationOutcomes {
		if s == o {
			return true
		}
	}
	return false
}

// recordLocks serializes writers per record id inside this process.
type recordLocks struct {
	mu    sync.Mutex
	locks map[string]*recordLock
}

type recordLock struct {
	sync.Mutex
	refs int
}

func newRecordLocks() *recordLocks {
	return &recordLocks{locks: make(map[string]*recordLock)}
}

// Lock blocks until id is free and returns the matching unlock func.
func (l *recordLocks) Lock(id string) func() {
	l.mu.Lock()
	lk, ok := l.locks[id]
	if !ok {
		lk = &recordLock{}
		l.locks[id] = lk
	}
	lk.refs++
	l.mu.Unlock()

	lk.Lock()
	return func() {
		lk.Unlock()
		l.mu.Lock()
		lk.refs--
		if lk.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

// held returns how many ids currently have a lock entry.
func (l *recordLocks) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
