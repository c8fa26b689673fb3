// Package policy holds the role predicates that gate medical record operations.
// Every predicate is a pure function of the actor; callers must ask on each
// operation instead of caching answers, since an actor's role can change.
package policy

import "clinical-workflow-server/internal/models"

// Actor is the identity an operation runs on behalf of.
type Actor struct {
	ID   string      `json:"id"`
	Role models.Role `json:"role"`
}

// Authenticated reports whether the actor carries a known role.
func (a Actor) Authenticated() bool {
	return a.ID != "" && a.Role.Valid()
}

// IsDoctor reports whether the actor is an authenticated doctor.
func (a Actor) IsDoctor() bool {
	return a.Authenticated() && a.Role == models.RoleDoctor
}

// CanView reports whether the actor may read medical records.
func CanView(a Actor) bool { return a.Authenticated() }

// CanCreate reports whether the actor may create medical records.
func CanCreate(a Actor) bool { return a.Authenticated() }

// CanDelete reports whether the actor may delete medical records.
func CanDelete(a Actor) bool { return a.Authenticated() }

// CanUpdateGeneralFields covers symptoms, notes and the patient reference.
func CanUpdateGeneralFields(a Actor) bool { return a.Authenticated() }

// CanUpdateDiagnosisAndTreatment covers the doctor-only clinical fields.
func CanUpdateDiagnosisAndTreatment(a Actor) bool { return a.IsDoctor() }

// CanStartConsultation reports whether the actor may move a record to Attending.
func CanStartConsultation(a Actor) bool { return a.IsDoctor() }

// CanFinishConsultation reports whether the actor may record a consultation outcome.
func CanFinishConsultation(a Actor) bool { return a.IsDoctor() }

// Denial reasons surfaced to users.
const (
	ReasonNotAuthenticated   = "You must select a user before working with medical records"
	ReasonStartConsultation  = "Only doctors can start consultations"
	ReasonFinishConsultation = "Only doctors can complete consultations"
	ReasonDiagnosisTreatment = "Only doctors can update diagnosis and treatment"
)
