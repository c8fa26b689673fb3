package services

import (
	"clinical-workflow-server/internal/apperr"
	"clinical-workflow-server/internal/models"
	"clinical-workflow-server/internal/policy"
)

// GeneralFields are the record fields any authenticated actor may edit.
// Nil means "leave unchanged".
type GeneralFields struct {
	Symptoms  *string
	Notes     *string
	PatientID *string
}

// ClinicalFields are the doctor-only record fields.
type ClinicalFields struct {
	Diagnosis *string
	Treatment *string
}

// Present reports whether the payload touches any clinical field.
func (f ClinicalFields) Present() bool {
	return f.Diagnosis != nil || f.Treatment != nil
}

// UpdateGeneralFields applies the general edits to rec.
func UpdateGeneralFields(rec *models.MedicalRecord, f GeneralFields) {
	if f.Symptoms != nil {
		rec.Symptoms = *f.Symptoms
	}
	if f.Notes != nil {
		rec.Notes = *f.Notes
	}
	if f.PatientID != nil {
		rec.PatientID = *f.PatientID
		rec.Patient = nil
	}
}

// UpdateClinicalFields applies diagnosis and treatment when actor may write them.
func UpdateClinicalFields(actor policy.Actor, rec *models.MedicalRecord, f ClinicalFields) error {
	if err := authorizeClinical(actor, f); err != nil {
		return err
	}
	if f.Diagnosis != nil {
		rec.Diagnosis = *f.Diagnosis
	}
	if f.Treatment != nil {
		rec.Treatment = *f.Treatment
	}
	return nil
}

// ApplyEdits applies general and clinical edits together. If the actor may
// not write the clinical fields present in the payload, nothing is applied.
func ApplyEdits(actor policy.Actor, rec *models.MedicalRecord, general GeneralFields, clinical ClinicalFields) error {
	if err := authorizeClinical(actor, clinical); err != nil {
		return err
	}
	UpdateGeneralFields(rec, general)
	return UpdateClinicalFields(actor, rec, clinical)
}

func authorizeClinical(actor policy.Actor, f ClinicalFields) error {
	if f.Present() && !policy.CanUpdateDiagnosisAndTreatment(actor) {
		return apperr.Denied(policy.ReasonDiagnosisTreatment)
	}
	return nil
}

// authorize returns the denial for actor, or nil when allowed(actor) holds.
func authorize(actor policy.Actor, allowed func(policy.Actor) bool, reason string) error {
	if !actor.Authenticated() {
		return apperr.Denied(policy.ReasonNotAuthenticated)
	}
	if !allowed(actor) {
		return apperr.Denied(reason)
	}
	return nil
}
