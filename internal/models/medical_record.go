package models

// MedicalRecord represents one clinical encounter.
// Its status is not stored here; see StatusLogEntry.
type MedicalRecord struct {
	BaseModel
	PatientID   string  `gorm:"size:36;index;not null" json:"patient_id"`
	AnamnesisID *string `gorm:"size:36;index" json:"anamnesis_id"`
	Symptoms    string  `gorm:"type:text;not null" json:"symptoms"`
	Diagnosis   string  `gorm:"type:text" json:"diagnosis"`
	Treatment   string  `gorm:"type:text" json:"treatment"`
	Notes       string  `gorm:"type:text" json:"notes"`

	// Relations (not always preloaded)
	Patient *Patient `gorm:"foreignKey:PatientID" json:"patient,omitempty"`
}
