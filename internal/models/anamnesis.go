package models

// Anamnesis is the intake vital-signs assessment a medical record may reference.
type Anamnesis struct {
	BaseModel
	PatientID       string   `gorm:"size:36;index;not null" json:"patient_id"`
	BloodPressure   string   `gorm:"size:20" json:"blood_pressure,omitempty"`
	Temperature     *float64 `json:"temperature,omitempty"`
	HeartRate       *int     `json:"heart_rate,omitempty"`
	RespiratoryRate *int     `json:"respiratory_rate,omitempty"`
	Weight          *float64 `json:"weight,omitempty"`
	Height          *float64 `json:"height,omitempty"`
}

// TableName keeps the plural used by the intake flow.
func (Anamnesis) TableName() string {
	return "anamneses"
}
