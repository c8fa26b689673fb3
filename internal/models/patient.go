package models

import "time"

// Patient is a registered patient. Storage only; no business rules live here.
type Patient struct {
	BaseModel
	Name      string     `gorm:"size:255;not null;index" json:"name"`
	Email     string     `gorm:"size:255;uniqueIndex;not null" json:"email"`
	Phone     string     `gorm:"size:50" json:"phone,omitempty"`
	BirthDate *time.Time `json:"birth_date,omitempty"`
	Address   string     `gorm:"size:255" json:"address,omitempty"`
}

// PatientRef is the minimal patient projection embedded in record snapshots.
type PatientRef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Ref returns the minimal projection of p.
func (p *Patient) Ref() PatientRef {
	return PatientRef{ID: p.ID, Name: p.Name, Email: p.Email}
}
