package models

// Role enum
type Role string

const (
	RoleStaff  Role = "staff"
	RoleDoctor Role = "doctor"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleStaff || r == RoleDoctor
}

// User is a clinic employee on whose behalf operations run.
type User struct {
	BaseModel
	Name  string `gorm:"size:255;not null" json:"name"`
	Email string `gorm:"uniqueIndex;size:255;not null" json:"email"`
	Role  Role   `gorm:"size:20;not null;default:'staff'" json:"role"`
}

// IsDoctor reports whether the user holds the doctor role.
func (u *User) IsDoctor() bool {
	return u.Role == RoleDoctor
}
