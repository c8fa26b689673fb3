package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"clinical-workflow-server/internal/models"
)

func TestPredicates(t *testing.T) {
	staff := Actor{ID: "u-staff", Role: models.RoleStaff}
	doctor := Actor{ID: "u-doc", Role: models.RoleDoctor}
	anonymous := Actor{}
	unknownRole := Actor{ID: "u-x", Role: "admin"}

	tests := []struct {
		name   string
		pred   func(Actor) bool
		staff  bool
		doctor bool
	}{
		{"view", CanView, true, true},
		{"create", CanCreate, true, true},
		{"delete", CanDelete, true, true},
		{"general fields", CanUpdateGeneralFields, true, true},
		{"diagnosis and treatment", CanUpdateDiagnosisAndTreatment, false, true},
		{"start consultation", CanStartConsultation, false, true},
		{"finish consultation", CanFinishConsultation, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.staff, tt.pred(staff), "staff")
			assert.Equal(t, tt.doctor, tt.pred(doctor), "doctor")
			assert.False(t, tt.pred(anonymous), "anonymous")
			assert.False(t, tt.pred(unknownRole), "unknown role")
		})
	}
}

func TestRoleSwitchIsSeenImmediately(t *testing.T) {
	a := Actor{ID: "u-1", Role: models.RoleStaff}
	assert.False(t, CanStartConsultation(a))

	a.Role = models.RoleDoctor
	assert.True(t, CanStartConsultation(a))
}
