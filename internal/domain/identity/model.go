package identity

import (
	"errors"
	"time"
)

const (
	RoleMedico   = "medico"
	RolePaciente = "paciente"
	RoleCuidador = "cuidador/familiar"
)

const MinPasswordLen = 6

var (
	ErrNotFound           = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrForbidden          = errors.New("operation not allowed for this role")
	ErrInvalidInput       = errors.New("invalid input")
)

// User is a Usuario record. Doctors carry PacientesAsignados, caregivers
// carry PacienteAsociado.
type User struct {
	ID                 string    `json:"_id" bson:"_id"`
	Nombre             string    `json:"nombre" bson:"nombre"`
	Email              string    `json:"email" bson:"email"`
	Password           string    `json:"-" bson:"password"`
	Rol                string    `json:"rol" bson:"rol"`
	PacientesAsignados []string  `json:"pacientesAsignados,omitempty" bson:"pacientesAsignados,omitempty"`
	PacienteAsociado   *string   `json:"pacienteAsociado,omitempty" bson:"pacienteAsociado,omitempty"`
	CreatedAt          time.Time `json:"createdAt" bson:"createdAt"`
}

// ValidRole reports whether rol is one of the three known roles.
func ValidRole(rol string) bool {
	switch rol {
	case RoleMedico, RolePaciente, RoleCuidador:
		return true
	}
	return false
}

// HasPatient reports whether a doctor has patientID assigned.
func (u *User) HasPatient(patientID string) bool {
	for _, id := range u.PacientesAsignados {
		if id == patientID {
			return true
		}
	}
	return false
}

// CaresFor reports whether a caregiver is linked to patientID.
func (u *User) CaresFor(patientID string) bool {
	return u.Rol == RoleCuidador && u.PacienteAsociado != nil && *u.PacienteAsociado == patientID
}
