package identity

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/alzheon/alzheon/internal/platform/db"
)

// SettingsProvisioner creates the per-user Configuracion on registration.
type SettingsProvisioner interface {
	EnsureDefaults(ctx context.Context, userID string) error
}

type Service struct {
	users      UserRepository
	settings   SettingsProvisioner
	tx         db.TxRunner
	bcryptCost int
	now        func() time.Time
}

func NewService(users UserRepository, settings SettingsProvisioner, tx db.TxRunner) *Service {
	if tx == nil {
		tx = db.NoTx
	}
	return &Service{
		users:      users,
		settings:   settings,
		tx:         tx,
		bcryptCost: bcrypt.DefaultCost,
		now:        time.Now,
	}
}

type RegisterInput struct {
	Nombre   string `json:"nombre"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Rol      string `json:"rol"`
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, msg)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates the user together with default reminder settings.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, error) {
	in.Nombre = strings.TrimSpace(in.Nombre)
	in.Email = normalizeEmail(in.Email)
	if in.Nombre == "" {
		return nil, invalid("nombre is required")
	}
	if in.Email == "" {
		return nil, invalid("email is required")
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return nil, invalid("email is not valid")
	}
	if len(in.Password) < MinPasswordLen {
		return nil, invalid(fmt.Sprintf("password must have at least %d characters", MinPasswordLen))
	}
	if !ValidRole(in.Rol) {
		return nil, invalid("rol must be medico, paciente or cuidador/familiar")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &User{
		ID:        uuid.NewString(),
		Nombre:    in.Nombre,
		Email:     in.Email,
		Password:  string(hash),
		Rol:       in.Rol,
		CreatedAt: s.now().UTC(),
	}

	err = s.tx(ctx, func(ctx context.Context) error {
		if err := s.users.Create(ctx, u); err != nil {
			return err
		}
		if s.settings != nil {
			if err := s.settings.EnsureDefaults(ctx, u.ID); err != nil {
				return fmt.Errorf("create default settings: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// Login checks the credentials. Unknown emails and wrong passwords are
// indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (*User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, invalid("email and password are required")
	}
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return u, nil
}

func (s *Service) GetUser(ctx context.Context, id string) (*User, error) {
	return s.users.GetByID(ctx, id)
}

func (s *Service) userWithRole(ctx context.Context, id, role string) (*User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Rol != role {
		return nil, ErrForbidden
	}
	return u, nil
}

// -- Care links --

// AssignedPatients lists the patients of a doctor.
func (s *Service) AssignedPatients(ctx context.Context, doctorID string) ([]*User, error) {
	doc, err := s.userWithRole(ctx, doctorID, RoleMedico)
	if err != nil {
		return nil, err
	}
	return s.users.ListByIDs(ctx, doc.PacientesAsignados)
}

func (s *Service) AssignPatient(ctx context.Context, doctorID, patientID string) error {
	if _, err := s.userWithRole(ctx, doctorID, RoleMedico); err != nil {
		return err
	}
	patient, err := s.users.GetByID(ctx, patientID)
	if err != nil {
		return err
	}
	if patient.Rol != RolePaciente {
		return invalid("user is not a patient")
	}
	return s.users.AddAssignedPatient(ctx, doctorID, patientID)
}

func (s *Service) LinkCaregiver(ctx context.Context, caregiverID, patientID string) error {
	if _, err := s.userWithRole(ctx, caregiverID, RoleCuidador); err != nil {
		return err
	}
	patient, err := s.users.GetByID(ctx, patientID)
	if err != nil {
		return err
	}
	if patient.Rol != RolePaciente {
		return invalid("user is not a patient")
	}
	return s.users.SetLinkedPatient(ctx, caregiverID, patientID)
}

// LinkedPatient returns the patient a caregiver looks after.
func (s *Service) LinkedPatient(ctx context.Context, caregiverID string) (*User, error) {
	cg, err := s.userWithRole(ctx, caregiverID, RoleCuidador)
	if err != nil {
		return nil, err
	}
	if cg.PacienteAsociado == nil {
		return nil, ErrNotFound
	}
	return s.users.GetByID(ctx, *cg.PacienteAsociado)
}
