package cognitive

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/alzheon/alzheon/internal/domain/identity"
	"github.com/alzheon/alzheon/pkg/pagination"
)

// Directory resolves users for access checks. *identity.Service implements it.
type Directory interface {
	GetUser(ctx context.Context, id string) (*identity.User, error)
}

// Service manages templates and assignments.
type Service struct {
	templates   TemplateRepository
	assignments AssignmentRepository
	users       Directory
	now         func() time.Time
}

func NewService(templates TemplateRepository, assignments AssignmentRepository, users Directory) *Service {
	return &Service{templates: templates, assignments: assignments, users: users, now: time.Now}
}

// caller loads the acting user. An unknown caller is treated as forbidden.
func caller(ctx context.Context, users Directory, id string) (*identity.User, error) {
	if id == "" {
		return nil, ErrForbidden
	}
	u, err := users.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, ErrForbidden
		}
		return nil, err
	}
	return u, nil
}

// canSeePatient covers the patient, their linked caregiver, and any doctor
// the patient is assigned to.
func canSeePatient(u *identity.User, patientID string) bool {
	switch u.Rol {
	case identity.RolePaciente:
		return u.ID == patientID
	case identity.RoleCuidador:
		return u.CaresFor(patientID)
	case identity.RoleMedico:
		return u.HasPatient(patientID)
	}
	return false
}

func canSeeAssignment(u *identity.User, a *Assignment) bool {
	if u.Rol == identity.RoleMedico && a.DoctorID == u.ID {
		return true
	}
	return canSeePatient(u, a.PatientID)
}

// -- Templates --

type CreateTemplateInput struct {
	Tipo          string `json:"tipo"`
	Nombre        string `json:"nombre"`
	Descripcion   string `json:"descripcion"`
	Instrucciones string `json:"instrucciones"`
}

func (s *Service) CreateTemplate(ctx context.Context, callerID string, in CreateTemplateInput) (*TestTemplate, error) {
	u, err := caller(ctx, s.users, callerID)
	if err != nil {
		return nil, err
	}
	if u.Rol != identity.RoleMedico {
		return nil, ErrForbidden
	}
	t := &TestTemplate{
		ID:            uuid.NewString(),
		Tipo:          strings.TrimSpace(in.Tipo),
		Nombre:        strings.TrimSpace(in.Nombre),
		Descripcion:   strings.TrimSpace(in.Descripcion),
		Instrucciones: strings.TrimSpace(in.Instrucciones),
		CreadoPor:     u.ID,
		CreatedAt:     s.now().UTC(),
	}
	if t.Tipo == "" {
		return nil, invalid("tipo is required")
	}
	if t.Nombre == "" {
		return nil, invalid("nombre is required")
	}
	if err := s.templates.Create(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) GetTemplate(ctx context.Context, id string) (*TestTemplate, error) {
	return s.templates.GetByID(ctx, id)
}

func (s *Service) ListTemplates(ctx context.Context, p pagination.Params) ([]*TestTemplate, int, error) {
	return s.templates.List(ctx, p)
}

// -- Assignments --

type CreateAssignmentInput struct {
	PatientID   string     `json:"paciente"`
	TemplateID  string     `json:"template"`
	Notas       string     `json:"notas"`
	FechaLimite *time.Time `json:"fechaLimite"`
}

// CreateAssignment assigns a template to one of the doctor's patients.
func (s *Service) CreateAssignment(ctx context.Context, doctorID string, in CreateAssignmentInput) (*Assignment, error) {
	doc, err := caller(ctx, s.users, doctorID)
	if err != nil {
		return nil, err
	}
	if doc.Rol != identity.RoleMedico {
		return nil, ErrForbidden
	}
	if in.PatientID == "" || in.TemplateID == "" {
		return nil, invalid("paciente and template are required")
	}
	if !doc.HasPatient(in.PatientID) {
		return nil, ErrForbidden
	}
	tmpl, err := s.templates.GetByID(ctx, in.TemplateID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, invalid("template does not exist")
		}
		return nil, err
	}

	a := &Assignment{
		ID:          uuid.NewString(),
		PatientID:   in.PatientID,
		DoctorID:    doc.ID,
		TemplateID:  tmpl.ID,
		Estado:      EstadoPendiente,
		Notas:       strings.TrimSpace(in.Notas),
		FechaLimite: in.FechaLimite,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.assignments.Create(ctx, a); err != nil {
		return nil, err
	}
	a.Template = tmpl
	return a, nil
}

// GetAssignment returns the assignment with its template if the caller may
// see it.
func (s *Service) GetAssignment(ctx context.Context, callerID, id string) (*Assignment, error) {
	u, err := caller(ctx, s.users, callerID)
	if err != nil {
		return nil, err
	}
	a, err := s.assignments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canSeeAssignment(u, a) {
		return nil, ErrForbidden
	}
	if t, err := s.templates.GetByID(ctx, a.TemplateID); err == nil {
		a.Template = t
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return a, nil
}

// ListAssignments scopes the list by role: doctors see what they assigned,
// patients their own, caregivers their linked patient's.
func (s *Service) ListAssignments(ctx context.Context, callerID, estado string, p pagination.Params) ([]*Assignment, int, error) {
	u, err := caller(ctx, s.users, callerID)
	if err != nil {
		return nil, 0, err
	}
	if estado != "" && estado != EstadoPendiente && estado != EstadoCompletada {
		return nil, 0, invalid("estado must be pendiente or completada")
	}

	f := AssignmentFilter{Estado: estado}
	switch u.Rol {
	case identity.RoleMedico:
		f.DoctorID = u.ID
	case identity.RolePaciente:
		f.PatientID = u.ID
	case identity.RoleCuidador:
		if u.PacienteAsociado == nil {
			return []*Assignment{}, 0, nil
		}
		f.PatientID = *u.PacienteAsociado
	default:
		return nil, 0, ErrForbidden
	}

	list, total, err := s.assignments.List(ctx, f, p)
	if err != nil {
		return nil, 0, err
	}
	if err := s.attachTemplates(ctx, list); err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

func (s *Service) attachTemplates(ctx context.Context, list []*Assignment) error {
	if len(list) == 0 {
		return nil
	}
	ids := lo.Map(list, func(a *Assignment, _ int) string { return a.TemplateID })
	templates, err := s.templates.ListByIDs(ctx, ids)
	if err != nil {
		return err
	}
	byID := lo.KeyBy(templates, func(t *TestTemplate) string { return t.ID })
	for _, a := range list {
		a.Template = byID[a.TemplateID]
	}
	return nil
}
