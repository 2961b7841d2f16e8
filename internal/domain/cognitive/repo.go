package cognitive

import (
	"context"

	"github.com/alzheon/alzheon/pkg/pagination"
)

type TemplateRepository interface {
	Create(ctx context.Context, t *TestTemplate) error
	GetByID(ctx context.Context, id string) (*TestTemplate, error)
	List(ctx context.Context, p pagination.Params) ([]*TestTemplate, int, error)
	ListByIDs(ctx context.Context, ids []string) ([]*TestTemplate, error)
}

// AssignmentFilter narrows List. Empty fields match everything.
type AssignmentFilter struct {
	DoctorID  string
	PatientID string
	Estado    string
}

type AssignmentRepository interface {
	Create(ctx context.Context, a *Assignment) error
	GetByID(ctx context.Context, id string) (*Assignment, error)
	List(ctx context.Context, f AssignmentFilter, p pagination.Params) ([]*Assignment, int, error)
	MarkCompleted(ctx context.Context, id string) error
}

type SubmissionRepository interface {
	Create(ctx context.Context, s *Submission) error
	GetByID(ctx context.Context, id string) (*Submission, error)
	// ListByAssignment returns submissions oldest first.
	ListByAssignment(ctx context.Context, assignmentID string) ([]*Submission, error)
}
