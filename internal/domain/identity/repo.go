package identity

import "context"

type UserRepository interface {
	// Create inserts u and returns ErrEmailTaken when the email exists.
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	ListByIDs(ctx context.Context, ids []string) ([]*User, error)
	AddAssignedPatient(ctx context.Context, doctorID, patientID string) error
	SetLinkedPatient(ctx context.Context, caregiverID, patientID string) error
}
