package cognitive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/alzheon/alzheon/internal/domain/identity"
	"github.com/alzheon/alzheon/internal/platform/blobstore"
	"github.com/alzheon/alzheon/internal/platform/db"
	"github.com/alzheon/alzheon/internal/platform/events"
	"github.com/alzheon/alzheon/internal/platform/notification"
)

// SubmissionDeps wires a SubmissionService. Publisher, Mailer, MailTemplates
// and Tx are optional.
type SubmissionDeps struct {
	Templates     TemplateRepository
	Assignments   AssignmentRepository
	Submissions   SubmissionRepository
	Users         Directory
	Blobs         blobstore.BlobStore
	Orchestrator  *Orchestrator
	Publisher     events.Publisher
	Mailer        notification.EmailSender
	MailTemplates *notification.TemplateEngine
	Tx            db.TxRunner
}

// SubmissionService stores uploaded results and their analyses.
type SubmissionService struct {
	templates     TemplateRepository
	assignments   AssignmentRepository
	submissions   SubmissionRepository
	users         Directory
	blobs         blobstore.BlobStore
	orchestrator  *Orchestrator
	publisher     events.Publisher
	mailer        notification.EmailSender
	mailTemplates *notification.TemplateEngine
	tx            db.TxRunner
	logger        zerolog.Logger
	now           func() time.Time
}

func NewSubmissionService(deps SubmissionDeps, logger zerolog.Logger) *SubmissionService {
	if deps.Tx == nil {
		deps.Tx = db.NoTx
	}
	if deps.MailTemplates == nil {
		deps.MailTemplates = notification.NewTemplateEngine()
	}
	return &SubmissionService{
		templates:     deps.Templates,
		assignments:   deps.Assignments,
		submissions:   deps.Submissions,
		users:         deps.Users,
		blobs:         deps.Blobs,
		orchestrator:  deps.Orchestrator,
		publisher:     deps.Publisher,
		mailer:        deps.Mailer,
		mailTemplates: deps.MailTemplates,
		tx:            deps.Tx,
		logger:        logger.With().Str("component", "submissions").Logger(),
		now:           time.Now,
	}
}

type SubmitInput struct {
	AssignmentID string
	UploaderID   string
	FileName     string
	ContentType  string
	Content      io.Reader
	Notas        string
}

// SubmitResult is the creation response. OK and Reason mirror the analysis
// outcome; the submission is stored either way.
type SubmitResult struct {
	OK         bool        `json:"ok"`
	Reason     string      `json:"reason,omitempty"`
	Submission *Submission `json:"submission"`
}

// canSubmit allows the patient, their linked caregiver, and the assigning
// doctor.
func canSubmit(u *identity.User, a *Assignment) bool {
	switch u.Rol {
	case identity.RolePaciente:
		return u.ID == a.PatientID
	case identity.RoleCuidador:
		return u.CaresFor(a.PatientID)
	case identity.RoleMedico:
		return u.ID == a.DoctorID
	}
	return false
}

// Submit stores the file, analyzes it and records exactly one submission.
// An analysis failure is stored as a marker and does not fail the call.
func (s *SubmissionService) Submit(ctx context.Context, in SubmitInput) (*SubmitResult, error) {
	a, err := s.assignments.GetByID(ctx, in.AssignmentID)
	if err != nil {
		return nil, err
	}
	uploader, err := caller(ctx, s.users, in.UploaderID)
	if err != nil {
		return nil, err
	}
	if !canSubmit(uploader, a) {
		return nil, ErrForbidden
	}
	tmpl, err := s.templates.GetByID(ctx, a.TemplateID)
	if err != nil {
		return nil, err
	}

	meta := blobstore.BlobMetadata{FileName: in.FileName, ContentType: in.ContentType, Owner: a.PatientID}
	if err := blobstore.Validate(meta); err != nil {
		return nil, err
	}
	if in.Content == nil {
		return nil, blobstore.ErrEmptyFile
	}
	data, err := io.ReadAll(io.LimitReader(in.Content, blobstore.MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if len(data) > blobstore.MaxFileSize {
		return nil, blobstore.ErrFileTooLarge
	}
	if len(data) == 0 {
		return nil, blobstore.ErrEmptyFile
	}

	stored, err := s.blobs.Upload(ctx, meta, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	outcome := s.orchestrator.Analyze(ctx, AnalysisInput{
		AssignmentID: a.ID,
		Template:     tmpl,
		Notas:        in.Notas,
		FileName:     stored.FileName,
		MimeType:     stored.ContentType,
		Data:         data,
	})

	sub := &Submission{
		ID:           uuid.NewString(),
		AssignmentID: a.ID,
		PatientID:    a.PatientID,
		UploadedBy:   uploader.ID,
		Archivo: File{
			BlobID:      stored.ID,
			Nombre:      stored.FileName,
			ContentType: stored.ContentType,
			Size:        stored.Size,
			Hash:        stored.Hash,
		},
		Notas:          strings.TrimSpace(in.Notas),
		AnalisisEstado: outcome.Status(),
		CreatedAt:      s.now().UTC(),
	}
	if outcome.OK {
		sub.Analisis = outcome.Analysis
	} else {
		sub.AnalisisError = &AnalysisError{Reason: outcome.Reason, Message: outcome.Message}
	}

	// The request may already be cancelled after a slow analysis; the record
	// is written regardless so the upload is not lost.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	err = s.tx(wctx, func(ctx context.Context) error {
		if err := s.submissions.Create(ctx, sub); err != nil {
			return err
		}
		return s.assignments.MarkCompleted(ctx, a.ID)
	})
	if err != nil {
		if derr := s.blobs.Delete(wctx, stored.ID); derr != nil {
			s.logger.Error().Err(derr).Str("blob_id", stored.ID).Msg("orphan blob cleanup failed")
		}
		return nil, fmt.Errorf("store submission: %w", err)
	}

	s.publishCreated(wctx, sub)
	s.notifyDoctor(wctx, a, uploader, tmpl)

	return &SubmitResult{OK: outcome.OK, Reason: outcome.Reason, Submission: sub}, nil
}

func (s *SubmissionService) publishCreated(ctx context.Context, sub *Submission) {
	if s.publisher == nil {
		return
	}
	evt, err := events.NewEvent(events.TypeSubmissionCreated, sub.PatientID, map[string]any{
		"submissionId":   sub.ID,
		"asignacionId":   sub.AssignmentID,
		"pacienteId":     sub.PatientID,
		"subidoPor":      sub.UploadedBy,
		"analisisEstado": sub.AnalisisEstado,
	})
	if err == nil {
		err = s.publisher.Publish(ctx, evt)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("submission_id", sub.ID).Msg("submission event not published")
	}
}

// notifyDoctor emails the assigning doctor. Failures are only logged.
func (s *SubmissionService) notifyDoctor(ctx context.Context, a *Assignment, uploader *identity.User, tmpl *TestTemplate) {
	if s.mailer == nil || uploader.ID == a.DoctorID {
		return
	}
	doc, err := s.users.GetUser(ctx, a.DoctorID)
	if err != nil || doc.Email == "" {
		return
	}
	patientName := uploader.Nombre
	if uploader.ID != a.PatientID {
		if p, err := s.users.GetUser(ctx, a.PatientID); err == nil {
			patientName = p.Nombre
		}
	}
	subject, body, err := s.mailTemplates.Render(notification.TemplateSubmissionAnalyzed, map[string]string{
		"paciente": patientName,
		"test":     tmpl.Nombre,
	})
	if err == nil {
		err = s.mailer.SendEmail(ctx, doc.Email, subject, body)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("assignment_id", a.ID).Msg("doctor notification failed")
	}
}

// -- Reads --

func (s *SubmissionService) visibleAssignment(ctx context.Context, callerID, assignmentID string) (*Assignment, error) {
	u, err := caller(ctx, s.users, callerID)
	if err != nil {
		return nil, err
	}
	a, err := s.assignments.GetByID(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if !canSeeAssignment(u, a) {
		return nil, ErrForbidden
	}
	return a, nil
}

func (s *SubmissionService) ListByAssignment(ctx context.Context, callerID, assignmentID string) ([]*Submission, error) {
	if _, err := s.visibleAssignment(ctx, callerID, assignmentID); err != nil {
		return nil, err
	}
	return s.submissions.ListByAssignment(ctx, assignmentID)
}

func (s *SubmissionService) Get(ctx context.Context, callerID, id string) (*Submission, error) {
	sub, err := s.submissions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.visibleAssignment(ctx, callerID, sub.AssignmentID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrForbidden
		}
		return nil, err
	}
	return sub, nil
}
