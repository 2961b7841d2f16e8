package reminder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alzheon/alzheon/internal/platform/notification"
)

// Service backs the configuracion API.
type Service struct {
	repo      SettingsRepository
	mailer    notification.EmailSender
	templates *notification.TemplateEngine
	loc       *time.Location
	now       func() time.Time
}

func NewService(repo SettingsRepository, mailer notification.EmailSender, templates *notification.TemplateEngine, loc *time.Location) *Service {
	if loc == nil {
		loc = time.Local
	}
	if templates == nil {
		templates = notification.NewTemplateEngine()
	}
	return &Service{repo: repo, mailer: mailer, templates: templates, loc: loc, now: time.Now}
}

// EnsureDefaults creates the user's settings if missing.
func (s *Service) EnsureDefaults(ctx context.Context, userID string) error {
	_, err := s.Get(ctx, userID)
	return err
}

// Get returns the user's settings, creating defaults on first access.
func (s *Service) Get(ctx context.Context, userID string) (*Settings, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	st, err := s.repo.GetByUser(ctx, userID)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return s.repo.CreateIfAbsent(ctx, DefaultSettings(uuid.NewString(), userID, s.now().UTC()))
}

// UpdateRemindersInput carries a partial update; nil fields keep their value.
type UpdateRemindersInput struct {
	Enabled             *bool   `json:"enabled"`
	Hour                *string `json:"hour"`
	Frequency           *string `json:"frequency"`
	MotivationalMessage *string `json:"motivationalMessage"`
}

const maxMessageLen = 500

// UpdateReminders validates and applies in. Enabling, or changing the slot
// while enabled, recomputes nextSession from the current time.
func (s *Service) UpdateReminders(ctx context.Context, userID string, in UpdateRemindersInput) (*Settings, error) {
	current, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	rem := current.Recordatorios
	upd := ReminderUpdate{
		Enabled:             rem.Enabled,
		Hour:                rem.Hour,
		Frequency:           rem.Frequency,
		MotivationalMessage: rem.MotivationalMessage,
	}
	if in.Enabled != nil {
		upd.Enabled = *in.Enabled
	}
	if in.Hour != nil {
		h := strings.TrimSpace(*in.Hour)
		if _, _, ok := ParseHour(h); !ok {
			return nil, fmt.Errorf("%w: hour must be HH:MM", ErrInvalidInput)
		}
		upd.Hour = h
	}
	if in.Frequency != nil {
		f := Frequency(*in.Frequency)
		if !f.Valid() {
			return nil, fmt.Errorf("%w: frequency must be diario, cada_2_dias or semanal", ErrInvalidInput)
		}
		upd.Frequency = f
	}
	if in.MotivationalMessage != nil {
		msg := strings.TrimSpace(*in.MotivationalMessage)
		if len(msg) > maxMessageLen {
			return nil, fmt.Errorf("%w: motivationalMessage is too long", ErrInvalidInput)
		}
		upd.MotivationalMessage = msg
	}
	if upd.Hour == "" {
		upd.Hour = DefaultHour
	}

	now := s.now()
	if upd.Enabled {
		slotChanged := upd.Hour != rem.Hour || upd.Frequency != rem.Frequency
		if !rem.Enabled || slotChanged || rem.NextSession == nil {
			next := NextOccurrence(upd.Hour, upd.Frequency, now.In(s.loc))
			upd.NextSession = &next
		} else {
			// leave whatever the dispatcher last stored
			upd.KeepNextSession = true
		}
	}

	return s.repo.UpdateReminders(ctx, userID, upd, now.UTC())
}

// SendTest emails the reminder to the caller right away. nextSession is left
// untouched.
func (s *Service) SendTest(ctx context.Context, userID string) error {
	st, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}
	rcpt, err := s.repo.GetRecipient(ctx, userID)
	if err != nil {
		return err
	}
	if rcpt.Email == "" {
		return ErrNoEmail
	}
	subject, body, err := composeReminder(s.templates, rcpt.Nombre, st.Recordatorios.MotivationalMessage)
	if err != nil {
		return err
	}
	if err := s.mailer.SendEmail(ctx, rcpt.Email, subject, body); err != nil {
		return fmt.Errorf("send test reminder: %w", err)
	}
	return nil
}
