package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/alzheon/alzheon/internal/platform/notification"
	"github.com/alzheon/alzheon/internal/platform/scheduling"
)

type Outcome string

const (
	OutcomeSent    Outcome = "sent"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
	OutcomeBusy    Outcome = "busy"
)

// ItemResult is the outcome of processing one due configuration.
type ItemResult struct {
	SettingsID  string     `json:"settingsId"`
	UserID      string     `json:"userId"`
	Outcome     Outcome    `json:"outcome"`
	Reason      string     `json:"reason,omitempty"`
	NextSession *time.Time `json:"nextSession,omitempty"`
}

// BatchResult aggregates one tick. QueryError is set when the due scan
// itself failed, in which case Items is empty.
type BatchResult struct {
	StartedAt  time.Time     `json:"startedAt"`
	Duration   time.Duration `json:"duration"`
	Items      []ItemResult  `json:"items"`
	Sent       int           `json:"sent"`
	Skipped    int           `json:"skipped"`
	Failed     int           `json:"failed"`
	Busy       int           `json:"busy"`
	QueryError error         `json:"-"`
}

func (b *BatchResult) add(r ItemResult) {
	b.Items = append(b.Items, r)
	switch r.Outcome {
	case OutcomeSent:
		b.Sent++
	case OutcomeSkipped:
		b.Skipped++
	case OutcomeFailed:
		b.Failed++
	case OutcomeBusy:
		b.Busy++
	}
}

type DispatcherConfig struct {
	// BatchSize caps how many due configurations one tick handles.
	BatchSize int
	// Lease is how long a claim protects a slot being dispatched.
	Lease time.Duration
	// MailRPS bounds sends per second; zero or less disables pacing.
	MailRPS float64
	// Location interprets the HH:MM slots. Defaults to time.Local.
	Location *time.Location
	// RetryBackoff keeps a slot whose send failed out of the due scan for
	// this long. Defaults to five minutes.
	RetryBackoff time.Duration
	// SkipBackoff does the same for slots skipped for a missing user or
	// address. Defaults to one hour.
	SkipBackoff time.Duration
	// SendTimeout bounds one mail delivery and is kept below Lease.
	// Defaults to 30s.
	SendTimeout time.Duration
}

// Dispatcher scans due reminders and sends them one at a time.
type Dispatcher struct {
	repo      SettingsRepository
	mailer    notification.EmailSender
	templates *notification.TemplateEngine
	cfg       DispatcherConfig
	limiter   *rate.Limiter
	inflight  singleflight.Group
	logger    zerolog.Logger

	now      func() time.Time
	newToken func() string
}

func NewDispatcher(repo SettingsRepository, mailer notification.EmailSender, templates *notification.TemplateEngine, cfg DispatcherConfig, logger zerolog.Logger) *Dispatcher {
	if cfg.Lease <= 0 {
		cfg.Lease = 5 * time.Minute
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 5 * time.Minute
	}
	if cfg.SkipBackoff <= 0 {
		cfg.SkipBackoff = time.Hour
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	if cfg.SendTimeout >= cfg.Lease {
		cfg.SendTimeout = cfg.Lease / 2
	}
	if templates == nil {
		templates = notification.NewTemplateEngine()
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.MailRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.MailRPS), 1)
	}
	return &Dispatcher{
		repo:      repo,
		mailer:    mailer,
		templates: templates,
		cfg:       cfg,
		limiter:   limiter,
		logger:    logger.With().Str("component", "reminder-dispatcher").Logger(),
		now:       time.Now,
		newToken:  uuid.NewString,
	}
}

// Job adapts RunOnce to the scheduler.
func (d *Dispatcher) Job() scheduling.Job {
	return func(ctx context.Context) {
		d.RunOnce(ctx)
	}
}

// RunOnce performs one scan-and-dispatch pass. It never returns an error;
// failures are reported per item or through QueryError.
func (d *Dispatcher) RunOnce(ctx context.Context) BatchResult {
	start := d.now()
	res := BatchResult{StartedAt: start}

	due, err := d.repo.ListDue(ctx, start, d.cfg.BatchSize)
	if err != nil {
		d.logger.Error().Err(err).Msg("due reminder query failed")
		res.QueryError = err
		res.Duration = d.now().Sub(start)
		return res
	}

	for _, item := range due {
		if ctx.Err() != nil {
			d.logger.Warn().Int("remaining", len(due)-len(res.Items)).Msg("dispatch interrupted")
			break
		}
		res.add(d.process(ctx, item))
	}

	res.Duration = d.now().Sub(start)
	if len(due) > 0 {
		d.logger.Info().
			Int("due", len(due)).
			Int("sent", res.Sent).
			Int("skipped", res.Skipped).
			Int("failed", res.Failed).
			Int("busy", res.Busy).
			Dur("duration", res.Duration).
			Msg("reminder batch complete")
	}
	return res
}

// process guards one configuration with an in-process single-flight so a
// concurrent pass on the same id reports busy instead of sending twice.
func (d *Dispatcher) process(ctx context.Context, due Due) ItemResult {
	id := due.Settings.ID
	executed := false
	v, _, _ := d.inflight.Do(id, func() (interface{}, error) {
		executed = true
		return d.dispatch(ctx, due), nil
	})
	if !executed {
		return ItemResult{SettingsID: id, UserID: due.Settings.UserID, Outcome: OutcomeBusy, Reason: "dispatch already in flight"}
	}
	return v.(ItemResult)
}

func (d *Dispatcher) dispatch(ctx context.Context, due Due) ItemResult {
	s := due.Settings
	res := ItemResult{SettingsID: s.ID, UserID: s.UserID}
	log := d.logger.With().Str("settings_id", s.ID).Str("user_id", s.UserID).Logger()

	switch {
	case due.User == nil:
		res.Outcome, res.Reason = OutcomeSkipped, "user not found"
	case due.User.Email == "":
		res.Outcome, res.Reason = OutcomeSkipped, "user has no email"
	}
	if res.Outcome == OutcomeSkipped {
		retryAt := d.now().Add(d.cfg.SkipBackoff)
		d.settle(ctx, log, func(ctx context.Context) error {
			return d.repo.Postpone(ctx, s.ID, retryAt)
		})
		log.Warn().Str("reason", res.Reason).Time("retry_at", retryAt).Msg("reminder skipped")
		return res
	}

	now := d.now()
	token := d.newToken()
	ok, err := d.repo.Claim(ctx, s.ID, token, now, now.Add(d.cfg.Lease))
	if err != nil {
		res.Outcome, res.Reason = OutcomeFailed, err.Error()
		log.Error().Err(err).Msg("reminder claim failed")
		return res
	}
	if !ok {
		res.Outcome, res.Reason = OutcomeBusy, "claimed elsewhere or no longer due"
		log.Debug().Msg("reminder busy")
		return res
	}

	if err := d.send(ctx, due); err != nil {
		retryAt := d.now().Add(d.cfg.RetryBackoff)
		d.settle(ctx, log, func(ctx context.Context) error {
			return d.repo.Release(ctx, s.ID, token, retryAt)
		})
		res.Outcome, res.Reason = OutcomeFailed, err.Error()
		log.Error().Err(err).Str("email", due.User.Email).Time("retry_at", retryAt).Msg("reminder send failed")
		return res
	}

	sentAt := d.now()
	slot := s.Recordatorios.Slot()
	next := NextOccurrence(slot.Hour, slot.Frequency, sentAt.In(d.cfg.Location))
	applied, err := d.repo.Reschedule(ctx, s.ID, token, slot, next, sentAt)
	if err != nil {
		// The mail went out; the claim is left to expire so the slot is not
		// resent before the lease ends.
		res.Outcome, res.Reason = OutcomeFailed, fmt.Sprintf("reschedule: %v", err)
		log.Error().Err(err).Msg("reminder reschedule failed")
		return res
	}

	res.Outcome = OutcomeSent
	if !applied {
		log.Info().Msg("reminder sent; slot was edited meanwhile, keeping stored next session")
		return res
	}
	res.NextSession = &next
	log.Info().Time("next_session", next).Msg("reminder sent")
	return res
}

func (d *Dispatcher) send(ctx context.Context, due Due) error {
	subject, body, err := composeReminder(d.templates, due.User.Nombre, due.Settings.Recordatorios.MotivationalMessage)
	if err != nil {
		return err
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("mail rate limit: %w", err)
	}
	sctx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()
	return d.mailer.SendEmail(sctx, due.User.Email, subject, body)
}

// settle runs a release or postpone even when ctx is already cancelled so a
// shutdown mid-send does not leave the slot claimed for the whole lease.
func (d *Dispatcher) settle(ctx context.Context, log zerolog.Logger, fn func(context.Context) error) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := fn(sctx); err != nil {
		log.Error().Err(err).Msg("reminder backoff not stored")
	}
}

func composeReminder(templates *notification.TemplateEngine, nombre, message string) (string, string, error) {
	if message == "" {
		message = notification.DefaultMotivationalMessage
	}
	subject, body, err := templates.Render(notification.TemplateSessionReminder, map[string]string{
		"nombre":  nombre,
		"mensaje": message,
	})
	if err != nil {
		return "", "", fmt.Errorf("compose reminder: %w", err)
	}
	return subject, body, nil
}
