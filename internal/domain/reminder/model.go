package reminder

import (
	"errors"
	"time"
)

type Frequency string

const (
	FrequencyDaily         Frequency = "diario"
	FrequencyEveryOtherDay Frequency = "cada_2_dias"
	FrequencyWeekly        Frequency = "semanal"
)

// Valid reports whether f is one of the known frequencies.
func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyEveryOtherDay, FrequencyWeekly:
		return true
	}
	return false
}

var (
	ErrNotFound     = errors.New("settings not found")
	ErrInvalidInput = errors.New("invalid input")
	// ErrClaimLost means another dispatcher took over the claim, or the
	// lease was released, before the reschedule was written.
	ErrClaimLost = errors.New("reminder claim lost")
	ErrNoEmail   = errors.New("user has no email")
)

// Reminders is the recordatorios sub-record of a Configuracion.
type Reminders struct {
	Enabled             bool       `json:"enabled" bson:"enabled"`
	Hour                string     `json:"hour" bson:"hour"`
	Frequency           Frequency  `json:"frequency" bson:"frequency"`
	NextSession         *time.Time `json:"nextSession,omitempty" bson:"nextSession,omitempty"`
	MotivationalMessage string     `json:"motivationalMessage" bson:"motivationalMessage"`
	LastSentAt          *time.Time `json:"lastSentAt,omitempty" bson:"lastSentAt,omitempty"`

	// Claim held by the dispatcher while a due slot is being sent.
	ClaimToken   string     `json:"-" bson:"claimToken,omitempty"`
	ClaimedUntil *time.Time `json:"-" bson:"claimedUntil,omitempty"`
	// RetryAt keeps a slot that was skipped or failed out of the due scan
	// until that time.
	RetryAt *time.Time `json:"-" bson:"retryAt,omitempty"`
}

// Slot returns the fields the next occurrence is computed from.
func (r Reminders) Slot() Slot {
	return Slot{Hour: r.Hour, Frequency: r.Frequency}
}

// Slot is the configured time of day and frequency.
type Slot struct {
	Hour      string
	Frequency Frequency
}

// Settings is the per-user Configuracion record.
type Settings struct {
	ID            string    `json:"_id" bson:"_id"`
	UserID        string    `json:"usuario" bson:"usuario"`
	Recordatorios Reminders `json:"recordatorios" bson:"recordatorios"`
	UpdatedAt     time.Time `json:"updatedAt" bson:"updatedAt"`
}

// DefaultSettings has reminders off at 10:00 daily.
func DefaultSettings(id, userID string, now time.Time) *Settings {
	return &Settings{
		ID:     id,
		UserID: userID,
		Recordatorios: Reminders{
			Enabled:   false,
			Hour:      DefaultHour,
			Frequency: FrequencyDaily,
		},
		UpdatedAt: now,
	}
}

// Recipient is the owning user's contact data, joined onto due settings.
type Recipient struct {
	ID     string `json:"_id" bson:"_id"`
	Nombre string `json:"nombre" bson:"nombre"`
	Email  string `json:"email" bson:"email"`
}

// Due is a configuration whose nextSession has passed. User is nil when the
// owning user no longer exists.
type Due struct {
	Settings *Settings
	User     *Recipient
}

// ReminderUpdate is the full set of user-editable reminder fields. With
// KeepNextSession the stored nextSession is left as is and NextSession is
// ignored.
type ReminderUpdate struct {
	Enabled             bool
	Hour                string
	Frequency           Frequency
	MotivationalMessage string
	NextSession         *time.Time
	KeepNextSession     bool
}
