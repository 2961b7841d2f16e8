package reminder

import (
	"context"
	"time"
)

type SettingsRepository interface {
	GetByUser(ctx context.Context, userID string) (*Settings, error)
	// CreateIfAbsent stores s unless the user already has settings, and
	// returns whichever record is stored.
	CreateIfAbsent(ctx context.Context, s *Settings) (*Settings, error)
	UpdateReminders(ctx context.Context, userID string, upd ReminderUpdate, now time.Time) (*Settings, error)
	GetRecipient(ctx context.Context, userID string) (*Recipient, error)

	// ListDue returns enabled settings with nextSession <= now that are not
	// under an unexpired claim or retryAt, oldest slot first, joined with
	// their user.
	ListDue(ctx context.Context, now time.Time, limit int) ([]Due, error)
	// Claim marks a due record as being dispatched until the given time. It
	// returns false when the record is no longer due or someone else holds
	// a live claim.
	Claim(ctx context.Context, id, token string, now, until time.Time) (bool, error)
	// Reschedule stores next, lastSentAt and clears the claim and retryAt.
	// When the stored slot no longer matches sent (the user edited it during
	// the dispatch) nextSession is kept and applied is false. It fails with
	// ErrClaimLost when token no longer holds the claim.
	Reschedule(ctx context.Context, id, token string, sent Slot, next, sentAt time.Time) (applied bool, err error)
	// Release clears the claim without touching nextSession and keeps the
	// record out of the due scan until retryAt.
	Release(ctx context.Context, id, token string, retryAt time.Time) error
	// Postpone keeps an unclaimed record out of the due scan until retryAt.
	Postpone(ctx context.Context, id string, retryAt time.Time) error
}
