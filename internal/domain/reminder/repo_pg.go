package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alzheon/alzheon/internal/platform/db"
)

type settingsRepoPG struct {
	pool *pgxpool.Pool
}

func NewSettingsRepoPG(pool *pgxpool.Pool) SettingsRepository {
	return &settingsRepoPG{pool: pool}
}

func (r *settingsRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const settingsCols = `c.id, c.usuario_id, c.enabled, c.hour, c.frequency, c.next_session,
	c.motivational_message, c.last_sent_at, COALESCE(c.claim_token, ''), c.claimed_until, c.retry_at, c.updated_at`

func scanSettings(row pgx.Row, extra ...any) (*Settings, error) {
	var s Settings
	rem := &s.Recordatorios
	dest := append([]any{
		&s.ID, &s.UserID, &rem.Enabled, &rem.Hour, &rem.Frequency, &rem.NextSession,
		&rem.MotivationalMessage, &rem.LastSentAt, &rem.ClaimToken, &rem.ClaimedUntil, &rem.RetryAt, &s.UpdatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *settingsRepoPG) GetByUser(ctx context.Context, userID string) (*Settings, error) {
	return scanSettings(r.conn(ctx).QueryRow(ctx,
		`SELECT `+settingsCols+` FROM configuraciones c WHERE c.usuario_id = $1`, userID))
}

func (r *settingsRepoPG) CreateIfAbsent(ctx context.Context, s *Settings) (*Settings, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	rem := s.Recordatorios
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO configuraciones (id, usuario_id, enabled, hour, frequency, next_session, motivational_message, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (usuario_id) DO NOTHING`,
		s.ID, s.UserID, rem.Enabled, rem.Hour, rem.Frequency, rem.NextSession, rem.MotivationalMessage, s.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create settings: %w", err)
	}
	return r.GetByUser(ctx, s.UserID)
}

func (r *settingsRepoPG) UpdateReminders(ctx context.Context, userID string, upd ReminderUpdate, now time.Time) (*Settings, error) {
	s, err := scanSettings(r.conn(ctx).QueryRow(ctx, `
		UPDATE configuraciones c SET
			enabled = $2, hour = $3, frequency = $4, motivational_message = $5, updated_at = $7,
			next_session = CASE WHEN $8 THEN c.next_session ELSE $6 END,
			retry_at = CASE WHEN $8 THEN c.retry_at ELSE NULL END
		WHERE c.usuario_id = $1
		RETURNING `+settingsCols,
		userID, upd.Enabled, upd.Hour, upd.Frequency, upd.MotivationalMessage, upd.NextSession, now, upd.KeepNextSession,
	))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("update reminders: %w", err)
	}
	return s, err
}

func (r *settingsRepoPG) GetRecipient(ctx context.Context, userID string) (*Recipient, error) {
	var rcpt Recipient
	err := r.conn(ctx).QueryRow(ctx, `SELECT id, nombre, email FROM usuarios WHERE id = $1`, userID).
		Scan(&rcpt.ID, &rcpt.Nombre, &rcpt.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find recipient: %w", err)
	}
	return &rcpt, nil
}

const dueCondition = `c.enabled AND c.next_session <= $1
	AND (c.claim_token IS NULL OR c.claimed_until <= $1)
	AND (c.retry_at IS NULL OR c.retry_at <= $1)`

func (r *settingsRepoPG) ListDue(ctx context.Context, now time.Time, limit int) ([]Due, error) {
	query := `SELECT ` + settingsCols + `, u.id, u.nombre, u.email
		FROM configuraciones c
		LEFT JOIN usuarios u ON u.id = c.usuario_id
		WHERE ` + dueCondition + `
		ORDER BY c.next_session`
	args := []any{now}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find due settings: %w", err)
	}
	defer rows.Close()

	var due []Due
	for rows.Next() {
		var uid, nombre, email *string
		s, err := scanSettings(rows, &uid, &nombre, &email)
		if err != nil {
			return nil, fmt.Errorf("scan due settings: %w", err)
		}
		item := Due{Settings: s}
		if uid != nil {
			item.User = &Recipient{ID: *uid, Nombre: deref(nombre), Email: deref(email)}
		}
		due = append(due, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due settings: %w", err)
	}
	return due, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (r *settingsRepoPG) Claim(ctx context.Context, id, token string, now, until time.Time) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE configuraciones c SET claim_token = $2, claimed_until = $3
		WHERE c.id = $4 AND `+dueCondition,
		now, token, until, id,
	)
	if err != nil {
		return false, fmt.Errorf("claim settings %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Reschedule moves next_session only while the stored slot still matches
// sent. The claim is cleared and last_sent_at recorded either way.
func (r *settingsRepoPG) Reschedule(ctx context.Context, id, token string, sent Slot, next, sentAt time.Time) (bool, error) {
	var applied bool
	err := r.conn(ctx).QueryRow(ctx, `
		WITH cur AS (
			SELECT id, (enabled AND hour = $5 AND frequency = $6) AS same_slot
			FROM configuraciones
			WHERE id = $1 AND claim_token = $2
			FOR UPDATE
		)
		UPDATE configuraciones c SET
			next_session = CASE WHEN cur.same_slot THEN $3 ELSE c.next_session END,
			last_sent_at = $4, updated_at = $4,
			claim_token = NULL, claimed_until = NULL, retry_at = NULL
		FROM cur
		WHERE c.id = cur.id
		RETURNING cur.same_slot`,
		id, token, next, sentAt, sent.Hour, string(sent.Frequency),
	).Scan(&applied)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrClaimLost
		}
		return false, fmt.Errorf("reschedule settings %s: %w", id, err)
	}
	return applied, nil
}

func (r *settingsRepoPG) Release(ctx context.Context, id, token string, retryAt time.Time) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE configuraciones SET claim_token = NULL, claimed_until = NULL, retry_at = $3
		WHERE id = $1 AND claim_token = $2`,
		id, token, retryAt,
	)
	if err != nil {
		return fmt.Errorf("release settings %s: %w", id, err)
	}
	return nil
}

func (r *settingsRepoPG) Postpone(ctx context.Context, id string, retryAt time.Time) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE configuraciones SET retry_at = $2 WHERE id = $1`, id, retryAt)
	if err != nil {
		return fmt.Errorf("postpone settings %s: %w", id, err)
	}
	return nil
}
