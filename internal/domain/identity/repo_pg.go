package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"

	"github.com/alzheon/alzheon/internal/platform/db"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

type userRepoPG struct {
	pool *pgxpool.Pool
}

func NewUserRepoPG(pool *pgxpool.Pool) UserRepository {
	return &userRepoPG{pool: pool}
}

func (r *userRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const userCols = `u.id, u.nombre, u.email, u.password, u.rol, u.paciente_asociado, u.created_at,
	ARRAY(SELECT mp.paciente_id FROM medico_pacientes mp WHERE mp.medico_id = u.id ORDER BY mp.created_at)`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Nombre, &u.Email, &u.Password, &u.Rol, &u.PacienteAsociado, &u.CreatedAt, &u.PacientesAsignados)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if len(u.PacientesAsignados) == 0 {
		u.PacientesAsignados = nil
	}
	return &u, nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func (r *userRepoPG) Create(ctx context.Context, u *User) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO usuarios (id, nombre, email, password, rol, paciente_asociado, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.Nombre, u.Email, u.Password, u.Rol, u.PacienteAsociado, u.CreatedAt,
	)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return ErrEmailTaken
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *userRepoPG) GetByID(ctx context.Context, id string) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM usuarios u WHERE u.id = $1`, id))
}

func (r *userRepoPG) GetByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(r.conn(ctx).QueryRow(ctx, `SELECT `+userCols+` FROM usuarios u WHERE u.email = $1`, email))
}

func (r *userRepoPG) ListByIDs(ctx context.Context, ids []string) ([]*User, error) {
	ids = lo.Uniq(ids)
	if len(ids) == 0 {
		return []*User{}, nil
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+userCols+` FROM usuarios u WHERE u.id = ANY($1) ORDER BY u.nombre`, ids)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := []*User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *userRepoPG) AddAssignedPatient(ctx context.Context, doctorID, patientID string) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO medico_pacientes (medico_id, paciente_id) VALUES ($1, $2)
		ON CONFLICT (medico_id, paciente_id) DO NOTHING`,
		doctorID, patientID,
	)
	if err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return ErrNotFound
		}
		return fmt.Errorf("assign patient: %w", err)
	}
	return nil
}

func (r *userRepoPG) SetLinkedPatient(ctx context.Context, caregiverID, patientID string) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE usuarios SET paciente_asociado = $2 WHERE id = $1`, caregiverID, patientID)
	if err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return ErrNotFound
		}
		return fmt.Errorf("link patient: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
