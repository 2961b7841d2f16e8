package cognitive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"

	"github.com/alzheon/alzheon/internal/platform/db"
	"github.com/alzheon/alzheon/pkg/pagination"
)

const pgForeignKeyViolation = "23503"

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("scan %s: %w", what, err)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// -- Templates --

type templateRepoPG struct {
	pool *pgxpool.Pool
}

func NewTemplateRepoPG(pool *pgxpool.Pool) TemplateRepository {
	return &templateRepoPG{pool: pool}
}

const templateCols = `id, tipo, nombre, descripcion, instrucciones, creado_por, created_at`

func scanTemplate(row pgx.Row) (*TestTemplate, error) {
	var t TestTemplate
	var creadoPor *string
	if err := row.Scan(&t.ID, &t.Tipo, &t.Nombre, &t.Descripcion, &t.Instrucciones, &creadoPor, &t.CreatedAt); err != nil {
		return nil, notFound(err, "template")
	}
	t.CreadoPor = lo.FromPtr(creadoPor)
	return &t, nil
}

func (r *templateRepoPG) Create(ctx context.Context, t *TestTemplate) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO test_templates (`+templateCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.Tipo, t.Nombre, t.Descripcion, t.Instrucciones, nullable(t.CreadoPor), t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

func (r *templateRepoPG) GetByID(ctx context.Context, id string) (*TestTemplate, error) {
	return scanTemplate(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+templateCols+` FROM test_templates WHERE id = $1`, id))
}

func (r *templateRepoPG) query(ctx context.Context, sql string, args ...any) ([]*TestTemplate, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()
	out := []*TestTemplate{}
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *templateRepoPG) List(ctx context.Context, p pagination.Params) ([]*TestTemplate, int, error) {
	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM test_templates`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count templates: %w", err)
	}
	out, err := r.query(ctx, `SELECT `+templateCols+` FROM test_templates ORDER BY nombre `+p.SQL())
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *templateRepoPG) ListByIDs(ctx context.Context, ids []string) ([]*TestTemplate, error) {
	ids = lo.Uniq(ids)
	if len(ids) == 0 {
		return []*TestTemplate{}, nil
	}
	return r.query(ctx, `SELECT `+templateCols+` FROM test_templates WHERE id = ANY($1)`, ids)
}

// -- Assignments --

type assignmentRepoPG struct {
	pool *pgxpool.Pool
}

func NewAssignmentRepoPG(pool *pgxpool.Pool) AssignmentRepository {
	return &assignmentRepoPG{pool: pool}
}

const assignmentCols = `id, paciente_id, medico_id, template_id, estado, notas, fecha_limite, created_at`

func scanAssignment(row pgx.Row) (*Assignment, error) {
	var a Assignment
	if err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.TemplateID, &a.Estado, &a.Notas, &a.FechaLimite, &a.CreatedAt); err != nil {
		return nil, notFound(err, "assignment")
	}
	return &a, nil
}

func (r *assignmentRepoPG) Create(ctx context.Context, a *Assignment) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO asignaciones (`+assignmentCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.PatientID, a.DoctorID, a.TemplateID, a.Estado, a.Notas, a.FechaLimite, a.CreatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return invalid("patient, doctor or template does not exist")
		}
		return fmt.Errorf("insert assignment: %w", err)
	}
	return nil
}

func (r *assignmentRepoPG) GetByID(ctx context.Context, id string) (*Assignment, error) {
	return scanAssignment(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+assignmentCols+` FROM asignaciones WHERE id = $1`, id))
}

func assignmentWhere(f AssignmentFilter) (string, []any) {
	var conds []string
	var args []any
	add := func(col, val string) {
		if val == "" {
			return
		}
		args = append(args, val)
		conds = append(conds, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	add("medico_id", f.DoctorID)
	add("paciente_id", f.PatientID)
	add("estado", f.Estado)
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *assignmentRepoPG) List(ctx context.Context, f AssignmentFilter, p pagination.Params) ([]*Assignment, int, error) {
	where, args := assignmentWhere(f)
	conn := db.Conn(ctx, r.pool)

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM asignaciones`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count assignments: %w", err)
	}

	rows, err := conn.Query(ctx, `SELECT `+assignmentCols+` FROM asignaciones`+where+` ORDER BY created_at DESC `+p.SQL(), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()
	out := []*Assignment{}
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

func (r *assignmentRepoPG) MarkCompleted(ctx context.Context, id string) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `UPDATE asignaciones SET estado = $2 WHERE id = $1`, id, EstadoCompletada)
	if err != nil {
		return fmt.Errorf("complete assignment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("assignment: %w", ErrNotFound)
	}
	return nil
}

// -- Submissions --

type submissionRepoPG struct {
	pool *pgxpool.Pool
}

func NewSubmissionRepoPG(pool *pgxpool.Pool) SubmissionRepository {
	return &submissionRepoPG{pool: pool}
}

const submissionCols = `id, asignacion_id, paciente_id, subido_por,
	archivo_blob_id, archivo_nombre, archivo_content_type, archivo_size, archivo_hash,
	notas, analisis, analisis_error, analisis_estado, created_at`

func scanSubmission(row pgx.Row) (*Submission, error) {
	var s Submission
	var analisis, analisisErr []byte
	err := row.Scan(&s.ID, &s.AssignmentID, &s.PatientID, &s.UploadedBy,
		&s.Archivo.BlobID, &s.Archivo.Nombre, &s.Archivo.ContentType, &s.Archivo.Size, &s.Archivo.Hash,
		&s.Notas, &analisis, &analisisErr, &s.AnalisisEstado, &s.CreatedAt)
	if err != nil {
		return nil, notFound(err, "submission")
	}
	if len(analisis) > 0 {
		s.Analisis = Document(analisis)
	}
	if len(analisisErr) > 0 {
		s.AnalisisError = &AnalysisError{}
		if err := json.Unmarshal(analisisErr, s.AnalisisError); err != nil {
			return nil, fmt.Errorf("decode analisis_error: %w", err)
		}
	}
	return &s, nil
}

func (r *submissionRepoPG) Create(ctx context.Context, s *Submission) error {
	var analisis, analisisErr []byte
	if len(s.Analisis) > 0 {
		analisis = []byte(s.Analisis)
	}
	if s.AnalisisError != nil {
		b, err := json.Marshal(s.AnalisisError)
		if err != nil {
			return fmt.Errorf("encode analisis_error: %w", err)
		}
		analisisErr = b
	}
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO submissions (`+submissionCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		s.ID, s.AssignmentID, s.PatientID, s.UploadedBy,
		s.Archivo.BlobID, s.Archivo.Nombre, s.Archivo.ContentType, s.Archivo.Size, s.Archivo.Hash,
		s.Notas, analisis, analisisErr, s.AnalisisEstado, s.CreatedAt,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("assignment: %w", ErrNotFound)
		}
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

func (r *submissionRepoPG) GetByID(ctx context.Context, id string) (*Submission, error) {
	return scanSubmission(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+submissionCols+` FROM submissions WHERE id = $1`, id))
}

func (r *submissionRepoPG) ListByAssignment(ctx context.Context, assignmentID string) ([]*Submission, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+submissionCols+` FROM submissions WHERE asignacion_id = $1 ORDER BY created_at`, assignmentID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()
	out := []*Submission{}
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
