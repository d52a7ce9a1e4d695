package notes

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/tpn/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// =========== Note Repository ===========

type noteRepoPG struct{ pool *pgxpool.Pool }

func NewNoteRepoPG(pool *pgxpool.Pool) NoteRepository { return &noteRepoPG{pool: pool} }

func (r *noteRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const noteCols = `id, title, patient_id, status, segments, created_by, version_id, created_at, updated_at`

func (r *noteRepoPG) scanNote(row pgx.Row) (*Note, error) {
	var n Note
	err := row.Scan(&n.ID, &n.Title, &n.PatientID, &n.Status, &n.Segments,
		&n.CreatedBy, &n.VersionID, &n.CreatedAt, &n.UpdatedAt)
	return &n, err
}

func (r *noteRepoPG) Create(ctx context.Context, n *Note) error {
	n.ID = uuid.New()
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO note (id, title, patient_id, status, segments, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+noteCols,
		n.ID, n.Title, n.PatientID, n.Status, n.Segments, n.CreatedBy)
	saved, err := r.scanNote(row)
	if err != nil {
		return err
	}
	*n = *saved
	return nil
}

func (r *noteRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Note, error) {
	n, err := r.scanNote(r.conn(ctx).QueryRow(ctx,
		`SELECT `+noteCols+` FROM note WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoteNotFound
	}
	if err != nil {
		return nil, err
	}
	return n, nil
}

func (r *noteRepoPG) Update(ctx context.Context, n *Note) error {
	row := r.conn(ctx).QueryRow(ctx, `
		UPDATE note
		SET title = $2, patient_id = $3, status = $4, segments = $5,
			version_id = version_id + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING `+noteCols,
		n.ID, n.Title, n.PatientID, n.Status, n.Segments)
	saved, err := r.scanNote(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNoteNotFound
	}
	if err != nil {
		return err
	}
	*n = *saved
	return nil
}

func (r *noteRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM note WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNoteNotFound
	}
	return nil
}

var noteSearchParams = map[string]db.ParamConfig{
	"title":      {Type: db.ParamString, Column: "title"},
	"patient_id": {Type: db.ParamToken, Column: "patient_id"},
	"status":     {Type: db.ParamToken, Column: "status"},
	"created_by": {Type: db.ParamToken, Column: "created_by"},
}

func (r *noteRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Note, int, error) {
	q := db.NewQuery("note", noteCols)
	q.ApplyParams(params, noteSearchParams)
	q.OrderBy("updated_at DESC")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, q.CountSQL(), q.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, q.DataSQL(limit, offset), q.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Note
	for rows.Next() {
		n, err := r.scanNote(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, n)
	}
	return out, total, rows.Err()
}

// =========== Template Repository ===========

type templateRepoPG struct{ pool *pgxpool.Pool }

func NewTemplateRepoPG(pool *pgxpool.Pool) TemplateRepository { return &templateRepoPG{pool: pool} }

func (r *templateRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const templateCols = `id, name, category, shared, segments, created_by, created_at, updated_at`

func (r *templateRepoPG) scanTemplate(row pgx.Row) (*NoteTemplate, error) {
	var t NoteTemplate
	err := row.Scan(&t.ID, &t.Name, &t.Category, &t.Shared, &t.Segments,
		&t.CreatedBy, &t.CreatedAt, &t.UpdatedAt)
	return &t, err
}

func (r *templateRepoPG) Create(ctx context.Context, t *NoteTemplate) error {
	t.ID = uuid.New()
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO note_template (id, name, category, shared, segments, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+templateCols,
		t.ID, t.Name, t.Category, t.Shared, t.Segments, t.CreatedBy)
	saved, err := r.scanTemplate(row)
	if err != nil {
		return err
	}
	*t = *saved
	return nil
}

func (r *templateRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*NoteTemplate, error) {
	t, err := r.scanTemplate(r.conn(ctx).QueryRow(ctx,
		`SELECT `+templateCols+` FROM note_template WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTemplateNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *templateRepoPG) Update(ctx context.Context, t *NoteTemplate) error {
	row := r.conn(ctx).QueryRow(ctx, `
		UPDATE note_template
		SET name = $2, category = $3, shared = $4, segments = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING `+templateCols,
		t.ID, t.Name, t.Category, t.Shared, t.Segments)
	saved, err := r.scanTemplate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrTemplateNotFound
	}
	if err != nil {
		return err
	}
	*t = *saved
	return nil
}

func (r *templateRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM note_template WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTemplateNotFound
	}
	return nil
}

func (r *templateRepoPG) ListVisible(ctx context.Context, userID string, limit, offset int) ([]*NoteTemplate, int, error) {
	var total int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM note_template WHERE shared OR created_by = $1`, userID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+templateCols+` FROM note_template
		WHERE shared OR created_by = $1
		ORDER BY name LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*NoteTemplate
	for rows.Next() {
		t, err := r.scanTemplate(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}
