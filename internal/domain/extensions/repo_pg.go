package extensions

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

type functionRepoPG struct{ pool *pgxpool.Pool }

func NewFunctionRepoPG(pool *pgxpool.Pool) FunctionRepository { return &functionRepoPG{pool: pool} }

func (r *functionRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const functionCols = `id, name, params, source, description, created_by, created_at, updated_at`

func (r *functionRepoPG) scanFunction(row pgx.Row) (*CustomFunction, error) {
	var fn CustomFunction
	err := row.Scan(&fn.ID, &fn.Name, &fn.Params, &fn.Source, &fn.Description,
		&fn.CreatedBy, &fn.CreatedAt, &fn.UpdatedAt)
	return &fn, err
}

func (r *functionRepoPG) Create(ctx context.Context, fn *CustomFunction) error {
	fn.ID = uuid.New()
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO custom_function (id, name, params, source, description, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+functionCols,
		fn.ID, fn.Name, fn.Params, fn.Source, fn.Description, fn.CreatedBy)
	saved, err := r.scanFunction(row)
	if err != nil {
		return err
	}
	*fn = *saved
	return nil
}

func (r *functionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*CustomFunction, error) {
	fn, err := r.scanFunction(r.conn(ctx).QueryRow(ctx,
		`SELECT `+functionCols+` FROM custom_function WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrFunctionNotFound
	}
	if err != nil {
		return nil, err
	}
	return fn, nil
}

func (r *functionRepoPG) GetByName(ctx context.Context, name string) (*CustomFunction, error) {
	fn, err := r.scanFunction(r.conn(ctx).QueryRow(ctx,
		`SELECT `+functionCols+` FROM custom_function WHERE name = $1`, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrFunctionNotFound
	}
	if err != nil {
		return nil, err
	}
	return fn, nil
}

func (r *functionRepoPG) Update(ctx context.Context, fn *CustomFunction) error {
	row := r.conn(ctx).QueryRow(ctx, `
		UPDATE custom_function
		SET name = $2, params = $3, source = $4, description = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING `+functionCols,
		fn.ID, fn.Name, fn.Params, fn.Source, fn.Description)
	saved, err := r.scanFunction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrFunctionNotFound
	}
	if err != nil {
		return err
	}
	*fn = *saved
	return nil
}

func (r *functionRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM custom_function WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrFunctionNotFound
	}
	return nil
}

func (r *functionRepoPG) List(ctx context.Context) ([]*CustomFunction, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+functionCols+` FROM custom_function ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*CustomFunction
	for rows.Next() {
		fn, err := r.scanFunction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, fn)
	}
	return out, rows.Err()
}
