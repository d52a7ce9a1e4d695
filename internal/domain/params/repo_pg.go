package params

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

type prefRepoPG struct{ pool *pgxpool.Pool }

func NewPreferenceRepoPG(pool *pgxpool.Pool) PreferenceRepository { return &prefRepoPG{pool: pool} }

func (r *prefRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const prefCols = `id, user_id, key, value, updated_at`

func (r *prefRepoPG) scanPreference(row pgx.Row) (*Preference, error) {
	var p Preference
	err := row.Scan(&p.ID, &p.UserID, &p.Key, &p.Value, &p.UpdatedAt)
	return &p, err
}

func (r *prefRepoPG) Upsert(ctx context.Context, pref *Preference) error {
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO preference (id, user_id, key, value, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (user_id, key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
		RETURNING `+prefCols,
		uuid.New(), pref.UserID, pref.Key, pref.Value)
	saved, err := r.scanPreference(row)
	if err != nil {
		return err
	}
	*pref = *saved
	return nil
}

func (r *prefRepoPG) GetByUser(ctx context.Context, userID string) ([]*Preference, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+prefCols+` FROM preference WHERE user_id = $1 ORDER BY key`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Preference
	for rows.Next() {
		p, err := r.scanPreference(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *prefRepoPG) Get(ctx context.Context, userID, key string) (*Preference, error) {
	p, err := r.scanPreference(r.conn(ctx).QueryRow(ctx,
		`SELECT `+prefCols+` FROM preference WHERE user_id = $1 AND key = $2`, userID, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPreferenceNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *prefRepoPG) Delete(ctx context.Context, userID, key string) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM preference WHERE user_id = $1 AND key = $2`, userID, key)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPreferenceNotFound
	}
	return nil
}
