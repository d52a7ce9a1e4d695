package ranges

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

// =========== Range Repository ===========

type rangeRepoPG struct{ pool *pgxpool.Pool }

func NewRangeRepoPG(pool *pgxpool.Pool) RangeRepository { return &rangeRepoPG{pool: pool} }

func (r *rangeRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const rangeCols = `id, key, feasible_low, critical_low, normal_low, normal_high, critical_high, feasible_high, created_at, updated_at`

func (r *rangeRepoPG) scanRange(row pgx.Row) (*ReferenceRange, error) {
	var rr ReferenceRange
	err := row.Scan(&rr.ID, &rr.Key, &rr.FeasibleLow, &rr.CriticalLow, &rr.NormalLow,
		&rr.NormalHigh, &rr.CriticalHigh, &rr.FeasibleHigh, &rr.CreatedAt, &rr.UpdatedAt)
	return &rr, err
}

func (r *rangeRepoPG) Upsert(ctx context.Context, rr *ReferenceRange) error {
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO reference_range (id, key, feasible_low, critical_low, normal_low,
			normal_high, critical_high, feasible_high)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (key) DO UPDATE SET
			feasible_low = EXCLUDED.feasible_low,
			critical_low = EXCLUDED.critical_low,
			normal_low = EXCLUDED.normal_low,
			normal_high = EXCLUDED.normal_high,
			critical_high = EXCLUDED.critical_high,
			feasible_high = EXCLUDED.feasible_high,
			updated_at = NOW()
		RETURNING `+rangeCols,
		uuid.New(), rr.Key, rr.FeasibleLow, rr.CriticalLow, rr.NormalLow,
		rr.NormalHigh, rr.CriticalHigh, rr.FeasibleHigh)
	saved, err := r.scanRange(row)
	if err != nil {
		return err
	}
	*rr = *saved
	return nil
}

func (r *rangeRepoPG) GetByKey(ctx context.Context, key string) (*ReferenceRange, error) {
	rr, err := r.scanRange(r.conn(ctx).QueryRow(ctx,
		`SELECT `+rangeCols+` FROM reference_range WHERE key = $1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRangeNotFound
	}
	if err != nil {
		return nil, err
	}
	return rr, nil
}

func (r *rangeRepoPG) List(ctx context.Context) ([]*ReferenceRange, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+rangeCols+` FROM reference_range ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*ReferenceRange
	for rows.Next() {
		rr, err := r.scanRange(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rr)
	}
	return out, rows.Err()
}

func (r *rangeRepoPG) Delete(ctx context.Context, key string) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM reference_range WHERE key = $1`, key)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRangeNotFound
	}
	return nil
}

// =========== Event Repository ===========

type eventRepoPG struct{ pool *pgxpool.Pool }

func NewEventRepoPG(pool *pgxpool.Pool) EventRepository { return &eventRepoPG{pool: pool} }

func (r *eventRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const eventCols = `id, session_id, ts, key, old_value, entered_value, accepted_value, severity, threshold, message, user_action, user_id`

func (r *eventRepoPG) scanEvent(row pgx.Row) (*ValidationEvent, error) {
	var ev ValidationEvent
	err := row.Scan(&ev.ID, &ev.SessionID, &ev.Timestamp, &ev.Key, &ev.OldValue,
		&ev.EnteredValue, &ev.AcceptedValue, &ev.Severity, &ev.Threshold,
		&ev.Message, &ev.UserAction, &ev.UserID)
	return &ev, err
}

func (r *eventRepoPG) Create(ctx context.Context, ev *ValidationEvent) error {
	// The state machine assigns the id when it builds the event; keep it
	// so the session log and the audit row stay correlated.
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	row := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO validation_event (id, session_id, ts, key, old_value, entered_value,
			accepted_value, severity, threshold, message, user_action, user_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING `+eventCols,
		ev.ID, ev.SessionID, ev.Timestamp, ev.Key, ev.OldValue, ev.EnteredValue,
		ev.AcceptedValue, ev.Severity, ev.Threshold, ev.Message, ev.UserAction, ev.UserID)
	saved, err := r.scanEvent(row)
	if err != nil {
		return err
	}
	*ev = *saved
	return nil
}

var eventSearchParams = map[string]db.ParamConfig{
	"session_id":  {Type: db.ParamToken, Column: "session_id"},
	"key":         {Type: db.ParamToken, Column: "key"},
	"severity":    {Type: db.ParamToken, Column: "severity"},
	"user_action": {Type: db.ParamToken, Column: "user_action"},
	"user_id":     {Type: db.ParamToken, Column: "user_id"},
}

func (r *eventRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*ValidationEvent, int, error) {
	q := db.NewQuery("validation_event", eventCols)
	q.ApplyParams(params, eventSearchParams)
	q.OrderBy("ts DESC")

	var total int
	if err := r.conn(ctx).QueryRow(ctx, q.CountSQL(), q.CountArgs()...).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, q.DataSQL(limit, offset), q.DataArgs(limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*ValidationEvent
	for rows.Next() {
		ev, err := r.scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, ev)
	}
	return out, total, rows.Err()
}
