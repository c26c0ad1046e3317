package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/ledgersync/internal/model"
)

// DBTX is the subset of pgx used by Postgres.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

const schema = `
CREATE TABLE IF NOT EXISTS ledger_vouchers (
	id            UUID PRIMARY KEY,
	document_id   TEXT NOT NULL,
	voucher_type  TEXT NOT NULL,
	voucher_date  DATE,
	amount        NUMERIC(18,2) NOT NULL DEFAULT 0,
	ledger_name   TEXT NOT NULL DEFAULT '',
	narration     TEXT NOT NULL DEFAULT '',
	reference     TEXT NOT NULL DEFAULT '',
	document_type TEXT NOT NULL DEFAULT '',
	confidence    DOUBLE PRECISION NOT NULL DEFAULT 0,
	sync_status   TEXT NOT NULL,
	attempts      INT NOT NULL DEFAULT 0,
	permanent     BOOLEAN NOT NULL DEFAULT FALSE,
	external_id   TEXT NOT NULL DEFAULT '',
	last_error    TEXT NOT NULL DEFAULT '',
	conflict_id   TEXT NOT NULL DEFAULT '',
	conflict_policy TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	modified_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS ledger_vouchers_due_idx
	ON ledger_vouchers (sync_status, permanent, created_at);

CREATE TABLE IF NOT EXISTS sync_conflicts (
	id          UUID PRIMARY KEY,
	entity_key  TEXT NOT NULL,
	record_ref  TEXT NOT NULL DEFAULT '',
	versions    JSONB NOT NULL,
	resolution  JSONB,
	detected_at TIMESTAMPTZ NOT NULL
);
`

const voucherColumns = `id::text, document_id, voucher_type, voucher_date, amount::text, ledger_name,
	narration, reference, document_type, confidence, sync_status, attempts, permanent,
	external_id, last_error, conflict_id, conflict_policy, created_at, modified_at`

// Postgres is a Queue backed by PostgreSQL.
type Postgres struct {
	db DBTX
}

// NewPostgres wraps a pool. Call EnsureSchema once at startup.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{db: pool}
}

// NewPostgresTx builds a Postgres queue over any DBTX, e.g. a transaction.
func NewPostgresTx(db DBTX) *Postgres {
	return &Postgres{db: db}
}

// EnsureSchema creates the queue tables if they do not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (p *Postgres) Enqueue(ctx context.Context, v model.LedgerVoucher) error {
	if v.SyncStatus != model.SyncPending && v.SyncStatus != model.SyncFailed {
		return fmt.Errorf("enqueue %s: %w", v.ID, ErrInvalidTransition)
	}
	now := time.Now()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = now
	}
	if v.ModifiedAt.IsZero() {
		v.ModifiedAt = v.CreatedAt
	}

	_, err := p.db.Exec(ctx, `
		INSERT INTO ledger_vouchers (id, document_id, voucher_type, voucher_date, amount, ledger_name,
			narration, reference, document_type, confidence, sync_status, attempts, permanent,
			external_id, last_error, conflict_id, conflict_policy, created_at, modified_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		v.ID, v.DocumentID, v.VoucherType, nullDate(v.Date), v.Amount.StringFixed(2), v.LedgerName,
		v.Narration, v.Reference, v.DocumentType, v.Confidence, string(v.SyncStatus), v.Attempts, v.Permanent,
		v.ExternalID, v.LastError, v.ConflictID, string(v.ConflictPolicy), v.CreatedAt, v.ModifiedAt,
	)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", v.ID, err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, id string) (model.LedgerVoucher, error) {
	row := p.db.QueryRow(ctx, `SELECT `+voucherColumns+` FROM ledger_vouchers WHERE id = $1`, id)
	v, err := scanVoucher(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.LedgerVoucher{}, ErrNotFound
	}
	return v, err
}

func (p *Postgres) Due(ctx context.Context, limit int) ([]model.LedgerVoucher, error) {
	if limit <= 0 {
		limit = 50
	}
	return p.queryVouchers(ctx, `
		SELECT `+voucherColumns+` FROM ledger_vouchers
		WHERE conflict_id = ''
		  AND (sync_status = 'pending' OR (sync_status = 'failed' AND NOT permanent))
		ORDER BY created_at, id
		LIMIT $1`, limit)
}

func (p *Postgres) MarkSynced(ctx context.Context, id, externalID string) error {
	return p.transition(ctx, id, `
		UPDATE ledger_vouchers
		SET sync_status = 'synced', external_id = $2, last_error = '', modified_at = now()
		WHERE id = $1 AND sync_status = 'pending'`, id, externalID)
}

func (p *Postgres) MarkFailed(ctx context.Context, id, reason string, permanent bool) error {
	return p.transition(ctx, id, `
		UPDATE ledger_vouchers
		SET sync_status = 'failed', attempts = attempts + 1, last_error = $2, permanent = $3, modified_at = now()
		WHERE id = $1 AND sync_status = 'pending'`, id, reason, permanent)
}

func (p *Postgres) MarkPending(ctx context.Context, id string) error {
	return p.transition(ctx, id, `
		UPDATE ledger_vouchers
		SET sync_status = 'pending', modified_at = now()
		WHERE id = $1 AND sync_status = 'failed' AND NOT permanent`, id)
}

func (p *Postgres) Requeue(ctx context.Context, id string) error {
	return p.transition(ctx, id, `
		UPDATE ledger_vouchers
		SET sync_status = 'pending', attempts = 0, permanent = FALSE, last_error = '', modified_at = now()
		WHERE id = $1 AND sync_status = 'failed'`, id)
}

func (p *Postgres) Replace(ctx context.Context, v model.LedgerVoucher) error {
	return p.transition(ctx, v.ID, `
		UPDATE ledger_vouchers
		SET voucher_type = $2, voucher_date = $3, amount = $4::numeric, ledger_name = $5,
		    narration = $6, reference = $7, confidence = $8, modified_at = now()
		WHERE id = $1 AND sync_status <> 'synced'`,
		v.ID, v.VoucherType, nullDate(v.Date), v.Amount.StringFixed(2), v.LedgerName,
		v.Narration, v.Reference, v.Confidence)
}

func (p *Postgres) Discard(ctx context.Context, id string) error {
	tag, err := p.db.Exec(ctx, `DELETE FROM ledger_vouchers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("discard %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) Hold(ctx context.Context, conflictID string, ids ...string) error {
	tag, err := p.db.Exec(ctx, `
		UPDATE ledger_vouchers SET conflict_id = $1, modified_at = now() WHERE id::text = ANY($2)`,
		conflictID, ids)
	if err != nil {
		return fmt.Errorf("hold: %w", err)
	}
	if int(tag.RowsAffected()) != len(ids) {
		return fmt.Errorf("hold: %w", ErrNotFound)
	}
	return nil
}

func (p *Postgres) Release(ctx context.Context, id string) error {
	return p.transition(ctx, id, `
		UPDATE ledger_vouchers SET conflict_id = '', modified_at = now() WHERE id = $1`, id)
}

func (p *Postgres) Failed(ctx context.Context) ([]model.LedgerVoucher, error) {
	return p.queryVouchers(ctx, `
		SELECT `+voucherColumns+` FROM ledger_vouchers
		WHERE sync_status = 'failed' AND permanent
		ORDER BY modified_at DESC`)
}

func (p *Postgres) SaveConflict(ctx context.Context, c model.Conflict) error {
	versions, err := json.Marshal(c.Versions)
	if err != nil {
		return fmt.Errorf("encode versions: %w", err)
	}
	var resolution []byte
	if c.Resolution != nil {
		if resolution, err = json.Marshal(c.Resolution); err != nil {
			return fmt.Errorf("encode resolution: %w", err)
		}
	}

	_, err = p.db.Exec(ctx, `
		INSERT INTO sync_conflicts (id, entity_key, record_ref, versions, resolution, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET versions = EXCLUDED.versions, resolution = EXCLUDED.resolution`,
		c.ID, c.EntityKey, c.RecordRef, versions, resolution, c.DetectedAt)
	if err != nil {
		return fmt.Errorf("save conflict %s: %w", c.ID, err)
	}
	return nil
}

func (p *Postgres) Conflict(ctx context.Context, id string) (model.Conflict, error) {
	row := p.db.QueryRow(ctx, `
		SELECT id::text, entity_key, record_ref, versions, resolution, detected_at
		FROM sync_conflicts WHERE id = $1`, id)
	c, err := scanConflict(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Conflict{}, ErrNotFound
	}
	return c, err
}

func (p *Postgres) Conflicts(ctx context.Context, includeResolved bool) ([]model.Conflict, error) {
	query := `SELECT id::text, entity_key, record_ref, versions, resolution, detected_at FROM sync_conflicts`
	if !includeResolved {
		query += ` WHERE resolution IS NULL`
	}
	query += ` ORDER BY detected_at DESC`

	rows, err := p.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	defer rows.Close()

	var out []model.Conflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *Postgres) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := p.db.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE conflict_id = '' AND sync_status = 'pending'),
			count(*) FILTER (WHERE conflict_id = '' AND sync_status = 'failed' AND NOT permanent),
			count(*) FILTER (WHERE conflict_id = '' AND sync_status = 'failed' AND permanent),
			count(*) FILTER (WHERE conflict_id = '' AND sync_status = 'synced'),
			count(*) FILTER (WHERE conflict_id <> ''),
			(SELECT count(*) FROM sync_conflicts WHERE resolution IS NULL)
		FROM ledger_vouchers`).Scan(&c.Pending, &c.Failed, &c.Permanent, &c.Synced, &c.Held, &c.Conflicts)
	if err != nil {
		return Counts{}, fmt.Errorf("count vouchers: %w", err)
	}
	return c, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	var one int
	return p.db.QueryRow(ctx, `SELECT 1`).Scan(&one)
}

// transition runs a guarded UPDATE; zero affected rows means the voucher is
// missing or not in a state that allows the change.
func (p *Postgres) transition(ctx context.Context, id, query string, args ...any) error {
	tag, err := p.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("voucher %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := p.Get(ctx, id); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("voucher %s: %w", id, ErrInvalidTransition)
	}
	return nil
}

func (p *Postgres) queryVouchers(ctx context.Context, query string, args ...any) ([]model.LedgerVoucher, error) {
	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query vouchers: %w", err)
	}
	defer rows.Close()

	var out []model.LedgerVoucher
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanVoucher(row pgx.Row) (model.LedgerVoucher, error) {
	var (
		v      model.LedgerVoucher
		date   *time.Time
		amount string
		status string
		policy string
	)
	err := row.Scan(&v.ID, &v.DocumentID, &v.VoucherType, &date, &amount, &v.LedgerName,
		&v.Narration, &v.Reference, &v.DocumentType, &v.Confidence, &status, &v.Attempts, &v.Permanent,
		&v.ExternalID, &v.LastError, &v.ConflictID, &policy, &v.CreatedAt, &v.ModifiedAt)
	if err != nil {
		return model.LedgerVoucher{}, err
	}
	if date != nil {
		v.Date = date.UTC()
	}
	if v.Amount, err = decimal.NewFromString(amount); err != nil {
		return model.LedgerVoucher{}, fmt.Errorf("voucher %s amount %q: %w", v.ID, amount, err)
	}
	v.SyncStatus = model.SyncStatus(status)
	v.ConflictPolicy = model.ConflictStrategy(policy)
	return v, nil
}

func scanConflict(row pgx.Row) (model.Conflict, error) {
	var (
		c          model.Conflict
		versions   []byte
		resolution []byte
	)
	if err := row.Scan(&c.ID, &c.EntityKey, &c.RecordRef, &versions, &resolution, &c.DetectedAt); err != nil {
		return model.Conflict{}, err
	}
	if err := json.Unmarshal(versions, &c.Versions); err != nil {
		return model.Conflict{}, fmt.Errorf("decode versions: %w", err)
	}
	if len(resolution) > 0 {
		c.Resolution = &model.Resolution{}
		if err := json.Unmarshal(resolution, c.Resolution); err != nil {
			return model.Conflict{}, fmt.Errorf("decode resolution: %w", err)
		}
	}
	return c, nil
}

func nullDate(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
