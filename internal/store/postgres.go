package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/tomide/paylink/backend/internal/domain"
)

// Options configures the Postgres store.
type Options struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int
}

// uniqueViolation is the Postgres error code raised when the unique
// constraint on voucher codes trips.
const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS vouchers (
	id          UUID PRIMARY KEY,
	code        VARCHAR(20) NOT NULL UNIQUE,
	amount      NUMERIC(12,2) NOT NULL,
	currency    VARCHAR(8) NOT NULL,
	pin_hash    BYTEA,
	status      VARCHAR(16) NOT NULL,
	creator_id  VARCHAR(64) NOT NULL,
	redeemer_id VARCHAR(64),
	created_at  TIMESTAMPTZ NOT NULL,
	expires_at  TIMESTAMPTZ NOT NULL,
	redeemed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_vouchers_status_expiry ON vouchers (status, expires_at);
`

// PostgresStore persists vouchers in Postgres. The unique constraint on the
// code column is the collision backstop for generated codes, and the
// conditional UPDATE inside CompareAndSetStatus is the atomic transition
// guaranteeing at most one redemption winner.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects to Postgres, waiting briefly for the database to
// become reachable, and bootstraps the schema.
func OpenPostgres(ctx context.Context, opts Options) (*PostgresStore, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		opts.Host, opts.Port, opts.User, opts.Password, opts.Name, opts.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if opts.MaxConns > 0 {
		db.SetMaxOpenConns(opts.MaxConns)
	}

	for attempt := 0; attempt < 5; attempt++ {
		if err = db.PingContext(ctx); err == nil {
			break
		}
		select {
		case <-ctx.Done():
			_ = db.Close()
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure voucher schema: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) FindByCode(ctx context.Context, code string) (domain.Voucher, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, code, amount, currency, pin_hash, status, creator_id, redeemer_id, created_at, expires_at, redeemed_at
		FROM vouchers WHERE code = $1`, code)
	return scanVoucher(row)
}

func (s *PostgresStore) InsertIfAbsent(ctx context.Context, v domain.Voucher) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vouchers (id, code, amount, currency, pin_hash, status, creator_id, redeemer_id, created_at, expires_at, redeemed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		v.ID, v.Code, v.Amount, v.Currency, v.PINHash, v.Status.String(), v.CreatorID,
		nullString(v.RedeemerID), v.CreatedAt, v.ExpiresAt, v.RedeemedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrDuplicateCode
		}
		return fmt.Errorf("%w: insert voucher: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) CompareAndSetStatus(ctx context.Context, code string, from, to domain.VoucherStatus, mut StatusMutation) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE vouchers
		SET status = $1,
		    redeemer_id = COALESCE($2, redeemer_id),
		    redeemed_at = COALESCE($3, redeemed_at)
		WHERE code = $4 AND status = $5`,
		to.String(), nullString(mut.RedeemerID), mut.RedeemedAt, code, from.String())
	if err != nil {
		return false, fmt.Errorf("%w: update voucher status: %v", ErrUnavailable, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: rows affected: %v", ErrUnavailable, err)
	}
	return affected == 1, nil
}

func (s *PostgresStore) ExpireBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE vouchers SET status = $1
		WHERE status = $2 AND expires_at < $3`,
		domain.StatusExpired.String(), domain.StatusActive.String(), cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: expire vouchers: %v", ErrUnavailable, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: rows affected: %v", ErrUnavailable, err)
	}
	return affected, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func scanVoucher(row *sql.Row) (domain.Voucher, error) {
	var (
		v          domain.Voucher
		status     string
		redeemerID sql.NullString
		redeemedAt sql.NullTime
	)
	err := row.Scan(&v.ID, &v.Code, &v.Amount, &v.Currency, &v.PINHash, &status,
		&v.CreatorID, &redeemerID, &v.CreatedAt, &v.ExpiresAt, &redeemedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Voucher{}, ErrNotFound
	}
	if err != nil {
		return domain.Voucher{}, fmt.Errorf("%w: scan voucher: %v", ErrUnavailable, err)
	}

	v.Status, err = domain.ParseVoucherStatus(status)
	if err != nil {
		return domain.Voucher{}, err
	}
	if redeemerID.Valid {
		v.RedeemerID = redeemerID.String
	}
	if redeemedAt.Valid {
		ts := redeemedAt.Time
		v.RedeemedAt = &ts
	}
	return v, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
