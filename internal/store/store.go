package store

import (
	"context"
	"errors"
	"time"

	"github.com/tomide/paylink/backend/internal/domain"
)

// Store is the persistence contract required by the voucher lifecycle. The
// three primitives keep all concurrency discipline at the storage boundary:
// a unique constraint backs InsertIfAbsent and a conditional write backs
// CompareAndSetStatus, so at most one redemption attempt can ever win.
type Store interface {
	// FindByCode returns the voucher with the given code, or ErrNotFound.
	FindByCode(ctx context.Context, code string) (domain.Voucher, error)
	// InsertIfAbsent persists a new voucher, or returns ErrDuplicateCode
	// when the code is already taken.
	InsertIfAbsent(ctx context.Context, v domain.Voucher) error
	// CompareAndSetStatus atomically transitions a voucher from one status
	// to another, applying the mutation fields on success. It reports false
	// without error when the voucher was not in the expected status.
	CompareAndSetStatus(ctx context.Context, code string, from, to domain.VoucherStatus, mut StatusMutation) (bool, error)
	// ExpireBefore transitions every active voucher whose expiry is past
	// the cutoff into Expired, returning the number of rows touched.
	ExpireBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// Ping verifies connectivity for health probes.
	Ping(ctx context.Context) error
	// Close releases underlying resources.
	Close() error
}

// StatusMutation carries the fields written alongside a status transition.
type StatusMutation struct {
	RedeemerID string
	RedeemedAt *time.Time
}

var (
	// ErrNotFound indicates no voucher exists for the given code.
	ErrNotFound = errors.New("voucher not found")
	// ErrDuplicateCode indicates the code collides with an existing voucher.
	ErrDuplicateCode = errors.New("voucher code already exists")
	// ErrUnavailable wraps infrastructure failures, as distinct from
	// definitive business outcomes. Callers may retry it.
	ErrUnavailable = errors.New("voucher store unavailable")
)
