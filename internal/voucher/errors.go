package voucher

import (
	"errors"
	"fmt"

	"github.com/tomide/paylink/backend/internal/domain"
)

var (
	// ErrNotFound indicates no voucher exists for the presented code.
	ErrNotFound = errors.New("voucher not found")
	// ErrInvalidPin indicates the supplied PIN did not match. The voucher
	// is left untouched and the attempt may be retried.
	ErrInvalidPin = errors.New("invalid voucher pin")
	// ErrForbidden indicates the requester is not allowed to perform the
	// operation, e.g. cancelling someone else's voucher.
	ErrForbidden = errors.New("operation not permitted")
	// ErrStorageUnavailable indicates the voucher store could not be
	// reached within the bounded retry budget. It reflects infrastructure
	// flakiness rather than a definitive outcome and is safe to retry.
	ErrStorageUnavailable = errors.New("voucher storage unavailable")

	// Creation validation failures.
	ErrAmountOutOfRange    = errors.New("voucher amount out of range")
	ErrUnsupportedCurrency = errors.New("unsupported voucher currency")
	ErrInvalidTTL          = errors.New("voucher ttl not in allowed set")
	ErrInvalidPinFormat    = errors.New("voucher pin must be 4-8 digits")
	ErrMissingCreator      = errors.New("voucher creator is required")
)

// AlreadyFinalError reports that a voucher is in a terminal state, carrying
// which one so callers can distinguish an already-redeemed voucher from a
// cancelled or expired one.
type AlreadyFinalError struct {
	Status domain.VoucherStatus
}

func (e *AlreadyFinalError) Error() string {
	return fmt.Sprintf("voucher already final: %s", e.Status)
}

// IsAlreadyFinal unwraps an AlreadyFinalError when err carries one.
func IsAlreadyFinal(err error) (*AlreadyFinalError, bool) {
	var finalErr *AlreadyFinalError
	if errors.As(err, &finalErr) {
		return finalErr, true
	}
	return nil, false
}
