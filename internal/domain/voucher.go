package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// VoucherStatus is the state of a voucher within its lifecycle. Active is
// the only non-terminal state; transitions are monotonic.
type VoucherStatus int

const (
	StatusActive VoucherStatus = iota
	StatusRedeemed
	StatusExpired
	StatusCancelled
)

func (s VoucherStatus) String() string {
	switch s {
	case StatusActive:
		return "ACTIVE"
	case StatusRedeemed:
		return "REDEEMED"
	case StatusExpired:
		return "EXPIRED"
	case StatusCancelled:
		return "CANCELLED"
	default:
		return fmt.Sprintf("VoucherStatus(%d)", int(s))
	}
}

// Terminal reports whether no further transition may leave this status.
func (s VoucherStatus) Terminal() bool {
	return s != StatusActive
}

// ParseVoucherStatus maps a stored status string back to its variant.
func ParseVoucherStatus(value string) (VoucherStatus, error) {
	switch value {
	case "ACTIVE":
		return StatusActive, nil
	case "REDEEMED":
		return StatusRedeemed, nil
	case "EXPIRED":
		return StatusExpired, nil
	case "CANCELLED":
		return StatusCancelled, nil
	default:
		return StatusActive, fmt.Errorf("unknown voucher status %q", value)
	}
}

// Voucher is a bearer code representing a pre-committed monetary value,
// redeemable by exactly one party exactly once before its expiry deadline.
// Vouchers are never deleted; terminal records are retained for audit.
type Voucher struct {
	ID         uuid.UUID
	Code       string
	Amount     decimal.Decimal
	Currency   string
	PINHash    []byte
	Status     VoucherStatus
	CreatorID  string
	RedeemerID string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	RedeemedAt *time.Time
}

// PINProtected reports whether redemption requires a PIN.
func (v Voucher) PINProtected() bool {
	return len(v.PINHash) > 0
}
