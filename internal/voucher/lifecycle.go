package voucher

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/tomide/paylink/backend/internal/domain"
	"github.com/tomide/paylink/backend/internal/store"
)

const (
	// storageAttempts bounds automatic retries of unavailable-storage
	// failures. Every storage primitive is conditional, so retrying after
	// an ambiguous failure cannot double-apply a transition.
	storageAttempts = 3
	retryBaseDelay  = 50 * time.Millisecond

	defaultStorageTimeout = 3 * time.Second

	// maxCodeAttempts bounds regeneration when a generated code collides
	// with an existing one.
	maxCodeAttempts = 5
)

// DefaultTTLOptions is the fixed set of voucher lifetimes offered to
// creators.
var DefaultTTLOptions = []time.Duration{
	time.Hour,
	6 * time.Hour,
	24 * time.Hour,
	72 * time.Hour,
	168 * time.Hour,
}

// DefaultAmountCeiling caps the value a single voucher may carry.
var DefaultAmountCeiling = decimal.NewFromInt(10000)

var pinRe = regexp.MustCompile(`^[0-9]{4,8}$`)

// CreateParams carries the creator-supplied inputs for a new voucher.
type CreateParams struct {
	CreatorID string
	Amount    decimal.Decimal
	Currency  string
	TTL       time.Duration
	PIN       string
}

// Options tunes a Lifecycle. Zero values fall back to production defaults.
type Options struct {
	AmountCeiling  decimal.Decimal
	TTLOptions     []time.Duration
	Currencies     []string
	StorageTimeout time.Duration
}

// Lifecycle is the state machine governing vouchers: creation, redemption,
// cancellation and expiry. All persistence goes through the injected store
// and all time through the injected clock, keeping transitions
// deterministically testable.
type Lifecycle struct {
	store          store.Store
	nowFn          func() time.Time
	newCode        func() (string, error)
	amountCeiling  decimal.Decimal
	ttlOptions     map[time.Duration]struct{}
	currencies     map[string]struct{}
	storageTimeout time.Duration
}

// NewLifecycle constructs a Lifecycle over the provided store.
func NewLifecycle(st store.Store, opts Options) *Lifecycle {
	ceiling := opts.AmountCeiling
	if ceiling.IsZero() {
		ceiling = DefaultAmountCeiling
	}
	ttls := opts.TTLOptions
	if len(ttls) == 0 {
		ttls = DefaultTTLOptions
	}
	currencies := opts.Currencies
	if len(currencies) == 0 {
		currencies = []string{"USDC", "APT"}
	}
	timeout := opts.StorageTimeout
	if timeout <= 0 {
		timeout = defaultStorageTimeout
	}

	ttlSet := make(map[time.Duration]struct{}, len(ttls))
	for _, ttl := range ttls {
		ttlSet[ttl] = struct{}{}
	}
	currencySet := make(map[string]struct{}, len(currencies))
	for _, c := range currencies {
		currencySet[strings.ToUpper(strings.TrimSpace(c))] = struct{}{}
	}

	return &Lifecycle{
		store:          st,
		nowFn:          time.Now,
		newCode:        GenerateCode,
		amountCeiling:  ceiling,
		ttlOptions:     ttlSet,
		currencies:     currencySet,
		storageTimeout: timeout,
	}
}

// WithClock overrides the time provider (used primarily in tests).
func (l *Lifecycle) WithClock(nowFn func() time.Time) {
	if nowFn != nil {
		l.nowFn = nowFn
	}
}

// WithCodeGenerator overrides code generation (used primarily in tests).
func (l *Lifecycle) WithCodeGenerator(fn func() (string, error)) {
	if fn != nil {
		l.newCode = fn
	}
}

// Create validates the parameters, hashes the optional PIN and persists a
// new Active voucher. The raw PIN is never stored.
func (l *Lifecycle) Create(ctx context.Context, p CreateParams) (domain.Voucher, error) {
	if strings.TrimSpace(p.CreatorID) == "" {
		return domain.Voucher{}, ErrMissingCreator
	}
	if p.Amount.Sign() <= 0 || p.Amount.GreaterThan(l.amountCeiling) {
		return domain.Voucher{}, fmt.Errorf("%w: %s", ErrAmountOutOfRange, p.Amount)
	}
	currency := strings.ToUpper(strings.TrimSpace(p.Currency))
	if _, ok := l.currencies[currency]; !ok {
		return domain.Voucher{}, fmt.Errorf("%w: %q", ErrUnsupportedCurrency, p.Currency)
	}
	if _, ok := l.ttlOptions[p.TTL]; !ok {
		return domain.Voucher{}, fmt.Errorf("%w: %s", ErrInvalidTTL, p.TTL)
	}

	var pinHash []byte
	if p.PIN != "" {
		if !pinRe.MatchString(p.PIN) {
			return domain.Voucher{}, ErrInvalidPinFormat
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(p.PIN), bcrypt.DefaultCost)
		if err != nil {
			return domain.Voucher{}, fmt.Errorf("hash pin: %w", err)
		}
		pinHash = hash
	}

	now := l.nowFn().UTC()
	voucher := domain.Voucher{
		ID:        uuid.New(),
		Amount:    p.Amount.Truncate(2),
		Currency:  currency,
		PINHash:   pinHash,
		Status:    domain.StatusActive,
		CreatorID: p.CreatorID,
		CreatedAt: now,
		ExpiresAt: now.Add(p.TTL),
	}

	// Regenerate on the off chance a code collides; the store's unique
	// constraint is the authority.
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := l.newCode()
		if err != nil {
			return domain.Voucher{}, fmt.Errorf("generate code: %w", err)
		}
		voucher.Code = code

		err = l.withRetry(ctx, func(opCtx context.Context) error {
			return l.store.InsertIfAbsent(opCtx, voucher)
		})
		if errors.Is(err, store.ErrDuplicateCode) {
			continue
		}
		if err != nil {
			return domain.Voucher{}, err
		}
		return voucher, nil
	}
	return domain.Voucher{}, fmt.Errorf("exhausted %d code generation attempts", maxCodeAttempts)
}

// Redeem consumes a voucher. At most one concurrent attempt can win: the
// transition Active -> Redeemed is a single compare-and-set keyed by code,
// and losing attempts receive AlreadyFinalError. A wrong PIN never changes
// state, and an overdue Active voucher is treated as expired at the moment
// of the attempt even if no sweep has run.
func (l *Lifecycle) Redeem(ctx context.Context, code, suppliedPIN, redeemerID string) (domain.Voucher, error) {
	voucher, err := l.findByCode(ctx, code)
	if err != nil {
		return domain.Voucher{}, err
	}

	if voucher.Status.Terminal() {
		return domain.Voucher{}, &AlreadyFinalError{Status: voucher.Status}
	}

	now := l.nowFn().UTC()
	if now.After(voucher.ExpiresAt) {
		// Lazy expiry: flip the record best-effort, report expired either way.
		_, _ = l.casStatus(ctx, code, domain.StatusActive, domain.StatusExpired, store.StatusMutation{})
		return domain.Voucher{}, &AlreadyFinalError{Status: domain.StatusExpired}
	}

	if voucher.PINProtected() {
		if err := bcrypt.CompareHashAndPassword(voucher.PINHash, []byte(suppliedPIN)); err != nil {
			return domain.Voucher{}, ErrInvalidPin
		}
	}

	won, err := l.casStatus(ctx, code, domain.StatusActive, domain.StatusRedeemed, store.StatusMutation{
		RedeemerID: redeemerID,
		RedeemedAt: &now,
	})
	if err != nil {
		return domain.Voucher{}, err
	}
	if !won {
		// A concurrent attempt got there first; report its outcome.
		return domain.Voucher{}, l.finalStateError(ctx, code)
	}

	voucher.Status = domain.StatusRedeemed
	voucher.RedeemerID = redeemerID
	voucher.RedeemedAt = &now
	return voucher, nil
}

// Cancel voids an Active voucher. Only the original creator may cancel.
func (l *Lifecycle) Cancel(ctx context.Context, code, requesterID string) error {
	voucher, err := l.findByCode(ctx, code)
	if err != nil {
		return err
	}
	if voucher.CreatorID != requesterID {
		return ErrForbidden
	}
	if voucher.Status.Terminal() {
		return &AlreadyFinalError{Status: voucher.Status}
	}

	now := l.nowFn().UTC()
	if now.After(voucher.ExpiresAt) {
		_, _ = l.casStatus(ctx, code, domain.StatusActive, domain.StatusExpired, store.StatusMutation{})
		return &AlreadyFinalError{Status: domain.StatusExpired}
	}

	won, err := l.casStatus(ctx, code, domain.StatusActive, domain.StatusCancelled, store.StatusMutation{})
	if err != nil {
		return err
	}
	if !won {
		return l.finalStateError(ctx, code)
	}
	return nil
}

// ExpireSweep transitions every overdue Active voucher into Expired. It is
// advisory bookkeeping: redemption already treats overdue vouchers as
// expired on access, so the sweep is idempotent and safely re-runnable.
func (l *Lifecycle) ExpireSweep(ctx context.Context) (int64, error) {
	var count int64
	err := l.withRetry(ctx, func(opCtx context.Context) error {
		var opErr error
		count, opErr = l.store.ExpireBefore(opCtx, l.nowFn().UTC())
		return opErr
	})
	return count, err
}

// Get looks up a voucher by code.
func (l *Lifecycle) Get(ctx context.Context, code string) (domain.Voucher, error) {
	return l.findByCode(ctx, code)
}

func (l *Lifecycle) findByCode(ctx context.Context, code string) (domain.Voucher, error) {
	var voucher domain.Voucher
	err := l.withRetry(ctx, func(opCtx context.Context) error {
		var opErr error
		voucher, opErr = l.store.FindByCode(opCtx, code)
		return opErr
	})
	if errors.Is(err, store.ErrNotFound) {
		return domain.Voucher{}, ErrNotFound
	}
	if err != nil {
		return domain.Voucher{}, err
	}
	return voucher, nil
}

func (l *Lifecycle) casStatus(ctx context.Context, code string, from, to domain.VoucherStatus, mut store.StatusMutation) (bool, error) {
	var won bool
	err := l.withRetry(ctx, func(opCtx context.Context) error {
		var opErr error
		won, opErr = l.store.CompareAndSetStatus(opCtx, code, from, to, mut)
		return opErr
	})
	return won, err
}

// finalStateError reports the terminal status a losing transition observed.
// When the re-read fails, redemption by another party is the by far most
// likely cause.
func (l *Lifecycle) finalStateError(ctx context.Context, code string) error {
	voucher, err := l.findByCode(ctx, code)
	if err != nil || !voucher.Status.Terminal() {
		return &AlreadyFinalError{Status: domain.StatusRedeemed}
	}
	return &AlreadyFinalError{Status: voucher.Status}
}

// withRetry runs a storage operation under the per-call timeout, retrying
// unavailable-storage failures with exponential backoff. Definitive
// outcomes (not found, duplicate, CAS miss) pass through untouched.
func (l *Lifecycle) withRetry(ctx context.Context, fn func(context.Context) error) error {
	delay := retryBaseDelay
	var err error
	for attempt := 0; attempt < storageAttempts; attempt++ {
		opCtx, cancel := context.WithTimeout(ctx, l.storageTimeout)
		err = fn(opCtx)
		cancel()

		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		if attempt == storageAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrStorageUnavailable, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}

func retryable(err error) bool {
	return errors.Is(err, store.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded)
}
