package store

import (
	"context"
	"sync"
	"time"

	"github.com/tomide/paylink/backend/internal/domain"
)

// MemoryStore is an in-memory Store used for unit tests and local
// development without a database. All operations take the same mutex, which
// gives CompareAndSetStatus the required atomicity.
type MemoryStore struct {
	mu       sync.Mutex
	vouchers map[string]domain.Voucher
	err      error
	failures int
	failErr  error
}

// NewMemoryStore instantiates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{vouchers: make(map[string]domain.Voucher)}
}

// WithError configures the store to return the provided error for every
// subsequent call.
func (m *MemoryStore) WithError(err error) *MemoryStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// FailNext makes the next n calls fail with err before recovering, which is
// how tests simulate transient storage unavailability.
func (m *MemoryStore) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = n
	m.failErr = err
}

// Seed inserts a voucher directly, bypassing uniqueness checks.
func (m *MemoryStore) Seed(v domain.Voucher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vouchers[v.Code] = v
}

func (m *MemoryStore) FindByCode(_ context.Context, code string) (domain.Voucher, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.nextErr(); err != nil {
		return domain.Voucher{}, err
	}
	v, ok := m.vouchers[code]
	if !ok {
		return domain.Voucher{}, ErrNotFound
	}
	return v, nil
}

func (m *MemoryStore) InsertIfAbsent(_ context.Context, v domain.Voucher) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.nextErr(); err != nil {
		return err
	}
	if _, exists := m.vouchers[v.Code]; exists {
		return ErrDuplicateCode
	}
	m.vouchers[v.Code] = v
	return nil
}

func (m *MemoryStore) CompareAndSetStatus(_ context.Context, code string, from, to domain.VoucherStatus, mut StatusMutation) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.nextErr(); err != nil {
		return false, err
	}
	v, ok := m.vouchers[code]
	if !ok || v.Status != from {
		return false, nil
	}

	v.Status = to
	if mut.RedeemerID != "" {
		v.RedeemerID = mut.RedeemerID
	}
	if mut.RedeemedAt != nil {
		ts := *mut.RedeemedAt
		v.RedeemedAt = &ts
	}
	m.vouchers[code] = v
	return true, nil
}

func (m *MemoryStore) ExpireBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.nextErr(); err != nil {
		return 0, err
	}
	var count int64
	for code, v := range m.vouchers {
		if v.Status == domain.StatusActive && v.ExpiresAt.Before(cutoff) {
			v.Status = domain.StatusExpired
			m.vouchers[code] = v
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *MemoryStore) Close() error {
	return nil
}

// nextErr implements the failure-injection knobs. Callers must hold mu.
func (m *MemoryStore) nextErr() error {
	if m.err != nil {
		return m.err
	}
	if m.failures > 0 {
		m.failures--
		return m.failErr
	}
	return nil
}
