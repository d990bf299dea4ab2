package server

import (
	"context"

	"github.com/tomide/paylink/backend/internal/store"
)

// HealthService defines behaviour for readiness probes.
type HealthService interface {
	Probe(ctx context.Context) error
}

// StoreHealthService verifies voucher store connectivity as part of health
// checks.
type StoreHealthService struct {
	Store store.Store
}

// Probe implements the HealthService interface.
func (s StoreHealthService) Probe(ctx context.Context) error {
	if s.Store == nil {
		return nil
	}
	return s.Store.Ping(ctx)
}
