// Package ingest fetches fixture snapshots from upstream providers on a
// schedule and normalizes them for the snapshot store.
package ingest

import (
	"context"
	"fmt"

	"github.com/oddswatch/oddswatch/internal/models"
)

// Provider is an upstream odds source. An empty result signals "no data this
// cycle" and is not an error. A provider must fail loudly on transport
// problems; it never fabricates stand-in data.
type Provider interface {
	Name() string
	FetchGroup(ctx context.Context, groupID string) ([]models.Snapshot, error)
}

// ProviderError is a transient, per-group fetch failure. It is isolated at
// the group boundary: one group failing never aborts the others.
type ProviderError struct {
	Group string
	Cause error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider fetch failed for group %s: %v", e.Group, e.Cause)
}

func (e *ProviderError) Unwrap() error {
	return e.Cause
}
