package shared

import "context"

// CacheInvalidator drops cached read models for a tenant after a
// write. Implementations must tolerate being called on every mutation.
type CacheInvalidator interface {
	Bump(ctx context.Context, tenantID int64) error
}
