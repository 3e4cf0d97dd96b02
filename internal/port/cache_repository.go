package port

import "context"

type CacheRepository interface {
	// SetIdempotency claims a request key, returns false if already claimed
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// ReleaseIdempotency drops a claim whose request did not commit
	ReleaseIdempotency(ctx context.Context, key string) error

	// SetAvailability mirrors a committed available copy count. Writes carrying
	// an older version than the mirrored one are ignored.
	SetAvailability(ctx context.Context, bookID string, available int, version int64) error

	// DeleteAvailability drops the mirror of a removed book
	DeleteAvailability(ctx context.Context, bookID string) error

	// GetAvailability reads the mirror, ok is false on a miss
	GetAvailability(ctx context.Context, bookID string) (available int, ok bool, err error)
}
