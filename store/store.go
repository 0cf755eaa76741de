// Package store provides pluggable TTL storage for cached tool results.
package store

import (
	"context"
	"time"
)

// Store is a byte-value cache with per-entry expiry. Implementations must
// be safe for concurrent use. A missing or expired key is not an error:
// Get reports it through the found flag.
type Store interface {
	// Get returns the value for the key, or found=false if the key is
	// absent or its TTL has elapsed.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	// Set stores the value under the key. A non-positive TTL stores the
	// entry without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes the key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}
