// Package cache provides the shared state store backing aggregation response
// caching, behavioral profiles, and request history. Two implementations
// exist: a Valkey/Redis-backed store for deployments with shared state, and
// an in-process store for single-instance or test use.
package cache

import (
	"context"
	"time"
)

// Store is the gateway's state backend. String operations serve the
// aggregation response cache; hash and list operations serve the behavioral
// profiler, which keeps per-client fingerprints and a bounded path history.
type Store interface {
	// Get returns the value for key, or found=false when the key is absent
	// or expired.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)

	// Set stores value under key with the given TTL. A non-positive TTL is
	// rejected; every cached entry must expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// HGet returns a single hash field, or found=false when the hash or
	// field is absent.
	HGet(ctx context.Context, key, field string) (value string, found bool, err error)

	// HSetWithExpire writes hash fields and refreshes the key's TTL in one
	// round trip.
	HSetWithExpire(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error

	// ListPushTrimExpire prepends value to the list, trims it to maxLen
	// entries, and refreshes the TTL, pipelined as a single round trip.
	ListPushTrimExpire(ctx context.Context, key, value string, maxLen int64, ttl time.Duration) error

	// ListRange returns list entries between start and stop inclusive.
	ListRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// DeletePrefix removes every key sharing the prefix. Used to purge the
	// aggregation cache when the policy document is replaced.
	DeletePrefix(ctx context.Context, prefix string) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Shared reports whether state is visible across gateway instances.
	// The behavioral profiler only runs against shared stores.
	Shared() bool

	// Close releases backend resources.
	Close(ctx context.Context) error
}
