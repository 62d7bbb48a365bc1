package cache

import (
	"context"
	"time"
)

// NoOpCache always misses. Used when Redis is disabled or unreachable.
type NoOpCache struct{}

func NewNoOpCache() *NoOpCache { return &NoOpCache{} }

func (NoOpCache) Get(context.Context, string) (*Entry, Generation, error) { return nil, 0, nil }
func (NoOpCache) Set(context.Context, string, Generation, *Entry, time.Duration) error {
	return nil
}
func (NoOpCache) Invalidate(context.Context) error { return nil }
func (NoOpCache) Close() error                     { return nil }
