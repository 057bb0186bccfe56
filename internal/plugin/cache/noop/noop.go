package noop

import (
	"context"
	"time"

	"github.com/chirino/recall-service/internal/registry/cache"
)

func init() {
	cache.Register(cache.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (cache.SessionCache, error) {
			return &noopSessionCache{}, nil
		},
	})
}

type noopSessionCache struct{}

func (n *noopSessionCache) Available() bool { return false }
func (n *noopSessionCache) Get(_ context.Context, _ string) (*cache.SessionSummary, error) {
	return nil, nil
}
func (n *noopSessionCache) Set(_ context.Context, _ string, _ cache.SessionSummary, _ time.Duration) error {
	return nil
}
func (n *noopSessionCache) Remove(_ context.Context, _ string) error { return nil }

var _ cache.SessionCache = (*noopSessionCache)(nil)
