package cache

import (
	"context"
	"fmt"
	"time"
)

// SessionSummary is the cached shape of a session-summary response.
type SessionSummary struct {
	ID             string     `json:"id"`
	ExternalID     *string    `json:"externalId,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	MemoryCount    int64      `json:"memoryCount"`
	LastAccessedAt *time.Time `json:"lastAccessedAt,omitempty"`
}

// SessionCache caches session summaries to keep the hot summary
// endpoint off the store. A miss returns (nil, nil).
type SessionCache interface {
	Available() bool
	Get(ctx context.Context, sessionID string) (*SessionSummary, error)
	Set(ctx context.Context, sessionID string, summary SessionSummary, ttl time.Duration) error
	Remove(ctx context.Context, sessionID string) error
}

// Loader creates a SessionCache from config.
type Loader func(ctx context.Context) (SessionCache, error)

// Plugin represents a cache plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a cache plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered cache plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named cache plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown cache %q; valid: %v", name, Names())
}
