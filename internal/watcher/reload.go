package watcher

import (
	"context"
	"sync"

	"monview/internal/config"
	"monview/internal/domain"
	"monview/internal/logger"
)

// CatalogSink receives the built-in metric catalog
type CatalogSink interface {
	SetCatalog(catalog []*domain.Metric)
}

// SessionSink receives the operator's account state
type SessionSink interface {
	Update(authenticated, plan bool)
}

// ConfigReloader re-reads the config file on change and pushes the parts
// that can change at runtime. Everything else needs a restart.
type ConfigReloader struct {
	path    string
	catalog CatalogSink
	session SessionSink
	log     logger.Logger

	mu      sync.Mutex
	current *config.Config
}

// NewConfigReloader creates a reloader starting from the loaded config
func NewConfigReloader(path string, current *config.Config, catalog CatalogSink, session SessionSink, log logger.Logger) *ConfigReloader {
	if log == nil {
		log = logger.Noop()
	}
	return &ConfigReloader{
		path:    path,
		current: current,
		catalog: catalog,
		session: session,
		log:     log,
	}
}

// Run watches the config file until ctx is cancelled
func (r *ConfigReloader) Run(ctx context.Context) error {
	return New(r.path, r.Reload, r.log.Named("watcher")).Watch(ctx)
}

// Reload reads the file and applies it. A broken file keeps the last good config.
func (r *ConfigReloader) Reload() {
	next, _, err := config.LoadFromPath(r.path)
	if err != nil {
		r.log.Warn("reload config %s: %v", r.path, err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.catalog != nil {
		r.catalog.SetCatalog(next.Metrics())
	}
	if r.session != nil && (r.current == nil || r.current.Session != next.Session) {
		r.session.Update(next.Session.Authenticated, next.Session.Plan)
	}
	r.current = next
	r.log.Info("config reloaded: %d catalog metrics", len(next.Catalog))
}

// Current returns the last applied config
func (r *ConfigReloader) Current() *config.Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}
