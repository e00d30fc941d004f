package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sentinela/sentinela/internal/models"
)

// Catalog is the set of monitor definitions compiled into the process,
// keyed by normalized name. It is filled at startup and read-only after.
type Catalog struct {
	definitions map[string]*Definition
}

// NewCatalog builds an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{definitions: make(map[string]*Definition)}
}

// Add registers a definition, validating it first. Duplicate names fail.
func (c *Catalog) Add(def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if _, exists := c.definitions[def.Name]; exists {
		return fmt.Errorf("monitor %s is already in the catalog", def.Name)
	}
	c.definitions[def.Name] = def
	return nil
}

// Get returns the definition registered under the name.
func (c *Catalog) Get(name string) (*Definition, bool) {
	def, ok := c.definitions[name]
	return def, ok
}

// Names lists the registered definition names.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.definitions))
	for name := range c.definitions {
		names = append(names, name)
	}
	return names
}

// Registry maps monitor rows to their definitions. The loader replaces the
// bindings on each reload, readers look definitions up by monitor ID or
// name.
type Registry struct {
	mu     sync.RWMutex
	byID   map[int64]*Definition
	byName map[string]*Definition
	ready  bool

	readyCh  chan struct{}
	reloadCh chan struct{}
}

// New builds an empty registry. It reports not ready until the first
// Replace.
func New() *Registry {
	return &Registry{
		byID:     make(map[int64]*Definition),
		byName:   make(map[string]*Definition),
		readyCh:  make(chan struct{}),
		reloadCh: make(chan struct{}, 1),
	}
}

// Replace swaps the full binding set. The first call marks the registry
// ready.
func (r *Registry) Replace(byID map[int64]*Definition) {
	byName := make(map[string]*Definition, len(byID))
	for _, def := range byID {
		byName[def.Name] = def
	}

	r.mu.Lock()
	r.byID = byID
	r.byName = byName
	if !r.ready {
		r.ready = true
		close(r.readyCh)
	}
	r.mu.Unlock()
}

// ByID returns the definition bound to the monitor row.
func (r *Registry) ByID(monitorID int64) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.byID[monitorID]
	return def, ok
}

// ByName returns the definition bound under the monitor name.
func (r *Registry) ByName(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.byName[name]
	return def, ok
}

// notificationEvents are the alert transitions the notification machinery
// listens to. Monitors with notification targets get these published even
// without an explicit reaction.
var notificationEvents = map[string]bool{
	models.EventAlertCreated:           true,
	models.EventAlertPriorityIncreased: true,
	models.EventAlertSolved:            true,
}

// HasReaction reports whether an event of the monitor must be published:
// either a reaction is bound to it or the monitor notifies on alerts and
// the event is one the notification machinery consumes.
func (r *Registry) HasReaction(monitorID int64, eventName string) bool {
	def, ok := r.ByID(monitorID)
	if !ok {
		return false
	}
	if len(def.Reactions[eventName]) > 0 {
		return true
	}
	return len(def.Notifications) > 0 && notificationEvents[eventName]
}

// Size reports how many monitors are bound.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// WaitReady blocks until the first load finished or the timeout passed.
func (r *Registry) WaitReady(ctx context.Context, timeout time.Duration) error {
	select {
	case <-r.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		return fmt.Errorf("registry did not become ready within %s", timeout)
	}
}

// SignalReload wakes the loader before its scheduled run. Used when a
// lookup misses, a new monitor may have been registered by another process.
func (r *Registry) SignalReload() {
	select {
	case r.reloadCh <- struct{}{}:
	default:
	}
}

// ReloadRequests exposes the early-wake channel to the loader.
func (r *Registry) ReloadRequests() <-chan struct{} {
	return r.reloadCh
}
