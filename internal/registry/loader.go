package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sentinela/sentinela/internal/models"
)

// loaderStore is the slice of the store the loader needs.
type loaderStore interface {
	GetEnabledMonitors(ctx context.Context) ([]models.Monitor, error)
	UpsertMonitorByName(ctx context.Context, name string) (*models.Monitor, error)
}

// reloadCoolDown caps how often early-wake requests can force a load.
const reloadCoolDown = 2 * time.Second

// Loader keeps the registry in sync with the monitors table. It reloads on
// its cron schedule and on early-wake requests, with a cool-down so lookup
// misses cannot hammer the database.
type Loader struct {
	store    loaderStore
	catalog  *Catalog
	registry *Registry
	schedule string

	// registerMissing makes the loader create rows for catalog entries
	// the table does not have yet. Only the controller process does this.
	registerMissing bool

	logger *slog.Logger
	now    func() time.Time
}

// NewLoader builds the loader. The load schedule is evaluated in loc, the
// process-wide configured time zone.
func NewLoader(store loaderStore, catalog *Catalog, registry *Registry, schedule string, loc *time.Location, registerMissing bool, logger *slog.Logger) *Loader {
	return &Loader{
		store:           store,
		catalog:         catalog,
		registry:        registry,
		schedule:        schedule,
		registerMissing: registerMissing,
		logger:          logger.With("component", "monitors_loader"),
		now:             func() time.Time { return time.Now().In(loc) },
	}
}

// Run loads immediately and then keeps reloading until the context ends.
func (l *Loader) Run(ctx context.Context) error {
	sched, err := ParseCron(l.schedule)
	if err != nil {
		return fmt.Errorf("invalid monitors load schedule %q: %w", l.schedule, err)
	}

	if err := l.Load(ctx); err != nil {
		l.logger.Error("initial monitors load failed", "error", err)
	}

	lastLoad := l.now()
	for {
		next := sched.Next(l.now())
		timer := time.NewTimer(next.Sub(l.now()))

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-l.registry.ReloadRequests():
			timer.Stop()
			if wait := reloadCoolDown - l.now().Sub(lastLoad); wait > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(wait):
				}
			}
		case <-timer.C:
		}

		if err := l.Load(ctx); err != nil {
			l.logger.Error("monitors load failed", "error", err)
		}
		lastLoad = l.now()
	}
}

// Load binds the enabled monitor rows to their catalog definitions and
// swaps the registry. Rows without a matching definition stay unbound and
// are logged once per load.
func (l *Loader) Load(ctx context.Context) error {
	if l.registerMissing {
		if err := l.registerCatalog(ctx); err != nil {
			return err
		}
	}

	monitors, err := l.store.GetEnabledMonitors(ctx)
	if err != nil {
		return fmt.Errorf("failed to list enabled monitors: %w", err)
	}

	byID := make(map[int64]*Definition, len(monitors))
	for _, monitor := range monitors {
		def, ok := l.catalog.Get(monitor.Name)
		if !ok {
			l.logger.Warn("monitor has no definition in this process", "monitor", monitor.Name)
			continue
		}
		byID[monitor.ID] = def
	}

	l.registry.Replace(byID)
	l.logger.Debug("monitors loaded", "bound", len(byID), "enabled", len(monitors))
	return nil
}

// registerCatalog makes sure every catalog definition has a monitor row.
func (l *Loader) registerCatalog(ctx context.Context) error {
	for _, name := range l.catalog.Names() {
		if _, err := l.store.UpsertMonitorByName(ctx, name); err != nil {
			return fmt.Errorf("failed to register monitor %s: %w", name, err)
		}
	}
	return nil
}
