// Package monitors holds the monitor definitions compiled into the binary:
// the internal monitors watching the engine itself and the optional sample
// monitors.
package monitors

import (
	"fmt"

	"github.com/sentinela/sentinela/internal/config"
	"github.com/sentinela/sentinela/internal/registry"
)

// BuildCatalog assembles the definition catalog for this process.
func BuildCatalog(cfg *config.Config) (*registry.Catalog, error) {
	catalog := registry.NewCatalog()

	for _, def := range internalDefinitions(cfg) {
		if err := catalog.Add(def); err != nil {
			return nil, fmt.Errorf("failed to register internal monitor: %w", err)
		}
	}

	if cfg.LoadSampleMonitors {
		for _, def := range sampleDefinitions() {
			if err := catalog.Add(def); err != nil {
				return nil, fmt.Errorf("failed to register sample monitor: %w", err)
			}
		}
	}

	return catalog, nil
}

// notificationTargets builds the notification list for internal monitors
// from the configuration. Empty when internal notifications are off.
func notificationTargets(cfg *config.Config) []registry.NotificationTarget {
	if !cfg.InternalMonitorsNotification.Enabled {
		return nil
	}
	target := cfg.InternalMonitorsNotification.NotificationClass
	if target == "" {
		return nil
	}
	return []registry.NotificationTarget{{
		Target:            target,
		MinPriorityToSend: internalNotificationMinPriority,
	}}
}
