package executor

import (
	"context"
	"fmt"

	"github.com/sentinela/sentinela/internal/registry"
)

// monitorTools is the registry.Tools implementation handed to callbacks,
// scoped to one monitor.
type monitorTools struct {
	executor  *Executor
	monitorID int64
}

func (e *Executor) toolsFor(monitorID int64) registry.Tools {
	return &monitorTools{executor: e, monitorID: monitorID}
}

func (t *monitorTools) Query(ctx context.Context, pool, sql string, args ...any) ([]map[string]any, error) {
	if t.executor.userPools == nil {
		return nil, fmt.Errorf("no database pools configured")
	}
	return t.executor.userPools.Query(ctx, pool, sql, args...)
}

func (t *monitorTools) GetVariable(ctx context.Context, name string) (string, bool, error) {
	return t.executor.store.GetVariable(ctx, t.monitorID, name)
}

func (t *monitorTools) SetVariable(ctx context.Context, name, value string) error {
	return t.executor.store.SetVariable(ctx, t.monitorID, name, value)
}
