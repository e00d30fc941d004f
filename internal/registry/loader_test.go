package registry

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/sentinela/sentinela/internal/models"
)

type fakeLoaderStore struct {
	monitors   []models.Monitor
	registered []string
}

func (f *fakeLoaderStore) GetEnabledMonitors(ctx context.Context) ([]models.Monitor, error) {
	return f.monitors, nil
}

func (f *fakeLoaderStore) UpsertMonitorByName(ctx context.Context, name string) (*models.Monitor, error) {
	f.registered = append(f.registered, name)
	return &models.Monitor{ID: int64(len(f.registered)), Name: name, Enabled: true}, nil
}

func TestLoaderLoadBindsDefinitions(t *testing.T) {
	catalog := NewCatalog()
	if err := catalog.Add(validDefinition("orders_lag")); err != nil {
		t.Fatal(err)
	}

	store := &fakeLoaderStore{monitors: []models.Monitor{
		{ID: 1, Name: "orders_lag", Enabled: true},
		{ID: 2, Name: "unknown_monitor", Enabled: true},
	}}

	reg := New()
	loader := NewLoader(store, catalog, reg, "* * * * *", time.UTC, false, slog.Default())

	if err := loader.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if _, ok := reg.ByID(1); !ok {
		t.Error("monitor with a definition was not bound")
	}
	if _, ok := reg.ByID(2); ok {
		t.Error("monitor without a definition was bound")
	}
	if len(store.registered) != 0 {
		t.Errorf("loader registered monitors without registerMissing: %v", store.registered)
	}
}

func TestLoaderClockTimeZone(t *testing.T) {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		t.Fatal(err)
	}

	loader := NewLoader(&fakeLoaderStore{}, NewCatalog(), New(), "* * * * *", loc, false, slog.Default())

	if got := loader.now().Location(); got != loc {
		t.Errorf("loader clock runs in %s, want %s", got, loc)
	}
}

func TestLoaderRegistersCatalog(t *testing.T) {
	catalog := NewCatalog()
	if err := catalog.Add(validDefinition("orders_lag")); err != nil {
		t.Fatal(err)
	}

	store := &fakeLoaderStore{}
	reg := New()
	loader := NewLoader(store, catalog, reg, "* * * * *", time.UTC, true, slog.Default())

	if err := loader.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(store.registered) != 1 || store.registered[0] != "orders_lag" {
		t.Errorf("registered = %v, want [orders_lag]", store.registered)
	}
}
