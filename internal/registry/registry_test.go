package registry

import (
	"context"
	"testing"
	"time"

	"github.com/sentinela/sentinela/internal/models"
)

func floatPtr(v float64) *float64 { return &v }

func validDefinition(name string) *Definition {
	return &Definition{
		Name: name,
		Options: models.MonitorOptions{
			SearchCron: "*/5 * * * *",
		},
		IssueOptions: models.IssueOptions{
			ModelIDKey: "id",
			Solvable:   true,
		},
		Search: func(ctx context.Context, tools Tools) ([]map[string]any, error) {
			return nil, nil
		},
	}
}

func TestDefinitionValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Definition)
		wantErr bool
	}{
		{"valid", func(d *Definition) {}, false},
		{"missing name", func(d *Definition) { d.Name = "" }, true},
		{"unnormalized name", func(d *Definition) { d.Name = "Orders Lag" }, true},
		{"missing search", func(d *Definition) { d.Search = nil }, true},
		{"missing model id key", func(d *Definition) { d.IssueOptions.ModelIDKey = "" }, true},
		{"bad search cron", func(d *Definition) { d.Options.SearchCron = "bogus" }, true},
		{"six field cron", func(d *Definition) { d.Options.SearchCron = "0 0 * * * *" }, true},
		{
			"update cron without callback",
			func(d *Definition) { d.Options.UpdateCron = "* * * * *" },
			true,
		},
		{
			"update cron with callback",
			func(d *Definition) {
				d.Options.UpdateCron = "* * * * *"
				d.Update = func(ctx context.Context, tools Tools, issuesData []map[string]any) ([]map[string]any, error) {
					return nil, nil
				}
			},
			false,
		},
		{
			"alert options without rule",
			func(d *Definition) { d.AlertOptions = &models.AlertOptions{} },
			true,
		},
		{
			"alert options with invalid rule",
			func(d *Definition) {
				d.AlertOptions = &models.AlertOptions{Rule: models.CountRule{}}
			},
			true,
		},
		{
			"alert options with valid rule",
			func(d *Definition) {
				d.AlertOptions = &models.AlertOptions{
					Rule: models.CountRule{Levels: models.PriorityLevels{Low: floatPtr(0)}},
				}
			},
			false,
		},
		{
			"reaction on unknown event",
			func(d *Definition) {
				d.Reactions = map[string][]ReactionFunc{"no_such_event": {{Name: "r"}}}
			},
			true,
		},
		{
			"reaction on known event",
			func(d *Definition) {
				d.Reactions = map[string][]ReactionFunc{models.EventAlertCreated: {{Name: "r"}}}
			},
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := validDefinition("orders_lag")
			tt.mutate(def)
			if err := def.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCatalogAdd(t *testing.T) {
	catalog := NewCatalog()

	if err := catalog.Add(validDefinition("orders_lag")); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := catalog.Add(validDefinition("orders_lag")); err == nil {
		t.Error("Add() of a duplicate name did not fail")
	}
	if err := catalog.Add(validDefinition("")); err == nil {
		t.Error("Add() of an invalid definition did not fail")
	}

	if _, ok := catalog.Get("orders_lag"); !ok {
		t.Error("Get() did not find the registered definition")
	}
	if _, ok := catalog.Get("missing"); ok {
		t.Error("Get() found a definition that was never registered")
	}
}

func TestRegistryReplaceAndLookup(t *testing.T) {
	reg := New()

	if _, ok := reg.ByID(1); ok {
		t.Error("ByID() on an empty registry found a definition")
	}

	def := validDefinition("orders_lag")
	reg.Replace(map[int64]*Definition{7: def})

	if got, ok := reg.ByID(7); !ok || got != def {
		t.Errorf("ByID(7) = %v, %v", got, ok)
	}
	if got, ok := reg.ByName("orders_lag"); !ok || got != def {
		t.Errorf("ByName() = %v, %v", got, ok)
	}
	if reg.Size() != 1 {
		t.Errorf("Size() = %d, want 1", reg.Size())
	}

	// A replace drops the old bindings.
	reg.Replace(map[int64]*Definition{})
	if _, ok := reg.ByID(7); ok {
		t.Error("ByID() found a binding after it was replaced away")
	}
}

func TestRegistryWaitReady(t *testing.T) {
	reg := New()

	if err := reg.WaitReady(context.Background(), 10*time.Millisecond); err == nil {
		t.Error("WaitReady() on a never-loaded registry did not time out")
	}

	reg.Replace(map[int64]*Definition{})
	if err := reg.WaitReady(context.Background(), 10*time.Millisecond); err != nil {
		t.Errorf("WaitReady() after first load error = %v", err)
	}
}

func TestRegistrySignalReload(t *testing.T) {
	reg := New()

	// Signaling never blocks, even repeatedly without a listener.
	reg.SignalReload()
	reg.SignalReload()

	select {
	case <-reg.ReloadRequests():
	default:
		t.Error("no reload request after SignalReload()")
	}
}

func TestRegistryHasReaction(t *testing.T) {
	withReaction := validDefinition("with_reaction")
	withReaction.Reactions = map[string][]ReactionFunc{
		models.EventIssueCreated: {{Name: "annotate"}},
	}

	withNotifications := validDefinition("with_notifications")
	withNotifications.Notifications = []NotificationTarget{
		{Target: "oncall", MinPriorityToSend: models.PriorityModerate},
	}

	plain := validDefinition("plain")

	reg := New()
	reg.Replace(map[int64]*Definition{
		1: withReaction,
		2: withNotifications,
		3: plain,
	})

	tests := []struct {
		name      string
		monitorID int64
		eventName string
		want      bool
	}{
		{"bound reaction", 1, models.EventIssueCreated, true},
		{"unbound event", 1, models.EventIssueSolved, false},
		{"notification alert event", 2, models.EventAlertCreated, true},
		{"notification non-alert event", 2, models.EventIssueCreated, false},
		{"plain monitor", 3, models.EventAlertCreated, false},
		{"unknown monitor", 99, models.EventAlertCreated, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := reg.HasReaction(tt.monitorID, tt.eventName); got != tt.want {
				t.Errorf("HasReaction(%d, %s) = %v, want %v", tt.monitorID, tt.eventName, got, tt.want)
			}
		})
	}
}
