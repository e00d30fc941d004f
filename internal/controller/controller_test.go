package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/sentinela/sentinela/internal/config"
	"github.com/sentinela/sentinela/internal/models"
	"github.com/sentinela/sentinela/internal/queue"
	"github.com/sentinela/sentinela/internal/registry"
)

type fakeStore struct {
	monitors []models.Monitor

	claimResult  bool
	claimErr     error
	claimedIDs   []int64
	revertedIDs  []int64
	stuck        []models.Monitor
	resetIDs     []int64
	solvedNotifs []models.Notification
	closedNotifs []int64
	deleted      int64
}

func (f *fakeStore) GetEnabledMonitors(ctx context.Context) ([]models.Monitor, error) {
	return f.monitors, nil
}

func (f *fakeStore) ClaimMonitorForRun(ctx context.Context, id int64) (bool, error) {
	f.claimedIDs = append(f.claimedIDs, id)
	return f.claimResult, f.claimErr
}

func (f *fakeStore) RevertClaim(ctx context.Context, id int64) error {
	f.revertedIDs = append(f.revertedIDs, id)
	return nil
}

func (f *fakeStore) ListStuckMonitors(ctx context.Context, tolerance time.Duration) ([]models.Monitor, error) {
	return f.stuck, nil
}

func (f *fakeStore) ResetStuckMonitor(ctx context.Context, id int64) error {
	f.resetIDs = append(f.resetIDs, id)
	return nil
}

func (f *fakeStore) ListNotificationsForSolvedAlerts(ctx context.Context, grace time.Duration) ([]models.Notification, error) {
	return f.solvedNotifs, nil
}

func (f *fakeStore) CloseNotification(ctx context.Context, id int64) error {
	f.closedNotifs = append(f.closedNotifs, id)
	return nil
}

func (f *fakeStore) DeleteOldEvents(ctx context.Context, retention time.Duration) (int64, error) {
	return f.deleted, nil
}

type fakeQueue struct {
	sent    []queue.MonitorPayload
	sendErr error
}

func (f *fakeQueue) Send(ctx context.Context, kind queue.Kind, payload any) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	if p, ok := payload.(queue.MonitorPayload); ok {
		f.sent = append(f.sent, p)
	}
	return nil
}

func (f *fakeQueue) Receive(ctx context.Context) (*queue.Message, error) { return nil, nil }

func (f *fakeQueue) ExtendVisibility(ctx context.Context, m *queue.Message) error { return nil }

func (f *fakeQueue) Ack(ctx context.Context, m *queue.Message) error { return nil }

func (f *fakeQueue) Nack(ctx context.Context, m *queue.Message) error { return nil }

func searchOnlyDefinition(name string) *registry.Definition {
	return &registry.Definition{
		Name:         name,
		Options:      models.MonitorOptions{SearchCron: "*/5 * * * *"},
		IssueOptions: models.IssueOptions{ModelIDKey: "id"},
		Search: func(ctx context.Context, tools registry.Tools) ([]map[string]any, error) {
			return nil, nil
		},
	}
}

func testController(store *fakeStore, q queue.Queue, defs map[int64]*registry.Definition) *Controller {
	reg := registry.New()
	reg.Replace(defs)

	cfg := &config.Config{
		ControllerProcessSchedule: "* * * * *",
		ControllerConcurrency:     2,
	}
	return New(store, reg, q, cfg, slog.Default())
}

func timePtr(t time.Time) *time.Time { return &t }

func TestIsTriggered(t *testing.T) {
	sched, err := registry.ParseCron("*/5 * * * *")
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 8, 25, 12, 5, 0, 0, time.UTC)

	tests := []struct {
		name string
		last *time.Time
		want bool
	}{
		{"never ran", nil, true},
		{"fired since last run", timePtr(now.Add(-14 * time.Minute)), true},
		{"fires exactly at now", timePtr(now.Add(-3 * time.Minute)), true},
		{"ran on this firing already", timePtr(now), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isTriggered(sched, tt.last, now); got != tt.want {
				t.Errorf("isTriggered(last=%v) = %v, want %v", tt.last, got, tt.want)
			}
		})
	}
}

func TestControllerClockTimeZone(t *testing.T) {
	cfg := &config.Config{
		ControllerProcessSchedule: "* * * * *",
		ControllerConcurrency:     2,
		TimeZone:                  "America/Sao_Paulo",
	}
	c := New(&fakeStore{}, registry.New(), &fakeQueue{}, cfg, slog.Default())

	if got := c.now().Location().String(); got != "America/Sao_Paulo" {
		t.Errorf("controller clock runs in %s, want America/Sao_Paulo", got)
	}
}

func TestDueTasks(t *testing.T) {
	def := searchOnlyDefinition("orders_lag")
	def.Options.UpdateCron = "* * * * *"
	def.Update = func(ctx context.Context, tools registry.Tools, issuesData []map[string]any) ([]map[string]any, error) {
		return nil, nil
	}

	c := testController(&fakeStore{}, &fakeQueue{}, nil)
	now := time.Date(2026, 8, 25, 12, 7, 30, 0, time.UTC)

	t.Run("never executed", func(t *testing.T) {
		tasks := c.dueTasks(def, models.Monitor{}, now)
		if len(tasks) != 2 || tasks[0] != "search" || tasks[1] != "update" {
			t.Errorf("dueTasks() = %v, want [search update]", tasks)
		}
	})

	t.Run("search not due", func(t *testing.T) {
		monitor := models.Monitor{
			SearchExecutedAt: timePtr(now.Add(-time.Minute)),
			UpdateExecutedAt: timePtr(now.Add(-2 * time.Minute)),
		}
		tasks := c.dueTasks(def, monitor, now)
		if len(tasks) != 1 || tasks[0] != "update" {
			t.Errorf("dueTasks() = %v, want [update]", tasks)
		}
	})
}

func TestProcessMonitorQueues(t *testing.T) {
	store := &fakeStore{claimResult: true}
	q := &fakeQueue{}
	c := testController(store, q, map[int64]*registry.Definition{
		1: searchOnlyDefinition("orders_lag"),
	})

	queued := c.processMonitor(context.Background(), models.Monitor{ID: 1, Name: "orders_lag", Enabled: true}, time.Now())

	if !queued {
		t.Fatal("processMonitor() did not queue a due monitor")
	}
	if len(q.sent) != 1 || q.sent[0].MonitorID != 1 {
		t.Errorf("sent = %+v", q.sent)
	}
	if len(q.sent[0].Tasks) != 1 || q.sent[0].Tasks[0] != "search" {
		t.Errorf("tasks = %v, want [search]", q.sent[0].Tasks)
	}
}

func TestProcessMonitorNotRegistered(t *testing.T) {
	store := &fakeStore{claimResult: true}
	q := &fakeQueue{}
	c := testController(store, q, nil)

	queued := c.processMonitor(context.Background(), models.Monitor{ID: 1, Name: "orders_lag"}, time.Now())

	if queued {
		t.Error("processMonitor() queued an unregistered monitor")
	}
	if len(store.claimedIDs) != 0 {
		t.Errorf("claimed = %v, want none", store.claimedIDs)
	}
}

func TestProcessMonitorClaimLost(t *testing.T) {
	store := &fakeStore{claimResult: false}
	q := &fakeQueue{}
	c := testController(store, q, map[int64]*registry.Definition{
		1: searchOnlyDefinition("orders_lag"),
	})

	queued := c.processMonitor(context.Background(), models.Monitor{ID: 1, Name: "orders_lag"}, time.Now())

	if queued {
		t.Error("processMonitor() queued a monitor it failed to claim")
	}
	if len(q.sent) != 0 {
		t.Errorf("sent = %+v, want none", q.sent)
	}
}

func TestProcessMonitorRevertsClaimOnSendFailure(t *testing.T) {
	store := &fakeStore{claimResult: true}
	q := &fakeQueue{sendErr: errors.New("queue full")}
	c := testController(store, q, map[int64]*registry.Definition{
		1: searchOnlyDefinition("orders_lag"),
	})

	queued := c.processMonitor(context.Background(), models.Monitor{ID: 1, Name: "orders_lag"}, time.Now())

	if queued {
		t.Error("processMonitor() reported a failed enqueue as queued")
	}
	if len(store.revertedIDs) != 1 || store.revertedIDs[0] != 1 {
		t.Errorf("reverted = %v, want [1]", store.revertedIDs)
	}
}

func TestProcedureMonitorsStuck(t *testing.T) {
	store := &fakeStore{stuck: []models.Monitor{{ID: 3, Name: "stuck_one"}, {ID: 9, Name: "stuck_two"}}}
	c := testController(store, &fakeQueue{}, nil)

	if err := c.procedureMonitorsStuck(context.Background(), map[string]any{"time_tolerance": 600}); err != nil {
		t.Fatalf("procedureMonitorsStuck() error = %v", err)
	}
	if fmt.Sprint(store.resetIDs) != "[3 9]" {
		t.Errorf("reset = %v, want [3 9]", store.resetIDs)
	}
}

func TestProcedureNotificationsSolved(t *testing.T) {
	store := &fakeStore{solvedNotifs: []models.Notification{{ID: 11}, {ID: 12}}}
	c := testController(store, &fakeQueue{}, nil)

	if err := c.procedureNotificationsSolved(context.Background(), nil); err != nil {
		t.Fatalf("procedureNotificationsSolved() error = %v", err)
	}
	if fmt.Sprint(store.closedNotifs) != "[11 12]" {
		t.Errorf("closed = %v, want [11 12]", store.closedNotifs)
	}
}

func TestParamHelpers(t *testing.T) {
	if got := paramDuration(map[string]any{"time_tolerance": 120}, "time_tolerance", time.Minute); got != 2*time.Minute {
		t.Errorf("paramDuration() = %v, want 2m", got)
	}
	if got := paramDuration(nil, "time_tolerance", time.Minute); got != time.Minute {
		t.Errorf("paramDuration() fallback = %v, want 1m", got)
	}
	if got := paramInt(map[string]any{"retention_days": float64(30)}, "retention_days", 90); got != 30 {
		t.Errorf("paramInt() = %d, want 30", got)
	}
	if got := paramInt(map[string]any{"retention_days": "30"}, "retention_days", 90); got != 90 {
		t.Errorf("paramInt() with a string = %d, want the fallback", got)
	}
}
