package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sentinela/sentinela/internal/auth"
	"github.com/sentinela/sentinela/internal/config"
	"github.com/sentinela/sentinela/internal/models"
	"github.com/sentinela/sentinela/internal/queue"
	"github.com/sentinela/sentinela/internal/registry"
)

type fakeStore struct {
	monitors []models.Monitor
}

func (f *fakeStore) ListMonitors(ctx context.Context) ([]models.Monitor, error) {
	return f.monitors, nil
}

func (f *fakeStore) GetMonitorByName(ctx context.Context, name string) (*models.Monitor, error) {
	for i := range f.monitors {
		if f.monitors[i].Name == name {
			return &f.monitors[i], nil
		}
	}
	return nil, nil
}

type testAPI struct {
	router http.Handler
	queue  *queue.InternalQueue
	token  string
}

func newTestAPI(t *testing.T, store Store) *testAPI {
	t.Helper()

	svc, err := auth.NewService(strings.Repeat("s", 32), "admin", "hunter2hunter2", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	q := queue.NewInternalQueue(config.QueueConfig{
		Type:                "internal",
		QueueVisibilityTime: 30,
		InternalQueueSize:   100,
	}, slog.Default())

	catalog := registry.NewCatalog()
	if err := catalog.Add(&registry.Definition{
		Name:         "orders_lag",
		Options:      models.MonitorOptions{SearchCron: "*/5 * * * *"},
		IssueOptions: models.IssueOptions{ModelIDKey: "id"},
		Search: func(ctx context.Context, tools registry.Tools) ([]map[string]any, error) {
			return nil, nil
		},
	}); err != nil {
		t.Fatal(err)
	}

	reg := registry.New()
	reg.Replace(map[int64]*registry.Definition{})

	router := NewRouter(&Dependencies{
		Store:      store,
		Queue:      q,
		Catalog:    catalog,
		Registry:   reg,
		Auth:       svc,
		Components: map[string]Diagnosable{},
		Logger:     slog.Default(),
	})

	login, err := svc.Login("admin", "hunter2hunter2")
	if err != nil {
		t.Fatal(err)
	}

	return &testAPI{router: router, queue: q, token: login.Token}
}

func (a *testAPI) request(t *testing.T, method, path, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if authed {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) lastRequest(t *testing.T) queue.RequestPayload {
	t.Helper()
	msg, err := a.queue.Receive(context.Background())
	if err != nil || msg == nil {
		t.Fatalf("no request enqueued: %v", err)
	}
	if msg.Kind != queue.KindRequest {
		t.Fatalf("enqueued kind = %q, want request", msg.Kind)
	}
	var payload queue.RequestPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		t.Fatal(err)
	}
	return payload
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t, &fakeStore{})

	rec := api.request(t, http.MethodGet, "/health", "", false)
	if rec.Code != http.StatusOK {
		t.Errorf("GET /health = %d, want 200", rec.Code)
	}
}

func TestLogin(t *testing.T) {
	api := newTestAPI(t, &fakeStore{})

	rec := api.request(t, http.MethodPost, "/api/v1/auth/login",
		`{"username":"admin","password":"hunter2hunter2"}`, false)
	if rec.Code != http.StatusOK {
		t.Fatalf("login = %d, want 200", rec.Code)
	}

	var resp auth.LoginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Token == "" {
		t.Error("login response has no token")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	api := newTestAPI(t, &fakeStore{})

	rec := api.request(t, http.MethodPost, "/api/v1/auth/login",
		`{"username":"admin","password":"wrong"}`, false)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("login with wrong password = %d, want 401", rec.Code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	api := newTestAPI(t, &fakeStore{})

	rec := api.request(t, http.MethodGet, "/api/v1/monitors/", "", false)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated list = %d, want 401", rec.Code)
	}
}

func TestListMonitors(t *testing.T) {
	api := newTestAPI(t, &fakeStore{monitors: []models.Monitor{
		{ID: 1, Name: "orders_lag", Enabled: true},
	}})

	rec := api.request(t, http.MethodGet, "/api/v1/monitors/", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("list monitors = %d, want 200", rec.Code)
	}

	var resp struct {
		Monitors []models.Monitor `json:"monitors"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Monitors) != 1 || resp.Monitors[0].Name != "orders_lag" {
		t.Errorf("monitors = %+v", resp.Monitors)
	}
}

func TestGetMonitorNotFound(t *testing.T) {
	api := newTestAPI(t, &fakeStore{})

	rec := api.request(t, http.MethodGet, "/api/v1/monitors/missing", "", true)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get missing monitor = %d, want 404", rec.Code)
	}
}

func TestValidateMonitor(t *testing.T) {
	api := newTestAPI(t, &fakeStore{monitors: []models.Monitor{
		{ID: 1, Name: "orders_lag"},
	}})

	rec := api.request(t, http.MethodGet, "/api/v1/monitors/ORDERS_LAG/validate", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("validate = %d, want 200", rec.Code)
	}

	var result map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if result["normalized_name"] != "orders_lag" {
		t.Errorf("normalized_name = %v", result["normalized_name"])
	}
	if result["registered"] != true || result["valid"] != true || result["exists"] != true {
		t.Errorf("validation result = %v", result)
	}
}

func TestAlertActionEnqueues(t *testing.T) {
	api := newTestAPI(t, &fakeStore{})

	rec := api.request(t, http.MethodPost, "/api/v1/alerts/9/lock", "", true)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("alert lock = %d, want 202", rec.Code)
	}

	payload := api.lastRequest(t)
	if payload.Action != "alert_lock" {
		t.Errorf("action = %q, want alert_lock", payload.Action)
	}
	if payload.Params["alert_id"] != float64(9) {
		t.Errorf("alert_id = %v, want 9", payload.Params["alert_id"])
	}
}

func TestAlertActionBadID(t *testing.T) {
	api := newTestAPI(t, &fakeStore{})

	rec := api.request(t, http.MethodPost, "/api/v1/alerts/not-a-number/solve", "", true)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("alert solve with bad id = %d, want 400", rec.Code)
	}
}

func TestRegisterMonitorEnqueues(t *testing.T) {
	api := newTestAPI(t, &fakeStore{})

	rec := api.request(t, http.MethodPost, "/api/v1/monitors/register",
		`{"name":"new_monitor"}`, true)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("register = %d, want 202", rec.Code)
	}

	payload := api.lastRequest(t)
	if payload.Action != "monitor_register" || payload.Params["monitor_name"] != "new_monitor" {
		t.Errorf("payload = %+v", payload)
	}
}

func TestSubmitRequestRequiresAction(t *testing.T) {
	api := newTestAPI(t, &fakeStore{})

	rec := api.request(t, http.MethodPost, "/api/v1/requests", `{"params":{}}`, true)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("request without action = %d, want 400", rec.Code)
	}
}
