package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hearthward/myq-sync/internal/bridge"
	"github.com/hearthward/myq-sync/internal/infrastructure/config"
	"github.com/hearthward/myq-sync/internal/infrastructure/database"
	"github.com/hearthward/myq-sync/internal/infrastructure/logging"
	"github.com/hearthward/myq-sync/internal/myq"
	_ "github.com/hearthward/myq-sync/migrations"
)

// testServer creates a Server with a real binding registry backed by
// in-memory SQLite and an offline cloud client.
func testServer(t *testing.T) (*Server, *bridge.Registry) {
	t.Helper()

	db := setupTestDB(t)
	repo := bridge.NewSQLiteRepository(db)
	registry := bridge.NewRegistry(repo)
	if err := registry.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		Logger:   log,
		Cloud:    myq.New("user@example.com", "hunter2"),
		Registry: registry,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	return srv, registry
}

// setupTestDB creates an in-memory SQLite database with the bindings
// and triggers tables.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	// One in-memory database per connection otherwise.
	db.SetMaxOpenConns(1)

	schema := `
		CREATE TABLE bindings (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			kind TEXT NOT NULL CHECK (kind IN ('opener', 'lamp')),
			address TEXT NOT NULL UNIQUE,
			sensor_id TEXT,
			sensor_kind TEXT,
			inverted_sensor INTEGER NOT NULL DEFAULT 0,
			on_off_state INTEGER NOT NULL DEFAULT 0,
			door_status TEXT,
			lamp_status TEXT,
			schema_version INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE TABLE triggers (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			binding_id TEXT NOT NULL REFERENCES bindings(id) ON DELETE CASCADE,
			enabled INTEGER NOT NULL DEFAULT 1,
			created_at TEXT NOT NULL
		);
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// seedBinding creates a binding for handler tests.
func seedBinding(t *testing.T, registry *bridge.Registry, id, serial string) bridge.Binding {
	t.Helper()

	binding := bridge.Binding{
		ID:     id,
		Name:   "East Door",
		Kind:   bridge.KindOpener,
		Serial: serial,
	}
	if err := registry.Create(context.Background(), binding); err != nil {
		t.Fatalf("Create: %v", err)
	}

	created, err := registry.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return created
}

// doRequest runs a request through the full router and returns the recorder.
func doRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response body: %v", err)
	}
	return v
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	w := doRequest(t, srv, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	resp := decodeBody[map[string]string](t, w)
	if resp["status"] != "ok" {
		t.Errorf("status = %q, want ok", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %q, want test", resp["version"])
	}
}

func TestRequestIDHeader(t *testing.T) {
	srv, _ := testServer(t)

	w := doRequest(t, srv, http.MethodGet, "/api/v1/health", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header not set")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-supplied")
	rec := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "client-supplied" {
		t.Errorf("X-Request-ID = %q, want client-supplied", got)
	}
}

func TestListAccountsEmpty(t *testing.T) {
	srv, _ := testServer(t)

	w := doRequest(t, srv, http.MethodGet, "/api/v1/accounts", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	resp := decodeBody[[]accountResponse](t, w)
	if len(resp) != 0 {
		t.Errorf("accounts = %d, want 0", len(resp))
	}
}

func TestListDevicesEmpty(t *testing.T) {
	srv, _ := testServer(t)

	w := doRequest(t, srv, http.MethodGet, "/api/v1/devices/", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	resp := decodeBody[[]deviceResponse](t, w)
	if len(resp) != 0 {
		t.Errorf("devices = %d, want 0", len(resp))
	}
}

func TestGetDeviceNotFound(t *testing.T) {
	srv, _ := testServer(t)

	w := doRequest(t, srv, http.MethodGet, "/api/v1/devices/GW000/", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestCommandWithoutDispatcher(t *testing.T) {
	srv, _ := testServer(t)

	w := doRequest(t, srv, http.MethodPost, "/api/v1/devices/GW000/command", `{"command":"open"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestCommandRequiresBody(t *testing.T) {
	srv, _ := testServer(t)
	srv.dispatcher = bridge.NewDispatcher(nil, nil)

	w := doRequest(t, srv, http.MethodPost, "/api/v1/devices/GW000/command", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

// countingRefresher records RequestRefresh calls.
type countingRefresher struct {
	calls int
}

func (c *countingRefresher) RequestRefresh() { c.calls++ }

func TestRefreshEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	w := doRequest(t, srv, http.MethodPost, "/api/v1/devices/refresh", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status without engine = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}

	refresher := &countingRefresher{}
	srv.engine = refresher

	w = doRequest(t, srv, http.MethodPost, "/api/v1/devices/refresh", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	if refresher.calls != 1 {
		t.Errorf("RequestRefresh calls = %d, want 1", refresher.calls)
	}
}

func TestListBindings(t *testing.T) {
	srv, registry := testServer(t)
	seedBinding(t, registry, "binding-1", "GW100")
	seedBinding(t, registry, "binding-2", "GW200")

	w := doRequest(t, srv, http.MethodGet, "/api/v1/bindings/", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	resp := decodeBody[[]bridge.Binding](t, w)
	if len(resp) != 2 {
		t.Errorf("bindings = %d, want 2", len(resp))
	}
}

func TestGetBinding(t *testing.T) {
	srv, registry := testServer(t)
	seedBinding(t, registry, "binding-1", "GW100")

	w := doRequest(t, srv, http.MethodGet, "/api/v1/bindings/binding-1/", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	resp := decodeBody[bridge.Binding](t, w)
	if resp.Serial != "GW100" {
		t.Errorf("serial = %q, want GW100", resp.Serial)
	}

	w = doRequest(t, srv, http.MethodGet, "/api/v1/bindings/nope/", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing binding status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestUpdateBindingPairsSensor(t *testing.T) {
	srv, registry := testServer(t)
	seedBinding(t, registry, "binding-1", "GW100")

	body := `{"sensor_id":"door-contact-03","sensor_kind":"lock","inverted_sensor":true}`
	w := doRequest(t, srv, http.MethodPatch, "/api/v1/bindings/binding-1/", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}

	resp := decodeBody[bridge.Binding](t, w)
	if resp.SensorID != "door-contact-03" {
		t.Errorf("sensor_id = %q, want door-contact-03", resp.SensorID)
	}
	if resp.SensorKind != bridge.SensorLock {
		t.Errorf("sensor_kind = %q, want lock", resp.SensorKind)
	}
	if !resp.InvertedSensor {
		t.Error("inverted_sensor = false, want true")
	}

	// Unpair; kind untouched fields remain.
	w = doRequest(t, srv, http.MethodPatch, "/api/v1/bindings/binding-1/", `{"sensor_id":""}`)
	if w.Code != http.StatusOK {
		t.Fatalf("unpair status = %d, want %d", w.Code, http.StatusOK)
	}
	updated, err := registry.Get("binding-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if updated.SensorID != "" {
		t.Errorf("sensor_id after unpair = %q, want empty", updated.SensorID)
	}
	if !updated.InvertedSensor {
		t.Error("inverted_sensor reset by partial update")
	}
}

func TestUpdateBindingRejectsInvalidKind(t *testing.T) {
	srv, registry := testServer(t)
	seedBinding(t, registry, "binding-1", "GW100")

	w := doRequest(t, srv, http.MethodPatch, "/api/v1/bindings/binding-1/", `{"sensor_id":"door-contact-03","sensor_kind":"sonar"}`)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnprocessableEntity)
	}
}

func TestTriggerLifecycle(t *testing.T) {
	srv, registry := testServer(t)
	seedBinding(t, registry, "binding-1", "GW100")

	w := doRequest(t, srv, http.MethodPost, "/api/v1/bindings/binding-1/triggers", `{"name":"notify","enabled":true}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want %d: %s", w.Code, http.StatusCreated, w.Body.String())
	}
	created := decodeBody[bridge.Trigger](t, w)
	if created.ID == 0 {
		t.Error("trigger ID not assigned")
	}

	w = doRequest(t, srv, http.MethodGet, "/api/v1/bindings/binding-1/triggers", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d, want %d", w.Code, http.StatusOK)
	}
	triggers := decodeBody[[]bridge.Trigger](t, w)
	if len(triggers) != 1 {
		t.Fatalf("triggers = %d, want 1", len(triggers))
	}

	w = doRequest(t, srv, http.MethodDelete, fmt.Sprintf("/api/v1/triggers/%d", created.ID), "")
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d, want %d", w.Code, http.StatusOK)
	}

	w = doRequest(t, srv, http.MethodDelete, fmt.Sprintf("/api/v1/triggers/%d", created.ID), "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("repeat delete status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestCreateTriggerUnknownBinding(t *testing.T) {
	srv, _ := testServer(t)

	w := doRequest(t, srv, http.MethodPost, "/api/v1/bindings/nope/triggers", `{"name":"notify"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestDatabaseStatusWithoutDatabase(t *testing.T) {
	srv, _ := testServer(t)

	w := doRequest(t, srv, http.MethodGet, "/api/v1/system/database", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestDatabaseStatusReportsMigrations(t *testing.T) {
	srv, _ := testServer(t)

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "myqsync.db"),
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	srv.db = db

	w := doRequest(t, srv, http.MethodGet, "/api/v1/system/database", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", w.Code, http.StatusOK, w.Body.String())
	}

	resp := decodeBody[databaseStatusResponse](t, w)
	if resp.Path == "" {
		t.Error("path missing from status")
	}
	if len(resp.AppliedMigrations) == 0 {
		t.Error("no applied migrations reported after Migrate")
	}
	if len(resp.PendingMigrations) != 0 {
		t.Errorf("pending migrations = %d, want 0", len(resp.PendingMigrations))
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")

	if _, err := New(Deps{}); err == nil {
		t.Error("New with no deps should fail")
	}
	if _, err := New(Deps{Logger: log}); err == nil {
		t.Error("New without cloud client should fail")
	}
	if _, err := New(Deps{Logger: log, Cloud: myq.New("u", "p")}); err == nil {
		t.Error("New without registry should fail")
	}
}
