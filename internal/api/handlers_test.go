package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/dokzlo13/curfewd/internal/db"
	"github.com/dokzlo13/curfewd/internal/ledger"
	"github.com/dokzlo13/curfewd/internal/policy"
	"github.com/dokzlo13/curfewd/internal/reconcile"
	"github.com/dokzlo13/curfewd/internal/store"
)

// Monday 2026-08-17 noon.
var testNow = time.Date(2026, time.August, 17, 12, 0, 0, 0, time.UTC)

type fixedClock struct{ now time.Time }

func (f fixedClock) Now() time.Time { return f.now }

// fakeEngine records reconcile requests instead of talking to hardware.
type fakeEngine struct {
	mu          sync.Mutex
	reconciled  []int64
	invalidated []int64
	fullPasses  int
	cached      map[int64]reconcile.PortState
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{cached: make(map[int64]reconcile.PortState)}
}

func (f *fakeEngine) ReconcileDevice(_ context.Context, deviceID int64) reconcile.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconciled = append(f.reconciled, deviceID)
	return reconcile.Outcome{
		DeviceID: deviceID,
		Status:   reconcile.StatusChanged,
		Enabled:  true,
		Reason:   policy.ReasonDefault,
	}
}

func (f *fakeEngine) ReconcileAll(_ context.Context) []reconcile.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fullPasses++
	return nil
}

func (f *fakeEngine) CachedState(deviceID int64) (reconcile.PortState, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.cached[deviceID]
	return state, ok
}

func (f *fakeEngine) Invalidate(deviceID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, deviceID)
}

func (f *fakeEngine) setCached(deviceID int64, enabled bool, at time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cached[deviceID] = reconcile.PortState{Enabled: enabled, SyncedAt: at}
}

func (f *fakeEngine) reconciledDevices() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.reconciled...)
}

func (f *fakeEngine) invalidatedDevices() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.invalidated...)
}

type testAPI struct {
	server  *Server
	store   *store.Store
	history *ledger.Ledger
	engine  *fakeEngine
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "curfew.db"))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	st := store.New(database.DB)
	history := ledger.New(database.DB)
	clk := fixedClock{now: testNow}
	engine := newFakeEngine()

	h := NewHandler(st, policy.NewResolver(st, clk), engine, history, clk)
	return &testAPI{
		server:  NewServer("127.0.0.1", 0, h),
		store:   st,
		history: history,
		engine:  engine,
	}
}

func (a *testAPI) addDevice(t *testing.T, name string) int64 {
	t.Helper()
	d := &store.Device{Name: name, Address: "10.0.0.2", Username: "admin", Password: "admin", Port: 4}
	if err := a.store.CreateDevice(d); err != nil {
		t.Fatalf("CreateDevice() error = %v", err)
	}
	return d.ID
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	raw := []byte(nil)
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	a.server.echo.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, into any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), into); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
}

func TestActivatePunishmentWithoutSchedule(t *testing.T) {
	a := newTestAPI(t)
	id := a.addDevice(t, "kids-console")

	rec := a.do(t, http.MethodPost, fmt.Sprintf("/api/devices/%d/punishment", id), nil)
	if rec.Code != http.StatusPreconditionFailed {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusPreconditionFailed, rec.Body.String())
	}

	p, err := a.store.ActivePunishment(id, testNow)
	if err != nil {
		t.Fatalf("ActivePunishment() error = %v", err)
	}
	if p != nil {
		t.Errorf("punishment persisted after refused activation: %+v", p)
	}
	if got := a.engine.reconciledDevices(); len(got) != 0 {
		t.Errorf("reconciled devices = %v, want none", got)
	}
}

func TestActivatePunishmentEndsAtNextWindow(t *testing.T) {
	a := newTestAPI(t)
	id := a.addDevice(t, "kids-console")

	// Monday 20:00-22:00, still ahead of the fixed noon clock
	w := &store.Window{DeviceID: id, Day: 0, StartMin: 20 * 60, EndMin: 22 * 60}
	if err := a.store.AddWindow(w); err != nil {
		t.Fatalf("AddWindow() error = %v", err)
	}

	rec := a.do(t, http.MethodPost, fmt.Sprintf("/api/devices/%d/punishment", id), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var resp struct {
		ExpiresAt time.Time `json:"expires_at"`
		Reconcile struct {
			DeviceID int64  `json:"device_id"`
			Status   string `json:"status"`
		} `json:"reconcile"`
	}
	decodeJSON(t, rec, &resp)

	wantEnd := time.Date(2026, time.August, 17, 20, 0, 0, 0, time.UTC)
	if !resp.ExpiresAt.Equal(wantEnd) {
		t.Errorf("expires_at = %v, want %v", resp.ExpiresAt, wantEnd)
	}
	if resp.Reconcile.DeviceID != id || resp.Reconcile.Status != "changed" {
		t.Errorf("reconcile outcome = %+v, want device %d changed", resp.Reconcile, id)
	}
	if got := a.engine.reconciledDevices(); len(got) != 1 || got[0] != id {
		t.Errorf("reconciled devices = %v, want [%d]", got, id)
	}
}

func TestGrantAccessStacks(t *testing.T) {
	a := newTestAPI(t)
	id := a.addDevice(t, "kids-console")

	rec := a.do(t, http.MethodPost, fmt.Sprintf("/api/devices/%d/access", id),
		map[string]any{"duration_minutes": 0})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("zero duration status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	var resp struct {
		GrantedAt time.Time `json:"granted_at"`
		ExpiresAt time.Time `json:"expires_at"`
		Extended  bool      `json:"extended"`
	}

	rec = a.do(t, http.MethodPost, fmt.Sprintf("/api/devices/%d/access", id),
		map[string]any{"duration_minutes": 30})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	decodeJSON(t, rec, &resp)
	if !resp.GrantedAt.Equal(testNow) {
		t.Errorf("granted_at = %v, want %v", resp.GrantedAt, testNow)
	}
	if want := testNow.Add(30 * time.Minute); !resp.ExpiresAt.Equal(want) {
		t.Errorf("expires_at = %v, want %v", resp.ExpiresAt, want)
	}
	if resp.Extended {
		t.Error("extended = true on first grant")
	}

	// A second grant extends the one in force instead of replacing it
	rec = a.do(t, http.MethodPost, fmt.Sprintf("/api/devices/%d/access", id),
		map[string]any{"duration_minutes": 15})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}
	decodeJSON(t, rec, &resp)
	if want := testNow.Add(45 * time.Minute); !resp.ExpiresAt.Equal(want) {
		t.Errorf("stacked expires_at = %v, want %v", resp.ExpiresAt, want)
	}
	if !resp.Extended {
		t.Error("extended = false on stacked grant")
	}

	if got := a.engine.reconciledDevices(); len(got) != 2 {
		t.Errorf("reconciled devices = %v, want two entries for device %d", got, id)
	}
}

func TestDeviceStatus(t *testing.T) {
	a := newTestAPI(t)
	id := a.addDevice(t, "kids-console")

	rec := a.do(t, http.MethodGet, fmt.Sprintf("/api/devices/%d/status", id), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var resp struct {
		DeviceID        int64           `json:"device_id"`
		Enabled         bool            `json:"enabled"`
		Reason          string          `json:"reason"`
		Port            json.RawMessage `json:"port"`
		TemporaryAccess json.RawMessage `json:"temporary_access"`
	}
	decodeJSON(t, rec, &resp)
	if !resp.Enabled || resp.Reason != "default" {
		t.Errorf("decision = enabled %v reason %q, want default-enabled", resp.Enabled, resp.Reason)
	}
	if string(resp.Port) != "null" {
		t.Errorf("port = %s, want null before any confirmed command", resp.Port)
	}
	if string(resp.TemporaryAccess) != "null" {
		t.Errorf("temporary_access = %s, want null", resp.TemporaryAccess)
	}

	if _, _, err := a.store.GrantAccess(id, time.Hour, testNow); err != nil {
		t.Fatalf("GrantAccess() error = %v", err)
	}
	a.engine.setCached(id, true, testNow)

	rec = a.do(t, http.MethodGet, fmt.Sprintf("/api/devices/%d/status", id), nil)
	var withOverrides struct {
		Reason string `json:"reason"`
		Port   *struct {
			Enabled bool `json:"enabled"`
		} `json:"port"`
		TemporaryAccess *struct {
			ExpiresAt time.Time `json:"expires_at"`
		} `json:"temporary_access"`
	}
	decodeJSON(t, rec, &withOverrides)
	if withOverrides.Reason != "temp_access" {
		t.Errorf("reason = %q, want temp_access", withOverrides.Reason)
	}
	if withOverrides.Port == nil || !withOverrides.Port.Enabled {
		t.Errorf("port = %+v, want confirmed enabled state", withOverrides.Port)
	}
	if withOverrides.TemporaryAccess == nil {
		t.Error("temporary_access missing while a grant is in force")
	} else if want := testNow.Add(time.Hour); !withOverrides.TemporaryAccess.ExpiresAt.Equal(want) {
		t.Errorf("temporary_access.expires_at = %v, want %v", withOverrides.TemporaryAccess.ExpiresAt, want)
	}

	rec = a.do(t, http.MethodGet, "/api/devices/99/status", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown device status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestCreateDevice(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/devices",
		map[string]any{"name": "", "address": "10.0.0.9", "port": 1})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("nameless device status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	rec = a.do(t, http.MethodPost, "/api/devices", map[string]any{
		"name": "den-console", "address": "10.0.0.9",
		"username": "admin", "password": "hunter2", "port": 2,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusCreated, rec.Body.String())
	}

	var resp struct {
		Device deviceResponse `json:"device"`
	}
	decodeJSON(t, rec, &resp)
	if resp.Device.ID == 0 || resp.Device.Name != "den-console" {
		t.Errorf("device = %+v, want persisted den-console", resp.Device)
	}
	if bytes.Contains(rec.Body.Bytes(), []byte("hunter2")) {
		t.Error("response echoes the device password")
	}
	if got := a.engine.reconciledDevices(); len(got) != 1 || got[0] != resp.Device.ID {
		t.Errorf("reconciled devices = %v, want [%d]", got, resp.Device.ID)
	}
}

func TestDeleteDevice(t *testing.T) {
	a := newTestAPI(t)
	first := a.addDevice(t, "attic-switch")
	second := a.addDevice(t, "basement-switch")

	rec := a.do(t, http.MethodDelete, fmt.Sprintf("/api/devices/%d", first), nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusNoContent, rec.Body.String())
	}
	if got := a.engine.invalidatedDevices(); len(got) != 1 || got[0] != first {
		t.Errorf("invalidated devices = %v, want [%d]", got, first)
	}

	// The last managed device cannot be removed
	rec = a.do(t, http.MethodDelete, fmt.Sprintf("/api/devices/%d", second), nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("last device delete status = %d, want %d", rec.Code, http.StatusConflict)
	}
}

func TestAddWindow(t *testing.T) {
	a := newTestAPI(t)
	id := a.addDevice(t, "kids-console")

	for _, body := range []map[string]any{
		{"day_of_week": 7, "start_time": "07:00", "end_time": "08:00"},
		{"day_of_week": 1, "start_time": "7am", "end_time": "08:00"},
	} {
		rec := a.do(t, http.MethodPost, fmt.Sprintf("/api/devices/%d/schedules", id), body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("AddWindow(%v) status = %d, want %d", body, rec.Code, http.StatusBadRequest)
		}
	}

	rec := a.do(t, http.MethodPost, fmt.Sprintf("/api/devices/%d/schedules", id),
		map[string]any{"day_of_week": 5, "start_time": "09:30", "end_time": "21:00"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusCreated, rec.Body.String())
	}

	var resp struct {
		Window windowResponse `json:"window"`
	}
	decodeJSON(t, rec, &resp)
	if resp.Window.ID == 0 || resp.Window.Day != 5 {
		t.Errorf("window = %+v, want persisted Saturday window", resp.Window)
	}
	if resp.Window.Start != "09:30" || resp.Window.End != "21:00" {
		t.Errorf("window times = %s-%s, want 09:30-21:00", resp.Window.Start, resp.Window.End)
	}
	if got := a.engine.reconciledDevices(); len(got) != 1 || got[0] != id {
		t.Errorf("reconciled devices = %v, want [%d]", got, id)
	}
}

func TestDeviceEvents(t *testing.T) {
	a := newTestAPI(t)
	id := a.addDevice(t, "kids-console")

	rec := a.do(t, http.MethodGet, fmt.Sprintf("/api/devices/%d/events?limit=0", id), nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("limit=0 status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	if err := a.history.Append(id, testNow.Add(-time.Minute), ledger.EventPortDisabled, "punishment", ""); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := a.history.Append(id, testNow, ledger.EventPortEnabled, "schedule_match", ""); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	rec = a.do(t, http.MethodGet, fmt.Sprintf("/api/devices/%d/events", id), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
	}

	var events []eventJSON
	decodeJSON(t, rec, &events)
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Event != "port_enabled" || events[1].Event != "port_disabled" {
		t.Errorf("event order = [%s %s], want newest first", events[0].Event, events[1].Event)
	}
}
