package myq

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// newTestAPI wires an API at a local test server with a fresh token
// already installed, so request paths run without the OAuth flow.
func newTestAPI(srv *httptest.Server) *API {
	api := New("user@example.com", "secret")
	api.http = srv.Client()
	api.accountsURL = srv.URL + "/accounts"
	api.devicesURLFmt = srv.URL + "/accounts/%s/devices"
	api.doorCmdURLFmt = srv.URL + "/accounts/%s/door_openers/%s/%s"
	api.lampCmdURLFmt = srv.URL + "/accounts/%s/lamps/%s/%s"
	api.token = "Bearer test-token"
	api.tokenExpiry = time.Now().Add(time.Hour)
	api.lastRefresh = time.Now()
	return api
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Fatalf("encoding response: %v", err)
	}
}

func deviceListing(devices ...deviceJSON) map[string]any {
	return map[string]any{"items": devices, "count": len(devices)}
}

func TestUpdateDeviceInfoPollsAndCaches(t *testing.T) {
	var deviceHits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/accounts":
			writeJSON(t, w, map[string]any{"accounts": []map[string]string{{"id": "acct-1", "name": "Home"}}})
		case "/accounts/acct-1/devices":
			deviceHits.Add(1)
			writeJSON(t, w, deviceListing(testDoorJSON("GW1", DoorStateClosed, "2026-01-01T10:00:00Z")))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	api := newTestAPI(srv)

	if err := api.UpdateDeviceInfo(context.Background()); err != nil {
		t.Fatalf("UpdateDeviceInfo() error = %v", err)
	}
	if _, err := api.Device("GW1"); err != nil {
		t.Fatalf("Device(GW1) error = %v", err)
	}

	// Second call inside the interval must be served from cache.
	if err := api.UpdateDeviceInfo(context.Background()); err != nil {
		t.Fatalf("UpdateDeviceInfo() second call error = %v", err)
	}
	if hits := deviceHits.Load(); hits != 1 {
		t.Errorf("device endpoint hits = %d, want 1 (throttle bypassed)", hits)
	}
}

func TestUpdateDeviceInfoRefreshesAccounts(t *testing.T) {
	var accountHits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/accounts":
			accountHits.Add(1)
			writeJSON(t, w, map[string]any{"accounts": []map[string]string{{"id": "acct-1", "name": "Home"}}})
		case "/accounts/acct-1/devices":
			writeJSON(t, w, deviceListing(testDoorJSON("GW1", DoorStateClosed, "2026-01-01T10:00:00Z")))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	api := newTestAPI(srv)
	api.updateInterval = 0

	// Accounts can appear or vanish between polls (shared garages),
	// so every full poll re-reads the account list.
	for i := 0; i < 2; i++ {
		if err := api.UpdateDeviceInfo(context.Background()); err != nil {
			t.Fatalf("UpdateDeviceInfo() poll %d error = %v", i+1, err)
		}
	}
	if hits := accountHits.Load(); hits != 2 {
		t.Errorf("accounts endpoint hits = %d, want 2 (account list cached across polls)", hits)
	}
}

func TestPollSkipsUnsupportedFamilies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/accounts":
			writeJSON(t, w, map[string]any{"accounts": []map[string]string{{"id": "acct-1", "name": "Home"}}})
		case "/accounts/acct-1/devices":
			writeJSON(t, w, deviceListing(
				testDoorJSON("GW1", DoorStateClosed, "2026-01-01T10:00:00Z"),
				deviceJSON{
					SerialNumber: "TH1",
					Name:         "Thermostat",
					DeviceFamily: "thermostat",
					State:        map[string]any{"last_update": "2026-01-01T10:00:00Z"},
				},
			))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	api := newTestAPI(srv)
	if err := api.UpdateDeviceInfo(context.Background()); err != nil {
		t.Fatalf("UpdateDeviceInfo() error = %v", err)
	}

	if _, err := api.Device("GW1"); err != nil {
		t.Errorf("Device(GW1) error = %v", err)
	}
	if _, err := api.Device("TH1"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Device(TH1) error = %v, want ErrDeviceNotFound (unsupported family cached)", err)
	}
}

func TestUpdateDeviceInfoForAccountBypassesThrottle(t *testing.T) {
	var deviceHits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/accounts":
			writeJSON(t, w, map[string]any{"accounts": []map[string]string{{"id": "acct-1", "name": "Home"}}})
		case "/accounts/acct-1/devices":
			deviceHits.Add(1)
			writeJSON(t, w, deviceListing(testDoorJSON("GW1", DoorStateClosed, "2026-01-01T10:00:00Z")))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	api := newTestAPI(srv)

	if err := api.UpdateDeviceInfo(context.Background()); err != nil {
		t.Fatalf("UpdateDeviceInfo() error = %v", err)
	}
	watermark := api.LastPoll()

	if err := api.UpdateDeviceInfoForAccount(context.Background(), "acct-1"); err != nil {
		t.Fatalf("UpdateDeviceInfoForAccount() error = %v", err)
	}

	if hits := deviceHits.Load(); hits != 2 {
		t.Errorf("device endpoint hits = %d, want 2 (account poll throttled)", hits)
	}
	if !api.LastPoll().Equal(watermark) {
		t.Error("account-scoped poll advanced the full poll watermark")
	}
}

func TestUpdateAccountsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"accounts": []map[string]string{}})
	}))
	defer srv.Close()

	api := newTestAPI(srv)
	if err := api.UpdateAccounts(context.Background()); !errors.Is(err, ErrNoAccounts) {
		t.Errorf("UpdateAccounts() error = %v, want ErrNoAccounts", err)
	}
}

func TestRequestReauthenticatesOnceOn401(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(t, w, map[string]any{"accounts": []map[string]string{{"id": "acct-1", "name": "Home"}}})
	}))
	defer srv.Close()

	var logins atomic.Int32
	api := newTestAPI(srv)
	api.loginFn = func(ctx context.Context) (oauthToken, error) {
		logins.Add(1)
		return oauthToken{AccessToken: "fresh", TokenType: "Bearer", ExpiresIn: 3600}, nil
	}

	if err := api.UpdateAccounts(context.Background()); err != nil {
		t.Fatalf("UpdateAccounts() error = %v", err)
	}
	if got := logins.Load(); got != 1 {
		t.Errorf("login count = %d, want 1", got)
	}
}

func TestRequestFailsAfterSecond401(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	api := newTestAPI(srv)
	api.loginFn = func(ctx context.Context) (oauthToken, error) {
		return oauthToken{AccessToken: "fresh", TokenType: "Bearer", ExpiresIn: 3600}, nil
	}

	err := api.UpdateAccounts(context.Background())
	if !errors.Is(err, ErrAuthentication) {
		t.Errorf("UpdateAccounts() error = %v, want ErrAuthentication", err)
	}
}

func TestRequestDropsRejectedTokenOnFailedReauth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	api := newTestAPI(srv)
	api.loginFn = func(ctx context.Context) (oauthToken, error) {
		return oauthToken{}, errors.New("portal down")
	}

	if err := api.UpdateAccounts(context.Background()); err == nil {
		t.Fatal("UpdateAccounts() error = nil, want failure")
	}
	// The cloud rejected the token, so it must not linger in the cache
	// for the next request to present again.
	if got := api.currentToken(); got != "" {
		t.Errorf("currentToken() = %q, want empty after 401", got)
	}
}

func TestRequestBlocksOnExpiredToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		writeJSON(t, w, map[string]any{"accounts": []map[string]string{{"id": "acct-1", "name": "Home"}}})
	}))
	defer srv.Close()

	api := newTestAPI(srv)
	api.token = "Bearer expired"
	api.tokenExpiry = time.Now().Add(-time.Minute)
	api.loginFn = func(ctx context.Context) (oauthToken, error) {
		return oauthToken{AccessToken: "fresh", TokenType: "Bearer", ExpiresIn: 3600}, nil
	}

	if err := api.UpdateAccounts(context.Background()); err != nil {
		t.Fatalf("UpdateAccounts() error = %v", err)
	}
}

func TestErrRequestOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	api := newTestAPI(srv)
	if err := api.UpdateAccounts(context.Background()); !errors.Is(err, ErrRequest) {
		t.Errorf("UpdateAccounts() error = %v, want ErrRequest", err)
	}
}

func TestCoversAndLampsFiltering(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/accounts":
			writeJSON(t, w, map[string]any{"accounts": []map[string]string{{"id": "acct-1", "name": "Home"}}})
		case "/accounts/acct-1/devices":
			writeJSON(t, w, deviceListing(
				testDoorJSON("GW1", DoorStateClosed, "2026-01-01T10:00:00Z"),
				deviceJSON{
					SerialNumber: "LM1",
					Name:         "Porch Lamp",
					DeviceFamily: DeviceFamilyLamp,
					State:        map[string]any{"lamp_state": LampStateOff, "last_update": "2026-01-01T10:00:00Z"},
				},
				deviceJSON{
					SerialNumber: "HUB1",
					Name:         "Gateway",
					DeviceFamily: DeviceFamilyGateway,
					State:        map[string]any{"last_update": "2026-01-01T10:00:00Z"},
				},
				deviceJSON{
					SerialNumber: "VGD1",
					Name:         "Shop Door",
					DeviceFamily: "other",
					DeviceType:   DeviceTypeVirtualGarageDoor,
					State:        map[string]any{"door_state": DoorStateClosed, "last_update": "2026-01-01T10:00:00Z"},
				},
			))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	api := newTestAPI(srv)
	if err := api.UpdateDeviceInfo(context.Background()); err != nil {
		t.Fatalf("UpdateDeviceInfo() error = %v", err)
	}

	covers := api.Covers()
	if len(covers) != 2 {
		t.Errorf("Covers() returned %d devices, want 2", len(covers))
	}
	if _, ok := covers["VGD1"]; !ok {
		t.Error("virtual opener device type not classified as a cover")
	}
	if len(api.Lamps()) != 1 {
		t.Errorf("Lamps() returned %d devices, want 1", len(api.Lamps()))
	}
	if len(api.Gateways()) != 1 {
		t.Errorf("Gateways() returned %d devices, want 1", len(api.Gateways()))
	}
}

func TestGarageDoorOpenShortCircuits(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	api := newTestAPI(srv)

	t.Run("open not allowed", func(t *testing.T) {
		raw := testDoorJSON("GW1", DoorStateClosed, "2026-01-01T10:00:00Z")
		raw.State["open_allowed"] = false
		door := &GarageDoor{Device: newDevice(api, "acct-1", raw)}

		if err := door.Open(context.Background(), false); !errors.Is(err, ErrCommandNotAllowed) {
			t.Errorf("Open() error = %v, want ErrCommandNotAllowed", err)
		}
	})

	t.Run("already open", func(t *testing.T) {
		door := &GarageDoor{Device: newDevice(api, "acct-1", testDoorJSON("GW1", DoorStateOpen, "2026-01-01T10:00:00Z"))}

		if err := door.Open(context.Background(), false); err != nil {
			t.Errorf("Open() on open door error = %v, want nil", err)
		}
	})

	if hits.Load() != 0 {
		t.Errorf("short-circuited commands reached the cloud: %d hits", hits.Load())
	}
}

func TestGarageDoorOpenSendsCommand(t *testing.T) {
	var gotPath string
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	api := newTestAPI(srv)
	door := &GarageDoor{Device: newDevice(api, "acct-1", testDoorJSON("GW1", DoorStateClosed, "2026-01-01T10:00:00Z"))}

	if err := door.Open(context.Background(), false); err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if gotMethod != http.MethodPut {
		t.Errorf("command method = %s, want PUT", gotMethod)
	}
	if want := "/accounts/acct-1/door_openers/GW1/open"; gotPath != want {
		t.Errorf("command path = %q, want %q", gotPath, want)
	}
	if got := door.DoorState(); got != DoorStateOpening {
		t.Errorf("door_state after Open = %q, want %q", got, DoorStateOpening)
	}
}

func TestGarageDoorCommandRetriesOnce(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	api := newTestAPI(srv)
	door := &GarageDoor{Device: newDevice(api, "acct-1", testDoorJSON("GW1", DoorStateOpen, "2026-01-01T10:00:00Z"))}

	if err := door.Close(context.Background(), false); err != nil {
		t.Fatalf("Close() error = %v (retry did not recover)", err)
	}
	if hits.Load() != 2 {
		t.Errorf("command endpoint hits = %d, want 2", hits.Load())
	}
}

func TestLampTurnOn(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	api := newTestAPI(srv)
	lamp := &Lamp{Device: newDevice(api, "acct-1", deviceJSON{
		SerialNumber: "LM1",
		DeviceFamily: DeviceFamilyLamp,
		State:        map[string]any{"lamp_state": LampStateOff, "last_update": "2026-01-01T10:00:00Z"},
	})}

	if err := lamp.TurnOn(context.Background(), false); err != nil {
		t.Fatalf("TurnOn() error = %v", err)
	}
	if want := "/accounts/acct-1/lamps/LM1/on"; gotPath != want {
		t.Errorf("command path = %q, want %q", gotPath, want)
	}
	if !lamp.IsOn() {
		t.Error("lamp_state not patched to on after TurnOn")
	}

	// Already on: no further cloud traffic.
	gotPath = ""
	if err := lamp.TurnOn(context.Background(), false); err != nil {
		t.Fatalf("TurnOn() on lit lamp error = %v", err)
	}
	if gotPath != "" {
		t.Errorf("redundant TurnOn reached the cloud at %q", gotPath)
	}
}

func TestWaitForStateConfirms(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/accounts/acct-1/door_openers/GW1/close":
			w.WriteHeader(http.StatusNoContent)
		case "/accounts/acct-1/devices":
			writeJSON(t, w, deviceListing(testDoorJSON("GW1", DoorStateClosed, "2026-01-01T10:05:00Z")))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	api := newTestAPI(srv)
	raw := testDoorJSON("GW1", DoorStateOpen, "2026-01-01T10:00:00Z")
	door := &GarageDoor{Device: newDevice(api, "acct-1", raw)}
	api.devices["GW1"] = door.Device

	if err := door.Close(context.Background(), true); err != nil {
		t.Fatalf("Close(wait) error = %v", err)
	}
	if got := door.DoorState(); got != DoorStateClosed {
		t.Errorf("door_state = %q, want %q", got, DoorStateClosed)
	}
}

func TestDeviceNotFound(t *testing.T) {
	api := New("user@example.com", "secret")
	if _, err := api.Device("nope"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Device() error = %v, want ErrDeviceNotFound", err)
	}
}
