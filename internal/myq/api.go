package myq

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// API is the entry point to the MyQ cloud. It owns authentication, the
// device cache, and the polling watermark.
//
// Thread Safety: All methods are safe for concurrent use.
type API struct {
	http *http.Client

	// Endpoint templates, fields so tests can point at a local server.
	accountsURL    string
	devicesURLFmt  string
	doorCmdURLFmt  string
	lampCmdURLFmt  string
	updateInterval time.Duration

	// Authentication state, guarded by authMu. loginMu serializes the
	// OAuth flow itself; authWG tracks background login goroutines.
	authMu       sync.Mutex
	loginMu      sync.Mutex
	authWG       sync.WaitGroup
	username     string
	password     string
	token        string
	tokenExpiry  time.Time
	lastRefresh  time.Time
	invalidCreds bool
	refreshing   bool

	// requestMu is the single-flight gate for non-login cloud calls.
	requestMu sync.Mutex

	// loginFn overrides the OAuth flow, for tests. Nil means the real
	// flow against the partner identity service.
	loginFn func(ctx context.Context) (oauthToken, error)

	// Device cache, guarded by cacheMu. updateMu serializes poll
	// cycles so concurrent callers coalesce into one cloud round trip.
	cacheMu  sync.RWMutex
	updateMu sync.Mutex
	accounts map[string]string
	devices  map[string]*Device
	lastPoll time.Time

	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// New creates an unauthenticated API handle. Call Authenticate (or use
// Login) before issuing requests.
func New(username, password string) *API {
	return &API{
		http:           &http.Client{Timeout: defaultRequestTimeout},
		accountsURL:    AccountsEndpoint,
		devicesURLFmt:  DevicesEndpointFmt,
		doorCmdURLFmt:  DoorCommandEndpointFmt,
		lampCmdURLFmt:  LampCommandEndpointFmt,
		updateInterval: DefaultStateUpdateInterval,
		username:       username,
		password:       password,
		accounts:       make(map[string]string),
		devices:        make(map[string]*Device),
	}
}

// Login creates an API handle, authenticates, and performs the initial
// account and device fetch. This is the usual constructor.
func Login(ctx context.Context, username, password string) (*API, error) {
	api := New(username, password)
	if err := api.Authenticate(ctx, true); err != nil {
		return nil, err
	}
	if err := api.UpdateDeviceInfo(ctx); err != nil {
		return nil, err
	}
	return api, nil
}

// SetLogger sets the logger for the API.
func (a *API) SetLogger(logger Logger) {
	a.loggerMu.Lock()
	a.logger = logger
	a.loggerMu.Unlock()
}

// Close waits for any background authentication goroutines to finish.
func (a *API) Close() {
	a.authWG.Wait()
}

// accountsResponse is the accounts endpoint document.
type accountsResponse struct {
	Accounts []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"accounts"`
}

// devicesResponse is the devices endpoint document.
type devicesResponse struct {
	Items []deviceJSON `json:"items"`
	Count int          `json:"count"`
}

// UpdateAccounts fetches the account list for the authenticated user.
func (a *API) UpdateAccounts(ctx context.Context) error {
	data, _, err := a.request(ctx, http.MethodGet, a.accountsURL, nil)
	if err != nil {
		return err
	}

	var resp accountsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("%w: decoding accounts: %w", ErrRequest, err)
	}
	if len(resp.Accounts) == 0 {
		return ErrNoAccounts
	}

	accounts := make(map[string]string, len(resp.Accounts))
	for _, acct := range resp.Accounts {
		accounts[acct.ID] = acct.Name
	}

	a.cacheMu.Lock()
	a.accounts = accounts
	a.cacheMu.Unlock()

	a.logDebug("accounts updated", "count", len(accounts))
	return nil
}

// Accounts returns a copy of the account ID to name map.
func (a *API) Accounts() map[string]string {
	a.cacheMu.RLock()
	defer a.cacheMu.RUnlock()
	out := make(map[string]string, len(a.accounts))
	for id, name := range a.accounts {
		out[id] = name
	}
	return out
}

// UpdateDeviceInfo polls every account for its devices and merges the
// results into the cache.
//
// Calls within the update interval of the previous successful poll are
// served from cache; the first call always polls. Concurrent callers
// coalesce: whoever holds the update lock does the round trip and the
// rest find a fresh watermark when they acquire it.
func (a *API) UpdateDeviceInfo(ctx context.Context) error {
	a.updateMu.Lock()
	defer a.updateMu.Unlock()

	a.cacheMu.RLock()
	last := a.lastPoll
	a.cacheMu.RUnlock()

	if !last.IsZero() && time.Since(last) < a.updateInterval {
		a.logDebug("device poll throttled", "since_last", time.Since(last))
		return nil
	}

	// Accounts come and go (shared garages, transferred homes), so the
	// account list is re-fetched on every full poll rather than cached.
	if err := a.UpdateAccounts(ctx); err != nil {
		return err
	}

	for accountID := range a.Accounts() {
		if err := a.pollAccountDevices(ctx, accountID); err != nil {
			return err
		}
	}

	a.cacheMu.Lock()
	a.lastPoll = time.Now()
	a.cacheMu.Unlock()
	return nil
}

// UpdateDeviceInfoForAccount polls a single account immediately.
//
// This bypasses the update interval and does not advance the poll
// watermark, so the next full poll is unaffected. Used for command
// confirmation where a throttled poll would starve the wait loop.
func (a *API) UpdateDeviceInfoForAccount(ctx context.Context, accountID string) error {
	a.updateMu.Lock()
	defer a.updateMu.Unlock()
	return a.pollAccountDevices(ctx, accountID)
}

// pollAccountDevices fetches one account's device list and merges it.
// Callers must hold updateMu.
func (a *API) pollAccountDevices(ctx context.Context, accountID string) error {
	endpoint := fmt.Sprintf(a.devicesURLFmt, accountID)
	data, _, err := a.request(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}

	var resp devicesResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("%w: decoding devices: %w", ErrRequest, err)
	}

	now := time.Now()
	a.cacheMu.Lock()
	for _, raw := range resp.Items {
		if raw.SerialNumber == "" {
			continue
		}
		if existing, ok := a.devices[raw.SerialNumber]; ok {
			existing.applyUpdate(raw, now)
			continue
		}
		if !supportedFamily(raw) {
			a.logWarn("skipping device of unsupported family",
				"serial", raw.SerialNumber, "family", raw.DeviceFamily, "type", raw.DeviceType)
			continue
		}
		a.devices[raw.SerialNumber] = newDevice(a, accountID, raw)
	}
	a.cacheMu.Unlock()

	a.logDebug("account devices polled", "account_id", accountID, "count", len(resp.Items))
	return nil
}

// Device returns the cached device with the given serial.
func (a *API) Device(serial string) (*Device, error) {
	a.cacheMu.RLock()
	defer a.cacheMu.RUnlock()
	d, ok := a.devices[serial]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, serial)
	}
	return d, nil
}

// Devices returns all cached devices keyed by serial.
func (a *API) Devices() map[string]*Device {
	a.cacheMu.RLock()
	defer a.cacheMu.RUnlock()
	out := make(map[string]*Device, len(a.devices))
	for serial, d := range a.devices {
		out[serial] = d
	}
	return out
}

// Covers returns all garage door openers keyed by serial. Both the
// garagedoor family and the virtual and WiFi opener device types
// qualify.
func (a *API) Covers() map[string]*GarageDoor {
	out := make(map[string]*GarageDoor)
	for serial, d := range a.Devices() {
		if isGarageDoor(d) {
			out[serial] = &GarageDoor{Device: d}
		}
	}
	return out
}

// Lamps returns all lamp modules keyed by serial.
func (a *API) Lamps() map[string]*Lamp {
	out := make(map[string]*Lamp)
	for serial, d := range a.Devices() {
		if d.Family() == DeviceFamilyLamp {
			out[serial] = &Lamp{Device: d}
		}
	}
	return out
}

// Gateways returns all gateway devices keyed by serial.
func (a *API) Gateways() map[string]*Device {
	out := make(map[string]*Device)
	for serial, d := range a.Devices() {
		if d.Family() == DeviceFamilyGateway {
			out[serial] = d
		}
	}
	return out
}

func isGarageDoor(d *Device) bool {
	if d.Family() == DeviceFamilyGarageDoor {
		return true
	}
	switch d.DeviceType() {
	case DeviceTypeVirtualGarageDoor, DeviceTypeWiFiGarageDoor:
		return true
	}
	return false
}

// supportedFamily reports whether a raw device document belongs to a
// family this service knows how to handle.
func supportedFamily(raw deviceJSON) bool {
	switch raw.DeviceFamily {
	case DeviceFamilyGarageDoor, DeviceFamilyLamp, DeviceFamilyGateway:
		return true
	}
	switch raw.DeviceType {
	case DeviceTypeVirtualGarageDoor, DeviceTypeWiFiGarageDoor:
		return true
	}
	return false
}

// sendDoorCommand issues a door command, retrying once on a failed
// round trip. The cloud accepts commands with an empty PUT body.
func (a *API) sendDoorCommand(ctx context.Context, d *Device, command string) error {
	endpoint := fmt.Sprintf(a.doorCmdURLFmt, d.AccountID(), d.SerialNumber(), command)
	return a.sendCommand(ctx, d, endpoint, command)
}

// sendLampCommand issues a lamp command, retrying once on a failed
// round trip.
func (a *API) sendLampCommand(ctx context.Context, d *Device, command string) error {
	endpoint := fmt.Sprintf(a.lampCmdURLFmt, d.AccountID(), d.SerialNumber(), command)
	return a.sendCommand(ctx, d, endpoint, command)
}

func (a *API) sendCommand(ctx context.Context, d *Device, endpoint, command string) error {
	_, _, err := a.request(ctx, http.MethodPut, endpoint, nil)
	if err == nil {
		a.logInfo("command sent", "serial", d.SerialNumber(), "command", command)
		return nil
	}
	if ctx.Err() != nil {
		return err
	}

	a.logWarn("command failed, retrying once", "serial", d.SerialNumber(), "command", command, "error", err)
	_, _, err = a.request(ctx, http.MethodPut, endpoint, nil)
	if err != nil {
		return fmt.Errorf("sending %s to %s: %w", command, d.SerialNumber(), err)
	}
	a.logInfo("command sent", "serial", d.SerialNumber(), "command", command, "attempt", 2)
	return nil
}

// waitForDeviceState polls the device's account until check reports the
// expected state, once per cycle, for up to cycles cycles.
func (a *API) waitForDeviceState(ctx context.Context, d *Device, cycles int, check func() bool) error {
	ticker := time.NewTicker(waitCycleDelay)
	defer ticker.Stop()

	for i := 0; i < cycles; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if err := a.UpdateDeviceInfoForAccount(ctx, d.AccountID()); err != nil {
			a.logWarn("confirmation poll failed", "serial", d.SerialNumber(), "error", err)
			continue
		}
		if check() {
			return nil
		}
	}

	return fmt.Errorf("%w: %s did not reach expected state", ErrNotConfirmed, d.SerialNumber())
}

// LastPoll returns the time of the last successful full device poll.
func (a *API) LastPoll() time.Time {
	a.cacheMu.RLock()
	defer a.cacheMu.RUnlock()
	return a.lastPoll
}

func (a *API) logDebug(msg string, keysAndValues ...any) {
	a.loggerMu.RLock()
	defer a.loggerMu.RUnlock()
	if a.logger != nil {
		a.logger.Debug(msg, keysAndValues...)
	}
}

func (a *API) logInfo(msg string, keysAndValues ...any) {
	a.loggerMu.RLock()
	defer a.loggerMu.RUnlock()
	if a.logger != nil {
		a.logger.Info(msg, keysAndValues...)
	}
}

func (a *API) logWarn(msg string, keysAndValues ...any) {
	a.loggerMu.RLock()
	defer a.loggerMu.RUnlock()
	if a.logger != nil {
		a.logger.Warn(msg, keysAndValues...)
	}
}

func (a *API) logError(msg string, keysAndValues ...any) {
	a.loggerMu.RLock()
	defer a.loggerMu.RUnlock()
	if a.logger != nil {
		a.logger.Error(msg, keysAndValues...)
	}
}
