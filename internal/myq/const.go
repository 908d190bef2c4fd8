package myq

import "time"

// Cloud API endpoints.
const (
	// AccountsEndpoint lists the accounts visible to the authenticated user.
	AccountsEndpoint = "https://accounts.myq-cloud.com/api/v6.0/accounts"

	// DevicesEndpointFmt lists devices for one account. Takes the account ID.
	DevicesEndpointFmt = "https://devices.myq-cloud.com/api/v5.2/Accounts/%s/Devices"

	// DoorCommandEndpointFmt sends a door command. Takes account ID, device
	// serial, and the command name (open or close).
	DoorCommandEndpointFmt = "https://account-devices-gdo.myq-cloud.com/api/v5.2/Accounts/%s/door_openers/%s/%s"

	// LampCommandEndpointFmt sends a lamp command. Takes account ID, device
	// serial, and the command name (on or off).
	LampCommandEndpointFmt = "https://account-devices-lamp.myq-cloud.com/api/v5.2/Accounts/%s/lamps/%s/%s"
)

// OAuth endpoints and client registration.
const (
	oauthBaseURL      = "https://partner-identity.myq-cloud.com"
	oauthAuthorizeURL = oauthBaseURL + "/connect/authorize"
	oauthTokenURL     = oauthBaseURL + "/connect/token"
	oauthRedirectURI  = "com.myqops://ios"
	oauthClientID     = "IOS_CGI_MYQ"
	oauthClientSecret = "VUQ0RFhuS3lQV3EyNUJTdw=="
	oauthScope        = "MyQ_Residential offline_access"

	// oauthUserAgent is sent on every request. The cloud rejects the Go
	// default agent.
	oauthUserAgent = "null"
)

// Timing defaults.
const (
	// DefaultStateUpdateInterval is the minimum time between full device
	// polls. Calls inside the window are served from cache.
	DefaultStateUpdateInterval = 10 * time.Second

	// DefaultTokenRefresh is the floor for proactive token refresh.
	// Effective token lifetime is never shorter than twice this value.
	DefaultTokenRefresh = 10 * time.Minute

	// defaultRequestTimeout bounds a single HTTP round trip to the cloud.
	defaultRequestTimeout = 30 * time.Second
)

// Device families reported by the cloud in the device_family field.
const (
	DeviceFamilyGarageDoor = "garagedoor"
	DeviceFamilyLamp       = "lamp"
	DeviceFamilyGateway    = "gateway"
)

// Device type values that belong to the garage door family alongside
// device_family matching.
const (
	DeviceTypeVirtualGarageDoor = "virtualgaragedooropener"
	DeviceTypeWiFiGarageDoor    = "wifigaragedooropener"
)

// Door states as reported in the door_state attribute.
const (
	DoorStateClosed      = "closed"
	DoorStateClosing     = "closing"
	DoorStateOpen        = "open"
	DoorStateOpening     = "opening"
	DoorStateStopped     = "stopped"
	DoorStateTransition  = "transition"
	DoorStateAutoreverse = "autoreverse"
	DoorStateUnknown     = "unknown"
)

// Lamp states as reported in the lamp_state attribute.
const (
	LampStateOn  = "on"
	LampStateOff = "off"
)

// Commands accepted by the cloud command endpoints.
const (
	DoorCommandOpen  = "open"
	DoorCommandClose = "close"
	LampCommandOn    = "on"
	LampCommandOff   = "off"
)

// Confirmation polling: how many one second checks to wait for a device
// to reach its expected state after a command.
const (
	doorWaitCycles = 30
	lampWaitCycles = 5
	waitCycleDelay = 1 * time.Second
)
