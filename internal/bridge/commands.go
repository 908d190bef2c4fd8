package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hearthward/myq-sync/internal/myq"
)

// Command names accepted from the hub.
const (
	CommandOpen    = "open"
	CommandClose   = "close"
	CommandTurnOn  = "turnon"
	CommandTurnOff = "turnoff"
)

// defaultRecheckDelay is how long after a command the device's account
// is re-polled, catching doors that finish moving after the bounded
// confirmation wait gave up.
const defaultRecheckDelay = 30 * time.Second

// Door is a controllable garage door opener. Satisfied by
// *myq.GarageDoor through the adapter in main.
type Door interface {
	SerialNumber() string
	Name() string
	AccountID() string
	Online() bool
	DoorState() string
	Open(ctx context.Context, wait bool) error
	Close(ctx context.Context, wait bool) error
}

// Lamp is a controllable lamp module. Satisfied by *myq.Lamp through
// the adapter in main.
type Lamp interface {
	SerialNumber() string
	Name() string
	AccountID() string
	Online() bool
	LampState() string
	TurnOn(ctx context.Context, wait bool) error
	TurnOff(ctx context.Context, wait bool) error
}

// DeviceSource is the slice of the cloud client the dispatcher needs.
type DeviceSource interface {
	Covers() map[string]Door
	Lamps() map[string]Lamp
	UpdateDeviceInfoForAccount(ctx context.Context, accountID string) error
}

// CommandRecorder receives the outcome of every dispatched command.
// Satisfied by *influxdb.Client.
type CommandRecorder interface {
	WriteCommandResult(serial, command string, confirmed bool, duration time.Duration)
}

// Dispatcher routes hub commands to cloud devices.
type Dispatcher struct {
	source   DeviceSource
	registry *Registry

	recheckDelay time.Duration
	recorder     CommandRecorder
	logger       Logger
}

// NewDispatcher creates a dispatcher over the cloud client.
func NewDispatcher(source DeviceSource, registry *Registry) *Dispatcher {
	return &Dispatcher{
		source:       source,
		registry:     registry,
		recheckDelay: defaultRecheckDelay,
	}
}

// SetLogger sets the logger for the dispatcher.
func (d *Dispatcher) SetLogger(logger Logger) {
	d.logger = logger
}

// SetRecorder sets the sink for command outcome measurements.
func (d *Dispatcher) SetRecorder(recorder CommandRecorder) {
	d.recorder = recorder
}

// SetRecheckDelay overrides the delay before the post-command account
// re-poll.
func (d *Dispatcher) SetRecheckDelay(delay time.Duration) {
	if delay > 0 {
		d.recheckDelay = delay
	}
}

// Dispatch executes one command against a device serial.
//
// Doors wait for position confirmation; myq.ErrNotConfirmed comes back
// when the bounded wait runs out. A failed attempt, unconfirmed
// included, gets exactly one retry before the error is reported.
// Either way a delayed account re-poll is scheduled so slow doors are
// caught on the next pass.
func (d *Dispatcher) Dispatch(ctx context.Context, serial, command string) error {
	commandID := uuid.New().String()
	d.logInfo("dispatching command", "command_id", commandID, "serial", serial, "command", command)

	var accountID string
	var attempt func(context.Context) error

	switch command {
	case CommandOpen, CommandClose:
		door, ok := d.source.Covers()[serial]
		if !ok {
			return fmt.Errorf("%w: no opener with serial %s", ErrKindMismatch, serial)
		}
		accountID = door.AccountID()
		if command == CommandOpen {
			attempt = func(ctx context.Context) error { return door.Open(ctx, true) }
		} else {
			attempt = func(ctx context.Context) error { return door.Close(ctx, true) }
		}

	case CommandTurnOn, CommandTurnOff:
		lamp, ok := d.source.Lamps()[serial]
		if !ok {
			return fmt.Errorf("%w: no lamp with serial %s", ErrKindMismatch, serial)
		}
		accountID = lamp.AccountID()
		if command == CommandTurnOn {
			attempt = func(ctx context.Context) error { return lamp.TurnOn(ctx, true) }
		} else {
			attempt = func(ctx context.Context) error { return lamp.TurnOff(ctx, true) }
		}

	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, command)
	}

	start := time.Now()
	err := attempt(ctx)
	if err != nil && retryable(ctx, err) {
		d.logWarn("command attempt failed, retrying once", "command_id", commandID, "serial", serial, "error", err)
		err = attempt(ctx)
	}
	if d.recorder != nil {
		d.recorder.WriteCommandResult(serial, command, err == nil, time.Since(start))
	}

	d.scheduleRecheck(ctx, commandID, serial, accountID)

	if err != nil {
		d.logWarn("command finished with error", "command_id", commandID, "serial", serial, "error", err)
		return err
	}
	d.logInfo("command confirmed", "command_id", commandID, "serial", serial)
	return nil
}

// retryable reports whether a failed command attempt is worth a second
// try. A rejected credential or a device refusal fails identically on
// repeat; everything else, the unconfirmed wait included, may be
// transient.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	return !errors.Is(err, myq.ErrCommandNotAllowed) && !errors.Is(err, myq.ErrInvalidCredentials)
}

// scheduleRecheck polls the device's account once, well after the
// confirmation window. The re-poll must outlive the request that
// carried the command, so the goroutine runs on a detached context.
func (d *Dispatcher) scheduleRecheck(ctx context.Context, commandID, serial, accountID string) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		time.Sleep(d.recheckDelay)

		if err := d.source.UpdateDeviceInfoForAccount(ctx, accountID); err != nil {
			d.logWarn("post-command recheck failed", "command_id", commandID, "serial", serial, "error", err)
			return
		}
		d.logDebug("post-command recheck complete", "command_id", commandID, "serial", serial)
	}()
}

func (d *Dispatcher) logDebug(msg string, keysAndValues ...any) {
	if d.logger != nil {
		d.logger.Debug(msg, keysAndValues...)
	}
}

func (d *Dispatcher) logInfo(msg string, keysAndValues ...any) {
	if d.logger != nil {
		d.logger.Info(msg, keysAndValues...)
	}
}

func (d *Dispatcher) logWarn(msg string, keysAndValues ...any) {
	if d.logger != nil {
		d.logger.Warn(msg, keysAndValues...)
	}
}
