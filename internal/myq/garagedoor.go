package myq

import (
	"context"
	"fmt"
)

// GarageDoor wraps a Device with door-specific operations.
type GarageDoor struct {
	*Device
}

// DoorState returns the current door state string, or DoorStateUnknown
// when the attribute is missing.
func (d *GarageDoor) DoorState() string {
	s := d.stateString("door_state")
	if s == "" {
		return DoorStateUnknown
	}
	return s
}

// OpenAllowed reports whether the device permits remote open commands.
// Absent attribute means allowed.
func (d *GarageDoor) OpenAllowed() bool {
	v, ok := d.StateAttribute("open_allowed").(bool)
	return !ok || v
}

// CloseAllowed reports whether the device permits remote close
// commands. Absent attribute means allowed.
func (d *GarageDoor) CloseAllowed() bool {
	v, ok := d.StateAttribute("close_allowed").(bool)
	return !ok || v
}

// Open commands the door to open.
//
// The command is short-circuited locally when the device disallows
// remote opens or the door is already open. When wait is true, Open
// polls until the door reports open or the confirmation window runs
// out, returning ErrNotConfirmed in the latter case.
func (d *GarageDoor) Open(ctx context.Context, wait bool) error {
	if !d.OpenAllowed() {
		return fmt.Errorf("%w: open not allowed for %s", ErrCommandNotAllowed, d.SerialNumber())
	}
	if d.DoorState() == DoorStateOpen {
		return nil
	}

	if err := d.api.sendDoorCommand(ctx, d.Device, DoorCommandOpen); err != nil {
		return err
	}
	d.setStateAttribute("door_state", DoorStateOpening)

	if !wait {
		return nil
	}
	return d.waitForState(ctx, DoorStateOpen)
}

// Close commands the door to close.
//
// Mirrors Open: local short-circuits for close_allowed=false and an
// already closed door, optimistic closing state, optional bounded wait.
func (d *GarageDoor) Close(ctx context.Context, wait bool) error {
	if !d.CloseAllowed() {
		return fmt.Errorf("%w: close not allowed for %s", ErrCommandNotAllowed, d.SerialNumber())
	}
	if d.DoorState() == DoorStateClosed {
		return nil
	}

	if err := d.api.sendDoorCommand(ctx, d.Device, DoorCommandClose); err != nil {
		return err
	}
	d.setStateAttribute("door_state", DoorStateClosing)

	if !wait {
		return nil
	}
	return d.waitForState(ctx, DoorStateClosed)
}

// waitForState polls the account until the door reports the expected
// state. Each cycle refreshes via the account-scoped path so the poll
// throttle does not starve confirmation.
func (d *GarageDoor) waitForState(ctx context.Context, expected string) error {
	return d.api.waitForDeviceState(ctx, d.Device, doorWaitCycles, func() bool {
		return d.DoorState() == expected
	})
}
