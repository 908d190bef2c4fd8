package myq

import "context"

// Lamp wraps a Device with lamp-specific operations.
type Lamp struct {
	*Device
}

// LampState returns the current lamp state string (on or off), or ""
// when the attribute is missing.
func (l *Lamp) LampState() string {
	return l.stateString("lamp_state")
}

// IsOn reports whether the lamp is currently on.
func (l *Lamp) IsOn() bool {
	return l.LampState() == LampStateOn
}

// TurnOn commands the lamp on. Already-on lamps short-circuit locally.
// When wait is true, TurnOn polls until the lamp reports on or the
// confirmation window runs out.
func (l *Lamp) TurnOn(ctx context.Context, wait bool) error {
	if l.LampState() == LampStateOn {
		return nil
	}

	if err := l.api.sendLampCommand(ctx, l.Device, LampCommandOn); err != nil {
		return err
	}

	if !wait {
		l.setStateAttribute("lamp_state", LampStateOn)
		return nil
	}
	return l.waitForState(ctx, LampStateOn)
}

// TurnOff commands the lamp off. Mirrors TurnOn.
func (l *Lamp) TurnOff(ctx context.Context, wait bool) error {
	if l.LampState() == LampStateOff {
		return nil
	}

	if err := l.api.sendLampCommand(ctx, l.Device, LampCommandOff); err != nil {
		return err
	}

	if !wait {
		l.setStateAttribute("lamp_state", LampStateOff)
		return nil
	}
	return l.waitForState(ctx, LampStateOff)
}

func (l *Lamp) waitForState(ctx context.Context, expected string) error {
	return l.api.waitForDeviceState(ctx, l.Device, lampWaitCycles, func() bool {
		return l.LampState() == expected
	})
}
