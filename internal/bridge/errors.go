package bridge

import "errors"

// Domain errors for binding and trigger persistence.
var (
	// ErrBindingNotFound is returned when a binding does not exist.
	ErrBindingNotFound = errors.New("bridge: binding not found")

	// ErrBindingExists is returned when creating a binding whose ID or
	// serial is already taken.
	ErrBindingExists = errors.New("bridge: binding already exists")

	// ErrInvalidBinding is returned when binding fields fail validation.
	ErrInvalidBinding = errors.New("bridge: invalid binding")

	// ErrTriggerNotFound is returned when a trigger does not exist.
	ErrTriggerNotFound = errors.New("bridge: trigger not found")

	// ErrUnknownCommand is returned when a command name is not one of
	// open, close, turnon, turnoff.
	ErrUnknownCommand = errors.New("bridge: unknown command")

	// ErrKindMismatch is returned when a command does not apply to the
	// binding's device kind.
	ErrKindMismatch = errors.New("bridge: command does not match device kind")
)
