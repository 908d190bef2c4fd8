// Package bridge connects the MyQ cloud client to the hub.
//
// It owns the binding registry (which cloud device maps to which hub
// identity, and which external sensor verifies it), the command
// dispatcher, the sensor reconciler, and the engine that drives the
// whole thing.
//
// The engine ticks once a second and runs a full cloud poll when the
// configured status interval elapses or a refresh is requested. Each
// poll seeds bindings for newly discovered devices, diffs device state
// against the last published values, and pushes deltas to the hub over
// MQTT. Commands and sensor reports flow the other way over MQTT
// subscriptions.
//
// Sensor reconciliation exists because the cloud sometimes lies about
// door position. A binding can pair an opener with a local sensor
// (contact, lock, or multi-input channel); when the opener's reported
// position and the sensor's reading disagree, the binding's triggers
// fire in ascending ID order so the hub can alert.
//
// Bindings and triggers persist in SQLite through the Repository
// interface, fronted by an in-memory Registry cache.
package bridge
