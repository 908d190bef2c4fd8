package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hearthward/myq-sync/internal/infrastructure/mqtt"
)

// Publisher is the interface for publishing hub events.
// Satisfied by *mqtt.Client.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Reconciler checks opener positions against their paired sensors and
// fires triggers when they disagree.
//
// Opener bindings carry lock polarity, so the binary position reads
// true when the door is closed. A healthy paired sensor normalizes to
// the same reading. The two diverging means one of them is wrong, and
// that is the fault the triggers exist for.
type Reconciler struct {
	registry *Registry
	pub      Publisher
	topics   mqtt.Topics

	logger Logger
}

// NewReconciler creates a reconciler over the registry.
func NewReconciler(registry *Registry, pub Publisher) *Reconciler {
	return &Reconciler{registry: registry, pub: pub}
}

// SetLogger sets the logger for the reconciler.
func (rc *Reconciler) SetLogger(logger Logger) {
	rc.logger = logger
}

// triggerEvent is the payload published when a trigger fires.
type triggerEvent struct {
	TriggerID    int64     `json:"trigger_id"`
	Name         string    `json:"name"`
	BindingID    string    `json:"binding_id"`
	Serial       string    `json:"serial"`
	SensorID     string    `json:"sensor_id"`
	OpenerClosed bool      `json:"opener_closed"`
	Timestamp    time.Time `json:"timestamp"`
}

// SensorChanged reconciles one sensor report against every opener
// binding paired with the sensor. Triggers fire in ascending ID order;
// disabled triggers are skipped.
func (rc *Reconciler) SensorChanged(ctx context.Context, sensorID string, raw bool) error {
	for _, b := range rc.registry.GetBySensor(sensorID) {
		if b.Kind != KindOpener {
			continue
		}

		sensorClosed := b.SensorClosed(raw)
		if b.OnOffState == sensorClosed {
			// Both say closed, or both say not-closed. Readings
			// agree, nothing to do.
			continue
		}

		rc.logWarn("opener and sensor disagree",
			"binding_id", b.ID,
			"serial", b.Serial,
			"sensor_id", sensorID,
			"opener_closed", b.OnOffState,
			"sensor_closed", sensorClosed,
		)

		if err := rc.fireTriggers(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

// SensorDeleted detaches a removed sensor from its bindings so stale
// pairings cannot fire triggers.
func (rc *Reconciler) SensorDeleted(ctx context.Context, sensorID string) error {
	return rc.registry.ClearSensor(ctx, sensorID)
}

func (rc *Reconciler) fireTriggers(ctx context.Context, b Binding) error {
	triggers, err := rc.registry.Triggers(ctx, b.ID)
	if err != nil {
		return fmt.Errorf("listing triggers for binding %s: %w", b.ID, err)
	}

	now := time.Now().UTC()
	for _, t := range triggers {
		if !t.Enabled {
			continue
		}

		payload, err := json.Marshal(triggerEvent{
			TriggerID:    t.ID,
			Name:         t.Name,
			BindingID:    b.ID,
			Serial:       b.Serial,
			SensorID:     b.SensorID,
			OpenerClosed: b.OnOffState,
			Timestamp:    now,
		})
		if err != nil {
			return fmt.Errorf("marshalling trigger event: %w", err)
		}

		if err := rc.pub.Publish(rc.topics.TriggerEvent(t.ID), payload, 1, false); err != nil {
			return fmt.Errorf("publishing trigger %d: %w", t.ID, err)
		}
		rc.logInfo("trigger fired", "trigger_id", t.ID, "binding_id", b.ID)
	}
	return nil
}

func (rc *Reconciler) logInfo(msg string, keysAndValues ...any) {
	if rc.logger != nil {
		rc.logger.Info(msg, keysAndValues...)
	}
}

func (rc *Reconciler) logWarn(msg string, keysAndValues ...any) {
	if rc.logger != nil {
		rc.logger.Warn(msg, keysAndValues...)
	}
}
