package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hearthward/myq-sync/internal/infrastructure/mqtt"
	"github.com/hearthward/myq-sync/internal/myq"
)

// tickInterval is the engine's heartbeat. Every tick checks whether a
// poll is due; actual cloud traffic is governed by the status interval
// and the client's own poll throttle.
const tickInterval = 1 * time.Second

// EngineSource is the slice of the cloud client the engine needs.
type EngineSource interface {
	DeviceSource
	UpdateDeviceInfo(ctx context.Context) error
}

// Subscriber registers and removes MQTT handlers. Satisfied by
// *mqtt.Client.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// StateRecorder receives state transitions and poll statistics for
// history. Satisfied by *influxdb.Client. Optional.
type StateRecorder interface {
	WriteDoorState(serial string, name string, state string)
	WriteLampState(serial string, name string, on bool)
	WritePollCycle(deviceCount int, duration time.Duration)
}

// EngineOptions configures the sync engine.
type EngineOptions struct {
	// StatusInterval is the time between scheduled full polls.
	StatusInterval time.Duration
}

// Engine drives the poll loop and fans device state out to the hub.
//
// On each due poll it refreshes the cloud device cache, seeds bindings
// for newly discovered devices, and publishes state changes over MQTT.
// Commands and sensor reports arrive over MQTT subscriptions.
type Engine struct {
	source     EngineSource
	registry   *Registry
	dispatcher *Dispatcher
	reconciler *Reconciler
	pub        Publisher
	sub        Subscriber
	recorder   StateRecorder
	opts       EngineOptions
	topics     mqtt.Topics

	// refreshCh collapses external refresh requests into one pending
	// poll.
	refreshCh chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	wg        sync.WaitGroup

	logger Logger
}

// NewEngine assembles the sync engine. The recorder may be nil.
func NewEngine(source EngineSource, registry *Registry, dispatcher *Dispatcher, reconciler *Reconciler, pub Publisher, sub Subscriber, recorder StateRecorder, opts EngineOptions) *Engine {
	if opts.StatusInterval <= 0 {
		opts.StatusInterval = 10 * time.Minute
	}
	return &Engine{
		source:     source,
		registry:   registry,
		dispatcher: dispatcher,
		reconciler: reconciler,
		pub:        pub,
		sub:        sub,
		recorder:   recorder,
		opts:       opts,
		refreshCh:  make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// SetLogger sets the logger for the engine.
func (e *Engine) SetLogger(logger Logger) {
	e.logger = logger
}

// Start subscribes to hub topics and launches the poll loop.
func (e *Engine) Start(ctx context.Context) error {
	var err error
	e.startOnce.Do(func() {
		if subErr := e.sub.Subscribe(e.topics.AllDeviceCommands(), 1, e.handleCommand); subErr != nil {
			err = fmt.Errorf("subscribing to commands: %w", subErr)
			return
		}
		if subErr := e.sub.Subscribe(e.topics.AllSensorStates(), 1, e.handleSensor); subErr != nil {
			err = fmt.Errorf("subscribing to sensor states: %w", subErr)
			return
		}

		e.wg.Add(1)
		go e.run(ctx)
		e.logInfo("engine started", "status_interval", e.opts.StatusInterval)
	})
	return err
}

// Stop removes the hub subscriptions, halts the poll loop, and waits
// for in-flight work.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		for _, topic := range []string{e.topics.AllDeviceCommands(), e.topics.AllSensorStates()} {
			if err := e.sub.Unsubscribe(topic); err != nil {
				e.logError("unsubscribing on stop", "topic", topic, "error", err)
			}
		}
		close(e.done)
	})
	e.wg.Wait()
}

// RequestRefresh asks for a poll on the next tick, ahead of schedule.
func (e *Engine) RequestRefresh() {
	select {
	case e.refreshCh <- struct{}{}:
	default:
	}
}

func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	nextPoll := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case <-e.refreshCh:
			nextPoll = time.Now()
		case <-ticker.C:
		}

		if time.Now().Before(nextPoll) {
			continue
		}
		nextPoll = time.Now().Add(e.opts.StatusInterval)

		if err := e.pollOnce(ctx); err != nil {
			e.logError("poll cycle failed", "error", err)
		}
	}
}

// pollOnce refreshes the device cache and publishes what changed.
func (e *Engine) pollOnce(ctx context.Context) error {
	start := time.Now()
	if err := e.source.UpdateDeviceInfo(ctx); err != nil {
		return err
	}
	if e.recorder != nil {
		e.recorder.WritePollCycle(len(e.source.Covers())+len(e.source.Lamps()), time.Since(start))
	}

	if err := e.seedBindings(ctx); err != nil {
		return err
	}
	return e.publishChanges(ctx)
}

// seedBindings creates a binding for every cloud device that does not
// have one yet. Gateways are skipped; they carry no controllable state.
func (e *Engine) seedBindings(ctx context.Context) error {
	for serial, door := range e.source.Covers() {
		if _, err := e.registry.GetBySerial(serial); err == nil {
			continue
		}
		binding := Binding{
			ID:     uuid.New().String(),
			Name:   door.Name(),
			Kind:   KindOpener,
			Serial: serial,
		}
		if err := e.registry.Create(ctx, binding); err != nil {
			return fmt.Errorf("seeding opener binding for %s: %w", serial, err)
		}
	}

	for serial, lamp := range e.source.Lamps() {
		if _, err := e.registry.GetBySerial(serial); err == nil {
			continue
		}
		binding := Binding{
			ID:     uuid.New().String(),
			Name:   lamp.Name(),
			Kind:   KindLamp,
			Serial: serial,
		}
		if err := e.registry.Create(ctx, binding); err != nil {
			return fmt.Errorf("seeding lamp binding for %s: %w", serial, err)
		}
	}
	return nil
}

// statePayload is the device state document published to the hub.
type statePayload struct {
	Serial    string    `json:"serial"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	State     string    `json:"state"`
	Open      bool      `json:"open,omitempty"`
	On        bool      `json:"on,omitempty"`
	Online    bool      `json:"online"`
	Timestamp time.Time `json:"timestamp"`
}

// publishChanges diffs cached device state against each binding's last
// published state and pushes the deltas.
func (e *Engine) publishChanges(ctx context.Context) error {
	covers := e.source.Covers()
	lamps := e.source.Lamps()

	for _, b := range e.registry.List() {
		switch b.Kind {
		case KindOpener:
			door, ok := covers[b.Serial]
			if !ok {
				continue
			}
			state := door.DoorState()
			if state == b.DoorStatus {
				continue
			}

			b.DoorStatus = state
			// Openers follow lock polarity: on means secured, so a
			// closed door reads true.
			b.OnOffState = state == myq.DoorStateClosed
			if err := e.registry.Update(ctx, b); err != nil {
				return fmt.Errorf("recording door state for %s: %w", b.Serial, err)
			}

			e.publishState(statePayload{
				Serial:    b.Serial,
				Name:      b.Name,
				Kind:      string(KindOpener),
				State:     state,
				Open:      state != myq.DoorStateClosed,
				Online:    door.Online(),
				Timestamp: time.Now().UTC(),
			})
			if e.recorder != nil {
				e.recorder.WriteDoorState(b.Serial, b.Name, state)
			}

		case KindLamp:
			lamp, ok := lamps[b.Serial]
			if !ok {
				continue
			}
			state := lamp.LampState()
			if state == b.LampStatus {
				continue
			}

			b.LampStatus = state
			b.OnOffState = state == myq.LampStateOn
			if err := e.registry.Update(ctx, b); err != nil {
				return fmt.Errorf("recording lamp state for %s: %w", b.Serial, err)
			}

			e.publishState(statePayload{
				Serial:    b.Serial,
				Name:      b.Name,
				Kind:      string(KindLamp),
				State:     state,
				On:        b.OnOffState,
				Online:    lamp.Online(),
				Timestamp: time.Now().UTC(),
			})
			if e.recorder != nil {
				e.recorder.WriteLampState(b.Serial, b.Name, b.OnOffState)
			}
		}
	}
	return nil
}

func (e *Engine) publishState(payload statePayload) {
	data, err := json.Marshal(payload)
	if err != nil {
		e.logError("marshalling state payload", "serial", payload.Serial, "error", err)
		return
	}
	if err := e.pub.Publish(e.topics.DeviceState(payload.Serial), data, 1, true); err != nil {
		e.logError("publishing device state", "serial", payload.Serial, "error", err)
		return
	}
	e.logDebug("device state published", "serial", payload.Serial, "state", payload.State)
}

// commandPayload is the command document accepted from the hub. A bare
// string payload carrying just the command name is also accepted.
type commandPayload struct {
	Command string `json:"command"`
}

// handleCommand processes one message from the command topic.
func (e *Engine) handleCommand(topic string, payload []byte) error {
	serial := lastTopicPart(topic)
	if serial == "" || serial == "+" {
		return fmt.Errorf("command topic %q carries no serial", topic)
	}

	var cmd commandPayload
	if err := json.Unmarshal(payload, &cmd); err != nil || cmd.Command == "" {
		cmd.Command = strings.TrimSpace(string(payload))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := e.dispatcher.Dispatch(ctx, serial, cmd.Command); err != nil {
		e.logError("command dispatch failed", "serial", serial, "command", cmd.Command, "error", err)
		return err
	}

	// Publish the post-command state right away rather than waiting
	// for the next scheduled poll.
	return e.publishChanges(ctx)
}

// sensorPayload is the sensor report document accepted from the hub.
type sensorPayload struct {
	Value   bool `json:"value"`
	Deleted bool `json:"deleted"`
}

// handleSensor processes one message from the sensor state topic.
func (e *Engine) handleSensor(topic string, payload []byte) error {
	sensorID := lastTopicPart(topic)
	if sensorID == "" || sensorID == "+" {
		return fmt.Errorf("sensor topic %q carries no sensor id", topic)
	}

	var report sensorPayload
	if err := json.Unmarshal(payload, &report); err != nil {
		return fmt.Errorf("decoding sensor payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if report.Deleted {
		return e.reconciler.SensorDeleted(ctx, sensorID)
	}
	return e.reconciler.SensorChanged(ctx, sensorID, report.Value)
}

func lastTopicPart(topic string) string {
	idx := strings.LastIndex(topic, "/")
	if idx < 0 || idx == len(topic)-1 {
		return ""
	}
	return topic[idx+1:]
}

func (e *Engine) logDebug(msg string, keysAndValues ...any) {
	if e.logger != nil {
		e.logger.Debug(msg, keysAndValues...)
	}
}

func (e *Engine) logInfo(msg string, keysAndValues ...any) {
	if e.logger != nil {
		e.logger.Info(msg, keysAndValues...)
	}
}

func (e *Engine) logError(msg string, keysAndValues ...any) {
	if e.logger != nil {
		e.logger.Error(msg, keysAndValues...)
	}
}
