package bridge

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hearthward/myq-sync/internal/infrastructure/mqtt"
)

// fakeSubscriber records subscriptions and lets tests inject messages.
type fakeSubscriber struct {
	handlers     map[string]mqtt.MessageHandler
	unsubscribed []string
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{handlers: make(map[string]mqtt.MessageHandler)}
}

func (f *fakeSubscriber) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	f.handlers[topic] = handler
	return nil
}

func (f *fakeSubscriber) Unsubscribe(topic string) error {
	delete(f.handlers, topic)
	f.unsubscribed = append(f.unsubscribed, topic)
	return nil
}

func (f *fakeSubscriber) inject(t *testing.T, pattern, topic string, payload []byte) error {
	t.Helper()
	handler, ok := f.handlers[pattern]
	if !ok {
		t.Fatalf("no subscription for %s", pattern)
	}
	return handler(topic, payload)
}

func setupEngine(t *testing.T, source EngineSource) (*Engine, *Registry, *fakePublisher, *fakeSubscriber) {
	t.Helper()
	reg, _ := setupRegistry(t)
	pub := &fakePublisher{}
	sub := newFakeSubscriber()
	dispatcher := NewDispatcher(source, reg)
	reconciler := NewReconciler(reg, pub)
	engine := NewEngine(source, reg, dispatcher, reconciler, pub, sub, nil, EngineOptions{
		StatusInterval: time.Hour, // scheduled polls out of the way
	})
	return engine, reg, pub, sub
}

func TestPollOnceSeedsBindings(t *testing.T) {
	door := &fakeDoor{serial: "GW1", name: "Main Garage", account: "acct-1", state: "closed", online: true}
	lamp := &fakeLamp{serial: "LM1", name: "Porch", account: "acct-1", state: "off", online: true}
	source := &fakeSource{
		doors: map[string]Door{"GW1": door},
		lamps: map[string]Lamp{"LM1": lamp},
	}
	engine, reg, _, _ := setupEngine(t, source)

	if err := engine.pollOnce(context.Background()); err != nil {
		t.Fatalf("pollOnce() error = %v", err)
	}

	doorBinding, err := reg.GetBySerial("GW1")
	if err != nil {
		t.Fatalf("opener binding not seeded: %v", err)
	}
	if doorBinding.Kind != KindOpener || doorBinding.Name != "Main Garage" {
		t.Errorf("seeded opener binding = %+v", doorBinding)
	}

	lampBinding, err := reg.GetBySerial("LM1")
	if err != nil {
		t.Fatalf("lamp binding not seeded: %v", err)
	}
	if lampBinding.Kind != KindLamp {
		t.Errorf("seeded lamp binding kind = %q", lampBinding.Kind)
	}

	// A second poll must not duplicate bindings.
	if err := engine.pollOnce(context.Background()); err != nil {
		t.Fatalf("pollOnce() second call error = %v", err)
	}
	if got := len(reg.List()); got != 2 {
		t.Errorf("bindings after second poll = %d, want 2", got)
	}
}

func TestPollOncePublishesDeltasOnly(t *testing.T) {
	door := &fakeDoor{serial: "GW1", name: "Main Garage", account: "acct-1", state: "closed", online: true}
	source := &fakeSource{doors: map[string]Door{"GW1": door}}
	engine, reg, pub, _ := setupEngine(t, source)

	if err := engine.pollOnce(context.Background()); err != nil {
		t.Fatalf("pollOnce() error = %v", err)
	}
	first := len(pub.published())
	if first != 1 {
		t.Fatalf("published %d states after first poll, want 1", first)
	}

	var payload statePayload
	if err := json.Unmarshal(pub.payloads[0], &payload); err != nil {
		t.Fatalf("decoding state payload: %v", err)
	}
	if payload.State != "closed" || payload.Open {
		t.Errorf("state payload = %+v", payload)
	}

	// Lock polarity: a closed door reads true.
	closed, _ := reg.GetBySerial("GW1")
	if !closed.OnOffState {
		t.Error("closed door recorded OnOffState = false, want true")
	}

	// No change: no publication.
	if err := engine.pollOnce(context.Background()); err != nil {
		t.Fatalf("pollOnce() error = %v", err)
	}
	if got := len(pub.published()); got != first {
		t.Errorf("unchanged state republished: %d messages", got)
	}

	// Door moves: one more publication, binding records it.
	door.mu.Lock()
	door.state = "open"
	door.mu.Unlock()
	if err := engine.pollOnce(context.Background()); err != nil {
		t.Fatalf("pollOnce() error = %v", err)
	}
	if got := len(pub.published()); got != first+1 {
		t.Errorf("door movement published %d new messages, want 1", got-first)
	}

	b, _ := reg.GetBySerial("GW1")
	if b.DoorStatus != "open" || b.OnOffState {
		t.Errorf("binding state not recorded: %+v", b)
	}
}

func TestHandleCommandParsesTopicAndPayload(t *testing.T) {
	door := &fakeDoor{serial: "GW1", name: "Main Garage", account: "acct-1", state: "closed", online: true}
	source := &fakeSource{doors: map[string]Door{"GW1": door}}
	engine, _, _, sub := setupEngine(t, source)

	if err := engine.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer engine.Stop()

	pattern := mqtt.Topics{}.AllDeviceCommands()

	// JSON payload
	if err := sub.inject(t, pattern, "myqsync/command/GW1", []byte(`{"command":"open"}`)); err != nil {
		t.Fatalf("command handler error = %v", err)
	}
	if door.opens != 1 {
		t.Errorf("door opens = %d, want 1", door.opens)
	}

	// Bare string payload
	if err := sub.inject(t, pattern, "myqsync/command/GW1", []byte("close")); err != nil {
		t.Fatalf("command handler error = %v", err)
	}
	if door.closes != 1 {
		t.Errorf("door closes = %d, want 1", door.closes)
	}

	// Unknown command surfaces an error
	if err := sub.inject(t, pattern, "myqsync/command/GW1", []byte("explode")); err == nil {
		t.Error("unknown command did not error")
	}
}

func TestHandleSensorRoutesToReconciler(t *testing.T) {
	source := &fakeSource{}
	engine, reg, pub, sub := setupEngine(t, source)

	seedFaultBinding(t, reg, "alarm")

	if err := engine.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer engine.Stop()

	pattern := mqtt.Topics{}.AllSensorStates()

	if err := sub.inject(t, pattern, "myqsync/sensor/lock-01", []byte(`{"value":true}`)); err != nil {
		t.Fatalf("sensor handler error = %v", err)
	}

	var fired bool
	for _, topic := range pub.published() {
		if strings.HasPrefix(topic, "myqsync/event/trigger/") {
			fired = true
		}
	}
	if !fired {
		t.Error("sensor disagreement did not fire a trigger")
	}

	// Deletion detaches the sensor.
	if err := sub.inject(t, pattern, "myqsync/sensor/lock-01", []byte(`{"deleted":true}`)); err != nil {
		t.Fatalf("sensor handler error = %v", err)
	}
	b, _ := reg.Get("b-1")
	if b.SensorID != "" {
		t.Error("sensor not detached after deletion report")
	}
}

func TestRequestRefreshTriggersEarlyPoll(t *testing.T) {
	source := &fakeSource{}
	engine, _, _, _ := setupEngine(t, source)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := engine.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer engine.Stop()

	engine.RequestRefresh()

	deadline := time.After(5 * time.Second)
	for {
		source.mu.Lock()
		polls := source.fullPolls
		source.mu.Unlock()
		if polls >= 1 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("refresh request never triggered a poll")
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// fakeStateRecorder counts recorded transitions and poll cycles.
type fakeStateRecorder struct {
	mu         sync.Mutex
	doorStates int
	lampStates int
	pollCycles int
	lastCount  int
}

func (f *fakeStateRecorder) WriteDoorState(serial, name, state string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.doorStates++
}

func (f *fakeStateRecorder) WriteLampState(serial, name string, on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lampStates++
}

func (f *fakeStateRecorder) WritePollCycle(deviceCount int, duration time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollCycles++
	f.lastCount = deviceCount
}

func TestPollOnceRecordsHistory(t *testing.T) {
	door := &fakeDoor{serial: "GW1", name: "Main Garage", account: "acct-1", state: "closed", online: true}
	lamp := &fakeLamp{serial: "LM1", name: "Porch", account: "acct-1", state: "on", online: true}
	source := &fakeSource{
		doors: map[string]Door{"GW1": door},
		lamps: map[string]Lamp{"LM1": lamp},
	}
	reg, _ := setupRegistry(t)
	rec := &fakeStateRecorder{}
	engine := NewEngine(source, reg, NewDispatcher(source, reg), NewReconciler(reg, &fakePublisher{}), &fakePublisher{}, newFakeSubscriber(), rec, EngineOptions{
		StatusInterval: time.Hour,
	})

	if err := engine.pollOnce(context.Background()); err != nil {
		t.Fatalf("pollOnce() error = %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.pollCycles != 1 || rec.lastCount != 2 {
		t.Errorf("poll cycle recorded %d times with count %d, want 1 with 2", rec.pollCycles, rec.lastCount)
	}
	if rec.doorStates != 1 || rec.lampStates != 1 {
		t.Errorf("state history = %d doors, %d lamps, want 1 each", rec.doorStates, rec.lampStates)
	}
}

func TestStopUnsubscribesHubTopics(t *testing.T) {
	source := &fakeSource{}
	engine, _, _, sub := setupEngine(t, source)

	if err := engine.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	engine.Stop()

	removed := make(map[string]bool, len(sub.unsubscribed))
	for _, topic := range sub.unsubscribed {
		removed[topic] = true
	}
	for _, topic := range []string{mqtt.Topics{}.AllDeviceCommands(), mqtt.Topics{}.AllSensorStates()} {
		if !removed[topic] {
			t.Errorf("Stop() left subscription %s in place", topic)
		}
	}
}

func TestLastTopicPart(t *testing.T) {
	tests := []struct {
		topic string
		want  string
	}{
		{"myqsync/command/GW1", "GW1"},
		{"myqsync/sensor/lock-01", "lock-01"},
		{"myqsync/command/", ""},
		{"nopath", ""},
	}

	for _, tt := range tests {
		if got := lastTopicPart(tt.topic); got != tt.want {
			t.Errorf("lastTopicPart(%q) = %q, want %q", tt.topic, got, tt.want)
		}
	}
}
