package bridge

import (
	"context"
	"fmt"
	"sync"
)

// Registry is the in-memory view of bindings and triggers backed by a
// Repository. All engine lookups go through the cache; writes go to
// the repository first and the cache second.
//
// Thread Safety: All methods are safe for concurrent use.
type Registry struct {
	repo Repository

	mu       sync.RWMutex
	byID     map[string]*Binding
	bySerial map[string]*Binding

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

// NewRegistry creates a registry over the given repository.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:     repo,
		byID:     make(map[string]*Binding),
		bySerial: make(map[string]*Binding),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.loggerMu.Lock()
	r.logger = logger
	r.loggerMu.Unlock()
}

// Load populates the cache from the repository and upgrades bindings
// written by older schema generations.
//
// Version 0 and 1 records predate the sensor_kind field; they carried
// only the inverted flag, so their kind defaults to contact. The
// upgrade persists immediately so a crash cannot observe a half
// migrated store.
func (r *Registry) Load(ctx context.Context) error {
	bindings, err := r.repo.ListBindings(ctx)
	if err != nil {
		return fmt.Errorf("loading bindings: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.byID = make(map[string]*Binding, len(bindings))
	r.bySerial = make(map[string]*Binding, len(bindings))

	for i := range bindings {
		b := &bindings[i]

		if b.SchemaVersion < CurrentSchemaVersion {
			old := b.SchemaVersion
			if b.SensorID != "" && b.SensorKind == "" {
				b.SensorKind = SensorContact
			}
			b.SchemaVersion = CurrentSchemaVersion
			if err := r.repo.UpdateBinding(ctx, b); err != nil {
				return fmt.Errorf("upgrading binding %s: %w", b.ID, err)
			}
			r.logInfo("binding schema upgraded", "binding_id", b.ID, "from", old, "to", CurrentSchemaVersion)
		}

		r.byID[b.ID] = b
		r.bySerial[b.Serial] = b
	}

	r.logInfo("bindings loaded", "count", len(bindings))
	return nil
}

// Get returns a copy of the binding with the given ID.
func (r *Registry) Get(id string) (Binding, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.byID[id]
	if !ok {
		return Binding{}, ErrBindingNotFound
	}
	return *b, nil
}

// GetBySerial returns a copy of the binding for a device serial.
func (r *Registry) GetBySerial(serial string) (Binding, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bySerial[serial]
	if !ok {
		return Binding{}, ErrBindingNotFound
	}
	return *b, nil
}

// GetBySensor returns copies of all bindings paired with a sensor.
func (r *Registry) GetBySensor(sensorID string) []Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Binding
	for _, b := range r.byID {
		if b.SensorID == sensorID {
			out = append(out, *b)
		}
	}
	return out
}

// List returns copies of all bindings.
func (r *Registry) List() []Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Binding, 0, len(r.byID))
	for _, b := range r.byID {
		out = append(out, *b)
	}
	return out
}

// Create persists a new binding and caches it.
func (r *Registry) Create(ctx context.Context, binding Binding) error {
	if binding.SchemaVersion == 0 {
		binding.SchemaVersion = CurrentSchemaVersion
	}
	if err := r.repo.CreateBinding(ctx, &binding); err != nil {
		return err
	}

	r.mu.Lock()
	r.byID[binding.ID] = &binding
	r.bySerial[binding.Serial] = &binding
	r.mu.Unlock()

	r.logInfo("binding created", "binding_id", binding.ID, "serial", binding.Serial, "kind", binding.Kind)
	return nil
}

// Update persists binding changes and refreshes the cache.
func (r *Registry) Update(ctx context.Context, binding Binding) error {
	if err := r.repo.UpdateBinding(ctx, &binding); err != nil {
		return err
	}

	r.mu.Lock()
	if old, ok := r.byID[binding.ID]; ok && old.Serial != binding.Serial {
		delete(r.bySerial, old.Serial)
	}
	r.byID[binding.ID] = &binding
	r.bySerial[binding.Serial] = &binding
	r.mu.Unlock()
	return nil
}

// Delete removes a binding and its triggers.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.RLock()
	b, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return ErrBindingNotFound
	}

	if err := r.repo.DeleteBinding(ctx, id); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.byID, id)
	delete(r.bySerial, b.Serial)
	r.mu.Unlock()

	r.logInfo("binding deleted", "binding_id", id)
	return nil
}

// ClearSensor detaches a deleted sensor from every binding that
// referenced it.
func (r *Registry) ClearSensor(ctx context.Context, sensorID string) error {
	for _, b := range r.GetBySensor(sensorID) {
		b.SensorID = ""
		b.SensorKind = ""
		if err := r.Update(ctx, b); err != nil {
			return fmt.Errorf("clearing sensor on binding %s: %w", b.ID, err)
		}
		r.logInfo("sensor detached from binding", "binding_id", b.ID, "sensor_id", sensorID)
	}
	return nil
}

// Triggers returns the binding's triggers in firing order.
func (r *Registry) Triggers(ctx context.Context, bindingID string) ([]Trigger, error) {
	return r.repo.ListTriggers(ctx, bindingID)
}

// CreateTrigger persists a new trigger for a binding.
func (r *Registry) CreateTrigger(ctx context.Context, trigger *Trigger) error {
	if _, err := r.Get(trigger.BindingID); err != nil {
		return err
	}
	return r.repo.CreateTrigger(ctx, trigger)
}

// DeleteTrigger removes a trigger.
func (r *Registry) DeleteTrigger(ctx context.Context, id int64) error {
	return r.repo.DeleteTrigger(ctx, id)
}

func (r *Registry) logInfo(msg string, keysAndValues ...any) {
	r.loggerMu.RLock()
	defer r.loggerMu.RUnlock()
	if r.logger != nil {
		r.logger.Info(msg, keysAndValues...)
	}
}
