package bridge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for binding and trigger persistence.
// This abstraction allows for different implementations (SQLite, mock)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetBinding retrieves a binding by ID.
	// Returns ErrBindingNotFound if it does not exist.
	GetBinding(ctx context.Context, id string) (*Binding, error)

	// GetBindingBySerial retrieves the binding for a device serial.
	GetBindingBySerial(ctx context.Context, serial string) (*Binding, error)

	// ListBindings retrieves all bindings ordered by name.
	ListBindings(ctx context.Context) ([]Binding, error)

	// CreateBinding inserts a new binding.
	// Returns ErrBindingExists on an ID or serial collision.
	CreateBinding(ctx context.Context, binding *Binding) error

	// UpdateBinding modifies an existing binding.
	UpdateBinding(ctx context.Context, binding *Binding) error

	// DeleteBinding removes a binding and its triggers.
	DeleteBinding(ctx context.Context, id string) error

	// ListTriggers retrieves all triggers for a binding in ascending
	// ID order, the order they fire in.
	ListTriggers(ctx context.Context, bindingID string) ([]Trigger, error)

	// CreateTrigger inserts a new trigger, assigning its ID.
	CreateTrigger(ctx context.Context, trigger *Trigger) error

	// DeleteTrigger removes a trigger by ID.
	DeleteTrigger(ctx context.Context, id int64) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection with the
// bindings and triggers tables migrated.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const bindingColumns = `id, name, kind, address, sensor_id, sensor_kind, inverted_sensor,
		on_off_state, door_status, lamp_status, schema_version, created_at, updated_at`

// GetBinding retrieves a binding by ID.
func (r *SQLiteRepository) GetBinding(ctx context.Context, id string) (*Binding, error) {
	query := `SELECT ` + bindingColumns + ` FROM bindings WHERE id = ?`

	binding, err := scanBinding(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBindingNotFound
		}
		return nil, fmt.Errorf("querying binding by id: %w", err)
	}
	return binding, nil
}

// GetBindingBySerial retrieves the binding for a device serial.
func (r *SQLiteRepository) GetBindingBySerial(ctx context.Context, serial string) (*Binding, error) {
	query := `SELECT ` + bindingColumns + ` FROM bindings WHERE address = ?`

	binding, err := scanBinding(r.db.QueryRowContext(ctx, query, serial))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBindingNotFound
		}
		return nil, fmt.Errorf("querying binding by serial: %w", err)
	}
	return binding, nil
}

// ListBindings retrieves all bindings ordered by name.
func (r *SQLiteRepository) ListBindings(ctx context.Context) ([]Binding, error) {
	query := `SELECT ` + bindingColumns + ` FROM bindings ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying bindings: %w", err)
	}
	defer rows.Close()

	var bindings []Binding
	for rows.Next() {
		binding, err := scanBinding(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning binding: %w", err)
		}
		bindings = append(bindings, *binding)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating bindings: %w", err)
	}
	return bindings, nil
}

// CreateBinding inserts a new binding.
func (r *SQLiteRepository) CreateBinding(ctx context.Context, binding *Binding) error {
	if err := binding.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	if binding.CreatedAt.IsZero() {
		binding.CreatedAt = now
	}
	binding.UpdatedAt = now
	if binding.SchemaVersion == 0 {
		binding.SchemaVersion = CurrentSchemaVersion
	}

	query := `
		INSERT INTO bindings (
			id, name, kind, address, sensor_id, sensor_kind, inverted_sensor,
			on_off_state, door_status, lamp_status, schema_version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		binding.ID,
		binding.Name,
		string(binding.Kind),
		binding.Serial,
		nullableString(binding.SensorID),
		nullableString(string(binding.SensorKind)),
		boolToInt(binding.InvertedSensor),
		boolToInt(binding.OnOffState),
		nullableString(binding.DoorStatus),
		nullableString(binding.LampStatus),
		binding.SchemaVersion,
		binding.CreatedAt.Format(time.RFC3339),
		binding.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrBindingExists
		}
		return fmt.Errorf("inserting binding: %w", err)
	}
	return nil
}

// UpdateBinding modifies an existing binding.
func (r *SQLiteRepository) UpdateBinding(ctx context.Context, binding *Binding) error {
	if err := binding.Validate(); err != nil {
		return err
	}

	binding.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE bindings SET
			name = ?, kind = ?, address = ?, sensor_id = ?, sensor_kind = ?,
			inverted_sensor = ?, on_off_state = ?, door_status = ?, lamp_status = ?,
			schema_version = ?, updated_at = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		binding.Name,
		string(binding.Kind),
		binding.Serial,
		nullableString(binding.SensorID),
		nullableString(string(binding.SensorKind)),
		boolToInt(binding.InvertedSensor),
		boolToInt(binding.OnOffState),
		nullableString(binding.DoorStatus),
		nullableString(binding.LampStatus),
		binding.SchemaVersion,
		binding.UpdatedAt.Format(time.RFC3339),
		binding.ID,
	)
	if err != nil {
		return fmt.Errorf("updating binding: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrBindingNotFound
	}
	return nil
}

// DeleteBinding removes a binding. Its triggers go with it via the
// foreign key cascade.
func (r *SQLiteRepository) DeleteBinding(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM bindings WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting binding: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrBindingNotFound
	}
	return nil
}

// ListTriggers retrieves all triggers for a binding in ascending ID
// order.
func (r *SQLiteRepository) ListTriggers(ctx context.Context, bindingID string) ([]Trigger, error) {
	query := `
		SELECT id, name, binding_id, enabled, created_at
		FROM triggers
		WHERE binding_id = ?
		ORDER BY id ASC`

	rows, err := r.db.QueryContext(ctx, query, bindingID)
	if err != nil {
		return nil, fmt.Errorf("querying triggers: %w", err)
	}
	defer rows.Close()

	var triggers []Trigger
	for rows.Next() {
		var t Trigger
		var enabled int
		var createdAt string
		if err := rows.Scan(&t.ID, &t.Name, &t.BindingID, &enabled, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning trigger: %w", err)
		}
		t.Enabled = enabled != 0
		t.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing trigger created_at: %w", err)
		}
		triggers = append(triggers, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating triggers: %w", err)
	}
	return triggers, nil
}

// CreateTrigger inserts a new trigger and assigns its ID.
func (r *SQLiteRepository) CreateTrigger(ctx context.Context, trigger *Trigger) error {
	if trigger.CreatedAt.IsZero() {
		trigger.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO triggers (name, binding_id, enabled, created_at)
		VALUES (?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		trigger.Name,
		trigger.BindingID,
		boolToInt(trigger.Enabled),
		trigger.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting trigger: %w", err)
	}

	trigger.ID, err = result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading trigger id: %w", err)
	}
	return nil
}

// DeleteTrigger removes a trigger by ID.
func (r *SQLiteRepository) DeleteTrigger(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM triggers WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting trigger: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrTriggerNotFound
	}
	return nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanBinding scans a row or rows result into a Binding.
func scanBinding(scanner rowScanner) (*Binding, error) {
	var b Binding
	var kind string
	var sensorID, sensorKind, doorStatus, lampStatus sql.NullString
	var invertedSensor, onOffState int
	var createdAt, updatedAt string

	err := scanner.Scan(
		&b.ID,
		&b.Name,
		&kind,
		&b.Serial,
		&sensorID,
		&sensorKind,
		&invertedSensor,
		&onOffState,
		&doorStatus,
		&lampStatus,
		&b.SchemaVersion,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	b.Kind = BindingKind(kind)
	b.InvertedSensor = invertedSensor != 0
	b.OnOffState = onOffState != 0
	if sensorID.Valid {
		b.SensorID = sensorID.String
	}
	if sensorKind.Valid {
		b.SensorKind = SensorKind(sensorKind.String)
	}
	if doorStatus.Valid {
		b.DoorStatus = doorStatus.String
	}
	if lampStatus.Valid {
		b.LampStatus = lampStatus.String
	}

	b.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	b.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &b, nil
}

// nullableString returns a sql.NullString that is NULL for "".
func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueConstraintError checks if an error is a SQLite unique
// constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
