package api

import (
	"net/http"
	"time"
)

// migrationAppliedResponse describes one applied schema migration.
type migrationAppliedResponse struct {
	Version   string    `json:"version"`
	AppliedAt time.Time `json:"applied_at"`
}

// migrationPendingResponse describes one migration waiting to run.
type migrationPendingResponse struct {
	Version string `json:"version"`
	Name    string `json:"name"`
}

// databaseStatusResponse is the persistence diagnostics document.
type databaseStatusResponse struct {
	Path              string                     `json:"path"`
	OpenConnections   int                        `json:"open_connections"`
	InUse             int                        `json:"in_use"`
	Idle              int                        `json:"idle"`
	AppliedMigrations []migrationAppliedResponse `json:"applied_migrations"`
	PendingMigrations []migrationPendingResponse `json:"pending_migrations"`
}

// handleDatabaseStatus reports the database file, pool counters, and
// schema migration state.
func (s *Server) handleDatabaseStatus(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternal, "database not available")
		return
	}

	applied, pending, err := s.db.GetMigrationStatus(r.Context())
	if err != nil {
		s.logger.Error("reading migration status", "error", err)
		writeInternalError(w, "failed to read migration status")
		return
	}

	stats := s.db.Stats()
	resp := databaseStatusResponse{
		Path:              s.db.Path(),
		OpenConnections:   stats.OpenConnections,
		InUse:             stats.InUse,
		Idle:              stats.Idle,
		AppliedMigrations: make([]migrationAppliedResponse, 0, len(applied)),
		PendingMigrations: make([]migrationPendingResponse, 0, len(pending)),
	}
	for _, m := range applied {
		resp.AppliedMigrations = append(resp.AppliedMigrations, migrationAppliedResponse{
			Version:   m.Version,
			AppliedAt: m.AppliedAt,
		})
	}
	for _, m := range pending {
		resp.PendingMigrations = append(resp.PendingMigrations, migrationPendingResponse{
			Version: m.Version,
			Name:    m.Name,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}
