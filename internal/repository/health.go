package repository

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"torntracker/internal/database"

	"github.com/rs/zerolog"
)

// TableCounts is a snapshot of row counts per tracked table.
type TableCounts map[string]int64

// HealthReport aggregates database freshness and volume for operators.
type HealthReport struct {
	SchemaVersion   int64       `json:"schema_version"`
	DatabaseBytes   int64       `json:"database_bytes"`
	Tables          TableCounts `json:"tables"`
	OldestStat      int64       `json:"oldest_stat"`
	NewestStat      int64       `json:"newest_stat"`
	StatsOlderThan  int64       `json:"stats_older_than_cutoff"`
	EventsOlderThan int64       `json:"events_older_than_cutoff"`
}

type HealthRepository struct {
	db     *sql.DB
	dbPath string
	logger zerolog.Logger
}

func NewHealthRepository(db *sql.DB, dbPath string, logger zerolog.Logger) *HealthRepository {
	return &HealthRepository{db: db, dbPath: dbPath, logger: logger}
}

var healthTables = []string{
	"players", "factions", "player_stats_history", "faction_history",
	"player_stats_summary", "faction_summary", "organized_crime_current",
	"organized_crime_history", "participant_crime_stats", "competitions", "items",
}

func (r *HealthRepository) Report(ctx context.Context, pruneCutoff int64) (*HealthReport, error) {
	report := &HealthReport{Tables: make(TableCounts, len(healthTables))}

	version, err := database.SchemaVersion(r.db)
	if err != nil {
		return nil, fmt.Errorf("schema version: %w", err)
	}
	report.SchemaVersion = version

	if info, err := os.Stat(r.dbPath); err == nil {
		report.DatabaseBytes = info.Size()
	}

	for _, table := range healthTables {
		var n int64
		if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, fmt.Errorf("count %s: %w", table, err)
		}
		report.Tables[table] = n
	}

	err = r.db.QueryRowContext(ctx,
		`SELECT COALESCE(MIN(timestamp), 0), COALESCE(MAX(timestamp), 0) FROM player_stats_history`).
		Scan(&report.OldestStat, &report.NewestStat)
	if err != nil {
		return nil, fmt.Errorf("stat timestamp range: %w", err)
	}

	err = r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM player_stats_history WHERE timestamp < ?`, pruneCutoff).
		Scan(&report.StatsOlderThan)
	if err != nil {
		return nil, fmt.Errorf("count old stats: %w", err)
	}

	err = r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM organized_crime_history WHERE event_timestamp < ?`, pruneCutoff).
		Scan(&report.EventsOlderThan)
	if err != nil {
		return nil, fmt.Errorf("count old events: %w", err)
	}

	return report, nil
}
