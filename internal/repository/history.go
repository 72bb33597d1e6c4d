package repository

import (
	"context"
	"database/sql"
	"fmt"

	"torntracker/internal/domain"
	"torntracker/internal/metrics"

	"github.com/rs/zerolog"
)

// HistoryRepository owns the append-only observation tables and their
// retention. Rows are written once and never updated.
type HistoryRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewHistoryRepository(db *sql.DB, logger zerolog.Logger) *HistoryRepository {
	return &HistoryRepository{db: db, logger: logger}
}

func (r *HistoryRepository) AppendPlayerStats(ctx context.Context, s *domain.PlayerStats) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO player_stats_history (
			player_id, timestamp, strength, defense, speed, dexterity,
			total_stats, level, life_maximum, networth, data_source
		) VALUES (?, ?, NULLIF(?, 0), NULLIF(?, 0), NULLIF(?, 0), NULLIF(?, 0), NULLIF(?, 0), NULLIF(?, 0), NULLIF(?, 0), ?, ?)`,
		s.PlayerID, s.Timestamp, s.Strength, s.Defense, s.Speed, s.Dexterity,
		s.TotalStats, s.Level, s.LifeMaximum, s.Networth, s.DataSource)
	if err != nil {
		return fmt.Errorf("append stats for player %d: %w", s.PlayerID, err)
	}
	return nil
}

func (r *HistoryRepository) AppendFactionObservation(ctx context.Context, o *domain.FactionObservation) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO faction_history (faction_id, timestamp, respect, member_count, best_chain, data_source)
		VALUES (?, ?, NULLIF(?, 0), NULLIF(?, 0), NULLIF(?, 0), ?)`,
		o.FactionID, o.Timestamp, o.Respect, o.MemberCount, o.BestChain, o.DataSource)
	if err != nil {
		return fmt.Errorf("append observation for faction %d: %w", o.FactionID, err)
	}
	return nil
}

// PlayerStatsBetween returns observations inside [from, to) ordered by
// timestamp ascending, the order summarization depends on.
func (r *HistoryRepository) PlayerStatsBetween(ctx context.Context, playerID, from, to int64) ([]domain.PlayerStats, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT player_id, timestamp, COALESCE(strength, 0), COALESCE(defense, 0),
		       COALESCE(speed, 0), COALESCE(dexterity, 0), COALESCE(total_stats, 0),
		       COALESCE(level, 0), COALESCE(life_maximum, 0), COALESCE(networth, 0),
		       COALESCE(data_source, '')
		FROM player_stats_history
		WHERE player_id = ? AND timestamp >= ? AND timestamp < ?
		ORDER BY timestamp ASC`, playerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query stats for player %d: %w", playerID, err)
	}
	defer rows.Close()

	var out []domain.PlayerStats
	for rows.Next() {
		var s domain.PlayerStats
		if err := rows.Scan(&s.PlayerID, &s.Timestamp, &s.Strength, &s.Defense,
			&s.Speed, &s.Dexterity, &s.TotalStats, &s.Level, &s.LifeMaximum,
			&s.Networth, &s.DataSource); err != nil {
			return nil, fmt.Errorf("scan stats row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *HistoryRepository) FactionObservationsBetween(ctx context.Context, factionID, from, to int64) ([]domain.FactionObservation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT faction_id, timestamp, COALESCE(respect, 0), COALESCE(member_count, 0),
		       COALESCE(best_chain, 0), COALESCE(data_source, '')
		FROM faction_history
		WHERE faction_id = ? AND timestamp >= ? AND timestamp < ?
		ORDER BY timestamp ASC`, factionID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query history for faction %d: %w", factionID, err)
	}
	defer rows.Close()

	var out []domain.FactionObservation
	for rows.Next() {
		var o domain.FactionObservation
		if err := rows.Scan(&o.FactionID, &o.Timestamp, &o.Respect, &o.MemberCount,
			&o.BestChain, &o.DataSource); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// PlayersWithStatsBetween lists the distinct players that have at least
// one observation inside [from, to).
func (r *HistoryRepository) PlayersWithStatsBetween(ctx context.Context, from, to int64) ([]int64, error) {
	return r.distinctIDs(ctx,
		`SELECT DISTINCT player_id FROM player_stats_history WHERE timestamp >= ? AND timestamp < ?`,
		from, to)
}

func (r *HistoryRepository) FactionsWithObservationsBetween(ctx context.Context, from, to int64) ([]int64, error) {
	return r.distinctIDs(ctx,
		`SELECT DISTINCT faction_id FROM faction_history WHERE timestamp >= ? AND timestamp < ?`,
		from, to)
}

func (r *HistoryRepository) distinctIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query distinct ids: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// PrunePlayerStats deletes observations strictly older than cutoff and
// returns how many rows were removed. Summaries are untouched.
func (r *HistoryRepository) PrunePlayerStats(ctx context.Context, cutoff int64) (int64, error) {
	return r.prune(ctx, "player_stats_history", "timestamp", cutoff)
}

func (r *HistoryRepository) PruneFactionHistory(ctx context.Context, cutoff int64) (int64, error) {
	return r.prune(ctx, "faction_history", "timestamp", cutoff)
}

func (r *HistoryRepository) prune(ctx context.Context, table, column string, cutoff int64) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE %s < ?", table, column), cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune %s rows affected: %w", table, err)
	}
	if n > 0 {
		metrics.HistoryPruned.WithLabelValues(table).Add(float64(n))
		r.logger.Info().Str("table", table).Int64("rows", n).Int64("cutoff", cutoff).Msg("pruned history")
	}
	return n, nil
}
