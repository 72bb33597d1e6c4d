package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"torntracker/internal/domain"
	"torntracker/internal/metrics"

	"github.com/rs/zerolog"
)

// SummaryRepository persists derived monthly rollups. Each write is
// all-or-nothing over one entity's period.
type SummaryRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewSummaryRepository(db *sql.DB, logger zerolog.Logger) *SummaryRepository {
	return &SummaryRepository{db: db, logger: logger}
}

// ErrSummaryExists guards against silently recomputing an existing period
// without force.
var ErrSummaryExists = fmt.Errorf("summary already exists for period")

// periodExists is the no-force guard: any row for the period in the
// table blocks the whole batch, regardless of which entity wrote it.
func periodExists(ctx context.Context, tx *sql.Tx, table string, periodStart, periodEnd int64, periodType string) (bool, error) {
	var n int64
	err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM "+table+" WHERE period_start = ? AND period_end = ? AND period_type = ?",
		periodStart, periodEnd, periodType).Scan(&n)
	return n > 0, err
}

// WritePlayerSummaries stores one batch atomically. Without force, any
// pre-existing row for the same period aborts the whole batch.
func (r *SummaryRepository) WritePlayerSummaries(ctx context.Context, summaries []domain.PlayerStatsSummary, force bool) error {
	if len(summaries) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin summary tx: %w", err)
	}
	defer tx.Rollback()

	if !force {
		first := &summaries[0]
		exists, err := periodExists(ctx, tx, "player_stats_summary", first.PeriodStart, first.PeriodEnd, first.PeriodType)
		if err != nil {
			return fmt.Errorf("check player summary period: %w", err)
		}
		if exists {
			return fmt.Errorf("period %d-%d: %w", first.PeriodStart, first.PeriodEnd, ErrSummaryExists)
		}
	}

	now := time.Now().Unix()
	for i := range summaries {
		s := &summaries[i]
		_, err := tx.ExecContext(ctx, `
			INSERT INTO player_stats_summary (
				player_id, period_start, period_end, period_type,
				strength_start, strength_end, strength_change,
				defense_start, defense_end, defense_change,
				speed_start, speed_end, speed_change,
				dexterity_start, dexterity_end, dexterity_change,
				total_stats_start, total_stats_end, total_stats_change,
				level_start, level_end, level_change,
				life_maximum_start, life_maximum_end,
				networth_start, networth_end, networth_change,
				record_count, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(player_id, period_start, period_end, period_type) DO UPDATE SET
				strength_start = excluded.strength_start, strength_end = excluded.strength_end, strength_change = excluded.strength_change,
				defense_start = excluded.defense_start, defense_end = excluded.defense_end, defense_change = excluded.defense_change,
				speed_start = excluded.speed_start, speed_end = excluded.speed_end, speed_change = excluded.speed_change,
				dexterity_start = excluded.dexterity_start, dexterity_end = excluded.dexterity_end, dexterity_change = excluded.dexterity_change,
				total_stats_start = excluded.total_stats_start, total_stats_end = excluded.total_stats_end, total_stats_change = excluded.total_stats_change,
				level_start = excluded.level_start, level_end = excluded.level_end, level_change = excluded.level_change,
				life_maximum_start = excluded.life_maximum_start, life_maximum_end = excluded.life_maximum_end,
				networth_start = excluded.networth_start, networth_end = excluded.networth_end, networth_change = excluded.networth_change,
				record_count = excluded.record_count, created_at = excluded.created_at`,
			s.PlayerID, s.PeriodStart, s.PeriodEnd, s.PeriodType,
			s.Strength.Start, s.Strength.End, s.Strength.Change,
			s.Defense.Start, s.Defense.End, s.Defense.Change,
			s.Speed.Start, s.Speed.End, s.Speed.Change,
			s.Dexterity.Start, s.Dexterity.End, s.Dexterity.Change,
			s.TotalStats.Start, s.TotalStats.End, s.TotalStats.Change,
			s.Level.Start, s.Level.End, s.Level.Change,
			s.LifeMaximum.Start, s.LifeMaximum.End,
			s.Networth.Start, s.Networth.End, s.Networth.Change,
			s.RecordCount, now)
		if err != nil {
			return fmt.Errorf("write summary for player %d: %w", s.PlayerID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit player summaries: %w", err)
	}
	metrics.SummariesCreated.WithLabelValues("player_stats_summary").Add(float64(len(summaries)))
	return nil
}

func (r *SummaryRepository) WriteFactionSummaries(ctx context.Context, summaries []domain.FactionSummary, force bool) error {
	if len(summaries) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin summary tx: %w", err)
	}
	defer tx.Rollback()

	if !force {
		first := &summaries[0]
		exists, err := periodExists(ctx, tx, "faction_summary", first.PeriodStart, first.PeriodEnd, first.PeriodType)
		if err != nil {
			return fmt.Errorf("check faction summary period: %w", err)
		}
		if exists {
			return fmt.Errorf("period %d-%d: %w", first.PeriodStart, first.PeriodEnd, ErrSummaryExists)
		}
	}

	now := time.Now().Unix()
	for i := range summaries {
		s := &summaries[i]
		_, err := tx.ExecContext(ctx, `
			INSERT INTO faction_summary (
				faction_id, period_start, period_end, period_type,
				respect_start, respect_end, respect_change,
				member_count_start, member_count_end, member_count_change,
				best_chain_start, best_chain_end, best_chain_change,
				record_count, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(faction_id, period_start, period_end, period_type) DO UPDATE SET
				respect_start = excluded.respect_start, respect_end = excluded.respect_end, respect_change = excluded.respect_change,
				member_count_start = excluded.member_count_start, member_count_end = excluded.member_count_end, member_count_change = excluded.member_count_change,
				best_chain_start = excluded.best_chain_start, best_chain_end = excluded.best_chain_end, best_chain_change = excluded.best_chain_change,
				record_count = excluded.record_count, created_at = excluded.created_at`,
			s.FactionID, s.PeriodStart, s.PeriodEnd, s.PeriodType,
			s.Respect.Start, s.Respect.End, s.Respect.Change,
			s.MemberCount.Start, s.MemberCount.End, s.MemberCount.Change,
			s.BestChain.Start, s.BestChain.End, s.BestChain.Change,
			s.RecordCount, now)
		if err != nil {
			return fmt.Errorf("write summary for faction %d: %w", s.FactionID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit faction summaries: %w", err)
	}
	metrics.SummariesCreated.WithLabelValues("faction_summary").Add(float64(len(summaries)))
	return nil
}

func (r *SummaryRepository) PlayerSummaries(ctx context.Context, playerID int64) ([]domain.PlayerStatsSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT player_id, period_start, period_end, period_type,
		       COALESCE(strength_start, 0), COALESCE(strength_end, 0), COALESCE(strength_change, 0),
		       COALESCE(defense_start, 0), COALESCE(defense_end, 0), COALESCE(defense_change, 0),
		       COALESCE(speed_start, 0), COALESCE(speed_end, 0), COALESCE(speed_change, 0),
		       COALESCE(dexterity_start, 0), COALESCE(dexterity_end, 0), COALESCE(dexterity_change, 0),
		       COALESCE(total_stats_start, 0), COALESCE(total_stats_end, 0), COALESCE(total_stats_change, 0),
		       COALESCE(level_start, 0), COALESCE(level_end, 0), COALESCE(level_change, 0),
		       COALESCE(life_maximum_start, 0), COALESCE(life_maximum_end, 0),
		       COALESCE(networth_start, 0), COALESCE(networth_end, 0), COALESCE(networth_change, 0),
		       COALESCE(record_count, 0)
		FROM player_stats_summary
		WHERE player_id = ?
		ORDER BY period_start DESC`, playerID)
	if err != nil {
		return nil, fmt.Errorf("query summaries for player %d: %w", playerID, err)
	}
	defer rows.Close()

	var out []domain.PlayerStatsSummary
	for rows.Next() {
		var s domain.PlayerStatsSummary
		if err := rows.Scan(&s.PlayerID, &s.PeriodStart, &s.PeriodEnd, &s.PeriodType,
			&s.Strength.Start, &s.Strength.End, &s.Strength.Change,
			&s.Defense.Start, &s.Defense.End, &s.Defense.Change,
			&s.Speed.Start, &s.Speed.End, &s.Speed.Change,
			&s.Dexterity.Start, &s.Dexterity.End, &s.Dexterity.Change,
			&s.TotalStats.Start, &s.TotalStats.End, &s.TotalStats.Change,
			&s.Level.Start, &s.Level.End, &s.Level.Change,
			&s.LifeMaximum.Start, &s.LifeMaximum.End,
			&s.Networth.Start, &s.Networth.End, &s.Networth.Change,
			&s.RecordCount); err != nil {
			return nil, fmt.Errorf("scan player summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SummaryRepository) FactionSummaries(ctx context.Context, factionID int64) ([]domain.FactionSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT faction_id, period_start, period_end, period_type,
		       COALESCE(respect_start, 0), COALESCE(respect_end, 0), COALESCE(respect_change, 0),
		       COALESCE(member_count_start, 0), COALESCE(member_count_end, 0), COALESCE(member_count_change, 0),
		       COALESCE(best_chain_start, 0), COALESCE(best_chain_end, 0), COALESCE(best_chain_change, 0),
		       COALESCE(record_count, 0)
		FROM faction_summary
		WHERE faction_id = ?
		ORDER BY period_start DESC`, factionID)
	if err != nil {
		return nil, fmt.Errorf("query summaries for faction %d: %w", factionID, err)
	}
	defer rows.Close()

	var out []domain.FactionSummary
	for rows.Next() {
		var s domain.FactionSummary
		if err := rows.Scan(&s.FactionID, &s.PeriodStart, &s.PeriodEnd, &s.PeriodType,
			&s.Respect.Start, &s.Respect.End, &s.Respect.Change,
			&s.MemberCount.Start, &s.MemberCount.End, &s.MemberCount.Change,
			&s.BestChain.Start, &s.BestChain.End, &s.BestChain.Change,
			&s.RecordCount); err != nil {
			return nil, fmt.Errorf("scan faction summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
