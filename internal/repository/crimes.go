package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"torntracker/internal/domain"
	"torntracker/internal/metrics"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// CrimeRepository owns the organized-crime current state, its append-only
// event log and the per-participant running totals.
type CrimeRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewCrimeRepository(db *sql.DB, logger zerolog.Logger) *CrimeRepository {
	return &CrimeRepository{db: db, logger: logger}
}

const crimeInstanceColumns = `
	faction_id, crime_id, crime_name, participants, participant_count,
	required_participants, COALESCE(time_started, 0), COALESCE(time_completed, 0),
	status, COALESCE(reward_money, 0), COALESCE(reward_respect, 0),
	COALESCE(reward_other, ''), COALESCE(data_source, ''), last_updated`

func scanCrimeInstance(rows interface{ Scan(...any) error }) (*domain.CrimeInstance, error) {
	var c domain.CrimeInstance
	var participants string
	err := rows.Scan(&c.FactionID, &c.CrimeID, &c.Name, &participants,
		&c.ParticipantCount, &c.RequiredParticipants, &c.TimeStarted,
		&c.TimeCompleted, &c.Status, &c.RewardMoney, &c.RewardRespect,
		&c.RewardOther, &c.DataSource, &c.LastUpdated)
	if err != nil {
		return nil, err
	}
	c.Participants = decodeIDs(participants)
	return &c, nil
}

func (r *CrimeRepository) GetCurrent(ctx context.Context, factionID, crimeID int64) (*domain.CrimeInstance, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+crimeInstanceColumns+` FROM organized_crime_current WHERE faction_id = ? AND crime_id = ?`,
		factionID, crimeID)
	c, err := scanCrimeInstance(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get crime %d/%d: %w", factionID, crimeID, err)
	}
	return c, nil
}

// ListCurrent returns all non-terminal crimes for a faction keyed by
// crime id, the shape reconciliation diffs against.
func (r *CrimeRepository) ListCurrent(ctx context.Context, factionID int64) (map[int64]*domain.CrimeInstance, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+crimeInstanceColumns+` FROM organized_crime_current WHERE faction_id = ?`, factionID)
	if err != nil {
		return nil, fmt.Errorf("list crimes for faction %d: %w", factionID, err)
	}
	defer rows.Close()

	out := make(map[int64]*domain.CrimeInstance)
	for rows.Next() {
		c, err := scanCrimeInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan crime row: %w", err)
		}
		out[c.CrimeID] = c
	}
	return out, rows.Err()
}

func (r *CrimeRepository) Upsert(ctx context.Context, c *domain.CrimeInstance) error {
	lastUpdated := c.LastUpdated
	if lastUpdated == 0 {
		lastUpdated = time.Now().Unix()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO organized_crime_current (
			faction_id, crime_id, crime_name, participants, participant_count,
			required_participants, time_started, time_completed, status,
			reward_money, reward_respect, reward_other, data_source, last_updated
		) VALUES (?, ?, ?, ?, ?, ?, NULLIF(?, 0), NULLIF(?, 0), ?, NULLIF(?, 0), NULLIF(?, 0), NULLIF(?, ''), ?, ?)
		ON CONFLICT(faction_id, crime_id) DO UPDATE SET
			crime_name = excluded.crime_name,
			participants = excluded.participants,
			participant_count = excluded.participant_count,
			required_participants = excluded.required_participants,
			time_started = excluded.time_started,
			time_completed = excluded.time_completed,
			status = excluded.status,
			reward_money = excluded.reward_money,
			reward_respect = excluded.reward_respect,
			reward_other = excluded.reward_other,
			data_source = excluded.data_source,
			last_updated = excluded.last_updated`,
		c.FactionID, c.CrimeID, c.Name, encodeIDs(c.Participants), int64(len(c.Participants)),
		c.RequiredParticipants, c.TimeStarted, c.TimeCompleted, string(c.Status),
		c.RewardMoney, c.RewardRespect, c.RewardOther, c.DataSource, lastUpdated)
	if err != nil {
		return fmt.Errorf("upsert crime %d/%d: %w", c.FactionID, c.CrimeID, err)
	}
	return nil
}

// Delete removes a crime from current state after a terminal transition.
func (r *CrimeRepository) Delete(ctx context.Context, factionID, crimeID int64) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM organized_crime_current WHERE faction_id = ? AND crime_id = ?`,
		factionID, crimeID)
	if err != nil {
		return fmt.Errorf("delete crime %d/%d: %w", factionID, crimeID, err)
	}
	return nil
}

// AppendEvent writes one immutable history row with a generated id.
func (r *CrimeRepository) AppendEvent(ctx context.Context, e *domain.CrimeEvent) error {
	id, err := gonanoid.New()
	if err != nil {
		return fmt.Errorf("generate event id: %w", err)
	}
	ts := e.Timestamp
	if ts == 0 {
		ts = time.Now().Unix()
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO organized_crime_history (
			id, faction_id, crime_id, event_type, player_id, old_status,
			new_status, old_participants, new_participants, reward_money,
			reward_respect, reward_other, data_source, event_timestamp
		) VALUES (?, ?, ?, ?, NULLIF(?, 0), NULLIF(?, ''), NULLIF(?, ''), ?, ?, NULLIF(?, 0), NULLIF(?, 0), NULLIF(?, ''), ?, ?)`,
		id, e.FactionID, e.CrimeID, string(e.Type), e.PlayerID,
		string(e.OldStatus), string(e.NewStatus),
		encodeIDs(e.OldParticipants), encodeIDs(e.NewParticipants),
		e.RewardMoney, e.RewardRespect, e.RewardOther, e.DataSource, ts)
	if err != nil {
		return fmt.Errorf("append crime event: %w", err)
	}
	e.ID = id
	metrics.CrimeEvents.WithLabelValues(string(e.Type)).Inc()
	return nil
}

// HasEvents reports whether any history exists for a crime, so already
// terminal records seen again during a backfill are not re-logged.
func (r *CrimeRepository) HasEvents(ctx context.Context, factionID, crimeID int64) (bool, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM organized_crime_history WHERE faction_id = ? AND crime_id = ? LIMIT 1`,
		factionID, crimeID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check events for crime %d/%d: %w", factionID, crimeID, err)
	}
	return n > 0, nil
}

// RecordOutcome folds a terminal crime into each participant's totals.
func (r *CrimeRepository) RecordOutcome(ctx context.Context, c *domain.CrimeInstance) error {
	completed, failed := int64(0), int64(0)
	money, respect := int64(0), int64(0)
	switch c.Status {
	case domain.CrimeCompleted:
		completed = 1
		money = c.RewardMoney
		respect = c.RewardRespect
	case domain.CrimeFailed:
		failed = 1
	default:
		return nil
	}

	for _, playerID := range c.Participants {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO participant_crime_stats (
				faction_id, player_id, crimes_completed, crimes_failed,
				total_reward_money, total_reward_respect
			) VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(faction_id, player_id) DO UPDATE SET
				crimes_completed = crimes_completed + excluded.crimes_completed,
				crimes_failed = crimes_failed + excluded.crimes_failed,
				total_reward_money = total_reward_money + excluded.total_reward_money,
				total_reward_respect = total_reward_respect + excluded.total_reward_respect`,
			c.FactionID, playerID, completed, failed, money, respect)
		if err != nil {
			return fmt.Errorf("record outcome for player %d: %w", playerID, err)
		}
	}
	return nil
}

func (r *CrimeRepository) ParticipantStats(ctx context.Context, factionID int64) ([]domain.ParticipantCrimeStats, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT faction_id, player_id, crimes_completed, crimes_failed,
		       total_reward_money, total_reward_respect
		FROM participant_crime_stats
		WHERE faction_id = ?
		ORDER BY crimes_completed DESC, total_reward_respect DESC`, factionID)
	if err != nil {
		return nil, fmt.Errorf("query participant stats: %w", err)
	}
	defer rows.Close()

	var out []domain.ParticipantCrimeStats
	for rows.Next() {
		var s domain.ParticipantCrimeStats
		if err := rows.Scan(&s.FactionID, &s.PlayerID, &s.CrimesCompleted,
			&s.CrimesFailed, &s.TotalRewardMoney, &s.TotalRewardRespect); err != nil {
			return nil, fmt.Errorf("scan participant stats: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// FrequentLeavers counts participant_left events per player inside the
// trailing window and returns those at or over the threshold.
func (r *CrimeRepository) FrequentLeavers(ctx context.Context, factionID, since, threshold int64) ([]domain.FrequentLeaver, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT player_id, COUNT(*) AS leaves
		FROM organized_crime_history
		WHERE faction_id = ? AND event_type = 'participant_left'
		  AND event_timestamp >= ? AND player_id IS NOT NULL
		GROUP BY player_id
		HAVING leaves >= ?
		ORDER BY leaves DESC`, factionID, since, threshold)
	if err != nil {
		return nil, fmt.Errorf("query frequent leavers: %w", err)
	}
	defer rows.Close()

	var out []domain.FrequentLeaver
	for rows.Next() {
		var l domain.FrequentLeaver
		if err := rows.Scan(&l.PlayerID, &l.LeaveCount); err != nil {
			return nil, fmt.Errorf("scan leaver row: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *CrimeRepository) EventsForCrime(ctx context.Context, factionID, crimeID int64) ([]domain.CrimeEvent, error) {
	return r.events(ctx, `
		SELECT id, faction_id, crime_id, event_type, COALESCE(player_id, 0),
		       COALESCE(old_status, ''), COALESCE(new_status, ''),
		       COALESCE(old_participants, '[]'), COALESCE(new_participants, '[]'),
		       COALESCE(reward_money, 0), COALESCE(reward_respect, 0),
		       COALESCE(reward_other, ''), COALESCE(data_source, ''), event_timestamp
		FROM organized_crime_history
		WHERE faction_id = ? AND crime_id = ?
		ORDER BY event_timestamp ASC`, factionID, crimeID)
}

func (r *CrimeRepository) RecentEvents(ctx context.Context, factionID int64, limit int64) ([]domain.CrimeEvent, error) {
	return r.events(ctx, `
		SELECT id, faction_id, crime_id, event_type, COALESCE(player_id, 0),
		       COALESCE(old_status, ''), COALESCE(new_status, ''),
		       COALESCE(old_participants, '[]'), COALESCE(new_participants, '[]'),
		       COALESCE(reward_money, 0), COALESCE(reward_respect, 0),
		       COALESCE(reward_other, ''), COALESCE(data_source, ''), event_timestamp
		FROM organized_crime_history
		WHERE faction_id = ?
		ORDER BY event_timestamp DESC
		LIMIT ?`, factionID, limit)
}

func (r *CrimeRepository) events(ctx context.Context, query string, args ...any) ([]domain.CrimeEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query crime events: %w", err)
	}
	defer rows.Close()

	var out []domain.CrimeEvent
	for rows.Next() {
		var e domain.CrimeEvent
		var oldP, newP string
		var oldStatus, newStatus string
		if err := rows.Scan(&e.ID, &e.FactionID, &e.CrimeID, &e.Type, &e.PlayerID,
			&oldStatus, &newStatus, &oldP, &newP, &e.RewardMoney,
			&e.RewardRespect, &e.RewardOther, &e.DataSource, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan crime event: %w", err)
		}
		e.OldStatus = domain.CrimeStatus(oldStatus)
		e.NewStatus = domain.CrimeStatus(newStatus)
		e.OldParticipants = decodeIDs(oldP)
		e.NewParticipants = decodeIDs(newP)
		out = append(out, e)
	}
	return out, rows.Err()
}

// PruneHistory deletes events strictly older than cutoff.
func (r *CrimeRepository) PruneHistory(ctx context.Context, cutoff int64) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM organized_crime_history WHERE event_timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune crime history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune crime history rows affected: %w", err)
	}
	if n > 0 {
		metrics.HistoryPruned.WithLabelValues("organized_crime_history").Add(float64(n))
		r.logger.Info().Int64("rows", n).Int64("cutoff", cutoff).Msg("pruned crime history")
	}
	return n, nil
}
