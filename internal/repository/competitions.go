package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"torntracker/internal/domain"

	"github.com/rs/zerolog"
)

type CompetitionRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewCompetitionRepository(db *sql.DB, logger zerolog.Logger) *CompetitionRepository {
	return &CompetitionRepository{db: db, logger: logger}
}

func (r *CompetitionRepository) Create(ctx context.Context, c *domain.Competition) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO competitions (name, tracked_stat, start_date, end_date, status, created_at, created_by)
		VALUES (?, ?, ?, ?, ?, ?, NULLIF(?, ''))`,
		c.Name, c.TrackedStat, c.StartDate, c.EndDate, string(domain.CompetitionActive),
		time.Now().Unix(), c.CreatedBy)
	if err != nil {
		return 0, fmt.Errorf("create competition %q: %w", c.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("competition insert id: %w", err)
	}
	c.ID = id
	c.Status = domain.CompetitionActive
	return id, nil
}

func (r *CompetitionRepository) Get(ctx context.Context, id int64) (*domain.Competition, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, tracked_stat, start_date, end_date, status, created_at, COALESCE(created_by, '')
		FROM competitions WHERE id = ?`, id)

	var c domain.Competition
	err := row.Scan(&c.ID, &c.Name, &c.TrackedStat, &c.StartDate, &c.EndDate,
		&c.Status, &c.CreatedAt, &c.CreatedBy)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get competition %d: %w", id, err)
	}
	return &c, nil
}

func (r *CompetitionRepository) ListActive(ctx context.Context) ([]domain.Competition, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, tracked_stat, start_date, end_date, status, created_at, COALESCE(created_by, '')
		FROM competitions WHERE status = ? ORDER BY start_date`, string(domain.CompetitionActive))
	if err != nil {
		return nil, fmt.Errorf("list active competitions: %w", err)
	}
	defer rows.Close()

	var out []domain.Competition
	for rows.Next() {
		var c domain.Competition
		if err := rows.Scan(&c.ID, &c.Name, &c.TrackedStat, &c.StartDate, &c.EndDate,
			&c.Status, &c.CreatedAt, &c.CreatedBy); err != nil {
			return nil, fmt.Errorf("scan competition: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *CompetitionRepository) SetStatus(ctx context.Context, id int64, status domain.CompetitionStatus) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE competitions SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("set competition %d status: %w", id, err)
	}
	return nil
}

func (r *CompetitionRepository) AddTeam(ctx context.Context, t *domain.CompetitionTeam) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO competition_teams (competition_id, name, captain_a, captain_b)
		VALUES (?, ?, NULLIF(?, 0), NULLIF(?, 0))`,
		t.CompetitionID, t.Name, t.CaptainA, t.CaptainB)
	if err != nil {
		return 0, fmt.Errorf("add team %q: %w", t.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("team insert id: %w", err)
	}
	t.ID = id
	return id, nil
}

func (r *CompetitionRepository) AddParticipant(ctx context.Context, p *domain.CompetitionParticipant) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO competition_participants (competition_id, player_id, player_name, team_id, start_value, added_at)
		VALUES (?, ?, NULLIF(?, ''), NULLIF(?, 0), ?, ?)
		ON CONFLICT(competition_id, player_id) DO UPDATE SET
			player_name = COALESCE(excluded.player_name, competition_participants.player_name),
			team_id = COALESCE(excluded.team_id, competition_participants.team_id)`,
		p.CompetitionID, p.PlayerID, p.PlayerName, p.TeamID, p.StartValue, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("add participant %d: %w", p.PlayerID, err)
	}
	return nil
}

func (r *CompetitionRepository) Teams(ctx context.Context, competitionID int64) ([]domain.CompetitionTeam, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, competition_id, name, COALESCE(captain_a, 0), COALESCE(captain_b, 0)
		FROM competition_teams WHERE competition_id = ? ORDER BY id`, competitionID)
	if err != nil {
		return nil, fmt.Errorf("list teams for competition %d: %w", competitionID, err)
	}
	defer rows.Close()

	var out []domain.CompetitionTeam
	for rows.Next() {
		var t domain.CompetitionTeam
		if err := rows.Scan(&t.ID, &t.CompetitionID, &t.Name, &t.CaptainA, &t.CaptainB); err != nil {
			return nil, fmt.Errorf("scan team: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *CompetitionRepository) Participants(ctx context.Context, competitionID int64) ([]domain.CompetitionParticipant, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT competition_id, player_id, COALESCE(player_name, ''), COALESCE(team_id, 0), start_value
		FROM competition_participants WHERE competition_id = ? ORDER BY player_id`, competitionID)
	if err != nil {
		return nil, fmt.Errorf("list participants for competition %d: %w", competitionID, err)
	}
	defer rows.Close()

	var out []domain.CompetitionParticipant
	for rows.Next() {
		var p domain.CompetitionParticipant
		if err := rows.Scan(&p.CompetitionID, &p.PlayerID, &p.PlayerName, &p.TeamID, &p.StartValue); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SetStartValue captures a participant's starting observation once; later
// calls do not overwrite it.
func (r *CompetitionRepository) SetStartValue(ctx context.Context, competitionID, playerID int64, value float64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE competition_participants SET start_value = ?
		WHERE competition_id = ? AND player_id = ? AND start_value IS NULL`,
		value, competitionID, playerID)
	if err != nil {
		return fmt.Errorf("set start value for player %d: %w", playerID, err)
	}
	return nil
}

func (r *CompetitionRepository) AppendStatValue(ctx context.Context, playerID int64, statName string, value float64, dataSource string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO player_stat_values (player_id, stat_name, value, timestamp, data_source)
		VALUES (?, ?, ?, ?, NULLIF(?, ''))`,
		playerID, statName, value, time.Now().Unix(), dataSource)
	if err != nil {
		return fmt.Errorf("append stat value for player %d: %w", playerID, err)
	}
	return nil
}

// LatestStatValue returns the most recent observation; ok is false when
// none has ever been recorded.
func (r *CompetitionRepository) LatestStatValue(ctx context.Context, playerID int64, statName string) (float64, bool, error) {
	var value float64
	err := r.db.QueryRowContext(ctx, `
		SELECT value FROM player_stat_values
		WHERE player_id = ? AND stat_name = ?
		ORDER BY timestamp DESC LIMIT 1`, playerID, statName).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("latest stat value for player %d: %w", playerID, err)
	}
	return value, true, nil
}
