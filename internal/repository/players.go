package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"torntracker/internal/domain"

	"github.com/rs/zerolog"
)

type PlayerRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewPlayerRepository(db *sql.DB, logger zerolog.Logger) *PlayerRepository {
	return &PlayerRepository{db: db, logger: logger}
}

// Upsert inserts or updates the current-state row. Zero-valued optional
// attributes keep their stored value, so a partial snapshot never wipes
// data a richer credential fetched earlier.
func (r *PlayerRepository) Upsert(ctx context.Context, p *domain.Player) error {
	now := time.Now().Unix()

	if p.FactionID != 0 {
		// Minimal faction row to satisfy the FK; replaced when the
		// faction itself is fetched.
		_, err := r.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO factions (faction_id, name, created_at, last_updated)
			VALUES (?, ?, ?, ?)`,
			p.FactionID, fmt.Sprintf("Faction %d", p.FactionID), now, now)
		if err != nil {
			return fmt.Errorf("ensure faction %d: %w", p.FactionID, err)
		}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO players (
			player_id, name, level, rank, faction_id, status_state,
			status_description, life_current, life_maximum, created_at, last_updated
		) VALUES (?, ?, NULLIF(?, 0), NULLIF(?, ''), NULLIF(?, 0), NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, 0), NULLIF(?, 0), ?, ?)
		ON CONFLICT(player_id) DO UPDATE SET
			name = excluded.name,
			level = COALESCE(excluded.level, players.level),
			rank = COALESCE(excluded.rank, players.rank),
			faction_id = COALESCE(excluded.faction_id, players.faction_id),
			status_state = COALESCE(excluded.status_state, players.status_state),
			status_description = COALESCE(excluded.status_description, players.status_description),
			life_current = COALESCE(excluded.life_current, players.life_current),
			life_maximum = COALESCE(excluded.life_maximum, players.life_maximum),
			last_updated = excluded.last_updated`,
		p.ID, p.Name, p.Level, p.Rank, p.FactionID, p.StatusState,
		p.StatusDescription, p.LifeCurrent, p.LifeMaximum, now, now)
	if err != nil {
		return fmt.Errorf("upsert player %d: %w", p.ID, err)
	}
	return nil
}

func (r *PlayerRepository) Get(ctx context.Context, id int64) (*domain.Player, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT player_id, name, COALESCE(level, 0), COALESCE(rank, ''),
		       COALESCE(faction_id, 0), COALESCE(status_state, ''),
		       COALESCE(status_description, ''), COALESCE(life_current, 0),
		       COALESCE(life_maximum, 0), COALESCE(discord_id, ''),
		       created_at, last_updated
		FROM players WHERE player_id = ?`, id)

	var p domain.Player
	err := row.Scan(&p.ID, &p.Name, &p.Level, &p.Rank, &p.FactionID,
		&p.StatusState, &p.StatusDescription, &p.LifeCurrent, &p.LifeMaximum,
		&p.DiscordID, &p.CreatedAt, &p.LastUpdated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get player %d: %w", id, err)
	}
	return &p, nil
}

func (r *PlayerRepository) DiscordID(ctx context.Context, playerID int64) (string, error) {
	var discordID sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT discord_id FROM players WHERE player_id = ?`, playerID).Scan(&discordID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get discord id for player %d: %w", playerID, err)
	}
	return discordID.String, nil
}

// SetDiscordID caches a resolved messaging identity, creating a stub
// player row when the player has never been fetched directly.
func (r *PlayerRepository) SetDiscordID(ctx context.Context, playerID int64, discordID string) error {
	now := time.Now().Unix()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO players (player_id, name, discord_id, created_at, last_updated)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(player_id) DO UPDATE SET
			discord_id = excluded.discord_id,
			last_updated = excluded.last_updated`,
		playerID, fmt.Sprintf("Player %d", playerID), discordID, now, now)
	if err != nil {
		return fmt.Errorf("set discord id for player %d: %w", playerID, err)
	}
	return nil
}
