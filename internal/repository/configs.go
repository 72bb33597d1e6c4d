package repository

import (
	"context"
	"database/sql"
	"fmt"

	"torntracker/internal/constants"
	"torntracker/internal/domain"

	"github.com/rs/zerolog"
)

type ConfigRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewConfigRepository(db *sql.DB, logger zerolog.Logger) *ConfigRepository {
	return &ConfigRepository{db: db, logger: logger}
}

func (r *ConfigRepository) Upsert(ctx context.Context, c *domain.CrimeTrackingConfig) error {
	if c.FrequentLeaverThreshold <= 0 {
		c.FrequentLeaverThreshold = constants.DefaultLeaverThreshold
	}
	if c.TrackingWindowDays <= 0 {
		c.TrackingWindowDays = constants.DefaultLeaverWindowDays
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO organized_crime_config (
			faction_id, guild_id, notification_channel_id, missing_item_channel_id,
			faction_lead_discord_ids, frequent_leaver_threshold, tracking_window_days, last_sync
		) VALUES (?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, ?, ?, NULLIF(?, 0))
		ON CONFLICT(faction_id, guild_id) DO UPDATE SET
			notification_channel_id = excluded.notification_channel_id,
			missing_item_channel_id = excluded.missing_item_channel_id,
			faction_lead_discord_ids = excluded.faction_lead_discord_ids,
			frequent_leaver_threshold = excluded.frequent_leaver_threshold,
			tracking_window_days = excluded.tracking_window_days`,
		c.FactionID, c.GuildID, c.NotificationChannelID, c.MissingItemChannelID,
		encodeStrings(c.FactionLeadDiscordIDs), c.FrequentLeaverThreshold,
		c.TrackingWindowDays, c.LastSync)
	if err != nil {
		return fmt.Errorf("upsert tracking config %d/%s: %w", c.FactionID, c.GuildID, err)
	}
	return nil
}

func (r *ConfigRepository) Delete(ctx context.Context, factionID int64, guildID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM organized_crime_config WHERE faction_id = ? AND guild_id = ?`,
		factionID, guildID)
	if err != nil {
		return fmt.Errorf("delete tracking config %d/%s: %w", factionID, guildID, err)
	}
	return nil
}

func (r *ConfigRepository) List(ctx context.Context) ([]domain.CrimeTrackingConfig, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT faction_id, guild_id, COALESCE(notification_channel_id, ''),
		       COALESCE(missing_item_channel_id, ''), faction_lead_discord_ids,
		       frequent_leaver_threshold, tracking_window_days, COALESCE(last_sync, 0)
		FROM organized_crime_config
		ORDER BY faction_id, guild_id`)
	if err != nil {
		return nil, fmt.Errorf("list tracking configs: %w", err)
	}
	defer rows.Close()

	var out []domain.CrimeTrackingConfig
	for rows.Next() {
		var c domain.CrimeTrackingConfig
		var leads string
		if err := rows.Scan(&c.FactionID, &c.GuildID, &c.NotificationChannelID,
			&c.MissingItemChannelID, &leads, &c.FrequentLeaverThreshold,
			&c.TrackingWindowDays, &c.LastSync); err != nil {
			return nil, fmt.Errorf("scan tracking config: %w", err)
		}
		c.FactionLeadDiscordIDs = decodeStrings(leads)
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetLastSync advances a faction's watermark; the orchestrator calls this
// only after a fully successful pass.
func (r *ConfigRepository) SetLastSync(ctx context.Context, factionID int64, guildID string, ts int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE organized_crime_config SET last_sync = ? WHERE faction_id = ? AND guild_id = ?`,
		ts, factionID, guildID)
	if err != nil {
		return fmt.Errorf("set last sync %d/%s: %w", factionID, guildID, err)
	}
	return nil
}
