package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"torntracker/internal/domain"

	"github.com/rs/zerolog"
)

type FactionRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewFactionRepository(db *sql.DB, logger zerolog.Logger) *FactionRepository {
	return &FactionRepository{db: db, logger: logger}
}

func (r *FactionRepository) Upsert(ctx context.Context, f *domain.Faction) error {
	now := time.Now().Unix()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO factions (
			faction_id, name, tag, leader_id, co_leader_id, respect, age,
			best_chain, member_count, created_at, last_updated
		) VALUES (?, ?, NULLIF(?, ''), NULLIF(?, 0), NULLIF(?, 0), NULLIF(?, 0), NULLIF(?, 0), NULLIF(?, 0), NULLIF(?, 0), ?, ?)
		ON CONFLICT(faction_id) DO UPDATE SET
			name = excluded.name,
			tag = COALESCE(excluded.tag, factions.tag),
			leader_id = COALESCE(excluded.leader_id, factions.leader_id),
			co_leader_id = COALESCE(excluded.co_leader_id, factions.co_leader_id),
			respect = COALESCE(excluded.respect, factions.respect),
			age = COALESCE(excluded.age, factions.age),
			best_chain = COALESCE(excluded.best_chain, factions.best_chain),
			member_count = COALESCE(excluded.member_count, factions.member_count),
			last_updated = excluded.last_updated`,
		f.ID, f.Name, f.Tag, f.LeaderID, f.CoLeaderID, f.Respect, f.Age,
		f.BestChain, f.MemberCount, now, now)
	if err != nil {
		return fmt.Errorf("upsert faction %d: %w", f.ID, err)
	}
	return nil
}

func (r *FactionRepository) Get(ctx context.Context, id int64) (*domain.Faction, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT faction_id, name, COALESCE(tag, ''), COALESCE(leader_id, 0),
		       COALESCE(co_leader_id, 0), COALESCE(respect, 0), COALESCE(age, 0),
		       COALESCE(best_chain, 0), COALESCE(member_count, 0),
		       created_at, last_updated
		FROM factions WHERE faction_id = ?`, id)

	var f domain.Faction
	err := row.Scan(&f.ID, &f.Name, &f.Tag, &f.LeaderID, &f.CoLeaderID,
		&f.Respect, &f.Age, &f.BestChain, &f.MemberCount, &f.CreatedAt, &f.LastUpdated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get faction %d: %w", id, err)
	}
	return &f, nil
}
