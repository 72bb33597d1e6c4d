package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"torntracker/internal/domain"

	"github.com/rs/zerolog"
)

// ItemRepository caches Torn item metadata so missing-item reminders can
// name items without refetching the catalog.
type ItemRepository struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewItemRepository(db *sql.DB, logger zerolog.Logger) *ItemRepository {
	return &ItemRepository{db: db, logger: logger}
}

func (r *ItemRepository) Upsert(ctx context.Context, item *domain.Item) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO items (item_id, name, description, item_type, market_value, cached_at)
		VALUES (?, ?, NULLIF(?, ''), NULLIF(?, ''), NULLIF(?, 0), ?)
		ON CONFLICT(item_id) DO UPDATE SET
			name = excluded.name,
			description = COALESCE(excluded.description, items.description),
			item_type = COALESCE(excluded.item_type, items.item_type),
			market_value = COALESCE(excluded.market_value, items.market_value),
			cached_at = excluded.cached_at`,
		item.ID, item.Name, item.Description, item.Type, item.MarketValue, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("upsert item %d: %w", item.ID, err)
	}
	return nil
}

func (r *ItemRepository) Get(ctx context.Context, id int64) (*domain.Item, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT item_id, name, COALESCE(description, ''), COALESCE(item_type, ''), COALESCE(market_value, 0)
		FROM items WHERE item_id = ?`, id)

	var item domain.Item
	err := row.Scan(&item.ID, &item.Name, &item.Description, &item.Type, &item.MarketValue)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item %d: %w", id, err)
	}
	return &item, nil
}
