package service

import (
	"context"
	"fmt"

	"torntracker/internal/api"
	"torntracker/internal/keys"

	"github.com/rs/zerolog"
)

// Refresher handles user-triggered single-entity refreshes. It reuses
// the same gateway and reconciler path the orchestrator writes through.
type Refresher struct {
	gateway    Gateway
	registry   *keys.Manager
	reconciler *Reconciler
	logger     zerolog.Logger
}

func NewRefresher(gateway Gateway, registry *keys.Manager, reconciler *Reconciler, logger zerolog.Logger) *Refresher {
	return &Refresher{gateway: gateway, registry: registry, reconciler: reconciler, logger: logger}
}

// RefreshUser fetches one player via a requester-scoped credential,
// upserts current state and appends one stats observation. userID 0
// refreshes the credential owner.
func (s *Refresher) RefreshUser(ctx context.Context, requester string, userID int64) (*api.UserResponse, error) {
	alias := s.registry.Select("user", requester)
	if alias == "" {
		return nil, fmt.Errorf("no credential with user scope available")
	}
	secret := s.registry.Secret(alias)

	snapshot, err := s.gateway.User(ctx, secret, userID, "profile", "battlestats", "personalstats", "networth")
	if err != nil {
		return nil, fmt.Errorf("fetch user %d: %w", userID, err)
	}
	if err := s.reconciler.RecordPlayer(ctx, snapshot, keys.Mask(secret)); err != nil {
		return nil, err
	}

	s.logger.Info().Int64("player_id", snapshot.PlayerID).Str("alias", alias).Msg("player refreshed")
	return snapshot, nil
}

// RefreshFaction fetches one faction and records an observation.
// factionID 0 refreshes the credential owner's faction.
func (s *Refresher) RefreshFaction(ctx context.Context, requester string, factionID int64) (*api.FactionResponse, error) {
	alias := s.registry.Select("faction", requester)
	if alias == "" {
		return nil, fmt.Errorf("no credential with faction scope available")
	}
	secret := s.registry.Secret(alias)

	snapshot, err := s.gateway.Faction(ctx, secret, factionID, "basic")
	if err != nil {
		return nil, fmt.Errorf("fetch faction %d: %w", factionID, err)
	}
	if err := s.reconciler.RecordFaction(ctx, snapshot, keys.Mask(secret)); err != nil {
		return nil, err
	}

	s.logger.Info().Int64("faction_id", snapshot.ID).Str("alias", alias).Msg("faction refreshed")
	return snapshot, nil
}
