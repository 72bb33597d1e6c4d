package command

import (
	"context"
	"fmt"
	"time"

	"torntracker/internal/config"
	"torntracker/internal/domain"
	"torntracker/internal/keys"
	"torntracker/internal/repository"
	"torntracker/internal/service"

	"github.com/rs/zerolog"
)

// Handlers bundles every command the external dispatch layer can
// invoke. Construction wires them into a ready Registry.
type Handlers struct {
	orchestrator *service.Orchestrator
	aggregator   *service.Aggregator
	refresher    *service.Refresher
	competitions *service.CompetitionService
	registry     *keys.Manager
	configs      *repository.ConfigRepository
	crimes       *repository.CrimeRepository
	health       *repository.HealthRepository
	cfg          *config.Config
	logger       zerolog.Logger
}

func NewHandlers(
	orchestrator *service.Orchestrator,
	aggregator *service.Aggregator,
	refresher *service.Refresher,
	competitions *service.CompetitionService,
	registry *keys.Manager,
	configs *repository.ConfigRepository,
	crimes *repository.CrimeRepository,
	health *repository.HealthRepository,
	cfg *config.Config,
	logger zerolog.Logger,
) *Handlers {
	return &Handlers{
		orchestrator: orchestrator,
		aggregator:   aggregator,
		refresher:    refresher,
		competitions: competitions,
		registry:     registry,
		configs:      configs,
		crimes:       crimes,
		health:       health,
		cfg:          cfg,
		logger:       logger,
	}
}

// NewCommandRegistry builds the registry with every handler registered.
func NewCommandRegistry(h *Handlers, logger zerolog.Logger) *Registry {
	r := NewRegistry(logger)
	r.Register(
		NewHandler("sync-crimes", h.syncCrimes),
		NewHandler("summarize", h.summarize),
		NewHandler("prune", h.prune),
		NewHandler("key-add", h.keyAdd),
		NewHandler("key-remove", h.keyRemove),
		NewHandler("key-list", h.keyList),
		NewHandler("key-validate", h.keyValidate),
		NewHandler("competition-create", h.competitionCreate),
		NewHandler("competition-cancel", h.competitionCancel),
		NewHandler("competition-status", h.competitionStatus),
		NewHandler("competition-team-status", h.competitionTeamStatus),
		NewHandler("competition-update-stats", h.competitionUpdateStats),
		NewHandler("crime-list", h.crimeList),
		NewHandler("track-faction", h.trackFaction),
		NewHandler("untrack-faction", h.untrackFaction),
		NewHandler("refresh-user", h.refreshUser),
		NewHandler("refresh-faction", h.refreshFaction),
		NewHandler("health", h.healthReport),
	)
	return r
}

type emptyArgs struct{}

func (h *Handlers) syncCrimes(ctx context.Context, _ emptyArgs) (any, error) {
	results, err := h.orchestrator.RunPass(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{"factions": results}, nil
}

type summarizeArgs struct {
	Year  int  `json:"year"`
	Month int  `json:"month"`
	Force bool `json:"force"`
}

func (h *Handlers) summarize(ctx context.Context, args summarizeArgs) (any, error) {
	year, month := args.Year, time.Month(args.Month)
	if args.Year == 0 || args.Month == 0 {
		year, month = h.aggregator.PreviousMonth()
	}
	if month < time.January || month > time.December {
		return nil, &UserError{Message: fmt.Sprintf("invalid month %d", args.Month)}
	}
	players, factions, err := h.aggregator.SummarizeMonth(ctx, year, month, args.Force)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"period":            fmt.Sprintf("%d-%02d", year, month),
		"player_summaries":  players,
		"faction_summaries": factions,
	}, nil
}

type pruneArgs struct {
	OlderThanDays int64 `json:"older_than_days"`
}

func (h *Handlers) prune(ctx context.Context, args pruneArgs) (any, error) {
	days := args.OlderThanDays
	if days == 0 {
		days = int64(h.cfg.PruneAfterDays)
	}
	if days < 1 {
		return nil, &UserError{Message: "older_than_days must be at least 1"}
	}
	result, err := h.aggregator.Prune(ctx, days)
	if err != nil {
		return nil, err
	}
	return map[string]any{"deleted": result}, nil
}

type keyAddArgs struct {
	Alias   string `json:"alias"`
	EnvVar  string `json:"env_var"`
	Owner   string `json:"owner"`
	KeyType string `json:"key_type"`
}

func (h *Handlers) keyAdd(_ context.Context, args keyAddArgs) (any, error) {
	if args.Alias == "" || args.EnvVar == "" || args.Owner == "" {
		return nil, &UserError{Message: "alias, env_var and owner are required"}
	}
	if _, err := h.registry.Add(args.Alias, args.EnvVar, args.Owner, args.KeyType); err != nil {
		return nil, &UserError{Message: err.Error()}
	}
	return map[string]any{"alias": args.Alias, "registered": true}, nil
}

type keyAliasArgs struct {
	Alias string `json:"alias"`
}

func (h *Handlers) keyRemove(_ context.Context, args keyAliasArgs) (any, error) {
	if err := h.registry.Remove(args.Alias); err != nil {
		return nil, &UserError{Message: err.Error()}
	}
	return map[string]any{"alias": args.Alias, "removed": true}, nil
}

type keyListArgs struct {
	Owner string `json:"owner"`
}

func (h *Handlers) keyList(_ context.Context, args keyListArgs) (any, error) {
	if args.Owner == "" {
		return nil, &UserError{Message: "owner is required"}
	}
	return map[string]any{"keys": h.registry.ListForOwner(args.Owner)}, nil
}

func (h *Handlers) keyValidate(ctx context.Context, args keyAliasArgs) (any, error) {
	result, err := h.registry.Validate(ctx, args.Alias)
	if err != nil {
		return nil, &UserError{Message: err.Error()}
	}
	return result, nil
}

type competitionCreateArgs struct {
	Name      string             `json:"name"`
	Stat      string             `json:"stat"`
	StartDate int64              `json:"start_date"`
	EndDate   int64              `json:"end_date"`
	CreatedBy string             `json:"created_by"`
	Teams     []service.TeamSpec `json:"teams"`
}

func (h *Handlers) competitionCreate(ctx context.Context, args competitionCreateArgs) (any, error) {
	c := &domain.Competition{
		Name:        args.Name,
		TrackedStat: args.Stat,
		StartDate:   args.StartDate,
		EndDate:     args.EndDate,
		CreatedBy:   args.CreatedBy,
	}
	id, err := h.competitions.Create(ctx, c, args.Teams)
	if err != nil {
		return nil, err
	}
	return map[string]any{"competition_id": id}, nil
}

type competitionIDArgs struct {
	CompetitionID int64 `json:"competition_id"`
}

func (h *Handlers) competitionCancel(ctx context.Context, args competitionIDArgs) (any, error) {
	if err := h.competitions.Cancel(ctx, args.CompetitionID); err != nil {
		return nil, err
	}
	return map[string]any{"competition_id": args.CompetitionID, "cancelled": true}, nil
}

func (h *Handlers) competitionStatus(ctx context.Context, args competitionIDArgs) (any, error) {
	competition, rankings, err := h.aggregator.Rankings(ctx, args.CompetitionID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"competition": competition, "rankings": rankings}, nil
}

func (h *Handlers) competitionTeamStatus(ctx context.Context, args competitionIDArgs) (any, error) {
	competition, standings, err := h.aggregator.TeamStandings(ctx, args.CompetitionID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"competition": competition, "teams": standings}, nil
}

type competitionUpdateArgs struct {
	CompetitionID int64  `json:"competition_id"`
	FactionID     int64  `json:"faction_id"`
	Requester     string `json:"requester"`
}

func (h *Handlers) competitionUpdateStats(ctx context.Context, args competitionUpdateArgs) (any, error) {
	updated, err := h.competitions.UpdateStats(ctx, args.CompetitionID, args.FactionID, args.Requester)
	if err != nil {
		return nil, err
	}
	return map[string]any{"updated": updated}, nil
}

type crimeListArgs struct {
	FactionID int64 `json:"faction_id"`
}

func (h *Handlers) crimeList(ctx context.Context, args crimeListArgs) (any, error) {
	crimes, err := h.crimes.ListCurrent(ctx, args.FactionID)
	if err != nil {
		return nil, err
	}
	stats, err := h.crimes.ParticipantStats(ctx, args.FactionID)
	if err != nil {
		return nil, err
	}
	list := make([]*domain.CrimeInstance, 0, len(crimes))
	for _, c := range crimes {
		list = append(list, c)
	}
	return map[string]any{"crimes": list, "participant_stats": stats}, nil
}

type trackFactionArgs struct {
	FactionID             int64    `json:"faction_id"`
	GuildID               string   `json:"guild_id"`
	NotificationChannelID string   `json:"notification_channel_id"`
	MissingItemChannelID  string   `json:"missing_item_channel_id"`
	FactionLeadDiscordIDs []string `json:"faction_lead_discord_ids"`
	LeaverThreshold       int64    `json:"leaver_threshold"`
	WindowDays            int64    `json:"window_days"`
}

func (h *Handlers) trackFaction(ctx context.Context, args trackFactionArgs) (any, error) {
	if args.FactionID == 0 || args.GuildID == "" {
		return nil, &UserError{Message: "faction_id and guild_id are required"}
	}
	cfg := &domain.CrimeTrackingConfig{
		FactionID:               args.FactionID,
		GuildID:                 args.GuildID,
		NotificationChannelID:   args.NotificationChannelID,
		MissingItemChannelID:    args.MissingItemChannelID,
		FactionLeadDiscordIDs:   args.FactionLeadDiscordIDs,
		FrequentLeaverThreshold: args.LeaverThreshold,
		TrackingWindowDays:      args.WindowDays,
	}
	if err := h.configs.Upsert(ctx, cfg); err != nil {
		return nil, err
	}
	return map[string]any{"faction_id": args.FactionID, "tracked": true}, nil
}

type untrackFactionArgs struct {
	FactionID int64  `json:"faction_id"`
	GuildID   string `json:"guild_id"`
}

func (h *Handlers) untrackFaction(ctx context.Context, args untrackFactionArgs) (any, error) {
	if err := h.configs.Delete(ctx, args.FactionID, args.GuildID); err != nil {
		return nil, err
	}
	return map[string]any{"faction_id": args.FactionID, "tracked": false}, nil
}

type refreshUserArgs struct {
	UserID    int64  `json:"user_id"`
	Requester string `json:"requester"`
}

func (h *Handlers) refreshUser(ctx context.Context, args refreshUserArgs) (any, error) {
	snapshot, err := h.refresher.RefreshUser(ctx, args.Requester, args.UserID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"player_id": snapshot.PlayerID,
		"name":      snapshot.Name,
		"level":     snapshot.Level,
	}, nil
}

type refreshFactionArgs struct {
	FactionID int64  `json:"faction_id"`
	Requester string `json:"requester"`
}

func (h *Handlers) refreshFaction(ctx context.Context, args refreshFactionArgs) (any, error) {
	snapshot, err := h.refresher.RefreshFaction(ctx, args.Requester, args.FactionID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"faction_id": snapshot.ID,
		"name":       snapshot.Name,
		"members":    len(snapshot.Members),
	}, nil
}

func (h *Handlers) healthReport(ctx context.Context, _ emptyArgs) (any, error) {
	cutoff := time.Now().Add(-time.Duration(h.cfg.PruneAfterDays) * 24 * time.Hour).Unix()
	return h.health.Report(ctx, cutoff)
}
