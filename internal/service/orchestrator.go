package service

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"torntracker/internal/api"
	"torntracker/internal/constants"
	"torntracker/internal/domain"
	"torntracker/internal/keys"
	"torntracker/internal/metrics"
	"torntracker/internal/notify"
	"torntracker/internal/repository"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Gateway is the outbound API surface the services consume. *api.Client
// satisfies it; tests substitute a recording fake.
type Gateway interface {
	User(ctx context.Context, key string, id int64, selections ...string) (*api.UserResponse, error)
	Faction(ctx context.Context, key string, id int64, selections ...string) (*api.FactionResponse, error)
	FactionBasic(ctx context.Context, key string) (*api.FactionBasicResponse, error)
	FactionContributors(ctx context.Context, key string, factionID int64, stat string) (*api.ContributorsResponse, error)
	FactionCrimes(ctx context.Context, key string, offset, from int64) (*api.FactionCrimesResponse, error)
	UserDiscord(ctx context.Context, key string, userID int64) (*api.UserDiscordResponse, error)
	Item(ctx context.Context, key string, itemID int64) (map[string]api.ItemData, error)
}

// CrimeScope is the permission a credential needs for the crimes feed.
const CrimeScope = "faction.crimes"

// Orchestrator drives one sync pass per tracked faction: credential
// selection, pagination, batch reconciliation, reminders and the
// watermark advance.
type Orchestrator struct {
	gateway    Gateway
	registry   *keys.Manager
	reconciler *Reconciler
	configs    *repository.ConfigRepository
	crimes     *repository.CrimeRepository
	players    *repository.PlayerRepository
	items      *repository.ItemRepository
	notifier   notify.Notifier
	logger     zerolog.Logger
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
}

func NewOrchestrator(
	gateway Gateway,
	registry *keys.Manager,
	reconciler *Reconciler,
	configs *repository.ConfigRepository,
	crimes *repository.CrimeRepository,
	players *repository.PlayerRepository,
	items *repository.ItemRepository,
	notifier notify.Notifier,
	logger zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		gateway:    gateway,
		registry:   registry,
		reconciler: reconciler,
		configs:    configs,
		crimes:     crimes,
		players:    players,
		items:      items,
		notifier:   notifier,
		logger:     logger,
		now:        time.Now,
		sleep:      sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// attemptOutcome classifies one pagination attempt so the rotation loop
// is table-driven rather than exception-shaped.
type attemptOutcome int

const (
	attemptOK attemptOutcome = iota
	attemptPermissionDenied
	attemptRateLimited
	attemptFailed
)

// FactionSyncResult is the terminal outcome of one faction's pass.
type FactionSyncResult struct {
	FactionID int64  `json:"faction_id"`
	Synced    bool   `json:"synced"`
	Reason    string `json:"reason,omitempty"`
	Crimes    int    `json:"crimes"`
	Changed   int    `json:"changed"`
	Events    int    `json:"events"`
	Skipped   int    `json:"skipped"`
}

// RunPass processes every tracked faction serially, then sweeps for
// frequent leavers. One faction's failure never aborts the pass.
func (o *Orchestrator) RunPass(ctx context.Context) ([]FactionSyncResult, error) {
	configs, err := o.configs.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load tracking configs: %w", err)
	}
	if len(configs) == 0 {
		return nil, nil
	}

	probe := o.cachedProbe()
	results := make([]FactionSyncResult, 0, len(configs))
	for i := range configs {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		cfg := &configs[i]
		result := o.syncFaction(ctx, cfg, probe)
		if result.Synced {
			metrics.SyncPasses.WithLabelValues("synced").Inc()
		} else {
			metrics.SyncPasses.WithLabelValues("failed").Inc()
		}
		results = append(results, result)
	}

	o.sweepFrequentLeavers(ctx, configs)
	return results, nil
}

// cachedProbe wraps the affiliation lookup so each credential is probed
// at most once per run regardless of how many factions are tracked.
// Uncached probes are paced to keep a large key set off the quota.
func (o *Orchestrator) cachedProbe() keys.AffiliationProbe {
	cache := map[string]int64{}
	probed := false
	return func(ctx context.Context, secret string) (int64, error) {
		if id, ok := cache[secret]; ok {
			return id, nil
		}
		if probed {
			if err := o.sleep(ctx, constants.ProbeDelay); err != nil {
				return 0, err
			}
		}
		probed = true
		resp, err := o.gateway.FactionBasic(ctx, secret)
		if err != nil {
			return 0, err
		}
		cache[secret] = resp.Basic.ID
		return resp.Basic.ID, nil
	}
}

func (o *Orchestrator) syncFaction(ctx context.Context, cfg *domain.CrimeTrackingConfig, probe keys.AffiliationProbe) FactionSyncResult {
	result := FactionSyncResult{FactionID: cfg.FactionID}
	log := o.logger.With().Int64("faction_id", cfg.FactionID).Logger()

	// Captured before the pass so activity during the pass itself is
	// still inside the next pass's window.
	prePass := o.now().Unix()

	aliases := o.registry.SelectAffiliated(ctx, CrimeScope, cfg.FactionID, probe)
	if len(aliases) == 0 {
		result.Reason = "no credential with crimes scope"
		log.Warn().Msg("sync skipped, no usable credential")
		return result
	}

	for _, alias := range aliases {
		crimes, outcome := o.paginate(ctx, alias, cfg.LastSync, log)
		switch outcome {
		case attemptOK:
			batch, err := o.reconciler.ReconcileCrimeBatch(ctx, cfg.FactionID, crimes, keys.Mask(o.registry.Secret(alias)))
			if err != nil {
				result.Reason = fmt.Sprintf("reconcile: %v", err)
				log.Error().Err(err).Msg("reconcile failed")
				return result
			}
			o.notifyMissingItems(ctx, cfg, alias, crimes, log)

			if err := o.configs.SetLastSync(ctx, cfg.FactionID, cfg.GuildID, prePass); err != nil {
				result.Reason = fmt.Sprintf("advance watermark: %v", err)
				log.Error().Err(err).Msg("watermark advance failed")
				return result
			}

			result.Synced = true
			result.Crimes = len(crimes)
			result.Changed = batch.Changed
			result.Events = len(batch.Events)
			result.Skipped = batch.Skipped
			log.Info().
				Int("crimes", result.Crimes).
				Int("events", result.Events).
				Int("skipped", result.Skipped).
				Msg("faction synced")
			return result
		case attemptPermissionDenied:
			log.Warn().Str("alias", alias).Msg("credential lacks access, rotating")
		case attemptRateLimited:
			log.Warn().Str("alias", alias).Msg("credential rate limited, rotating")
		default:
			if ctx.Err() != nil {
				result.Reason = "cancelled"
				return result
			}
			log.Warn().Str("alias", alias).Msg("credential attempt failed, rotating")
		}
	}

	result.Reason = "all credentials exhausted"
	return result
}

// paginate walks the crimes feed for one credential, restarting from
// offset 0 is the caller's job on rotation. On a rate-limit signal it
// waits once and retries the same page with the same credential.
func (o *Orchestrator) paginate(ctx context.Context, alias string, from int64, log zerolog.Logger) ([]api.FactionCrime, attemptOutcome) {
	secret := o.registry.Secret(alias)
	if secret == "" {
		return nil, attemptFailed
	}

	var crimes []api.FactionCrime
	offset := int64(0)
	retried := false

	for {
		resp, err := o.gateway.FactionCrimes(ctx, secret, offset, from)
		if err != nil {
			switch {
			case api.IsRateLimited(err):
				if retried {
					return nil, attemptRateLimited
				}
				retried = true
				log.Info().Str("alias", alias).Dur("backoff", constants.RateLimitBackoff).Msg("rate limited, backing off")
				if o.sleep(ctx, constants.RateLimitBackoff) != nil {
					return nil, attemptFailed
				}
				continue
			case api.IsPermission(err):
				return nil, attemptPermissionDenied
			default:
				log.Warn().Err(err).Str("alias", alias).Msg("crimes fetch failed")
				return nil, attemptFailed
			}
		}

		crimes = append(crimes, resp.Crimes...)

		next := resp.Metadata.Links.Next
		if next == "" {
			return crimes, attemptOK
		}
		offset = nextOffset(next, offset+constants.DefaultPageIncrement)

		if o.sleep(ctx, constants.PageDelay) != nil {
			return nil, attemptFailed
		}
	}
}

// nextOffset pulls the offset parameter out of the next-page link,
// falling back to a fixed increment when the link is opaque.
func nextOffset(next string, fallback int64) int64 {
	u, err := url.Parse(next)
	if err != nil {
		return fallback
	}
	raw := u.Query().Get("offset")
	if raw == "" {
		return fallback
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

// notifyMissingItems emits one reminder per filled slot whose required
// item is absent. Reminders are level-triggered: still-unmet slots are
// renotified on the next pass.
func (o *Orchestrator) notifyMissingItems(ctx context.Context, cfg *domain.CrimeTrackingConfig, alias string, crimes []api.FactionCrime, log zerolog.Logger) {
	if cfg.MissingItemChannelID == "" {
		return
	}
	secret := o.registry.Secret(alias)

	for i := range crimes {
		crime := &crimes[i]
		status := MapCrimeStatus(crime.Status, crime.ReadyAt)
		if status.Terminal() {
			continue
		}
		for _, slot := range crime.Slots {
			if !slot.ItemRequirement.Missing() {
				continue
			}
			playerID, ok := slot.ParticipantID()
			if !ok {
				continue
			}

			itemName := o.resolveItemName(ctx, secret, slot.ItemRequirement.ID, log)
			mention := o.resolveDiscordID(ctx, secret, playerID, log)

			n := notify.Notification{
				Kind:      "missing_item",
				ChannelID: cfg.MissingItemChannelID,
				Message: fmt.Sprintf("%s (%s slot) needs %s for crime %q",
					mentionOrID(mention, playerID), slot.Position, itemName, crime.Name),
			}
			if mention != "" {
				n.Mentions = []string{mention}
			}
			if err := o.notifier.Send(ctx, n); err != nil {
				log.Warn().Err(err).Int64("player_id", playerID).Msg("missing item reminder failed")
			}
		}
	}
}

func mentionOrID(mention string, playerID int64) string {
	if mention != "" {
		return "<@" + mention + ">"
	}
	return fmt.Sprintf("player %d", playerID)
}

// resolveDiscordID reads the cached messaging identity, falling back to
// a remote lookup and caching the result. Empty means unresolvable.
func (o *Orchestrator) resolveDiscordID(ctx context.Context, secret string, playerID int64, log zerolog.Logger) string {
	cached, err := o.players.DiscordID(ctx, playerID)
	if err == nil && cached != "" {
		return cached
	}

	resp, err := o.gateway.UserDiscord(ctx, secret, playerID)
	if err != nil {
		log.Debug().Err(err).Int64("player_id", playerID).Msg("discord lookup failed")
		return ""
	}
	discordID := resp.Discord.DiscordID
	if discordID == "" {
		return ""
	}
	if err := o.players.SetDiscordID(ctx, playerID, discordID); err != nil {
		log.Warn().Err(err).Int64("player_id", playerID).Msg("discord id cache write failed")
	}
	return discordID
}

func (o *Orchestrator) resolveItemName(ctx context.Context, secret string, itemID int64, log zerolog.Logger) string {
	cached, err := o.items.Get(ctx, itemID)
	if err == nil && cached != nil {
		return cached.Name
	}

	fetched, err := o.gateway.Item(ctx, secret, itemID)
	if err != nil {
		log.Debug().Err(err).Int64("item_id", itemID).Msg("item lookup failed")
		return fmt.Sprintf("item %d", itemID)
	}
	for _, data := range fetched {
		item := &domain.Item{
			ID:          itemID,
			Name:        data.Name,
			Description: data.Description,
			Type:        data.Type,
			MarketValue: data.MarketValue,
		}
		if err := o.items.Upsert(ctx, item); err != nil {
			log.Warn().Err(err).Int64("item_id", itemID).Msg("item cache write failed")
		}
		return data.Name
	}
	return fmt.Sprintf("item %d", itemID)
}

// sweepFrequentLeavers notifies faction leads about players over the
// participant-left threshold inside the trailing window. One aggregated
// notification per qualifying player per run.
func (o *Orchestrator) sweepFrequentLeavers(ctx context.Context, configs []domain.CrimeTrackingConfig) {
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(4)

	for i := range configs {
		cfg := &configs[i]
		if cfg.NotificationChannelID == "" {
			continue
		}
		since := o.now().Add(-time.Duration(cfg.TrackingWindowDays) * 24 * time.Hour).Unix()
		leavers, err := o.crimes.FrequentLeavers(ctx, cfg.FactionID, since, cfg.FrequentLeaverThreshold)
		if err != nil {
			o.logger.Error().Err(err).Int64("faction_id", cfg.FactionID).Msg("frequent leaver sweep failed")
			continue
		}
		for _, leaver := range leavers {
			leaver := leaver
			group.Go(func() error {
				n := notify.Notification{
					Kind:      "frequent_leaver",
					ChannelID: cfg.NotificationChannelID,
					Mentions:  cfg.FactionLeadDiscordIDs,
					Message: fmt.Sprintf("player %d left %d organized crimes in the last %d days",
						leaver.PlayerID, leaver.LeaveCount, cfg.TrackingWindowDays),
				}
				if err := o.notifier.Send(groupCtx, n); err != nil {
					o.logger.Warn().Err(err).Int64("player_id", leaver.PlayerID).Msg("leaver notification failed")
				}
				return nil
			})
		}
	}
	_ = group.Wait()
}
