package service

import (
	"context"
	"strings"
	"time"

	"torntracker/internal/api"
	"torntracker/internal/constants"
	"torntracker/internal/domain"
	"torntracker/internal/repository"

	"github.com/rs/zerolog"
)

// Reconciler diffs fresh snapshots against stored state, applies
// idempotent upserts and appends one history event per detected change.
type Reconciler struct {
	players  *repository.PlayerRepository
	factions *repository.FactionRepository
	history  *repository.HistoryRepository
	crimes   *repository.CrimeRepository
	logger   zerolog.Logger
	now      func() time.Time
}

func NewReconciler(
	players *repository.PlayerRepository,
	factions *repository.FactionRepository,
	history *repository.HistoryRepository,
	crimes *repository.CrimeRepository,
	logger zerolog.Logger,
) *Reconciler {
	return &Reconciler{
		players:  players,
		factions: factions,
		history:  history,
		crimes:   crimes,
		logger:   logger,
		now:      time.Now,
	}
}

// MapCrimeStatus folds the upstream status vocabulary into the internal
// enum. A populated readiness timestamp forces "ready" for any
// non-terminal upstream string.
func MapCrimeStatus(raw string, readyAt int64) domain.CrimeStatus {
	switch strings.ToLower(raw) {
	case "successful", "completed":
		return domain.CrimeCompleted
	case "failure", "failed":
		return domain.CrimeFailed
	case "expired", "cancelled", "canceled":
		return domain.CrimeCancelled
	default:
		// available, recruiting, planning, ready
		if readyAt > 0 || strings.EqualFold(raw, "ready") {
			return domain.CrimeReady
		}
		return domain.CrimePlanning
	}
}

// BatchResult accumulates the outcome of reconciling one fetched batch.
type BatchResult struct {
	Changed int
	Events  []domain.CrimeEvent
	Skipped int
}

// ReconcileCrimeBatch diffs a full pagination result against the stored
// current state for one faction. The prior state is loaded once and the
// post-state of each record written back, so a crime duplicated across
// pages (offset pagination shifts when activity occurs mid-walk) is
// diffed against its already-reconciled state, not the stale one.
func (r *Reconciler) ReconcileCrimeBatch(ctx context.Context, factionID int64, crimes []api.FactionCrime, dataSource string) (*BatchResult, error) {
	current, err := r.crimes.ListCurrent(ctx, factionID)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{}
	for i := range crimes {
		crime := &crimes[i]
		if crime.ID == 0 {
			result.Skipped++
			r.logger.Warn().Int64("faction_id", factionID).Msg("skipping crime record without id")
			continue
		}
		next, events, changed, err := r.reconcileCrime(ctx, factionID, current[crime.ID], crime, dataSource)
		if err != nil {
			return nil, err
		}
		if next != nil {
			current[crime.ID] = next
		} else {
			delete(current, crime.ID)
		}
		if changed {
			result.Changed++
		}
		result.Events = append(result.Events, events...)
	}
	return result, nil
}

func buildInstance(factionID int64, crime *api.FactionCrime, status domain.CrimeStatus, dataSource string) *domain.CrimeInstance {
	var participants []int64
	for _, slot := range crime.Slots {
		if id, ok := slot.ParticipantID(); ok {
			participants = append(participants, id)
		}
	}

	inst := &domain.CrimeInstance{
		FactionID:            factionID,
		CrimeID:              crime.ID,
		Name:                 crime.Name,
		Participants:         participants,
		ParticipantCount:     int64(len(participants)),
		RequiredParticipants: int64(len(crime.Slots)),
		TimeStarted:          crime.CreatedAt,
		TimeCompleted:        crime.ExecutedAt,
		Status:               status,
		DataSource:           dataSource,
	}
	if crime.Rewards != nil {
		inst.RewardMoney = crime.Rewards.Money
		inst.RewardRespect = crime.Rewards.Respect
		inst.RewardOther = string(crime.Rewards.Items)
	}
	return inst
}

func terminalEventType(status domain.CrimeStatus) domain.CrimeEventType {
	switch status {
	case domain.CrimeCompleted:
		return domain.EventCompleted
	case domain.CrimeFailed:
		return domain.EventFailed
	default:
		return domain.EventCancelled
	}
}

// reconcileCrime returns the post-reconcile current state (nil once the
// crime is terminal and its row removed) alongside the appended events.
func (r *Reconciler) reconcileCrime(ctx context.Context, factionID int64, prev *domain.CrimeInstance, crime *api.FactionCrime, dataSource string) (*domain.CrimeInstance, []domain.CrimeEvent, bool, error) {
	status := MapCrimeStatus(crime.Status, crime.ReadyAt)
	inst := buildInstance(factionID, crime, status, dataSource)
	ts := r.now().Unix()
	inst.LastUpdated = ts

	if prev == nil {
		return r.reconcileNew(ctx, inst, ts)
	}

	var events []domain.CrimeEvent

	if status.Terminal() {
		events = append(events, domain.CrimeEvent{
			FactionID:       factionID,
			CrimeID:         inst.CrimeID,
			Type:            terminalEventType(status),
			OldStatus:       prev.Status,
			NewStatus:       status,
			OldParticipants: prev.Participants,
			NewParticipants: inst.Participants,
			RewardMoney:     inst.RewardMoney,
			RewardRespect:   inst.RewardRespect,
			RewardOther:     inst.RewardOther,
			DataSource:      dataSource,
			Timestamp:       ts,
		})
	} else if prev.Status != status {
		events = append(events, domain.CrimeEvent{
			FactionID:  factionID,
			CrimeID:    inst.CrimeID,
			Type:       domain.EventStatusChanged,
			OldStatus:  prev.Status,
			NewStatus:  status,
			DataSource: dataSource,
			Timestamp:  ts,
		})
	}

	events = append(events, r.participantDiff(prev, inst, ts)...)

	for i := range events {
		if err := r.crimes.AppendEvent(ctx, &events[i]); err != nil {
			return nil, nil, false, err
		}
	}

	if status.Terminal() {
		if err := r.crimes.RecordOutcome(ctx, inst); err != nil {
			return nil, nil, false, err
		}
		if err := r.crimes.Delete(ctx, factionID, inst.CrimeID); err != nil {
			return nil, nil, false, err
		}
		return nil, events, true, nil
	}

	changed := len(events) > 0
	stale := ts-prev.LastUpdated >= int64(constants.CrimeHeartbeat.Seconds())
	if changed || stale {
		if err := r.crimes.Upsert(ctx, inst); err != nil {
			return nil, nil, false, err
		}
		return inst, events, changed, nil
	}
	return prev, events, changed, nil
}

func (r *Reconciler) reconcileNew(ctx context.Context, inst *domain.CrimeInstance, ts int64) (*domain.CrimeInstance, []domain.CrimeEvent, bool, error) {
	inst.LastUpdated = ts
	if inst.Status.Terminal() {
		// Backfill of an already finished crime. Record it once; a
		// later pass over the same feed window adds nothing.
		seen, err := r.crimes.HasEvents(ctx, inst.FactionID, inst.CrimeID)
		if err != nil {
			return nil, nil, false, err
		}
		if seen {
			return nil, nil, false, nil
		}
	}

	events := []domain.CrimeEvent{{
		FactionID:       inst.FactionID,
		CrimeID:         inst.CrimeID,
		Type:            domain.EventCreated,
		NewStatus:       inst.Status,
		NewParticipants: inst.Participants,
		DataSource:      inst.DataSource,
		Timestamp:       ts,
	}}

	if inst.Status.Terminal() {
		events = append(events, domain.CrimeEvent{
			FactionID:       inst.FactionID,
			CrimeID:         inst.CrimeID,
			Type:            terminalEventType(inst.Status),
			NewStatus:       inst.Status,
			NewParticipants: inst.Participants,
			RewardMoney:     inst.RewardMoney,
			RewardRespect:   inst.RewardRespect,
			RewardOther:     inst.RewardOther,
			DataSource:      inst.DataSource,
			Timestamp:       ts,
		})
	}

	for i := range events {
		if err := r.crimes.AppendEvent(ctx, &events[i]); err != nil {
			return nil, nil, false, err
		}
	}

	if inst.Status.Terminal() {
		if err := r.crimes.RecordOutcome(ctx, inst); err != nil {
			return nil, nil, false, err
		}
		return nil, events, true, nil
	}
	if err := r.crimes.Upsert(ctx, inst); err != nil {
		return nil, nil, false, err
	}
	return inst, events, true, nil
}

// participantDiff compares membership as sets; reordering with no
// membership change produces no events.
func (r *Reconciler) participantDiff(prev, next *domain.CrimeInstance, ts int64) []domain.CrimeEvent {
	old := make(map[int64]bool, len(prev.Participants))
	for _, id := range prev.Participants {
		old[id] = true
	}
	fresh := make(map[int64]bool, len(next.Participants))
	for _, id := range next.Participants {
		fresh[id] = true
	}

	var events []domain.CrimeEvent
	for _, id := range next.Participants {
		if !old[id] {
			events = append(events, domain.CrimeEvent{
				FactionID:       next.FactionID,
				CrimeID:         next.CrimeID,
				Type:            domain.EventParticipantJoined,
				PlayerID:        id,
				OldParticipants: prev.Participants,
				NewParticipants: next.Participants,
				DataSource:      next.DataSource,
				Timestamp:       ts,
			})
		}
	}
	for _, id := range prev.Participants {
		if !fresh[id] {
			events = append(events, domain.CrimeEvent{
				FactionID:       next.FactionID,
				CrimeID:         next.CrimeID,
				Type:            domain.EventParticipantLeft,
				PlayerID:        id,
				OldParticipants: prev.Participants,
				NewParticipants: next.Participants,
				DataSource:      next.DataSource,
				Timestamp:       ts,
			})
		}
	}
	return events
}

// RecordPlayer upserts a player snapshot and unconditionally appends one
// stats observation tagged with the masked credential.
func (r *Reconciler) RecordPlayer(ctx context.Context, snapshot *api.UserResponse, dataSource string) error {
	player := &domain.Player{
		ID:                snapshot.PlayerID,
		Name:              snapshot.Name,
		Level:             snapshot.Level,
		Rank:              snapshot.Rank,
		FactionID:         snapshot.Faction.FactionID,
		StatusState:       snapshot.Status.State,
		StatusDescription: snapshot.Status.Description,
		LifeCurrent:       snapshot.Life.Current,
		LifeMaximum:       snapshot.Life.Maximum,
	}
	if err := r.players.Upsert(ctx, player); err != nil {
		return err
	}

	return r.history.AppendPlayerStats(ctx, &domain.PlayerStats{
		PlayerID:    snapshot.PlayerID,
		Timestamp:   r.now().Unix(),
		Strength:    snapshot.Strength,
		Defense:     snapshot.Defense,
		Speed:       snapshot.Speed,
		Dexterity:   snapshot.Dexterity,
		TotalStats:  snapshot.Total,
		Level:       snapshot.Level,
		LifeMaximum: snapshot.Life.Maximum,
		Networth:    snapshot.Networth.Total,
		DataSource:  dataSource,
	})
}

// RecordFaction upserts a faction snapshot and appends one observation.
func (r *Reconciler) RecordFaction(ctx context.Context, snapshot *api.FactionResponse, dataSource string) error {
	faction := &domain.Faction{
		ID:          snapshot.ID,
		Name:        snapshot.Name,
		Tag:         snapshot.Tag,
		LeaderID:    snapshot.Leader,
		CoLeaderID:  snapshot.CoLeader,
		Respect:     snapshot.Respect,
		Age:         snapshot.Age,
		BestChain:   snapshot.BestChain,
		MemberCount: int64(len(snapshot.Members)),
	}
	if err := r.factions.Upsert(ctx, faction); err != nil {
		return err
	}

	return r.history.AppendFactionObservation(ctx, &domain.FactionObservation{
		FactionID:   snapshot.ID,
		Timestamp:   r.now().Unix(),
		Respect:     snapshot.Respect,
		MemberCount: int64(len(snapshot.Members)),
		BestChain:   snapshot.BestChain,
		DataSource:  dataSource,
	})
}
