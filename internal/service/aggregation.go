package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"torntracker/internal/domain"
	"torntracker/internal/repository"

	"github.com/rs/zerolog"
)

// Aggregator computes period-bounded rollups over raw history, prunes
// history past the retention horizon and derives competition rankings.
type Aggregator struct {
	history      *repository.HistoryRepository
	summaries    *repository.SummaryRepository
	crimes       *repository.CrimeRepository
	competitions *repository.CompetitionRepository
	logger       zerolog.Logger
	now          func() time.Time
}

func NewAggregator(
	history *repository.HistoryRepository,
	summaries *repository.SummaryRepository,
	crimes *repository.CrimeRepository,
	competitions *repository.CompetitionRepository,
	logger zerolog.Logger,
) *Aggregator {
	return &Aggregator{
		history:      history,
		summaries:    summaries,
		crimes:       crimes,
		competitions: competitions,
		logger:       logger,
		now:          time.Now,
	}
}

// MonthBounds returns [start, end) unix bounds for a calendar month.
func MonthBounds(year int, month time.Month) (int64, int64) {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return start.Unix(), start.AddDate(0, 1, 0).Unix()
}

// PreviousMonth resolves the most recently closed calendar month.
func (a *Aggregator) PreviousMonth() (int, time.Month) {
	prev := a.now().UTC().AddDate(0, -1, 0)
	return prev.Year(), prev.Month()
}

func delta(first, last int64) domain.StatDelta {
	return domain.StatDelta{Start: first, End: last, Change: last - first}
}

// SummarizePlayers rolls up one period for every player with at least
// one observation inside it. Without force, any existing summary for the
// period makes the whole call a no-op.
func (a *Aggregator) SummarizePlayers(ctx context.Context, periodStart, periodEnd int64, force bool) (int, error) {
	playerIDs, err := a.history.PlayersWithStatsBetween(ctx, periodStart, periodEnd)
	if err != nil {
		return 0, err
	}
	if len(playerIDs) == 0 {
		return 0, nil
	}

	var summaries []domain.PlayerStatsSummary
	for _, playerID := range playerIDs {
		records, err := a.history.PlayerStatsBetween(ctx, playerID, periodStart, periodEnd)
		if err != nil {
			return 0, err
		}
		if len(records) == 0 {
			continue
		}
		first, last := records[0], records[len(records)-1]
		summaries = append(summaries, domain.PlayerStatsSummary{
			PlayerID:    playerID,
			PeriodStart: periodStart,
			PeriodEnd:   periodEnd,
			PeriodType:  "monthly",
			Strength:    delta(first.Strength, last.Strength),
			Defense:     delta(first.Defense, last.Defense),
			Speed:       delta(first.Speed, last.Speed),
			Dexterity:   delta(first.Dexterity, last.Dexterity),
			TotalStats:  delta(first.TotalStats, last.TotalStats),
			Level:       delta(first.Level, last.Level),
			LifeMaximum: delta(first.LifeMaximum, last.LifeMaximum),
			Networth:    delta(first.Networth, last.Networth),
			RecordCount: int64(len(records)),
		})
	}

	err = a.summaries.WritePlayerSummaries(ctx, summaries, force)
	if errors.Is(err, repository.ErrSummaryExists) {
		a.logger.Info().Int64("period_start", periodStart).Msg("player summaries already exist, skipping")
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return len(summaries), nil
}

func (a *Aggregator) SummarizeFactions(ctx context.Context, periodStart, periodEnd int64, force bool) (int, error) {
	factionIDs, err := a.history.FactionsWithObservationsBetween(ctx, periodStart, periodEnd)
	if err != nil {
		return 0, err
	}
	if len(factionIDs) == 0 {
		return 0, nil
	}

	var summaries []domain.FactionSummary
	for _, factionID := range factionIDs {
		records, err := a.history.FactionObservationsBetween(ctx, factionID, periodStart, periodEnd)
		if err != nil {
			return 0, err
		}
		if len(records) == 0 {
			continue
		}
		first, last := records[0], records[len(records)-1]
		summaries = append(summaries, domain.FactionSummary{
			FactionID:   factionID,
			PeriodStart: periodStart,
			PeriodEnd:   periodEnd,
			PeriodType:  "monthly",
			Respect:     delta(first.Respect, last.Respect),
			MemberCount: delta(first.MemberCount, last.MemberCount),
			BestChain:   delta(first.BestChain, last.BestChain),
			RecordCount: int64(len(records)),
		})
	}

	err = a.summaries.WriteFactionSummaries(ctx, summaries, force)
	if errors.Is(err, repository.ErrSummaryExists) {
		a.logger.Info().Int64("period_start", periodStart).Msg("faction summaries already exist, skipping")
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return len(summaries), nil
}

// SummarizeMonth runs both rollups for one calendar month.
func (a *Aggregator) SummarizeMonth(ctx context.Context, year int, month time.Month, force bool) (int, int, error) {
	start, end := MonthBounds(year, month)
	players, err := a.SummarizePlayers(ctx, start, end, force)
	if err != nil {
		return 0, 0, fmt.Errorf("summarize players %d-%02d: %w", year, month, err)
	}
	factions, err := a.SummarizeFactions(ctx, start, end, force)
	if err != nil {
		return players, 0, fmt.Errorf("summarize factions %d-%02d: %w", year, month, err)
	}
	return players, factions, nil
}

// PruneResult maps table name to rows deleted.
type PruneResult map[string]int64

// Prune deletes raw history strictly older than the horizon. Summaries
// are never touched; they are the durable record past the horizon.
func (a *Aggregator) Prune(ctx context.Context, olderThanDays int64) (PruneResult, error) {
	cutoff := a.now().Add(-time.Duration(olderThanDays) * 24 * time.Hour).Unix()
	result := PruneResult{}

	n, err := a.history.PrunePlayerStats(ctx, cutoff)
	if err != nil {
		return result, err
	}
	result["player_stats_history"] = n

	n, err = a.history.PruneFactionHistory(ctx, cutoff)
	if err != nil {
		return result, err
	}
	result["faction_history"] = n

	n, err = a.crimes.PruneHistory(ctx, cutoff)
	if err != nil {
		return result, err
	}
	result["organized_crime_history"] = n

	return result, nil
}

// Delta computes a participant's progress. Zero with ok=true means "no
// progress yet" (no recorded start value); ok=false means no current
// observation exists and the row is excluded from ranking.
func (a *Aggregator) Delta(ctx context.Context, competition *domain.Competition, participant *domain.CompetitionParticipant) (float64, bool, error) {
	current, found, err := a.competitions.LatestStatValue(ctx, participant.PlayerID, competition.TrackedStat)
	if err != nil {
		return 0, false, err
	}
	if !found {
		return 0, false, nil
	}
	if participant.StartValue == nil {
		return 0, true, nil
	}
	return current - *participant.StartValue, true, nil
}

// Rankings renders a competition's participants ordered by delta
// descending, excluding those with no obtainable current value.
func (a *Aggregator) Rankings(ctx context.Context, competitionID int64) (*domain.Competition, []domain.Ranking, error) {
	competition, err := a.competitions.Get(ctx, competitionID)
	if err != nil {
		return nil, nil, err
	}
	if competition == nil {
		return nil, nil, fmt.Errorf("competition %d not found", competitionID)
	}

	participants, err := a.competitions.Participants(ctx, competitionID)
	if err != nil {
		return nil, nil, err
	}

	var rankings []domain.Ranking
	for i := range participants {
		p := &participants[i]
		current, found, err := a.competitions.LatestStatValue(ctx, p.PlayerID, competition.TrackedStat)
		if err != nil {
			return nil, nil, err
		}
		row := domain.Ranking{
			PlayerID:   p.PlayerID,
			PlayerName: p.PlayerName,
			TeamID:     p.TeamID,
			Start:      p.StartValue,
		}
		if found {
			row.Current = &current
			d := 0.0
			if p.StartValue != nil {
				d = current - *p.StartValue
			}
			row.Delta = &d
		}
		if row.Delta != nil {
			rankings = append(rankings, row)
		}
	}

	sort.Slice(rankings, func(i, j int) bool {
		return *rankings[i].Delta > *rankings[j].Delta
	})
	return competition, rankings, nil
}

// TeamStandings groups the individual rankings by team and sums the
// deltas. Participants without a team are left out.
func (a *Aggregator) TeamStandings(ctx context.Context, competitionID int64) (*domain.Competition, []domain.TeamStanding, error) {
	competition, rankings, err := a.Rankings(ctx, competitionID)
	if err != nil {
		return nil, nil, err
	}
	teams, err := a.competitions.Teams(ctx, competitionID)
	if err != nil {
		return nil, nil, err
	}
	participants, err := a.competitions.Participants(ctx, competitionID)
	if err != nil {
		return nil, nil, err
	}

	byTeam := map[int64]*domain.TeamStanding{}
	var standings []domain.TeamStanding
	for i := range teams {
		t := &teams[i]
		standings = append(standings, domain.TeamStanding{
			TeamID:   t.ID,
			TeamName: t.Name,
			CaptainA: t.CaptainA,
			CaptainB: t.CaptainB,
		})
	}
	for i := range standings {
		byTeam[standings[i].TeamID] = &standings[i]
	}

	for i := range participants {
		if s, ok := byTeam[participants[i].TeamID]; ok {
			s.Members++
		}
	}
	for i := range rankings {
		s, ok := byTeam[rankings[i].TeamID]
		if !ok {
			continue
		}
		s.Counted++
		s.Total += *rankings[i].Delta
	}

	sort.Slice(standings, func(i, j int) bool {
		return standings[i].Total > standings[j].Total
	})
	return competition, standings, nil
}
