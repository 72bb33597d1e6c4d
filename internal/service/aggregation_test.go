package service

import (
	"context"
	"testing"
	"time"

	"torntracker/internal/domain"
	"torntracker/internal/repository"

	"github.com/rs/zerolog"
)

type aggregatorFixture struct {
	aggregator   *Aggregator
	players      *repository.PlayerRepository
	history      *repository.HistoryRepository
	crimes       *repository.CrimeRepository
	summaries    *repository.SummaryRepository
	competitions *repository.CompetitionRepository
	clock        *fakeClock
}

func newAggregatorFixture(t *testing.T) *aggregatorFixture {
	t.Helper()
	db := setupTestDB(t)
	log := zerolog.Nop()

	players := repository.NewPlayerRepository(db, log)
	history := repository.NewHistoryRepository(db, log)
	summaries := repository.NewSummaryRepository(db, log)
	crimes := repository.NewCrimeRepository(db, log)
	competitions := repository.NewCompetitionRepository(db, log)

	clock := &fakeClock{now: time.Date(2024, time.April, 10, 0, 0, 0, 0, time.UTC)}
	a := NewAggregator(history, summaries, crimes, competitions, log)
	a.now = clock.Now

	return &aggregatorFixture{
		aggregator:   a,
		players:      players,
		history:      history,
		crimes:       crimes,
		summaries:    summaries,
		competitions: competitions,
		clock:        clock,
	}
}

func (f *aggregatorFixture) seedPlayerLevels(t *testing.T, playerID int64, base time.Time, levels ...int64) {
	t.Helper()
	ctx := context.Background()
	if err := f.players.Upsert(ctx, &domain.Player{ID: playerID, Name: "Seed"}); err != nil {
		t.Fatalf("seed player: %v", err)
	}
	for i, level := range levels {
		err := f.history.AppendPlayerStats(ctx, &domain.PlayerStats{
			PlayerID:  playerID,
			Timestamp: base.AddDate(0, 0, i*7).Unix(),
			Level:     level,
		})
		if err != nil {
			t.Fatalf("seed history: %v", err)
		}
	}
}

func TestMonthlySummaryFirstLastDelta(t *testing.T) {
	f := newAggregatorFixture(t)
	ctx := context.Background()

	march := time.Date(2024, time.March, 3, 0, 0, 0, 0, time.UTC)
	f.seedPlayerLevels(t, 1, march, 10, 12, 15)

	start, end := MonthBounds(2024, time.March)
	count, err := f.aggregator.SummarizePlayers(ctx, start, end, false)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one summary, got %d", count)
	}

	got, err := f.summaries.PlayerSummaries(ctx, 1)
	if err != nil {
		t.Fatalf("read summaries: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one row, got %d", len(got))
	}
	s := got[0]
	if s.Level.Start != 10 || s.Level.End != 15 || s.Level.Change != 5 {
		t.Errorf("level delta wrong: %+v", s.Level)
	}
	if s.RecordCount != 3 {
		t.Errorf("expected record_count 3, got %d", s.RecordCount)
	}
}

func TestSummarizeGuardAndForce(t *testing.T) {
	f := newAggregatorFixture(t)
	ctx := context.Background()

	march := time.Date(2024, time.March, 3, 0, 0, 0, 0, time.UTC)
	f.seedPlayerLevels(t, 1, march, 10, 15)
	start, end := MonthBounds(2024, time.March)

	if _, err := f.aggregator.SummarizePlayers(ctx, start, end, false); err != nil {
		t.Fatalf("first summarize: %v", err)
	}

	// Second call without force is a no-op, not an error.
	count, err := f.aggregator.SummarizePlayers(ctx, start, end, false)
	if err != nil {
		t.Fatalf("second summarize: %v", err)
	}
	if count != 0 {
		t.Errorf("expected no-op without force, got %d", count)
	}

	// New observation arrives, force recomputes from current history.
	if err := f.history.AppendPlayerStats(ctx, &domain.PlayerStats{
		PlayerID:  1,
		Timestamp: march.AddDate(0, 0, 20).Unix(),
		Level:     20,
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	count, err = f.aggregator.SummarizePlayers(ctx, start, end, true)
	if err != nil {
		t.Fatalf("force summarize: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one recomputed summary, got %d", count)
	}

	got, _ := f.summaries.PlayerSummaries(ctx, 1)
	if got[0].Level.End != 20 || got[0].Level.Change != 10 || got[0].RecordCount != 3 {
		t.Errorf("force did not recompute: %+v", got[0])
	}
}

func TestSummarizeOnlyInsidePeriod(t *testing.T) {
	f := newAggregatorFixture(t)
	ctx := context.Background()

	// Observations only in February; March summarization finds nothing.
	feb := time.Date(2024, time.February, 10, 0, 0, 0, 0, time.UTC)
	f.seedPlayerLevels(t, 1, feb, 8, 9)

	start, end := MonthBounds(2024, time.March)
	count, err := f.aggregator.SummarizePlayers(ctx, start, end, false)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if count != 0 {
		t.Errorf("expected zero summaries for empty period, got %d", count)
	}
}

func TestPruneLeavesSummaries(t *testing.T) {
	f := newAggregatorFixture(t)
	ctx := context.Background()

	old := f.clock.now.AddDate(0, 0, -90)
	fresh := f.clock.now.AddDate(0, 0, -5)
	f.seedPlayerLevels(t, 1, old, 10)
	if err := f.history.AppendPlayerStats(ctx, &domain.PlayerStats{
		PlayerID: 1, Timestamp: fresh.Unix(), Level: 11,
	}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := f.summaries.WritePlayerSummaries(ctx, []domain.PlayerStatsSummary{{
		PlayerID: 1, PeriodStart: old.Unix(), PeriodEnd: old.AddDate(0, 1, 0).Unix(),
		PeriodType: "monthly", RecordCount: 1,
	}}, false); err != nil {
		t.Fatalf("write summary: %v", err)
	}

	result, err := f.aggregator.Prune(ctx, 60)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if result["player_stats_history"] != 1 {
		t.Errorf("expected one old row pruned, got %d", result["player_stats_history"])
	}

	remaining, _ := f.history.PlayerStatsBetween(ctx, 1, 0, f.clock.now.Unix()+1)
	if len(remaining) != 1 {
		t.Errorf("expected fresh row kept, got %d rows", len(remaining))
	}
	summaries, _ := f.summaries.PlayerSummaries(ctx, 1)
	if len(summaries) != 1 {
		t.Error("prune must never touch summaries")
	}
}

func TestCompetitionDeltaRules(t *testing.T) {
	f := newAggregatorFixture(t)
	ctx := context.Background()

	id, err := f.competitions.Create(ctx, &domain.Competition{
		Name: "Spring Sprint", TrackedStat: "gymstrength",
		StartDate: f.clock.now.AddDate(0, 0, 7).Unix(),
		EndDate:   f.clock.now.AddDate(0, 1, 0).Unix(),
	})
	if err != nil {
		t.Fatalf("create competition: %v", err)
	}
	competition, _ := f.competitions.Get(ctx, id)

	start := 500.0
	withStart := &domain.CompetitionParticipant{CompetitionID: id, PlayerID: 1, StartValue: &start}
	noStart := &domain.CompetitionParticipant{CompetitionID: id, PlayerID: 2}
	noCurrent := &domain.CompetitionParticipant{CompetitionID: id, PlayerID: 3}
	for _, p := range []*domain.CompetitionParticipant{withStart, noStart, noCurrent} {
		if err := f.competitions.AddParticipant(ctx, p); err != nil {
			t.Fatalf("add participant: %v", err)
		}
	}

	if err := f.competitions.AppendStatValue(ctx, 1, "gymstrength", 650, "tag"); err != nil {
		t.Fatalf("append stat: %v", err)
	}
	if err := f.competitions.AppendStatValue(ctx, 2, "gymstrength", 300, "tag"); err != nil {
		t.Fatalf("append stat: %v", err)
	}

	d, ok, err := f.aggregator.Delta(ctx, competition, withStart)
	if err != nil || !ok || d != 150 {
		t.Errorf("expected delta 150, got %v ok=%v err=%v", d, ok, err)
	}

	// No start value recorded yet: exactly 0.0, not "no data".
	d, ok, err = f.aggregator.Delta(ctx, competition, noStart)
	if err != nil || !ok || d != 0.0 {
		t.Errorf("expected delta 0.0 without start value, got %v ok=%v err=%v", d, ok, err)
	}

	// No current observation at all: undefined, excluded from ranking.
	_, ok, err = f.aggregator.Delta(ctx, competition, noCurrent)
	if err != nil || ok {
		t.Errorf("expected undefined delta, got ok=%v err=%v", ok, err)
	}

	_, rankings, err := f.aggregator.Rankings(ctx, id)
	if err != nil {
		t.Fatalf("rankings: %v", err)
	}
	if len(rankings) != 2 {
		t.Fatalf("expected two ranked rows, got %d", len(rankings))
	}
	if rankings[0].PlayerID != 1 {
		t.Errorf("expected player 1 ranked first, got %d", rankings[0].PlayerID)
	}
}

func TestTeamStandings(t *testing.T) {
	f := newAggregatorFixture(t)
	ctx := context.Background()

	id, err := f.competitions.Create(ctx, &domain.Competition{
		Name: "Team Clash", TrackedStat: "gymstrength",
		StartDate: f.clock.now.Unix(),
		EndDate:   f.clock.now.AddDate(0, 1, 0).Unix(),
	})
	if err != nil {
		t.Fatalf("create competition: %v", err)
	}

	redID, err := f.competitions.AddTeam(ctx, &domain.CompetitionTeam{CompetitionID: id, Name: "Red", CaptainA: 1})
	if err != nil {
		t.Fatalf("add team: %v", err)
	}
	blueID, err := f.competitions.AddTeam(ctx, &domain.CompetitionTeam{CompetitionID: id, Name: "Blue", CaptainA: 3})
	if err != nil {
		t.Fatalf("add team: %v", err)
	}

	seed := func(playerID, teamID int64, start, current float64) {
		t.Helper()
		p := &domain.CompetitionParticipant{CompetitionID: id, PlayerID: playerID, TeamID: teamID, StartValue: &start}
		if err := f.competitions.AddParticipant(ctx, p); err != nil {
			t.Fatalf("add participant %d: %v", playerID, err)
		}
		if err := f.competitions.AppendStatValue(ctx, playerID, "gymstrength", current, "tag"); err != nil {
			t.Fatalf("append stat %d: %v", playerID, err)
		}
	}
	seed(1, redID, 100, 150)
	seed(2, redID, 100, 130)
	seed(3, blueID, 100, 400)

	// A member with no observation counts toward the roster only.
	if err := f.competitions.AddParticipant(ctx, &domain.CompetitionParticipant{
		CompetitionID: id, PlayerID: 4, TeamID: blueID,
	}); err != nil {
		t.Fatalf("add participant: %v", err)
	}

	_, standings, err := f.aggregator.TeamStandings(ctx, id)
	if err != nil {
		t.Fatalf("team standings: %v", err)
	}
	if len(standings) != 2 {
		t.Fatalf("expected two teams, got %d", len(standings))
	}
	if standings[0].TeamName != "Blue" || standings[0].Total != 300 {
		t.Errorf("expected Blue leading with 300, got %+v", standings[0])
	}
	if standings[0].Members != 2 || standings[0].Counted != 1 {
		t.Errorf("expected roster 2, counted 1, got %+v", standings[0])
	}
	if standings[1].TeamName != "Red" || standings[1].Total != 80 {
		t.Errorf("expected Red with 80, got %+v", standings[1])
	}
}
