package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"torntracker/internal/api"
	"torntracker/internal/database"
	"torntracker/internal/domain"
	"torntracker/internal/repository"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	if err := database.RunMigrations(db, zerolog.Nop()); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type reconcilerFixture struct {
	reconciler *Reconciler
	crimes     *repository.CrimeRepository
	players    *repository.PlayerRepository
	history    *repository.HistoryRepository
	clock      *fakeClock
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newReconcilerFixture(t *testing.T) *reconcilerFixture {
	t.Helper()
	db := setupTestDB(t)
	log := zerolog.Nop()

	players := repository.NewPlayerRepository(db, log)
	factions := repository.NewFactionRepository(db, log)
	history := repository.NewHistoryRepository(db, log)
	crimes := repository.NewCrimeRepository(db, log)

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	r := NewReconciler(players, factions, history, crimes, log)
	r.now = clock.Now

	return &reconcilerFixture{reconciler: r, crimes: crimes, players: players, history: history, clock: clock}
}

func rawUser(id int64) json.RawMessage {
	raw, _ := json.Marshal(id)
	return raw
}

func crimeSnapshot(id int64, status string, readyAt int64, participants ...int64) api.FactionCrime {
	crime := api.FactionCrime{
		ID:      id,
		Name:    "Smash and Grab",
		Status:  status,
		ReadyAt: readyAt,
	}
	for _, p := range participants {
		crime.Slots = append(crime.Slots, api.CrimeSlot{Position: "Muscle", User: rawUser(p)})
	}
	return crime
}

func TestMapCrimeStatus(t *testing.T) {
	cases := []struct {
		raw     string
		readyAt int64
		want    domain.CrimeStatus
	}{
		{"recruiting", 0, domain.CrimePlanning},
		{"available", 0, domain.CrimePlanning},
		{"planning", 0, domain.CrimePlanning},
		{"planning", 1_700_000_000, domain.CrimeReady},
		{"recruiting", 1_700_000_000, domain.CrimeReady},
		{"successful", 0, domain.CrimeCompleted},
		{"failure", 0, domain.CrimeFailed},
		{"expired", 0, domain.CrimeCancelled},
	}
	for _, tc := range cases {
		if got := MapCrimeStatus(tc.raw, tc.readyAt); got != tc.want {
			t.Errorf("MapCrimeStatus(%q, %d) = %s, want %s", tc.raw, tc.readyAt, got, tc.want)
		}
	}
}

func TestReconcileNewCrimeAppendsCreated(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	batch := []api.FactionCrime{crimeSnapshot(101, "planning", 0, 5, 9)}
	result, err := f.reconciler.ReconcileCrimeBatch(ctx, 7, batch, "****-****-****-abcd")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(result.Events) != 1 || result.Events[0].Type != domain.EventCreated {
		t.Fatalf("expected one created event, got %+v", result.Events)
	}

	stored, err := f.crimes.GetCurrent(ctx, 7, 101)
	if err != nil {
		t.Fatalf("get crime: %v", err)
	}
	if stored == nil {
		t.Fatal("expected current-state row")
	}
	if stored.Status != domain.CrimePlanning {
		t.Errorf("expected planning, got %s", stored.Status)
	}
}

func TestReconcileIdempotent(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	batch := []api.FactionCrime{crimeSnapshot(101, "planning", 0, 5, 9)}
	if _, err := f.reconciler.ReconcileCrimeBatch(ctx, 7, batch, "tag"); err != nil {
		t.Fatalf("first reconcile: %v", err)
	}

	result, err := f.reconciler.ReconcileCrimeBatch(ctx, 7, batch, "tag")
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if len(result.Events) != 0 {
		t.Errorf("expected zero events reprocessing identical data, got %d", len(result.Events))
	}
	if result.Changed != 0 {
		t.Errorf("expected zero changed crimes, got %d", result.Changed)
	}
}

func TestParticipantDiffIsSetBased(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	if _, err := f.reconciler.ReconcileCrimeBatch(ctx, 7,
		[]api.FactionCrime{crimeSnapshot(101, "planning", 0, 5, 9)}, "tag"); err != nil {
		t.Fatalf("first reconcile: %v", err)
	}

	// Same membership, reversed order.
	result, err := f.reconciler.ReconcileCrimeBatch(ctx, 7,
		[]api.FactionCrime{crimeSnapshot(101, "planning", 0, 9, 5)}, "tag")
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if len(result.Events) != 0 {
		t.Errorf("reordering produced %d events, want 0", len(result.Events))
	}
}

func TestReadinessAndJoinScenario(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	if _, err := f.reconciler.ReconcileCrimeBatch(ctx, 7,
		[]api.FactionCrime{crimeSnapshot(101, "planning", 0, 5, 9)}, "tag"); err != nil {
		t.Fatalf("first reconcile: %v", err)
	}

	result, err := f.reconciler.ReconcileCrimeBatch(ctx, 7,
		[]api.FactionCrime{crimeSnapshot(101, "planning", 1_700_000_100, 5, 9, 12)}, "tag")
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}

	var statusChanges, joins, creates int
	for _, e := range result.Events {
		switch e.Type {
		case domain.EventStatusChanged:
			statusChanges++
			if e.OldStatus != domain.CrimePlanning || e.NewStatus != domain.CrimeReady {
				t.Errorf("unexpected transition %s -> %s", e.OldStatus, e.NewStatus)
			}
		case domain.EventParticipantJoined:
			joins++
			if e.PlayerID != 12 {
				t.Errorf("expected player 12 join, got %d", e.PlayerID)
			}
		case domain.EventCreated:
			creates++
		}
	}
	if statusChanges != 1 || joins != 1 || creates != 0 {
		t.Errorf("expected 1 status change + 1 join + 0 created, got %d/%d/%d",
			statusChanges, joins, creates)
	}

	stored, _ := f.crimes.GetCurrent(ctx, 7, 101)
	if stored == nil || stored.Status != domain.CrimeReady {
		t.Fatalf("expected current row updated to ready, got %+v", stored)
	}
}

func TestTerminalTransition(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	if _, err := f.reconciler.ReconcileCrimeBatch(ctx, 7,
		[]api.FactionCrime{crimeSnapshot(101, "planning", 1_700_000_000, 5, 9)}, "tag"); err != nil {
		t.Fatalf("first reconcile: %v", err)
	}

	finished := crimeSnapshot(101, "successful", 1_700_000_000, 5, 9)
	finished.Rewards = &api.CrimeReward{Money: 1_000_000, Respect: 50}
	result, err := f.reconciler.ReconcileCrimeBatch(ctx, 7, []api.FactionCrime{finished}, "tag")
	if err != nil {
		t.Fatalf("terminal reconcile: %v", err)
	}

	var completed int
	for _, e := range result.Events {
		if e.Type == domain.EventCompleted {
			completed++
			if e.RewardMoney != 1_000_000 || e.RewardRespect != 50 {
				t.Errorf("rewards not carried: %+v", e)
			}
		}
	}
	if completed != 1 {
		t.Fatalf("expected exactly one completed event, got %d", completed)
	}

	stored, err := f.crimes.GetCurrent(ctx, 7, 101)
	if err != nil {
		t.Fatalf("get crime: %v", err)
	}
	if stored != nil {
		t.Error("expected terminal crime removed from current state")
	}

	stats, err := f.crimes.ParticipantStats(ctx, 7)
	if err != nil {
		t.Fatalf("participant stats: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("expected stats for both participants, got %d", len(stats))
	}
	for _, s := range stats {
		if s.CrimesCompleted != 1 || s.TotalRewardMoney != 1_000_000 {
			t.Errorf("unexpected stats row: %+v", s)
		}
	}
}

func TestTerminalBackfillReconciledOnce(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	finished := crimeSnapshot(101, "successful", 0, 5)
	first, err := f.reconciler.ReconcileCrimeBatch(ctx, 7, []api.FactionCrime{finished}, "tag")
	if err != nil {
		t.Fatalf("first reconcile: %v", err)
	}
	if len(first.Events) == 0 {
		t.Fatal("expected events for backfilled terminal crime")
	}

	second, err := f.reconciler.ReconcileCrimeBatch(ctx, 7, []api.FactionCrime{finished}, "tag")
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if len(second.Events) != 0 {
		t.Errorf("expected no events re-seeing a recorded terminal crime, got %d", len(second.Events))
	}
}

func TestHeartbeatRefresh(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	batch := []api.FactionCrime{crimeSnapshot(101, "planning", 0, 5)}
	if _, err := f.reconciler.ReconcileCrimeBatch(ctx, 7, batch, "tag"); err != nil {
		t.Fatalf("first reconcile: %v", err)
	}
	before, _ := f.crimes.GetCurrent(ctx, 7, 101)

	// Within the heartbeat window an identical snapshot leaves the row alone.
	f.clock.Advance(10 * time.Second)
	if _, err := f.reconciler.ReconcileCrimeBatch(ctx, 7, batch, "tag"); err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	mid, _ := f.crimes.GetCurrent(ctx, 7, 101)
	if mid.LastUpdated != before.LastUpdated {
		t.Errorf("row touched inside heartbeat window")
	}

	// Past the window the row is refreshed without events.
	f.clock.Advance(301 * time.Second)
	result, err := f.reconciler.ReconcileCrimeBatch(ctx, 7, batch, "tag")
	if err != nil {
		t.Fatalf("third reconcile: %v", err)
	}
	if len(result.Events) != 0 {
		t.Errorf("heartbeat refresh produced events: %d", len(result.Events))
	}
	after, _ := f.crimes.GetCurrent(ctx, 7, 101)
	if after.LastUpdated == before.LastUpdated {
		t.Error("expected heartbeat to touch last_updated")
	}
}

func TestMalformedSlotsAndRecords(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	composite := api.FactionCrime{
		ID:     102,
		Name:   "Composite",
		Status: "recruiting",
		Slots: []api.CrimeSlot{
			{Position: "Muscle", User: json.RawMessage(`{"id": 77, "name": "Bob"}`)},
			{Position: "Hacker", User: json.RawMessage(`"88"`)},
			{Position: "Bomber", User: json.RawMessage(`{"user_id": "99", "name": "Eve"}`)},
			{Position: "Driver", User: json.RawMessage(`null`)},
			{Position: "Lookout", User: json.RawMessage(`{"name": "nobody"}`)},
		},
	}
	noID := api.FactionCrime{Name: "Broken", Status: "recruiting"}

	result, err := f.reconciler.ReconcileCrimeBatch(ctx, 7, []api.FactionCrime{composite, noID}, "tag")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Skipped != 1 {
		t.Errorf("expected one skipped record, got %d", result.Skipped)
	}

	stored, _ := f.crimes.GetCurrent(ctx, 7, 102)
	if stored == nil {
		t.Fatal("expected composite crime stored")
	}
	if len(stored.Participants) != 3 {
		t.Fatalf("expected ids extracted from composite slots, got %v", stored.Participants)
	}
	if stored.Participants[0] != 77 || stored.Participants[1] != 88 || stored.Participants[2] != 99 {
		t.Errorf("unexpected participants: %v", stored.Participants)
	}
}

func TestRecordPlayerAppendsHistory(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	snapshot := &api.UserResponse{
		PlayerID: 10, Name: "Alpha", Level: 42,
		Strength: 1000, Defense: 900, Speed: 800, Dexterity: 700, Total: 3400,
	}
	snapshot.Life.Current = 500
	snapshot.Life.Maximum = 600

	for i := 0; i < 2; i++ {
		if err := f.reconciler.RecordPlayer(ctx, snapshot, "****-****-****-abcd"); err != nil {
			t.Fatalf("record player: %v", err)
		}
	}

	records, err := f.history.PlayerStatsBetween(ctx, 10, 0, f.clock.now.Unix()+1)
	if err != nil {
		t.Fatalf("read history: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected unconditional append per fetch, got %d rows", len(records))
	}
	if records[0].DataSource != "****-****-****-abcd" {
		t.Errorf("expected masked credential tag, got %q", records[0].DataSource)
	}
}

func TestDuplicateFeedRecordsDiffOnce(t *testing.T) {
	f := newReconcilerFixture(t)
	ctx := context.Background()

	countByType := func(events []domain.CrimeEvent) map[domain.CrimeEventType]int {
		out := map[domain.CrimeEventType]int{}
		for _, e := range events {
			out[e.Type]++
		}
		return out
	}

	// Offset pagination can hand back the same crime on two pages of one
	// walk; the combined batch must still record each change once.
	fresh := crimeSnapshot(140, "recruiting", 0, 5)
	result, err := f.reconciler.ReconcileCrimeBatch(ctx, 7, []api.FactionCrime{fresh, fresh}, "tag")
	if err != nil {
		t.Fatalf("reconcile new: %v", err)
	}
	if got := countByType(result.Events); got[domain.EventCreated] != 1 || len(result.Events) != 1 {
		t.Fatalf("expected exactly one created event, got %v", got)
	}

	ready := crimeSnapshot(140, "planning", 1_700_000_500, 5, 6)
	result, err = f.reconciler.ReconcileCrimeBatch(ctx, 7, []api.FactionCrime{ready, ready}, "tag")
	if err != nil {
		t.Fatalf("reconcile transition: %v", err)
	}
	got := countByType(result.Events)
	if got[domain.EventStatusChanged] != 1 {
		t.Errorf("expected one status change, got %v", got)
	}
	if got[domain.EventParticipantJoined] != 1 {
		t.Errorf("expected one join for player 6, got %v", got)
	}
	if len(result.Events) != 2 {
		t.Errorf("expected two events total, got %d", len(result.Events))
	}

	finished := crimeSnapshot(140, "successful", 1_700_000_500, 5, 6)
	finished.Rewards = &api.CrimeReward{Money: 2_000, Respect: 10}
	result, err = f.reconciler.ReconcileCrimeBatch(ctx, 7, []api.FactionCrime{finished, finished}, "tag")
	if err != nil {
		t.Fatalf("reconcile terminal: %v", err)
	}
	if got := countByType(result.Events); got[domain.EventCompleted] != 1 || len(result.Events) != 1 {
		t.Fatalf("expected exactly one completed event, got %v", got)
	}

	stored, _ := f.crimes.GetCurrent(ctx, 7, 140)
	if stored != nil {
		t.Error("expected terminal crime removed from current state")
	}
	stats, err := f.crimes.ParticipantStats(ctx, 7)
	if err != nil {
		t.Fatalf("participant stats: %v", err)
	}
	for _, s := range stats {
		if s.CrimesCompleted != 1 || s.TotalRewardMoney != 2_000 {
			t.Errorf("outcome recorded more than once: %+v", s)
		}
	}
}
