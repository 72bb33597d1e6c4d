package domain

// Player is the current-state row for a Torn player. Upserted on every
// fresh fetch, never deleted. Timestamps are unix seconds.
type Player struct {
	ID                int64
	Name              string
	Level             int64
	Rank              string
	FactionID         int64
	StatusState       string
	StatusDescription string
	LifeCurrent       int64
	LifeMaximum       int64
	DiscordID         string
	CreatedAt         int64
	LastUpdated       int64
}

type Faction struct {
	ID          int64
	Name        string
	Tag         string
	LeaderID    int64
	CoLeaderID  int64
	Respect     int64
	Age         int64
	BestChain   int64
	MemberCount int64
	CreatedAt   int64
	LastUpdated int64
}

// PlayerStats is one append-only observation of a player's trainable and
// derived stats, tagged with the masked credential that produced it.
type PlayerStats struct {
	PlayerID    int64
	Timestamp   int64
	Strength    int64
	Defense     int64
	Speed       int64
	Dexterity   int64
	TotalStats  int64
	Level       int64
	LifeMaximum int64
	Networth    int64
	DataSource  string
}

// FactionObservation is one append-only faction history row.
type FactionObservation struct {
	FactionID   int64
	Timestamp   int64
	Respect     int64
	MemberCount int64
	BestChain   int64
	DataSource  string
}

type CrimeStatus string

const (
	CrimePlanning  CrimeStatus = "planning"
	CrimeReady     CrimeStatus = "ready"
	CrimeCompleted CrimeStatus = "completed"
	CrimeFailed    CrimeStatus = "failed"
	CrimeCancelled CrimeStatus = "cancelled"
)

// Terminal reports whether no further transition is expected.
func (s CrimeStatus) Terminal() bool {
	return s == CrimeCompleted || s == CrimeFailed || s == CrimeCancelled
}

// CrimeInstance is the current-state row for one (faction, crime). Only
// non-terminal crimes live in current state; a terminal transition deletes
// the row and history becomes the durable record.
type CrimeInstance struct {
	FactionID            int64
	CrimeID              int64
	Name                 string
	Participants         []int64
	ParticipantCount     int64
	RequiredParticipants int64
	TimeStarted          int64
	TimeCompleted        int64
	Status               CrimeStatus
	RewardMoney          int64
	RewardRespect        int64
	RewardOther          string
	DataSource           string
	LastUpdated          int64
}

type CrimeEventType string

const (
	EventCreated           CrimeEventType = "created"
	EventStatusChanged     CrimeEventType = "status_changed"
	EventParticipantJoined CrimeEventType = "participant_joined"
	EventParticipantLeft   CrimeEventType = "participant_left"
	EventCompleted         CrimeEventType = "completed"
	EventFailed            CrimeEventType = "failed"
	EventCancelled         CrimeEventType = "cancelled"
)

// CrimeEvent is one append-only log entry describing a single transition
// of a CrimeInstance. Never mutated.
type CrimeEvent struct {
	ID              string
	FactionID       int64
	CrimeID         int64
	Type            CrimeEventType
	PlayerID        int64
	OldStatus       CrimeStatus
	NewStatus       CrimeStatus
	OldParticipants []int64
	NewParticipants []int64
	RewardMoney     int64
	RewardRespect   int64
	RewardOther     string
	DataSource      string
	Timestamp       int64
}

type ParticipantCrimeStats struct {
	FactionID          int64
	PlayerID           int64
	CrimesCompleted    int64
	CrimesFailed       int64
	TotalRewardMoney   int64
	TotalRewardRespect int64
}

// CrimeTrackingConfig holds per-faction sync configuration including the
// last-sync watermark and notification wiring.
type CrimeTrackingConfig struct {
	FactionID              int64
	GuildID                string
	NotificationChannelID  string
	MissingItemChannelID   string
	FactionLeadDiscordIDs  []string
	FrequentLeaverThreshold int64
	TrackingWindowDays     int64
	LastSync               int64
}

// FrequentLeaver is one player over the participant_left threshold inside
// the trailing window.
type FrequentLeaver struct {
	PlayerID   int64
	LeaveCount int64
}

// StatDelta is a first/last/change triple for one tracked attribute.
type StatDelta struct {
	Start  int64
	End    int64
	Change int64
}

// PlayerStatsSummary is the derived monthly rollup for one player,
// recomputable from player_stats_history.
type PlayerStatsSummary struct {
	PlayerID    int64
	PeriodStart int64
	PeriodEnd   int64
	PeriodType  string
	Strength    StatDelta
	Defense     StatDelta
	Speed       StatDelta
	Dexterity   StatDelta
	TotalStats  StatDelta
	Level       StatDelta
	LifeMaximum StatDelta
	Networth    StatDelta
	RecordCount int64
}

type FactionSummary struct {
	FactionID   int64
	PeriodStart int64
	PeriodEnd   int64
	PeriodType  string
	Respect     StatDelta
	MemberCount StatDelta
	BestChain   StatDelta
	RecordCount int64
}

type CompetitionStatus string

const (
	CompetitionActive    CompetitionStatus = "active"
	CompetitionCancelled CompetitionStatus = "cancelled"
	CompetitionCompleted CompetitionStatus = "completed"
)

// Competition is a user-defined tracking window over one contributor stat.
type Competition struct {
	ID          int64
	Name        string
	TrackedStat string
	StartDate   int64
	EndDate     int64
	Status      CompetitionStatus
	CreatedAt   int64
	CreatedBy   string
}

type CompetitionTeam struct {
	ID            int64
	CompetitionID int64
	Name          string
	CaptainA      int64
	CaptainB      int64
}

// CompetitionParticipant is one tracked player. StartValue is nil until a
// starting observation has been captured.
type CompetitionParticipant struct {
	CompetitionID int64
	PlayerID      int64
	PlayerName    string
	TeamID        int64
	StartValue    *float64
}

// Ranking is one row of competition output. Delta is nil when no current
// value is obtainable; such rows are excluded from ranked display.
type Ranking struct {
	PlayerID   int64
	PlayerName string
	TeamID     int64
	Start      *float64
	Current    *float64
	Delta      *float64
}

// TeamStanding aggregates ranking deltas over one team. Counted is how
// many members contributed a delta; members without one are listed but
// not summed.
type TeamStanding struct {
	TeamID   int64
	TeamName string
	CaptainA int64
	CaptainB int64
	Members  int
	Counted  int
	Total    float64
}

// Item is a cached Torn item used for missing-item reminders.
type Item struct {
	ID          int64
	Name        string
	Description string
	Type        string
	MarketValue int64
}
