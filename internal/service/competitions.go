package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"torntracker/internal/domain"
	"torntracker/internal/keys"
	"torntracker/internal/repository"

	"github.com/rs/zerolog"
)

// TeamSpec declares one team at competition creation.
type TeamSpec struct {
	Name     string  `json:"name"`
	CaptainA int64   `json:"captain_a"`
	CaptainB int64   `json:"captain_b"`
	Members  []int64 `json:"members"`
}

// CompetitionService manages tracking windows over one contributor stat.
type CompetitionService struct {
	gateway      Gateway
	registry     *keys.Manager
	competitions *repository.CompetitionRepository
	logger       zerolog.Logger
	now          func() time.Time
}

func NewCompetitionService(gateway Gateway, registry *keys.Manager, competitions *repository.CompetitionRepository, logger zerolog.Logger) *CompetitionService {
	return &CompetitionService{
		gateway:      gateway,
		registry:     registry,
		competitions: competitions,
		logger:       logger,
		now:          time.Now,
	}
}

// Create registers a competition with its teams and members. Captains
// are participants too.
func (s *CompetitionService) Create(ctx context.Context, c *domain.Competition, teams []TeamSpec) (int64, error) {
	if c.Name == "" || c.TrackedStat == "" {
		return 0, fmt.Errorf("competition needs a name and a tracked stat")
	}
	if c.EndDate <= c.StartDate {
		return 0, fmt.Errorf("competition end must be after start")
	}

	id, err := s.competitions.Create(ctx, c)
	if err != nil {
		return 0, err
	}

	for i := range teams {
		spec := &teams[i]
		team := &domain.CompetitionTeam{
			CompetitionID: id,
			Name:          spec.Name,
			CaptainA:      spec.CaptainA,
			CaptainB:      spec.CaptainB,
		}
		teamID, err := s.competitions.AddTeam(ctx, team)
		if err != nil {
			return 0, err
		}
		members := spec.Members
		if spec.CaptainA != 0 {
			members = append(members, spec.CaptainA)
		}
		if spec.CaptainB != 0 {
			members = append(members, spec.CaptainB)
		}
		for _, playerID := range members {
			p := &domain.CompetitionParticipant{
				CompetitionID: id,
				PlayerID:      playerID,
				TeamID:        teamID,
			}
			if err := s.competitions.AddParticipant(ctx, p); err != nil {
				return 0, err
			}
		}
	}

	s.logger.Info().Int64("competition_id", id).Str("stat", c.TrackedStat).Msg("competition created")
	return id, nil
}

func (s *CompetitionService) Cancel(ctx context.Context, id int64) error {
	competition, err := s.competitions.Get(ctx, id)
	if err != nil {
		return err
	}
	if competition == nil {
		return fmt.Errorf("competition %d not found", id)
	}
	if competition.Status != domain.CompetitionActive {
		return fmt.Errorf("competition %d is already %s", id, competition.Status)
	}
	return s.competitions.SetStatus(ctx, id, domain.CompetitionCancelled)
}

// UpdateStats pulls the contributor values for a competition's tracked
// stat from one faction and appends an observation per participant. A
// participant with no start value gets one captured once the window has
// begun.
func (s *CompetitionService) UpdateStats(ctx context.Context, competitionID, factionID int64, requester string) (int, error) {
	competition, err := s.competitions.Get(ctx, competitionID)
	if err != nil {
		return 0, err
	}
	if competition == nil {
		return 0, fmt.Errorf("competition %d not found", competitionID)
	}

	alias := s.registry.Select("faction", requester)
	if alias == "" {
		return 0, fmt.Errorf("no credential with faction scope available")
	}
	secret := s.registry.Secret(alias)

	resp, err := s.gateway.FactionContributors(ctx, secret, factionID, competition.TrackedStat)
	if err != nil {
		return 0, fmt.Errorf("fetch contributors: %w", err)
	}

	values := map[int64]float64{}
	for _, byPlayer := range resp.Contributors {
		for playerKey, contribution := range byPlayer {
			playerID, err := strconv.ParseInt(playerKey, 10, 64)
			if err != nil {
				continue
			}
			values[playerID] = float64(contribution.Contributed)
		}
	}

	participants, err := s.competitions.Participants(ctx, competitionID)
	if err != nil {
		return 0, err
	}

	masked := keys.Mask(secret)
	started := s.now().Unix() >= competition.StartDate
	updated := 0
	for i := range participants {
		p := &participants[i]
		value, ok := values[p.PlayerID]
		if !ok {
			continue
		}
		if err := s.competitions.AppendStatValue(ctx, p.PlayerID, competition.TrackedStat, value, masked); err != nil {
			return updated, err
		}
		if started && p.StartValue == nil {
			if err := s.competitions.SetStartValue(ctx, competitionID, p.PlayerID, value); err != nil {
				return updated, err
			}
		}
		updated++
	}

	s.logger.Info().
		Int64("competition_id", competitionID).
		Int("participants", updated).
		Msg("competition stats updated")
	return updated, nil
}
