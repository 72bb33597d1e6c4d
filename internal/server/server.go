package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"torntracker/internal/command"
	"torntracker/internal/config"
	"torntracker/internal/constants"
	"torntracker/internal/domain"
	"torntracker/internal/repository"
	"torntracker/internal/service"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Server is the HTTP surface: read views over stored state, the command
// dispatch endpoint and operational probes.
type Server struct {
	registry   *command.Registry
	configs    *repository.ConfigRepository
	crimes     *repository.CrimeRepository
	aggregator *service.Aggregator
	health     *repository.HealthRepository
	db         *sql.DB
	cfg        *config.Config
	logger     zerolog.Logger
}

func New(
	registry *command.Registry,
	configs *repository.ConfigRepository,
	crimes *repository.CrimeRepository,
	aggregator *service.Aggregator,
	health *repository.HealthRepository,
	db *sql.DB,
	cfg *config.Config,
	logger zerolog.Logger,
) *Server {
	return &Server{
		registry:   registry,
		configs:    configs,
		crimes:     crimes,
		aggregator: aggregator,
		health:     health,
		db:         db,
		cfg:        cfg,
		logger:     logger,
	}
}

// Routes builds the route table. Middleware wrapping happens in main.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/command", s.handleCommand)
	mux.HandleFunc("GET /api/commands", s.handleCommandNames)
	mux.HandleFunc("GET /api/crimes", s.handleCrimes)
	mux.HandleFunc("GET /api/crimes/{faction}", s.handleFactionCrimes)
	mux.HandleFunc("GET /api/rankings/{competition}", s.handleRankings)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error().Err(err).Msg("response encode failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

type commandRequest struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "command name is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), constants.RequestTimeout)
	defer cancel()

	result, err := s.registry.Dispatch(ctx, req.Name, req.Args)
	if err != nil {
		var userErr *command.UserError
		if errors.As(err, &userErr) {
			s.writeError(w, http.StatusBadRequest, userErr.Message)
			return
		}
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"command": req.Name, "result": result})
}

func (s *Server) handleCommandNames(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"commands": s.registry.Names()})
}

func (s *Server) handleCrimes(w http.ResponseWriter, r *http.Request) {
	configs, err := s.configs.List(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("list configs failed")
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := map[int64][]*domain.CrimeInstance{}
	for _, cfg := range configs {
		crimes, err := s.crimes.ListCurrent(r.Context(), cfg.FactionID)
		if err != nil {
			s.logger.Error().Err(err).Int64("faction_id", cfg.FactionID).Msg("list crimes failed")
			s.writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		list := make([]*domain.CrimeInstance, 0, len(crimes))
		for _, c := range crimes {
			list = append(list, c)
		}
		out[cfg.FactionID] = list
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"factions": out})
}

func (s *Server) handleFactionCrimes(w http.ResponseWriter, r *http.Request) {
	factionID, err := strconv.ParseInt(r.PathValue("faction"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid faction id")
		return
	}

	crimes, err := s.crimes.ListCurrent(r.Context(), factionID)
	if err != nil {
		s.logger.Error().Err(err).Int64("faction_id", factionID).Msg("list crimes failed")
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	stats, err := s.crimes.ParticipantStats(r.Context(), factionID)
	if err != nil {
		s.logger.Error().Err(err).Int64("faction_id", factionID).Msg("participant stats failed")
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	list := make([]*domain.CrimeInstance, 0, len(crimes))
	for _, c := range crimes {
		list = append(list, c)
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"faction_id":        factionID,
		"crimes":            list,
		"participant_stats": stats,
	})
}

func (s *Server) handleRankings(w http.ResponseWriter, r *http.Request) {
	competitionID, err := strconv.ParseInt(r.PathValue("competition"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid competition id")
		return
	}

	competition, rankings, err := s.aggregator.Rankings(r.Context(), competitionID)
	if err != nil {
		s.logger.Error().Err(err).Int64("competition_id", competitionID).Msg("rankings failed")
		s.writeError(w, http.StatusNotFound, "competition not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"competition": competition,
		"rankings":    rankings,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	cutoff := time.Now().Add(-time.Duration(s.cfg.PruneAfterDays) * 24 * time.Hour).Unix()
	report, err := s.health.Report(r.Context(), cutoff)
	if err != nil {
		s.logger.Error().Err(err).Msg("health report failed")
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), constants.DatabaseTimeout)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
