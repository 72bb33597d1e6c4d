package fx

import (
	"database/sql"

	"torntracker/internal/api"
	"torntracker/internal/command"
	"torntracker/internal/config"
	"torntracker/internal/database"
	"torntracker/internal/keys"
	"torntracker/internal/logger"
	"torntracker/internal/notify"
	"torntracker/internal/repository"
	"torntracker/internal/server"
	"torntracker/internal/service"

	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

func ProvideKeyManager(cfg *config.Config, client *api.Client, log zerolog.Logger) (*keys.Manager, error) {
	return keys.NewManager(cfg.KeysFile, client, log)
}

func ProvideGateway(client *api.Client) service.Gateway {
	return client
}

func ProvideNotifier(log zerolog.Logger) notify.Notifier {
	return notify.NewLogNotifier(log)
}

func ProvideHealthRepository(db *sql.DB, cfg *config.Config, log zerolog.Logger) *repository.HealthRepository {
	return repository.NewHealthRepository(db, cfg.DBPath, log)
}

var Module = fx.Options(
	fx.Provide(logger.New),
	fx.Provide(config.Load),
	fx.Provide(database.New),
	// gateway + registry
	fx.Provide(api.NewClient),
	fx.Provide(ProvideGateway),
	fx.Provide(ProvideKeyManager),
	fx.Provide(ProvideNotifier),
	// repos
	fx.Provide(repository.NewPlayerRepository),
	fx.Provide(repository.NewFactionRepository),
	fx.Provide(repository.NewHistoryRepository),
	fx.Provide(repository.NewCrimeRepository),
	fx.Provide(repository.NewConfigRepository),
	fx.Provide(repository.NewSummaryRepository),
	fx.Provide(repository.NewCompetitionRepository),
	fx.Provide(repository.NewItemRepository),
	fx.Provide(ProvideHealthRepository),
	// svc
	fx.Provide(service.NewReconciler),
	fx.Provide(service.NewAggregator),
	fx.Provide(service.NewOrchestrator),
	fx.Provide(service.NewRefresher),
	fx.Provide(service.NewCompetitionService),
	// commands + server
	fx.Provide(command.NewHandlers),
	fx.Provide(command.NewCommandRegistry),
	fx.Provide(server.New),
)
