package migrate

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/chirino/node-service/internal/config"
	registrymigrate "github.com/chirino/node-service/internal/registry/migrate"
	"github.com/urfave/cli/v3"

	// Import plugins to trigger init() registration of their migrators.
	// Repository plugins register their own migrators alongside their primary interface.
	_ "github.com/chirino/node-service/internal/plugin/repo/mongo"
	_ "github.com/chirino/node-service/internal/plugin/repo/postgres"
	_ "github.com/chirino/node-service/internal/plugin/repo/sqlite"
	_ "github.com/chirino/node-service/internal/plugin/vector/qdrant"
)

// Command returns the migrate sub-command.
func Command() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Run database migrations",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "db-url",
				Sources:  cli.EnvVars("NODE_SERVICE_DB_URL"),
				Usage:    "Database connection URL",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "repo-kind",
				Sources: cli.EnvVars("NODE_SERVICE_REPO_KIND"),
				Usage:   "Repository backend (sqlite|postgres|mongo)",
				Value:   "postgres",
			},
			&cli.StringFlag{
				Name:    "mongo-database",
				Sources: cli.EnvVars("NODE_SERVICE_MONGO_DATABASE"),
				Usage:   "Database name for the mongo backend",
				Value:   config.DefaultConfig().MongoDatabase,
			},
			&cli.StringFlag{
				Name:    "vector-kind",
				Sources: cli.EnvVars("NODE_SERVICE_VECTOR_KIND"),
				Usage:   "External vector store to migrate (qdrant)",
			},
			&cli.StringFlag{
				Name:    "qdrant-host",
				Sources: cli.EnvVars("NODE_SERVICE_QDRANT_HOST"),
				Usage:   "Qdrant host",
				Value:   "localhost",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.DefaultConfig()
			cfg.DBURL = cmd.String("db-url")
			cfg.RepoType = cmd.String("repo-kind")
			cfg.MongoDatabase = cmd.String("mongo-database")
			cfg.VectorType = cmd.String("vector-kind")
			cfg.QdrantHost = cmd.String("qdrant-host")
			ctx = config.WithContext(ctx, &cfg)

			log.Info("Running migrations...")
			if err := registrymigrate.RunAll(ctx); err != nil {
				return err
			}
			log.Info("All migrations completed successfully")
			return nil
		},
	}
}
