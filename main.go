package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/customeros/mailpulse/config"
	"github.com/customeros/mailpulse/internal/database"
	"github.com/customeros/mailpulse/internal/logger"
	"github.com/customeros/mailpulse/internal/repository"
	"github.com/customeros/mailpulse/server"
)

func main() {
	app := &cli.App{
		Name:  "mailpulse",
		Usage: "mailbox sync and triage service",
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "Run database migrations",
				Action: runMigrate,
			},
			{
				Name:   "server",
				Usage:  "Start the application server",
				Action: runServer,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func setup() (*config.Config, logger.Logger, error) {
	cfg, err := config.InitConfig()
	if err != nil {
		return nil, nil, cli.Exit("Config initialization failed: "+err.Error(), 1)
	}

	appLogger := logger.NewAppLogger(cfg.Logger)
	appLogger.InitLogger()
	return cfg, appLogger, nil
}

func runMigrate(c *cli.Context) error {
	cfg, appLogger, err := setup()
	if err != nil {
		return err
	}
	defer appLogger.Sync()

	db, err := database.InitDatabase(cfg.DatabaseConfig, appLogger)
	if err != nil {
		return cli.Exit("Database initialization failed: "+err.Error(), 1)
	}

	if err := repository.MigrateDB(cfg.DatabaseConfig, db); err != nil {
		return cli.Exit("Database migration failed: "+err.Error(), 1)
	}
	appLogger.Info("Database migration completed successfully")
	return nil
}

func runServer(c *cli.Context) error {
	cfg, appLogger, err := setup()
	if err != nil {
		return err
	}
	defer appLogger.Sync()

	appLogger.Info("Mailpulse starting up...")

	db, err := database.InitDatabase(cfg.DatabaseConfig, appLogger)
	if err != nil {
		return cli.Exit("Database initialization failed: "+err.Error(), 1)
	}

	srv, err := server.NewServer(cfg, appLogger, db)
	if err != nil {
		return cli.Exit("Server setup failed: "+err.Error(), 1)
	}
	return srv.Run()
}
