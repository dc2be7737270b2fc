package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/wesm/awesome-sync/config"
	"github.com/wesm/awesome-sync/internal/db"
	"github.com/wesm/awesome-sync/internal/logging"
	"github.com/wesm/awesome-sync/internal/sync"
)

var (
	configPath string
	logLevel   string
	prettyLogs bool
)

var rootCmd = &cobra.Command{
	Use:   "awesome-sync",
	Short: "Sync awesome lists between GitHub and a local catalog",
	Long: `awesome-sync imports awesome-list READMEs from GitHub into a local SQLite
catalog, exports the approved catalog back as a linted awesome list, and checks
the links it contains.

The GitHub token can be provided via the ` + config.EnvGithubToken + ` environment variable.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.json", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (overrides the configuration)")
	rootCmd.PersistentFlags().BoolVar(&prettyLogs, "pretty", true, "Human-readable log output")

	rootCmd.AddCommand(
		initCmd,
		configureCmd,
		importCmd,
		exportCmd,
		enqueueCmd,
		processQueueCmd,
		historyCmd,
		statusCmd,
		validateCmd,
		checkLinksCmd,
		orphansCmd,
		importTaxonomyCmd,
		editCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds what every database-backed command needs
type app struct {
	cfg    *config.Config
	db     *db.DB
	syncer *sync.Syncer
}

func openApp() (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	logging.InitLogger(level, prettyLogs)

	database, err := db.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := database.Initialize(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	syncer := sync.New(database, sync.GitHubClientFactory)
	syncer.SetDefaultToken(cfg.GitHubToken)

	return &app{cfg: cfg, db: database, syncer: syncer}, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close database")
	}
}

// repository returns the repository named on the command line or the configured one
func (a *app) repository(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if a.cfg.Repository == "" {
		return "", fmt.Errorf("no repository given and none configured in %s", configPath)
	}
	return a.cfg.Repository, nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
