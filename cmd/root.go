package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hitsz-openauto/hoa-pr/internal/output"
	"github.com/hitsz-openauto/hoa-pr/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store

	verbose bool
	dryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "hoa-pr",
	Short: "Conversational pull requests for course readme.toml documents",
	Long: `hoa-pr walks a contributor through editing a course's readme.toml in a
chat: pick the course, append or modify entries, optionally sign them, pass
the compliance review and open (or update) the repository's pull request.

The same conversation runs over the HTTP API, a WebSocket, an MCP tool and
the interactive 'hoa-pr chat' REPL.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/hoa-pr/config.yaml)")
}

func initConfig() {
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		dir, err := configDirFunc()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}
		viper.AddConfigPath(dir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("HOAPR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	dir, _ := configDirFunc()
	setDefaults(dir)

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

// setDefaults registers a default for every configuration key.
func setDefaults(stateDir string) {
	viper.SetDefault("state_dir", stateDir)
	viper.SetDefault("db_path", filepath.Join(stateDir, "hoa-pr.db"))
	viper.SetDefault("courses_dir", "")

	viper.SetDefault("prserver.base_url", "")
	viper.SetDefault("prserver.api_key", "")
	viper.SetDefault("prserver.timeout", 30*time.Second)

	viper.SetDefault("moderation.provider", "anthropic")
	viper.SetDefault("moderation.timeout", 60*time.Second)
	viper.SetDefault("moderation.policy_file", "")
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")

	viper.SetDefault("session.ttl", 30*time.Minute)
	viper.SetDefault("render.segment_budget", 1800)
	viper.SetDefault("locator.threshold", 0.8)
	viper.SetDefault("locator.max_candidates", 8)
	viper.SetDefault("allowed_users", []string{})

	viper.SetDefault("serve.port", 8080)
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	// The store is opened lazily so config/version run without a db.
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	ctx := rootCmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// closeStore releases the shared store.
func closeStore() {
	if dataStore != nil {
		_ = dataStore.Close()
		dataStore = nil
	}
}
