package main

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sqlwatch/sqlwatch/internal/config"
	"github.com/sqlwatch/sqlwatch/internal/logging"
	"github.com/sqlwatch/sqlwatch/internal/ui"
)

var (
	// Version is set at build time with -ldflags "-X main.Version=..."
	Version = "dev"

	configFile string
	settings   = config.New()

	cfg       *config.Config
	logger    *logrus.Logger
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "sqlwatch",
	Short: "Keep database objects in sync with their .sql files",
	Long: `sqlwatch watches a directory of object definitions (procedures, views,
functions and user-defined types) and applies every saved change to the
database. Objects that reference the changed one are dropped and recreated
in a safe order, all inside a single transaction.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "init" {
			ui.Init(os.Stdout)
			return nil
		}

		loaded, err := config.Load(settings, configFile)
		if err != nil {
			return err
		}
		cfg = loaded

		l, closer, err := logging.New(logging.Options{
			Level:      cfg.Log.Level,
			Format:     cfg.Log.Format,
			File:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
		}, os.Stderr)
		if err != nil {
			return err
		}
		logger, logCloser = l, closer

		ui.Init(os.Stdout)
		if cfg.File != "" {
			logger.WithField("file", cfg.File).Debug("loaded config")
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "inspect", Title: "Inspection Commands:"},
		&cobra.Group{ID: "setup", Title: "Setup Commands:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "", "config file (default: sqlwatch.yaml in the working directory or root)")
	flags.StringP("root", "r", ".", "directory containing the object definitions")
	flags.String("extension", ".sql", "extension of watched files")
	flags.String("driver", "sqlserver", "database driver: sqlserver, postgres, mysql, oracle or sqlite")
	flags.String("connection", "", "database connection string")
	flags.String("schema", "dbo", "schema used in DROP statements")
	flags.String("log-level", "info", "log level: trace, debug, info, warn or error")
	flags.String("log-format", "text", "log format: text or json")
	flags.String("log-file", "", "write logs to a rotating file instead of stderr")

	bindFlags(settings, flags, map[string]string{
		"root":                "root",
		"extension":           "extension",
		"database.driver":     "driver",
		"database.connection": "connection",
		"database.schema":     "schema",
		"log.level":           "log-level",
		"log.format":          "log-format",
		"log.file":            "log-file",
	})
}

// bindFlags binds config keys to flags so explicitly set flags win over the
// config file and the environment.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind %s: %v", key, err))
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("Error:"), err)
		os.Exit(1)
	}
}
