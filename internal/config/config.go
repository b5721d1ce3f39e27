// Package config loads sqlwatch settings from a config file, SQLWATCH_*
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/sqlwatch/sqlwatch/internal/debounce"
	"github.com/sqlwatch/sqlwatch/internal/graph"
	"github.com/sqlwatch/sqlwatch/internal/project"
	"github.com/sqlwatch/sqlwatch/internal/sqlexec"
)

const (
	// FileName is the config file base name searched for without extension.
	FileName = "sqlwatch"

	// EnvPrefix prefixes environment overrides, e.g. SQLWATCH_DATABASE_CONNECTION.
	EnvPrefix = "SQLWATCH"
)

// Database selects the target database.
type Database struct {
	Driver     string `mapstructure:"driver" yaml:"driver"`
	Connection string `mapstructure:"connection" yaml:"connection"`
	Schema     string `mapstructure:"schema" yaml:"schema"`
}

// Debounce holds the quiet period settings.
type Debounce struct {
	Min  time.Duration `mapstructure:"min" yaml:"min"`
	Step time.Duration `mapstructure:"step" yaml:"step"`
	Max  time.Duration `mapstructure:"max" yaml:"max"`
}

// Read holds the file read retry settings.
type Read struct {
	Attempts int           `mapstructure:"attempts" yaml:"attempts"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

// Graph holds dependency tracking settings.
type Graph struct {
	DetectCycles    bool `mapstructure:"detect_cycles" yaml:"detect_cycles"`
	SchemaBoundOnly bool `mapstructure:"schemabound_only" yaml:"schemabound_only"`
}

// Log holds logging settings. An empty File logs to stderr.
type Log struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	File       string `mapstructure:"file" yaml:"file,omitempty"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

// Dashboard holds the live dashboard settings. Port 0 disables it.
type Dashboard struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

// Config is the complete set of settings. It is treated as immutable once
// loaded.
type Config struct {
	Root          string            `mapstructure:"root" yaml:"root"`
	Extension     string            `mapstructure:"extension" yaml:"extension"`
	Database      Database          `mapstructure:"database" yaml:"database"`
	Variables     map[string]string `mapstructure:"variables" yaml:"variables,omitempty"`
	VariablesFile string            `mapstructure:"variables_file" yaml:"variables_file,omitempty"`
	Debounce      Debounce          `mapstructure:"debounce" yaml:"debounce"`
	Read          Read              `mapstructure:"read" yaml:"read"`
	Graph         Graph             `mapstructure:"graph" yaml:"graph"`
	Log           Log               `mapstructure:"log" yaml:"log"`
	Dashboard     Dashboard         `mapstructure:"dashboard" yaml:"dashboard"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-" yaml:"-"`
}

// Default returns the built-in settings.
func Default() *Config {
	d := debounce.DefaultConfig()
	return &Config{
		Root:      ".",
		Extension: project.DefaultExtension,
		Database: Database{
			Driver: sqlexec.SQLServer,
			Schema: "dbo",
		},
		Debounce: Debounce{Min: d.MinDelay, Step: d.Step, Max: d.MaxDelay},
		Read:     Read{Attempts: 5, Interval: 100 * time.Millisecond},
		Graph:    Graph{DetectCycles: true},
		Log: Log{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Dashboard: Dashboard{Host: "127.0.0.1"},
	}
}

// New returns a viper instance with defaults registered and environment
// overrides enabled. Callers bind their flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	d := Default()

	v.SetDefault("root", d.Root)
	v.SetDefault("extension", d.Extension)
	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.connection", d.Database.Connection)
	v.SetDefault("database.schema", d.Database.Schema)
	v.SetDefault("variables_file", "")
	v.SetDefault("debounce.min", d.Debounce.Min)
	v.SetDefault("debounce.step", d.Debounce.Step)
	v.SetDefault("debounce.max", d.Debounce.Max)
	v.SetDefault("read.attempts", d.Read.Attempts)
	v.SetDefault("read.interval", d.Read.Interval)
	v.SetDefault("graph.detect_cycles", d.Graph.DetectCycles)
	v.SetDefault("graph.schemabound_only", d.Graph.SchemaBoundOnly)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
	v.SetDefault("dashboard.host", d.Dashboard.Host)
	v.SetDefault("dashboard.port", d.Dashboard.Port)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file and decodes the merged settings. With an
// empty file, sqlwatch.{yaml,yml,toml,json} is looked up in the working
// directory and in the configured root; finding none is not an error.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(FileName)
		v.AddConfigPath(".")
		if root := v.GetString("root"); root != "" && root != "." {
			v.AddConfigPath(root)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	if cfg.VariablesFile != "" {
		path := cfg.VariablesFile
		if !filepath.IsAbs(path) && cfg.File != "" {
			path = filepath.Join(filepath.Dir(cfg.File), path)
		}
		fromFile, err := LoadVariables(path)
		if err != nil {
			return nil, err
		}
		// Variables set directly in the config win over the file.
		for k, val := range cfg.Variables {
			fromFile[k] = val
		}
		cfg.Variables = fromFile
	}

	return cfg, nil
}

// LoadVariables decodes a TOML file of top-level name = value pairs.
// Non-string values are formatted with their TOML text form.
func LoadVariables(path string) (map[string]string, error) {
	var raw map[string]interface{}
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, fmt.Errorf("failed to read variables file %s: %w", path, err)
	}
	vars := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			vars[k] = val
		case map[string]interface{}, []interface{}, []map[string]interface{}:
			return nil, fmt.Errorf("variables file %s: %s must be a plain value", path, k)
		default:
			vars[k] = fmt.Sprint(val)
		}
	}
	return vars, nil
}

// ValidateProject reports problems with the settings needed to analyze the
// project without touching a database.
func (c *Config) ValidateProject() error {
	var errs []error
	if c.Root == "" {
		errs = append(errs, errors.New("root is not set"))
	} else if info, err := os.Stat(c.Root); err != nil {
		errs = append(errs, fmt.Errorf("root %s: %w", c.Root, err))
	} else if !info.IsDir() {
		errs = append(errs, fmt.Errorf("root %s is not a directory", c.Root))
	}
	if !strings.HasPrefix(c.Extension, ".") {
		errs = append(errs, fmt.Errorf("extension %q must start with a dot", c.Extension))
	}
	if c.Debounce.Min <= 0 || c.Debounce.Max < c.Debounce.Min || c.Debounce.Step < 0 {
		errs = append(errs, fmt.Errorf("debounce delays are inconsistent (min %s, step %s, max %s)",
			c.Debounce.Min, c.Debounce.Step, c.Debounce.Max))
	}
	if c.Read.Attempts < 1 {
		errs = append(errs, errors.New("read.attempts must be at least 1"))
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}
	return errors.Join(errs...)
}

// Validate reports every problem that prevents watching: the project
// settings plus the database connection.
func (c *Config) Validate() error {
	errs := []error{c.ValidateProject()}
	if c.Database.Connection == "" {
		errs = append(errs, errors.New("database.connection is not set"))
	}
	if _, err := sqlexec.NormalizeDriver(c.Database.Driver); err != nil {
		errs = append(errs, err)
	}
	if c.Database.Schema == "" {
		errs = append(errs, errors.New("database.schema is not set"))
	}
	return errors.Join(errs...)
}

// DebounceConfig converts the debounce settings.
func (c *Config) DebounceConfig() debounce.Config {
	return debounce.Config{MinDelay: c.Debounce.Min, Step: c.Debounce.Step, MaxDelay: c.Debounce.Max}
}

// Reader returns a file reader using the retry settings.
func (c *Config) Reader(logger logrus.FieldLogger) *project.Reader {
	return project.NewReader(c.Read.Attempts, c.Read.Interval, logger)
}

// GraphOptions returns the dependency tracking options.
func (c *Config) GraphOptions() []graph.Option {
	return []graph.Option{graph.WithSchemaBoundOnly(c.Graph.SchemaBoundOnly)}
}

// ProjectOptions returns the options for loading the project.
func (c *Config) ProjectOptions(logger logrus.FieldLogger) project.Options {
	return project.Options{
		Extension:    c.Extension,
		Variables:    c.Variables,
		Reader:       c.Reader(logger),
		GraphOptions: append(c.GraphOptions(), graph.WithLogger(logger)),
		Logger:       logger,
	}
}

// Write saves c as YAML at path.
func (c *Config) Write(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
