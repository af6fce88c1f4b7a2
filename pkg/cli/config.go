package cli

import (
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/onereach/deskshell/pkg/model"
	"github.com/onereach/deskshell/pkg/repository"
	"github.com/onereach/deskshell/pkg/utils/logging"
)

// config holds the global flag values shared by all commands.
type config struct {
	logLevel    string
	settingsDir string
	passphrase  string
	configPath  string
}

// globalFlags returns common flags used across commands with
// destination config.
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("DESKSHELL_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "settings-dir",
			Usage:       "Directory for encrypted settings documents (empty = in-memory)",
			Sources:     cli.EnvVars("DESKSHELL_SETTINGS_DIR"),
			Destination: &cfg.settingsDir,
		},
		&cli.StringFlag{
			Name:        "passphrase",
			Usage:       "Passphrase protecting the settings directory",
			Sources:     cli.EnvVars("DESKSHELL_PASSPHRASE"),
			Destination: &cfg.passphrase,
		},
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "Path to YAML shell configuration",
			Sources:     cli.EnvVars("DESKSHELL_CONFIG"),
			Destination: &cfg.configPath,
		},
	}
}

// setupLogging installs the default logger at the requested level.
func (cfg *config) setupLogging() {
	logging.SetDefault(logging.New(cfg.logLevel, os.Stderr))
}

// newSettings creates the persisted-state store. Without a settings
// directory everything lives in memory for the process lifetime.
func (cfg *config) newSettings() (repository.Settings, error) {
	if cfg.settingsDir == "" {
		return repository.NewMemory(), nil
	}
	if cfg.passphrase == "" {
		return nil, goerr.New("passphrase is required with a settings directory")
	}

	store, err := repository.NewAgeFile(cfg.settingsDir, cfg.passphrase)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open settings store")
	}
	return store, nil
}

// fileConfig is the optional YAML shell configuration. Durations are
// strings in Go duration syntax ("2s", "500ms").
type fileConfig struct {
	Tenants            model.TenantTable `yaml:"tenants"`
	Agents             []string          `yaml:"agents"`
	BidTimeout         string            `yaml:"bidTimeout"`
	ExecTimeout        string            `yaml:"execTimeout"`
	SpeechTimeout      string            `yaml:"speechTimeout"`
	TranscriptCapacity int               `yaml:"transcriptCapacity"`
	MaxLoginAttempts   int               `yaml:"maxLoginAttempts"`
}

// duration parses one optional duration field.
func duration(value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, goerr.Wrap(err, "invalid duration in config", goerr.V("value", value))
	}
	return d, nil
}

// defaultManifest is the demo agent lineup of the repl.
func defaultManifest() []string {
	return []string{"clock", "assistant", "undo", "repeat"}
}

// loadFile reads the YAML configuration, or returns defaults when no
// path is configured.
func (cfg *config) loadFile() (*fileConfig, error) {
	fc := &fileConfig{}
	if cfg.configPath != "" {
		raw, err := os.ReadFile(cfg.configPath)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read config file",
				goerr.V("path", cfg.configPath))
		}
		if err := yaml.Unmarshal(raw, fc); err != nil {
			return nil, goerr.Wrap(err, "failed to parse config file",
				goerr.V("path", cfg.configPath))
		}
	}

	if len(fc.Tenants) == 0 {
		fc.Tenants = model.DefaultTenantTable()
	}
	if len(fc.Agents) == 0 {
		fc.Agents = defaultManifest()
	}
	return fc, nil
}
