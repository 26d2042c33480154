package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the nanobridge configuration file
// (~/.config/nanobridge/config.yaml). All optional fields are pointers so a
// set zero value is distinguishable from "not set".
type Config struct {
	// Bridge
	Mode          string         `yaml:"mode"`
	AIEnabled     *bool          `yaml:"ai_enabled"`
	QueueCapacity *int64         `yaml:"queue_capacity"`
	BatchTimeout  *time.Duration `yaml:"batch_timeout"`
	ModelSeed     *int64         `yaml:"model_seed"`
	SnapshotPath  string         `yaml:"snapshot_path"`

	// Port forwarding
	RulesDB  string `yaml:"rules_db"`
	MaxRules *int64 `yaml:"max_rules"`
	UPnP     *bool  `yaml:"upnp"`

	// Chipset
	DriversDir string `yaml:"drivers_dir"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "nanobridge", "config.yaml")
}

// applyBridgeConfig applies config file defaults to the shared bridge flag
// variables when the corresponding CLI flag was not explicitly set.
func applyBridgeConfig(c *cli.Command, cfg Config) {
	if cfg.Mode != "" && !c.IsSet("mode") {
		mode = cfg.Mode
	}
	if cfg.AIEnabled != nil && !c.IsSet("ai") {
		aiEnabled = *cfg.AIEnabled
	}
	if cfg.QueueCapacity != nil && !c.IsSet("queue-capacity") && !c.IsSet("q") {
		queueCap = *cfg.QueueCapacity
	}
	if cfg.BatchTimeout != nil && !c.IsSet("batch-timeout") {
		batchTimeout = *cfg.BatchTimeout
	}
	if cfg.ModelSeed != nil && !c.IsSet("seed") {
		modelSeed = *cfg.ModelSeed
	}
	if cfg.SnapshotPath != "" && !c.IsSet("snapshot") {
		snapshotPath = cfg.SnapshotPath
	}
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr, rulesDB *string, maxRules *int64, upnp *bool) {
	applyBridgeConfig(c, cfg)
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
	if cfg.RulesDB != "" && !c.IsSet("rules-db") {
		*rulesDB = cfg.RulesDB
	}
	if cfg.MaxRules != nil && !c.IsSet("max-rules") {
		*maxRules = *cfg.MaxRules
	}
	if cfg.UPnP != nil && !c.IsSet("upnp") {
		*upnp = *cfg.UPnP
	}
}

// LoadConfig reads the config file. Returns a zero Config if the file doesn't
// exist or fails to parse.
func LoadConfig() Config {
	path := configPath()
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}
