package config

import (
	"time"

	"github.com/hatcher/worktrack/pkg/cfg"
	"github.com/hatcher/worktrack/pkg/logs"
	"github.com/hatcher/worktrack/pkg/ormx"
	"github.com/hatcher/worktrack/pkg/redisx"
	"github.com/hatcher/worktrack/tracker/sweep"
)

type TrackerConfig struct {
	// TouchInterval bounds durable last_activity_at writes per session.
	TouchInterval time.Duration `yaml:"touch-interval" json:"touchInterval" mapstructure:"touch-interval"`
	// AuditStream is the redis stream lifecycle events are appended to.
	AuditStream string `yaml:"audit-stream" json:"auditStream" mapstructure:"audit-stream"`
}

type Config struct {
	DB      ormx.DBConfig  `yaml:"db" json:"db" mapstructure:"db"`
	Redis   redisx.Config  `yaml:"redis" json:"redis" mapstructure:"redis"`
	Log     logs.LogConfig `yaml:"log" json:"log" mapstructure:"log"`
	Sweep   sweep.Config   `yaml:"sweep" json:"sweep" mapstructure:"sweep"`
	Tracker TrackerConfig  `yaml:"tracker" json:"tracker" mapstructure:"tracker"`
}

func (c *Config) Prepare() {
	if c.Tracker.TouchInterval <= 0 {
		c.Tracker.TouchInterval = 30 * time.Second
	}
	if c.Tracker.AuditStream == "" {
		c.Tracker.AuditStream = "worktrack:audit"
	}
}

// Load reads the config file and applies defaults.
func Load(configDir, configFile, configSuffix string) (*Config, error) {
	var c Config
	if err := cfg.LoadConfig(configDir, configFile, configSuffix, &c); err != nil {
		return nil, err
	}
	c.Prepare()
	return &c, nil
}
