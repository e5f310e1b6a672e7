package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"isoflow/internal/flow"
	"isoflow/internal/loadspec"
)

const EnvPrefix = "ISOFLOW"

type LoggingConfig struct {
	Level  string `mapstructure:"loglevel"`
	Format string `mapstructure:"logformat"` // json or console
}

type StressConfig struct {
	Server      string `mapstructure:"stress_server"`
	Client      string `mapstructure:"stress_client"`
	Dst         string `mapstructure:"stress_dst"`
	Proto       string `mapstructure:"stress_proto"`
	OfferedLoad string `mapstructure:"stress_offered_load"`
	TOS         string `mapstructure:"stress_tos"`
	User        string `mapstructure:"stress_user"`
}

type Config struct {
	Server          string  `mapstructure:"server"`
	Client          string  `mapstructure:"client"`
	Dst             string  `mapstructure:"dst"`
	IntervalSeconds float64 `mapstructure:"interval"`
	TimeSeconds     float64 `mapstructure:"time"`
	OfferedLoad     string  `mapstructure:"offered_load"`
	Title           string  `mapstructure:"title"`
	TOS             string  `mapstructure:"tos"`
	OutputDirectory string  `mapstructure:"output_directory"`
	SSHUser         string  `mapstructure:"ssh_user"`

	Stress StressConfig `mapstructure:",squash"`

	Iperf         string        `mapstructure:"iperf"`
	ReadyTimeout  time.Duration `mapstructure:"ready_timeout"`
	DeadlineGrace time.Duration `mapstructure:"deadline_grace"`

	DryRun      bool   `mapstructure:"dry_run"`
	TUI         bool   `mapstructure:"tui"`
	MetricsAddr string `mapstructure:"metrics_addr"`
	History     string `mapstructure:"history"`

	Logging LoggingConfig `mapstructure:",squash"`
}

// SetDefaults registers every default on v. Flags bound later take
// precedence over these.
func SetDefaults(v *viper.Viper) {
	// Keys without a real default are still registered so the environment
	// can supply them.
	for _, key := range []string{"server", "dst", "ssh_user", "stress_server", "stress_client", "stress_dst", "metrics_addr", "history"} {
		v.SetDefault(key, "")
	}
	v.SetDefault("dry_run", false)
	v.SetDefault("tui", false)
	v.SetDefault("client", "localhost")
	v.SetDefault("interval", 0)
	v.SetDefault("time", 10)
	v.SetDefault("offered_load", loadspec.Default)
	v.SetDefault("title", "")
	v.SetDefault("tos", "BE")
	v.SetDefault("output_directory", "./data")
	v.SetDefault("stress_proto", "TCP")
	v.SetDefault("stress_offered_load", loadspec.DefaultStress)
	v.SetDefault("stress_tos", "BE")
	v.SetDefault("stress_user", "root")
	v.SetDefault("iperf", "iperf")
	v.SetDefault("ready_timeout", 5*time.Second)
	v.SetDefault("deadline_grace", 3*time.Second)
	v.SetDefault("loglevel", "info")
	v.SetDefault("logformat", "console")
}

// Load reads the optional config file and the environment into a Config.
func Load(v *viper.Viper) (Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.TimeSeconds <= 0 {
		return Config{}, fmt.Errorf("%w: time must be positive, got %v", flow.ErrInvalidFlowConfig, cfg.TimeSeconds)
	}
	if cfg.IntervalSeconds < 0 {
		return Config{}, fmt.Errorf("%w: interval must not be negative, got %v", flow.ErrInvalidFlowConfig, cfg.IntervalSeconds)
	}
	return cfg, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func (c Config) Duration() time.Duration       { return seconds(c.TimeSeconds) }
func (c Config) ReportInterval() time.Duration { return seconds(c.IntervalSeconds) }

// Plan maps the configuration onto the flow plan of one run.
func (c Config) Plan() flow.PlanConfig {
	return flow.PlanConfig{
		Duration:       c.Duration(),
		ReportInterval: c.ReportInterval(),
		Endpoints: flow.Endpoints{
			Server:      c.Server,
			Client:      c.Client,
			Destination: c.Dst,
		},
		Load:         c.OfferedLoad,
		TrafficClass: c.TOS,
		User:         c.SSHUser,
		Stress: flow.Endpoints{
			Server:      c.Stress.Server,
			Client:      c.Stress.Client,
			Destination: c.Stress.Dst,
		},
		StressProtocol:     c.Stress.Proto,
		StressLoad:         c.Stress.OfferedLoad,
		StressTrafficClass: c.Stress.TOS,
		StressUser:         c.Stress.User,
	}
}

// StressEnabled mirrors the plan rule: all three stress endpoints are set.
func (c Config) StressEnabled() bool {
	return c.Plan().Stress.Complete()
}

// LogFile is where the run log is written inside the output directory.
func (c Config) LogFile() string {
	if c.OutputDirectory == "" {
		return ""
	}
	return filepath.Join(c.OutputDirectory, "test.log")
}
