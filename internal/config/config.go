// Package config provides configuration loading for rpmannotate.
//
// Values come from, in order of precedence: command-line flags bound by the
// caller, RPMANNOTATE_* environment variables (dots in keys become
// underscores, e.g. RPMANNOTATE_SINK_PASSWORD), a YAML config file, and the
// defaults below.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	apperrors "github.com/blackwell-systems/rpmannotate/internal/errors"
	rlog "github.com/blackwell-systems/rpmannotate/internal/log"
)

// EnvPrefix is the prefix of environment variables read by Load.
const EnvPrefix = "RPMANNOTATE"

// SystemDir is the system-wide config directory.
const SystemDir = "/etc/rpmannotate"

// Config is the full rpmannotate configuration.
type Config struct {
	StateDir string        `mapstructure:"state_dir" yaml:"state_dir"`
	LockFile string        `mapstructure:"lock_file" yaml:"lock_file"`
	Source   SourceConfig  `mapstructure:"source" yaml:"source"`
	Store    StoreConfig   `mapstructure:"store" yaml:"store"`
	Journal  JournalConfig `mapstructure:"journal" yaml:"journal"`
	Sink     SinkConfig    `mapstructure:"sink" yaml:"sink"`
	Series   SeriesConfig  `mapstructure:"series" yaml:"series"`
	Watch    WatchConfig   `mapstructure:"watch" yaml:"watch"`
	Metrics  MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Log      LogConfig     `mapstructure:"log" yaml:"log"`
}

// SourceConfig configures the rpm package source.
type SourceConfig struct {
	Binary      string        `mapstructure:"binary" yaml:"binary"`
	Mode        string        `mapstructure:"mode" yaml:"mode"` // query | detail
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	DetailLimit int           `mapstructure:"detail_limit" yaml:"detail_limit"` // 0 = unlimited
	DBPath      string        `mapstructure:"db_path" yaml:"db_path"`
}

// StoreConfig configures where the last snapshot is kept.
type StoreConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"` // file | sqlite
	Path    string `mapstructure:"path" yaml:"path"`
}

// JournalConfig configures the cycle journal.
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
	Retain  int    `mapstructure:"retain" yaml:"retain"`
}

// SinkConfig configures the InfluxDB annotation sink.
type SinkConfig struct {
	URL       string        `mapstructure:"url" yaml:"url"`
	Database  string        `mapstructure:"database" yaml:"database"`
	Username  string        `mapstructure:"username" yaml:"username"`
	Password  string        `mapstructure:"password" yaml:"password"`
	Protocol  string        `mapstructure:"protocol" yaml:"protocol"` // line | series
	Precision string        `mapstructure:"precision" yaml:"precision"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// SeriesConfig controls the series name: "<prefix>.<hostname>.rpm".
type SeriesConfig struct {
	Prefix   string `mapstructure:"prefix" yaml:"prefix"`
	Hostname string `mapstructure:"hostname" yaml:"hostname"` // empty = os.Hostname()
}

// WatchConfig configures the built-in scheduler.
type WatchConfig struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	RPMDB    bool          `mapstructure:"rpmdb" yaml:"rpmdb"`
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`
	PIDFile  string        `mapstructure:"pid_file" yaml:"pid_file"`
	LogFile  string        `mapstructure:"log_file" yaml:"log_file"`
}

// MetricsConfig configures the prometheus endpoint served by the watcher.
type MetricsConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen"` // empty = disabled
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // text | json
}

// defaults lists every key Load understands. Paths left empty are placed
// under state_dir once the config is loaded.
var defaults = map[string]any{
	"state_dir": "/var/lib/rpmannotate",
	"lock_file": "",

	"source.binary":       "/bin/rpm",
	"source.mode":         "query",
	"source.timeout":      2 * time.Minute,
	"source.detail_limit": 0,
	"source.db_path":      "/var/lib/rpm",

	"store.backend": "file",
	"store.path":    "",

	"journal.enabled": true,
	"journal.path":    "",
	"journal.retain":  500,

	"sink.url":       "http://localhost:8086",
	"sink.database":  "diamond",
	"sink.username":  "root",
	"sink.password":  "root",
	"sink.protocol":  "line",
	"sink.precision": "s",
	"sink.timeout":   10 * time.Second,

	"series.prefix":   "servers",
	"series.hostname": "",

	"watch.interval": 5 * time.Minute,
	"watch.rpmdb":    true,
	"watch.debounce": 10 * time.Second,
	"watch.pid_file": "",
	"watch.log_file": "",

	"metrics.listen": "",

	"log.level":  "info",
	"log.format": "text",
}

// NewViper returns a viper instance with every default registered and
// environment lookup enabled. Callers bind their flags to it before Load.
func NewViper() *viper.Viper {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file (if any) into v and returns the resolved,
// validated configuration. An empty path searches SystemDir and Dir() for
// config.yaml; finding none is not an error.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, apperrors.WrapWithContext(apperrors.ErrCodeConfig, "read config file", err,
				map[string]any{"path": path})
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(SystemDir)
		if dir, err := Dir(); err == nil {
			v.AddConfigPath(dir)
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, apperrors.Wrap(apperrors.ErrCodeConfig, "read config file", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrCodeConfig, "decode config", err)
	}

	cfg.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in configuration with paths resolved. It reads
// neither config files nor the environment.
func Default() *Config {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	var cfg Config
	// Defaults decode cleanly; the error is unreachable.
	_ = v.Unmarshal(&cfg)
	cfg.resolvePaths()
	return &cfg
}

// Dir returns the per-user config directory, respecting XDG_CONFIG_HOME.
// Defaults to ~/.config/rpmannotate if XDG_CONFIG_HOME is not set.
func Dir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "rpmannotate"), nil
}

func (c *Config) resolvePaths() {
	under := func(p *string, name string) {
		if *p == "" {
			*p = filepath.Join(c.StateDir, name)
		}
	}
	under(&c.LockFile, "rpmannotate.lock")
	switch c.Store.Backend {
	case "sqlite":
		under(&c.Store.Path, "snapshot.db")
	default:
		under(&c.Store.Path, "rpmvaluelist")
	}
	under(&c.Journal.Path, "journal.db")
	under(&c.Watch.PIDFile, "watch.pid")
	under(&c.Watch.LogFile, "watch.log")
}

// Validate checks the configuration for values no component can work with.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.StateDir == "" {
		add("state_dir must not be empty")
	}
	if c.Source.Binary == "" {
		add("source.binary must not be empty")
	}
	if c.Source.Mode != "query" && c.Source.Mode != "detail" {
		add("source.mode must be query or detail, got %q", c.Source.Mode)
	}
	if c.Source.Timeout <= 0 {
		add("source.timeout must be positive")
	}
	if c.Source.DetailLimit < 0 {
		add("source.detail_limit must not be negative")
	}
	if c.Store.Backend != "file" && c.Store.Backend != "sqlite" {
		add("store.backend must be file or sqlite, got %q", c.Store.Backend)
	}
	if c.Journal.Retain < 0 {
		add("journal.retain must not be negative")
	}
	if c.Sink.URL == "" {
		add("sink.url must not be empty")
	}
	if c.Sink.Database == "" {
		add("sink.database must not be empty")
	}
	if c.Sink.Protocol != "line" && c.Sink.Protocol != "series" {
		add("sink.protocol must be line or series, got %q", c.Sink.Protocol)
	}
	if c.Sink.Timeout <= 0 {
		add("sink.timeout must be positive")
	}
	if c.Watch.Interval <= 0 {
		add("watch.interval must be positive")
	}
	if c.Watch.Debounce < 0 {
		add("watch.debounce must not be negative")
	}
	if _, err := rlog.ParseLevel(c.Log.Level); err != nil {
		add("log.level: %v", err)
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		add("log.format must be text or json, got %q", c.Log.Format)
	}

	if len(problems) > 0 {
		return apperrors.New(apperrors.ErrCodeConfig, "invalid configuration: "+strings.Join(problems, "; "))
	}
	return nil
}

// Hostname returns the configured hostname, falling back to os.Hostname.
func (c *Config) Hostname() string {
	if c.Series.Hostname != "" {
		return c.Series.Hostname
	}
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return "localhost"
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Sink.Password != "" {
		out.Sink.Password = "********"
	}
	return &out
}

// YAML renders the configuration as YAML in field order, with durations in
// their string form ("2m0s") so the output can be fed back to Load.
func (c *Config) YAML() ([]byte, error) {
	node, err := yamlNode(reflect.ValueOf(*c))
	if err != nil {
		return nil, err
	}
	return yaml.Marshal(node)
}

func yamlNode(v reflect.Value) (*yaml.Node, error) {
	var n yaml.Node
	if d, ok := v.Interface().(time.Duration); ok {
		err := n.Encode(d.String())
		return &n, err
	}
	if v.Kind() != reflect.Struct {
		err := n.Encode(v.Interface())
		return &n, err
	}

	n.Kind = yaml.MappingNode
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		key := strings.Split(t.Field(i).Tag.Get("yaml"), ",")[0]
		if key == "" || key == "-" {
			continue
		}
		child, err := yamlNode(v.Field(i))
		if err != nil {
			return nil, err
		}
		n.Content = append(n.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: key}, child)
	}
	return &n, nil
}
