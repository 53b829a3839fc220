package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/expeca/ainur/pkg/errdefs"
)

// Loader handles configuration loading from files and environment variables
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{v: viper.New()}
}

// Load reads the configuration from the default search paths. The config
// file is optional; environment variables and defaults apply either way.
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()
	l.setupConfigPaths()
	l.setupEnvVars()

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errdefs.WrapConfiguration(err, "reading config file")
		}
	}
	return l.unmarshal()
}

// LoadFile reads the configuration from a specific file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.setDefaults()
	l.setupEnvVars()
	l.v.SetConfigFile(path)

	if err := l.v.ReadInConfig(); err != nil {
		return nil, errdefs.WrapConfiguration(err, "reading config file %s", path)
	}
	return l.unmarshal()
}

func (l *Loader) unmarshal() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, errdefs.WrapConfiguration(err, "unmarshaling config")
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (l *Loader) setDefaults() {
	l.v.SetDefault("log_level", "info")
	l.v.SetDefault("log_format", "json")
	l.v.SetDefault("storage.data_dir", ".")
	l.v.SetDefault("metrics.listen_addr", ":9153")
	l.v.SetDefault("swarm.daemon_port", 2375)
	l.v.SetDefault("swarm.max_parallel", 8)
}

func (l *Loader) setupConfigPaths() {
	l.v.SetConfigName("ainur")
	l.v.SetConfigType("yaml")

	l.v.AddConfigPath("/etc/ainur")
	if home, err := os.UserHomeDir(); err == nil {
		l.v.AddConfigPath(home)
	}
	l.v.AddConfigPath(".")
}

func (l *Loader) setupEnvVars() {
	l.v.SetEnvPrefix("AINUR")
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()
}

func validate(cfg *Config) error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errdefs.Configuration(
			"invalid log_level %q (must be debug, info, warn or error)", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		return errdefs.Configuration(
			"invalid log_format %q (must be json or console)", cfg.LogFormat)
	}

	seen := make(map[string]struct{}, len(cfg.Hosts))
	for _, h := range cfg.Hosts {
		if h.ID == "" {
			return errdefs.Configuration("host declared without an id")
		}
		if _, dup := seen[h.ID]; dup {
			return errdefs.Configuration("host %s is declared twice", h.ID)
		}
		seen[h.ID] = struct{}{}
	}

	for _, n := range cfg.Networks {
		if n.Name == "" {
			return errdefs.Configuration("network declared without a name")
		}
		for _, id := range n.Hosts {
			if _, ok := seen[id]; !ok {
				return errdefs.Configuration(
					"network %s references undeclared host %s", n.Name, id)
			}
		}
	}
	return nil
}
