// watch.go re-reads the config file when it changes on disk so that operational settings
// (currently the logging level) can be adjusted without a restart.
package config

import (
	"fmt"
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watch loads the configuration and keeps watching the config file. onChange is called with
// the freshly validated configuration after every write; invalid edits are logged and ignored.
// When no config file is in use the initial configuration is returned and nothing is watched.
func Watch(configPath string, onChange func(*Config)) (*Config, error) {
	v, err := newViper(configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := unmarshal(v)
	if err != nil {
		return nil, err
	}

	if v.ConfigFileUsed() == "" {
		return cfg, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		next, err := unmarshal(v)
		if err != nil {
			slog.Warn("ignoring invalid config change", "file", e.Name, "error", err)
			return
		}
		slog.Info("config file changed", "file", e.Name)
		if onChange != nil {
			onChange(next)
		}
	})
	v.WatchConfig()

	return cfg, nil
}

// String renders the non-secret parts of the configuration for startup logs.
func (c *Config) String() string {
	return fmt.Sprintf("server=%s storage=%s audit.backend=%s logging=%s/%s",
		c.Server.GetAddress(), c.Storage.DefaultBackend, c.Audit.Backend, c.Logging.Format, c.Logging.Level)
}
