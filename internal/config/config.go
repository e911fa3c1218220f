// Package config defines the process configuration. Flags resolve from the
// command line, ESPISY_* environment variables, and an optional .env file.
// Device-facing state (registered addresses, GPIO mappings) lives in the
// YAML settings document instead.
package config

import (
	"strings"
	"time"

	"github.com/paularlott/cli"
)

// Config holds the resolved process configuration.
type Config struct {
	ListenAddr   string
	TokenHash    string
	SettingsPath string
	DataDir      string
	Network      string
	ProbeTimeout time.Duration
	Concurrency  int
	RescanSpec   string
	MQTTBroker   string
	MQTTTopics   []string
	MQTTUsername string
	MQTTPassword string
}

// GlobalFlags returns the flags shared by every subcommand.
func GlobalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:         "log-level",
			Usage:        "Log level (debug, info, warn, error)",
			DefaultValue: "info",
			EnvVars:      []string{"ESPISY_LOG_LEVEL"},
			Global:       true,
		},
		&cli.StringFlag{
			Name:         "log-format",
			Usage:        "Log format (console, json)",
			DefaultValue: "console",
			EnvVars:      []string{"ESPISY_LOG_FORMAT"},
			Global:       true,
		},
		&cli.StringFlag{
			Name:    "log-file",
			Usage:   "Also write logs to this file (rotated)",
			EnvVars: []string{"ESPISY_LOG_FILE"},
			Global:  true,
		},
		&cli.StringFlag{
			Name:    "settings",
			Usage:   "Path to the device settings file (default ~/.config/espisy/esp.yaml)",
			EnvVars: []string{"ESPISY_SETTINGS"},
			Global:  true,
		},
		&cli.IntFlag{
			Name:         "timeout",
			Usage:        "Per-device probe timeout in seconds",
			DefaultValue: 2,
			EnvVars:      []string{"ESPISY_TIMEOUT"},
			Global:       true,
		},
	}
}

// GetFlags returns the flags of the serve command.
func GetFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:         "listen",
			Usage:        "HTTP listen address",
			DefaultValue: ":8080",
			EnvVars:      []string{"ESPISY_LISTEN_ADDR"},
		},
		&cli.StringFlag{
			Name:    "token-hash",
			Usage:   "bcrypt hash of the API bearer token (empty disables auth)",
			EnvVars: []string{"ESPISY_TOKEN_HASH"},
		},
		&cli.StringFlag{
			Name:         "data-dir",
			Usage:        "Directory for the scan history database",
			DefaultValue: "./data",
			EnvVars:      []string{"ESPISY_DATA_DIR"},
		},
		&cli.StringFlag{
			Name:    "network",
			Usage:   "Default scan network in CIDR notation (overrides the settings file)",
			EnvVars: []string{"ESPISY_NETWORK"},
		},
		&cli.IntFlag{
			Name:         "concurrency",
			Usage:        "Maximum concurrent scan probes",
			DefaultValue: 254,
			EnvVars:      []string{"ESPISY_CONCURRENCY"},
		},
		&cli.StringFlag{
			Name:    "rescan",
			Usage:   "Cron schedule for periodic rescans (e.g. @hourly); empty disables",
			EnvVars: []string{"ESPISY_RESCAN"},
		},
		&cli.StringFlag{
			Name:    "mqtt-broker",
			Usage:   "MQTT broker URL for the import listener (e.g. tcp://broker:1883); empty disables",
			EnvVars: []string{"ESPISY_MQTT_BROKER"},
		},
		&cli.StringFlag{
			Name:    "mqtt-topics",
			Usage:   "Comma-separated MQTT topics to subscribe",
			EnvVars: []string{"ESPISY_MQTT_TOPICS"},
		},
		&cli.StringFlag{
			Name:    "mqtt-username",
			Usage:   "MQTT broker username",
			EnvVars: []string{"ESPISY_MQTT_USERNAME"},
		},
		&cli.StringFlag{
			Name:    "mqtt-password",
			Usage:   "MQTT broker password",
			EnvVars: []string{"ESPISY_MQTT_PASSWORD"},
		},
	}
}

// FromCommand resolves the configuration from the command's flags.
func FromCommand(cmd *cli.Command) *Config {
	return &Config{
		ListenAddr:   cmd.GetString("listen"),
		TokenHash:    cmd.GetString("token-hash"),
		SettingsPath: cmd.GetString("settings"),
		DataDir:      cmd.GetString("data-dir"),
		Network:      cmd.GetString("network"),
		ProbeTimeout: time.Duration(cmd.GetInt("timeout")) * time.Second,
		Concurrency:  cmd.GetInt("concurrency"),
		RescanSpec:   cmd.GetString("rescan"),
		MQTTBroker:   cmd.GetString("mqtt-broker"),
		MQTTTopics:   SplitList(cmd.GetString("mqtt-topics")),
		MQTTUsername: cmd.GetString("mqtt-username"),
		MQTTPassword: cmd.GetString("mqtt-password"),
	}
}

// IsAPIAuthEnabled reports whether bearer authentication is configured.
func (c *Config) IsAPIAuthEnabled() bool {
	return c.TokenHash != ""
}

// SplitList splits a comma-separated flag value, dropping empty items.
func SplitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
