package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

// Config contains everything one provisioning run needs. Load resolves all
// ambient values (login name, home directory) exactly once, so components
// never consult process-wide state mid-run.
type Config struct {
	// Administrative connection to the global zone host
	GlobalZoneHost     string `yaml:"global_zone_host"`
	GlobalZoneUsername string `yaml:"global_zone_username"`

	// Account created inside the zone for post-provision test connections
	ZoneUserName string `yaml:"zone_user_name"`

	// Credential pair locations on local storage
	SSHPrivateKey string `yaml:"ssh_private_key"`
	SSHPublicKey  string `yaml:"ssh_public_key"`

	// Static parameters folded into the rendered artifacts
	ZoneComment   string `yaml:"zone_comment"`
	ZoneLowerLink string `yaml:"zone_lower_link"`
	ZonePathRoot  string `yaml:"zone_path_root"`
	ZoneTemplate  string `yaml:"zone_template"`

	// ZoneName is the human-readable label; a random suffix is always
	// appended so the full identity is unique per run.
	ZoneName string `yaml:"zone_name"`

	// ZonePort is the forwarded port; 0 picks a random unprivileged port.
	ZonePort int `yaml:"zone_port"`

	// KeepConfig suppresses cleanup of the remote working directory
	KeepConfig bool `yaml:"keep_config"`

	// Network readiness poll bounds
	NetworkIntervalSeconds int `yaml:"network_interval_seconds"`
	NetworkAttempts        int `yaml:"network_attempts"`

	// RemoteTmpRoot is the host-side directory under which per-run
	// working directories are staged
	RemoteTmpRoot string `yaml:"remote_tmp_root"`

	// StateDir is where run-state files are written by the CLI
	StateDir string `yaml:"state_dir"`
}

// Load loads configuration from a YAML file and applies defaults. An empty
// path falls back to ZONEKIT_CONFIG, then to "zonekit.yaml" if it exists.
// A path named explicitly (flag or environment) must exist; only the
// implicit default file may be absent.
func Load(path string) (*Config, error) {
	config := defaults()

	explicit := path != ""
	if path == "" {
		path = os.Getenv("ZONEKIT_CONFIG")
		explicit = path != ""
	}
	if path == "" {
		path = "zonekit.yaml"
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case explicit || !os.IsNotExist(err):
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	// Expand environment variables in string fields
	config.GlobalZoneHost = os.ExpandEnv(config.GlobalZoneHost)
	config.GlobalZoneUsername = os.ExpandEnv(config.GlobalZoneUsername)
	config.ZoneUserName = os.ExpandEnv(config.ZoneUserName)
	config.SSHPrivateKey = os.ExpandEnv(config.SSHPrivateKey)
	config.SSHPublicKey = os.ExpandEnv(config.SSHPublicKey)
	config.ZonePathRoot = os.ExpandEnv(config.ZonePathRoot)
	config.StateDir = os.ExpandEnv(config.StateDir)

	// Override with environment variables if set
	if host := os.Getenv("ZONEKIT_HOST"); host != "" {
		config.GlobalZoneHost = host
	}
	if username := os.Getenv("ZONEKIT_USER"); username != "" {
		config.GlobalZoneUsername = username
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// defaults builds the baseline configuration, resolving ambient state once.
func defaults() *Config {
	login := "zonekit"
	home := ""
	if u, err := user.Current(); err == nil {
		login = u.Username
		home = u.HomeDir
	}
	if home == "" {
		home = os.TempDir()
	}
	keyDir := filepath.Join(home, ".zonekit")

	return &Config{
		GlobalZoneUsername:     "root",
		ZoneUserName:           login,
		SSHPrivateKey:          filepath.Join(keyDir, "zonekit_key"),
		SSHPublicKey:           filepath.Join(keyDir, "zonekit_key.pub"),
		ZoneComment:            "ephemeral test zone",
		ZoneLowerLink:          "net0",
		ZonePathRoot:           "/zones/",
		ZoneTemplate:           "template",
		ZoneName:               login,
		NetworkIntervalSeconds: 3,
		NetworkAttempts:        100,
		RemoteTmpRoot:          "/var/tmp/zonekit",
		StateDir:               ".",
	}
}

func (c *Config) validate() error {
	if c.GlobalZoneHost == "" {
		return fmt.Errorf("global_zone_host is required (set it in the config file or ZONEKIT_HOST)")
	}
	if c.GlobalZoneUsername == "" {
		return fmt.Errorf("global_zone_username is required")
	}
	if c.ZoneLowerLink == "" {
		return fmt.Errorf("zone_lower_link is required")
	}
	if c.ZonePathRoot == "" {
		return fmt.Errorf("zone_path_root is required")
	}
	if c.ZoneTemplate == "" {
		return fmt.Errorf("zone_template is required")
	}
	if c.NetworkIntervalSeconds <= 0 {
		return fmt.Errorf("network_interval_seconds must be positive")
	}
	if c.NetworkAttempts <= 0 {
		return fmt.Errorf("network_attempts must be positive")
	}
	if c.ZonePort < 0 || c.ZonePort > 65535 {
		return fmt.Errorf("zone_port must be in [0, 65535]")
	}
	return nil
}
