package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

const (
	DefaultScreenshotKey = "f10"
	DefaultOpenFolderKey = "f9"
	DefaultScreenshotDir = "screenshots"
	DefaultLogsDir       = "logs"
	DefaultIPCHost       = "127.0.0.1"
	DefaultIPCPort       = 48321

	// PathEnvVar names an alternate config file.
	PathEnvVar = "SNAPKEY_CONFIG"

	DefaultWatchdogPollSec    = 5
	DefaultWatchdogRefreshSec = 3600

	defaultStateDirLinux = ".local/state/snapkey"
	defaultConfigDir     = ".config/snapkey"
)

// ErrMalformed marks a config file that exists but could not be parsed.
var ErrMalformed = errors.New("malformed config")

// Config holds user configuration loaded from TOML. The four top-level
// options are always populated after Load.
type Config struct {
	ScreenshotKey  string `toml:"screenshot_key"`
	OpenFolderKey  string `toml:"open_folder_key"`
	ScreenshotPath string `toml:"screenshot_path"`
	LogsPath       string `toml:"logs_path"`

	Logging struct {
		Level      string `toml:"level"`  // debug, info, warn, error
		Format     string `toml:"format"` // text, json
		Stdout     bool   `toml:"stdout"`
		MaxSizeMB  int    `toml:"max_size_mb"`
		MaxBackups int    `toml:"max_backups"`
	} `toml:"logging"`

	IPC struct {
		Host string `toml:"host"`
		Port int    `toml:"port"`
	} `toml:"ipc"`

	Watchdog struct {
		PollSec    float64 `toml:"poll_sec"`
		RefreshSec float64 `toml:"refresh_sec"`
	} `toml:"watchdog"`

	Capture struct {
		Format        string `toml:"format"` // png, jpeg
		Clipboard     bool   `toml:"clipboard"`
		Notify        bool   `toml:"notify"`
		RegionCommand string `toml:"region_command"`
	} `toml:"capture"`

	// Hook runs after every saved screenshot with the file path appended
	// to Args.
	Hook struct {
		Command     string            `toml:"command"`
		Args        []string          `toml:"args"`
		TimeoutSec  float64           `toml:"timeout_sec"`
		CooldownSec float64           `toml:"cooldown_sec"`
		Env         map[string]string `toml:"env"`
	} `toml:"hook"`

	Hotkeys struct {
		Backend string `toml:"backend"` // native, hook
	} `toml:"hotkeys"`

	Metrics struct {
		Enabled bool   `toml:"enabled"`
		Addr    string `toml:"addr"`
	} `toml:"metrics"`

	Paths struct {
		StateDir   string `toml:"state_dir"`
		ConfigPath string `toml:"-"`
	} `toml:"paths"`

	// Extra keeps instance-specific keys that snapkey itself does not read.
	Extra map[string]any `toml:"extra"`

	// fromFile holds what the document said before env overrides replaced
	// it. Writes restore these values so overrides never reach the disk.
	fromFile *fileValues
}

type fileValues struct {
	level, format  *string
	port           *int
	metricsEnabled bool
	metricsAddr    *string
}

// Default returns Config populated with defaults.
func Default() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	stateDir := filepath.Join(home, defaultStateDirLinux)
	switch runtime.GOOS {
	case "darwin":
		stateDir = filepath.Join(home, "Library", "Application Support", "snapkey")
	case "windows":
		if dir, err := os.UserCacheDir(); err == nil {
			stateDir = filepath.Join(dir, "snapkey")
		}
	}

	cfg := &Config{}
	cfg.ScreenshotKey = DefaultScreenshotKey
	cfg.OpenFolderKey = DefaultOpenFolderKey
	cfg.ScreenshotPath = DefaultScreenshotDir
	cfg.LogsPath = DefaultLogsDir

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"
	cfg.Logging.MaxSizeMB = 20
	cfg.Logging.MaxBackups = 5

	cfg.IPC.Host = DefaultIPCHost
	cfg.IPC.Port = DefaultIPCPort

	cfg.Watchdog.PollSec = DefaultWatchdogPollSec
	cfg.Watchdog.RefreshSec = DefaultWatchdogRefreshSec

	cfg.Capture.Format = "png"
	cfg.Capture.Clipboard = true
	cfg.Capture.Notify = true

	cfg.Hook.TimeoutSec = 30
	cfg.Hook.Args = []string{}
	cfg.Hook.Env = map[string]string{}

	cfg.Hotkeys.Backend = "native"

	cfg.Metrics.Addr = "127.0.0.1:9318"

	cfg.Paths.StateDir = stateDir
	cfg.Extra = map[string]any{}
	return cfg, nil
}

// DefaultPath is the config location used when neither a flag nor
// SNAPKEY_CONFIG names one.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, defaultConfigDir, "config.toml")
}

// ResolvePath picks the config file: explicit path, then SNAPKEY_CONFIG, then
// DefaultPath. A .env next to the executable is loaded first so it can set
// SNAPKEY_CONFIG and the other SNAPKEY_* overrides.
func ResolvePath(explicit string) string {
	loadDotenv()
	if p := strings.TrimSpace(explicit); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv(PathEnvVar)); p != "" {
		return p
	}
	return DefaultPath()
}

func loadDotenv() {
	exe, err := os.Executable()
	if err != nil {
		return
	}
	envPath := filepath.Join(filepath.Dir(exe), ".env")
	if _, err := os.Stat(envPath); err == nil {
		_ = godotenv.Load(envPath)
	}
}

// Load loads config from file, applying defaults for anything the file does
// not set. A missing file is created from the defaults. A malformed file is
// left untouched; Load then returns the defaults together with an error
// wrapping ErrMalformed, and callers are expected to log it and carry on.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}
	if path == "" {
		path = DefaultPath()
	}
	cfg.Paths.ConfigPath = path

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if err := Save(cfg, path); err != nil {
				applyEnvOverrides(cfg)
				return cfg, fmt.Errorf("write default config: %w", err)
			}
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		applyEnvOverrides(cfg)
		return cfg, fmt.Errorf("read config: %w", err)
	}

	parsed, err := decode(data, path)
	if err != nil {
		applyEnvOverrides(cfg)
		return cfg, err
	}
	applyEnvOverrides(parsed)
	return parsed, nil
}

// decode merges data on top of a fresh default document.
func decode(data []byte, path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, path, err)
	}
	cfg.Paths.ConfigPath = path
	fillDefaults(cfg)
	return cfg, nil
}

// Save writes the whole of cfg to path, replacing any previous content.
func Save(cfg *Config, path string) error {
	_, err := writeFile(cfg, path)
	return err
}

func writeFile(cfg *Config, path string) ([]byte, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	out, err := toml.Marshal(cfg.document())
	if err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-*.toml")
	if err != nil {
		return nil, err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(out); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return nil, err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return nil, err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		_ = os.Remove(tmpName)
		return nil, err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return nil, err
	}
	return out, nil
}

// Clone returns a deep copy of cfg.
func (c *Config) Clone() *Config {
	out := *c
	out.Extra = make(map[string]any, len(c.Extra))
	for k, v := range c.Extra {
		out.Extra[k] = v
	}
	out.Hook.Args = append([]string{}, c.Hook.Args...)
	out.Hook.Env = make(map[string]string, len(c.Hook.Env))
	for k, v := range c.Hook.Env {
		out.Hook.Env[k] = v
	}
	return &out
}

// fillDefaults restores recognized options that the file set to empty values.
func fillDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ScreenshotKey) == "" {
		cfg.ScreenshotKey = DefaultScreenshotKey
	}
	if strings.TrimSpace(cfg.OpenFolderKey) == "" {
		cfg.OpenFolderKey = DefaultOpenFolderKey
	}
	if strings.TrimSpace(cfg.ScreenshotPath) == "" {
		cfg.ScreenshotPath = DefaultScreenshotDir
	}
	if strings.TrimSpace(cfg.LogsPath) == "" {
		cfg.LogsPath = DefaultLogsDir
	}
	if cfg.IPC.Host == "" {
		cfg.IPC.Host = DefaultIPCHost
	}
	if cfg.IPC.Port <= 0 || cfg.IPC.Port > 65535 {
		cfg.IPC.Port = DefaultIPCPort
	}
	if cfg.Watchdog.PollSec <= 0 {
		cfg.Watchdog.PollSec = DefaultWatchdogPollSec
	}
	if cfg.Watchdog.RefreshSec <= 0 {
		cfg.Watchdog.RefreshSec = DefaultWatchdogRefreshSec
	}
	if cfg.Extra == nil {
		cfg.Extra = map[string]any{}
	}
}

// IPCAddr returns host:port of the loopback channel.
func (c *Config) IPCAddr() string {
	return fmt.Sprintf("%s:%d", c.IPC.Host, c.IPC.Port)
}

// ExpandPath resolves ~ and environment references in a configured path.
func ExpandPath(p string) string {
	p = os.ExpandEnv(p)
	if p == "~" || strings.HasPrefix(p, "~/") || strings.HasPrefix(p, `~\`) {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, p[1:])
		}
	}
	return p
}

// MustStatePaths ensures state dirs exist.
func MustStatePaths(cfg *Config) error {
	for _, p := range []string{cfg.Paths.StateDir, ExpandPath(cfg.LogsPath)} {
		if p == "" {
			continue
		}
		if err := os.MkdirAll(p, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// PIDPath is where the running instance records its pid.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.StateDir, "snapkey.pid")
}

func applyEnvOverrides(cfg *Config) {
	fv := &fileValues{}
	set := false
	if v := os.Getenv("SNAPKEY_LOG_LEVEL"); v != "" {
		fv.level, set = ptr(cfg.Logging.Level), true
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SNAPKEY_LOG_FORMAT"); v != "" {
		fv.format, set = ptr(cfg.Logging.Format), true
		cfg.Logging.Format = v
	}
	if v := os.Getenv("SNAPKEY_IPC_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 65535 {
			fv.port, set = ptr(cfg.IPC.Port), true
			cfg.IPC.Port = n
		}
	}
	if v := os.Getenv("SNAPKEY_METRICS_ADDR"); v != "" {
		fv.metricsAddr, fv.metricsEnabled, set = ptr(cfg.Metrics.Addr), cfg.Metrics.Enabled, true
		cfg.Metrics.Addr = v
		cfg.Metrics.Enabled = true
	}
	if set {
		cfg.fromFile = fv
	}
}

func ptr[T any](v T) *T { return &v }

// document returns cfg as it should be written: env overrides are replaced
// by the values they shadowed.
func (c *Config) document() *Config {
	fv := c.fromFile
	if fv == nil {
		return c
	}
	out := *c
	if fv.level != nil {
		out.Logging.Level = *fv.level
	}
	if fv.format != nil {
		out.Logging.Format = *fv.format
	}
	if fv.port != nil {
		out.IPC.Port = *fv.port
	}
	if fv.metricsAddr != nil {
		out.Metrics.Addr = *fv.metricsAddr
		out.Metrics.Enabled = fv.metricsEnabled
	}
	return &out
}
