// Package config loads the layered, HuJSON-formatted configuration
// shared by kvs-server and kvs-client, per SPEC_FULL.md's EXTERNAL
// INTERFACES addition. It controls only "addr", "engine" and
// "compactionThreshold"; every other CLI behavior is unaffected by its
// presence or absence.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tailscale/hujson"
)

// DefaultAddr and DefaultEngine mirror spec §6's pinned CLI defaults.
const (
	DefaultAddr   = "127.0.0.1:4000"
	DefaultEngine = "kvs"
)

// ConfigFileName is the default project config file name.
const ConfigFileName = ".kvs.json"

// Config holds the file-controlled settings.
type Config struct {
	Addr                string `json:"addr,omitempty"`
	Engine              string `json:"engine,omitempty"`
	CompactionThreshold int64  `json:"compactionThreshold,omitempty"`

	Sources Sources `json:"-"`
}

// Sources records which config files, if any, contributed to the
// resolved Config, for "kvs-client config print" diagnostics.
type Sources struct {
	Global  string
	Project string
}

// DefaultConfig returns the built-in defaults before any file or flag is
// applied.
func DefaultConfig() Config {
	return Config{Addr: DefaultAddr, Engine: DefaultEngine}
}

// LoadInput holds the inputs to Load.
type LoadInput struct {
	// ConfigPath is an explicit --config path; if set it must exist.
	ConfigPath string
	// WorkDir is the directory project config is resolved relative to;
	// os.Getwd() is used if empty.
	WorkDir string
	// Env supplies XDG_CONFIG_HOME / HOME for locating the global config.
	Env map[string]string
}

// Load resolves configuration with precedence (highest wins): built-in
// defaults -> global user config -> project config. The project config is
// the explicit --config file when one is given (the .kvs.json in WorkDir
// is then not read), otherwise .kvs.json in WorkDir. CLI flag overrides
// are applied by the caller afterward (Load has no notion of CLI flags),
// matching the teacher's layering.
func Load(input LoadInput) (Config, error) {
	workDir := input.WorkDir
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	cfg := DefaultConfig()

	globalCfg, globalPath, err := loadGlobal(input.Env)
	if err != nil {
		return Config{}, err
	}

	cfg.Sources.Global = globalPath
	cfg = merge(cfg, globalCfg)

	projectCfg, projectPath, err := loadProject(workDir, input.ConfigPath)
	if err != nil {
		return Config{}, err
	}

	cfg.Sources.Project = projectPath
	cfg = merge(cfg, projectCfg)

	return cfg, nil
}

func globalConfigPath(env map[string]string) string {
	if xdg := env["XDG_CONFIG_HOME"]; xdg != "" {
		return filepath.Join(xdg, "kvs", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "kvs", "config.json")
	}

	return ""
}

func loadGlobal(env map[string]string) (Config, string, error) {
	path := globalConfigPath(env)
	if path == "" {
		return Config{}, "", nil
	}

	cfg, loaded, err := loadFile(path, false)
	if err != nil || !loaded {
		return Config{}, "", err
	}

	return cfg, path, nil
}

func loadProject(workDir, explicitPath string) (Config, string, error) {
	path := explicitPath
	mustExist := explicitPath != ""

	if path == "" {
		path = filepath.Join(workDir, ConfigFileName)
	} else if !filepath.IsAbs(path) {
		path = filepath.Join(workDir, path)
	}

	cfg, loaded, err := loadFile(path, mustExist)
	if err != nil || !loaded {
		return Config{}, "", err
	}

	return cfg, path, nil
}

func loadFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return Config{}, false, nil
		}

		return Config{}, false, fmt.Errorf("cannot read config file %q: %w", path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("invalid config file %q: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, false, fmt.Errorf("invalid config file %q: %w", path, err)
	}

	return cfg, true, nil
}

func merge(base, overlay Config) Config {
	if overlay.Addr != "" {
		base.Addr = overlay.Addr
	}

	if overlay.Engine != "" {
		base.Engine = overlay.Engine
	}

	if overlay.CompactionThreshold != 0 {
		base.CompactionThreshold = overlay.CompactionThreshold
	}

	return base
}
