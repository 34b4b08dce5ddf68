// Package config loads the daemon's JSON configuration.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/chandanpandeys/dekhosuno/camera"
	"github.com/chandanpandeys/dekhosuno/vision/gemini"
)

// GeminiConfig selects the remote analyzer model. The API key itself never
// lives in the file; APIKeyEnv names the environment variable holding it.
type GeminiConfig struct {
	APIKeyEnv string `json:"api_key_env"`
	Model     string `json:"model,omitempty"`
}

// AnalysisConfig shapes the road-crossing loop.
type AnalysisConfig struct {
	IntervalMs int `json:"interval_ms,omitempty"`
}

// Interval returns the configured loop interval, zero when unset (callers
// apply their own default).
func (c AnalysisConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMs) * time.Millisecond
}

// ServerConfig shapes the HTTP surface the mobile client talks to.
type ServerConfig struct {
	BindAddress string `json:"bind_address,omitempty"`
}

// Config is the daemon configuration.
type Config struct {
	Camera   camera.Config  `json:"camera"`
	Analysis AnalysisConfig `json:"analysis"`
	Gemini   GeminiConfig   `json:"gemini"`
	Server   ServerConfig   `json:"server"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Camera: camera.Config{
			Width:  camera.DefaultWidth,
			Height: camera.DefaultHeight,
		},
		Gemini: GeminiConfig{
			APIKeyEnv: "GEMINI_API_KEY",
			Model:     gemini.DefaultModel,
		},
		Server: ServerConfig{
			BindAddress: "localhost:8105",
		},
	}
}

// Validate ensures all required parts of the config are present.
func (c *Config) Validate(path string) error {
	if c.Gemini.APIKeyEnv == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "gemini.api_key_env")
	}
	if c.Server.BindAddress == "" {
		return goutils.NewConfigValidationFieldRequiredError(path, "server.bind_address")
	}
	if c.Analysis.IntervalMs < 0 {
		return goutils.NewConfigValidationError(path, errors.New("analysis.interval_ms cannot be negative"))
	}
	return nil
}

// DefaultPath returns the conventional config location,
// ~/.config/dekhosuno/config.json.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "cannot determine home directory")
	}
	return filepath.Join(home, ".config", "dekhosuno", "config.json"), nil
}

// Load reads the config at path, filling missing fields from defaults. A
// missing file yields the defaults.
func Load(path string) (*Config, error) {
	conf := Default()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return conf, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read config %q", path)
	}
	if err := json.Unmarshal(data, conf); err != nil {
		return nil, errors.Wrapf(err, "cannot parse config %q", path)
	}
	if err := conf.Validate(path); err != nil {
		return nil, err
	}
	return conf, nil
}
