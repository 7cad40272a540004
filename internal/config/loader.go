package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted by Load after the file is decoded.
const (
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	EnvLLMAPIKey    = "VC_ASSISTANT_LLM_API_KEY"
	EnvLLMBaseURL   = "VC_ASSISTANT_LLM_BASE_URL"
	EnvLLMModel     = "VC_ASSISTANT_LLM_MODEL"
	EnvLLMProvider  = "VC_ASSISTANT_LLM_PROVIDER"
	EnvHost         = "VC_ASSISTANT_HOST"
	EnvPort         = "VC_ASSISTANT_PORT"
	EnvLogLevel     = "VC_ASSISTANT_LOG_LEVEL"
)

// LookupFunc has the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// Find returns the configuration file to use, or "" when there is none.
// An explicit path must exist. Otherwise ./vc-assistant.toml is tried, then
// vc-assistant/config.toml and vc-assistant/config.yaml in the XDG config dirs.
func Find(explicit string) (string, error) {
	workDir, err := os.Getwd()
	if err != nil {
		workDir = ""
	}

	return find(explicit, workDir)
}

func find(explicit, workDir string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return "", fmt.Errorf("%w: %s", ErrConfigNotFound, explicit)
			}

			return "", err
		}

		return explicit, nil
	}

	if workDir != "" {
		local := filepath.Join(workDir, DefaultFileName)
		if _, err := os.Stat(local); err == nil {
			return local, nil
		}
	}

	for _, name := range []string{"config.toml", "config.yaml"} {
		if path, err := xdg.SearchConfigFile(filepath.Join(AppName, name)); err == nil {
			return path, nil
		}
	}

	return "", nil
}

// Load finds and decodes the configuration over Default, applies environment
// overrides and validates the result.
func Load(explicit string) (Config, error) {
	path, err := Find(explicit)
	if err != nil {
		return Config{}, err
	}

	return load(path, os.LookupEnv)
}

func load(path string, lookup LookupFunc) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // user-provided config path
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}

		if err := Decode(data, filepath.Ext(path), &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config %s: %w", path, err)
		}
	}

	if err := ApplyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Decode unmarshals data into cfg according to ext (".toml", ".yaml" or ".yml").
// Keys absent from data keep their current values.
func Decode(data []byte, ext string, cfg *Config) error {
	switch strings.ToLower(ext) {
	case ".toml":
		meta, err := toml.NewDecoder(bytes.NewReader(data)).Decode(cfg)
		if err != nil {
			return err
		}

		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("unknown keys: %v", undecoded)
		}

		return nil
	case ".yaml", ".yml":
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)

		err := decoder.Decode(cfg)
		if errors.Is(err, io.EOF) {
			return nil
		}

		return err
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

// ApplyEnv overrides cfg with the values found through lookup.
// VC_ASSISTANT_LLM_API_KEY wins over OPENAI_API_KEY.
func ApplyEnv(cfg *Config, lookup LookupFunc) error {
	if lookup == nil {
		return nil
	}

	setString := func(key string, target *string) {
		if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
			*target = strings.TrimSpace(value)
		}
	}

	setString(EnvOpenAIAPIKey, &cfg.LLM.APIKey)
	setString(EnvLLMAPIKey, &cfg.LLM.APIKey)
	setString(EnvLLMBaseURL, &cfg.LLM.BaseURL)
	setString(EnvLLMModel, &cfg.LLM.Model)
	setString(EnvLLMProvider, &cfg.LLM.Provider)
	setString(EnvHost, &cfg.Server.Host)
	setString(EnvLogLevel, &cfg.Log.Level)

	if value, ok := lookup(EnvPort); ok && strings.TrimSpace(value) != "" {
		port, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidPort, EnvPort, value)
		}

		cfg.Server.Port = port
	}

	return nil
}
