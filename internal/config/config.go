// Package config loads the energychat configuration file. The file is JSON
// unless its name ends in .yaml or .yml. Environment variables override
// the file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DataDir       string `json:"data_dir" yaml:"data_dir"`
	LogLevel      string `json:"log_level" yaml:"log_level"`
	MaxConcurrent int    `json:"max_concurrent" yaml:"max_concurrent"`
	LLM           struct {
		Provider         string  `json:"provider" yaml:"provider"`
		BaseURL          string  `json:"base_url" yaml:"base_url"`
		APIKey           string  `json:"api_key" yaml:"api_key"`
		Model            string  `json:"model" yaml:"model"`
		MaxTokens        int     `json:"max_tokens" yaml:"max_tokens"`
		Temperature      float32 `json:"temperature" yaml:"temperature"`
		MaxContextTokens int     `json:"max_context_tokens" yaml:"max_context_tokens"`
		OutputReserve    int     `json:"output_reserve" yaml:"output_reserve"`
		TimeoutSeconds   int     `json:"timeout_seconds" yaml:"timeout_seconds"`
	} `json:"llm" yaml:"llm"`
	Chat struct {
		MaxSteps           int    `json:"max_steps" yaml:"max_steps"`
		ToolTimeoutSeconds int    `json:"tool_timeout_seconds" yaml:"tool_timeout_seconds"`
		Python             string `json:"python" yaml:"python"`
	} `json:"chat" yaml:"chat"`
	HTTP struct {
		Addr        string   `json:"addr" yaml:"addr"`
		CORSOrigins []string `json:"cors_origins" yaml:"cors_origins"`
	} `json:"http" yaml:"http"`
	Dataset struct {
		Path string `json:"path" yaml:"path"`
	} `json:"dataset" yaml:"dataset"`
	Client struct {
		ServerURL       string `json:"server_url" yaml:"server_url"`
		FlushIntervalMs int    `json:"flush_interval_ms" yaml:"flush_interval_ms"`
	} `json:"client" yaml:"client"`
}

// Default returns the configuration used when no file exists yet.
func Default() *Config {
	cfg := &Config{
		DataDir:       filepath.Join(os.Getenv("HOME"), ".energychat"),
		MaxConcurrent: 2,
	}
	cfg.LogLevel = "info"
	cfg.LLM.Provider = "openai"
	cfg.LLM.BaseURL = "https://api.openai.com/v1"
	cfg.LLM.Model = "gpt-4o-mini"
	cfg.LLM.MaxTokens = 2000
	cfg.LLM.Temperature = 0.2
	cfg.LLM.MaxContextTokens = 128000
	cfg.LLM.OutputReserve = 4096
	cfg.LLM.TimeoutSeconds = 120
	cfg.Chat.MaxSteps = 5
	cfg.Chat.ToolTimeoutSeconds = 30
	cfg.Chat.Python = "python3"
	cfg.HTTP.Addr = ":8000"
	cfg.HTTP.CORSOrigins = []string{"http://localhost:3000"}
	cfg.Client.ServerURL = "http://localhost:8000"
	cfg.Client.FlushIntervalMs = 50
	return cfg
}

// DatasetPath returns the SQLite file holding buildings and readings.
func (c *Config) DatasetPath() string {
	if c.Dataset.Path != "" {
		return c.Dataset.Path
	}
	return filepath.Join(c.DataDir, "energy.db")
}

func Load(path string) (*Config, error) {
	cfg := Default()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := unmarshal(path, data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		cfg.LLM.APIKey = apiKey
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		cfg.LLM.BaseURL = baseURL
	}
	if model := os.Getenv("OPENAI_MODEL"); model != "" {
		cfg.LLM.Model = model
	}
	if serverURL := os.Getenv("ENERGYCHAT_SERVER_URL"); serverURL != "" {
		cfg.Client.ServerURL = serverURL
	}
	if dataDir := os.Getenv("ENERGYCHAT_DATA_DIR"); dataDir != "" {
		cfg.DataDir = dataDir
	}

	return cfg, nil
}

// Save writes cfg to path atomically, creating the directory if needed.
func Save(path string, cfg *Config) error {
	return writeFile(path, cfg)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func unmarshal(path string, data []byte, v any) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, v)
	}
	return json.Unmarshal(data, v)
}

func marshal(path string, v any) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(v)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

func writeFile(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := marshal(path, v)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts cfg into a generic map with JSON field names. Numbers are
// float64 as with any decoded JSON.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return m, nil
}

// readMap reads the file at path as a generic map. YAML input is passed
// through JSON so values have the same types for both formats.
func readMap(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	m := make(map[string]any)
	if err := unmarshal(path, data, &m); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if isYAML(path) {
		normalized, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("normalize config: %w", err)
		}
		m = make(map[string]any)
		if err := json.Unmarshal(normalized, &m); err != nil {
			return nil, fmt.Errorf("normalize config: %w", err)
		}
	}
	return m, nil
}

// ListValues returns the flattened configuration, optionally with secrets
// masked.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

// GetValue returns the value stored under a dot-separated key in the file
// at path. The file is created with defaults if it does not exist.
func GetValue(path, key string) (any, error) {
	if _, err := Load(path); err != nil {
		return nil, err
	}
	m, err := readMap(path)
	if err != nil {
		return nil, err
	}
	v, ok := Flatten(m)[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue stores raw under a dot-separated key in the existing file at
// path. raw is parsed as JSON when possible so numbers, booleans and lists
// keep their type; anything else is stored as a string. The key must be
// one of Keys and the result must still decode into a Config.
func SetValue(path, key, raw string) error {
	if !knownKey(key) {
		return fmt.Errorf("unknown config key: %s", key)
	}
	m, err := readMap(path)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		v = raw
	}
	flat := Flatten(m)
	flat[key] = v
	updated := Unflatten(flat)

	data, err := json.Marshal(updated)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := json.Unmarshal(data, new(Config)); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return writeFile(path, updated)
}

func knownKey(key string) bool {
	for _, k := range Keys() {
		if k == key {
			return true
		}
	}
	return false
}
