package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// maxConfigSize caps config file reads at 1MB.
const maxConfigSize = 1 << 20

// envPrefix namespaces the environment overrides, e.g.
// VOICETASK_CLICKUP_LIST_ID maps to clickup.list_id.
const envPrefix = "VOICETASK_"

// defaultConfig seeds every setting with its default value. File and
// environment sources are merged on top of it.
const defaultConfig = `
telegram:
  check_hours: 1
openai:
  transcribe_model: whisper-1
  language: ru
  extract_model: gpt-4.1-mini
  max_attempts: 3
  workers: 3
clickup:
  member_cache_ttl: 1h
  reminders_enabled: true
  reminder_offset: 2h
http:
  max_attempts: 4
pipeline:
  download_workers: 3
  default_priority: 3
  timezone: Europe/Moscow
  store_transcriptions: true
  transcription_max_chars: 4000
  state_file: state.json
  lock_file: .voicetask.lock
  cache_file: .cache/clickup_members.json
  output_dir: logs
  log_retention_days: 30
  tasks_retention_days: 30
summary:
  enabled: false
logging:
  level: info
  format: json
`

// DefaultPath returns the default config file location,
// ~/.config/voicetask/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "voicetask", "config.yaml")
}

// Load reads configuration from the given YAML file, overlays environment
// variables and validates the result. An empty path falls back to
// DefaultPath; a missing file is only an error when the path was given
// explicitly.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider([]byte(defaultConfig)), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load default config: %w", err)
	}

	optional := path == ""
	if optional {
		path = DefaultPath()
	}
	if path != "" {
		data, err := readConfigFile(path)
		switch {
		case err == nil:
			if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		case os.IsNotExist(err) && optional:
			// No config file, defaults and environment apply.
		default:
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyToPath), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// envKeyToPath maps VOICETASK_SECTION_FIELD_NAME to section.field_name.
func envKeyToPath(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	parts := strings.SplitN(key, "_", 2)
	if len(parts) == 2 {
		return parts[0] + "." + parts[1]
	}
	return key
}

func readConfigFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigSize)
	}
	return os.ReadFile(path)
}
