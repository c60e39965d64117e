package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Environment variable names checked before the secrets file.
const (
	EnvTelegramBotToken = "TELEGRAM_BOT_TOKEN"
	EnvTelegramChatID   = "TELEGRAM_CHAT_ID"
	EnvOpenAIAPIKey     = "OPENAI_API_KEY"
	EnvClickUpToken     = "CLICKUP_TOKEN"
)

// Secrets holds the API credentials. All four are required to run.
type Secrets struct {
	TelegramBotToken Secret
	TelegramChatID   string
	OpenAIAPIKey     Secret
	ClickUpToken     Secret
}

// secretsFile mirrors the on-disk JSON layout of the secrets file.
type secretsFile struct {
	Telegram struct {
		BotToken string `json:"bot_token"`
		ChatID   string `json:"chat_id"`
	} `json:"telegram"`
	OpenAI struct {
		APIKey string `json:"api_key"`
	} `json:"openai"`
	ClickUp struct {
		Token string `json:"token"`
	} `json:"clickup"`
}

// DefaultSecretsPath returns the default secrets file location,
// ~/.voicetask/secrets.json.
func DefaultSecretsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".voicetask", "secrets.json")
}

// LoadSecrets resolves credentials from the environment first, then from
// the JSON secrets file for anything still missing. An empty path falls
// back to DefaultSecretsPath. Missing credentials are an error.
func LoadSecrets(path string) (*Secrets, error) {
	s := &Secrets{
		TelegramBotToken: Secret(os.Getenv(EnvTelegramBotToken)),
		TelegramChatID:   os.Getenv(EnvTelegramChatID),
		OpenAIAPIKey:     Secret(os.Getenv(EnvOpenAIAPIKey)),
		ClickUpToken:     Secret(os.Getenv(EnvClickUpToken)),
	}

	if path == "" {
		path = DefaultSecretsPath()
	}
	if path != "" {
		if err := s.fillFromFile(path); err != nil {
			return nil, err
		}
	}

	var missing []string
	if !s.TelegramBotToken.IsSet() {
		missing = append(missing, EnvTelegramBotToken)
	}
	if s.TelegramChatID == "" {
		missing = append(missing, EnvTelegramChatID)
	}
	if !s.OpenAIAPIKey.IsSet() {
		missing = append(missing, EnvOpenAIAPIKey)
	}
	if !s.ClickUpToken.IsSet() {
		missing = append(missing, EnvClickUpToken)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing credentials: set %s or add them to %s",
			strings.Join(missing, ", "), path)
	}
	return s, nil
}

// fillFromFile loads the secrets file and fills any credential that the
// environment did not provide. A missing file is not an error.
func (s *Secrets) fillFromFile(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read secrets file %s: %w", path, err)
	}

	var f secretsFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse secrets file %s: %w", path, err)
	}

	if !s.TelegramBotToken.IsSet() {
		s.TelegramBotToken = Secret(f.Telegram.BotToken)
	}
	if s.TelegramChatID == "" {
		s.TelegramChatID = f.Telegram.ChatID
	}
	if !s.OpenAIAPIKey.IsSet() {
		s.OpenAIAPIKey = Secret(f.OpenAI.APIKey)
	}
	if !s.ClickUpToken.IsSet() {
		s.ClickUpToken = Secret(f.ClickUp.Token)
	}
	return nil
}
