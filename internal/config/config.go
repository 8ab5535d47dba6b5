package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"chathist/internal/chat"
)

type Storage struct {
	DataDir    string `yaml:"data_dir"`
	DBPath     string `yaml:"db_path"`
	LegacyJSON bool   `yaml:"legacy_json"`
	Key        string `yaml:"key"`
}

type Chat struct {
	PlaceholderTitle string `yaml:"placeholder_title"`
	TitleLength      int    `yaml:"title_length"`
}

type UI struct {
	DefaultRole string `yaml:"default_role"`
}

type Log struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type Config struct {
	Storage Storage `yaml:"storage"`
	Chat    Chat    `yaml:"chat"`
	UI      UI      `yaml:"ui"`
	Log     Log     `yaml:"log"`
}

// Default returns the configuration used when no config file exists.
// DataDir is left empty; callers resolve it against the home directory.
func Default() *Config {
	return &Config{
		Storage: Storage{Key: chat.DefaultKey},
		Chat: Chat{
			PlaceholderTitle: chat.DefaultPlaceholderTitle,
			TitleLength:      chat.DefaultTitleLength,
		},
		UI:  UI{DefaultRole: string(chat.RoleUser)},
		Log: Log{Level: "info"},
	}
}

// Load reads the YAML config at path. A missing file yields Default().
// Keys left out of the file keep their default values.
func Load(path string) (*Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("invalid yaml: %w", err)
	}
	// Ensure there are no extra YAML documents.
	var extra any
	if err := dec.Decode(&extra); err != io.EOF {
		if err == nil {
			return nil, errors.New("invalid yaml: multiple documents are not supported")
		}
		return nil, fmt.Errorf("invalid yaml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Storage.Key) == "" {
		return errors.New("storage.key is required")
	}
	if strings.ContainsAny(c.Storage.Key, "/\\") || strings.Contains(c.Storage.Key, "..") {
		return fmt.Errorf("storage.key %q must not contain path separators or '..'", c.Storage.Key)
	}
	if c.Chat.PlaceholderTitle == "" {
		return errors.New("chat.placeholder_title is required")
	}
	if c.Chat.TitleLength < 1 {
		return fmt.Errorf("chat.title_length must be >= 1")
	}
	if _, err := chat.ParseRole(c.UI.DefaultRole); err != nil {
		return fmt.Errorf("ui.default_role: %w", err)
	}
	return nil
}

// DefaultRole returns the parsed ui.default_role.
func (c *Config) DefaultRole() chat.Role {
	r, err := chat.ParseRole(c.UI.DefaultRole)
	if err != nil {
		return chat.RoleUser
	}
	return r
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(p, home string) string {
	p = strings.TrimSpace(p)
	if p == "~" {
		return home
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(home, p[2:])
	}
	return p
}

func MinimalExampleYAML() string {
	// Keep this tiny; every key is optional.
	return `
storage:
  data_dir: ~/.local/share/chathist
  legacy_json: false
chat:
  placeholder_title: 新对话
  title_length: 10
ui:
  default_role: user
log:
  level: info
`
}
