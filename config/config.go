package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/wesm/awesome-sync/internal/linkcheck"
	"github.com/wesm/awesome-sync/internal/markdown"
)

const (
	// EnvGithubToken is the environment variable name for the GitHub API token
	EnvGithubToken = "AWESOME_SYNC_GITHUB_TOKEN"

	defaultDatabasePath = "awesome.db"
	defaultReadmePath   = "README.md"
)

// ExportConfig controls the generated awesome list
type ExportConfig struct {
	Title               string   `json:"title"`
	Description         string   `json:"description"`
	WebsiteURL          string   `json:"website_url,omitempty" validate:"omitempty,url"`
	IncludeContributing bool     `json:"include_contributing"`
	IncludeLicense      bool     `json:"include_license"`
	CategoryOrder       []string `json:"category_order,omitempty"`
	// Fail exports whose output does not pass lint
	RequireValid bool `json:"require_valid"`
}

// LinkCheckConfig controls the link checker
type LinkCheckConfig struct {
	TimeoutSeconds int `json:"timeout_seconds" validate:"gte=1"`
	Concurrency    int `json:"concurrency" validate:"gte=1,lte=50"`
	RetryCount     int `json:"retry_count" validate:"gte=0,lte=10"`
}

// Config represents the application configuration
type Config struct {
	// GitHub API token for authentication (optional, can be set via AWESOME_SYNC_GITHUB_TOKEN env var)
	GitHubToken string `json:"github_token"`

	// Path to the SQLite database file
	DatabasePath string `json:"database_path" validate:"required"`

	// Repository synced when a command names none, as "owner/name" or a URL
	Repository string `json:"repository,omitempty"`

	// Branch to sync; empty means the repository's default branch
	Branch string `json:"branch,omitempty"`

	// File holding the awesome list within the repository
	ReadmePath string `json:"readme_path" validate:"required"`

	LogLevel string `json:"log_level" validate:"omitempty,oneof=trace debug info warn error"`

	Export    ExportConfig    `json:"export"`
	LinkCheck LinkCheckConfig `json:"link_check"`
}

// Default returns the configuration used for fields a file leaves out
func Default() *Config {
	return &Config{
		DatabasePath: defaultDatabasePath,
		ReadmePath:   defaultReadmePath,
		LogLevel:     "info",
		Export: ExportConfig{
			Title:               "Awesome List",
			IncludeContributing: true,
			IncludeLicense:      true,
		},
		LinkCheck: LinkCheckConfig{
			TimeoutSeconds: 10,
			Concurrency:    5,
			RetryCount:     2,
		},
	}
}

// LoadConfig loads the configuration from a JSON file. A .env file next to
// it is loaded first; the environment token overrides the file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	configDir := filepath.Dir(path)
	_ = godotenv.Load(filepath.Join(configDir, ".env"))

	// Check for GitHub token in environment variable
	if envToken := os.Getenv(EnvGithubToken); envToken != "" {
		config.GitHubToken = envToken
	}

	if config.DatabasePath == "" {
		config.DatabasePath = defaultDatabasePath
	}
	if config.ReadmePath == "" {
		config.ReadmePath = defaultReadmePath
	}

	// Make database path absolute if it's relative
	if config.DatabasePath != ":memory:" && !filepath.IsAbs(config.DatabasePath) {
		config.DatabasePath = filepath.Join(configDir, config.DatabasePath)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks field constraints
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// FormatOptions returns the formatter options for an export to repoURL
func (c *Config) FormatOptions(repoURL string) markdown.Options {
	return markdown.Options{
		Title:               c.Export.Title,
		Description:         c.Export.Description,
		WebsiteURL:          c.Export.WebsiteURL,
		RepoURL:             repoURL,
		IncludeContributing: c.Export.IncludeContributing,
		IncludeLicense:      c.Export.IncludeLicense,
		CategoryOrder:       c.Export.CategoryOrder,
	}
}

// LinkCheckOptions returns the link checker options
func (c *Config) LinkCheckOptions() linkcheck.Options {
	opts := linkcheck.DefaultOptions()
	opts.Timeout = time.Duration(c.LinkCheck.TimeoutSeconds) * time.Second
	opts.Concurrency = c.LinkCheck.Concurrency
	opts.RetryCount = c.LinkCheck.RetryCount
	return opts
}

// SaveConfig saves the configuration to a JSON file
func SaveConfig(config *Config, path string) error {
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// CreateDefaultConfig creates a default configuration file if it doesn't exist
func CreateDefaultConfig(path string) error {
	// Check if the file already exists
	if _, err := os.Stat(path); err == nil {
		return nil // File exists, don't overwrite
	}

	config := Default()
	config.Repository = "example/awesome-list"

	// Ensure the directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return SaveConfig(config, path)
}
