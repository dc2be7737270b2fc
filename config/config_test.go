package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearToken unsets the token for the test and restores it afterwards
func clearToken(t *testing.T) {
	t.Helper()
	t.Setenv(EnvGithubToken, "")
	require.NoError(t, os.Unsetenv(EnvGithubToken))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

func TestLoadConfig(t *testing.T) {
	clearToken(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	writeFile(t, path, `{
		"github_token": "from-file",
		"repository": "octo/awesome",
		"export": {"title": "Awesome Video", "include_license": false},
		"link_check": {"concurrency": 8}
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.GitHubToken)
	assert.Equal(t, filepath.Join(dir, "awesome.db"), cfg.DatabasePath)
	assert.Equal(t, "README.md", cfg.ReadmePath)
	assert.Equal(t, "Awesome Video", cfg.Export.Title)
	assert.True(t, cfg.Export.IncludeContributing, "defaults survive partial sections")
	assert.False(t, cfg.Export.IncludeLicense)

	opts := cfg.LinkCheckOptions()
	assert.Equal(t, 8, opts.Concurrency)
	assert.Equal(t, 10*time.Second, opts.Timeout)
	assert.Equal(t, 2, opts.RetryCount)

	format := cfg.FormatOptions("https://github.com/octo/awesome")
	assert.Equal(t, "Awesome Video", format.Title)
	assert.Equal(t, "https://github.com/octo/awesome", format.RepoURL)
}

func TestLoadConfigEnvironment(t *testing.T) {
	t.Run("env overrides file", func(t *testing.T) {
		clearToken(t)
		t.Setenv(EnvGithubToken, "from-env")
		path := filepath.Join(t.TempDir(), "config.json")
		writeFile(t, path, `{"github_token": "from-file"}`)

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, "from-env", cfg.GitHubToken)
	})

	t.Run("dotenv next to the config", func(t *testing.T) {
		clearToken(t)
		dir := t.TempDir()
		path := filepath.Join(dir, "config.json")
		writeFile(t, path, `{}`)
		writeFile(t, filepath.Join(dir, ".env"), EnvGithubToken+"=from-dotenv\n")
		t.Cleanup(func() { os.Unsetenv(EnvGithubToken) })

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, "from-dotenv", cfg.GitHubToken)
	})
}

func TestLoadConfigInvalid(t *testing.T) {
	clearToken(t)
	dir := t.TempDir()

	cases := map[string]string{
		"malformed json": `{"database_path": `,
		"zero timeout":   `{"link_check": {"timeout_seconds": 0}}`,
		"bad log level":  `{"log_level": "chatty"}`,
		"bad website":    `{"export": {"website_url": "not a url"}}`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+".json")
			writeFile(t, path, content)
			_, err := LoadConfig(path)
			assert.Error(t, err)
		})
	}

	_, err := LoadConfig(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestCreateDefaultConfig(t *testing.T) {
	clearToken(t)
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	require.NoError(t, CreateDefaultConfig(path))
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "example/awesome-list", cfg.Repository)
	assert.True(t, cfg.Export.IncludeLicense)

	// an existing file is left alone
	cfg.Repository = "octo/awesome"
	require.NoError(t, SaveConfig(cfg, path))
	require.NoError(t, CreateDefaultConfig(path))
	again, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "octo/awesome", again.Repository)
}
