package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/ckpt-sync/internal/model"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 30*time.Minute, cfg.Timeout)
	assert.Equal(t, model.PolicyFailFast, cfg.Policy)
	assert.Equal(t, 3, cfg.MaxDepth)
	require.Len(t, cfg.Sets, 2)

	assert.Equal(t, "v1", cfg.Sets[0].Label)
	assert.Equal(t, "checkpoints", cfg.Sets[0].ArchiveDir)
	assert.Equal(t, "checkpoints", cfg.Sets[0].Target)
	assert.Contains(t, cfg.Sets[0].URL, "checkpoints_1226.zip")

	assert.Equal(t, "v2", cfg.Sets[1].Label)
	assert.Equal(t, "checkpoints_v2", cfg.Sets[1].ArchiveDir)
	assert.Equal(t, "checkpoints_v2", cfg.Sets[1].Target)
	assert.Contains(t, cfg.Sets[1].URL, "checkpoints_v2_0417.zip")

	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFile_YAML(t *testing.T) {
	path := writeConfig(t, "ckpt-sync.yaml", `
workdir: /srv/openvoice
timeout: 45m
policy: keep-going
max_depth: 2
s3:
  endpoint: minio.local:9000
  insecure: true
sets:
  - label: v2
    url: s3://models/checkpoints_v2_0417.zip
    archive_dir: checkpoints_v2
    target: checkpoints_v2
    required:
      - converter/checkpoint.pth
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/openvoice", cfg.WorkDir)
	assert.Equal(t, 45*time.Minute, cfg.Timeout)
	assert.Equal(t, model.PolicyKeepGoing, cfg.Policy)
	assert.Equal(t, 2, cfg.MaxDepth)
	assert.Equal(t, "minio.local:9000", cfg.S3.Endpoint)
	assert.Equal(t, "us-east-1", cfg.S3.Region, "unset fields keep their defaults")
	assert.True(t, cfg.S3.Insecure)

	require.Len(t, cfg.Sets, 1, "file sets replace the defaults")
	assert.Equal(t, "v2", cfg.Sets[0].Label)
	assert.Equal(t, []string{"converter/checkpoint.pth"}, cfg.Sets[0].Required)
}

func TestLoadFromFile_JSONC(t *testing.T) {
	path := writeConfig(t, "ckpt-sync.jsonc", `{
  // only tune the timeout
  "timeout": "10m",
  "user_agent": "openvoice-setup",
}`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, cfg.Timeout)
	assert.Equal(t, "openvoice-setup", cfg.UserAgent)
	assert.Len(t, cfg.Sets, 2)
}

func TestLoadFromFile_Errors(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		content  string
		contains string
	}{
		{"bad yaml", "c.yaml", "sets: [", "parse config file"},
		{"bad duration", "c.yaml", "timeout: soon", "parse timeout"},
		{"bad policy", "c.yml", "policy: sometimes", "sometimes"},
		{"unknown extension", "c.toml", "timeout = 1", "unsupported config file extension"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromFile(writeConfig(t, tt.file, tt.content))
			require.Error(t, err)
			assert.True(t, errors.Is(err, model.ErrConfig))
			assert.Contains(t, err.Error(), tt.contains)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.True(t, errors.Is(err, model.ErrConfig))
	})
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("CKPT_SYNC_WORKDIR", "/opt/voices")
	t.Setenv("CKPT_SYNC_TIMEOUT", "5m")
	t.Setenv("CKPT_SYNC_POLICY", "Keep-Going")
	t.Setenv("CKPT_SYNC_MAX_DEPTH", "4")
	t.Setenv("CKPT_SYNC_S3_ACCESS_KEY", "AKIA")
	t.Setenv("CKPT_SYNC_S3_SECRET_KEY", "secret")
	t.Setenv("CKPT_SYNC_S3_INSECURE", "1")

	cfg := Default()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "/opt/voices", cfg.WorkDir)
	assert.Equal(t, 5*time.Minute, cfg.Timeout)
	assert.Equal(t, model.PolicyKeepGoing, cfg.Policy)
	assert.Equal(t, 4, cfg.MaxDepth)
	assert.Equal(t, "AKIA", cfg.S3.AccessKey)
	assert.Equal(t, "secret", cfg.S3.SecretKey)
	assert.True(t, cfg.S3.Insecure)
}

func TestLoadFromEnv_Invalid(t *testing.T) {
	t.Setenv("CKPT_SYNC_MAX_DEPTH", "deep")

	cfg := Default()
	err := cfg.LoadFromEnv()
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrConfig))
	assert.Contains(t, err.Error(), "CKPT_SYNC_MAX_DEPTH")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "c.yaml", "timeout: 45m\npolicy: keep-going\n")
	t.Setenv("CKPT_SYNC_TIMEOUT", "1m")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, cfg.Timeout)
	assert.Equal(t, model.PolicyKeepGoing, cfg.Policy)
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("CKPT_SYNC_USER_AGENT=from-dotenv\n"), 0o644))
	t.Setenv("CKPT_SYNC_USER_AGENT", "")
	require.NoError(t, os.Unsetenv("CKPT_SYNC_USER_AGENT"))

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-dotenv", os.Getenv("CKPT_SYNC_USER_AGENT"))

	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		contains string
	}{
		{"no sets", func(c *Config) { c.Sets = nil }, "no checkpoint sets"},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }, "timeout"},
		{"bad policy", func(c *Config) { c.Policy = "sometimes" }, "failure policy"},
		{"bad depth", func(c *Config) { c.MaxDepth = 0 }, "max depth"},
		{"duplicate label", func(c *Config) { c.Sets[1].Label = "v1" }, "duplicate"},
		{"shared target", func(c *Config) { c.Sets[1].Target = "./checkpoints" }, "share target"},
		{"nested target", func(c *Config) { c.Sets[1].Target = "checkpoints/v2" }, "overlap"},
		{"parent target", func(c *Config) { c.Sets[1].Target = "checkpoints/.." }, "overlap"},
		{"invalid set", func(c *Config) { c.Sets[0].URL = "" }, "url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, model.ErrConfig))
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestTargetPath(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "checkpoints", cfg.TargetPath(cfg.Sets[0]))

	cfg.WorkDir = "/srv/openvoice"
	assert.Equal(t, "/srv/openvoice/checkpoints_v2", cfg.TargetPath(cfg.Sets[1]))

	abs := model.CheckpointSet{Target: "/data/ckpt"}
	assert.Equal(t, "/data/ckpt", cfg.TargetPath(abs))
}

func TestSelect(t *testing.T) {
	cfg := Default()

	all, err := cfg.Select(nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	only, err := cfg.Select([]string{"v2"})
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.Equal(t, "v2", only[0].Label)

	ordered, err := cfg.Select([]string{"v2", "v1"})
	require.NoError(t, err)
	assert.Equal(t, "v1", ordered[0].Label, "configuration order wins")

	_, err = cfg.Select([]string{"v3", "v1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrConfig))
	assert.Contains(t, err.Error(), "v3")
}
