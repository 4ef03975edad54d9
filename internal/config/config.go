package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/shinji-kodama/ckpt-sync/internal/fetch"
	"github.com/shinji-kodama/ckpt-sync/internal/model"
)

// EnvPrefix prefixes every environment variable ckpt-sync reads.
const EnvPrefix = "CKPT_SYNC_"

// Config defines configuration for the ckpt-sync CLI.
type Config struct {
	// WorkDir is the directory relative targets are resolved against.
	// Empty means the process working directory.
	WorkDir string

	// Timeout bounds each fetch-and-install pass.
	Timeout time.Duration

	// Policy decides whether a failed pass stops the run.
	Policy model.FailurePolicy

	// MaxDepth bounds the final file listing.
	MaxDepth int

	// UserAgent is sent with HTTP requests.
	UserAgent string

	// S3 configures s3:// sources.
	S3 fetch.S3Options

	// Sets are the checkpoint sets, provisioned in this order.
	Sets []model.CheckpointSet
}

// DefaultSets returns the two OpenVoice checkpoint sets: the V1 base
// speakers and the V2 tone-colour converter.
func DefaultSets() []model.CheckpointSet {
	return []model.CheckpointSet{
		{
			Label:      "v1",
			URL:        "https://myshell-public-repo-host.s3.amazonaws.com/openvoice/checkpoints_1226.zip",
			ArchiveDir: "checkpoints",
			Target:     "checkpoints",
			Required: []string{
				"base_speakers/EN/config.json",
				"base_speakers/EN/checkpoint.pth",
			},
		},
		{
			Label:      "v2",
			URL:        "https://myshell-public-repo-host.s3.amazonaws.com/openvoice/checkpoints_v2_0417.zip",
			ArchiveDir: "checkpoints_v2",
			Target:     "checkpoints_v2",
			Required: []string{
				"converter/config.json",
				"converter/checkpoint.pth",
				"base_speakers/ses/en-newest.pth",
			},
		},
	}
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Timeout:   30 * time.Minute,
		Policy:    model.PolicyFailFast,
		MaxDepth:  3,
		UserAgent: "ckpt-sync",
		S3:        fetch.DefaultS3Options(),
		Sets:      DefaultSets(),
	}
}

// fileConfig is the on-disk shape shared by YAML and JSON(C) files.
// Durations are strings such as "45m".
type fileConfig struct {
	WorkDir   string       `yaml:"workdir" json:"workdir"`
	Timeout   string       `yaml:"timeout" json:"timeout"`
	Policy    string       `yaml:"policy" json:"policy"`
	MaxDepth  int          `yaml:"max_depth" json:"max_depth"`
	UserAgent string       `yaml:"user_agent" json:"user_agent"`
	S3        fileS3Config `yaml:"s3" json:"s3"`
	Sets      []fileSet    `yaml:"sets" json:"sets"`
}

type fileS3Config struct {
	Endpoint  string `yaml:"endpoint" json:"endpoint"`
	Region    string `yaml:"region" json:"region"`
	AccessKey string `yaml:"access_key" json:"access_key"`
	SecretKey string `yaml:"secret_key" json:"secret_key"`
	Insecure  bool   `yaml:"insecure" json:"insecure"`
}

type fileSet struct {
	Label      string   `yaml:"label" json:"label"`
	URL        string   `yaml:"url" json:"url"`
	ArchiveDir string   `yaml:"archive_dir" json:"archive_dir"`
	Target     string   `yaml:"target" json:"target"`
	Required   []string `yaml:"required" json:"required"`
}

// LoadFromFile loads configuration from a YAML (.yaml, .yml) or JSON with
// comments (.json, .jsonc) file on top of Default. A file that lists sets
// replaces the default sets entirely.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: read config file: %v", model.ErrConfig, err)
	}

	var fc fileConfig
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return Config{}, fmt.Errorf("%w: parse config file: %v", model.ErrConfig, err)
		}
	case ".json", ".jsonc":
		// jsonc.ToJSON strips comments and trailing commas so the
		// standard decoder can take over.
		if err := json.Unmarshal(jsonc.ToJSON(data), &fc); err != nil {
			return Config{}, fmt.Errorf("%w: parse config file: %v", model.ErrConfig, err)
		}
	default:
		return Config{}, fmt.Errorf("%w: unsupported config file extension %q (use .yaml, .yml, .json or .jsonc)", model.ErrConfig, ext)
	}

	cfg := Default()
	if err := cfg.apply(fc); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// apply overlays the non-zero fields of fc.
func (c *Config) apply(fc fileConfig) error {
	if fc.WorkDir != "" {
		c.WorkDir = fc.WorkDir
	}
	if fc.Timeout != "" {
		d, err := time.ParseDuration(fc.Timeout)
		if err != nil {
			return fmt.Errorf("%w: parse timeout: %v", model.ErrConfig, err)
		}
		c.Timeout = d
	}
	if fc.Policy != "" {
		p, err := model.ParseFailurePolicy(fc.Policy)
		if err != nil {
			return fmt.Errorf("%w: %v", model.ErrConfig, err)
		}
		c.Policy = p
	}
	if fc.MaxDepth != 0 {
		c.MaxDepth = fc.MaxDepth
	}
	if fc.UserAgent != "" {
		c.UserAgent = fc.UserAgent
	}
	if fc.S3.Endpoint != "" {
		c.S3.Endpoint = fc.S3.Endpoint
	}
	if fc.S3.Region != "" {
		c.S3.Region = fc.S3.Region
	}
	if fc.S3.AccessKey != "" {
		c.S3.AccessKey = fc.S3.AccessKey
	}
	if fc.S3.SecretKey != "" {
		c.S3.SecretKey = fc.S3.SecretKey
	}
	c.S3.Insecure = c.S3.Insecure || fc.S3.Insecure

	if len(fc.Sets) > 0 {
		c.Sets = make([]model.CheckpointSet, 0, len(fc.Sets))
		for _, s := range fc.Sets {
			c.Sets = append(c.Sets, model.CheckpointSet{
				Label:      s.Label,
				URL:        s.URL,
				ArchiveDir: s.ArchiveDir,
				Target:     s.Target,
				Required:   s.Required,
			})
		}
	}
	return nil
}

// LoadDotEnv loads KEY=value pairs from a .env file into the process
// environment without overriding variables that are already set. A
// missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("%w: load %s: %v", model.ErrConfig, path, err)
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the CKPT_SYNC_ prefix.
func (c *Config) LoadFromEnv() error {
	if v := getenv("WORKDIR"); v != "" {
		c.WorkDir = v
	}
	if v := getenv("TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: parse %sTIMEOUT: %v", model.ErrConfig, EnvPrefix, err)
		}
		c.Timeout = d
	}
	if v := getenv("POLICY"); v != "" {
		p, err := model.ParseFailurePolicy(v)
		if err != nil {
			return fmt.Errorf("%w: parse %sPOLICY: %v", model.ErrConfig, EnvPrefix, err)
		}
		c.Policy = p
	}
	if v := getenv("MAX_DEPTH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: parse %sMAX_DEPTH: %v", model.ErrConfig, EnvPrefix, err)
		}
		c.MaxDepth = n
	}
	if v := getenv("USER_AGENT"); v != "" {
		c.UserAgent = v
	}
	if v := getenv("S3_ENDPOINT"); v != "" {
		c.S3.Endpoint = v
	}
	if v := getenv("S3_REGION"); v != "" {
		c.S3.Region = v
	}
	if v := getenv("S3_ACCESS_KEY"); v != "" {
		c.S3.AccessKey = v
	}
	if v := getenv("S3_SECRET_KEY"); v != "" {
		c.S3.SecretKey = v
	}
	if v := getenv("S3_INSECURE"); v != "" {
		c.S3.Insecure = v == "true" || v == "1"
	}
	return nil
}

func getenv(name string) string {
	return strings.TrimSpace(os.Getenv(EnvPrefix + name))
}

// Load builds the effective configuration: defaults, then the optional
// file at path, then CKPT_SYNC_* variables (including those from .env in
// the working directory).
func Load(path string) (Config, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return Config{}, err
	}
	if path == "" {
		path = getenv("CONFIG")
	}

	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if len(c.Sets) == 0 {
		return fmt.Errorf("%w: no checkpoint sets configured", model.ErrConfig)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive, got %s", model.ErrConfig, c.Timeout)
	}
	if !c.Policy.IsValid() {
		return fmt.Errorf("%w: invalid failure policy %q", model.ErrConfig, c.Policy)
	}
	if c.MaxDepth < 1 {
		return fmt.Errorf("%w: max depth must be at least 1, got %d", model.ErrConfig, c.MaxDepth)
	}

	labels := make(map[string]bool, len(c.Sets))
	type claimed struct{ label, dir string }
	targets := make([]claimed, 0, len(c.Sets))
	for i := range c.Sets {
		set := &c.Sets[i]
		if err := set.Validate(); err != nil {
			return fmt.Errorf("%w: %v", model.ErrConfig, err)
		}
		if labels[set.Label] {
			return fmt.Errorf("%w: duplicate checkpoint set label %q", model.ErrConfig, set.Label)
		}
		labels[set.Label] = true

		// Passes must target disjoint directories: a mirror into one target
		// would otherwise rewrite part of another.
		target := absTarget(c.TargetPath(*set))
		for _, other := range targets {
			switch {
			case other.dir == target:
				return fmt.Errorf("%w: sets %q and %q share target %s", model.ErrConfig, other.label, set.Label, target)
			case within(other.dir, target), within(target, other.dir):
				return fmt.Errorf("%w: targets of sets %q and %q overlap: %s and %s",
					model.ErrConfig, other.label, set.Label, other.dir, target)
			}
		}
		targets = append(targets, claimed{label: set.Label, dir: target})
	}
	return nil
}

// absTarget returns the cleaned absolute form of dir, or the cleaned dir
// itself if the working directory is unknown.
func absTarget(dir string) string {
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return filepath.Clean(dir)
}

// within reports whether child lies strictly beneath parent.
func within(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil || rel == "." || rel == ".." {
		return false
	}
	return !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// TargetPath resolves a set's target against WorkDir.
func (c *Config) TargetPath(set model.CheckpointSet) string {
	if filepath.IsAbs(set.Target) || c.WorkDir == "" {
		return set.Target
	}
	return filepath.Join(c.WorkDir, set.Target)
}

// Select returns the sets whose labels are listed, in configuration order.
// An empty list selects every set. Unknown labels are an error.
func (c *Config) Select(labels []string) ([]model.CheckpointSet, error) {
	if len(labels) == 0 {
		return c.Sets, nil
	}

	wanted := make(map[string]bool, len(labels))
	for _, l := range labels {
		wanted[strings.TrimSpace(l)] = true
	}

	var selected []model.CheckpointSet
	for _, s := range c.Sets {
		if wanted[s.Label] {
			selected = append(selected, s)
			delete(wanted, s.Label)
		}
	}
	if len(wanted) > 0 {
		unknown := make([]string, 0, len(wanted))
		for l := range wanted {
			unknown = append(unknown, l)
		}
		sort.Strings(unknown)
		return nil, fmt.Errorf("%w: unknown checkpoint set(s): %s", model.ErrConfig, strings.Join(unknown, ", "))
	}
	return selected, nil
}
