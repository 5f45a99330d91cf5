// Package config loads and validates the immutable run configuration.
//
// Every recognized option is an explicit field; unknown YAML keys are
// rejected so typos fail at startup, not at use.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Known tool integrations.
const (
	ToolMiXCR  = "mixcr"
	ToolTRUST4 = "trust4"
)

// SampleConfig names one paired-end sample. Paths may be local or s3:// URLs.
type SampleConfig struct {
	Name string `yaml:"name"`
	R1   string `yaml:"r1"`
	R2   string `yaml:"r2"`
}

// ToolConfig is one external analysis tool's parameter set.
type ToolConfig struct {
	Name       string   `yaml:"name"`    // mixcr | trust4
	Executable string   `yaml:"exe"`     // defaults to Name on PATH
	Preset     string   `yaml:"preset"`  // tool preset/mode
	Species    string   `yaml:"species"` // e.g. hsa, mmu
	RefDB      string   `yaml:"refdb"`   // reference database location
	ExtraArgs  []string `yaml:"extra_args"`
}

// S3Config configures optional staging of s3:// inputs to local scratch.
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// Config is the validated, immutable run configuration.
type Config struct {
	Samples []SampleConfig `yaml:"samples"`
	Tools   []ToolConfig   `yaml:"tools"`

	// Chunking
	ChunkSize    int `yaml:"chunk_size"`     // reads per chunk
	MinChunkSize int `yaml:"min_chunk_size"` // trailing chunks below this fold into the previous one

	// Concurrency
	TotalThreads       int `yaml:"threads"`
	MaxSamples         int `yaml:"max_concurrent_samples"`
	MaxChunksPerSample int `yaml:"max_concurrent_chunks"`

	// Paths
	CacheDir string `yaml:"cache_dir"`
	WorkDir  string `yaml:"work_dir"`
	Splitter string `yaml:"splitter"` // paired-end FASTQ splitting utility

	// Per-invocation timeout for external tools; zero disables.
	Timeout time.Duration `yaml:"-"`
	// RawTimeout is the YAML-facing duration string ("90m", "2h", ...).
	RawTimeout string `yaml:"timeout"`

	S3 S3Config `yaml:"s3"`
}

// Load reads the YAML run config at path, applies environment overrides
// (a .env file is honored when present), and validates the result.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(string(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if cfg.RawTimeout != "" {
		d, err := time.ParseDuration(cfg.RawTimeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse timeout %q: %w", cfg.RawTimeout, err)
		}
		cfg.Timeout = d
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv layers TCRFLOW_* environment variables over the file values.
func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("TCRFLOW_CACHE_DIR")); v != "" {
		c.CacheDir = v
	}
	if v := strings.TrimSpace(os.Getenv("TCRFLOW_WORK_DIR")); v != "" {
		c.WorkDir = v
	}
	if v := strings.TrimSpace(os.Getenv("TCRFLOW_SPLITTER")); v != "" {
		c.Splitter = v
	}
	if v := strings.TrimSpace(os.Getenv("TCRFLOW_THREADS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.TotalThreads = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("TCRFLOW_S3_ENDPOINT")); v != "" {
		c.S3.Endpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("TCRFLOW_S3_ACCESS_KEY")); v != "" {
		c.S3.AccessKey = v
	}
	if v := strings.TrimSpace(os.Getenv("TCRFLOW_S3_SECRET_KEY")); v != "" {
		c.S3.SecretKey = v
	}
}

func (c *Config) applyDefaults() {
	if c.MinChunkSize == 0 && c.ChunkSize > 0 {
		c.MinChunkSize = c.ChunkSize / 10
		if c.MinChunkSize < 1 {
			c.MinChunkSize = 1
		}
	}
	if c.MaxSamples == 0 {
		c.MaxSamples = 1
	}
	if c.MaxChunksPerSample == 0 {
		c.MaxChunksPerSample = 1
	}
	if c.Splitter == "" {
		c.Splitter = "seqkit"
	}
	if c.WorkDir == "" {
		c.WorkDir = "tcrflow-work"
	}
	for i := range c.Tools {
		if c.Tools[i].Executable == "" {
			c.Tools[i].Executable = c.Tools[i].Name
		}
	}
}

// Validate rejects invalid option combinations. These are the only errors
// that are fatal to a whole run; everything downstream degrades per sample
// or per chunk.
func (c *Config) Validate() error {
	if len(c.Samples) == 0 {
		return errors.New("config: at least one sample is required")
	}
	seen := map[string]bool{}
	for i, s := range c.Samples {
		if s.Name == "" {
			return fmt.Errorf("config: sample #%d has no name", i+1)
		}
		if seen[s.Name] {
			return fmt.Errorf("config: duplicate sample name %q", s.Name)
		}
		seen[s.Name] = true
		if s.R1 == "" || s.R2 == "" {
			return fmt.Errorf("config: sample %q must have both r1 and r2", s.Name)
		}
	}
	if len(c.Tools) != 2 {
		return fmt.Errorf("config: exactly two tools are required for comparison, got %d", len(c.Tools))
	}
	for _, t := range c.Tools {
		if t.Name != ToolMiXCR && t.Name != ToolTRUST4 {
			return fmt.Errorf("config: unknown tool %q (want %s or %s)", t.Name, ToolMiXCR, ToolTRUST4)
		}
	}
	if c.Tools[0].Name == c.Tools[1].Name {
		return fmt.Errorf("config: the two tools must differ, both are %q", c.Tools[0].Name)
	}
	if c.ChunkSize <= 0 {
		return errors.New("config: chunk_size must be > 0")
	}
	if c.MinChunkSize <= 0 || c.MinChunkSize > c.ChunkSize {
		return fmt.Errorf("config: min_chunk_size must be in [1, chunk_size], got %d", c.MinChunkSize)
	}
	if c.TotalThreads <= 0 {
		return errors.New("config: threads must be > 0")
	}
	if c.MaxSamples < 1 || c.MaxChunksPerSample < 1 {
		return errors.New("config: concurrency caps must be >= 1")
	}
	if c.CacheDir == "" {
		return errors.New("config: cache_dir is required")
	}
	if c.Timeout < 0 {
		return errors.New("config: timeout must be >= 0")
	}
	return nil
}
