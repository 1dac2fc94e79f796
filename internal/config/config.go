// Package config loads partbom settings from an HCL file, then applies
// PARTBOM_* environment overrides on top.
//
//	base_url        = "http://localhost:3000"
//	timeout         = "15s"
//	max_retries     = 2
//	initial_depth   = "1"     # or "all"
//	node_limit      = 500
//	search_debounce = "280ms"
//	metrics_addr    = ":9464"
//
//	log {
//	  level  = "debug"
//	  format = "console"
//	}
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/agentic-research/partbom/api"
	"github.com/agentic-research/partbom/internal/logging"
	"github.com/agentic-research/partbom/internal/partapi"
	"github.com/agentic-research/partbom/internal/session"
	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/hashicorp/hcl/v2/hclsimple"
)

const EnvPrefix = "PARTBOM_"

// Config is the resolved configuration.
type Config struct {
	BaseURL        string
	Timeout        time.Duration
	MaxRetries     int
	InitialDepth   api.Depth
	NodeLimit      int
	SearchDebounce time.Duration
	MetricsAddr    string
	Log            logging.Config
}

func Default() Config {
	return Config{
		BaseURL:        partapi.DefaultBaseURL,
		Timeout:        partapi.DefaultTimeout,
		InitialDepth:   1,
		SearchDebounce: session.DefaultSearchDebounce,
		Log:            logging.Config{Level: "info", Format: "console"},
	}
}

// file mirrors the HCL layout. Every attribute is optional; durations and
// depth are strings so "15s" and "all" can be written naturally.
type file struct {
	BaseURL        string   `hcl:"base_url,optional"`
	Timeout        string   `hcl:"timeout,optional"`
	MaxRetries     *int     `hcl:"max_retries,optional"`
	InitialDepth   string   `hcl:"initial_depth,optional"`
	NodeLimit      *int     `hcl:"node_limit,optional"`
	SearchDebounce string   `hcl:"search_debounce,optional"`
	MetricsAddr    string   `hcl:"metrics_addr,optional"`
	Log            *logFile `hcl:"log,block"`
}

type logFile struct {
	Level       string `hcl:"level,optional"`
	Format      string `hcl:"format,optional"`
	Development bool   `hcl:"development,optional"`
}

// Loader reads configuration through a billy filesystem so tests can run
// against memfs.
type Loader struct {
	FS     billy.Filesystem
	Getenv func(string) string
}

// DefaultPath is ~/.config/partbom/partbom.hcl, or "" when there is no home
// directory.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "partbom", "partbom.hcl")
}

// Load resolves defaults, then the file at path, then the environment. A
// missing file is an error only when required is set.
func Load(path string, required bool) (Config, error) {
	return Loader{FS: osfs.New("/"), Getenv: os.Getenv}.Load(path, required)
}

func (l Loader) Load(path string, required bool) (Config, error) {
	cfg := Default()

	if path != "" {
		src, err := util.ReadFile(l.FS, path)
		switch {
		case err == nil:
			if err := cfg.applyFile(path, src); err != nil {
				return Config{}, err
			}
		case errors.Is(err, os.ErrNotExist) && !required:
		default:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if l.Getenv != nil {
		if err := cfg.applyEnv(l.Getenv); err != nil {
			return Config{}, err
		}
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyFile(path string, src []byte) error {
	var f file
	// hclsimple picks the syntax from the extension.
	name := path
	if !strings.HasSuffix(name, ".hcl") && !strings.HasSuffix(name, ".json") {
		name += ".hcl"
	}
	if err := hclsimple.Decode(name, src, nil, &f); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	if f.BaseURL != "" {
		c.BaseURL = f.BaseURL
	}
	if err := setDuration(&c.Timeout, "timeout", f.Timeout); err != nil {
		return err
	}
	if f.MaxRetries != nil {
		c.MaxRetries = *f.MaxRetries
	}
	if err := setDepth(&c.InitialDepth, "initial_depth", f.InitialDepth); err != nil {
		return err
	}
	if f.NodeLimit != nil {
		c.NodeLimit = *f.NodeLimit
	}
	if err := setDuration(&c.SearchDebounce, "search_debounce", f.SearchDebounce); err != nil {
		return err
	}
	if f.MetricsAddr != "" {
		c.MetricsAddr = f.MetricsAddr
	}
	if f.Log != nil {
		if f.Log.Level != "" {
			c.Log.Level = f.Log.Level
		}
		if f.Log.Format != "" {
			c.Log.Format = f.Log.Format
		}
		c.Log.Development = f.Log.Development
	}
	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	env := func(key string) string { return strings.TrimSpace(getenv(EnvPrefix + key)) }

	if v := env("BASE_URL"); v != "" {
		c.BaseURL = v
	}
	if err := setDuration(&c.Timeout, EnvPrefix+"TIMEOUT", env("TIMEOUT")); err != nil {
		return err
	}
	if err := setInt(&c.MaxRetries, EnvPrefix+"MAX_RETRIES", env("MAX_RETRIES")); err != nil {
		return err
	}
	if err := setDepth(&c.InitialDepth, EnvPrefix+"INITIAL_DEPTH", env("INITIAL_DEPTH")); err != nil {
		return err
	}
	if err := setInt(&c.NodeLimit, EnvPrefix+"NODE_LIMIT", env("NODE_LIMIT")); err != nil {
		return err
	}
	if err := setDuration(&c.SearchDebounce, EnvPrefix+"SEARCH_DEBOUNCE", env("SEARCH_DEBOUNCE")); err != nil {
		return err
	}
	if v := env("METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
	if v := env("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := env("LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	return nil
}

// Validate rejects values the client or session would misbehave with.
func (c Config) Validate() error {
	var errs []error
	if c.BaseURL == "" {
		errs = append(errs, errors.New("base_url must not be empty"))
	}
	if c.Timeout <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("max_retries must not be negative"))
	}
	if c.InitialDepth != api.DepthAll && c.InitialDepth < 1 {
		errs = append(errs, errors.New(`initial_depth must be at least 1 or "all"`))
	}
	if c.NodeLimit < 0 {
		errs = append(errs, errors.New("node_limit must not be negative"))
	}
	if c.SearchDebounce < 0 {
		errs = append(errs, errors.New("search_debounce must not be negative"))
	}
	switch c.Log.Format {
	case "", "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log format %q: want json or console", c.Log.Format))
	}
	return errors.Join(errs...)
}

func setDuration(dst *time.Duration, name, v string) error {
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = d
	return nil
}

func setInt(dst *int, name, v string) error {
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = n
	return nil
}

func setDepth(dst *api.Depth, name, v string) error {
	if v == "" {
		return nil
	}
	d, err := api.ParseDepth(v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = d
	return nil
}
