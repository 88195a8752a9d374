// Package config loads patchwork configuration.
//
// Configuration comes from a YAML file, then PATCHWORK_* environment
// overrides, then defaults for anything left unset.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
	"patchwork.dev/convstore"
	"patchwork.dev/evidence"
	"patchwork.dev/interpret"
	"patchwork.dev/tools"
)

// FileName is the configuration file looked up in the workspace root.
const FileName = ".patchwork.yaml"

type Config struct {
	Workspace   Workspace         `yaml:"workspace"`
	Evidence    evidence.Config   `yaml:"evidence"`
	Interpreter Interpreter       `yaml:"interpreter"`
	Shell       tools.ShellConfig `yaml:"shell"`
	Provider    Provider          `yaml:"provider"`
}

type Workspace struct {
	Root       string `yaml:"root"`
	StorageDir string `yaml:"storageDir"`
}

type Interpreter struct {
	Format interpret.Format `yaml:"format"`
	// Retries is the number of strict retries after the assisted attempt.
	// nil means interpret.DefaultRetries.
	Retries *int `yaml:"retries"`
}

type Provider struct {
	Name      string `yaml:"name"` // anthropic or openai
	Model     string `yaml:"model"`
	APIKeyEnv string `yaml:"apiKeyEnv"`
	URL       string `yaml:"url"`
}

// APIKey reads the provider API key from the configured environment variable.
func (p Provider) APIKey() string { return os.Getenv(p.APIKeyEnv) }

// Default returns the configuration used when no file is present.
func Default() *Config {
	c := &Config{}
	c.setDefaults()
	return c
}

// Load reads the configuration file at path. An empty path means FileName
// in the current directory, which need not exist.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = FileName
	}
	c := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		// A relative root is relative to the config file.
		if c.Workspace.Root != "" && !filepath.IsAbs(c.Workspace.Root) {
			c.Workspace.Root = filepath.Join(filepath.Dir(path), c.Workspace.Root)
		}
	}
	if err := c.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	c.setDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return c, nil
}

func (c *Config) setDefaults() {
	if c.Workspace.Root == "" {
		c.Workspace.Root = "."
	}
	if c.Workspace.StorageDir == "" {
		c.Workspace.StorageDir = convstore.DefaultDir
	}
	if c.Interpreter.Format == "" {
		c.Interpreter.Format = interpret.FormatPatches
	}
	if c.Interpreter.Retries == nil {
		n := interpret.DefaultRetries
		c.Interpreter.Retries = &n
	}
	if c.Shell.Timeout == 0 {
		c.Shell.Timeout = tools.DefaultShellTimeout
	}
	if c.Provider.Name == "" {
		c.Provider.Name = "anthropic"
	}
	if c.Provider.APIKeyEnv == "" {
		switch c.Provider.Name {
		case "openai":
			c.Provider.APIKeyEnv = "OPENAI_API_KEY"
		default:
			c.Provider.APIKeyEnv = "ANTHROPIC_API_KEY"
		}
	}
}

// Validate reports every problem with c.
func (c *Config) Validate() error {
	var errs []error
	if !c.Interpreter.Format.Valid() {
		errs = append(errs, fmt.Errorf("interpreter.format %q must be %q or %q", c.Interpreter.Format, interpret.FormatPatches, interpret.FormatFiles))
	}
	if r := c.Interpreter.Retries; r != nil && (*r < 0 || *r > 10) {
		errs = append(errs, fmt.Errorf("interpreter.retries %d must be between 0 and 10", *r))
	}
	if c.Shell.Timeout < 0 {
		errs = append(errs, fmt.Errorf("shell.timeout must not be negative"))
	}
	if c.Shell.Enabled && len(c.Shell.Allow) == 0 {
		errs = append(errs, fmt.Errorf("shell.enabled requires a non-empty shell.allow list"))
	}
	for _, a := range c.Shell.Allow {
		if a == "" || strings.ContainsAny(a, "/ \t") {
			errs = append(errs, fmt.Errorf("shell.allow entry %q must be a bare executable name", a))
		}
	}
	if !slices.Contains([]string{"anthropic", "openai"}, c.Provider.Name) {
		errs = append(errs, fmt.Errorf("provider.name %q must be anthropic or openai", c.Provider.Name))
	}
	if c.Evidence.MinCycles < 0 || c.Evidence.MinSeconds < 0 {
		errs = append(errs, fmt.Errorf("evidence.minCycles and evidence.minSeconds must not be negative"))
	}
	for tool, n := range c.Evidence.ToolQuota {
		if n < 0 {
			errs = append(errs, fmt.Errorf("evidence.toolQuota[%s] must not be negative", tool))
		}
	}
	return errors.Join(errs...)
}

// applyEnv overlays PATCHWORK_* variables onto c.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(key); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("PATCHWORK_ROOT", &c.Workspace.Root)
	str("PATCHWORK_STORAGE_DIR", &c.Workspace.StorageDir)
	str("PATCHWORK_PROVIDER", &c.Provider.Name)
	str("PATCHWORK_MODEL", &c.Provider.Model)
	str("PATCHWORK_PROVIDER_URL", &c.Provider.URL)
	if v, ok := lookup("PATCHWORK_FORMAT"); ok {
		c.Interpreter.Format = interpret.Format(v)
	}
	if v, ok := lookup("PATCHWORK_RETRIES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("PATCHWORK_RETRIES: %w", err))
		} else {
			c.Interpreter.Retries = &n
		}
	}
	float("PATCHWORK_MIN_SEARCH_HITS", &c.Evidence.MinSearchHits)
	float("PATCHWORK_MIN_OPEN_OR_SNIPPET", &c.Evidence.MinOpenOrSnippet)
	float("PATCHWORK_MIN_SYMBOLS_OR_AST", &c.Evidence.MinSymbolsOrAst)
	float("PATCHWORK_MIN_IMPACT", &c.Evidence.MinImpact)
	float("PATCHWORK_MAX_WARNINGS", &c.Evidence.MaxWarnings)
	boolean("PATCHWORK_SHELL_ENABLED", &c.Shell.Enabled)
	if v, ok := lookup("PATCHWORK_SHELL_ALLOW"); ok {
		c.Shell.Allow = strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' })
	}
	if v, ok := lookup("PATCHWORK_SHELL_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("PATCHWORK_SHELL_TIMEOUT: %w", err))
		} else {
			c.Shell.Timeout = d
		}
	}
	return errors.Join(errs...)
}
