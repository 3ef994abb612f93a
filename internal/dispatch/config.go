package dispatch

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Rule routes new blobs to Provider. Empty patterns match anything.
type Rule struct {
	Repository string `yaml:"repository,omitempty" mapstructure:"repository"`
	DocType    string `yaml:"doc_type,omitempty" mapstructure:"doc_type"`
	XPath      string `yaml:"xpath,omitempty" mapstructure:"xpath"`
	MimeType   string `yaml:"mime_type,omitempty" mapstructure:"mime_type"`
	Provider   string `yaml:"provider" mapstructure:"provider"`
}

// Repository holds the per-repository dispatch settings.
// Unprefixed repositories write bare keys for their default provider, the way
// keys were written before dispatch existed. This must never change for a given repository.
type Repository struct {
	Name       string `yaml:"name" mapstructure:"name"`
	Provider   string `yaml:"provider" mapstructure:"provider"`
	Unprefixed bool   `yaml:"unprefixed,omitempty" mapstructure:"unprefixed"`
}

// Config is the dispatch section of the configuration file
type Config struct {
	// Default is the provider for repositories without their own default
	Default      string       `yaml:"default,omitempty" mapstructure:"default"`
	Repositories []Repository `yaml:"repositories,omitempty" mapstructure:"repositories"`
	Rules        []Rule       `yaml:"rules,omitempty" mapstructure:"rules"`

	// RulesFile points at a YAML file with more rules, appended after the inline ones
	RulesFile string `yaml:"-" mapstructure:"rules_file"`
}

// Validate checks that every rule and repository names a provider
func (c *Config) Validate() error {
	seen := map[string]bool{}
	for i, repo := range c.Repositories {
		if repo.Name == "" {
			return fmt.Errorf("repositories[%d]: name required", i)
		}
		if repo.Provider == "" {
			return fmt.Errorf("repository %q: provider required", repo.Name)
		}
		if seen[repo.Name] {
			return fmt.Errorf("repository %q: defined twice", repo.Name)
		}
		seen[repo.Name] = true
	}

	for i, rule := range c.Rules {
		if rule.Provider == "" {
			return fmt.Errorf("rules[%d]: provider required", i)
		}
	}

	if c.Default == "" && len(c.Repositories) == 0 {
		return fmt.Errorf("default provider required")
	}

	return nil
}

// LoadFromFile reads a dispatch configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fd.Close()

	cfg, err := LoadFromReader(fd)
	if err != nil {
		return nil, fmt.Errorf("dispatch config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader parses a dispatch configuration from YAML
func LoadFromReader(reader io.Reader) (*Config, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ResolveRulesFile appends the rules of RulesFile, if set. Relative paths are taken
// from baseDir.
func (c *Config) ResolveRulesFile(baseDir string) error {
	if c.RulesFile == "" {
		return nil
	}

	path := c.RulesFile
	if !filepath.IsAbs(path) && baseDir != "" {
		path = filepath.Join(baseDir, path)
	}

	extra, err := LoadFromFile(path)
	if err != nil {
		return err
	}

	c.Rules = append(c.Rules, extra.Rules...)
	c.RulesFile = ""
	return nil
}

// Save writes the configuration as YAML
func (c *Config) Save(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", path, err)
	}
	defer file.Close()

	encoder := yaml.NewEncoder(file)
	encoder.SetIndent(2)

	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to marshal dispatch config to YAML: %w", err)
	}

	return encoder.Close()
}
