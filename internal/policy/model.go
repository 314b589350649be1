package policy

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Policy is the static authorization policy for the gateway. It is loaded
// once at process start and never mutated afterwards.
type Policy struct {
	Version     int    `yaml:"version"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Filesystem scope.
	AllowedRoots []string `yaml:"allowed_roots"`
	ScriptsDir   string   `yaml:"scripts_dir"`

	// Write target file types.
	AllowedWriteExtensions []string `yaml:"allowed_write_extensions"`
	DeniedWriteExtensions  []string `yaml:"denied_write_extensions"`

	// Shell command policy.
	AllowedCommands     []string `yaml:"allowed_commands"`
	BlockedSubstrings   []string `yaml:"blocked_substrings"`
	DestructivePatterns []string `yaml:"destructive_patterns"`

	// Paths that may never be written regardless of extension, as glob
	// patterns matched against the canonical path (e.g. "**/.git/**").
	ProtectedPaths []string `yaml:"protected_paths"`

	ConfirmationTTL duration `yaml:"confirmation_ttl"`
}

type duration struct{ time.Duration }

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be scalar")
	}
	dd, err := time.ParseDuration(value.Value)
	if err != nil {
		return err
	}
	d.Duration = dd
	return nil
}

// Validate performs minimal semantic validation of a policy.
func (p Policy) Validate() error {
	if p.Version <= 0 {
		return fmt.Errorf("version must be > 0")
	}
	if p.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(p.AllowedRoots) == 0 {
		return fmt.Errorf("allowed_roots must not be empty")
	}
	if p.ConfirmationTTL.Duration < 0 {
		return fmt.Errorf("confirmation_ttl must not be negative")
	}
	return nil
}

func LoadFromFile(path string) (*Policy, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	return LoadFromBytes(b)
}

func LoadFromBytes(b []byte) (*Policy, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	var p Policy
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	if p.ConfirmationTTL.Duration == 0 {
		p.ConfirmationTTL.Duration = 10 * time.Minute
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("validate policy: %w", err)
	}
	return &p, nil
}
