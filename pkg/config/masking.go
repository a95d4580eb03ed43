package config

import "github.com/codeready-toolchain/crawlwatch/pkg/masking"

// MaskingConfig controls redaction of engine-supplied text.
type MaskingConfig struct {
	Enabled *bool `yaml:"enabled,omitempty"`

	// Patterns selects built-in patterns by name. Empty selects all.
	Patterns []string `yaml:"patterns,omitempty"`

	CustomPatterns []MaskingPattern `yaml:"custom_patterns,omitempty"`
}

// MaskingPattern is a user-defined regex masking rule.
type MaskingPattern struct {
	Name        string `yaml:"name,omitempty"`
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// IsEnabled reports whether masking is on. Masking defaults to on.
func (m *MaskingConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// MaskingServiceConfig translates the configuration into masking settings.
func (c *Config) MaskingServiceConfig() masking.Config {
	out := masking.Config{
		Enabled:  c.Masking.IsEnabled(),
		Patterns: c.Masking.Patterns,
	}
	for _, p := range c.Masking.CustomPatterns {
		out.CustomPatterns = append(out.CustomPatterns, masking.Pattern{
			Name:        p.Name,
			Pattern:     p.Pattern,
			Replacement: p.Replacement,
			Description: p.Description,
		})
	}
	return out
}
