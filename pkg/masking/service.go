package masking

import (
	"log/slog"
)

// Config selects what a Service masks.
type Config struct {
	Enabled bool

	// Patterns selects built-in patterns by name. Empty selects all.
	Patterns []string

	CustomPatterns []Pattern
}

// Service applies data masking to engine-supplied messages, errors and URLs.
// Created once at application startup. Safe for concurrent use; it holds no
// state besides compiled patterns.
type Service struct {
	enabled     bool
	codeMaskers []Masker
	patterns    []*CompiledPattern

	logger *slog.Logger
}

// NewService creates a masking service with compiled patterns and registered
// maskers. All patterns are compiled eagerly.
func NewService(cfg Config) *Service {
	s := &Service{
		enabled: cfg.Enabled,
		logger:  slog.Default().With("component", "masking"),
	}
	if !cfg.Enabled {
		s.logger.Info("Masking disabled")
		return s
	}

	// 1. Code-based maskers
	s.registerMasker(&URLCredentialMasker{})

	// 2. Built-in regex patterns
	s.compileBuiltinPatterns(cfg.Patterns)

	// 3. Custom patterns from configuration
	s.compileCustomPatterns(cfg.CustomPatterns)

	s.logger.Info("Masking service initialized",
		"code_maskers", len(s.codeMaskers),
		"compiled_patterns", len(s.patterns))
	return s
}

// Enabled reports whether Mask changes anything at all.
func (s *Service) Enabled() bool {
	return s.enabled
}

// PatternNames returns the names of the active regex patterns in order.
func (s *Service) PatternNames() []string {
	names := make([]string, len(s.patterns))
	for i, p := range s.patterns {
		names[i] = p.Name
	}
	return names
}

// Mask returns data with every secret replaced. The result is deterministic,
// so the same input masks identically on every channel.
func (s *Service) Mask(data string) string {
	if !s.enabled || data == "" {
		return data
	}
	masked := data

	// Phase 1: Code-based maskers (more specific, structural awareness)
	for _, m := range s.codeMaskers {
		if m.AppliesTo(masked) {
			masked = m.Mask(masked)
		}
	}

	// Phase 2: Regex patterns (general sweep)
	for _, p := range s.patterns {
		masked = p.Regex.ReplaceAllString(masked, p.Replacement)
	}
	return masked
}

// registerMasker registers a code-based masker.
func (s *Service) registerMasker(m Masker) {
	s.codeMaskers = append(s.codeMaskers, m)
}
