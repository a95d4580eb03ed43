package masking

import (
	"fmt"
	"regexp"
	"slices"
	"sort"
)

// Pattern is a regex masking rule.
type Pattern struct {
	Name        string
	Pattern     string
	Replacement string
	Description string
}

// CompiledPattern holds a pre-compiled regex pattern with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
	Description string
}

// builtinPatterns are always available by name. Order of application follows
// BuiltinPatternNames.
var builtinPatterns = map[string]Pattern{
	"private_key": {
		Pattern:     `-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`,
		Replacement: "[MASKED_PRIVATE_KEY]",
		Description: "PEM-encoded private keys",
	},
	"bearer_token": {
		Pattern:     `(?i)\b(bearer)\s+[A-Za-z0-9\-._~+/]{16,}=*`,
		Replacement: "$1 " + MaskedValue,
		Description: "Bearer tokens in authorization headers",
	},
	"basic_auth": {
		Pattern:     `(?i)(authorization:\s*basic)\s+[A-Za-z0-9+/]+=*`,
		Replacement: "$1 " + MaskedValue,
		Description: "Basic authorization credentials",
	},
	"aws_access_key": {
		Pattern:     `\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`,
		Replacement: "[MASKED_AWS_KEY]",
		Description: "AWS access key ids",
	},
	"secret_assignment": {
		Pattern:     `(?i)\b(api[_-]?key|secret|password|passwd|token)(\s*[:=]\s*)("?)[^\s"',;&]+`,
		Replacement: "${1}${2}${3}" + MaskedValue,
		Description: "key=value and key: value assignments of secrets",
	},
}

// BuiltinPatternNames returns the built-in pattern names in application order.
func BuiltinPatternNames() []string {
	names := make([]string, 0, len(builtinPatterns))
	for name := range builtinPatterns {
		names = append(names, name)
	}
	sort.Strings(names)
	// Whole private key blocks go first so later patterns do not split them.
	if i := slices.Index(names, "private_key"); i > 0 {
		names = append([]string{"private_key"}, slices.Delete(names, i, i+1)...)
	}
	return names
}

// compileBuiltinPatterns compiles the selected built-in patterns; empty
// selects all. Unknown names are logged and skipped.
func (s *Service) compileBuiltinPatterns(selected []string) {
	names := selected
	if len(names) == 0 {
		names = BuiltinPatternNames()
	}
	for _, name := range names {
		p, ok := builtinPatterns[name]
		if !ok {
			s.logger.Error("Unknown built-in masking pattern, skipping", "pattern", name)
			continue
		}
		p.Name = name
		s.addPattern(p)
	}
}

// compileCustomPatterns compiles configured patterns. Unnamed patterns are
// keyed as "custom:{index}". Invalid patterns are logged and skipped.
func (s *Service) compileCustomPatterns(custom []Pattern) {
	for i, p := range custom {
		if p.Name == "" {
			p.Name = fmt.Sprintf("custom:%d", i)
		}
		if p.Replacement == "" {
			p.Replacement = MaskedValue
		}
		s.addPattern(p)
	}
}

func (s *Service) addPattern(p Pattern) {
	compiled, err := regexp.Compile(p.Pattern)
	if err != nil {
		s.logger.Error("Failed to compile masking pattern, skipping",
			"pattern", p.Name, "error", err)
		return
	}
	s.patterns = append(s.patterns, &CompiledPattern{
		Name:        p.Name,
		Regex:       compiled,
		Replacement: p.Replacement,
		Description: p.Description,
	})
}

// ValidatePattern reports whether expr compiles.
func ValidatePattern(expr string) error {
	_, err := regexp.Compile(expr)
	return err
}

// IsBuiltinPattern reports whether name is a built-in pattern.
func IsBuiltinPattern(name string) bool {
	_, ok := builtinPatterns[name]
	return ok
}
