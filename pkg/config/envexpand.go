package config

import (
	"bytes"
	"os"
	"strings"
	"text/template"
)

// ExpandEnv expands {{.VAR_NAME}} references in YAML content from the
// process environment. Shell-style $VAR is left alone so URLs and patterns
// containing $ survive unchanged.
//
//   - base_url: {{.ENGINE_URL}}/api → value of ENGINE_URL followed by /api
//   - push_url: wss://{{.ENGINE_HOST}}/ws/logs
//
// Missing variables expand to the empty string; validation catches required
// fields left empty.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return data
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, environ()); err != nil {
		return data
	}
	return buf.Bytes()
}

func environ() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if key, value, ok := strings.Cut(kv, "="); ok && key != "" {
			env[key] = value
		}
	}
	return env
}
