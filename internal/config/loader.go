package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// rawDoc is unmarshaled first so that unrecognized top-level keys can be
// reported as warnings without failing the load, per the spec's
// "unknown keys are ignored with a warning" rule.
type rawDoc map[string]yaml.Node

var recognizedTopLevelKeys = map[string]bool{
	"log_level": true, "log_path": true,
	"mcp": true, "ingestion": true, "chunking": true,
	"embedding": true, "retrieval": true, "reranker": true,
	"grounding": true, "stores": true,
}

// Load reads a YAML config file at path, applies it on top of Defaults(),
// and returns the warnings produced for any unrecognized top-level key.
// A missing path is not an error: Defaults() alone is returned.
func Load(path string) (Config, []string, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) == "" {
		return cfg, nil, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil, nil
	}
	if err != nil {
		return cfg, nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var raw rawDoc
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return cfg, nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	var warnings []string
	for key := range raw {
		if !recognizedTopLevelKeys[key] {
			warnings = append(warnings, fmt.Sprintf("config: unrecognized top-level key %q ignored", key))
		}
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, warnings, fmt.Errorf("config: decode %s: %w", path, err)
	}

	return cfg, warnings, nil
}
