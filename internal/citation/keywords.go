package citation

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// KeywordConfig lists the phrases that mark a sentence as a factual claim.
type KeywordConfig struct {
	Keywords []string `yaml:"keywords"`
}

// DefaultKeywords are used when no keyword file is configured.
var DefaultKeywords = []string{
	"according to",
	"founded in",
	"headquarters",
	"employees",
	"revenue",
	"specializes in",
	"offers",
	"provides",
	"develops",
	"research shows",
	"studies indicate",
	"data reveals",
	"reports suggest",
	"analysis shows",
}

// LoadKeywords reads a YAML keyword file. An empty path yields the defaults.
func LoadKeywords(path string) ([]string, error) {
	if path == "" {
		return DefaultKeywords, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read citation keywords: %w", err)
	}
	var cfg KeywordConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse citation keywords: %w", err)
	}

	var out []string
	for _, k := range cfg.Keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			out = append(out, k)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("citation keyword file %s has no keywords", path)
	}
	return out, nil
}
