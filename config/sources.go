package config

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"rentwatch/models"
)

type sourcesFile struct {
	Sources []models.Source `yaml:"sources"`
}

// LoadSources reads the per-source selector configuration from a YAML file.
// The file is static configuration: it is validated once here and treated as
// read-only for the rest of the run.
func LoadSources(path string) ([]models.Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read sources file %s", path)
	}

	var f sourcesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "config: parse sources file %s", path)
	}

	if len(f.Sources) == 0 {
		return nil, eris.Errorf("config: sources file %s defines no sources", path)
	}

	seen := make(map[string]struct{}, len(f.Sources))
	for i := range f.Sources {
		s := &f.Sources[i]
		s.Name = strings.TrimSpace(s.Name)
		if s.Name == "" {
			return nil, eris.Errorf("config: source %d has no name", i)
		}
		if _, dup := seen[s.Name]; dup {
			return nil, eris.Errorf("config: duplicate source name %q", s.Name)
		}
		seen[s.Name] = struct{}{}

		if !strings.HasPrefix(s.URL, "http://") && !strings.HasPrefix(s.URL, "https://") {
			return nil, eris.Errorf("config: source %q has invalid url %q", s.Name, s.URL)
		}
		if len(s.Selectors.Item) == 0 {
			return nil, eris.Errorf("config: source %q has no item selectors", s.Name)
		}
	}

	return f.Sources, nil
}
