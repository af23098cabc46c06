package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// TemplateFile is the on-disk YAML shape of a methodology prompt template.
type TemplateFile struct {
	Name        string `yaml:"name"`
	Methodology string `yaml:"methodology"`
	Description string `yaml:"description"`
	Version     int    `yaml:"version"`
	Active      bool   `yaml:"active"`
	Template    string `yaml:"template"`
}

// TemplatesDirPath returns the configured templates directory, falling back to
// ~/.config/tutor/templates.
func (c *Config) TemplatesDirPath() string {
	if c.TemplatesDir != "" {
		return c.TemplatesDir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "tutor", "templates")
}

func SaveTemplateFile(dir string, tf TemplateFile) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	filename := filepath.Join(dir, fmt.Sprintf("%s.v%d.yaml", tf.Methodology, tf.Version))
	data, err := yaml.Marshal(tf)
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}

// LoadTemplateFiles reads every *.yaml file in dir. A missing directory is
// not an error.
func LoadTemplateFiles(dir string) ([]TemplateFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []TemplateFile
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".yaml" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		var tf TemplateFile
		if err := yaml.Unmarshal(data, &tf); err != nil {
			return nil, fmt.Errorf("template %s: %w", e.Name(), err)
		}
		if tf.Methodology == "" || tf.Version < 1 {
			return nil, fmt.Errorf("template %s: methodology and version are required", e.Name())
		}
		out = append(out, tf)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Methodology != out[j].Methodology {
			return out[i].Methodology < out[j].Methodology
		}
		return out[i].Version < out[j].Version
	})
	return out, nil
}
