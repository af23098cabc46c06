package methodology

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"

	"gopkg.in/yaml.v3"

	"github.com/jeanpaul/tutor/internal/config"
)

// TemplateSource supplies templates to the cache. The persistence layer and
// the embedded defaults both implement it.
type TemplateSource interface {
	LoadTemplates(ctx context.Context) ([]PromptTemplate, error)
}

//go:embed defaults/*.yaml
var defaultTemplates embed.FS

// EmbeddedSource serves the templates compiled into the binary.
type EmbeddedSource struct{}

func (EmbeddedSource) LoadTemplates(_ context.Context) ([]PromptTemplate, error) {
	entries, err := fs.ReadDir(defaultTemplates, "defaults")
	if err != nil {
		return nil, err
	}
	var out []PromptTemplate
	for _, e := range entries {
		data, err := defaultTemplates.ReadFile(path.Join("defaults", e.Name()))
		if err != nil {
			return nil, err
		}
		var tf config.TemplateFile
		if err := yaml.Unmarshal(data, &tf); err != nil {
			return nil, fmt.Errorf("default template %s: %w", e.Name(), err)
		}
		out = append(out, FromFile(tf))
	}
	return out, nil
}

// DirSource reads YAML template files from a directory.
type DirSource struct {
	Dir string
}

func (d DirSource) LoadTemplates(_ context.Context) ([]PromptTemplate, error) {
	files, err := config.LoadTemplateFiles(d.Dir)
	if err != nil {
		return nil, err
	}
	out := make([]PromptTemplate, 0, len(files))
	for _, tf := range files {
		out = append(out, FromFile(tf))
	}
	return out, nil
}

// LayeredSource merges sources in order. A later source that defines any
// version of a methodology replaces every template of that methodology from
// earlier sources.
type LayeredSource []TemplateSource

func (l LayeredSource) LoadTemplates(ctx context.Context) ([]PromptTemplate, error) {
	byMethodology := make(map[string][]PromptTemplate)
	var order []string
	for _, src := range l {
		templates, err := src.LoadTemplates(ctx)
		if err != nil {
			return nil, err
		}
		layer := make(map[string][]PromptTemplate)
		for _, t := range templates {
			layer[t.Methodology] = append(layer[t.Methodology], t)
		}
		for m, ts := range layer {
			if _, seen := byMethodology[m]; !seen {
				order = append(order, m)
			}
			byMethodology[m] = ts
		}
	}
	var out []PromptTemplate
	for _, m := range order {
		out = append(out, byMethodology[m]...)
	}
	return out, nil
}

// FromFile converts the on-disk representation.
func FromFile(tf config.TemplateFile) PromptTemplate {
	name := tf.Name
	if name == "" {
		name = tf.Methodology
	}
	return PromptTemplate{
		Name:         name,
		Methodology:  Normalize(tf.Methodology),
		TemplateText: tf.Template,
		Description:  tf.Description,
		Version:      tf.Version,
		IsActive:     tf.Active,
	}
}

// ToFile converts a template to its on-disk representation.
func ToFile(t PromptTemplate) config.TemplateFile {
	return config.TemplateFile{
		Name:        t.Name,
		Methodology: t.Methodology,
		Description: t.Description,
		Version:     t.Version,
		Active:      t.IsActive,
		Template:    t.TemplateText,
	}
}
