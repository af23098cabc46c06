package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeanpaul/tutor/internal/config"
	"github.com/jeanpaul/tutor/internal/methodology"
)

func init() {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Inspect and manage methodology prompt templates",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every loaded template version",
		Args:  cobra.NoArgs,
		Run:   runTemplatesList,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show <methodology> [version]",
		Short: "Print a template (the active version by default)",
		Args:  cobra.RangeArgs(1, 2),
		Run:   runTemplatesShow,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "diff <methodology> <from-version> <to-version>",
		Short: "Show a unified diff between two versions",
		Args:  cobra.ExactArgs(3),
		Run:   runTemplatesDiff,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "activate <methodology> <version>",
		Short: "Make a stored version the active one",
		Args:  cobra.ExactArgs(2),
		Run:   runTemplatesActivate,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "export <methodology>",
		Short: "Write the active template as the next version into the templates directory for editing",
		Args:  cobra.ExactArgs(1),
		Run:   runTemplatesExport,
	})

	RootCmd.AddCommand(cmd)
}

func runTemplatesList(cmd *cobra.Command, _ []string) {
	a := mustApp(cmd.Context())
	defer a.close()

	list := a.templates.List()
	if jsonOutput {
		b, _ := json.MarshalIndent(list, "", "  ")
		fmt.Println(string(b))
		return
	}
	for _, t := range list {
		marker := DimStyle.Render("  ")
		if t.IsActive {
			marker = StepStyle.Render("* ")
		}
		line := marker + LabelStyle.Render(fmt.Sprintf("%-18s", t.Methodology)) + ValueStyle.Render(fmt.Sprintf(" v%-3d %s", t.Version, t.Name))
		if t.Description != "" {
			line += DimStyle.Render("  " + t.Description)
		}
		fmt.Println(line)
	}
}

func runTemplatesShow(cmd *cobra.Command, args []string) {
	a := mustApp(cmd.Context())
	defer a.close()

	t, err := lookupTemplate(a.templates, args[0], args[1:])
	if err != nil {
		a.close()
		fatal("%v", err)
	}
	fmt.Println(BannerStyle.Render(fmt.Sprintf("%s v%d", t.Methodology, t.Version)))
	fmt.Println(t.TemplateText)
}

func runTemplatesDiff(cmd *cobra.Command, args []string) {
	a := mustApp(cmd.Context())
	defer a.close()

	from, err := lookupTemplate(a.templates, args[0], args[1:2])
	if err == nil {
		var to methodology.PromptTemplate
		if to, err = lookupTemplate(a.templates, args[0], args[2:3]); err == nil {
			fmt.Print(colorDiff(methodology.DiffTemplates(from, to)))
			return
		}
	}
	a.close()
	fatal("%v", err)
}

func runTemplatesActivate(cmd *cobra.Command, args []string) {
	version, err := strconv.Atoi(args[1])
	if err != nil {
		fatal("version %q is not a number", args[1])
	}
	a := mustApp(cmd.Context())
	defer a.close()

	if err := a.store.ActivateTemplate(cmd.Context(), args[0], version); err != nil {
		a.close()
		fatal("%v", err)
	}
	fmt.Println(BannerStyle.Render(fmt.Sprintf("✓ %s v%d is active", methodology.Normalize(args[0]), version)))
}

func runTemplatesExport(cmd *cobra.Command, args []string) {
	a := mustApp(cmd.Context())
	defer a.close()

	tf, err := nextTemplateFile(a.templates, args[0])
	if err != nil {
		a.close()
		fatal("%v", err)
	}
	dir := a.cfg.TemplatesDirPath()
	if err := config.SaveTemplateFile(dir, tf); err != nil {
		a.close()
		fatal("%v", err)
	}
	fmt.Println(BannerStyle.Render(fmt.Sprintf("✓ wrote %s/%s.v%d.yaml", dir, tf.Methodology, tf.Version)))
	fmt.Println(DimStyle.Render("edit it, set active: true, then run: tutor templates list"))
}

// nextTemplateFile copies the active template of a methodology into an
// inactive file one version above the highest known.
func nextTemplateFile(cache *methodology.Cache, name string) (config.TemplateFile, error) {
	active, err := cache.Active(name)
	if err != nil {
		return config.TemplateFile{}, err
	}
	next := 1
	for _, t := range cache.List() {
		if t.Methodology == active.Methodology && t.Version >= next {
			next = t.Version + 1
		}
	}
	tf := methodology.ToFile(active)
	tf.Name = fmt.Sprintf("%s-v%d", active.Methodology, next)
	tf.Version = next
	tf.Active = false
	return tf, nil
}

// lookupTemplate resolves an optional version argument; none means active.
func lookupTemplate(cache *methodology.Cache, name string, version []string) (methodology.PromptTemplate, error) {
	if len(version) == 0 {
		return cache.Active(name)
	}
	v, err := strconv.Atoi(strings.TrimPrefix(version[0], "v"))
	if err != nil {
		return methodology.PromptTemplate{}, fmt.Errorf("version %q is not a number", version[0])
	}
	t, ok := cache.Version(name, v)
	if !ok {
		return methodology.PromptTemplate{}, fmt.Errorf("%w: %s v%d", methodology.ErrTemplateNotFound, methodology.Normalize(name), v)
	}
	return t, nil
}

func colorDiff(diff string) string {
	if diff == "" {
		return DimStyle.Render("no differences") + "\n"
	}
	var b strings.Builder
	for _, line := range strings.SplitAfter(diff, "\n") {
		if line == "" {
			continue
		}
		trimmed := strings.TrimSuffix(line, "\n")
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			b.WriteString(LabelStyle.Render(trimmed))
		case strings.HasPrefix(line, "+"):
			b.WriteString(StepStyle.Render(trimmed))
		case strings.HasPrefix(line, "-"):
			b.WriteString(ErrorStyle.Render(trimmed))
		case strings.HasPrefix(line, "@@"):
			b.WriteString(DimStyle.Render(trimmed))
		default:
			b.WriteString(trimmed)
		}
		b.WriteString("\n")
	}
	return b.String()
}
