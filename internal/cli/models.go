package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/jeanpaul/tutor/internal/config"
	"github.com/jeanpaul/tutor/internal/embedding"
	"github.com/jeanpaul/tutor/internal/model"
	"github.com/jeanpaul/tutor/internal/provider"
)

// localModel is a model the configuration expects a local Ollama to serve.
type localModel struct {
	Role    string `json:"role"`
	BaseURL string `json:"base_url"`
	Name    string `json:"name"`
}

func init() {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List or pull the models served by local Ollama instances",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Show configured local models and whether they are pulled",
		Args:  cobra.NoArgs,
		Run:   runModelsList,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "pull [name]...",
		Short: "Pull the named models, or every configured local model that is missing",
		Run:   runModelsPull,
	})
	RootCmd.AddCommand(cmd)
}

// localModels lists ollama provider models and the ollama embedding model,
// ordered by role.
func localModels(cfg *config.Config) []localModel {
	var out []localModel
	for name, pc := range cfg.Providers {
		if provider.Kind(pc.Type) != provider.KindOllama {
			continue
		}
		m := pc.Model
		if m == "" {
			m = provider.DefaultOllamaModel
		}
		out = append(out, localModel{Role: "provider " + name, BaseURL: pc.BaseURL, Name: m})
	}
	if cfg.Embedding.Provider == "ollama" {
		m := cfg.Embedding.Model
		if m == "" {
			m = embedding.DefaultOllamaModel
		}
		out = append(out, localModel{Role: "embedding", BaseURL: cfg.Embedding.BaseURL, Name: m})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Role < out[j].Role })
	return out
}

// missingModels reports configured local models that are not pulled. An
// unreachable Ollama is reported as an error for that model.
func missingModels(ctx context.Context, cfg *config.Config) (missing []localModel, errs map[string]error) {
	errs = map[string]error{}
	for _, lm := range localModels(cfg) {
		ok, err := model.NewManager(lm.BaseURL).Has(ctx, lm.Name)
		switch {
		case err != nil:
			errs[lm.Role] = err
		case !ok:
			missing = append(missing, lm)
		}
	}
	return missing, errs
}

func runModelsList(cmd *cobra.Command, _ []string) {
	cfg, err := loadConfig()
	if err != nil {
		fatal("%v", err)
	}

	type row struct {
		localModel
		Pulled bool   `json:"pulled"`
		Error  string `json:"error,omitempty"`
	}
	var rows []row
	for _, lm := range localModels(cfg) {
		r := row{localModel: lm}
		ok, err := model.NewManager(lm.BaseURL).Has(cmd.Context(), lm.Name)
		if err != nil {
			r.Error = err.Error()
		}
		r.Pulled = ok
		rows = append(rows, r)
	}

	if jsonOutput {
		b, _ := json.MarshalIndent(rows, "", "  ")
		fmt.Println(string(b))
		return
	}
	if len(rows) == 0 {
		fmt.Println(DimStyle.Render("no local (ollama) models configured"))
		return
	}
	for _, r := range rows {
		status := BannerStyle.Render("✓ pulled")
		switch {
		case r.Error != "":
			status = ErrorStyle.Render("✗ " + r.Error)
		case !r.Pulled:
			status = WarnStyle.Render("missing, run: tutor models pull")
		}
		fmt.Printf("  %s %s  %s\n", LabelStyle.Render(fmt.Sprintf("%-18s", r.Role)), ValueStyle.Render(r.Name), status)
	}
}

func runModelsPull(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		fatal("%v", err)
	}

	var targets []localModel
	if len(args) > 0 {
		base := ""
		if pc, ok := cfg.Providers[cfg.DefaultProvider]; ok && provider.Kind(pc.Type) == provider.KindOllama {
			base = pc.BaseURL
		}
		for _, name := range args {
			targets = append(targets, localModel{Role: "requested", BaseURL: base, Name: name})
		}
	} else {
		missing, errs := missingModels(cmd.Context(), cfg)
		for role, err := range errs {
			fatal("%s: %v", role, err)
		}
		targets = missing
	}
	if len(targets) == 0 {
		fmt.Println(BannerStyle.Render("✓ every configured local model is pulled"))
		return
	}

	for _, lm := range targets {
		fmt.Println(StepStyle.Render("● pulling " + lm.Name))
		last := ""
		err := model.NewManager(lm.BaseURL).Pull(cmd.Context(), lm.Name, func(p model.PullProgress) {
			line := p.Status
			if p.Total > 0 {
				line = fmt.Sprintf("%s %.0f%%", p.Status, p.Percent)
			}
			if line != last {
				fmt.Printf("\r  %s", DimStyle.Render(fmt.Sprintf("%-60s", line)))
				last = line
			}
		})
		fmt.Println()
		if err != nil {
			fatal("%v", err)
		}
		fmt.Println(BannerStyle.Render("✓ " + lm.Name + " ready"))
	}
}
