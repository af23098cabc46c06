package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeanpaul/tutor/internal/health"
)

func init() {
	RootCmd.AddCommand(&cobra.Command{
		Use:   "doctor",
		Short: "Check providers, the store, the index and session memory",
		Args:  cobra.NoArgs,
		Run:   runDoctor,
	})
}

func runDoctor(cmd *cobra.Command, _ []string) {
	a := mustApp(cmd.Context())
	defer a.close()

	report := a.health.Run(cmd.Context(), true)
	if jsonOutput {
		b, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(b))
	} else {
		fmt.Print(formatReport(report, a.cfg.DefaultProvider, a.cfg.FallbackProvider))
		missing, _ := missingModels(cmd.Context(), a.cfg)
		for _, lm := range missing {
			fmt.Println(WarnStyle.Render(fmt.Sprintf("  %s: model %s is not pulled (tutor models pull)", lm.Role, lm.Name)))
		}
	}
	if report.Status == health.StatusDown {
		a.close()
		os.Exit(1)
	}
}

func formatReport(r health.Report, defaultProvider, fallbackProvider string) string {
	var b strings.Builder
	b.WriteString(BannerStyle.Render("  Service Health Check") + "\n\n")

	for _, p := range r.Providers {
		label := p.Provider
		required := false
		switch p.Provider {
		case defaultProvider:
			label += " (default)"
			required = true
		case fallbackProvider:
			label += " (fallback)"
			required = true
		}
		fmt.Fprintf(&b, "  %s %s ... ", DimStyle.Render("●"), LabelStyle.Render(label))
		switch {
		case p.Reachable:
			models := ""
			if len(p.Models) > 0 {
				models = fmt.Sprintf(" (%d models)", len(p.Models))
			}
			b.WriteString(BannerStyle.Render("✓ OK") + DimStyle.Render(models+" "+p.Latency.Round(time.Millisecond).String()))
		case required:
			b.WriteString(ErrorStyle.Render("✗ " + p.Error))
		default:
			b.WriteString(DimStyle.Render("- " + p.Error + " (optional)"))
		}
		b.WriteString("\n")
	}
	if len(r.Providers) > 0 {
		b.WriteString("\n")
	}

	for _, c := range r.Components {
		fmt.Fprintf(&b, "  %s %s ... ", DimStyle.Render("●"), LabelStyle.Render(c.Name))
		if c.OK {
			b.WriteString(BannerStyle.Render("✓ OK") + DimStyle.Render(" "+c.Latency.Round(time.Millisecond).String()))
		} else {
			b.WriteString(ErrorStyle.Render("✗ " + c.Error))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	switch r.Status {
	case health.StatusOK:
		b.WriteString(BannerStyle.Render("  All checks passed"))
	case health.StatusDegraded:
		b.WriteString(WarnStyle.Render("  Degraded: some providers are unreachable, requests will fall back"))
	default:
		b.WriteString(ErrorStyle.Render("  Down: fix the failing checks above"))
	}
	b.WriteString("\n")
	return b.String()
}
