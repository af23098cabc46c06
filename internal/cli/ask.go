package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeanpaul/tutor/internal/methodology"
	"github.com/jeanpaul/tutor/internal/orchestrator"
	"github.com/jeanpaul/tutor/internal/types"
)

func init() {
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question once and print the answer",
		Args:  cobra.MinimumNArgs(1),
		Run:   runAsk,
	}

	cmd.Flags().StringP("methodology", "m", "", "Teaching methodology (default: suggested by the analyzer)")
	cmd.Flags().String("model", "", "Model identifier used for provider routing")
	cmd.Flags().String("provider", "", "Force a configured provider")
	cmd.Flags().StringP("session", "s", "", "Session ID for conversation memory")
	cmd.Flags().String("context", "", "Extra context placed ahead of retrieved material")
	cmd.Flags().String("difficulty", "", "Learner level: beginner, intermediate or advanced")
	cmd.Flags().String("topic", "", "Current topic")
	cmd.Flags().String("user", "cli", "User ID")
	cmd.Flags().Int("budget", 0, "Retrieval token budget (default from config)")

	RootCmd.AddCommand(cmd)
}

func runAsk(cmd *cobra.Command, args []string) {
	flags := cmd.Flags()
	str := func(name string) string { v, _ := flags.GetString(name); return v }
	budget, _ := flags.GetInt("budget")

	a := mustApp(cmd.Context())
	defer a.close()

	resp, err := a.service.Ask(cmd.Context(), orchestrator.AskRequest{
		Methodology: str("methodology"),
		UserQuery:   strings.Join(args, " "),
		Context:     str("context"),
		SessionID:   str("session"),
		Model:       str("model"),
		Provider:    str("provider"),
		TokenBudget: budget,
		UserContext: types.UserContext{
			UserID:          str("user"),
			CurrentTopic:    str("topic"),
			DifficultyLevel: str("difficulty"),
		},
	})
	if err != nil {
		a.close()
		fatal("%v", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(resp)
		return
	}
	fmt.Print(renderMarkdown(answerMarkdown(resp)))
	fmt.Println(formatMetadata(resp))
}

// answerMarkdown lays a parsed worked example out as sections; anything
// else is printed as the model wrote it.
func answerMarkdown(resp *orchestrator.AskResponse) string {
	we := resp.Structured
	if we == nil {
		return resp.Response
	}
	var b strings.Builder
	section := func(title, body string) {
		if strings.TrimSpace(body) == "" {
			return
		}
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", title, strings.TrimSpace(body))
	}
	list := func(title string, items []string, numbered bool) {
		if len(items) == 0 {
			return
		}
		fmt.Fprintf(&b, "## %s\n\n", title)
		for i, it := range items {
			if numbered {
				fmt.Fprintf(&b, "%d. %s\n", i+1, it)
			} else {
				fmt.Fprintf(&b, "- %s\n", it)
			}
		}
		b.WriteString("\n")
	}

	section("Reflection", we.Reflection)
	list("Steps", we.Steps, true)
	section("Correct example", we.CorrectExample)
	if we.IncorrectExample != nil {
		section("Common mistake", we.IncorrectExample.Example+"\n\n"+we.IncorrectExample.Error)
	}
	list("Checklist", we.Checklist, false)
	list("Quiz", we.Quiz, true)
	section("Final code", codeFence(we.FinalCode))
	return b.String()
}

func codeFence(code string) string {
	code = strings.TrimSpace(code)
	if code == "" || strings.HasPrefix(code, "```") {
		return code
	}
	return "```\n" + code + "\n```"
}

func formatMetadata(resp *orchestrator.AskResponse) string {
	md := resp.Metadata
	provider := md.Provider
	if md.Model != "" {
		provider += " / " + md.Model
	}
	lines := []string{
		kv("methodology", fmt.Sprintf("%s (v%d)", resp.Methodology, md.TemplateVersion)),
		kv("provider", provider),
		kv("confidence", fmt.Sprintf("%.2f", md.Confidence)),
		kv("time", fmt.Sprintf("%.2fs", md.ProcessingTime)),
	}
	if md.FallbackProvider != "" {
		lines = append(lines, WarnStyle.Render("fell back from "+md.FallbackProvider))
	}
	if resp.Methodology == methodology.WorkedExamples && !resp.IsStructured {
		lines = append(lines, WarnStyle.Render("worked example could not be parsed; showing raw text"))
	}
	if len(md.Degraded) > 0 {
		lines = append(lines, WarnStyle.Render("degraded: "+strings.Join(md.Degraded, ", ")))
	}
	if len(md.SuggestedNextSteps) > 0 {
		lines = append(lines, LabelStyle.Render("next steps:"))
		for _, s := range md.SuggestedNextSteps {
			lines = append(lines, StepStyle.Render("  > "+s))
		}
	}
	if md.SessionID != "" {
		lines = append(lines, DimStyle.Render("session "+md.SessionID))
	}
	return MetaBoxStyle.Render(strings.Join(lines, "\n"))
}
