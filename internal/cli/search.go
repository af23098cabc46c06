package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeanpaul/tutor/internal/retrieval"
	"github.com/jeanpaul/tutor/internal/types"
)

const snippetRunes = 160

func init() {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search the retrieval index",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSearch,
	}

	cmd.Flags().IntP("limit", "l", 0, "Max results (default from config)")
	cmd.Flags().String("subject", "", "Prefer chunks of this subject")
	cmd.Flags().String("topic", "", "Current topic")
	cmd.Flags().String("difficulty", "", "Prefer chunks of this difficulty")

	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	flags := cmd.Flags()
	str := func(name string) string { v, _ := flags.GetString(name); return v }
	limit, _ := flags.GetInt("limit")

	a := mustApp(cmd.Context())
	defer a.close()
	if limit <= 0 {
		limit = a.cfg.Retrieval.SearchLimit
	}

	results, err := a.engine.Search(cmd.Context(), strings.Join(args, " "), types.UserContext{
		UserID:          "cli",
		Subject:         str("subject"),
		CurrentTopic:    str("topic"),
		DifficultyLevel: str("difficulty"),
	}, limit)
	if err != nil {
		a.close()
		fatal("search: %v", err)
	}

	if jsonOutput {
		if results == nil {
			results = []retrieval.Result{}
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(results)
		return
	}
	if len(results) == 0 {
		fmt.Println(DimStyle.Render("no results"))
		return
	}
	for i, r := range results {
		fmt.Println(formatResult(i+1, r))
	}
}

func formatResult(rank int, r retrieval.Result) string {
	c := r.Chunk
	head := fmt.Sprintf("%d. ", rank) + LabelStyle.Render(c.Title) + DimStyle.Render(fmt.Sprintf("  %.3f  %s", r.Similarity, c.ID))
	tags := joinNonEmpty(" · ", c.Subject, c.Topic, c.Difficulty, c.ContentType)
	lines := []string{head}
	if tags != "" {
		lines = append(lines, "   "+DimStyle.Render(tags))
	}
	lines = append(lines, "   "+ValueStyle.Render(snippet(c.Body, snippetRunes)))
	return strings.Join(lines, "\n")
}

func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
