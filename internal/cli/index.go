package cli

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jeanpaul/tutor/internal/ingest"
	"github.com/jeanpaul/tutor/internal/retrieval"
)

func init() {
	cmd := &cobra.Command{
		Use:   "index [path|glob|url]...",
		Short: "Ingest lesson files and web pages into the retrieval index",
		Long: "Parses Markdown, text, HTML, PDF and XLSX files (directories and ** globs are expanded)\n" +
			"and http(s) pages, splits them into chunks and indexes every chunk.",
		Args: cobra.MinimumNArgs(1),
		Run:  runIndex,
	}

	cmd.Flags().String("subject", "", "Subject applied to every chunk")
	cmd.Flags().String("topic", "", "Topic applied to every chunk")
	cmd.Flags().String("difficulty", "", "Difficulty applied to every chunk")
	cmd.Flags().StringSlice("tags", nil, "Tags applied to every chunk")
	cmd.Flags().String("content-type", "", "Content type (default: derived from the source)")
	cmd.Flags().Int("max-tokens", 300, "Maximum tokens per chunk")
	cmd.Flags().IntP("jobs", "j", 4, "Sources processed concurrently")

	RootCmd.AddCommand(cmd)
}

func runIndex(cmd *cobra.Command, args []string) {
	flags := cmd.Flags()
	str := func(name string) string { v, _ := flags.GetString(name); return v }
	tags, _ := flags.GetStringSlice("tags")
	maxTokens, _ := flags.GetInt("max-tokens")
	jobs, _ := flags.GetInt("jobs")

	meta := ingest.Meta{
		Subject:     str("subject"),
		Topic:       str("topic"),
		Difficulty:  str("difficulty"),
		Tags:        tags,
		ContentType: str("content-type"),
	}

	a := mustApp(cmd.Context())
	defer a.close()
	if a.cfg.Retrieval.Backend != "sqlite" {
		fmt.Println(WarnStyle.Render("retrieval.backend is " + a.cfg.Retrieval.Backend + "; indexed chunks last only for this process"))
	}

	n, err := indexSources(cmd.Context(), a.engine, args, meta, ingest.Options{MaxTokens: maxTokens}, jobs, func(src string, chunks int) {
		fmt.Println(StepStyle.Render("✓ ") + ValueStyle.Render(src) + DimStyle.Render(fmt.Sprintf(" (%d chunks)", chunks)))
	})
	if err != nil {
		a.close()
		fatal("%v", err)
	}
	fmt.Println(BannerStyle.Render(fmt.Sprintf("Indexed %d chunks", n)))
}

// indexSources ingests files and URLs concurrently. The first failure
// cancels the remaining sources; chunks already indexed stay indexed.
func indexSources(ctx context.Context, engine *retrieval.Engine, args []string, meta ingest.Meta, opts ingest.Options, jobs int, done func(src string, chunks int)) (int, error) {
	var urls, patterns []string
	for _, arg := range args {
		if ingest.IsURL(arg) {
			urls = append(urls, arg)
		} else {
			patterns = append(patterns, arg)
		}
	}
	var files []string
	if len(patterns) > 0 {
		var err error
		if files, err = ingest.Collect(patterns); err != nil {
			return 0, err
		}
	}

	if jobs <= 0 {
		jobs = 1
	}
	var total atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)

	run := func(src string, load func() ([]retrieval.ContentChunk, error)) {
		g.Go(func() error {
			chunks, err := load()
			if err != nil {
				return err
			}
			for _, c := range chunks {
				if _, err := engine.Index(gctx, c); err != nil {
					return fmt.Errorf("index %s: %w", c.ID, err)
				}
			}
			total.Add(int64(len(chunks)))
			if done != nil {
				done(src, len(chunks))
			}
			return nil
		})
	}

	for _, f := range files {
		run(f, func() ([]retrieval.ContentChunk, error) { return ingest.File(f, meta, opts) })
	}
	for _, u := range urls {
		run(u, func() ([]retrieval.ContentChunk, error) {
			doc, err := ingest.FetchURL(gctx, u)
			if err != nil {
				return nil, err
			}
			return ingest.Split(doc, meta, opts), nil
		})
	}

	err := g.Wait()
	return int(total.Load()), err
}

func joinNonEmpty(sep string, parts ...string) string {
	var out []string
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}
