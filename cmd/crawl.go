package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitemap-crawler/internal/crawler"
)

type crawlOptions struct {
	concurrency int
	stream      bool
	includeURLs bool
}

type crawlOutput struct {
	crawler.CrawlResult
	URLs []string `json:"urls,omitempty"`
}

func newCrawlCmd() *cobra.Command {
	opts := &crawlOptions{}
	cmd := &cobra.Command{
		Use:   "crawl DOMAIN [DOMAIN...]",
		Short: "Crawl the sitemaps of one or more domains",
		Long: `Crawls every domain given on the command line and prints one JSON result
per domain. Results follow the argument order unless --stream is set, in
which case each result is printed as soon as its crawl finishes.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(cmd, args, opts)
		},
	}
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 0, "maximum concurrent domain crawls (0 uses crawler.concurrency)")
	cmd.Flags().BoolVar(&opts.stream, "stream", false, "print results in completion order")
	cmd.Flags().BoolVar(&opts.includeURLs, "urls", false, "include the discovered URL list in each result")
	return cmd
}

func runCrawl(cmd *cobra.Command, domains []string, opts *crawlOptions) error {
	rt, err := runtimeFrom(cmd.Context())
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt.logger.Info("crawl started", zap.Int("domains", len(domains)), zap.Bool("stream", opts.stream))
	dispatch := rt.app.Dispatcher()
	out := cmd.OutOrStdout()
	failed := 0
	if opts.stream {
		for result := range dispatch.Stream(ctx, domains, opts.concurrency) {
			if result.Status == crawler.CrawlStatusFailed {
				failed++
			}
			if err := writeResult(out, result, opts.includeURLs); err != nil {
				return err
			}
		}
	} else {
		for _, result := range dispatch.CrawlDomains(ctx, domains, opts.concurrency) {
			if result.Status == crawler.CrawlStatusFailed {
				failed++
			}
			if err := writeResult(out, result, opts.includeURLs); err != nil {
				return err
			}
		}
	}
	rt.logger.Info("crawl finished", zap.Int("domains", len(domains)), zap.Int("failed", failed))
	return nil
}

func writeResult(w io.Writer, result crawler.CrawlResult, includeURLs bool) error {
	out := crawlOutput{CrawlResult: result}
	if includeURLs {
		out.URLs = result.URLs
	}
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if _, err := fmt.Fprintln(w, string(data)); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}
