package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/xhad/newsdesk/internal/models"
	"github.com/xhad/newsdesk/internal/types"
	"github.com/xhad/newsdesk/pkg/pipeline"
	"github.com/xhad/newsdesk/server"
)

var urlRegex = regexp.MustCompile(`https?://[^\s]+`)

var stageDescriptions = map[pipeline.Stage]string{
	pipeline.StageLoading:   "Data Loading...Started...",
	pipeline.StageSplitting: "Text Splitter...Started...",
	pipeline.StageEmbedding: "Embedding Vector Started Building...",
	pipeline.StageSaving:    "Saving index...",
}

var serveAddr string

var ingestCmd = &cobra.Command{
	Use:   "ingest URL...",
	Short: "Fetch articles and rebuild the index",
	Long: `Fetches each URL, splits the article text into segments, embeds them and
replaces the persisted index. URLs that cannot be fetched are reported and skipped.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

var askCmd = &cobra.Command{
	Use:   "ask QUESTION",
	Short: "Answer a question from the indexed articles",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive session: paste URLs to index them, type questions to ask",
	Args:  cobra.NoArgs,
	RunE:  runChat,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the websocket and JSON API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Describe the persisted index",
	Args:  cobra.NoArgs,
	RunE:  runInfo,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")

	rootCmd.AddCommand(ingestCmd, askCmd, chatCmd, serveCmd, infoCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	p, _, err := loadPipeline(ctx)
	if err != nil {
		return err
	}
	defer p.Close()

	return ingest(ctx, p, args)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	p, cfg, err := loadPipeline(ctx)
	if err != nil {
		return err
	}
	defer p.Close()

	return ask(ctx, p, strings.Join(args, " "), cfg.UI.Streaming)
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	p, cfg, err := loadPipeline(ctx)
	if err != nil {
		return err
	}
	defer p.Close()

	color.Cyan("\nAsk about your news articles. Paste up to %d URLs to index them (type 'exit' to quit)", cfg.Scraper.MaxURLs)

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()

	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if strings.ToLower(line) == "exit" {
			break
		}
		if line == "" {
			continue
		}

		if urls := urlRegex.FindAllString(line, -1); len(urls) > 0 {
			for _, u := range urls {
				color.Blue("Detected URL: %s", u)
			}
			if err := ingest(ctx, p, urls); err != nil {
				color.Red("Error: %s\n", pipeline.UserMessage(err))
				continue
			}

			line = strings.TrimSpace(urlRegex.ReplaceAllString(line, ""))
			if line == "" {
				continue
			}
		}

		if err := ask(ctx, p, line, cfg.UI.Streaming); err != nil {
			color.Red("Error: %s\n", pipeline.UserMessage(err))
		}
	}

	return scanner.Err()
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, cfg, err := loadPipeline(ctx)
	if err != nil {
		return err
	}
	defer p.Close()

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	color.Cyan("Serving on %s", addr)
	return server.NewWSServer(server.Config{
		Addr:      addr,
		Streaming: cfg.UI.Streaming,
		Logger:    newLogger().With("component", "server"),
	}, p).ListenAndServe(ctx)
}

func runInfo(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	p, _, err := loadPipeline(ctx)
	if err != nil {
		return err
	}
	defer p.Close()

	info, err := p.Info(ctx)
	if err != nil {
		return err
	}

	printInfo(info)
	return nil
}

func ingest(ctx context.Context, p *pipeline.Pipeline, urls []string) error {
	bar := getProgressBar(len(stageDescriptions), "Processing URLs")
	result, err := p.Ingest(ctx, urls, pipeline.WithProgress(func(stage pipeline.Stage) {
		bar.Describe(color.BlueString(stageDescriptions[stage]))
		bar.Add(1)
	}))
	bar.Finish()
	fmt.Println()
	if err != nil {
		return err
	}

	for _, f := range result.Failures {
		color.Yellow("✗ Skipped %s: %v", f.URL, f.Err)
	}
	color.Green("✓ Indexed %d segments from %d articles", result.Segments, result.Documents)
	return nil
}

func ask(ctx context.Context, p *pipeline.Pipeline, question string, streaming bool) error {
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()

	if !streaming {
		spinner := getSpinner(" Generating response...")
		result, err := p.Query(ctx, question)
		spinner.Finish()
		fmt.Print("\r")
		if err != nil {
			return err
		}

		assistantPrompt("\nAnswer: ")
		fmt.Println(result.Answer)
		printSources(result)
		return nil
	}

	spinner := getSpinner(" Thinking...")
	firstChunk := true
	result, err := p.Query(ctx, question, types.WithOnChunk(func(chunk string) {
		if firstChunk {
			spinner.Finish()
			firstChunk = false
			fmt.Print("\r")
			assistantPrompt("\nAnswer: ")
		}
		fmt.Print(chunk)
	}))
	if firstChunk {
		spinner.Finish()
		fmt.Print("\r")
	}
	if err != nil {
		return err
	}

	if firstChunk {
		// Nothing was streamed, e.g. when no content matched
		assistantPrompt("\nAnswer: ")
		fmt.Print(result.Answer)
	}
	fmt.Println()
	printSources(result)
	return nil
}

func printSources(result *models.QueryResult) {
	if len(result.Sources) == 0 {
		return
	}
	color.Cyan("\nSources:")
	for _, src := range result.Sources {
		fmt.Printf("  %s\n", src)
	}
}

func printInfo(info *models.IndexInfo) {
	color.Cyan("Index %s", info.BuildID)
	fmt.Printf("  built:      %s\n", info.BuiltAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Printf("  model:      %s\n", info.Model)
	fmt.Printf("  dimensions: %d\n", info.Dimension)
	fmt.Printf("  segments:   %d\n", info.Count)
	color.Cyan("Sources:")
	for _, src := range info.Sources {
		fmt.Printf("  %s\n", src)
	}
}
