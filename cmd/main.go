package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/xhad/dealwise/pkg/app"
	"github.com/xhad/dealwise/pkg/config"
	"github.com/xhad/dealwise/pkg/generate"
	"github.com/xhad/dealwise/pkg/ingest"
	"github.com/xhad/dealwise/server"
)

type flags struct {
	configPath string
	kbDir      string
	baseURL    string
	dbURL      string
	redisAddr  string
	model      string
	streaming  bool
	verbose    bool
	serve      bool
	addr       string
}

func main() {
	f := parseFlags()

	if err := run(f); err != nil {
		log.Fatal(err)
	}
}

func parseFlags() flags {
	var f flags

	flag.StringVar(&f.configPath, "config", "", "Path to config file")
	flag.StringVar(&f.kbDir, "kb", "", "Knowledge base directory to ingest")
	flag.StringVar(&f.baseURL, "ollama-url", os.Getenv("OLLAMA_BASE_URL"), "Ollama server URL")
	flag.StringVar(&f.dbURL, "db-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
	flag.StringVar(&f.redisAddr, "redis-addr", os.Getenv("REDIS_ADDR"), "Redis address")
	flag.StringVar(&f.model, "model", "", "Generation model override")
	flag.BoolVar(&f.streaming, "stream", true, "Enable streaming responses")
	flag.BoolVar(&f.verbose, "verbose", false, "Enable debug logging")
	flag.BoolVar(&f.serve, "serve", false, "Run the websocket server instead of the chat loop")
	flag.StringVar(&f.addr, "addr", ":8080", "Websocket server listen address")
	flag.Parse()

	return f
}

func loadConfig(f flags) (*config.Config, error) {
	cfg, err := config.LoadConfig(f.configPath)
	if err != nil {
		return nil, err
	}

	if f.baseURL != "" {
		cfg.LLM.BaseURL = f.baseURL
	}
	if f.dbURL != "" {
		cfg.Database.URL = f.dbURL
	}
	if f.redisAddr != "" {
		cfg.Redis.Addr = f.redisAddr
	}
	if f.model != "" {
		cfg.LLM.GenerationModel = f.model
	}
	cfg.UI.Streaming = f.streaming

	return cfg, nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("docs"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func run(f flags) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}

	logger, err := newLogger(f.verbose)
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()

	if f.kbDir != "" {
		if err := runIngest(ctx, a, f.kbDir); err != nil {
			return err
		}
	}

	if f.serve {
		return server.NewWSServer(a, logger).Start(f.addr)
	}

	return runChat(ctx, a, cfg.UI.Streaming)
}

func runIngest(ctx context.Context, a *app.App, dir string) error {
	docs, err := ingest.LoadDirectory(dir)
	if err != nil {
		return fmt.Errorf("failed to load knowledge base: %w", err)
	}

	color.Blue("\nIngesting %d documents from %s\n", len(docs), dir)
	bar := getProgressBar(len(docs), "Embedding and storing...")

	a.Ingestor = withProgress(a, bar)
	summary, err := a.Ingestor.IngestDirectory(ctx, dir)
	if err != nil {
		return err
	}
	bar.Finish()

	color.Green("\nDone: %d changed, %d unchanged, %d chunks embedded (%d failed) in %s\n",
		summary.Changed, summary.Skipped, summary.EmbeddedChunks, summary.FailedChunks,
		summary.Elapsed.Round(10*time.Millisecond))
	return nil
}

// withProgress rebuilds the ingestor with a progress callback attached.
func withProgress(a *app.App, bar *progressbar.ProgressBar) *ingest.Ingestor {
	return a.Ingestor.WithOnDocument(func(slug string, changed bool) {
		bar.Add(1)
	})
}

func runChat(ctx context.Context, a *app.App, streaming bool) error {
	sessionID := uuid.NewString()

	color.Cyan("\nAsk about real estate investing (type 'exit' to quit)")

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()

	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}

		query := strings.TrimSpace(scanner.Text())
		if query == "" {
			continue
		}
		if strings.EqualFold(query, "exit") {
			break
		}

		opts := generate.GenerateOptions{SessionID: sessionID}

		if streaming {
			spinner := getSpinner("Thinking...")
			first := true

			resp, err := a.Generator.GenerateStreaming(ctx, query, func(chunk generate.StreamChunk) error {
				if first {
					spinner.Finish()
					fmt.Print("\r")
					assistantPrompt("Assistant: ")
					first = false
				}
				fmt.Print(chunk.Content)
				return nil
			}, opts)
			if err != nil {
				spinner.Finish()
				color.Red("\nError: %v\n", err)
				continue
			}
			fmt.Println()
			printSources(resp)
		} else {
			spinner := getSpinner("Thinking...")
			resp, err := a.Generator.Generate(ctx, query, opts)
			spinner.Finish()
			fmt.Print("\r")

			if err != nil {
				color.Red("Error: %v\n", err)
				continue
			}
			assistantPrompt("Assistant: %s\n", resp.Text)
			printSources(resp)
		}
	}

	return nil
}

func printSources(resp *generate.Response) {
	if len(resp.Sources) == 0 {
		return
	}

	titles := make([]string, 0, len(resp.Sources))
	for _, s := range resp.Sources {
		titles = append(titles, s.Title)
	}

	note := "Sources: " + strings.Join(titles, ", ")
	if resp.Cached {
		note += " (cached)"
	}
	color.New(color.Faint).Printf("%s\n", note)
}
