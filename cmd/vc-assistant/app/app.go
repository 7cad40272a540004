package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli"
	"go.uber.org/zap"

	"github.com/i-yeun/vc-assistant/crawler"
	"github.com/i-yeun/vc-assistant/internal/config"
	"github.com/i-yeun/vc-assistant/internal/extract"
	"github.com/i-yeun/vc-assistant/internal/limiter"
	"github.com/i-yeun/vc-assistant/internal/logging"
	"github.com/i-yeun/vc-assistant/internal/server"
	"github.com/i-yeun/vc-assistant/internal/service"
)

type commandEnv struct {
	stdout io.Writer
	stderr io.Writer
	client *http.Client
	clock  limiter.Timer
}

// Run executes the CLI. Results go to stdout, logs to stderr.
// A command called without its URL prints its help and returns nil.
func Run(args []string, stdout, stderr io.Writer, client *http.Client, clock limiter.Timer) error {
	rt := commandEnv{stdout: stdout, stderr: stderr, client: client, clock: clock}

	app := cli.NewApp()
	app.Name = "vc-assistant"
	app.Usage = "crawl a company website and extract facts about it with an LLM"
	app.UsageText = "vc-assistant [global options] command [command options] [<url>]"
	app.Writer = stdout
	app.ErrWriter = stderr
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config",
			Usage: "path to a .toml or .yaml configuration file",
		},
		cli.StringFlag{
			Name:  "log-level",
			Usage: "debug, info, warn or error",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:      "crawl",
			Usage:     "print the visible text of same-domain pages",
			ArgsUsage: "<url>",
			Flags: append(crawlFlags(), cli.BoolFlag{
				Name:  "json",
				Usage: "print the crawl report as JSON instead of the text",
			}),
			Action: rt.crawl,
		},
		{
			Name:      "extract",
			Usage:     "crawl a site and print the extracted answer as JSON",
			ArgsUsage: "<url>",
			Flags:     append(crawlFlags(), llmFlags()...),
			Action:    rt.extract,
		},
		{
			Name:  "serve",
			Usage: "run the HTTP API",
			Flags: append(llmFlags(),
				cli.StringFlag{Name: "host", Usage: "listen host"},
				cli.IntFlag{Name: "port", Usage: "listen port"},
			),
			Action: rt.serve,
		},
	}

	return app.Run(args)
}

func crawlFlags() []cli.Flag {
	return []cli.Flag{
		cli.IntFlag{
			Name:  "depth",
			Usage: "depth budget for domains without an explicit entry",
		},
		cli.IntFlag{
			Name:  "retries",
			Usage: "number of retries for failed requests",
		},
		cli.DurationFlag{
			Name:  "delay",
			Usage: "delay between requests (example: 200ms, 1s)",
		},
		cli.DurationFlag{
			Name:  "timeout",
			Usage: "per-request timeout",
		},
		cli.DurationFlag{
			Name:  "crawl-timeout",
			Usage: "time budget for the whole crawl",
		},
		cli.Float64Flag{
			Name:  "rps",
			Usage: "limit requests per second (overrides delay)",
		},
		cli.StringFlag{
			Name:  "user-agent",
			Usage: "custom user agent",
		},
		cli.IntFlag{
			Name:  "workers",
			Usage: "number of concurrent workers",
		},
		cli.IntFlag{
			Name:  "max-pages",
			Usage: "maximum number of pages to fetch",
		},
	}
}

func llmFlags() []cli.Flag {
	return []cli.Flag{
		cli.StringFlag{
			Name:  "provider",
			Usage: "llm backend: openai or ollama",
		},
		cli.StringFlag{
			Name:  "model",
			Usage: "model identifier",
		},
		cli.StringFlag{
			Name:  "base-url",
			Usage: "llm endpoint base url",
		},
		cli.StringFlag{
			Name:  "api-key",
			Usage: "llm api key (prefer OPENAI_API_KEY)",
		},
		cli.StringFlag{
			Name:  "mode",
			Usage: "json or text",
		},
	}
}

func (rt commandEnv) crawl(c *cli.Context) error {
	rootURL := c.Args().First()
	if rootURL == "" {
		return cli.ShowCommandHelp(c, c.Command.Name)
	}

	cfg, logger, err := rt.setup(c)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipeline := service.New(nil, nil, rt.crawlOptions(cfg, logger), logger)

	result, err := pipeline.Crawl(ctx, rootURL)
	if err != nil {
		return err
	}

	if c.Bool("json") {
		_, err = rt.stdout.Write(crawler.MarshalReport(result, true))

		return err
	}

	_, err = fmt.Fprintln(rt.stdout, result.Text)

	return err
}

func (rt commandEnv) extract(c *cli.Context) error {
	rootURL := c.Args().First()
	if rootURL == "" {
		return cli.ShowCommandHelp(c, c.Command.Name)
	}

	cfg, logger, err := rt.setup(c)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipeline, err := rt.pipeline(ctx, cfg, logger)
	if err != nil {
		return err
	}

	report, err := pipeline.Run(ctx, rootURL)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(report.Summary(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	_, err = fmt.Fprintln(rt.stdout, string(data))

	return err
}

func (rt commandEnv) serve(c *cli.Context) error {
	cfg, logger, err := rt.setup(c)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipeline, err := rt.pipeline(ctx, cfg, logger)
	if err != nil {
		return err
	}

	return server.New(pipeline, logger).ListenAndServe(ctx, cfg.Server.Addr())
}

func (rt commandEnv) pipeline(ctx context.Context, cfg config.Config, logger *zap.Logger) (*service.Pipeline, error) {
	backendCfg := cfg.LLM.Backend()
	backendCfg.Logger = logger

	backend, err := extract.NewBackend(ctx, backendCfg)
	if err != nil {
		return nil, err
	}

	extractOpts := cfg.LLM.ExtractOptions()
	extractOpts.Logger = logger

	return service.New(nil, extract.New(backend, extractOpts), rt.crawlOptions(cfg, logger), logger), nil
}

func (rt commandEnv) crawlOptions(cfg config.Config, logger *zap.Logger) crawler.Options {
	opts := cfg.Crawl.Options()
	opts.HTTPClient = rt.client
	opts.Clock = rt.clock
	opts.Logger = logger

	return opts
}

// setup loads the configuration, layers command-line flags on top and builds the logger.
func (rt commandEnv) setup(c *cli.Context) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(c.GlobalString("config"))
	if err != nil {
		return config.Config{}, nil, err
	}

	applyFlags(c, &cfg)

	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, err
	}

	var logger *zap.Logger
	if cfg.Log.Development {
		logger, err = logging.New(cfg.Log.Level, true)
	} else {
		logger, err = logging.NewWriter(rt.stderr, cfg.Log.Level)
	}
	if err != nil {
		return config.Config{}, nil, err
	}

	return cfg, logger, nil
}

func applyFlags(c *cli.Context, cfg *config.Config) {
	if c.GlobalIsSet("log-level") {
		cfg.Log.Level = c.GlobalString("log-level")
	}

	crawl := &cfg.Crawl
	if c.IsSet("depth") {
		crawl.DepthPolicy.Default = c.Int("depth")
	}
	if c.IsSet("retries") {
		crawl.Retries = c.Int("retries")
	}
	if c.IsSet("delay") {
		crawl.Delay = config.Duration{Duration: c.Duration("delay")}
	}
	if c.IsSet("timeout") {
		crawl.RequestTimeout = config.Duration{Duration: c.Duration("timeout")}
	}
	if c.IsSet("crawl-timeout") {
		crawl.Timeout = config.Duration{Duration: c.Duration("crawl-timeout")}
	}
	if c.IsSet("rps") {
		crawl.RPS = c.Float64("rps")
	}
	if c.IsSet("user-agent") {
		crawl.UserAgent = c.String("user-agent")
	}
	if c.IsSet("workers") {
		crawl.Workers = c.Int("workers")
	}
	if c.IsSet("max-pages") {
		crawl.MaxPages = c.Int("max-pages")
	}

	llm := &cfg.LLM
	if c.IsSet("provider") {
		llm.Provider = c.String("provider")
	}
	if c.IsSet("model") {
		llm.Model = c.String("model")
	}
	if c.IsSet("base-url") {
		llm.BaseURL = c.String("base-url")
	}
	if c.IsSet("api-key") {
		llm.APIKey = c.String("api-key")
	}
	if c.IsSet("mode") {
		llm.Mode = c.String("mode")
	}

	if c.IsSet("host") {
		cfg.Server.Host = c.String("host")
	}
	if c.IsSet("port") {
		cfg.Server.Port = c.Int("port")
	}
}
