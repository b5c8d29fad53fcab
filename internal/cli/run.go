package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/ridestorm/internal/loadtest"
	"github.com/wesleyorama2/ridestorm/internal/loadtest/config"
	"github.com/wesleyorama2/ridestorm/internal/loadtest/engine"
	"github.com/wesleyorama2/ridestorm/internal/loadtest/executor"
	"github.com/wesleyorama2/ridestorm/internal/loadtest/metrics"
	"github.com/wesleyorama2/ridestorm/internal/loadtest/output"
	"github.com/wesleyorama2/ridestorm/internal/loadtest/summary"
)

// metricsNamespace prefixes every exported Prometheus series.
const metricsNamespace = "ridestorm"

var errThresholdsFailed = errors.New("one or more thresholds failed")

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Send ride-start traffic and report the results",
		Long: `Drive POST {url}/ride/start with a staged virtual-user ramp.

Without a config file the stock profile runs: 30s to 20 VUs, 1m to 50,
2m hold at 50, 30s down to 0, one iteration per VU per second, with
thresholds p(95)<2000 on http_req_duration and rate<0.1 on errors.

Examples:
  ridestorm run
  ridestorm run --url http://rides.internal:8003 --stages "10s:5,20s:5,5s:0"
  ridestorm run -c run.yaml --threshold "errors=rate<0.01" --summary-export out/summary.json
  ridestorm run --executor constant-arrival-rate --rate 50 --duration 1m --max-vus 100

The target URL is taken from --url, then RIDE_SERVICE_URL, then the config
file, then http://localhost:8003. The JSON summary is written to stdout;
logs and progress go to stderr.`,
		RunE: runLoadTest,
	}

	f := cmd.Flags()
	f.StringP("config", "c", "", "Run configuration file (YAML or JSON)")
	f.String("url", "", "Ride service base URL")
	f.String("executor", "", "Executor type: ramping-vus, constant-vus, constant-arrival-rate")
	f.String("stages", "", "Stages as 'duration:target,...' for ramping-vus")
	f.Int("vus", 0, "Number of VUs for constant-vus")
	f.String("duration", "", "Duration for constant executors (e.g., 5m, 30s)")
	f.Float64("rate", 0, "Iterations per second for constant-arrival-rate")
	f.Int("max-vus", 0, "Maximum VUs for constant-arrival-rate")
	f.Int("pre-allocated-vus", 0, "Pre-allocated VUs for constant-arrival-rate")
	f.String("sleep", "", "Pause between a VU's iterations (default 1s)")
	f.String("timeout", "", "Request timeout (default 30s)")
	f.String("graceful-stop", "", "Time in-flight iterations get to finish (default 30s)")
	f.StringArray("threshold", nil, "Threshold as metric=expression, replaces that metric's thresholds (repeatable)")
	f.StringArrayP("header", "H", nil, "Extra request header as 'Name: value' (repeatable)")
	f.Int64("seed", 0, "Seed for request sampling (0 = random)")
	f.Bool("insecure", false, "Skip TLS certificate verification")
	f.String("summary-export", "", "Also write the JSON summary to this file")
	f.String("metrics-addr", "", "Serve live Prometheus metrics on this address (e.g., :9091)")
	f.Duration("progress-interval", engine.DefaultProgressInterval, "How often progress is printed")
	f.BoolP("quiet", "q", false, "Disable progress output, show only PASSED/FAILED")
	f.Bool("no-color", false, "Disable colored output")

	return cmd
}

// runLoadTest runs a load test from the config file and flags.
func runLoadTest(cmd *cobra.Command, args []string) error {
	quiet, _ := cmd.Flags().GetBool("quiet")
	noColor, _ := cmd.Flags().GetBool("no-color")
	exportPath, _ := cmd.Flags().GetString("summary-export")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	progressInterval, _ := cmd.Flags().GetDuration("progress-interval")

	stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()
	colors := output.ColorsEnabled(stderr, noColor)

	logger, err := setup(cmd, colors)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}

	console := output.NewConsole(output.ConsoleConfig{Writer: stderr, Quiet: quiet, NoColor: !colors})

	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithSummaryOptions(summary.BuildOptions{
			IsStdOutTTY: output.IsTerminal(stdout),
			IsStdErrTTY: output.IsTerminal(stderr),
			NoColor:     !colors,
		}),
	}
	if !quiet {
		opts = append(opts, engine.WithProgress(console.PrintProgress, progressInterval))
	}

	eng, err := engine.New(cfg, opts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if metricsAddr != "" {
		_, shutdown, err := serveMetrics(metricsAddr, eng.Metrics(), logger)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	execCfg, err := cfg.ExecutorConfig()
	if err != nil {
		return err
	}
	console.PrintHeader(cfg.Name, string(cfg.Executor), strings.TrimRight(cfg.BaseURL, "/")+loadtest.RideStartPath, execCfg.TotalDuration())

	result, runErr := eng.Run(ctx)
	if result == nil {
		return runErr
	}

	console.PrintSummary(result)

	if err := summary.Write(stdout, result.Summary); err != nil {
		return err
	}
	if exportPath != "" {
		if err := summary.Export(exportPath, result.Summary); err != nil {
			return err
		}
		logger.Info("summary exported", zap.String("path", exportPath))
	}

	if runErr != nil {
		return runErr
	}
	if !result.Passed {
		return &ExitCodeError{Code: ExitThresholdsFailed, Err: errThresholdsFailed}
	}
	return nil
}

// buildConfig loads the config file, if any, and applies flag overrides.
func buildConfig(cmd *cobra.Command) (*config.TestConfig, error) {
	f := cmd.Flags()

	cfg := &config.TestConfig{}
	if path, _ := f.GetString("config"); path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if f.Changed("executor") {
		v, _ := f.GetString("executor")
		cfg.Executor = executor.Type(v)
	}
	if f.Changed("stages") {
		v, _ := f.GetString("stages")
		stages, err := config.ParseStages(v)
		if err != nil {
			return nil, fmt.Errorf("invalid --stages: %w", err)
		}
		cfg.Stages = stages
	}
	if f.Changed("vus") {
		cfg.VUs, _ = f.GetInt("vus")
	}
	if f.Changed("duration") {
		cfg.Duration, _ = f.GetString("duration")
	}
	if f.Changed("rate") {
		cfg.Rate, _ = f.GetFloat64("rate")
	}
	if f.Changed("max-vus") {
		cfg.MaxVUs, _ = f.GetInt("max-vus")
	}
	if f.Changed("pre-allocated-vus") {
		cfg.PreAllocatedVUs, _ = f.GetInt("pre-allocated-vus")
	}
	if f.Changed("sleep") {
		cfg.Sleep, _ = f.GetString("sleep")
	}
	if f.Changed("graceful-stop") {
		cfg.GracefulStop, _ = f.GetString("graceful-stop")
	}
	if f.Changed("timeout") {
		v, _ := f.GetString("timeout")
		d, err := config.ParseDurationString(v)
		if err != nil {
			return nil, fmt.Errorf("invalid --timeout: %w", err)
		}
		cfg.Timeout = config.Duration(d)
	}
	if f.Changed("seed") {
		cfg.Seed, _ = f.GetInt64("seed")
	}
	if f.Changed("insecure") {
		cfg.InsecureSkipVerify, _ = f.GetBool("insecure")
	}

	headers, _ := f.GetStringArray("header")
	for _, h := range headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid --header %q: expected 'Name: value'", h)
		}
		if cfg.Headers == nil {
			cfg.Headers = make(map[string]string)
		}
		cfg.Headers[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}

	urlFlag, _ := f.GetString("url")
	cfg.BaseURL = config.ResolveBaseURL(urlFlag, cfg.BaseURL)

	config.ApplyDefaults(cfg)

	// Flag thresholds replace the file or default expressions per metric.
	thresholds, _ := f.GetStringArray("threshold")
	replaced := make(map[string]bool)
	for _, t := range thresholds {
		metric, expr, err := config.ParseThresholdFlag(t)
		if err != nil {
			return nil, err
		}
		if !replaced[metric] {
			cfg.Thresholds[metric] = nil
			replaced[metric] = true
		}
		cfg.Thresholds[metric] = append(cfg.Thresholds[metric], expr)
	}

	return cfg, nil
}

// serveMetrics exposes the live run metrics for Prometheus to scrape. It
// returns the bound address and a function that stops the server.
func serveMetrics(addr string, metricsEngine *metrics.Engine, logger *zap.Logger) (string, func(), error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		metrics.NewCollector(metricsEngine, metricsNamespace),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	l, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", l.Addr().String()))

	return l.Addr().String(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
