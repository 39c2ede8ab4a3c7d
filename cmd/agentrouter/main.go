package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/opentalon/agentrouter/internal/assembler"
	"github.com/opentalon/agentrouter/internal/config"
	"github.com/opentalon/agentrouter/internal/engine"
	"github.com/opentalon/agentrouter/internal/logging"
	"github.com/opentalon/agentrouter/internal/orchestrator"
	"github.com/opentalon/agentrouter/internal/telemetry"
	"github.com/opentalon/agentrouter/internal/version"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "agentrouter.yaml", "path to config file")
	query := flag.String("query", "", "answer one query and exit; without it queries are read from stdin, one per line")
	noCache := flag.Bool("no-cache", false, "skip the result cache lookup")
	metricsAddr := flag.String("metrics-addr", "", "serve /metrics and /circuits on this address (overrides telemetry.metrics_addr)")
	showVersion := flag.Bool("version", false, "print version and exit")
	prefer := preferFlag{}
	flag.Var(prefer, "prefer", "prefer a provider for a capability, as capability=provider (repeatable)")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Get())
		os.Exit(0)
	}

	if err := run(*configPath, *query, *noCache, *metricsAddr, prefer); err != nil {
		fmt.Fprintf(os.Stderr, "agentrouter: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, query string, noCache bool, metricsAddr string, prefer preferFlag) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Exporter:    cfg.Telemetry.Tracing,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Writer:      os.Stderr,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(sctx); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	eng, err := engine.New(ctx, cfg, engine.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() {
		if err := eng.Close(); err != nil {
			logger.Error("engine close", slog.String("error", err.Error()))
		}
	}()

	if metricsAddr == "" {
		metricsAddr = cfg.Telemetry.MetricsAddr
	}
	if metricsAddr != "" {
		srv := &http.Server{Addr: metricsAddr, Handler: diagnosticsMux(eng), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("diagnostics listening", slog.String("addr", metricsAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("diagnostics server", slog.String("error", err.Error()))
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	newQuery := func(prompt string) orchestrator.Query {
		q := orchestrator.NewQuery(prompt)
		q.Preferred = prefer
		q.NoCache = noCache
		return q
	}

	if query != "" {
		res := eng.Run(ctx, newQuery(query))
		if err := printResult(os.Stdout, res, true); err != nil {
			return err
		}
		if res.Status == assembler.StatusFailed {
			return fmt.Errorf("query failed: %s", res.Error.Code)
		}
		return nil
	}
	return serveLines(ctx, os.Stdin, os.Stdout, func(prompt string) *assembler.Result {
		return eng.Run(ctx, newQuery(prompt))
	})
}

// serveLines answers each non-empty input line and writes one JSON result
// per line until input ends or ctx is canceled.
func serveLines(ctx context.Context, in io.Reader, out io.Writer, answer func(string) *assembler.Result) error {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		prompt := strings.TrimSpace(sc.Text())
		if prompt == "" {
			continue
		}
		if err := printResult(out, answer(prompt), false); err != nil {
			return err
		}
	}
	return sc.Err()
}

func printResult(w io.Writer, res *assembler.Result, indent bool) error {
	enc := json.NewEncoder(w)
	if indent {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(res)
}
