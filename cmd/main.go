package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/okian/scaleconnect/internal/accounts"
	"github.com/okian/scaleconnect/internal/adapters/http/ops"
	app "github.com/okian/scaleconnect/internal/app"
	"github.com/okian/scaleconnect/internal/config"
	"github.com/okian/scaleconnect/internal/domain/model"
	"github.com/okian/scaleconnect/pkg/logger"
	"github.com/okian/scaleconnect/pkg/metrics"
)

const (
	shutdownTimeout = 30 * time.Second
	ttyPath         = "/dev/tty"
)

var version = "dev"

type options struct {
	config      string
	interactive bool
	repeat      time.Duration
	version     bool
}

func parseFlags(args []string, output io.Writer) (*options, error) {
	var o options

	fset := flag.NewFlagSet("scaleconnect", flag.ContinueOnError)
	fset.SetOutput(output)

	fset.StringVar(&o.config, "c", "", "path to config file or inline sync document")
	fset.StringVar(&o.config, "config", "", "path to config file or inline sync document")
	fset.BoolVar(&o.interactive, "i", false, "read sync documents from stdin")
	fset.BoolVar(&o.interactive, "interactive", false, "read sync documents from stdin")
	fset.DurationVar(&o.repeat, "r", 0, "rerun the config document at this interval")
	fset.DurationVar(&o.repeat, "repeat", 0, "rerun the config document at this interval")
	fset.BoolVar(&o.version, "v", false, "print version and exit")
	fset.BoolVar(&o.version, "version", false, "print version and exit")

	if err := fset.Parse(args); err != nil {
		return nil, err
	}
	return &o, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stdout))
}

func run(ctx context.Context, args []string, stdin *os.File, stdout io.Writer) int {
	opts, err := parseFlags(args, os.Stderr)
	if err != nil {
		return 2
	}
	if opts.version {
		_, _ = fmt.Fprintln(stdout, "scaleconnect", version)
		return 0
	}

	if err = godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		_, _ = os.Stderr.WriteString("failed to load .env: " + err.Error() + "\n")
		return 1
	}

	// Logs go to stderr; stdout is reserved for "csv stdout" style targets.
	if err = logger.Init(); err != nil {
		_, _ = os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return 1
	}

	cfg, err := config.Load(ctx, opts.config)
	if err != nil {
		logger.Get().Error(ctx, "failed to load config", logger.Error(err))
		return 1
	}
	if opts.interactive {
		cfg.Interactive = true
	}
	if opts.repeat > 0 {
		cfg.Repeat = opts.repeat
	}

	if err = logger.Init(logger.WithFormat(cfg.LogFormat)); err != nil {
		_, _ = os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		return 1
	}
	log := logger.Get()
	if err = logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	log.Debug(ctx, "config loaded", logger.String("source", cfg.Source), logger.Int("syncs", len(cfg.Syncs)))

	metrics.Init(
		metrics.WithMetricsEnabled(cfg.Metrics.Enabled),
		metrics.WithNamespace(cfg.Metrics.Namespace),
		metrics.WithSubsystem(cfg.Metrics.Subsystem),
		metrics.WithHistogramBuckets(cfg.Metrics.Buckets),
		metrics.WithConstLabels(cfg.Metrics.Labels),
	)

	var prompt accounts.PasswordPrompt
	if in := promptInput(cfg.Interactive, stdin, openTTY); in != nil {
		if in != stdin {
			defer in.Close()
		}
		prompt = accounts.TerminalPrompt(in, os.Stderr)
	}
	svc := app.New(cfg, prompt, app.WithLogger(log.Named("sync")))

	if cfg.Repeat == 0 && !cfg.Interactive {
		if len(cfg.Syncs) == 0 {
			log.Error(ctx, "nothing to do", logger.Error(config.ErrNoDocument))
			return 1
		}
		if err = svc.RunOnce(ctx, cfg.Document); err != nil {
			log.Error(ctx, "sync document failed", logger.Error(err))
			return 1
		}
		return 0
	}

	if cfg.MetricsAddr != "" {
		srv := ops.NewServer(cfg.MetricsAddr, svc.Health, log.Named("ops"))
		srv.Start(ctx)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error(ctx, "ops server shutdown failed", logger.Error(err))
			}
		}()
	}

	if err = svc.Start(ctx); err != nil {
		log.Error(ctx, "failed to start service", logger.Error(err))
		return 1
	}

	done := make(chan struct{})
	if cfg.Repeat > 0 {
		go repeat(ctx, svc, cfg, log)
	} else if len(cfg.Syncs) > 0 {
		if err = svc.Submit(ctx, model.SourceConfig, cfg.Document); err != nil {
			log.Error(ctx, "failed to submit", logger.Error(err))
		}
	}
	if cfg.Interactive && stdin != nil {
		go func() {
			readStdin(ctx, svc, stdin, log)
			// Without repeat the process ends with stdin.
			if cfg.Repeat == 0 {
				close(done)
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info(ctx, "shutting down")
	case <-done:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err = svc.Stop(shutdownCtx); err != nil {
		log.Error(ctx, "service shutdown failed", logger.Error(err))
		return 1
	}
	return 0
}

// promptInput returns where passwords are read from. In interactive mode
// stdin carries sync documents, so the controlling terminal is used instead
// and no prompt is possible without one.
func promptInput(interactive bool, stdin *os.File, tty func() (*os.File, error)) *os.File {
	if !interactive {
		return stdin
	}
	f, err := tty()
	if err != nil {
		return nil
	}
	return f
}

func openTTY() (*os.File, error) {
	return os.OpenFile(ttyPath, os.O_RDWR, 0)
}

// repeat submits the config document now and then every cfg.Repeat.
func repeat(ctx context.Context, svc *app.Service, cfg *config.Config, log logger.Logger) {
	if len(cfg.Document) == 0 {
		log.Warn(ctx, "repeat without a config document")
		return
	}

	submit := func() {
		if err := svc.Submit(ctx, model.SourceRepeat, cfg.Document); err != nil {
			log.Warn(ctx, "skipping repeat", logger.Error(err))
		}
	}

	submit()

	ticker := time.NewTicker(cfg.Repeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			submit()
		}
	}
}

// readStdin submits every non-empty stdin line as a sync document.
func readStdin(ctx context.Context, svc *app.Service, in io.Reader, log logger.Logger) {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := svc.Submit(ctx, model.SourceStdin, []byte(line)); err != nil {
			log.Error(ctx, "failed to submit", logger.Error(err))
		}
	}
	if err := scanner.Err(); err != nil {
		log.Error(ctx, "failed to read stdin", logger.Error(err))
	}
}
