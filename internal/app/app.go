// Package app assembles a queryz pipeline from a configuration file.
package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/zoobzio/clockz"

	"github.com/zoobzio/queryz"
	"github.com/zoobzio/queryz/config"
	"github.com/zoobzio/queryz/internal/logger"
	"github.com/zoobzio/queryz/transform"
)

// Config sections and keys read by the assembly.
const (
	RunSection = "run"
	LogSection = "log"

	KeyProcess           = "Process"
	KeyPostProcess       = "PostProcess"
	KeyContinueIsSuccess = "ContinueIsSuccess"
)

// App is an assembled pipeline ready to process input.
type App struct {
	Logger   *logger.Logger
	Registry *queryz.Registry
	Cache    *queryz.CacheModule
	Executor *queryz.Executor
}

type options struct {
	clock     clockz.Clock
	logWriter io.Writer
}

// Option configures New.
type Option func(*options)

// WithClock drives cache expiry from clock.
func WithClock(clock clockz.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithLogWriter sends log output to w unless the config names a File.
func WithLogWriter(w io.Writer) Option {
	return func(o *options) { o.logWriter = w }
}

// Modules returns the modules every App registers, cache first.
func Modules(cache *queryz.CacheModule) []queryz.Module {
	return []queryz.Module{
		cache,
		transform.NewUpper(),
		transform.NewDecorate(),
		transform.NewLower(),
		transform.NewMagic(),
	}
}

// New builds the logger, registers the modules, loads their configuration
// and resolves the run orders. A missing [run] Process is fatal, as is any
// fatal module config error.
func New(cfg *config.File, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logOpt := logger.FromSettings(cfg.Section(LogSection))
	logOpt.Writer = o.logWriter
	log := logger.New(logOpt)

	cacheOpts := []queryz.CacheOption{queryz.WithCacheLogger(log.With().Str("module", queryz.CacheName).Logger())}
	if o.clock != nil {
		cacheOpts = append(cacheOpts, queryz.WithCacheClock(o.clock))
	}
	cache := queryz.NewCache(cacheOpts...)

	reg, err := queryz.NewRegistry(Modules(cache)...)
	if err != nil {
		_ = log.Close()
		return nil, err
	}

	a := &App{Logger: log, Registry: reg, Cache: cache}
	if err := a.configure(cfg); err != nil {
		reg.Cleanup()
		_ = log.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) configure(cfg *config.File) error {
	pre, err := cfg.String(RunSection, KeyProcess)
	if err != nil {
		a.Logger.Error().Err(err).Msg("key 'Process' is not in section")
		return fmt.Errorf("[%s] %s: %w: %w", RunSection, KeyProcess, queryz.ErrRequiredKey, err)
	}

	post, err := cfg.String(RunSection, KeyPostProcess)
	switch {
	case err == nil:
		a.Logger.Info().Str("list", post).Msg("key 'PostProcess' is located in section")
	case errors.Is(err, config.ErrNotFound):
		post = ""
	default:
		a.Logger.Warn().Err(err).Msg("ignoring PostProcess")
		post = ""
	}

	continueVerdict := queryz.VerdictUnknown
	if ok, err := cfg.Bool(RunSection, KeyContinueIsSuccess); err == nil && ok {
		continueVerdict = queryz.VerdictSuccess
	}

	if err := a.Registry.LoadConfig(cfg, a.Logger.Logger); err != nil {
		return err
	}

	preMods, err := a.Registry.PreOrder(pre)
	if err != nil {
		return fmt.Errorf("[%s] %s: %w", RunSection, KeyProcess, err)
	}
	postMods, err := a.Registry.PostOrder(post)
	if err != nil {
		return fmt.Errorf("[%s] %s: %w", RunSection, KeyPostProcess, err)
	}

	a.Executor = queryz.NewExecutor("queryz", preMods, postMods,
		queryz.WithLogger(a.Logger.Logger),
		queryz.WithContinueVerdict(continueVerdict),
	)
	a.Logger.Info().Strs("pre", names(preMods)).Strs("post", names(postMods)).Msg("start")
	return nil
}

func names(mods []queryz.Module) []string {
	out := make([]string, len(mods))
	for i, m := range mods {
		out[i] = m.Name()
	}
	return out
}

// Process runs every non-empty line of r through the pipeline and writes
// one report per line to w.
func (a *App) Process(ctx context.Context, r io.Reader, w io.Writer) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimRightFunc(sc.Text(), unicode.IsSpace)
		if line == "" {
			continue
		}
		a.Logger.Debug().Str("line", line).Msg("line")
		if err := Report(w, a.Executor.Run(ctx, line)); err != nil {
			return err
		}
	}
	return sc.Err()
}

// Report writes the query, response and verdict of out.
func Report(w io.Writer, out queryz.Outcome) error {
	_, err := fmt.Fprintf(w, "query: %s\nresponse: %s\nstatus: %s\n", out.Text, out.Response, out.Verdict)
	return err
}

// Close cleans up every module once and releases the executor and logger.
func (a *App) Close() error {
	a.Registry.Cleanup()
	var errs []error
	if a.Executor != nil {
		errs = append(errs, a.Executor.Close())
	}
	a.Logger.Info().Msg("finished")
	errs = append(errs, a.Logger.Close())
	return errors.Join(errs...)
}
