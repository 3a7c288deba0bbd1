// Command birdscore is the judge console for songbird competitions. It
// serves the console HTTP API and offers the same operations as one-shot
// subcommands against the local state file.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	app "github.com/okian/birdscore/internal/app"
	"github.com/okian/birdscore/internal/config"
	"github.com/okian/birdscore/pkg/logger"

	"github.com/urfave/cli/v2"
)

func main() {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp(os.Stdout, os.Stderr).RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "birdscore: "+err.Error())
		stop()
		os.Exit(1)
	}
}

// runner carries what every subcommand shares: the loaded config and the
// streams results and logs go to.
type runner struct {
	out    io.Writer
	logOut io.Writer
	cfg    *config.Config
}

func newApp(out, logOut io.Writer) *cli.App {
	r := &runner{out: out, logOut: logOut}
	return &cli.App{
		Name:      "birdscore",
		Usage:     "songbird competition judge console",
		Writer:    out,
		ErrWriter: logOut,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "state", Usage: "SQLite state file (overrides BIRDSCORE_STATE_PATH)"},
			&cli.StringFlag{Name: "backend", Usage: "scoring backend base URL (overrides BIRDSCORE_BACKEND_URL)"},
		},
		Before: r.setup,
		Commands: []*cli.Command{
			r.serveCommand(),
			r.loginCommand(),
			r.logoutCommand(),
			r.whoamiCommand(),
			r.registerCommand(),
			r.sessionCommand(),
			r.adminCommand(),
			r.statsCommand(),
		},
		HideHelpCommand: true,
	}
}

// setup loads configuration (defaults -> optional file -> env -> flags)
// and initializes logging.
func (r *runner) setup(c *cli.Context) error {
	cfg, err := config.Load(c.Context)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if v := c.String("state"); v != "" {
		cfg.StatePath = v
	}
	if v := c.String("backend"); v != "" {
		cfg.BackendURL = v
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := logger.Init(logger.WithFormat(cfg.LogFormat), logger.WithOutput(r.logOut)); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		logger.Get().Warn(c.Context, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	r.cfg = cfg
	return nil
}

func (r *runner) newService() *app.Service {
	return app.New(
		app.WithLogger(logger.Get()),
		app.WithStatePath(r.cfg.StatePath),
		app.WithBackendURL(r.cfg.BackendURL),
		app.WithBackendTimeout(r.cfg.BackendTimeout()),
		app.WithJWTLeeway(r.cfg.JWTLeeway()),
	)
}

// withService starts a service for the duration of fn.
func (r *runner) withService(c *cli.Context, fn func(ctx context.Context, svc *app.Service) error) error {
	svc := r.newService()
	if err := svc.Start(c.Context); err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}
	defer svc.Stop()
	return fn(c.Context, svc)
}
