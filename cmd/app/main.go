package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/jaico1231/paola-sub001/internal/app"
	"github.com/jaico1231/paola-sub001/internal/core/usecase"
	"github.com/jaico1231/paola-sub001/internal/platform/logging"
)

func main() {
	cmd := &cli.Command{
		Name:           "contaerp",
		Usage:          "Accounting back office with audited entity management",
		DefaultCommand: "serve",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "db-path",
				Value:   "./contaerp.sqlite",
				Sources: cli.EnvVars("CONTAERP_DB_PATH"),
				Usage:   "SQLite file path",
			},
			&cli.StringFlag{
				Name:    "entities-config",
				Sources: cli.EnvVars("CONTAERP_ENTITIES_CONFIG"),
				Usage:   "YAML file overriding the built-in entity options",
			},
			&cli.StringFlag{
				Name:    "time-zone",
				Value:   usecase.DefaultLocation,
				Sources: cli.EnvVars("CONTAERP_TIME_ZONE"),
				Usage:   "Zone used for audit periods and date filters",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Sources: cli.EnvVars("CONTAERP_LOG_LEVEL"),
				Usage:   "Log level (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:    "log-format",
				Value:   "text",
				Sources: cli.EnvVars("CONTAERP_LOG_FORMAT"),
				Usage:   "Log format (text or json)",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			loadInitialsCommand(),
			syncMenuCommand(),
			resetCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "contaerp: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(c *cli.Command) *logrus.Logger {
	return logging.New(os.Stderr, c.String("log-level"), c.String("log-format"))
}

func baseConfig(c *cli.Command) app.Config {
	return app.Config{
		DBPath:         c.String("db-path"),
		EntitiesConfig: c.String("entities-config"),
		TimeZone:       c.String("time-zone"),
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Value:   ":8080",
				Sources: cli.EnvVars("CONTAERP_ADDR"),
				Usage:   "HTTP listen address",
			},
			&cli.DurationFlag{
				Name:    "pdf-cache-ttl",
				Value:   usecase.DefaultPDFCacheTTL,
				Sources: cli.EnvVars("CONTAERP_PDF_CACHE_TTL"),
				Usage:   "How long rendered PDF exports are reused",
			},
			&cli.StringFlag{
				Name:    "pdf-logo",
				Sources: cli.EnvVars("CONTAERP_PDF_LOGO"),
				Usage:   "PNG or JPEG printed on PDF exports",
			},
			&cli.StringFlag{
				Name:    "organization",
				Value:   "ContaERP",
				Sources: cli.EnvVars("CONTAERP_ORGANIZATION"),
				Usage:   "Organization name printed on PDF exports",
			},
			&cli.StringFlag{
				Name:    "city",
				Sources: cli.EnvVars("CONTAERP_CITY"),
				Usage:   "City printed on PDF exports",
			},
			&cli.DurationFlag{
				Name:    "session-ttl",
				Value:   usecase.DefaultSessionTTL,
				Sources: cli.EnvVars("CONTAERP_SESSION_TTL"),
				Usage:   "Lifetime of a login session",
			},
			&cli.BoolFlag{
				Name:    "secure-cookies",
				Sources: cli.EnvVars("CONTAERP_SECURE_COOKIES"),
				Usage:   "Mark the session cookie Secure",
			},
			&cli.StringSliceFlag{
				Name:    "group-redirect",
				Sources: cli.EnvVars("CONTAERP_GROUP_REDIRECTS"),
				Usage:   "Landing path per group after login, as group=path",
			},
			&cli.StringFlag{
				Name:    "webhook-url",
				Sources: cli.EnvVars("CONTAERP_WEBHOOK_URL"),
				Usage:   "Change notification webhook target URL (log only when empty)",
			},
			&cli.StringFlag{
				Name:    "webhook-secret",
				Sources: cli.EnvVars("CONTAERP_WEBHOOK_SECRET"),
				Usage:   "HMAC-SHA256 signing secret for outbound webhook requests",
			},
			&cli.DurationFlag{
				Name:    "outbox-interval",
				Value:   2 * time.Second,
				Sources: cli.EnvVars("CONTAERP_OUTBOX_INTERVAL"),
				Usage:   "Poll interval of the notification dispatcher",
			},
			&cli.StringFlag{
				Name:    "bootstrap-admin",
				Sources: cli.EnvVars("CONTAERP_BOOTSTRAP_ADMIN"),
				Usage:   "Superuser to create or reset at startup",
			},
			&cli.StringFlag{
				Name:    "bootstrap-password",
				Sources: cli.EnvVars("CONTAERP_BOOTSTRAP_PASSWORD"),
				Usage:   "Password of the bootstrap superuser",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			log := newLogger(c)
			redirects, err := parseRedirects(c.StringSlice("group-redirect"))
			if err != nil {
				return err
			}

			cfg := baseConfig(c)
			cfg.Addr = c.String("addr")
			cfg.PDFCacheTTL = c.Duration("pdf-cache-ttl")
			cfg.PDFLogo = c.String("pdf-logo")
			cfg.Organization = c.String("organization")
			cfg.City = c.String("city")
			cfg.SessionTTL = c.Duration("session-ttl")
			cfg.SecureCookies = c.Bool("secure-cookies")
			cfg.GroupRedirects = redirects
			cfg.WebhookURL = c.String("webhook-url")
			cfg.WebhookSecret = c.String("webhook-secret")
			cfg.OutboxInterval = c.Duration("outbox-interval")
			cfg.BootstrapAdmin = c.String("bootstrap-admin")
			cfg.BootstrapPassword = c.String("bootstrap-password")

			a, err := app.New(ctx, cfg, log)
			if err != nil {
				return fmt.Errorf("create app: %w", err)
			}
			defer func() {
				if closeErr := a.Close(); closeErr != nil {
					log.WithError(closeErr).Error("close resources")
				}
			}()
			if err := a.Bootstrap(ctx); err != nil {
				return err
			}
			if _, _, err := a.Menu.Sync(ctx); err != nil {
				return fmt.Errorf("sync menu: %w", err)
			}

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			server := a.Server(ctx)
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				log.WithField("addr", cfg.Addr).Info("listening")
				if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				log.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return server.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}
}

// parseRedirects reads group=path pairs.
func parseRedirects(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		group, path, ok := strings.Cut(pair, "=")
		group, path = strings.TrimSpace(group), strings.TrimSpace(path)
		if !ok || group == "" || !strings.HasPrefix(path, "/") {
			return nil, fmt.Errorf("invalid group redirect %q, want group=/path", pair)
		}
		out[group] = path
	}
	return out, nil
}

func loadInitialsCommand() *cli.Command {
	return &cli.Command{
		Name:  "load-initials",
		Usage: "Load the canonical catalog data",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "module",
				Value: "all",
				Usage: "Seed module: geography, types, accounts or all",
			},
			&cli.IntFlag{
				Name:  "batch",
				Value: usecase.DefaultSeedBatch,
				Usage: "Rows per transaction",
			},
			&cli.BoolFlag{
				Name:  "force",
				Usage: "Keep loading the remaining modules after a failure",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			log := newLogger(c)
			a, err := app.New(ctx, baseConfig(c), log)
			if err != nil {
				return fmt.Errorf("create app: %w", err)
			}
			defer a.Close()

			report, err := a.Seeds.Load(ctx, c.String("module"), c.Int("batch"), c.Bool("force"))
			for _, m := range report.Modules {
				fmt.Fprintf(os.Stdout, "%s: %d creados, %d actualizados, %d sin cambios, %d fallidos\n",
					m.Module, m.Created, m.Updated, m.Skipped, len(m.Failed))
				for _, f := range m.Failed {
					fmt.Fprintln(os.Stderr, f)
				}
			}
			return err
		},
	}
}

func syncMenuCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync-menu",
		Usage: "Rebuild the menu from the registered entities",
		Action: func(ctx context.Context, c *cli.Command) error {
			a, err := app.New(ctx, baseConfig(c), newLogger(c))
			if err != nil {
				return fmt.Errorf("create app: %w", err)
			}
			defer a.Close()

			added, removed, err := a.Menu.Sync(ctx)
			if err != nil {
				return fmt.Errorf("sync menu: %w", err)
			}
			fmt.Fprintf(os.Stdout, "menú sincronizado: %d agregados, %d eliminados\n", added, removed)
			return nil
		},
	}
}

func resetCommand() *cli.Command {
	return &cli.Command{
		Name:  "reset",
		Usage: "Drop every table, recreate the schema and reload all seed modules",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "yes",
				Usage: "Confirm the destruction of all data",
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if !c.Bool("yes") {
				return errors.New("reset destroys all data; pass --yes to confirm")
			}
			a, err := app.New(ctx, baseConfig(c), newLogger(c))
			if err != nil {
				return fmt.Errorf("create app: %w", err)
			}
			defer a.Close()

			report, err := a.Reset(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "base de datos reiniciada: %d módulos cargados\n", len(report.Modules))
			return nil
		},
	}
}
