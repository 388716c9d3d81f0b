package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/tally"
	"github.com/xraph/tally/api"
	audithook "github.com/xraph/tally/audit_hook"
	"github.com/xraph/tally/lock"
	"github.com/xraph/tally/observability"
	"github.com/xraph/tally/store/memory"
)

// shutdownTimeout bounds graceful shutdown of the server and scheduler.
const shutdownTimeout = 15 * time.Second

func newServeCmd(c *cli) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the billing scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				c.cfg.Server.Address = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return c.serve(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.address)")
	return cmd
}

// server holds everything serve wires together.
type server struct {
	engine   *tally.Engine
	handler  http.Handler
	registry *prometheus.Registry
	redis    *redis.Client
}

// build wires the engine, its plugins and the HTTP routes from config.
func (c *cli) build(ctx context.Context) (*server, error) {
	opts, err := c.cfg.EngineOptions()
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv := &server{registry: reg}
	opts = append(opts,
		tally.WithLogger(c.logger),
		tally.WithPlugin(observability.NewMetricsExtension(observability.NewPrometheusFactory(reg))),
		tally.WithPlugin(audithook.New(auditLog(c.logger), audithook.WithLogger(c.logger))),
	)

	if c.cfg.Redis.Addr != "" {
		srv.redis = redis.NewClient(&redis.Options{
			Addr:     c.cfg.Redis.Addr,
			Password: c.cfg.Redis.Password,
			DB:       c.cfg.Redis.DB,
		})
		if err := srv.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis %s: %w", c.cfg.Redis.Addr, err)
		}
		opts = append(opts, tally.WithLocker(lock.NewRedis(srv.redis)))
	}

	srv.engine = tally.New(memory.New(), opts...)

	defs, err := c.cfg.TierDefinitions()
	if err != nil {
		return nil, err
	}
	for _, d := range defs {
		if _, err := srv.engine.PublishTier(ctx, d); err != nil {
			return nil, fmt.Errorf("publish tier %s: %w", d.Name, err)
		}
	}

	router := mux.NewRouter()
	router.Handle(c.cfg.Server.MetricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := srv.engine.Store().Ping(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	router.PathPrefix(c.cfg.Server.BasePath).Handler(
		api.New(srv.engine, api.WithBasePath(c.cfg.Server.BasePath), api.WithLogger(c.logger)),
	)
	srv.handler = router

	return srv, nil
}

func (c *cli) serve(ctx context.Context) error {
	srv, err := c.build(ctx)
	if err != nil {
		return err
	}
	if err := srv.engine.Start(ctx); err != nil {
		return err
	}

	httpSrv := &http.Server{
		Addr:              c.cfg.Server.Address,
		Handler:           srv.handler,
		ReadHeaderTimeout: c.cfg.Server.ReadTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c.logger.Info("tally: listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		var errs []error
		errs = append(errs, httpSrv.Shutdown(shutdownCtx))
		errs = append(errs, srv.engine.Stop(shutdownCtx))
		if srv.redis != nil {
			errs = append(errs, srv.redis.Close())
		}
		c.logger.Info("tally: stopped")
		return errors.Join(errs...)
	})

	return g.Wait()
}

// auditLog records audit events as structured log lines.
func auditLog(logger *slog.Logger) audithook.Recorder {
	return audithook.RecorderFunc(func(ctx context.Context, ev *audithook.AuditEvent) error {
		level := slog.LevelInfo
		switch ev.Severity {
		case audithook.SeverityWarning:
			level = slog.LevelWarn
		case audithook.SeverityError, audithook.SeverityCritical:
			level = slog.LevelError
		}
		logger.Log(ctx, level, "audit",
			"action", ev.Action,
			"resource", ev.Resource,
			"resource_id", ev.ResourceID,
			"outcome", ev.Outcome,
			"metadata", ev.Metadata,
		)
		return nil
	})
}
