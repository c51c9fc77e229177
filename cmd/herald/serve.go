package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/herald/api"
	audithook "github.com/xraph/herald/audit_hook"
	"github.com/xraph/herald/config"
	"github.com/xraph/herald/engine"
	"github.com/xraph/herald/facade"
	"github.com/xraph/herald/importer"
	"github.com/xraph/herald/ledger"
	"github.com/xraph/herald/recipient"
	"github.com/xraph/herald/retention"
	"github.com/xraph/herald/send"
	"github.com/xraph/herald/transport"
	"github.com/xraph/herald/transport/smpp"
	"github.com/xraph/herald/transport/smtp"
)

func newServeCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and job workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "run schema migrations before starting")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, logger *slog.Logger, migrate bool) error {
	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer be.Close() //nolint:errcheck // best effort on exit

	if migrate {
		if err := be.migrate(ctx); err != nil {
			return err
		}
	}

	mux, closeTransports, err := openTransports(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeTransports()

	eng, err := engine.New(
		engine.WithStore(be.queue),
		engine.WithConfig(cfg.EngineSettings()),
		engine.WithQueueConfig(cfg.QueueConfigs()...),
		engine.WithLogger(logger),
		engine.WithExtension(audithook.New(
			audithook.LogRecorder(logger),
			audithook.WithActions(audithook.BillingActions()...),
			audithook.WithLogger(logger),
		)),
	)
	if err != nil {
		return err
	}

	l := ledger.New(be.queue, logger)
	resolver := recipient.NewResolver(be.data, logger)
	send.Register(eng, send.Deps{
		Ledger:    l,
		Resolver:  resolver,
		Transport: mux,
		Messages:  be.data,
		Logger:    logger,

		SendTimeout: cfg.SendTimeout,
	})
	importer.Register(eng, be.data)
	retention.Register(eng, cfg.RetentionSettings())

	sched, err := retention.NewScheduler(eng.EnqueueRaw, cfg.Retention.Schedule, logger)
	if err != nil {
		return err
	}

	f := facade.New(eng)
	svc := send.NewService(resolver, l, cfg.Pricing(), logger)
	a := api.New(eng, f, svc,
		api.WithLogger(logger),
		api.WithWaitTimeout(cfg.WaitTimeout),
		api.WithHealthCheck("store", be.ping),
	)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if err := eng.Start(ctx); err != nil {
		return err
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", slog.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Engine.ShutdownTimeout)
		defer cancel()

		// Stop taking requests first so waiting callers see their jobs
		// finish while the workers drain.
		return errors.Join(
			srv.Shutdown(stopCtx),
			sched.Stop(stopCtx),
			eng.Stop(stopCtx),
		)
	})
	return g.Wait()
}

// openTransports binds the senders that are configured. A missing sender
// makes sends of that kind fail as transport errors.
func openTransports(ctx context.Context, cfg config.Config, logger *slog.Logger) (*transport.Mux, func(), error) {
	mux := &transport.Mux{}
	var closers []func() error

	if cfg.SMPP.Addr != "" {
		s := smpp.New(cfg.SMPPSettings(), logger)
		if err := s.Bind(ctx); err != nil {
			return nil, nil, err
		}
		mux.SMS = s
		closers = append(closers, s.Close)
	} else {
		logger.Warn("no smpp gateway configured, sms sends will fail")
	}

	if cfg.SMTP.Host != "" {
		s, err := smtp.New(cfg.SMTPSettings(), logger)
		if err != nil {
			for _, c := range closers {
				_ = c()
			}
			return nil, nil, err
		}
		mux.Email = s
	} else {
		logger.Warn("no smtp relay configured, email sends will fail")
	}

	return mux, func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn("transport close failed", slog.String("error", err.Error()))
			}
		}
	}, nil
}
