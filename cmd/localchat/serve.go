package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/capitalize-ai/localchat/internal/handler"
	natsclient "github.com/capitalize-ai/localchat/internal/nats"
	"github.com/capitalize-ai/localchat/internal/service"
	"github.com/capitalize-ai/localchat/pkg/tracing"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.load(false); err != nil {
				return err
			}
			if addr == "" {
				addr = ":" + opts.cfg.ServerPort
			}
			return serve(cmd.Context(), opts, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default :$PORT)")
	return cmd
}

func serve(parent context.Context, opts *rootOptions, addr string) error {
	cfg, log := opts.cfg, opts.log
	defer func() { _ = log.Sync() }()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("starting localchat", zap.String("addr", addr), zap.String("db", cfg.DBPath))

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "localchat", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer func() {
				shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tracing.Shutdown(shCtx, tp)
			}()
		}
	}

	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}

	var (
		mirror     *natsclient.Mirror
		natsClient *natsclient.Client
	)
	if cfg.NATSURL != "" {
		natsClient, err = natsclient.Connect(natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Warn("event mirror disabled", zap.Error(err))
		} else {
			defer natsClient.Close()

			streams := natsclient.NewStreamManager(natsClient)
			ensureCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			if err := streams.EnsureStream(ensureCtx); err != nil {
				log.Warn("jetstream unavailable, mirroring over core nats", zap.Error(err))
			}
			cancel()
			mirror = natsclient.NewMirror(streams, log)
		}
	}

	convSvc := service.NewConversationService(a.store, a.coord, log)
	msgSvc := service.NewMessageService(a.coord, log)

	// A nil *Client must not end up in the interface.
	health := handler.NewHealthHandler(a.store, nil)
	if natsClient != nil {
		health = handler.NewHealthHandler(a.store, natsClient)
	}

	router := handler.NewRouter(handler.Handlers{
		Health:        health,
		Conversations: handler.NewConversationHandler(convSvc, msgSvc, log),
		Messages:      handler.NewMessageHandler(msgSvc, convSvc, log),
		Stream:        handler.NewStreamHandler(a.coord, log),
		Models:        handler.NewModelHandler(a.catalog, log),
	}, handler.RouterConfig{
		AuthSecret:        cfg.AuthSecret,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
	}, log)

	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		// Request contexts end with the signal so event streams let Shutdown finish.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	// Bus consumers outlive the signal: sessions publish until Close returns.
	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.coord.Run(runCtx)
	})

	if mirror != nil {
		g.Go(func() error {
			return mirror.Run(runCtx, a.bus)
		})
	}

	g.Go(func() error {
		log.Info("api listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := server.Shutdown(shCtx)
		if cerr := a.coord.Close(shCtx); cerr != nil && err == nil {
			err = cerr
		}
		stopRun()
		return err
	})

	err = g.Wait()
	if cerr := a.close(context.Background()); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server stopped with error", zap.Error(err))
		return err
	}
	log.Info("server stopped")
	return nil
}
