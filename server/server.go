package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	v1 "github.com/imrenagi/go-http-cdn/api/v1"
	"github.com/imrenagi/go-http-cdn/store"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

const (
	serviceName            = "go-http-cdn"
	gracefulShutdownPeriod = 30 * time.Second
)

type Opts struct {
	Addr         string
	Backend      store.Backend
	MaxBodyBytes int64
	OTLPEndpoint string
}

func New(opts Opts) Server {
	s := Server{
		opts: opts,
	}
	return s
}

type Server struct {
	opts Opts
}

// Run prepares the store and serves HTTP until ctx is done. Errors while
// preparing the storage or binding the listener are returned before any
// request is served.
func (s *Server) Run(ctx context.Context) error {
	log.Info().Msg("starting server")

	registry := promclient.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	telemetryShutdownFn, err := initTelemetry(ctx, serviceName, s.opts.OTLPEndpoint, registry)
	if err != nil {
		return err
	}
	defer func() {
		if err := telemetryShutdownFn(context.Background()); err != nil {
			log.Error().Err(err).Msg("failed to shutdown telemetry providers")
		}
	}()

	if err := s.opts.Backend.Init(ctx); err != nil {
		return fmt.Errorf("unable to initialize storage %s: %w", s.opts.Backend, err)
	}
	fileStore := store.NewStore(s.opts.Backend)
	defer func() {
		if err := fileStore.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close the store")
		}
	}()
	if _, err := fileStore.Load(ctx); err != nil {
		return fmt.Errorf("unable to load storage %s: %w", s.opts.Backend, err)
	}

	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("unable to listen on %s: %w", s.opts.Addr, err)
	}

	httpServer := &http.Server{
		Handler: s.newHTTPHandler(fileStore, registry),
		// ReadTimeout is the maximum duration for reading the entire request, including the body.
		// This prevents slowloris attacks.
		ReadTimeout: 30 * time.Second,
		// WriteTimeout is the maximum duration before timing out writes of the response.
		WriteTimeout: 10 * time.Second,
		// ReadHeaderTimeout is necessary here to prevent slowloris attacks.
		// https://www.cloudflare.com/learning/ddos/ddos-attack-tools/slowloris/
		ReadHeaderTimeout: 5 * time.Second,
		// IdleTimeout is the maximum amount of time to wait for the next request when keep-alives are enabled.
		IdleTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Msgf("Starting http server on %s", ln.Addr())
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		log.Warn().Msg("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulShutdownPeriod)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("failed to shutdown http server gracefully")
			return err
		}
		log.Warn().Msg("http server gracefully stopped")
		return nil
	})
	return g.Wait()
}

func (s *Server) newHTTPHandler(fileStore *store.Store, registry *promclient.Registry) http.Handler {
	mux := mux.NewRouter()
	mux.Use(otelhttp.NewMiddleware("cdn"))
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	var opts []v1.Option
	if s.opts.MaxBodyBytes > 0 {
		opts = append(opts, v1.WithMaxBodyBytes(s.opts.MaxBodyBytes))
	}
	v1Controller := v1.NewController(fileStore, opts...)
	v1Controller.Routes(mux)

	// outermost so unmatched routes are logged too
	return LogInterceptor(mux)
}
