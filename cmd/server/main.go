package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"cloud.google.com/go/storage"
	"github.com/imrenagi/go-http-cdn/config"
	"github.com/imrenagi/go-http-cdn/server"
	"github.com/imrenagi/go-http-cdn/store"
	"github.com/rs/zerolog/log"
)

func main() {
	configFile := flag.String("config", "", "location of the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configFile).Msg("could not load configuration")
	}

	// Initialize the logger
	if err := server.InitializeLogger(cfg.Log.Level, cfg.Log.Format); err != nil {
		log.Fatal().Err(err).Msg("could not initialize logger")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, closeBackend, err := newBackend(ctx, cfg.Storage)
	if err != nil {
		log.Fatal().Err(err).Msg("could not create storage backend")
	}
	defer closeBackend()

	s := server.New(server.Opts{
		Addr:         cfg.Addr,
		Backend:      backend,
		MaxBodyBytes: cfg.MaxBodyBytes,
		OTLPEndpoint: cfg.OTLPEndpoint,
	})
	if err := s.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to run the server")
	}
}

func newBackend(ctx context.Context, cfg config.Storage) (store.Backend, func(), error) {
	switch cfg.Driver {
	case config.DriverGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("bucket", cfg.Bucket).Str("prefix", cfg.Prefix).Msg("using google cloud storage backend")
		return store.NewGCSBackend(client, cfg.Bucket, cfg.Prefix), func() { client.Close() }, nil
	default:
		log.Info().Str("dir", cfg.Dir).Msg("using disk backend")
		return store.NewDiskBackend(cfg.Dir), func() {}, nil
	}
}
