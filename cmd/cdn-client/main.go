package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/imrenagi/go-http-cdn/client"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const usage = `usage: cdn-client [-addr URL] [-debug] <command> [args]

commands:
  list                   list stored file names
  upload <path> [name]   upload a local text file, stored as name or its base name
  download <name>        print a stored file to stdout
`

func main() {
	addr := flag.String("addr", "http://localhost:8080", "base URL of the server")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Usage = func() { fmt.Fprint(flag.CommandLine.Output(), usage) }
	flag.Parse()

	stdErr := zerolog.ConsoleWriter{Out: os.Stderr}
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = zerolog.New(stdErr).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	httpClient := &http.Client{
		Timeout: 30 * time.Second,
	}
	c := client.New(*addr, httpClient)

	if err := run(context.Background(), c, args, os.Stdout); err != nil {
		log.Fatal().Err(err).Str("command", args[0]).Msg("command failed")
	}
}

func run(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	switch args[0] {
	case "list":
		names, err := c.List(ctx)
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Fprintln(out, name)
		}
		log.Debug().Int("file_count", len(names)).Msg("Check list response")
		return nil

	case "upload":
		if len(args) < 2 {
			return fmt.Errorf("upload needs a path")
		}
		b, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("error opening file: %w", err)
		}
		name := filepath.Base(args[1])
		if len(args) > 2 {
			name = args[2]
		}
		msg, err := c.Upload(ctx, name, string(b))
		if err != nil {
			return err
		}
		fmt.Fprintln(out, msg)
		return nil

	case "download":
		if len(args) < 2 {
			return fmt.Errorf("download needs a name")
		}
		content, err := c.Download(ctx, args[1])
		if err != nil {
			return err
		}
		_, err = io.WriteString(out, content)
		return err

	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}
