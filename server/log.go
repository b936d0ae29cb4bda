package server

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitializeLogger configures the global logger. format is "console" for
// human readable output or "json".
func InitializeLogger(lvl, format string) error {
	level, err := zerolog.ParseLevel(lvl)
	if err != nil {
		return fmt.Errorf("unable to parse log level: %w", err)
	}
	zerolog.SetGlobalLevel(level)

	var stdOut io.Writer = os.Stdout
	if format != "json" {
		stdOut = zerolog.ConsoleWriter{Out: os.Stdout}
	}

	writers := []io.Writer{stdOut}
	zerolog.TimeFieldFormat = time.RFC3339Nano

	multi := zerolog.MultiLevelWriter(writers...)
	log.Logger = zerolog.New(multi).With().Timestamp().Logger()
	return nil
}

// LogInterceptor attaches a request scoped logger to the request context and
// logs the outcome of every request.
func LogInterceptor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		log := log.With().Str("request_id", uuid.New().String()).Logger()

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote", r.RemoteAddr).
			Msg("request started")

		m := httpsnoop.CaptureMetrics(next, w, r.WithContext(log.WithContext(r.Context())))

		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", m.Code).
			Int64("written_size", m.Written).
			Dur("duration", m.Duration).
			Msg("request completed")
	})
}
