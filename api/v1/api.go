package v1

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"
	"github.com/imrenagi/go-http-cdn/store"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	ContentTypeHeader = "Content-Type"

	jsonContentType = "application/json"
	textContentType = "text/plain; charset=utf-8"

	replacementChar = "\uFFFD"
)

var defaultMaxBodyBytes int64 = 10 << 20 //10MB

type Options struct {
	MaxBodyBytes int64
}

type Option func(*Options)

func WithMaxBodyBytes(n int64) Option {
	return func(o *Options) {
		o.MaxBodyBytes = n
	}
}

// Storage is the part of the file store the handlers need.
type Storage interface {
	List() []store.FileInfo
	Get(name string) (store.File, bool)
	Put(ctx context.Context, name, content string) error
}

func NewController(s Storage, opts ...Option) Controller {
	o := Options{
		MaxBodyBytes: defaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return Controller{
		store:        s,
		maxBodyBytes: o.MaxBodyBytes,
	}
}

type Controller struct {
	store        Storage
	maxBodyBytes int64
}

// Response is the envelope of every JSON response.
type Response struct {
	Msg   string           `json:"msg"`
	Files []store.FileInfo `json:"files,omitempty"`
}

// Routes registers the file endpoints on r. Anything r cannot match,
// including a known path with the wrong method, is answered with NotFound.
func (c *Controller) Routes(r *mux.Router) {
	// keep "/file/../x" intact so the download handler sanitizes it instead
	// of the router redirecting to a cleaned path
	r.SkipClean(true)

	r.Handle("/files", otelhttp.WithRouteTag("/files", c.ListFiles())).Methods(http.MethodGet)
	r.Handle("/file", otelhttp.WithRouteTag("/file", c.UploadFile())).Methods(http.MethodPost)
	r.Handle("/file", otelhttp.WithRouteTag("/file/{name}", c.DownloadFile())).Methods(http.MethodGet)
	r.Handle("/file/{name:.*}", otelhttp.WithRouteTag("/file/{name}", c.DownloadFile())).Methods(http.MethodGet)

	r.NotFoundHandler = NotFound()
	r.MethodNotAllowedHandler = NotFound()
}

func (c *Controller) ListFiles() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		files := c.store.List()

		resp := Response{Msg: "Got no files"}
		if len(files) > 0 {
			resp.Msg = fmt.Sprintf("Got %d files", len(files))
			resp.Files = files
		}
		zerolog.Ctx(r.Context()).Debug().Int("file_count", len(files)).Msg("listing files")
		writeJSON(w, r, http.StatusOK, resp)
	}
}

func (c *Controller) UploadFile() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := zerolog.Ctx(r.Context())

		r.Body = http.MaxBytesReader(w, r.Body, c.maxBodyBytes)
		defer r.Body.Close()

		body, err := io.ReadAll(r.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				log.Debug().Int64("limit", tooLarge.Limit).Msg("request body too large")
				writeMessage(w, r, http.StatusRequestEntityTooLarge, "Request body too large")
				return
			}
			log.Error().Err(err).Msg("error reading the request body")
			writeMessage(w, r, http.StatusBadRequest, "Unable to read request body")
			return
		}

		// the body is parsed whatever the Content-Type says; malformed pairs
		// are dropped and the rest is still used
		form, err := url.ParseQuery(string(body))
		if err != nil {
			log.Debug().Err(err).Msg("malformed form body")
		}

		if !form.Has("name") || !form.Has("content") || form.Get("name") == "" {
			writeMessage(w, r, http.StatusBadRequest, "Missing name or content in request body")
			return
		}

		// stored files must reload as text, so invalid UTF-8 sequences are
		// replaced before anything is written
		name := store.SanitizeName(strings.ToValidUTF8(form.Get("name"), replacementChar))
		if !store.ValidName(name) {
			writeMessage(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid file name '%s'", name))
			return
		}
		content := strings.ToValidUTF8(form.Get("content"), replacementChar)

		if err := c.store.Put(r.Context(), name, content); err != nil {
			log.Error().Err(err).Str("file_name", name).Msg("error storing the file")
			writeMessage(w, r, http.StatusInternalServerError, fmt.Sprintf("Failed to store file '%s'", name))
			return
		}

		log.Info().
			Str("file_name", name).
			Int("file_size", len(content)).
			Msg("File Uploaded")
		writeMessage(w, r, http.StatusCreated, fmt.Sprintf("Stored file '%s'", name))
	}
}

func (c *Controller) DownloadFile() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := zerolog.Ctx(r.Context())

		requested := mux.Vars(r)["name"]
		if requested == "" {
			writeMessage(w, r, http.StatusBadRequest, "No file path given")
			return
		}

		name := store.SanitizeName(requested)
		log.Debug().
			Str("requested_name", requested).
			Str("file_name", name).
			Msg("Check request path")

		f, ok := c.store.Get(name)
		if !ok {
			writeMessage(w, r, http.StatusNotFound, fmt.Sprintf("File '%s' not found in store", name))
			return
		}
		if f.Content == nil {
			log.Warn().Str("file_name", name).Msg("stored file has no text content")
			writeMessage(w, r, http.StatusInternalServerError, fmt.Sprintf("File '%s' is not readable as text", name))
			return
		}

		w.Header().Set(ContentTypeHeader, textContentType)
		w.WriteHeader(http.StatusOK)
		if _, err := io.WriteString(w, *f.Content); err != nil {
			log.Error().Err(err).Str("file_name", name).Msg("error writing the response")
		}
	}
}

func NotFound() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, r, http.StatusNotFound, "Not Found")
	}
}

func writeMessage(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeJSON(w, r, code, Response{Msg: msg})
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, resp Response) {
	log := zerolog.Ctx(r.Context())
	b, err := json.Marshal(resp)
	if err != nil {
		log.Error().Err(err).Msg("error encoding the response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set(ContentTypeHeader, jsonContentType)
	w.WriteHeader(code)
	if _, err := w.Write(b); err != nil {
		log.Error().Err(err).Msg("error writing the response")
	}
}
