package store

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/imrenagi/go-http-cdn/store"

var (
	meter  = otel.Meter(instrumentationName)
	tracer = otel.Tracer(instrumentationName)
)

// Store is the write-through file store. Reads are served from the
// in-memory index only; Put persists through the Backend before the index
// is updated, so the index never holds content the Backend does not.
type Store struct {
	mu    sync.RWMutex
	files map[string]File

	// serializes Put so that the backend and the index agree on the
	// winner of concurrent writes to the same name
	writeMu sync.Mutex

	backend Backend
	meter   metric.Meter
	writes  metric.Int64Counter
	sizeReg metric.Registration
}

type Option func(*Store)

// WithMeterProvider records the store's metrics on mp instead of the global
// meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Store) {
		s.meter = mp.Meter(instrumentationName)
	}
}

func NewStore(backend Backend, opts ...Option) *Store {
	s := &Store{
		files:   make(map[string]File),
		backend: backend,
		meter:   meter,
	}
	for _, opt := range opts {
		opt(s)
	}

	writes, err := s.meter.Int64Counter("cdn.store.writes",
		metric.WithDescription("Number of file writes, by result"))
	if err != nil {
		log.Warn().Err(err).Msg("unable to create store write counter")
		writes = noop.Int64Counter{}
	}
	s.writes = writes

	size, err := s.meter.Int64ObservableGauge("cdn.store.files",
		metric.WithDescription("Number of files in the store"))
	if err != nil {
		log.Warn().Err(err).Msg("unable to create store size gauge")
		return s
	}
	reg, err := s.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(size, int64(s.Len()))
		return nil
	}, size)
	if err != nil {
		log.Warn().Err(err).Msg("unable to observe store size")
		return s
	}
	s.sizeReg = reg
	return s
}

// Close stops reporting the store size. The store stays usable.
func (s *Store) Close() error {
	if s.sizeReg == nil {
		return nil
	}
	err := s.sizeReg.Unregister()
	s.sizeReg = nil
	return err
}

// Load replaces the index with everything the Backend holds and returns the
// number of files loaded.
func (s *Store) Load(ctx context.Context) (int, error) {
	files, err := s.backend.LoadAll(ctx)
	if err != nil {
		return 0, err
	}

	m := make(map[string]File, len(files))
	for _, f := range files {
		m[f.Name] = f
	}

	s.mu.Lock()
	s.files = m
	s.mu.Unlock()

	log.Info().
		Int("file_count", len(m)).
		Str("backend", s.backend.String()).
		Msg("store loaded")
	return len(m), nil
}

// List returns the names of all stored files in no particular order.
func (s *Store) List() []FileInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	infos := make([]FileInfo, 0, len(s.files))
	for name := range s.files {
		infos = append(infos, FileInfo{Name: name})
	}
	return infos
}

// Get returns a copy of the named file.
func (s *Store) Get(name string) (File, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.files[name]
	return f, ok
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.files)
}

// Put writes content under name through the Backend and, once that
// succeeds, publishes it in the index. A failed write leaves the index
// untouched.
func (s *Store) Put(ctx context.Context, name, content string) error {
	ctx, span := tracer.Start(ctx, "store.Put",
		trace.WithAttributes(attribute.String("file_name", name)))
	defer span.End()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.backend.WriteFile(ctx, name, []byte(content)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write failed")
		s.writes.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "error")))
		return err
	}

	s.mu.Lock()
	s.files[name] = File{Name: name, Content: &content}
	s.mu.Unlock()

	s.writes.Add(ctx, 1, metric.WithAttributes(attribute.String("result", "ok")))
	log.Debug().
		Str("file_name", name).
		Int("file_size", len(content)).
		Msg("file stored")
	return nil
}
