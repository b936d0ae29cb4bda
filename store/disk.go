package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// DiskBackend implements Backend on a flat directory, one file per name.
type DiskBackend struct {
	dir string
}

func NewDiskBackend(dir string) *DiskBackend {
	return &DiskBackend{dir: dir}
}

func (d *DiskBackend) String() string {
	return "disk:" + d.dir
}

func (d *DiskBackend) Init(ctx context.Context) error {
	if err := os.MkdirAll(d.dir, 0755); err != nil {
		return persistenceError("create directory", d.dir, err)
	}
	return nil
}

func (d *DiskBackend) LoadAll(ctx context.Context) ([]File, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, persistenceError("read directory", d.dir, err)
	}

	files := make([]File, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			log.Debug().Str("file_name", entry.Name()).Msg("skipping non-regular entry")
			continue
		}
		b, err := os.ReadFile(filepath.Join(d.dir, entry.Name()))
		if err != nil {
			log.Warn().Err(err).Str("file_name", entry.Name()).Msg("unable to read stored file, skipping")
			continue
		}
		f := newFile(entry.Name(), b)
		if f.Content == nil {
			log.Warn().Str("file_name", entry.Name()).Msg("stored file is not valid text, cataloged without content")
		}
		files = append(files, f)
	}
	return files, nil
}

func (d *DiskBackend) WriteFile(ctx context.Context, name string, content []byte) error {
	if !ValidName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if err := os.WriteFile(filepath.Join(d.dir, name), content, 0644); err != nil {
		return persistenceError("write", name, err)
	}
	return nil
}
