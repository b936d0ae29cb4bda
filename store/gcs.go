package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/iterator"
)

// GCSBackend implements Backend on a Google Cloud Storage bucket. Files are
// objects named prefix+name; objects in deeper "directories" are ignored.
type GCSBackend struct {
	bucket *storage.BucketHandle
	prefix string
}

// NewGCSBackend uses the client's bucket. prefix may be empty; otherwise it
// is normalized to end with a slash.
func NewGCSBackend(client *storage.Client, bucket, prefix string) *GCSBackend {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &GCSBackend{
		bucket: client.Bucket(bucket),
		prefix: prefix,
	}
}

func (g *GCSBackend) String() string {
	return fmt.Sprintf("gs://%s/%s", g.bucket.BucketName(), g.prefix)
}

func (g *GCSBackend) Init(ctx context.Context) error {
	if _, err := g.bucket.Attrs(ctx); err != nil {
		return persistenceError("open bucket", g.bucket.BucketName(), err)
	}
	return nil
}

func (g *GCSBackend) LoadAll(ctx context.Context) ([]File, error) {
	it := g.bucket.Objects(ctx, &storage.Query{
		Prefix:    g.prefix,
		Delimiter: "/",
	})

	var files []File
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, persistenceError("list objects", g.String(), err)
		}
		// synthetic directory entries
		if attrs.Prefix != "" {
			continue
		}
		name := strings.TrimPrefix(attrs.Name, g.prefix)
		if !ValidName(name) {
			log.Debug().Str("object", attrs.Name).Msg("skipping object with unusable name")
			continue
		}
		b, err := g.read(ctx, attrs.Name)
		if err != nil {
			log.Warn().Err(err).Str("file_name", name).Msg("unable to read stored object, skipping")
			continue
		}
		f := newFile(name, b)
		if f.Content == nil {
			log.Warn().Str("file_name", name).Msg("stored object is not valid text, cataloged without content")
		}
		files = append(files, f)
	}
	return files, nil
}

func (g *GCSBackend) read(ctx context.Context, object string) ([]byte, error) {
	r, err := g.bucket.Object(object).NewReader(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (g *GCSBackend) WriteFile(ctx context.Context, name string, content []byte) error {
	if !ValidName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	w := g.bucket.Object(g.prefix + name).NewWriter(ctx)
	w.ContentType = "text/plain; charset=utf-8"
	if _, err := w.Write(content); err != nil {
		_ = w.Close()
		return persistenceError("write", name, err)
	}
	// the object is only committed once Close succeeds
	if err := w.Close(); err != nil {
		return persistenceError("write", name, err)
	}
	return nil
}
