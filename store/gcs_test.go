package store_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/imrenagi/go-http-cdn/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

const testBucket = "cdn-test"

// fakeGCS serves the subset of the Cloud Storage JSON API the backend uses:
// bucket attrs, object listing, media reads and multipart uploads.
type fakeGCS struct {
	mu         sync.Mutex
	objects    map[string][]byte
	failWrites bool
}

func newFakeGCS(objects map[string][]byte) *fakeGCS {
	if objects == nil {
		objects = map[string][]byte{}
	}
	return &fakeGCS{objects: objects}
}

func (f *fakeGCS) object(name string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[name]
	return b, ok
}

func (f *fakeGCS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	bucketPath := "/storage/v1/b/" + testBucket
	p := r.URL.Path
	switch {
	case r.Method == http.MethodGet && p == bucketPath:
		writeGCSJSON(w, map[string]any{"kind": "storage#bucket", "id": testBucket, "name": testBucket})
	case r.Method == http.MethodGet && p == bucketPath+"/o":
		f.list(w, r)
	case r.Method == http.MethodGet && strings.HasPrefix(p, bucketPath+"/o/"):
		f.read(w, strings.TrimPrefix(p, bucketPath+"/o/"))
	case r.Method == http.MethodGet && strings.HasPrefix(p, "/download"+bucketPath+"/o/"):
		f.read(w, strings.TrimPrefix(p, "/download"+bucketPath+"/o/"))
	case r.Method == http.MethodGet && strings.HasPrefix(p, "/"+testBucket+"/"):
		f.read(w, strings.TrimPrefix(p, "/"+testBucket+"/"))
	case r.Method == http.MethodPost && p == "/upload"+bucketPath+"/o":
		f.insert(w, r)
	default:
		gcsError(w, http.StatusNotFound, "Not Found")
	}
}

func (f *fakeGCS) list(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	delim := r.URL.Query().Get("delimiter")

	f.mu.Lock()
	names := make([]string, 0, len(f.objects))
	for name := range f.objects {
		names = append(names, name)
	}
	sizes := make(map[string]int, len(f.objects))
	for name, b := range f.objects {
		sizes[name] = len(b)
	}
	f.mu.Unlock()
	sort.Strings(names)

	items := []map[string]any{}
	prefixes := []string{}
	seen := map[string]bool{}
	for _, name := range names {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		rest := strings.TrimPrefix(name, prefix)
		if delim != "" {
			if i := strings.Index(rest, delim); i >= 0 {
				dir := prefix + rest[:i+len(delim)]
				if !seen[dir] {
					seen[dir] = true
					prefixes = append(prefixes, dir)
				}
				continue
			}
		}
		items = append(items, map[string]any{
			"kind":       "storage#object",
			"name":       name,
			"bucket":     testBucket,
			"generation": "1",
			"size":       strconv.Itoa(sizes[name]),
		})
	}
	writeGCSJSON(w, map[string]any{"kind": "storage#objects", "items": items, "prefixes": prefixes})
}

func (f *fakeGCS) read(w http.ResponseWriter, name string) {
	b, ok := f.object(name)
	if !ok {
		gcsError(w, http.StatusNotFound, "No such object")
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.Header().Set("X-Goog-Generation", "1")
	w.Header().Set("X-Goog-Metageneration", "1")
	w.WriteHeader(http.StatusOK)
	w.Write(b)
}

func (f *fakeGCS) insert(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	fail := f.failWrites
	f.mu.Unlock()
	if fail {
		gcsError(w, http.StatusForbidden, "Forbidden")
		return
	}

	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		gcsError(w, http.StatusBadRequest, err.Error())
		return
	}
	mr := multipart.NewReader(r.Body, params["boundary"])
	metaPart, err := mr.NextPart()
	if err != nil {
		gcsError(w, http.StatusBadRequest, err.Error())
		return
	}
	var meta struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(metaPart).Decode(&meta); err != nil {
		gcsError(w, http.StatusBadRequest, err.Error())
		return
	}
	mediaPart, err := mr.NextPart()
	if err != nil {
		gcsError(w, http.StatusBadRequest, err.Error())
		return
	}
	b, err := io.ReadAll(mediaPart)
	if err != nil {
		gcsError(w, http.StatusBadRequest, err.Error())
		return
	}

	f.mu.Lock()
	f.objects[meta.Name] = b
	f.mu.Unlock()

	writeGCSJSON(w, map[string]any{
		"kind":       "storage#object",
		"name":       meta.Name,
		"bucket":     testBucket,
		"generation": "1",
		"size":       strconv.Itoa(len(b)),
	})
}

func writeGCSJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func gcsError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"code": code, "message": msg},
	})
}

func newFakeGCSClient(t *testing.T, fake *fakeGCS) *storage.Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(srv.URL+"/storage/v1/"),
		option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestGCSBackendString(t *testing.T) {
	client := newFakeGCSClient(t, newFakeGCS(nil))

	for _, row := range []struct {
		prefix string
		want   string
	}{
		{"", "gs://cdn-test/"},
		{"docs", "gs://cdn-test/docs/"},
		{"docs/", "gs://cdn-test/docs/"},
	} {
		assert.Equal(t, row.want, store.NewGCSBackend(client, testBucket, row.prefix).String(), row.prefix)
	}
}

func TestGCSBackendInit(t *testing.T) {
	client := newFakeGCSClient(t, newFakeGCS(nil))

	t.Run("Init succeeds on an existing bucket", func(t *testing.T) {
		assert.NoError(t, store.NewGCSBackend(client, testBucket, "").Init(context.Background()))
	})

	t.Run("Init fails with a persistence error on a missing bucket", func(t *testing.T) {
		err := store.NewGCSBackend(client, "missing", "").Init(context.Background())
		assert.True(t, errors.Is(err, store.ErrPersistence), "expected ErrPersistence, got %v", err)
	})
}

func TestGCSBackendLoadAll(t *testing.T) {
	fake := newFakeGCS(map[string][]byte{
		"docs/a.txt":        []byte("alpha"),
		"docs/empty.txt":    {},
		"docs/blob.bin":     {0xff, 0xfe, 0x00},
		"docs/":             {},
		"docs/sub/deep.txt": []byte("too deep"),
		"other/x.txt":       []byte("outside"),
		"docsfoo.txt":       []byte("sibling"),
	})
	client := newFakeGCSClient(t, fake)

	// the missing trailing slash is added, so "docs" does not match "docsfoo"
	for _, prefix := range []string{"docs", "docs/"} {
		t.Run("LoadAll returns the objects directly under "+prefix, func(t *testing.T) {
			files, err := store.NewGCSBackend(client, testBucket, prefix).LoadAll(context.Background())
			require.NoError(t, err)

			sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
			var got []string
			for _, f := range files {
				got = append(got, f.Name)
			}
			assert.Equal(t, []string{"a.txt", "blob.bin", "empty.txt"}, got)

			require.NotNil(t, files[0].Content)
			assert.Equal(t, "alpha", *files[0].Content)
			assert.Nil(t, files[1].Content)
			require.NotNil(t, files[2].Content)
			assert.Equal(t, "", *files[2].Content)
		})
	}
}

func TestGCSBackendWriteFile(t *testing.T) {
	ctx := context.Background()

	t.Run("WriteFile stores the object under the prefix and overwrites it", func(t *testing.T) {
		fake := newFakeGCS(nil)
		b := store.NewGCSBackend(newFakeGCSClient(t, fake), testBucket, "docs")

		require.NoError(t, b.WriteFile(ctx, "note.txt", []byte("first")))
		require.NoError(t, b.WriteFile(ctx, "note.txt", []byte("second")))

		got, ok := fake.object("docs/note.txt")
		require.True(t, ok)
		assert.Equal(t, "second", string(got))
	})

	t.Run("WriteFile rejects names that are not a single component", func(t *testing.T) {
		fake := newFakeGCS(nil)
		b := store.NewGCSBackend(newFakeGCSClient(t, fake), testBucket, "")

		for _, name := range []string{"", ".", "..", "a/b"} {
			err := b.WriteFile(ctx, name, []byte("x"))
			assert.True(t, errors.Is(err, store.ErrInvalidName), "name %q: %v", name, err)
		}
		assert.Empty(t, fake.objects)
	})

	t.Run("A rejected upload is a persistence error and leaves no object", func(t *testing.T) {
		fake := newFakeGCS(nil)
		fake.failWrites = true
		b := store.NewGCSBackend(newFakeGCSClient(t, fake), testBucket, "")

		err := b.WriteFile(ctx, "denied.txt", []byte("x"))
		assert.True(t, errors.Is(err, store.ErrPersistence), "expected ErrPersistence, got %v", err)
		_, ok := fake.object("denied.txt")
		assert.False(t, ok)
	})
}

func TestBackendImplementations(t *testing.T) {
	testCases := []struct {
		name  string
		setup func(*testing.T) store.Backend
	}{
		{
			name: "Backend implementation backed by a host filesystem directory",
			setup: func(t *testing.T) store.Backend {
				return store.NewDiskBackend(t.TempDir())
			},
		},
		{
			name: "Backend implementation backed by a Cloud Storage bucket",
			setup: func(t *testing.T) store.Backend {
				return store.NewGCSBackend(newFakeGCSClient(t, newFakeGCS(nil)), testBucket, "files")
			},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			b := tc.setup(t)
			require.NoError(t, b.Init(ctx))

			files, err := b.LoadAll(ctx)
			require.NoError(t, err)
			assert.Empty(t, files)

			s := store.NewStore(b)
			t.Cleanup(func() { s.Close() })
			require.NoError(t, s.Put(ctx, "a.txt", "old"))
			require.NoError(t, s.Put(ctx, "a.txt", "new"))
			require.NoError(t, s.Put(ctx, "b.txt", "✓"))
			assert.True(t, errors.Is(s.Put(ctx, "..", "x"), store.ErrInvalidName))

			reloaded := store.NewStore(b)
			t.Cleanup(func() { reloaded.Close() })
			n, err := reloaded.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			a, ok := reloaded.Get("a.txt")
			require.True(t, ok)
			assert.Equal(t, "new", *a.Content)
			bf, ok := reloaded.Get("b.txt")
			require.True(t, ok)
			assert.Equal(t, "✓", *bf.Content)
		})
	}
}
