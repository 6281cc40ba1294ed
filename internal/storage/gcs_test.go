package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// fakeGCS serves the multipart upload, XML read and metadata calls the
// client makes for one bucket. An object is stored only when its upload
// request arrives complete.
type fakeGCS struct {
	mu      sync.Mutex
	bucket  string
	objects map[string][]byte
	uploads int
}

func (f *fakeGCS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	uploadPath := "/upload/storage/v1/b/" + f.bucket + "/o"
	metaPrefix := "/b/" + f.bucket + "/o/"
	readPrefix := "/" + f.bucket + "/"

	switch {
	case r.Method == http.MethodPost && r.URL.Path == uploadPath:
		f.upload(w, r)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, metaPrefix):
		name := strings.TrimPrefix(r.URL.Path, metaPrefix)
		data, ok := f.object(name)
		if !ok {
			notFound(w)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"bucket":%q,"name":%q,"size":"%d"}`, f.bucket, name, len(data))
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, readPrefix):
		data, ok := f.object(strings.TrimPrefix(r.URL.Path, readPrefix))
		if !ok {
			notFound(w)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(data)
	default:
		http.Error(w, "unsupported request", http.StatusBadRequest)
	}
}

func (f *fakeGCS) upload(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("uploadType") != "multipart" {
		http.Error(w, "only multipart uploads are served", http.StatusBadRequest)
		return
	}
	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	mr := multipart.NewReader(r.Body, params["boundary"])
	var meta struct {
		Name string `json:"name"`
	}
	part, err := mr.NextPart()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := json.NewDecoder(part).Decode(&meta); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	part, err = mr.NextPart()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	data, err := io.ReadAll(part)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.objects[meta.Name] = data
	f.uploads++
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"bucket":%q,"name":%q,"size":"%d"}`, f.bucket, meta.Name, len(data))
}

func (f *fakeGCS) object(name string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[name]
	return data, ok
}

func (f *fakeGCS) uploadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads
}

func notFound(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	io.WriteString(w, `{"error":{"code":404,"message":"No such object"}}`)
}

func newFakeGCSStorage(t *testing.T) (*GCSStorage, *fakeGCS) {
	t.Helper()
	fake := &fakeGCS{bucket: "raw-files", objects: make(map[string][]byte)}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client, err := gcs.NewClient(context.Background(),
		option.WithEndpoint(srv.URL),
		option.WithoutAuthentication(),
	)
	if err != nil {
		t.Fatalf("failed to create GCS client: %v", err)
	}
	s := NewGCSStorageWithClient(client, fake.bucket)
	t.Cleanup(func() { s.Close() })
	return s, fake
}

func readAll(t *testing.T, s ObjectStorage, name string) string {
	t.Helper()
	rc, err := s.Open(context.Background(), name)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("failed to read object: %v", err)
	}
	return string(data)
}

func TestGCSStorage_WriteOpen(t *testing.T) {
	s, _ := newFakeGCSStorage(t)
	ctx := context.Background()

	content := "{\"day\":\"2020-11-01\"}\n"
	if err := s.Write(ctx, "prints.json", strings.NewReader(content)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := readAll(t, s, "prints.json"); got != content {
		t.Errorf("content mismatch: got %q, want %q", got, content)
	}

	exists, err := s.Exists(ctx, "prints.json")
	if err != nil || !exists {
		t.Errorf("expected object to exist, got %v, %v", exists, err)
	}
}

func TestGCSStorage_FailedWriteKeepsPreviousObject(t *testing.T) {
	s, fake := newFakeGCSStorage(t)
	ctx := context.Background()

	if err := s.Write(ctx, "taps.json", strings.NewReader("original")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	broken := io.MultiReader(strings.NewReader("partial"), failingReader{})
	if err := s.Write(ctx, "taps.json", broken); !errors.Is(err, ErrUploadFailed) {
		t.Fatalf("expected ErrUploadFailed, got %v", err)
	}

	if got := readAll(t, s, "taps.json"); got != "original" {
		t.Errorf("previous object should survive a failed write, got %q", got)
	}
	if n := fake.uploadCount(); n != 1 {
		t.Errorf("expected only the first upload to complete, got %d", n)
	}
}

func TestGCSStorage_Missing(t *testing.T) {
	s, _ := newFakeGCSStorage(t)
	ctx := context.Background()

	if _, err := s.Open(ctx, "pays.csv"); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}

	exists, err := s.Exists(ctx, "pays.csv")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if exists {
		t.Error("expected missing object to not exist")
	}
}
