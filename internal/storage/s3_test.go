package storage

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/certflow/internal/model"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[r.URL.Path] = body
		w.WriteHeader(http.StatusOK)
	case http.MethodHead:
		if _, ok := f.objects[r.URL.Path]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case http.MethodDelete:
		delete(f.objects, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestPublisher(t *testing.T) (*S3Publisher, *fakeS3) {
	t.Helper()
	fake := &fakeS3{objects: map[string][]byte{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return NewS3Publisher(zerolog.Nop(), Options{
		Endpoint:  srv.URL,
		AccessKey: "key",
		SecretKey: "secret",
		Bucket:    "sites",
	}), fake
}

func TestObjectKey(t *testing.T) {
	r := &model.HostingResource{StoragePath: "/res-1/wwwroot/"}
	assert.Equal(t, "res-1/wwwroot/certflow-acme/.well-known/acme-challenge/tok",
		ObjectKey(r, "/certflow-acme/.well-known/acme-challenge/tok"))
}

func TestS3Publisher_WriteAndExists(t *testing.T) {
	p, fake := newTestPublisher(t)
	ctx := t.Context()
	r := &model.HostingResource{ID: "res-1", StoragePath: "res-1/wwwroot"}

	exists, err := p.FileExists(ctx, r, "hello.txt")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, p.WriteFile(ctx, r, "hello.txt", []byte("key-authorization")))

	fake.mu.Lock()
	body, ok := fake.objects["/sites/res-1/wwwroot/hello.txt"]
	fake.mu.Unlock()
	require.True(t, ok)
	assert.Contains(t, string(body), "key-authorization")

	exists, err = p.FileExists(ctx, r, "hello.txt")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, p.DeleteFile(ctx, r, "hello.txt"))
	exists, err = p.FileExists(ctx, r, "hello.txt")
	require.NoError(t, err)
	assert.False(t, exists)
}
