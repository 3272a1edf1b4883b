package content

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/trivianft/core/internal/app/domain/apperr"
)

func TestDirStoreGet(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "art"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "art", "sci.png"), []byte("png-bytes"), 0o600); err != nil {
		t.Fatalf("write blob: %v", err)
	}
	store := NewDirStore(dir)

	data, err := store.Get(context.Background(), "art/sci.png")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Fatalf("data = %q", data)
	}

	if _, err := store.Get(context.Background(), "art/missing.png"); apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("missing blob: %v", err)
	}
	// Traversal keys stay inside the root.
	if _, err := store.Get(context.Background(), "../../etc/passwd"); apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("traversal key: %v", err)
	}
}

func TestHTTPPinner(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"cid":"bafy-abc"}`))
	}))
	defer srv.Close()

	p, err := NewHTTPPinner(srv.Client(), srv.URL, "key-1", nil)
	if err != nil {
		t.Fatalf("NewHTTPPinner: %v", err)
	}
	cid, err := p.Pin(context.Background(), []byte("blob"))
	if err != nil {
		t.Fatalf("Pin: %v", err)
	}
	if cid != "bafy-abc" {
		t.Fatalf("cid = %s", cid)
	}
	if gotAuth != "Bearer key-1" {
		t.Fatalf("auth header = %q", gotAuth)
	}
}

func TestHTTPPinnerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p, err := NewHTTPPinner(srv.Client(), srv.URL, "", nil)
	if err != nil {
		t.Fatalf("NewHTTPPinner: %v", err)
	}
	_, err = p.Pin(context.Background(), []byte("blob"))
	if !apperr.IsRetriable(err) {
		t.Fatalf("5xx should be retriable, got %v", err)
	}

	if _, err := NewHTTPPinner(nil, " ", "", nil); err == nil {
		t.Fatal("blank endpoint accepted")
	}
}
