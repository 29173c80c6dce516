package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type fakeMover struct {
	uploads map[string]string // key -> content type
	moves   map[string]string // src -> dst
	failAll bool
}

func newFakeMover() *fakeMover {
	return &fakeMover{uploads: map[string]string{}, moves: map[string]string{}}
}

func (f *fakeMover) Upload(_ context.Context, key string, data io.Reader, contentType string) error {
	if f.failAll {
		return fmt.Errorf("storage down")
	}
	io.Copy(io.Discard, data)
	f.uploads[key] = contentType
	return nil
}

func (f *fakeMover) Move(_ context.Context, srcKey, dstKey string) error {
	if f.failAll {
		return fmt.Errorf("storage down")
	}
	f.moves[srcKey] = dstKey
	return nil
}

func TestRelocate_SurvivorsOnly(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "missing") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png bytes"))
	}))
	defer srv.Close()

	mover := newFakeMover()
	r := NewRelocator(mover, srv.Client(), "staging/", 0)

	sources := []string{srv.URL + "/good.png", srv.URL + "/missing.jpg"}
	final, err := r.Relocate(context.Background(), sources, "listings/anonymous/abc/")
	if err != nil {
		t.Fatalf("relocate failed: %v", err)
	}
	if len(final) != 1 {
		t.Fatalf("expected 1 survivor, got %d: %v", len(final), final)
	}
	if final[0] != "listings/anonymous/abc/image-0.png" {
		t.Fatalf("unexpected key %s", final[0])
	}
	if ct := mover.uploads[final[0]]; ct != "image/png" {
		t.Fatalf("unexpected content type %s", ct)
	}
}

func TestRelocate_OversizedDownloadIsSkipped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		if strings.Contains(r.URL.Path, "huge") {
			w.Write(bytes.Repeat([]byte("x"), 64))
			return
		}
		w.Write([]byte("png bytes"))
	}))
	defer srv.Close()

	mover := newFakeMover()
	r := NewRelocator(mover, srv.Client(), "staging/", 32)

	sources := []string{srv.URL + "/huge.png", srv.URL + "/small.png"}
	final, err := r.Relocate(context.Background(), sources, "listings/anonymous/abc")
	if err != nil {
		t.Fatalf("relocate failed: %v", err)
	}
	if len(final) != 1 || final[0] != "listings/anonymous/abc/image-1.png" {
		t.Fatalf("oversized image must be dropped, not truncated: %v", final)
	}
	if _, ok := mover.uploads["listings/anonymous/abc/image-0.png"]; ok {
		t.Fatal("oversized image must never reach storage")
	}
}

func TestRelocate_AllFailedIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := NewRelocator(newFakeMover(), srv.Client(), "staging/", 0)
	_, err := r.Relocate(context.Background(), []string{srv.URL + "/a.jpg", srv.URL + "/b.jpg"}, "listings/anonymous/abc")
	if err == nil {
		t.Fatal("expected error when every source fails")
	}
}

func TestRelocate_EmptySourcesIsFine(t *testing.T) {
	r := NewRelocator(newFakeMover(), http.DefaultClient, "staging/", 0)
	final, err := r.Relocate(context.Background(), nil, "listings/anonymous/abc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(final) != 0 {
		t.Fatalf("expected no keys, got %v", final)
	}
}

func TestRelocate_StagedKeysAreMoved(t *testing.T) {
	mover := newFakeMover()
	r := NewRelocator(mover, http.DefaultClient, "staging/", 0)

	final, err := r.Relocate(context.Background(), []string{"uploads/raw.webp"}, "listings/user-1/abc")
	if err != nil {
		t.Fatalf("relocate failed: %v", err)
	}
	if len(final) != 1 || final[0] != "listings/user-1/abc/image-0.webp" {
		t.Fatalf("unexpected keys %v", final)
	}
	if dst := mover.moves["staging/uploads/raw.webp"]; dst != final[0] {
		t.Fatalf("staged key not moved through staging prefix: %v", mover.moves)
	}
}

func TestExtensionFor(t *testing.T) {
	cases := []struct {
		url, ct, want string
	}{
		{"https://cdn.example.com/photo.PNG", "image/png", ".png"},
		{"https://cdn.example.com/photo?size=large", "image/webp", ".webp"},
		{"https://cdn.example.com/photo.php", "application/octet-stream", ".jpg"},
	}
	for _, tc := range cases {
		if got := extensionFor(tc.url, tc.ct); got != tc.want {
			t.Fatalf("extensionFor(%q, %q) = %q, want %q", tc.url, tc.ct, got, tc.want)
		}
	}
}

func TestDestPrefix(t *testing.T) {
	if got := DestPrefix("", "abc"); got != "listings/anonymous/abc" {
		t.Fatalf("unexpected prefix %s", got)
	}
	if got := DestPrefix("user-9", "abc"); got != "listings/user-9/abc" {
		t.Fatalf("unexpected prefix %s", got)
	}
}
