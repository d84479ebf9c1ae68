package router

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/hiroq/mail-relay/internal/notify"
)

// recordingServer counts POSTs and captures the last body received.
type recordingServer struct {
	mu       sync.Mutex
	hits     int
	lastBody []byte
	lastCT   string
	status   int
}

func newRecordingServer(t *testing.T, status int) (*recordingServer, *httptest.Server) {
	t.Helper()
	rs := &recordingServer{status: status}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rs.mu.Lock()
		rs.hits++
		rs.lastBody = body
		rs.lastCT = r.Header.Get("Content-Type")
		rs.mu.Unlock()
		w.WriteHeader(rs.status)
	}))
	t.Cleanup(srv.Close)
	return rs, srv
}

func testBody(t *testing.T) *notify.Body {
	t.Helper()
	b := notify.NewBuilder(notify.Options{})
	body, err := b.EncodeBody(notify.Payload{Username: notify.DefaultUsername}, nil)
	if err != nil {
		t.Fatalf("EncodeBody: %v", err)
	}
	return body
}

func TestStaticStoreLookup(t *testing.T) {
	store := NewStaticStore(map[string]string{
		"alice@example.com": "https://hooks.example.com/alice",
		"default":           "https://hooks.example.com/fallback",
	})

	url, err := store.Lookup(context.Background(), "alice@example.com")
	if err != nil || url != "https://hooks.example.com/alice" {
		t.Errorf("Lookup = %q, %v", url, err)
	}

	_, err = store.Lookup(context.Background(), "nobody@example.com")
	if !errors.Is(err, ErrRouteNotFound) {
		t.Errorf("expected ErrRouteNotFound, got %v", err)
	}
}

func TestLoadStaticStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.yaml")
	content := "routes:\n  bob@example.net: https://hooks.example.com/bob\n  default: https://hooks.example.com/fallback\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing routes file: %v", err)
	}

	store, err := LoadStaticStore(path)
	if err != nil {
		t.Fatalf("LoadStaticStore: %v", err)
	}
	url, err := store.Lookup(context.Background(), "bob@example.net")
	if err != nil || url != "https://hooks.example.com/bob" {
		t.Errorf("Lookup = %q, %v", url, err)
	}

	t.Run("malformed file", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "routes.yaml")
		os.WriteFile(bad, []byte(":\tnot yaml"), 0o600)
		if _, err := LoadStaticStore(bad); err == nil {
			t.Error("expected error for malformed routes file")
		}
	})
}

func TestDispatchFallsBackToDefault(t *testing.T) {
	rs, srv := newRecordingServer(t, http.StatusOK)
	store := NewStaticStore(map[string]string{"default": srv.URL})
	d := NewDispatcher(store, srv.Client(), nil)

	body := testBody(t)
	err := d.Dispatch(context.Background(), []string{"a@x.com", "b@y.com"}, body)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if rs.hits != 2 {
		t.Errorf("default webhook hit %d times, want 2", rs.hits)
	}
	if rs.lastCT != body.ContentType {
		t.Errorf("content type = %q, want %q", rs.lastCT, body.ContentType)
	}
	if string(rs.lastBody) != string(body.Bytes) {
		t.Error("delivered body differs from the prepared body")
	}
}

func TestDispatchExactMatchBeatsDefault(t *testing.T) {
	exact, exactSrv := newRecordingServer(t, http.StatusOK)
	fallback, fallbackSrv := newRecordingServer(t, http.StatusOK)
	store := NewStaticStore(map[string]string{
		"a@x.com": exactSrv.URL,
		"default": fallbackSrv.URL,
	})
	d := NewDispatcher(store, nil, nil)

	if err := d.Dispatch(context.Background(), []string{"a@x.com"}, testBody(t)); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if exact.hits != 1 || fallback.hits != 0 {
		t.Errorf("hits = exact %d fallback %d, want 1/0", exact.hits, fallback.hits)
	}
}

func TestDispatchNoRoute(t *testing.T) {
	store := NewStaticStore(nil)
	d := NewDispatcher(store, nil, nil)

	// The first unroutable recipient aborts the loop.
	err := d.Dispatch(context.Background(), []string{"a@x.com", "b@y.com"}, testBody(t))
	var noRoute *NoRouteError
	if !errors.As(err, &noRoute) {
		t.Fatalf("expected NoRouteError, got %v", err)
	}
	if noRoute.Address != "a@x.com" {
		t.Errorf("no-route address = %q, want a@x.com", noRoute.Address)
	}
}

func TestDispatchFailureDoesNotStopOthers(t *testing.T) {
	failing, failingSrv := newRecordingServer(t, http.StatusBadGateway)
	healthy, healthySrv := newRecordingServer(t, http.StatusNoContent)
	store := NewStaticStore(map[string]string{
		"a@x.com": failingSrv.URL,
		"b@y.com": healthySrv.URL,
	})
	d := NewDispatcher(store, nil, nil)

	// Per-recipient outcomes are independent; a non-2xx response is
	// logged, not surfaced.
	err := d.Dispatch(context.Background(), []string{"a@x.com", "b@y.com"}, testBody(t))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if failing.hits != 1 || healthy.hits != 1 {
		t.Errorf("hits = failing %d healthy %d, want 1/1", failing.hits, healthy.hits)
	}
}

func TestDeliveryErrorMessage(t *testing.T) {
	err := &DeliveryError{Status: 429, Body: "rate limited"}
	want := "webhook responded 429: rate limited"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
